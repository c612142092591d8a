package probe

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/peerscope/internal/logging"
	"github.com/pingsantohq/peerscope/internal/metrics"
	"github.com/pingsantohq/peerscope/pkg/types"
)

// ContextDialer is satisfied by *net.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	Port    uint16
	Timeout time.Duration
	// FailureLatencyMs is reported for every failed probe. Zero means
	// types.FailureLatencyMs.
	FailureLatencyMs uint64
	// RatePerSec caps connection attempts per second. Zero disables the cap.
	RatePerSec float64
}

type Dependencies struct {
	Dialer  ContextDialer
	Now     func() time.Time
	Logger  logrus.FieldLogger
	Metrics metrics.ProbeRecorder
}

// Prober measures TCP handshake latency to peers.
type Prober struct {
	port           uint16
	timeout        time.Duration
	failureLatency uint64
	limiter        *rate.Limiter
	dialer         ContextDialer
	now            func() time.Time
	logger         logrus.FieldLogger
	metrics        metrics.ProbeRecorder
}

func NewProber(cfg Config, deps Dependencies) *Prober {
	p := &Prober{
		port:           cfg.Port,
		timeout:        cfg.Timeout,
		failureLatency: cfg.FailureLatencyMs,
		dialer:         deps.Dialer,
		now:            deps.Now,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
	}
	if p.failureLatency == 0 {
		p.failureLatency = types.FailureLatencyMs
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	if p.dialer == nil {
		p.dialer = &net.Dialer{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.metrics == nil {
		p.metrics = metrics.NoopProbeRecorder{}
	}
	return p
}

// Probe makes one connection attempt to peer and reports the outcome. It
// never fails: an unreachable peer yields Success=false with the failure
// latency.
func (p *Prober) Probe(ctx context.Context, peer types.Peer) types.ProbeResult {
	latency, ok := p.connect(ctx, peer)
	if !ok {
		latency = p.failureLatency
	}
	p.metrics.ObserveProbe(ok, latency)
	return types.ProbeResult{
		Peer:      peer,
		LatencyMs: latency,
		Success:   ok,
		Timestamp: p.now().Unix(),
	}
}

func (p *Prober) connect(ctx context.Context, peer types.Peer) (uint64, bool) {
	if !peer.IP.IsValid() {
		return 0, false
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, false
		}
	}

	addr := p.target(peer)
	dialCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.now()
	conn, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		p.logger.WithFields(logrus.Fields{"peer": peer.PeerID, "addr": addr}).Debugf("probe failed: %v", err)
		return 0, false
	}
	elapsed := p.now().Sub(start)
	conn.Close()

	if elapsed < 0 {
		elapsed = 0
	}
	return uint64(elapsed.Milliseconds()), true
}

func (p *Prober) target(peer types.Peer) string {
	port := p.port
	if port == 0 {
		port = peer.Port
	}
	return netip.AddrPortFrom(peer.IP, port).String()
}

