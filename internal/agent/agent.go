package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/peerscope/internal/discovery"
	"github.com/pingsantohq/peerscope/internal/logging"
	"github.com/pingsantohq/peerscope/internal/metrics"
	"github.com/pingsantohq/peerscope/internal/probe"
	"github.com/pingsantohq/peerscope/internal/scheduler"
	"github.com/pingsantohq/peerscope/internal/uplink"
	"github.com/pingsantohq/peerscope/internal/worker"
	"github.com/pingsantohq/peerscope/pkg/types"
)

// Config captures the runtime settings of the agent. It is not modified
// after New.
type Config struct {
	DiscoveryURL     string
	ProbePort        uint16
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	CollectorURL     string
	FailureLatencyMs uint64
	ProbeWorkers     int
	ProbeRate        float64
	RequestTimeout   time.Duration
	AgentID          string
	// DiscoverOnStart skips the wait before the first discovery. By default
	// the first attempt happens one full interval after New.
	DiscoverOnStart bool
}

type Discoverer interface {
	Discover(ctx context.Context) ([]types.Peer, error)
}

type Prober interface {
	Probe(ctx context.Context, peer types.Peer) types.ProbeResult
}

type Reporter interface {
	Send(ctx context.Context, results []types.ProbeResult) error
}

// Dependencies allow overriding the collaborators built from Config. Nil
// fields get defaults. Reporter is only defaulted when CollectorURL is set.
type Dependencies struct {
	HTTPClient *http.Client
	Discoverer Discoverer
	Prober     Prober
	Reporter   Reporter
	Output     io.Writer
	Logger     logrus.FieldLogger
	Metrics    *metrics.Store
	Now        func() time.Time
	Sleep      func(context.Context, time.Duration) error
}

// Agent drives the idle, discovering, probing and reporting cycle.
type Agent struct {
	cfg        Config
	discoverer Discoverer
	prober     Prober
	reporter   Reporter
	output     io.Writer
	logger     logrus.FieldLogger
	recorder   metrics.CycleRecorder
	pacer      *scheduler.Pacer
	pool       *worker.Pool
	now        func() time.Time

	mu            sync.RWMutex
	phase         Phase
	knownPeers    []types.Peer
	results       []types.ProbeResult
	lastDiscovery time.Time
	paceFrom      time.Time
	cycleStart    time.Time
}

func New(cfg Config, deps Dependencies) (*Agent, error) {
	if cfg.ProbeInterval <= 0 {
		return nil, fmt.Errorf("probe interval must be positive")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	output := deps.Output
	if output == nil {
		output = os.Stdout
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	var (
		discoveryRec metrics.DiscoveryRecorder = metrics.NoopDiscoveryRecorder{}
		probeRec     metrics.ProbeRecorder     = metrics.NoopProbeRecorder{}
		cycleRec     metrics.CycleRecorder     = metrics.NoopCycleRecorder{}
	)
	if deps.Metrics != nil {
		discoveryRec = deps.Metrics.DiscoveryRecorder()
		probeRec = deps.Metrics.ProbeRecorder()
		cycleRec = deps.Metrics.CycleRecorder()
	}

	discoverer := deps.Discoverer
	if discoverer == nil {
		client, err := discovery.NewClient(discovery.Config{
			URL:       cfg.DiscoveryURL,
			ProbePort: cfg.ProbePort,
			AgentID:   cfg.AgentID,
		}, discovery.Dependencies{
			HTTPClient: httpClient,
			Logger:     logger.WithField("component", "discovery"),
			Metrics:    discoveryRec,
		})
		if err != nil {
			return nil, fmt.Errorf("discovery client: %w", err)
		}
		discoverer = client
	}

	prober := deps.Prober
	if prober == nil {
		if cfg.ProbeTimeout <= 0 {
			return nil, fmt.Errorf("probe timeout must be positive")
		}
		prober = probe.NewProber(probe.Config{
			Port:             cfg.ProbePort,
			Timeout:          cfg.ProbeTimeout,
			FailureLatencyMs: cfg.FailureLatencyMs,
			RatePerSec:       cfg.ProbeRate,
		}, probe.Dependencies{
			Dialer:  &net.Dialer{},
			Now:     now,
			Logger:  logger.WithField("component", "probe"),
			Metrics: probeRec,
		})
	}

	reporter := deps.Reporter
	if reporter == nil && cfg.CollectorURL != "" {
		client, err := uplink.NewClient(uplink.Config{
			CollectorURL: cfg.CollectorURL,
			AgentID:      cfg.AgentID,
		}, uplink.Dependencies{
			HTTPClient: httpClient,
			Now:        now,
			Logger:     logger.WithField("component", "uplink"),
		})
		if err != nil {
			return nil, fmt.Errorf("uplink client: %w", err)
		}
		reporter = client
	}

	a := &Agent{
		cfg:        cfg,
		discoverer: discoverer,
		prober:     prober,
		reporter:   reporter,
		output:     output,
		logger:     logger,
		recorder:   cycleRec,
		pacer:      scheduler.New(cfg.ProbeInterval, scheduler.WithNow(now), scheduler.WithSleep(deps.Sleep)),
		pool:       worker.NewPool(worker.WithWorkerCount(cfg.ProbeWorkers)),
		now:        now,
		phase:      PhaseIdle,
	}
	if !cfg.DiscoverOnStart {
		a.paceFrom = now()
	}
	a.recorder.ObservePhase(a.phase.String())
	return a, nil
}

func (a *Agent) Phase() Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase
}

// KnownPeers returns a copy of the peers from the last successful discovery.
func (a *Agent) KnownPeers() []types.Peer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.Peer(nil), a.knownPeers...)
}

// Results returns a copy of the results of the most recent probing phase.
func (a *Agent) Results() []types.ProbeResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.ProbeResult(nil), a.results...)
}

// LastDiscovery returns the start time of the last discovery attempt, or
// the zero time if none has been made.
func (a *Agent) LastDiscovery() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastDiscovery
}

// CheckInvariants reports whether the agent is in a well-formed state.
func (a *Agent) CheckInvariants() bool {
	return a.Phase().Valid()
}

// Run cycles until ctx is cancelled or results cannot be delivered. It
// returns nil on cancellation and the delivery error otherwise.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.WithFields(logrus.Fields{
		"rpc_url":   a.cfg.DiscoveryURL,
		"port":      a.cfg.ProbePort,
		"interval":  a.cfg.ProbeInterval,
		"collector": a.cfg.CollectorURL,
	}).Info("agent started")

	for {
		if err := a.Step(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				a.logger.Info("agent stopped")
				return nil
			}
			return err
		}
	}
}

// RunCycle steps the agent until it is back in idle. A cycle that starts in
// idle first waits for the discovery interval.
func (a *Agent) RunCycle(ctx context.Context) error {
	for {
		if err := a.Step(ctx); err != nil {
			return err
		}
		if a.Phase() == PhaseIdle {
			return nil
		}
	}
}

// Step executes the current phase and applies exactly one transition.
// Errors leave the phase unchanged except for delivery failures, which end
// the cycle before being returned.
func (a *Agent) Step(ctx context.Context) error {
	phase := a.Phase()
	ok := true

	switch phase {
	case PhaseIdle:
		a.mu.RLock()
		from := a.paceFrom
		a.mu.RUnlock()
		waited, err := a.pacer.Wait(ctx, from)
		if err != nil {
			return err
		}
		if waited > 0 {
			a.logger.WithField("waited", waited).Debug("discovery interval elapsed")
		}
	case PhaseDiscovering:
		ok = a.discover(ctx)
	case PhaseProbing:
		if err := a.probeAll(ctx); err != nil {
			return err
		}
	case PhaseReporting:
		err := a.report(ctx)
		a.transition(Next(phase, ok))
		return err
	default:
		return fmt.Errorf("invalid phase %d", int(phase))
	}

	a.transition(Next(phase, ok))
	return nil
}

func (a *Agent) transition(next Phase) {
	now := a.now()

	a.mu.Lock()
	prev := a.phase
	a.phase = next
	if next == PhaseDiscovering {
		a.cycleStart = now
	}
	start := a.cycleStart
	a.mu.Unlock()

	a.recorder.ObservePhase(next.String())
	if next == PhaseIdle && prev != PhaseIdle && !start.IsZero() {
		a.recorder.ObserveCycle(now.Sub(start))
	}
}

func (a *Agent) discover(ctx context.Context) bool {
	at := a.now()
	a.mu.Lock()
	a.lastDiscovery = at
	a.paceFrom = at
	a.mu.Unlock()

	peers, err := a.discoverer.Discover(ctx)
	a.recorder.ObserveDiscoveryAttempt(at, err)
	if err != nil {
		entry := a.logger.WithError(err)
		var derr *discovery.Error
		if errors.As(err, &derr) {
			entry = entry.WithField("kind", derr.Kind.String())
			if derr.Status != 0 {
				entry = entry.WithField("status", derr.Status)
			}
		}
		entry.Warn("peer discovery failed")
		return false
	}

	a.mu.Lock()
	a.knownPeers = append([]types.Peer(nil), peers...)
	a.mu.Unlock()

	a.logger.WithField("peers", len(peers)).Info("peers discovered")
	return true
}

func (a *Agent) probeAll(ctx context.Context) error {
	a.mu.Lock()
	a.results = nil
	peers := append([]types.Peer(nil), a.knownPeers...)
	a.mu.Unlock()

	results := make([]types.ProbeResult, len(peers))
	err := a.pool.Run(ctx, len(peers), func(ctx context.Context, i int) {
		results[i] = a.prober.Probe(ctx, peers[i])
	})
	if err != nil {
		return err
	}

	reached := 0
	for _, res := range results {
		if res.Success {
			reached++
		}
	}

	a.mu.Lock()
	a.results = results
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"reached": reached,
		"probed":  len(results),
	}).Info("probing complete")
	return nil
}

func (a *Agent) report(ctx context.Context) error {
	results := a.Results()

	if a.reporter == nil {
		for _, res := range results {
			status := "OK"
			if !res.Success {
				status = "FAIL"
			}
			fmt.Fprintf(a.output, "  %s -> %dms (%s)\n", res.Peer.IP, res.LatencyMs, status)
		}
		return nil
	}

	err := a.reporter.Send(ctx, results)
	a.recorder.ObserveDelivery(len(results), err)
	if err != nil {
		return fmt.Errorf("deliver results: %w", err)
	}
	a.logger.WithField("results", len(results)).Info("results delivered")
	return nil
}
