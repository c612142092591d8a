package probe

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/peerscope/internal/metrics"
	"github.com/pingsantohq/peerscope/pkg/types"
)

func listen(t *testing.T) (uint16, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return uint16(ln.Addr().(*net.TCPAddr).Port), func() { ln.Close() }
}

func closedPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())
	return port
}

func loopbackPeer(port uint16) types.Peer {
	return types.Peer{
		PeerID: "/ip4/127.0.0.1/tcp/30333/p2p/Local",
		IP:     netip.MustParseAddr("127.0.0.1"),
		Port:   port,
	}
}

func TestProbeReachablePeer(t *testing.T) {
	port, stop := listen(t)
	defer stop()

	store := metrics.NewStore()
	p := NewProber(Config{Port: port, Timeout: 2 * time.Second}, Dependencies{Metrics: store.ProbeRecorder()})

	before := time.Now().Unix()
	res := p.Probe(context.Background(), loopbackPeer(port))

	assert.True(t, res.Success)
	assert.Less(t, res.LatencyMs, uint64(2000))
	assert.GreaterOrEqual(t, res.Timestamp, before)
	assert.Equal(t, port, res.Peer.Port)
	assert.Equal(t, uint64(1), store.Snapshot().ProbesSucceededTotal)
}

func TestProbeRefusedPortUsesSentinel(t *testing.T) {
	port := closedPort(t)

	store := metrics.NewStore()
	p := NewProber(Config{Port: port, Timeout: 2 * time.Second}, Dependencies{Metrics: store.ProbeRecorder()})
	res := p.Probe(context.Background(), loopbackPeer(port))

	assert.False(t, res.Success)
	assert.Equal(t, types.FailureLatencyMs, res.LatencyMs)
	assert.Equal(t, uint64(1), store.Snapshot().ProbesFailedTotal)
}

type stallingDialer struct{}

func (stallingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProbeTimeoutUsesSentinelNotElapsed(t *testing.T) {
	p := NewProber(Config{Port: 30333, Timeout: 20 * time.Millisecond}, Dependencies{Dialer: stallingDialer{}})

	start := time.Now()
	res := p.Probe(context.Background(), types.Peer{PeerID: "x", IP: netip.MustParseAddr("192.0.2.1"), Port: 30333})

	assert.False(t, res.Success)
	assert.Equal(t, uint64(999), res.LatencyMs)
	assert.Less(t, time.Since(start), time.Second)
}

type recordingDialer struct {
	addrs []string
	err   error
}

func (d *recordingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.addrs = append(d.addrs, network+" "+address)
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

func TestProbeDialsConfiguredPort(t *testing.T) {
	dialer := &recordingDialer{}
	p := NewProber(Config{Port: 30333, Timeout: time.Second}, Dependencies{Dialer: dialer})

	p.Probe(context.Background(), types.Peer{PeerID: "a", IP: netip.MustParseAddr("10.0.0.1"), Port: 30333})
	p.Probe(context.Background(), types.Peer{PeerID: "b", IP: netip.MustParseAddr("2001:db8::1"), Port: 30333})

	assert.Equal(t, []string{"tcp 10.0.0.1:30333", "tcp [2001:db8::1]:30333"}, dialer.addrs)
}

func TestProbeCustomFailureLatency(t *testing.T) {
	dialer := &recordingDialer{err: errors.New("unreachable")}
	p := NewProber(Config{Port: 1, Timeout: time.Second, FailureLatencyMs: 5000}, Dependencies{Dialer: dialer})

	res := p.Probe(context.Background(), types.Peer{PeerID: "a", IP: netip.MustParseAddr("10.0.0.1"), Port: 1})
	assert.False(t, res.Success)
	assert.Equal(t, uint64(5000), res.LatencyMs)
}

func TestProbeTimestampAtConstruction(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	dialer := &recordingDialer{}
	p := NewProber(Config{Port: 30333}, Dependencies{
		Dialer: dialer,
		Now: func() time.Time {
			clock = clock.Add(1500 * time.Millisecond)
			return clock
		},
	})

	res := p.Probe(context.Background(), types.Peer{PeerID: "a", IP: netip.MustParseAddr("10.0.0.1"), Port: 30333})
	require.True(t, res.Success)
	assert.Equal(t, uint64(1500), res.LatencyMs)
	// start, established, then the result timestamp.
	assert.Equal(t, int64(1700000004), res.Timestamp)
}

func TestProbeInvalidAddressFails(t *testing.T) {
	dialer := &recordingDialer{}
	p := NewProber(Config{Port: 30333}, Dependencies{Dialer: dialer})

	res := p.Probe(context.Background(), types.Peer{PeerID: "no-addr"})
	assert.False(t, res.Success)
	assert.Equal(t, types.FailureLatencyMs, res.LatencyMs)
	assert.Empty(t, dialer.addrs)
}

func TestProbeRateLimited(t *testing.T) {
	dialer := &recordingDialer{}
	p := NewProber(Config{Port: 30333, RatePerSec: 20}, Dependencies{Dialer: dialer})
	peer := types.Peer{PeerID: "a", IP: netip.MustParseAddr("10.0.0.1"), Port: 30333}

	start := time.Now()
	for i := 0; i < 25; i++ {
		p.Probe(context.Background(), peer)
	}
	// burst of 20, then 5 more at 20/s.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Len(t, dialer.addrs, 25)
}
