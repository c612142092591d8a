package metrics

import "time"

type DiscoveryRecorder interface {
	ObserveDiscovery(discovered, excluded int)
	IncDiscoveryFailures(kind string)
}

type NoopDiscoveryRecorder struct{}

func (NoopDiscoveryRecorder) ObserveDiscovery(discovered, excluded int) {}
func (NoopDiscoveryRecorder) IncDiscoveryFailures(kind string)          {}

type ProbeRecorder interface {
	ObserveProbe(success bool, latencyMs uint64)
}

type NoopProbeRecorder struct{}

func (NoopProbeRecorder) ObserveProbe(success bool, latencyMs uint64) {}

// CycleRecorder receives controller lifecycle events.
type CycleRecorder interface {
	ObservePhase(phase string)
	ObserveDiscoveryAttempt(at time.Time, err error)
	ObserveCycle(duration time.Duration)
	ObserveDelivery(results int, err error)
}

type NoopCycleRecorder struct{}

func (NoopCycleRecorder) ObservePhase(phase string)                       {}
func (NoopCycleRecorder) ObserveDiscoveryAttempt(at time.Time, err error) {}
func (NoopCycleRecorder) ObserveCycle(duration time.Duration)             {}
func (NoopCycleRecorder) ObserveDelivery(results int, err error)          {}
