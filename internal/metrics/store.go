package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Store maintains in-memory gauges and counters for agent telemetry.
type Store struct {
	phase                atomic.Value
	cyclesTotal          atomic.Uint64
	lastCycleMillis      atomic.Int64
	discoveryAttempts    atomic.Uint64
	lastDiscoveryUnix    atomic.Int64
	lastDiscoveryOKUnix  atomic.Int64
	lastDiscoveryError   atomic.Value
	peersKnown           atomic.Int64
	peersExcludedTotal   atomic.Uint64
	probesSucceeded      atomic.Uint64
	probesFailed         atomic.Uint64
	lastLatencyMillis    atomic.Int64
	reportsDelivered     atomic.Uint64
	reportsFailed        atomic.Uint64
	resultsDelivered     atomic.Uint64
	readinessState       atomic.Int64
	readinessReason      atomic.Value
	readinessCategories  atomic.Value
	readyTransitions     atomic.Uint64
	notReadyTransitions  atomic.Uint64
	discoveryFailureKind sync.Map // kind -> *atomic.Uint64
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{}
	store.phase.Store("idle")
	store.lastDiscoveryError.Store("")
	store.readinessReason.Store("")
	store.readinessCategories.Store([]ReadinessCategory(nil))
	return store
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	Phase                 string
	CyclesTotal           uint64
	LastCycleDuration     time.Duration
	DiscoveryAttempts     uint64
	DiscoveryFailures     []FailureCount
	LastDiscoveryAttempt  time.Time
	LastDiscoverySuccess  time.Time
	LastDiscoveryError    string
	PeersKnown            int64
	PeersExcludedTotal    uint64
	ProbesSucceededTotal  uint64
	ProbesFailedTotal     uint64
	LastLatencyMillis     int64
	ReportsDeliveredTotal uint64
	ReportsFailedTotal    uint64
	ResultsDeliveredTotal uint64
	Ready                 bool
	ReadyReason           string
	ReadyCategories       []ReadinessCategory
	ReadyTransitions      uint64
	NotReadyTransitions   uint64
}

// FailureCount is the number of discovery failures of one kind.
type FailureCount struct {
	Kind  string
	Count uint64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	phase, _ := s.phase.Load().(string)
	lastErr, _ := s.lastDiscoveryError.Load().(string)
	readyReason, _ := s.readinessReason.Load().(string)
	rawCategories, _ := s.readinessCategories.Load().([]ReadinessCategory)
	categories := make([]ReadinessCategory, len(rawCategories))
	copy(categories, rawCategories)

	failures := make([]FailureCount, 0)
	s.discoveryFailureKind.Range(func(key, value any) bool {
		kind, ok := key.(string)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Uint64)
		if !ok || counter == nil {
			return true
		}
		failures = append(failures, FailureCount{Kind: kind, Count: counter.Load()})
		return true
	})
	sort.Slice(failures, func(i, j int) bool { return failures[i].Kind < failures[j].Kind })

	return Snapshot{
		Phase:                 phase,
		CyclesTotal:           s.cyclesTotal.Load(),
		LastCycleDuration:     time.Duration(s.lastCycleMillis.Load()) * time.Millisecond,
		DiscoveryAttempts:     s.discoveryAttempts.Load(),
		DiscoveryFailures:     failures,
		LastDiscoveryAttempt:  unixOrZero(s.lastDiscoveryUnix.Load()),
		LastDiscoverySuccess:  unixOrZero(s.lastDiscoveryOKUnix.Load()),
		LastDiscoveryError:    lastErr,
		PeersKnown:            s.peersKnown.Load(),
		PeersExcludedTotal:    s.peersExcludedTotal.Load(),
		ProbesSucceededTotal:  s.probesSucceeded.Load(),
		ProbesFailedTotal:     s.probesFailed.Load(),
		LastLatencyMillis:     s.lastLatencyMillis.Load(),
		ReportsDeliveredTotal: s.reportsDelivered.Load(),
		ReportsFailedTotal:    s.reportsFailed.Load(),
		ResultsDeliveredTotal: s.resultsDelivered.Load(),
		Ready:                 s.readinessState.Load() == 1,
		ReadyReason:           readyReason,
		ReadyCategories:       categories,
		ReadyTransitions:      s.readyTransitions.Load(),
		NotReadyTransitions:   s.notReadyTransitions.Load(),
	}
}

// DiscoveryFailuresTotal sums failures across kinds.
func (s Snapshot) DiscoveryFailuresTotal() uint64 {
	var total uint64
	for _, f := range s.DiscoveryFailures {
		total += f.Count
	}
	return total
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// DiscoveryRecorder returns an implementation of DiscoveryRecorder backed by the store.
func (s *Store) DiscoveryRecorder() DiscoveryRecorder {
	return discoveryRecorder{store: s}
}

// ProbeRecorder returns an implementation of ProbeRecorder backed by the store.
func (s *Store) ProbeRecorder() ProbeRecorder {
	return probeRecorder{store: s}
}

// CycleRecorder returns an implementation of CycleRecorder backed by the store.
func (s *Store) CycleRecorder() CycleRecorder {
	return cycleRecorder{store: s}
}

type discoveryRecorder struct {
	store *Store
}

func (r discoveryRecorder) ObserveDiscovery(discovered, excluded int) {
	r.store.peersKnown.Store(int64(discovered))
	if excluded > 0 {
		r.store.peersExcludedTotal.Add(uint64(excluded))
	}
}

func (r discoveryRecorder) IncDiscoveryFailures(kind string) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "unknown"
	}
	counter := &atomic.Uint64{}
	actual, _ := r.store.discoveryFailureKind.LoadOrStore(kind, counter)
	if existing, ok := actual.(*atomic.Uint64); ok && existing != nil {
		counter = existing
	}
	counter.Add(1)
}

type probeRecorder struct {
	store *Store
}

func (r probeRecorder) ObserveProbe(success bool, latencyMs uint64) {
	if !success {
		r.store.probesFailed.Add(1)
		return
	}
	r.store.probesSucceeded.Add(1)
	r.store.lastLatencyMillis.Store(int64(latencyMs))
}

type cycleRecorder struct {
	store *Store
}

func (r cycleRecorder) ObservePhase(phase string) {
	r.store.phase.Store(phase)
}

func (r cycleRecorder) ObserveDiscoveryAttempt(at time.Time, err error) {
	r.store.discoveryAttempts.Add(1)
	r.store.lastDiscoveryUnix.Store(at.Unix())
	if err != nil {
		r.store.lastDiscoveryError.Store(err.Error())
		return
	}
	r.store.lastDiscoveryOKUnix.Store(at.Unix())
	r.store.lastDiscoveryError.Store("")
}

func (r cycleRecorder) ObserveCycle(duration time.Duration) {
	r.store.cyclesTotal.Add(1)
	r.store.lastCycleMillis.Store(duration.Milliseconds())
}

func (r cycleRecorder) ObserveDelivery(results int, err error) {
	if err != nil {
		r.store.reportsFailed.Add(1)
		return
	}
	r.store.reportsDelivered.Add(1)
	r.store.resultsDelivered.Add(uint64(results))
}

// ObserveReadiness records the outcome of a readiness evaluation.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	prev := s.readinessState.Load()
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		s.readinessCategories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
	s.readinessCategories.Store(dedupeCategories(categories))
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		key := ReadinessCategory{Name: name, Severity: normalizeSeverity(c.Severity)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	return result
}

func normalizeSeverity(severity string) string {
	severity = strings.TrimSpace(strings.ToLower(severity))
	switch severity {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return severity
	}
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	readyValue := 0
	if snap.Ready {
		readyValue = 1
	}
	reason := snap.ReadyReason
	if reason == "" {
		reason = "ready"
		if !snap.Ready {
			reason = "unknown"
		}
	}
	lines := []string{
		"# HELP peerscope_agent_phase_info Phase the controller is currently in.",
		"# TYPE peerscope_agent_phase_info gauge",
		fmt.Sprintf("peerscope_agent_phase_info{phase=%q} 1", snap.Phase),
		"# HELP peerscope_agent_cycles_total Completed discover/probe/report cycles.",
		"# TYPE peerscope_agent_cycles_total counter",
		fmt.Sprintf("peerscope_agent_cycles_total %d", snap.CyclesTotal),
		"# HELP peerscope_agent_last_cycle_milliseconds Duration of the most recent completed cycle.",
		"# TYPE peerscope_agent_last_cycle_milliseconds gauge",
		fmt.Sprintf("peerscope_agent_last_cycle_milliseconds %d", snap.LastCycleDuration.Milliseconds()),
		"# HELP peerscope_agent_discovery_attempts_total Peer discovery calls issued.",
		"# TYPE peerscope_agent_discovery_attempts_total counter",
		fmt.Sprintf("peerscope_agent_discovery_attempts_total %d", snap.DiscoveryAttempts),
		"# HELP peerscope_agent_discovery_failures_total Failed peer discovery calls by kind.",
		"# TYPE peerscope_agent_discovery_failures_total counter",
	}
	if len(snap.DiscoveryFailures) == 0 {
		lines = append(lines, fmt.Sprintf("peerscope_agent_discovery_failures_total{kind=%q} 0", "none"))
	}
	for _, f := range snap.DiscoveryFailures {
		lines = append(lines, fmt.Sprintf("peerscope_agent_discovery_failures_total{kind=%q} %d", f.Kind, f.Count))
	}
	lines = append(lines,
		"# HELP peerscope_agent_peers_known Peers with an extractable address in the last discovery.",
		"# TYPE peerscope_agent_peers_known gauge",
		fmt.Sprintf("peerscope_agent_peers_known %d", snap.PeersKnown),
		"# HELP peerscope_agent_peers_excluded_total Peers dropped because no address could be extracted.",
		"# TYPE peerscope_agent_peers_excluded_total counter",
		fmt.Sprintf("peerscope_agent_peers_excluded_total %d", snap.PeersExcludedTotal),
		"# HELP peerscope_agent_probes_total Probe attempts by outcome.",
		"# TYPE peerscope_agent_probes_total counter",
		fmt.Sprintf("peerscope_agent_probes_total{outcome=%q} %d", "success", snap.ProbesSucceededTotal),
		fmt.Sprintf("peerscope_agent_probes_total{outcome=%q} %d", "failure", snap.ProbesFailedTotal),
		"# HELP peerscope_agent_last_latency_milliseconds Latency of the most recent successful probe.",
		"# TYPE peerscope_agent_last_latency_milliseconds gauge",
		fmt.Sprintf("peerscope_agent_last_latency_milliseconds %d", snap.LastLatencyMillis),
		"# HELP peerscope_agent_reports_total Collector deliveries by outcome.",
		"# TYPE peerscope_agent_reports_total counter",
		fmt.Sprintf("peerscope_agent_reports_total{outcome=%q} %d", "delivered", snap.ReportsDeliveredTotal),
		fmt.Sprintf("peerscope_agent_reports_total{outcome=%q} %d", "failed", snap.ReportsFailedTotal),
		"# HELP peerscope_agent_ready Whether the agent considers itself ready (1=ready).",
		"# TYPE peerscope_agent_ready gauge",
		fmt.Sprintf("peerscope_agent_ready %d", readyValue),
		"# HELP peerscope_agent_ready_info Reason associated with the most recent readiness evaluation.",
		"# TYPE peerscope_agent_ready_info gauge",
		fmt.Sprintf("peerscope_agent_ready_info{reason=%q} 1", reason),
		"# HELP peerscope_agent_ready_transitions_total Count of readiness state transitions by resulting state.",
		"# TYPE peerscope_agent_ready_transitions_total counter",
		fmt.Sprintf("peerscope_agent_ready_transitions_total{state=%q} %d", "ready", snap.ReadyTransitions),
		fmt.Sprintf("peerscope_agent_ready_transitions_total{state=%q} %d", "not_ready", snap.NotReadyTransitions),
		"",
	)
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
