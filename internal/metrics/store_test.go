package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStoreDiscoveryRecorder(t *testing.T) {
	store := NewStore()
	rec := store.DiscoveryRecorder()

	rec.ObserveDiscovery(5, 2)
	rec.ObserveDiscovery(3, 1)
	rec.IncDiscoveryFailures("transport")
	rec.IncDiscoveryFailures("transport")
	rec.IncDiscoveryFailures("decode")
	rec.IncDiscoveryFailures("  ")

	snap := store.Snapshot()
	if snap.PeersKnown != 3 {
		t.Fatalf("expected peers known 3 got %d", snap.PeersKnown)
	}
	if snap.PeersExcludedTotal != 3 {
		t.Fatalf("expected excluded 3 got %d", snap.PeersExcludedTotal)
	}
	if snap.DiscoveryFailuresTotal() != 4 {
		t.Fatalf("expected 4 failures got %d", snap.DiscoveryFailuresTotal())
	}
	want := []FailureCount{{"decode", 1}, {"transport", 2}, {"unknown", 1}}
	if len(snap.DiscoveryFailures) != len(want) {
		t.Fatalf("unexpected failure breakdown %+v", snap.DiscoveryFailures)
	}
	for i := range want {
		if snap.DiscoveryFailures[i] != want[i] {
			t.Fatalf("unexpected failure %d: %+v", i, snap.DiscoveryFailures[i])
		}
	}
}

func TestStoreProbeRecorder(t *testing.T) {
	store := NewStore()
	rec := store.ProbeRecorder()

	rec.ObserveProbe(true, 12)
	rec.ObserveProbe(false, 999)
	rec.ObserveProbe(true, 40)

	snap := store.Snapshot()
	if snap.ProbesSucceededTotal != 2 || snap.ProbesFailedTotal != 1 {
		t.Fatalf("unexpected probe counters %+v", snap)
	}
	if snap.LastLatencyMillis != 40 {
		t.Fatalf("expected last latency 40 got %d", snap.LastLatencyMillis)
	}
}

func TestStoreCycleRecorder(t *testing.T) {
	store := NewStore()
	rec := store.CycleRecorder()

	if store.Snapshot().Phase != "idle" {
		t.Fatalf("expected initial phase idle")
	}

	at := time.Unix(1700000000, 0)
	rec.ObservePhase("discovering")
	rec.ObserveDiscoveryAttempt(at, nil)
	rec.ObserveDiscoveryAttempt(at.Add(30*time.Second), errors.New("rpc down"))
	rec.ObserveCycle(1500 * time.Millisecond)
	rec.ObserveDelivery(4, nil)
	rec.ObserveDelivery(4, errors.New("503"))

	snap := store.Snapshot()
	if snap.Phase != "discovering" {
		t.Fatalf("unexpected phase %s", snap.Phase)
	}
	if snap.DiscoveryAttempts != 2 {
		t.Fatalf("expected 2 attempts got %d", snap.DiscoveryAttempts)
	}
	if !snap.LastDiscoverySuccess.Equal(at) {
		t.Fatalf("unexpected last success %s", snap.LastDiscoverySuccess)
	}
	if !snap.LastDiscoveryAttempt.Equal(at.Add(30 * time.Second)) {
		t.Fatalf("unexpected last attempt %s", snap.LastDiscoveryAttempt)
	}
	if snap.LastDiscoveryError != "rpc down" {
		t.Fatalf("unexpected last error %q", snap.LastDiscoveryError)
	}
	if snap.CyclesTotal != 1 || snap.LastCycleDuration != 1500*time.Millisecond {
		t.Fatalf("unexpected cycle metrics %+v", snap)
	}
	if snap.ReportsDeliveredTotal != 1 || snap.ReportsFailedTotal != 1 || snap.ResultsDeliveredTotal != 4 {
		t.Fatalf("unexpected delivery metrics %+v", snap)
	}
}

func TestStoreWritePrometheus(t *testing.T) {
	store := NewStore()
	store.CycleRecorder().ObservePhase("probing")
	store.DiscoveryRecorder().ObserveDiscovery(7, 1)
	store.DiscoveryRecorder().IncDiscoveryFailures("decode")
	store.ProbeRecorder().ObserveProbe(true, 21)
	store.ObserveReadiness(true, "", nil)

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	output := sb.String()
	expect := []string{
		"peerscope_agent_phase_info{phase=\"probing\"} 1",
		"peerscope_agent_peers_known 7",
		"peerscope_agent_peers_excluded_total 1",
		"peerscope_agent_discovery_failures_total{kind=\"decode\"} 1",
		"peerscope_agent_probes_total{outcome=\"success\"} 1",
		"peerscope_agent_probes_total{outcome=\"failure\"} 0",
		"peerscope_agent_last_latency_milliseconds 21",
		"peerscope_agent_ready 1",
		"peerscope_agent_ready_info{reason=\"ready\"} 1",
		"peerscope_agent_ready_transitions_total{state=\"ready\"} 1",
	}
	for _, fragment := range expect {
		if !strings.Contains(output, fragment) {
			t.Fatalf("expected output to contain %q, got:\n%s", fragment, output)
		}
	}
}

func TestHTTPHandler(t *testing.T) {
	store := NewStore()
	h := NewHTTPHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected text/plain content-type got %s", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "peerscope_agent_discovery_failures_total{kind=\"none\"} 0") {
		t.Fatalf("expected placeholder failure series, got:\n%s", body)
	}

	postReq := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, postReq)
	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", w.Result().StatusCode)
	}
}

func TestStoreObserveReadiness(t *testing.T) {
	store := NewStore()

	// Initial failure is not a transition because the agent was never ready.
	store.ObserveReadiness(false, "peers not yet discovered", []ReadinessCategory{
		{Name: "DISCOVERY_PENDING", Severity: "info"},
	})
	snap := store.Snapshot()
	if snap.Ready || snap.ReadyReason != "peers not yet discovered" {
		t.Fatalf("unexpected readiness %+v", snap)
	}
	if snap.ReadyTransitions != 0 || snap.NotReadyTransitions != 0 {
		t.Fatalf("unexpected counters after initial failure: %+v", snap)
	}

	store.ObserveReadiness(true, "", nil)
	store.ObserveReadiness(false, "discovery stale", []ReadinessCategory{
		{Name: "DISCOVERY_STALE", Severity: "Warn"},
		{Name: "DISCOVERY_STALE", Severity: "warning"},
		{Name: " ", Severity: "info"},
	})
	snap = store.Snapshot()
	if snap.ReadyTransitions != 1 || snap.NotReadyTransitions != 1 {
		t.Fatalf("unexpected counters after degradation: %+v", snap)
	}
	if len(snap.ReadyCategories) != 1 || snap.ReadyCategories[0].Severity != "warning" {
		t.Fatalf("expected deduped categories, got %+v", snap.ReadyCategories)
	}
}
