package types

import "net/netip"

// FailureLatencyMs is the latency reported for any probe that did not connect.
const FailureLatencyMs uint64 = 999

// ReportEnvelope is the body delivered to the collector for one cycle.
type ReportEnvelope struct {
	Timestamp int64         `json:"timestamp" yaml:"timestamp"`
	Results   []ProbeResult `json:"results" yaml:"results"`
}

// Peer is a probeable network participant. It only exists once an address
// has been extracted from its identifier.
type Peer struct {
	PeerID string     `json:"peer_id" yaml:"peer_id"`
	IP     netip.Addr `json:"ip" yaml:"ip"`
	Port   uint16     `json:"port" yaml:"port"`
}

type ProbeResult struct {
	Peer      Peer   `json:"peer" yaml:"peer"`
	LatencyMs uint64 `json:"latency_ms" yaml:"latency_ms"`
	Success   bool   `json:"success" yaml:"success"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
}
