package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/pingsantohq/peerscope/internal/metrics"
)

const defaultDiscoveryStale = 3 * time.Minute

const (
	categoryDiscoveryPending = "DISCOVERY_PENDING"
	categoryDiscoveryStale   = "DISCOVERY_STALE"
	categoryDiscoveryError   = "DISCOVERY_ERROR"
	categoryNoPeers          = "NO_PEERS"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness from the discovery state recorded in the
// metrics store.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
// staleAfter is normally a small multiple of the probe interval.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultDiscoveryStale
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	if c.metrics == nil {
		return true, nil
	}

	reasons := make([]string, 0, 3)
	categories := make([]metrics.ReadinessCategory, 0, 3)
	appendCategory := func(name, severity string) {
		categories = append(categories, metrics.ReadinessCategory{
			Name:     name,
			Severity: severity,
		})
	}

	snap := c.metrics.Snapshot()
	lastSuccess := snap.LastDiscoverySuccess

	if lastSuccess.IsZero() {
		reasons = append(reasons, "peers not yet discovered")
		appendCategory(categoryDiscoveryPending, severityInfo)
	} else if now.Sub(lastSuccess) > c.staleAfter {
		reasons = append(reasons, fmt.Sprintf("discovery stale (%s)", now.Sub(lastSuccess).Round(time.Second)))
		appendCategory(categoryDiscoveryStale, severityWarning)
	} else if snap.PeersKnown == 0 {
		reasons = append(reasons, "no probeable peers")
		appendCategory(categoryNoPeers, severityWarning)
	}

	if snap.LastDiscoveryError != "" && now.Sub(snap.LastDiscoveryAttempt) <= c.staleAfter {
		reasons = append(reasons, fmt.Sprintf("discovery failing: %s", snap.LastDiscoveryError))
		appendCategory(categoryDiscoveryError, severityCritical)
	}

	ready := len(reasons) == 0
	if ready {
		c.metrics.ObserveReadiness(true, "", nil)
		return true, nil
	}
	c.metrics.ObserveReadiness(false, strings.Join(reasons, "; "), categories)
	return false, reasons
}
