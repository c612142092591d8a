package agent

// Phase is the controller's current position in the monitoring cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDiscovering
	PhaseProbing
	PhaseReporting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiscovering:
		return "discovering"
	case PhaseProbing:
		return "probing"
	case PhaseReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

func (p Phase) Valid() bool {
	return p >= PhaseIdle && p <= PhaseReporting
}

// Next returns the phase that follows p. ok only matters for
// PhaseDiscovering, where a failed discovery sends the cycle back to idle.
func Next(p Phase, ok bool) Phase {
	switch p {
	case PhaseIdle:
		return PhaseDiscovering
	case PhaseDiscovering:
		if ok {
			return PhaseProbing
		}
		return PhaseIdle
	case PhaseProbing:
		return PhaseReporting
	default:
		return PhaseIdle
	}
}
