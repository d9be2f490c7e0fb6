package chatpulse

// State is the session lifecycle. The client is the sole writer; every
// mutation goes through one serialized transition path.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StatePairing
	StateResuming
	StateAuthenticating
	StateReady
	StateDegraded
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePairing:
		return "pairing"
	case StateResuming:
		return "resuming"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// legalNext lists the permitted transitions. Closed is terminal and reachable
// from every state via logout or an unrecoverable error.
var legalNext = map[State][]State{
	StateDisconnected:   {StateConnecting},
	StateConnecting:     {StatePairing, StateResuming, StateDisconnected, StateDegraded},
	StatePairing:        {StateAuthenticating, StatePairing, StateDegraded},
	StateResuming:       {StateAuthenticating, StatePairing, StateDegraded},
	StateAuthenticating: {StateReady, StateDegraded, StatePairing},
	StateReady:          {StateDegraded},
	StateDegraded:       {StateReconnecting},
	StateReconnecting:   {StateAuthenticating, StatePairing, StateDegraded},
	StateClosed:         {},
}

func canTransition(from, to State) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, next := range legalNext[from] {
		if next == to {
			return true
		}
	}
	return false
}
