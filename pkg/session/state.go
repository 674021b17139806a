package session

// State is the lifecycle position of one connection attempt.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateRegistered
	StateActive
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}
