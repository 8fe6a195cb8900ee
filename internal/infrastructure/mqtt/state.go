package mqtt

// State is the lifecycle state of a Connection.
//
// Transitions:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
//	Connecting   -> Reconnecting (attempt failed or timed out)
//	any          -> Stopped (terminal)
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

// String returns the lower-case state name used in logs and status output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
