package viewer

// State is the lifecycle of a Connection.
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connected
//	                                  any state -> Disconnected (Close or ctx done)
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

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
	default:
		return "unknown"
	}
}
