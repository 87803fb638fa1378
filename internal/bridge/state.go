package bridge

// State is the connection state of a Dispatcher.
type State int32

const (
	// Disconnected means no session exists and none is scheduled.
	Disconnected State = iota

	// Connecting means a connection attempt is in progress.
	Connecting

	// Connected means the session is up and calls are routed.
	Connected

	// ReconnectPending means the session dropped and a retry is scheduled.
	ReconnectPending
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}
