package listener

// State is the connection lifecycle of one listener run.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
	Rotating
	Stopped
)

var allStates = []State{Disconnected, Connecting, Connected, Error, Rotating, Stopped}

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	case Rotating:
		return "rotating"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
