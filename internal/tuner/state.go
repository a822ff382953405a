package tuner

// State is the tuner's finite-state-machine state.
type State int

// Tuner states. Only the transitions driven by Start, Tune, Stop,
// HandleBlackScreen, Reconnect and the capture-death path are legal.
const (
	StateStopped State = iota
	StateStarting
	StateFree
	StateTuning
	StateStreaming
	StateError
)

// String returns the lowercase state name used in logs and status output.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateFree:
		return "free"
	case StateTuning:
		return "tuning"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
