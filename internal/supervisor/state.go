package supervisor

// State is the supervisor lifecycle: Idle → Starting → Running → Stopping →
// Idle, with Failed reachable from Starting (and from Stopping when the
// process cannot be terminated).
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
