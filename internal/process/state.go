package process

// State is the lifecycle state of a managed process record.
type State string

const (
	StateIdle     State = "idle"     // created, never launched
	StateStarting State = "starting" // spawn in flight
	StateRunning  State = "running"  // live pid observed
	StateStopping State = "stopping" // stop requested, waiting for exit
	StateStopped  State = "stopped"  // exited after an explicit stop
	StateCrashed  State = "crashed"  // exited (or failed to spawn) without a stop request
)

// Alive reports whether the state implies an OS pid is attached to the record.
func (s State) Alive() bool {
	switch s {
	case StateStarting, StateRunning, StateStopping:
		return true
	}
	return false
}

// Startable reports whether a spawn may begin from this state.
func (s State) Startable() bool {
	return canTransition(s, StateStarting)
}

// validNext encodes the strict state machine; no transition skips an
// intermediate state.
var validNext = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateRunning, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped},
	StateStopped:  {StateStarting},
	StateCrashed:  {StateStarting},
}

func canTransition(from, to State) bool {
	for _, n := range validNext[from] {
		if n == to {
			return true
		}
	}
	return false
}
