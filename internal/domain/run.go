package domain

// RunState is a state of the agent control loop.
type RunState string

const (
	StateAwaitingModel  RunState = "AWAITING_MODEL"
	StateModelResponded RunState = "MODEL_RESPONDED"
	StateExecutingTools RunState = "EXECUTING_TOOLS"
	StateDone           RunState = "DONE"
	StateFailed         RunState = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// validTransitions lists the allowed successors of each non-terminal state.
var validTransitions = map[RunState][]RunState{
	StateAwaitingModel:  {StateModelResponded, StateFailed},
	StateModelResponded: {StateExecutingTools, StateDone},
	StateExecutingTools: {StateAwaitingModel, StateFailed},
}

// CanTransition reports whether from → to is a legal loop transition.
func CanTransition(from, to RunState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
