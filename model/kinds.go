// Package model defines the structural, immutable-after-assembly element
// tree (Region, Vertex, Transition, StateMachine) and the fluent builder
// operations that construct it. Builder mutators fail with a not_allowed
// error once the owning machine is assembled.
package model

// VertexKind tags the Vertex variant, per the §9 design note to model
// Vertex as a tagged union rather than a class hierarchy.
type VertexKind int

const (
	StateVertex VertexKind = iota
	PseudostateVertex
	FinalVertex
)

func (k VertexKind) String() string {
	switch k {
	case StateVertex:
		return "state"
	case PseudostateVertex:
		return "pseudostate"
	case FinalVertex:
		return "final_state"
	default:
		return "vertex"
	}
}

// StateShape is State's secondary tag, derived from structure rather than
// declared directly by a caller.
type StateShape int

const (
	Simple StateShape = iota
	Composite
	Orthogonal
	SubMachine
)

// PseudoKind enumerates the pseudostate roles from §4.2.
type PseudoKind int

const (
	Initial PseudoKind = iota
	Terminate
	EntryPoint
	ExitPoint
	Choice
	Join
	Fork
	Junction
	ShallowHistory
	DeepHistory
)

func (k PseudoKind) String() string {
	switch k {
	case Initial:
		return "initial"
	case Terminate:
		return "terminate"
	case EntryPoint:
		return "entry_point"
	case ExitPoint:
		return "exit_point"
	case Choice:
		return "choice"
	case Join:
		return "join"
	case Fork:
		return "fork"
	case Junction:
		return "junction"
	case ShallowHistory:
		return "shallow_history"
	case DeepHistory:
		return "deep_history"
	default:
		return "pseudostate"
	}
}

// TransitionKind distinguishes completion, externally-triggered, timeout,
// and pseudostate-edge transitions.
type TransitionKind int

const (
	CompletionKind TransitionKind = iota
	TriggeredKind
	TimeoutKind
	// EdgeKind marks a pseudostate's outgoing edge (initial, choice,
	// junction, fork, join, entry/exit point, history default): a plain
	// structural edge walked synchronously during target resolution,
	// never composed into a reactive stream.
	EdgeKind
)

func (k TransitionKind) String() string {
	switch k {
	case CompletionKind:
		return "completion"
	case TriggeredKind:
		return "triggered"
	case TimeoutKind:
		return "timeout"
	case EdgeKind:
		return "edge"
	default:
		return "transition"
	}
}
