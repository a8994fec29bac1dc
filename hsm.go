// Package hsm is the public surface (§6): build a state machine with the
// model package's fluent constructors, then Assemble or Start it to run
// the execution engine.
package hsm

import (
	"github.com/arcflow/hsm/engine"
	"github.com/arcflow/hsm/model"
	"github.com/arcflow/hsm/reactive"
)

// Re-exported element types, so callers need only import this package for
// the common path.
type (
	Vertex        = model.Vertex
	Region        = model.Region
	StateMachine  = model.StateMachine
	Transition    = model.Transition
	Option        = model.Option
	TriggeredOpt  = model.TriggeredOption[any]
	Taken         = engine.Taken
	EngineOption  = engine.Option
	Scheduler     = reactive.Scheduler
	Lifetime      = reactive.Lifetime
)

// Re-exported constructors and builder options.
var (
	MakeStateMachine = model.MakeStateMachine
	MakeState        = model.MakeState
	MakeFinalState   = model.MakeFinalState
	MakePseudostate  = model.MakePseudostate
	MakeRegion       = model.MakeRegion
	WithAction       = model.WithAction
	WithGuard        = model.WithGuard
)

// AddTriggered attaches an externally triggered transition; kept as a
// free function (not a method) because it is generic over the trigger's
// value type, matching model.AddTriggered.
func AddTriggered[T any](v *Vertex, name string, target *Vertex, trigger reactive.EventSource[T], opts ...model.TriggeredOption[T]) (*Transition, error) {
	return model.AddTriggered(v, name, target, trigger, opts...)
}

// Assemble validates sm and marks it assembled, returning the lazy stream
// of taken transitions; the initial configuration is entered on the first
// subscription to that stream.
func Assemble(sm *StateMachine, scheduler Scheduler, opts ...EngineOption) (*engine.Engine, reactive.EventSource[Taken], error) {
	return engine.Assemble(sm, scheduler, opts...)
}

// Start assembles sm and subscribes immediately, returning a cancel
// handle that tears down the whole run.
func Start(sm *StateMachine, scheduler Scheduler, opts ...EngineOption) (*engine.Engine, Lifetime, error) {
	return engine.Start(sm, scheduler, opts...)
}

// WithLogger overrides the engine's diagnostic logger.
var WithLogger = engine.WithLogger
