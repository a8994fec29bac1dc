package model

import (
	"time"

	"github.com/arcflow/hsm/hsmerr"
	"github.com/arcflow/hsm/reactive"
)

// Transition is erased at construction time: regardless of the trigger's
// original value type, Action and Guard operate on `any` (nil for
// completion/timeout/internal-without-value), per the §9 design note to
// erase the trigger's value type at the builder boundary.
type Transition struct {
	Name    string
	Owner   *Vertex
	Target  *Vertex // nil => internal transition
	Kind    TransitionKind
	Guarded bool

	Trigger          *reactive.Erased // nil for Completion/Timeout (engine-synthesized)
	TimeoutDuration  time.Duration
	TimeoutScheduler reactive.Scheduler

	Action func(value any) error
	Guard  func(value any) bool
}

// Option configures a zero-argument (completion/timeout/internal) action
// or guard.
type Option func(*Transition)

// WithAction sets a zero-argument action.
func WithAction(fn func() error) Option {
	return func(t *Transition) { t.Action = func(any) error { return fn() } }
}

// WithGuard sets a zero-argument guard and marks the transition guarded.
func WithGuard(fn func() bool) Option {
	return func(t *Transition) {
		t.Guarded = true
		t.Guard = func(any) bool { return fn() }
	}
}

// TriggeredOption configures a value-receiving action or guard for a
// Triggered transition of value type T.
type TriggeredOption[T any] func(*Transition)

// WithValueAction sets an action that receives the trigger's emitted
// value.
func WithValueAction[T any](fn func(T) error) TriggeredOption[T] {
	return func(t *Transition) { t.Action = func(v any) error { return fn(v.(T)) } }
}

// WithValueGuard sets a guard that receives the trigger's emitted value
// and marks the transition guarded.
func WithValueGuard[T any](fn func(T) bool) TriggeredOption[T] {
	return func(t *Transition) {
		t.Guarded = true
		t.Guard = func(v any) bool { return fn(v.(T)) }
	}
}

func (v *Vertex) findTransition(name string) *Transition {
	for _, t := range v.Transitions {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (v *Vertex) attach(t *Transition) error {
	if err := v.checkAssembled(); err != nil {
		return err
	}
	if v.IsFinal() {
		return v.notAllowed("a final state may not own outgoing transitions")
	}
	if v.findTransition(t.Name) != nil {
		return v.notAllowed("duplicate transition name '" + t.Name + "'")
	}
	t.Owner = v
	v.Transitions = append(v.Transitions, t)
	return nil
}

// AddCompletion attaches a completion transition: fires once enabled (see
// package compose), with no trigger value.
func (v *Vertex) AddCompletion(name string, target *Vertex, opts ...Option) (*Transition, error) {
	t := &Transition{Name: name, Target: target, Kind: CompletionKind}
	for _, o := range opts {
		o(t)
	}
	if err := v.attach(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddTimeout attaches a one-shot timer transition relative to scheduler,
// armed when the owning vertex's configuration node is entered and
// cancelled on exit.
func (v *Vertex) AddTimeout(name string, target *Vertex, scheduler reactive.Scheduler, d time.Duration, opts ...Option) (*Transition, error) {
	t := &Transition{Name: name, Target: target, Kind: TimeoutKind, TimeoutScheduler: scheduler, TimeoutDuration: d}
	for _, o := range opts {
		o(t)
	}
	if err := v.attach(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddEdge attaches a pseudostate's outgoing structural edge (initial,
// choice/junction alternative, fork branch, join outgoing, entry/exit
// point, or history default). Unlike AddCompletion/AddTimeout/
// AddTriggered, edges are never composed into a reactive stream: the
// engine walks them synchronously during target resolution.
func (v *Vertex) AddEdge(name string, target *Vertex, opts ...Option) (*Transition, error) {
	t := &Transition{Name: name, Target: target, Kind: EdgeKind}
	for _, o := range opts {
		o(t)
	}
	if err := v.attach(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddTriggered attaches an externally triggered transition sourced from
// trigger. A nil target makes it an internal transition: the action runs
// without exiting or re-entering v.
func AddTriggered[T any](v *Vertex, name string, target *Vertex, trigger reactive.EventSource[T], opts ...TriggeredOption[T]) (*Transition, error) {
	t := &Transition{Name: name, Target: target, Kind: TriggeredKind, Trigger: reactive.Erase(trigger)}
	for _, o := range opts {
		o(t)
	}
	if err := v.attach(t); err != nil {
		return nil, err
	}
	return t, nil
}

// SourceVariant reports the variant of the transition's owner.
func (t *Transition) SourceVariant() VertexKind { return t.Owner.Kind }

// TargetVariant reports the variant of the transition's target, or a
// zero VertexKind with ok=false when the transition is internal.
func (t *Transition) TargetVariant() (kind VertexKind, ok bool) {
	if t.Target == nil {
		return 0, false
	}
	return t.Target.Kind, true
}

// AsSourceState returns the owner as a regular State, or a state_error if
// it is not one.
func (t *Transition) AsSourceState() (*Vertex, error) {
	if t.Owner.Kind != StateVertex {
		return nil, hsmerr.WrongState(t.machineName(), t.Name, "regular", t.Owner.Kind.String())
	}
	return t.Owner, nil
}

// AsSourcePseudostate returns the owner as a Pseudostate, or a state_error
// if it is not one. Structural edges fired during target resolution
// (§4.4.3) are owned by a pseudostate rather than a regular state.
func (t *Transition) AsSourcePseudostate() (*Vertex, error) {
	if t.Owner.Kind != PseudostateVertex {
		return nil, hsmerr.WrongState(t.machineName(), t.Name, "pseudo", t.Owner.Kind.String())
	}
	return t.Owner, nil
}

// AsTargetState returns the target as a regular State.
func (t *Transition) AsTargetState() (*Vertex, error) {
	return t.asTarget(StateVertex, "regular")
}

// AsTargetPseudostate returns the target as a Pseudostate.
func (t *Transition) AsTargetPseudostate() (*Vertex, error) {
	return t.asTarget(PseudostateVertex, "pseudo")
}

// AsTargetFinalState returns the target as a FinalState.
func (t *Transition) AsTargetFinalState() (*Vertex, error) {
	return t.asTarget(FinalVertex, "final")
}

func (t *Transition) asTarget(want VertexKind, label string) (*Vertex, error) {
	if t.Target == nil || t.Target.Kind != want {
		got := "internal (no target)"
		if t.Target != nil {
			got = t.Target.Kind.String()
		}
		return nil, hsmerr.WrongState(t.machineName(), t.Name, label, got)
	}
	return t.Target, nil
}

func (t *Transition) machineName() string {
	if t.Owner != nil {
		if m := t.Owner.machine(); m != nil {
			return m.Name
		}
	}
	return ""
}
