// Package engine implements the execution engine (§4.4): it owns the live
// configuration tree, resolves and enters transition targets, exits
// subtrees in depth order, and gates final/join convergence across an
// orthogonal state's regions.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/arcflow/hsm/compose"
	"github.com/arcflow/hsm/hsmerr"
	"github.com/arcflow/hsm/internal/obslog"
	"github.com/arcflow/hsm/model"
	"github.com/arcflow/hsm/reactive"
	"github.com/arcflow/hsm/validate"
)

// Taken is a materialized record of a transition the engine has just
// executed, published on the output stream returned by Assemble.
type Taken struct {
	ID         uuid.UUID
	Transition *model.Transition
}

// Option configures an Engine at assembly time.
type Option func(*Engine)

// WithLogger overrides the engine's diagnostic logger.
func WithLogger(l obslog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

type nodeStatus int

const (
	statusActive nodeStatus = iota
	statusAwaitJoin
	statusAwaitFinalize
)

// regionNode is a live configuration node for one region: at most one
// vertex is active in it at a time.
type regionNode struct {
	region *model.Region
	parent *vertexNode // weak; nil only for the machine's top-level region
	active *vertexNode
}

// vertexNode is a live configuration node for one active vertex.
type vertexNode struct {
	vertex   *model.Vertex
	owner    *regionNode // weak; the region this vertex is active in
	children []*regionNode
	depth    int

	lifetime reactive.Lifetime // cancelling this stops this vertex's trigger subscriptions and armed timeouts; descendant nodes hold their own lifetimes
	entered  bool
	status   nodeStatus
}

type historyRecord struct {
	shallow *model.Vertex
	deep    []*model.Vertex
}

// Engine runs one assembled state machine's configuration tree.
type Engine struct {
	sm        *model.StateMachine
	info      *validate.Info
	composer  *compose.Composer
	scheduler reactive.Scheduler
	log       obslog.Logger

	mu          sync.Mutex
	terminated  bool
	root        *regionNode
	activeNodes map[*model.Vertex]*vertexNode
	history     map[*model.Region]*historyRecord

	startOnce    sync.Once
	output       reactive.Subject[Taken]
	rootLifetime reactive.Lifetime
}

// lazyOutput defers the engine's initial-configuration entry until the
// first subscription, so the very first taken transition (the top-level
// initial pseudostate's edge) reaches whoever called assemble instead of
// firing into an empty subject before anyone is listening.
type lazyOutput struct{ e *Engine }

func (l lazyOutput) Subscribe(onNext func(Taken), onError func(error), onComplete func()) reactive.Lifetime {
	lt := l.e.output.Subscribe(onNext, onError, onComplete)
	l.e.startOnce.Do(l.e.enterInitialConfiguration)
	return lt
}

// Assemble validates sm, marks it assembled, and builds the trigger
// composer. The returned stream of taken transitions is cold: entering the
// initial configuration (§4.4.1) is deferred to the first subscription.
func Assemble(sm *model.StateMachine, scheduler reactive.Scheduler, opts ...Option) (*Engine, reactive.EventSource[Taken], error) {
	info, err := validate.Validate(sm)
	if err != nil {
		return nil, nil, err
	}
	sm.MarkAssembled()

	e := &Engine{
		sm:           sm,
		info:         info,
		composer:     compose.New(info, scheduler),
		scheduler:    scheduler,
		log:          obslog.New(sm.Name),
		activeNodes:  map[*model.Vertex]*vertexNode{},
		history:      map[*model.Region]*historyRecord{},
		output:       reactive.NewSubject[Taken](),
		rootLifetime: reactive.NewLifetime(),
	}
	for _, o := range opts {
		o(e)
	}
	e.root = &regionNode{region: sm.Top}
	// Cancelling the root lifetime (Terminate, a failure, or Start's handle)
	// also cancels every active node's lifetime, so no trigger subscription
	// or armed timeout outlives the run.
	e.rootLifetime.OnCancel(func() {
		for _, n := range e.activeNodes {
			if n.lifetime != nil {
				n.lifetime.Cancel()
			}
		}
	})

	return e, lazyOutput{e}, nil
}

func (e *Engine) enterInitialConfiguration() {
	top := findInitial(e.sm.Top)
	if top == nil {
		e.fail(hsmerr.NotAllowed(e.sm.Name, "state_machine", e.sm.Name, "requires exactly one top-level initial pseudostate"))
		return
	}
	if err := e.enterTargets(nil, top); err != nil {
		e.fail(err)
	}
}

// Start assembles sm and subscribes immediately, per §4.4.1's
// `start = assemble(scheduler).subscribe(...)`. The returned Lifetime
// cancels the whole run; errors from entry/exit/action/guard bodies are
// logged (they already terminated the machine by the time Start's caller
// observes them through IsTerminated).
func Start(sm *model.StateMachine, scheduler reactive.Scheduler, opts ...Option) (*Engine, reactive.Lifetime, error) {
	e, out, err := Assemble(sm, scheduler, opts...)
	if err != nil {
		return nil, nil, err
	}
	handle := reactive.NewLifetime()
	sub := out.Subscribe(func(Taken) {}, func(err error) {
		e.log.Errorf("machine halted: %v", err)
	}, func() {})
	handle.Add(sub)
	handle.Add(e.rootLifetime)
	return e, handle, nil
}

// Terminate completes the output stream and cancels the root lifetime
// without running any exit behavior. Idempotent.
func (e *Engine) Terminate() {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return
	}
	e.terminated = true
	e.mu.Unlock()
	e.output.Complete()
	e.rootLifetime.Cancel()
}

// IsTerminated reports whether Terminate has run.
func (e *Engine) IsTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// IsAssembled reports whether the underlying machine has been assembled.
func (e *Engine) IsAssembled() bool { return e.sm.IsAssembled() }

func (e *Engine) fail(err error) {
	e.mu.Lock()
	already := e.terminated
	e.terminated = true
	e.mu.Unlock()
	if already {
		return
	}
	e.output.Error(err)
	e.rootLifetime.Cancel()
}

func (e *Engine) emit(t *model.Transition) {
	e.output.Next(Taken{ID: uuid.New(), Transition: t})
}

// safeRun executes an entry/exit body with panic recovery, so a user
// callback can only ever terminate the machine with an error, never crash
// the process. Mirrors the teacher's safeExecuteAction.
func safeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func findInitial(r *model.Region) *model.Vertex {
	for _, v := range r.Vertices {
		if v.Kind == model.PseudostateVertex && v.PseudoKind == model.Initial {
			return v
		}
	}
	return nil
}

// FindUnreachableStates implements §4.4.7: every vertex not reachable from
// the top-level initial pseudostate through the target-expansion graph,
// reported by name in sorted order.
func (e *Engine) FindUnreachableStates() []string {
	reached := map[*model.Vertex]bool{}
	var visit func(v *model.Vertex)
	visit = func(v *model.Vertex) {
		if reached[v] {
			return
		}
		reached[v] = true
		for _, a := range e.info.Ancestors[v] {
			visit(a)
		}
		if v.Kind == model.StateVertex {
			for _, r := range v.Regions {
				if init := findInitial(r); init != nil {
					visit(init)
				}
			}
		}
		for _, t := range v.Transitions {
			if t.Target != nil {
				visit(t.Target)
			}
		}
	}
	if top := findInitial(e.sm.Top); top != nil {
		visit(top)
	}
	var out []string
	for _, v := range e.sm.AllVertices() {
		if !reached[v] {
			out = append(out, v.Name)
		}
	}
	sort.Strings(out)
	return out
}
