// Package compose implements the trigger composer (§4.3): for each
// active state it merges that state's own transitions with
// equally-triggered ancestor transitions into a single decision stream,
// enforcing the mutual-exclusion cohort rule and synthesizing
// completion/timeout triggers.
package compose

import (
	"sync/atomic"

	"github.com/arcflow/hsm/model"
	"github.com/arcflow/hsm/reactive"
	"github.com/arcflow/hsm/validate"
)

// Decision is the materialized result of a merged stream firing: the
// vertex whose cohort member won, the transition chosen, and a zero-arg
// thunk already bound to the trigger's value (or to no value, for
// completion/timeout/internal transitions), per the §9 erasure note.
type Decision struct {
	Owner      *model.Vertex
	Transition *model.Transition
	RunAction  func() error
}

// Composer builds and gates merged decision streams. One Composer is
// shared by an entire assembled machine.
type Composer struct {
	info      *validate.Info
	scheduler reactive.Scheduler

	blocks      map[*model.Transition]*int32
	completions map[*model.Transition]reactive.Subject[struct{}]
	timeouts    map[*model.Transition]reactive.Subject[struct{}]
}

// New creates a Composer bound to the validated machine info and the
// scheduler supplied to assemble.
func New(info *validate.Info, scheduler reactive.Scheduler) *Composer {
	return &Composer{
		info:        info,
		scheduler:   scheduler,
		blocks:      map[*model.Transition]*int32{},
		completions: map[*model.Transition]reactive.Subject[struct{}]{},
		timeouts:    map[*model.Transition]reactive.Subject[struct{}]{},
	}
}

func (c *Composer) counter(t *model.Transition) *int32 {
	if ctr, ok := c.blocks[t]; ok {
		return ctr
	}
	var n int32
	c.blocks[t] = &n
	return &n
}

// Block marks t blocked: while blocked>0, its occurrences are suppressed
// ("no decision"), whether from cohort mutual exclusion or from
// composite/orthogonal completion gating.
func (c *Composer) Block(t *model.Transition) {
	atomic.AddInt32(c.counter(t), 1)
}

// Unblock releases one Block call. For completion transitions, if this
// drops the count to zero, the synthesized completion trigger fires
// immediately (the "becomes unblocked ⇒ emits once" rule).
func (c *Composer) Unblock(t *model.Transition) {
	if atomic.AddInt32(c.counter(t), -1) == 0 && t.Kind == model.CompletionKind {
		if subj, ok := c.completions[t]; ok {
			subj.Next(struct{}{})
		}
	}
}

func (c *Composer) blocked(t *model.Transition) bool {
	return atomic.LoadInt32(c.counter(t)) > 0
}

func (c *Composer) completionSource(t *model.Transition) reactive.Subject[struct{}] {
	if s, ok := c.completions[t]; ok {
		return s
	}
	s := reactive.NewSubject[struct{}]()
	c.completions[t] = s
	return s
}

// ArmCompletion blocks every completion transition owned by v (called by
// the engine when entering a composite/orthogonal configuration node) and
// ensures their synthesized sources exist. The block count is set to one,
// so a block left by an earlier activation that exited before its regions
// completed does not carry over.
func (c *Composer) ArmCompletion(v *model.Vertex) {
	for _, t := range v.Transitions {
		if t.Kind == model.CompletionKind {
			c.completionSource(t)
			atomic.StoreInt32(c.counter(t), 1)
		}
	}
}

// ReleaseCompletion unblocks every completion transition owned by v,
// firing the first eligible one (per cohort precedence, via the merged
// stream subscription already in place).
func (c *Composer) ReleaseCompletion(v *model.Vertex) {
	for _, t := range v.Transitions {
		if t.Kind == model.CompletionKind {
			c.Unblock(t)
		}
	}
}

// fireImmediateCompletion is used for a Simple state's completion
// transitions, which per §4.3 "emit a single unit immediately unless
// blocked" — simple states have nothing gating them, so they fire as
// soon as the stream is subscribed.
func (c *Composer) fireImmediateCompletion(t *model.Transition) {
	if !c.blocked(t) {
		if subj, ok := c.completions[t]; ok {
			subj.Next(struct{}{})
		}
	}
}

func (c *Composer) timeoutSource(t *model.Transition) reactive.Subject[struct{}] {
	if s, ok := c.timeouts[t]; ok {
		return s
	}
	s := reactive.NewSubject[struct{}]()
	c.timeouts[t] = s
	return s
}

// armTimeout starts t's one-shot timer, relative to t's own scheduler if
// set, else the machine-wide scheduler. The returned Lifetime cancels the
// timer; the engine ties it to the owning configuration node's
// state_lifetime so exit cancels any pending timer.
func (c *Composer) armTimeout(t *model.Transition) reactive.Lifetime {
	sched := t.TimeoutScheduler
	if sched == nil {
		sched = c.scheduler
	}
	subj := c.timeoutSource(t)
	return sched.ScheduleAfter(t.TimeoutDuration, func() {
		if !c.blocked(t) {
			subj.Next(struct{}{})
		}
	})
}
