package compose

import (
	"github.com/arcflow/hsm/model"
	"github.com/arcflow/hsm/reactive"
	"github.com/arcflow/hsm/validate"
)

type cohortMember struct {
	owner *model.Vertex
	t     *model.Transition
}

// buildCohort returns t (owned by v) first, followed by every ancestor
// transition whose trigger is equal to t's, nearest ancestor first
// ("source-order", §4.3 step 2).
func buildCohort(t *model.Transition, v *model.Vertex, info *validate.Info) []cohortMember {
	cohort := []cohortMember{{owner: v, t: t}}
	if t.Trigger == nil {
		return cohort
	}
	ancestors := info.Ancestors[v]
	for i := len(ancestors) - 1; i >= 0; i-- {
		a := ancestors[i]
		for _, t2 := range a.Transitions {
			if t2.Trigger != nil && t.Trigger.Equal(t2.Trigger) {
				cohort = append(cohort, cohortMember{owner: a, t: t2})
			}
		}
	}
	return cohort
}

func (c *Composer) subscribeErased(t *model.Transition, onNext func(any), onError func(error), onComplete func()) reactive.Lifetime {
	switch t.Kind {
	case model.CompletionKind:
		return c.completionSource(t).Subscribe(func(struct{}) { onNext(struct{}{}) }, onError, onComplete)
	case model.TimeoutKind:
		return c.timeoutSource(t).Subscribe(func(struct{}) { onNext(struct{}{}) }, onError, onComplete)
	default:
		return t.Trigger.Subscribe(onNext, onError, onComplete)
	}
}

// Activate builds v's merged decision stream S[v] for one activation of
// v's configuration node. onGuardEvaluated is called with a cohort
// member's owner immediately before its guard runs, giving the engine its
// hook for deferred entry (§4.5). The returned Lifetime must be cancelled
// when v's configuration node exits: it releases every ancestor cohort
// block it acquired and stops any armed timeout.
//
// The third return value, start, must be called once the caller has
// subscribed to the decision stream: it fires any Simple state
// completion transitions that are unblocked from the moment of entry.
// Firing them eagerly inside Activate itself, before the caller can
// subscribe, would drop the decision on the floor.
func (c *Composer) Activate(v *model.Vertex, onGuardEvaluated func(*model.Vertex)) (decisions reactive.EventSource[Decision], activation reactive.Lifetime, start func()) {
	subj := reactive.NewSubject[Decision]()
	activation = reactive.NewLifetime()
	var immediate []*model.Transition

	for _, t := range v.Transitions {
		t := t
		cohort := buildCohort(t, v, c.info)
		for _, m := range cohort[1:] {
			m := m
			c.Block(m.t)
			activation.OnCancel(func() { c.Unblock(m.t) })
		}

		sub := c.subscribeErased(t, func(x any) {
			if c.blocked(t) {
				return
			}
			for _, m := range cohort {
				if onGuardEvaluated != nil {
					onGuardEvaluated(m.owner)
				}
				if m.t.Guard == nil || m.t.Guard(x) {
					mt, xv := m.t, x
					subj.Next(Decision{
						Owner:      m.owner,
						Transition: mt,
						RunAction: func() error {
							if mt.Action != nil {
								return mt.Action(xv)
							}
							return nil
						},
					})
					return
				}
			}
		}, func(err error) { subj.Error(err) }, func() {})
		activation.Add(sub)

		if t.Kind == model.TimeoutKind {
			activation.Add(c.armTimeout(t))
		}
		if t.Kind == model.CompletionKind {
			immediate = append(immediate, t)
		}
	}

	decisions = subj
	start = func() {
		for _, t := range immediate {
			c.fireImmediateCompletion(t)
		}
	}
	return decisions, activation, start
}
