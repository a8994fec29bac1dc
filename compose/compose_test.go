package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/hsm/model"
	"github.com/arcflow/hsm/reactive"
	"github.com/arcflow/hsm/validate"
)

type unitSource struct {
	subs []func(struct{})
}

func (s *unitSource) Subscribe(onNext func(struct{}), onError func(error), onComplete func()) reactive.Lifetime {
	s.subs = append(s.subs, onNext)
	return reactive.NewLifetime()
}

func (s *unitSource) fire() {
	for _, fn := range s.subs {
		fn(struct{}{})
	}
}

// buildNested wires outer(inner) and a sibling "other" all under one
// unassembled, unvalidated machine, and returns a hand-built Info whose
// only populated field is Ancestors — the one compose actually reads.
// Structural validation (initial pseudostates, targetable regions) is
// irrelevant to the composer's own behavior and is exercised separately
// in package validate's tests.
func buildNested(t *testing.T) (outer, inner, other *model.Vertex, trig *unitSource, info *validate.Info) {
	t.Helper()
	sm := model.MakeStateMachine("m")
	outer = model.MakeState("outer")
	inner = model.MakeState("inner")
	other = model.MakeState("other")
	require.NoError(t, outer.WithSubState(inner))
	require.NoError(t, sm.WithSubState(outer, other))

	info = &validate.Info{Ancestors: map[*model.Vertex][]*model.Vertex{
		inner: {outer},
		outer: {},
		other: {},
	}}
	return outer, inner, other, &unitSource{}, info
}

func TestBuildCohortOrdersSourceFirstThenAncestors(t *testing.T) {
	outer, inner, other, trig, info := buildNested(t)

	innerT, err := model.AddTriggered[struct{}](inner, "inner-go", other, trig)
	require.NoError(t, err)
	outerT, err := model.AddTriggered[struct{}](outer, "outer-go", other, trig)
	require.NoError(t, err)

	cohort := buildCohort(innerT, inner, info)
	require.Len(t, cohort, 2)
	assert.Same(t, inner, cohort[0].owner)
	assert.Same(t, innerT, cohort[0].t)
	assert.Same(t, outer, cohort[1].owner)
	assert.Same(t, outerT, cohort[1].t)
}

func TestBuildCohortSkipsTransitionsWithoutTrigger(t *testing.T) {
	outer, _, other, _, info := buildNested(t)

	outerT, err := outer.AddCompletion("outer-done", other)
	require.NoError(t, err)

	cohort := buildCohort(outerT, outer, info)
	require.Len(t, cohort, 1)
}

func TestBlockSuppressesCohortDecision(t *testing.T) {
	sm := model.MakeStateMachine("m")
	s1 := model.MakeState("s1")
	s2 := model.MakeState("s2")
	require.NoError(t, sm.WithSubState(s1, s2))

	trig := &unitSource{}
	tr, err := model.AddTriggered[struct{}](s1, "go", s2, trig)
	require.NoError(t, err)

	info := &validate.Info{Ancestors: map[*model.Vertex][]*model.Vertex{s1: {}, s2: {}}}
	c := New(info, reactive.NewImmediateScheduler())
	decisions, activation, start := c.Activate(s1, nil)
	defer activation.Cancel()

	var got []Decision
	sub := decisions.Subscribe(func(d Decision) { got = append(got, d) }, func(error) {}, func() {})
	defer sub.Cancel()
	start()

	c.Block(tr)
	trig.fire()
	assert.Empty(t, got)

	c.Unblock(tr)
	trig.fire()
	require.Len(t, got, 1)
	assert.Same(t, tr, got[0].Transition)
}

func TestArmCompletionBlocksUntilReleased(t *testing.T) {
	sm := model.MakeStateMachine("m")
	outer := model.MakeState("outer")
	s2 := model.MakeState("s2")
	inner := model.MakeState("inner")
	require.NoError(t, outer.WithSubState(inner))
	require.NoError(t, sm.WithSubState(outer, s2))

	tr, err := outer.AddCompletion("outer-done", s2)
	require.NoError(t, err)

	info := &validate.Info{Ancestors: map[*model.Vertex][]*model.Vertex{outer: {}, inner: {outer}, s2: {}}}
	c := New(info, reactive.NewImmediateScheduler())
	c.ArmCompletion(outer)

	decisions, activation, start := c.Activate(outer, nil)
	defer activation.Cancel()

	var got []Decision
	sub := decisions.Subscribe(func(d Decision) { got = append(got, d) }, func(error) {}, func() {})
	defer sub.Cancel()
	start()

	assert.Empty(t, got)

	c.ReleaseCompletion(outer)
	require.Len(t, got, 1)
	assert.Same(t, tr, got[0].Transition)
}

func TestActivateFiresSimpleStateCompletionImmediately(t *testing.T) {
	sm := model.MakeStateMachine("m")
	s1 := model.MakeState("s1")
	s2 := model.MakeState("s2")
	require.NoError(t, sm.WithSubState(s1, s2))

	tr, err := s1.AddCompletion("go", s2)
	require.NoError(t, err)

	info := &validate.Info{Ancestors: map[*model.Vertex][]*model.Vertex{s1: {}, s2: {}}}
	c := New(info, reactive.NewImmediateScheduler())

	var got []Decision
	decisions, activation, start := c.Activate(s1, nil)
	defer activation.Cancel()
	sub := decisions.Subscribe(func(d Decision) { got = append(got, d) }, func(error) {}, func() {})
	defer sub.Cancel()
	start()

	require.Len(t, got, 1)
	assert.Same(t, tr, got[0].Transition)
}

func TestActivateCallsOnGuardEvaluatedUpToWinningCohortMember(t *testing.T) {
	outer, inner, other, trig, info := buildNested(t)

	_, err := model.AddTriggered[struct{}](inner, "inner-go", other, trig)
	require.NoError(t, err)
	_, err = model.AddTriggered[struct{}](outer, "outer-go", other, trig)
	require.NoError(t, err)

	c := New(info, reactive.NewImmediateScheduler())

	var evaluated []*model.Vertex
	decisions, activation, start := c.Activate(inner, func(v *model.Vertex) { evaluated = append(evaluated, v) })
	defer activation.Cancel()

	var got []Decision
	sub := decisions.Subscribe(func(d Decision) { got = append(got, d) }, func(error) {}, func() {})
	defer sub.Cancel()
	start()

	trig.fire()
	require.Len(t, got, 1)
	assert.Same(t, inner, got[0].Owner)
	assert.Equal(t, []*model.Vertex{inner}, evaluated)
}

func TestActivationCancelUnblocksAncestorCohort(t *testing.T) {
	outer, inner, other, trig, info := buildNested(t)

	outerT, err := model.AddTriggered[struct{}](outer, "outer-go", other, trig)
	require.NoError(t, err)
	_, err = model.AddTriggered[struct{}](inner, "inner-go", other, trig)
	require.NoError(t, err)

	c := New(info, reactive.NewImmediateScheduler())
	_, activation, start := c.Activate(inner, nil)
	start()

	assert.True(t, c.blocked(outerT))
	activation.Cancel()
	assert.False(t, c.blocked(outerT))
}
