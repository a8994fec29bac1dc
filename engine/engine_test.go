package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/hsm/model"
	"github.com/arcflow/hsm/reactive"
)

// manualTrigger is an EventSource whose subscribers are driven explicitly
// by a test calling fire, on the test's own goroutine.
type manualTrigger[T any] struct {
	subs []func(T)
}

func (m *manualTrigger[T]) Subscribe(onNext func(T), onError func(error), onComplete func()) reactive.Lifetime {
	m.subs = append(m.subs, onNext)
	return reactive.NewLifetime()
}

func (m *manualTrigger[T]) fire(v T) {
	for _, fn := range m.subs {
		fn(v)
	}
}

func names(taken []Taken) []string {
	out := make([]string, len(taken))
	for i, tk := range taken {
		out[i] = tk.Transition.Name
	}
	return out
}

func collectTaken(out reactive.EventSource[Taken]) (*[]Taken, reactive.Lifetime) {
	var got []Taken
	lt := out.Subscribe(func(tk Taken) { got = append(got, tk) }, func(error) {}, func() {})
	return &got, lt
}

func TestTwoStateFlip(t *testing.T) {
	sm := model.MakeStateMachine("flip")
	init := model.MakePseudostate(model.Initial, "init")
	s1 := model.MakeState("s1")
	s2 := model.MakeState("s2")
	require.NoError(t, sm.WithSubState(init, s1, s2))
	_, err := init.AddEdge("init->s1", s1)
	require.NoError(t, err)

	var entryLog []string
	require.NoError(t, s1.WithOnEntry(func() error { entryLog = append(entryLog, "s1"); return nil }))
	require.NoError(t, s2.WithOnEntry(func() error { entryLog = append(entryLog, "s2"); return nil }))

	t1 := &manualTrigger[string]{}
	t2 := &manualTrigger[string]{}
	_, err = model.AddTriggered[string](s1, "T1", s2, t1)
	require.NoError(t, err)
	_, err = model.AddTriggered[string](s2, "T2", s1, t2)
	require.NoError(t, err)

	sched := reactive.NewSerializedScheduler(8)
	defer sched.Close()

	_, out, err := Assemble(sm, sched)
	require.NoError(t, err)
	got, lt := collectTaken(out)
	defer lt.Cancel()

	t1.fire("a")
	t2.fire("b")

	assert.Equal(t, []string{"init->s1", "T1", "T2"}, names(*got))
	assert.Equal(t, []string{"s1", "s2", "s1"}, entryLog)
}

func TestEntryErrorTerminatesMachine(t *testing.T) {
	sm := model.MakeStateMachine("entry-err")
	init := model.MakePseudostate(model.Initial, "init")
	s1 := model.MakeState("s1")
	require.NoError(t, sm.WithSubState(init, s1))
	_, err := init.AddEdge("init->s1", s1)
	require.NoError(t, err)

	boom := errors.New("boom")
	require.NoError(t, s1.WithOnEntry(func() error { return boom }))

	sched := reactive.NewSerializedScheduler(8)
	defer sched.Close()

	e, out, err := Assemble(sm, sched)
	require.NoError(t, err)

	var gotErr error
	sub := out.Subscribe(func(Taken) {}, func(err error) { gotErr = err }, func() {})
	defer sub.Cancel()

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "boom")
	assert.True(t, e.IsTerminated())
}

func TestExitPanicTerminatesMachineInsteadOfCrashing(t *testing.T) {
	sm := model.MakeStateMachine("exit-panic")
	init := model.MakePseudostate(model.Initial, "init")
	s1 := model.MakeState("s1")
	s2 := model.MakeState("s2")
	require.NoError(t, sm.WithSubState(init, s1, s2))
	_, err := init.AddEdge("init->s1", s1)
	require.NoError(t, err)
	require.NoError(t, s1.WithOnExit(func() error { panic("exit blew up") }))

	trig := &manualTrigger[struct{}]{}
	_, err = model.AddTriggered[struct{}](s1, "go", s2, trig)
	require.NoError(t, err)

	sched := reactive.NewSerializedScheduler(8)
	defer sched.Close()

	e, out, err := Assemble(sm, sched)
	require.NoError(t, err)

	var gotErr error
	sub := out.Subscribe(func(Taken) {}, func(err error) { gotErr = err }, func() {})
	defer sub.Cancel()

	trig.fire(struct{}{})

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "exit blew up")
	assert.True(t, e.IsTerminated())
}

func TestCompositeWithDelayedCompletion(t *testing.T) {
	build := func(t *testing.T) (*model.StateMachine, *manualTrigger[struct{}], *manualTrigger[struct{}], *model.Vertex) {
		sm := model.MakeStateMachine("nested")
		init := model.MakePseudostate(model.Initial, "init")
		s1 := model.MakeState("s1")
		s2 := model.MakeState("s2")
		require.NoError(t, sm.WithSubState(init, s1, s2))
		_, err := init.AddEdge("init->s1", s1)
		require.NoError(t, err)

		initInner := model.MakePseudostate(model.Initial, "i")
		sA := model.MakeState("sA")
		sB := model.MakeState("sB")
		finalInner := model.MakeFinalState("final_inner")
		require.NoError(t, s1.WithSubState(initInner, sA, sB, finalInner))
		_, err = initInner.AddEdge("i->sA", sA)
		require.NoError(t, err)

		tAB := &manualTrigger[struct{}]{}
		tBF := &manualTrigger[struct{}]{}
		_, err = model.AddTriggered[struct{}](sA, "sA->sB", sB, tAB)
		require.NoError(t, err)
		_, err = model.AddTriggered[struct{}](sB, "sB->final", finalInner, tBF)
		require.NoError(t, err)

		_, err = s1.AddCompletion("s1->s2", s2)
		require.NoError(t, err)

		return sm, tAB, tBF, s1
	}

	t.Run("fires exactly once when inner reaches final", func(t *testing.T) {
		sm, tAB, tBF, _ := build(t)
		sched := reactive.NewSerializedScheduler(8)
		defer sched.Close()

		_, out, err := Assemble(sm, sched)
		require.NoError(t, err)
		got, lt := collectTaken(out)
		defer lt.Cancel()

		tAB.fire(struct{}{})
		tBF.fire(struct{}{})

		assert.Equal(t, []string{"init->s1", "i->sA", "sA->sB", "sB->final", "s1->s2"}, names(*got))
	})

	t.Run("never fires when s1 is exited before inner reaches final", func(t *testing.T) {
		sm, tAB, _, s1 := build(t)
		outerTrig := &manualTrigger[struct{}]{}
		s3 := model.MakeState("s3")
		require.NoError(t, sm.WithSubState(s3))
		_, err := model.AddTriggered[struct{}](s1, "abort", s3, outerTrig)
		require.NoError(t, err)

		sched := reactive.NewSerializedScheduler(8)
		defer sched.Close()

		_, out, err := Assemble(sm, sched)
		require.NoError(t, err)
		got, lt := collectTaken(out)
		defer lt.Cancel()

		tAB.fire(struct{}{})
		outerTrig.fire(struct{}{})

		assert.NotContains(t, names(*got), "s1->s2")
		assert.Contains(t, names(*got), "abort")
	})
}

func TestGuardedJunction(t *testing.T) {
	build := func(t *testing.T, g1, g2 bool) (*model.StateMachine, *manualTrigger[struct{}]) {
		sm := model.MakeStateMachine("junct")
		init := model.MakePseudostate(model.Initial, "init")
		s0 := model.MakeState("s0")
		j := model.MakePseudostate(model.Junction, "j")
		onG1 := model.MakeState("on_g1")
		onG2 := model.MakeState("on_g2")
		onDefault := model.MakeState("on_default")
		require.NoError(t, sm.WithSubState(init, s0, j, onG1, onG2, onDefault))
		_, err := init.AddEdge("init->s0", s0)
		require.NoError(t, err)

		trig := &manualTrigger[struct{}]{}
		_, err = model.AddTriggered[struct{}](s0, "to-j", j, trig)
		require.NoError(t, err)

		_, err = j.AddEdge("j->g1", onG1, model.WithGuard(func() bool { return g1 }))
		require.NoError(t, err)
		_, err = j.AddEdge("j->g2", onG2, model.WithGuard(func() bool { return g2 }))
		require.NoError(t, err)
		_, err = j.AddEdge("j->default", onDefault)
		require.NoError(t, err)

		return sm, trig
	}

	cases := []struct {
		g1, g2   bool
		wantEdge string
	}{
		{true, false, "j->g1"},
		{false, true, "j->g2"},
		{false, false, "j->default"},
		{true, true, "j->g1"},
	}
	for _, c := range cases {
		sm, trig := build(t, c.g1, c.g2)
		sched := reactive.NewSerializedScheduler(8)
		_, out, err := Assemble(sm, sched)
		require.NoError(t, err)
		got, lt := collectTaken(out)

		trig.fire(struct{}{})

		ns := names(*got)
		require.Contains(t, ns, c.wantEdge)
		for _, other := range []string{"j->g1", "j->g2", "j->default"} {
			if other != c.wantEdge {
				assert.NotContains(t, ns, other)
			}
		}
		lt.Cancel()
		sched.Close()
	}
}

func TestTerminatePseudostate(t *testing.T) {
	sm := model.MakeStateMachine("term")
	init := model.MakePseudostate(model.Initial, "init")
	s1 := model.MakeState("s1")
	s2 := model.MakeState("s2")
	term := model.MakePseudostate(model.Terminate, "term")
	require.NoError(t, sm.WithSubState(init, s1, s2, term))
	_, err := init.AddEdge("init->s1", s1)
	require.NoError(t, err)

	exited := false
	require.NoError(t, s1.WithOnExit(func() error { exited = true; return nil }))

	actionRan := false
	trig := &manualTrigger[struct{}]{}
	_, err = model.AddTriggered[struct{}](s1, "to-term", term, trig, model.TriggeredOption[struct{}](model.WithAction(func() error {
		actionRan = true
		return nil
	})))
	require.NoError(t, err)

	sched := reactive.NewSerializedScheduler(8)
	defer sched.Close()
	timerFired := false
	_, err = s1.AddTimeout("timeout", s2, sched, time.Hour, model.WithAction(func() error {
		timerFired = true
		return nil
	}))
	require.NoError(t, err)

	e, out, err := Assemble(sm, sched)
	require.NoError(t, err)

	completed := false
	sub := out.Subscribe(func(Taken) {}, func(error) {}, func() { completed = true })
	defer sub.Cancel()

	trig.fire(struct{}{})

	assert.True(t, actionRan)
	assert.True(t, completed)
	assert.False(t, exited)
	assert.False(t, timerFired)
	assert.True(t, e.IsTerminated())

	e.Terminate()
	assert.True(t, e.IsTerminated())
}

func TestHistoryRestoration(t *testing.T) {
	type fixture struct {
		sm                         *model.StateMachine
		deepen, leave              *manualTrigger[struct{}]
		reenterShallow, reenterDeep *manualTrigger[struct{}]
		a1, a2                     *model.Vertex
	}

	build := func(t *testing.T) fixture {
		sm := model.MakeStateMachine("hist")
		init := model.MakePseudostate(model.Initial, "init")
		s1 := model.MakeState("s1")
		out := model.MakeState("out")
		require.NoError(t, sm.WithSubState(init, s1, out))
		_, err := init.AddEdge("init->s1", s1)
		require.NoError(t, err)

		init1 := model.MakePseudostate(model.Initial, "init1")
		a := model.MakeState("a")
		sh := model.MakePseudostate(model.ShallowHistory, "sh")
		dh := model.MakePseudostate(model.DeepHistory, "dh")
		require.NoError(t, s1.WithSubState(init1, a, sh, dh))
		_, err = init1.AddEdge("init1->a", a)
		require.NoError(t, err)

		init2 := model.MakePseudostate(model.Initial, "init2")
		a1 := model.MakeState("a1")
		a2 := model.MakeState("a2")
		require.NoError(t, a.WithSubState(init2, a1, a2))
		_, err = init2.AddEdge("init2->a1", a1)
		require.NoError(t, err)

		deepen := &manualTrigger[struct{}]{}
		_, err = model.AddTriggered[struct{}](a1, "a1->a2", a2, deepen)
		require.NoError(t, err)

		leave := &manualTrigger[struct{}]{}
		_, err = model.AddTriggered[struct{}](a2, "a2->out", out, leave)
		require.NoError(t, err)

		reenterShallow := &manualTrigger[struct{}]{}
		_, err = model.AddTriggered[struct{}](out, "out->sh", sh, reenterShallow)
		require.NoError(t, err)

		reenterDeep := &manualTrigger[struct{}]{}
		_, err = model.AddTriggered[struct{}](out, "out->dh", dh, reenterDeep)
		require.NoError(t, err)

		return fixture{sm, deepen, leave, reenterShallow, reenterDeep, a1, a2}
	}

	t.Run("shallow history re-runs the default entry chain", func(t *testing.T) {
		f := build(t)
		sched := reactive.NewSerializedScheduler(8)
		defer sched.Close()

		e, out, err := Assemble(f.sm, sched)
		require.NoError(t, err)
		got, lt := collectTaken(out)
		defer lt.Cancel()

		f.deepen.fire(struct{}{})
		f.leave.fire(struct{}{})
		f.reenterShallow.fire(struct{}{})

		ns := names(*got)
		assert.Equal(t, 2, countOccurrences(ns, "init2->a1"))
		assert.NotSame(t, f.a2, e.activeNodes[f.a1].owner.active.vertex)
		assert.Same(t, f.a1, e.activeNodes[f.a1].owner.active.vertex)
	})

	t.Run("deep history restores the exact leaf configuration", func(t *testing.T) {
		f := build(t)
		sched := reactive.NewSerializedScheduler(8)
		defer sched.Close()

		e, out, err := Assemble(f.sm, sched)
		require.NoError(t, err)
		got, lt := collectTaken(out)
		defer lt.Cancel()

		f.deepen.fire(struct{}{})
		f.leave.fire(struct{}{})
		f.reenterDeep.fire(struct{}{})

		ns := names(*got)
		assert.Equal(t, 1, countOccurrences(ns, "init2->a1"))
		assert.Same(t, f.a2, e.activeNodes[f.a2].owner.active.vertex)
	})
}

func countOccurrences(ns []string, want string) int {
	n := 0
	for _, s := range ns {
		if s == want {
			n++
		}
	}
	return n
}

func TestOrthogonalForkJoin(t *testing.T) {
	sm := model.MakeStateMachine("forkjoin")
	init := model.MakePseudostate(model.Initial, "init")
	pre := model.MakeState("pre")
	fork := model.MakePseudostate(model.Fork, "fork")
	s2 := model.MakeState("s2")
	s3 := model.MakeState("s3")
	require.NoError(t, sm.WithSubState(init, pre, fork, s2, s3))
	_, err := init.AddEdge("init->pre", pre)
	require.NoError(t, err)
	_, err = pre.AddCompletion("pre->fork", fork)
	require.NoError(t, err)

	r1, err := s2.WithRegion("R1")
	require.NoError(t, err)
	r2, err := s2.WithRegion("R2")
	require.NoError(t, err)
	r3, err := s2.WithRegion("R3")
	require.NoError(t, err)

	a1 := model.MakeState("a1")
	f1 := model.MakeFinalState("f1")
	require.NoError(t, r1.WithSubState(a1, f1))
	i1 := model.MakePseudostate(model.Initial, "i1")
	require.NoError(t, r1.WithSubState(i1))
	_, err = i1.AddEdge("i1->a1", a1)
	require.NoError(t, err)

	a2 := model.MakeState("a2")
	f2 := model.MakeFinalState("f2")
	i2 := model.MakePseudostate(model.Initial, "i2")
	require.NoError(t, r2.WithSubState(a2, f2, i2))
	_, err = i2.AddEdge("i2->a2", a2)
	require.NoError(t, err)

	a3 := model.MakeState("a3")
	f3 := model.MakeFinalState("f3")
	i3 := model.MakePseudostate(model.Initial, "i3")
	require.NoError(t, r3.WithSubState(a3, f3, i3))
	_, err = i3.AddEdge("i3->a3", a3)
	require.NoError(t, err)

	_, err = fork.AddEdge("fork->a1", a1)
	require.NoError(t, err)
	_, err = fork.AddEdge("fork->a2", a2)
	require.NoError(t, err)
	_, err = fork.AddEdge("fork->a3", a3)
	require.NoError(t, err)

	j := model.MakePseudostate(model.Join, "j")
	require.NoError(t, sm.Top.WithSubState(j))

	// f1/f2/f3 are declared per the scenario but never driven to here:
	// convergence for this test goes through the join directly from each
	// region's active state.
	_ = f1
	_ = f2
	_ = f3

	t1 := &manualTrigger[struct{}]{}
	t2 := &manualTrigger[struct{}]{}
	t3 := &manualTrigger[struct{}]{}
	_, err = model.AddTriggered[struct{}](a1, "a1->j", j, t1)
	require.NoError(t, err)
	_, err = model.AddTriggered[struct{}](a2, "a2->j", j, t2)
	require.NoError(t, err)
	_, err = model.AddTriggered[struct{}](a3, "a3->j", j, t3)
	require.NoError(t, err)

	_, err = j.AddEdge("j->s3", s3)
	require.NoError(t, err)

	sched := reactive.NewSerializedScheduler(8)
	defer sched.Close()

	e, out, err := Assemble(sm, sched)
	require.NoError(t, err)
	got, lt := collectTaken(out)
	defer lt.Cancel()

	t1.fire(struct{}{})
	t2.fire(struct{}{})

	ns := names(*got)
	assert.Contains(t, ns, "a1->j")
	assert.Contains(t, ns, "a2->j")
	assert.NotContains(t, ns, "j->s3")

	r3n := e.activeNodes[a3].owner
	assert.Equal(t, statusActive, r3n.active.status)

	t3.fire(struct{}{})
	assert.Contains(t, names(*got), "j->s3")
}
