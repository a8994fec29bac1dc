package engine

import (
	"github.com/arcflow/hsm/compose"
	"github.com/arcflow/hsm/hsmerr"
	"github.com/arcflow/hsm/model"
	"github.com/arcflow/hsm/reactive"
)

// resolveEffectiveTargets computes the leaf target vertices for v per the
// table in §4.4.3, walking and emitting every intermediate pseudostate
// edge it traverses.
func (e *Engine) resolveEffectiveTargets(v *model.Vertex) ([]*model.Vertex, error) {
	switch {
	case v.Kind == model.FinalVertex:
		return []*model.Vertex{v}, nil
	case v.Kind == model.StateVertex && v.Shape == model.Simple:
		return []*model.Vertex{v}, nil
	case v.Kind == model.StateVertex && v.Shape == model.Composite:
		init := findInitial(v.Regions[0])
		if init == nil {
			return nil, hsmerr.Internal(e.sm.Name, "composite state '"+v.Name+"' has no initial pseudostate", nil)
		}
		return e.traversePseudostate(init)
	case v.Kind == model.StateVertex && (v.Shape == model.Orthogonal || v.Shape == model.SubMachine):
		var all []*model.Vertex
		for _, r := range v.Regions {
			init := findInitial(r)
			if init == nil {
				return nil, hsmerr.Internal(e.sm.Name, "region '"+r.Name+"' has no initial pseudostate", nil)
			}
			ts, err := e.traversePseudostate(init)
			if err != nil {
				return nil, err
			}
			all = append(all, ts...)
		}
		return all, nil
	case v.Kind == model.PseudostateVertex:
		return e.traversePseudostate(v)
	default:
		return []*model.Vertex{v}, nil
	}
}

// traversePseudostate dispatches one pseudostate per the §4.4.3 table,
// running and emitting every edge it walks before recursing.
func (e *Engine) traversePseudostate(p *model.Vertex) ([]*model.Vertex, error) {
	switch p.PseudoKind {
	case model.Initial, model.EntryPoint, model.ExitPoint:
		t := p.Transitions[0]
		e.fireEdge(t)
		return e.resolveEffectiveTargets(t.Target)
	case model.Choice, model.Junction:
		t, err := e.pickEdge(p)
		if err != nil {
			return nil, err
		}
		e.fireEdge(t)
		return e.resolveEffectiveTargets(t.Target)
	case model.Fork:
		var all []*model.Vertex
		for _, t := range p.Transitions {
			e.fireEdge(t)
			ts, err := e.resolveEffectiveTargets(t.Target)
			if err != nil {
				return nil, err
			}
			all = append(all, ts...)
		}
		return all, nil
	case model.Join:
		t := p.Transitions[0]
		e.fireEdge(t)
		return e.resolveEffectiveTargets(t.Target)
	case model.ShallowHistory:
		if rec := e.history[p.Owner]; rec != nil && rec.shallow != nil {
			return e.resolveEffectiveTargets(rec.shallow)
		}
		return e.historyFallback(p)
	case model.DeepHistory:
		if rec := e.history[p.Owner]; rec != nil && len(rec.deep) > 0 {
			return append([]*model.Vertex(nil), rec.deep...), nil
		}
		return e.historyFallback(p)
	default:
		return nil, hsmerr.Internal(e.sm.Name, "pseudostate '"+p.Name+"' cannot be a transition target here", nil)
	}
}

// historyFallback implements the boundary behavior: a history pseudostate
// with no recorded history uses its own default edge if declared, else
// falls back to the region's initial pseudostate.
func (e *Engine) historyFallback(p *model.Vertex) ([]*model.Vertex, error) {
	if len(p.Transitions) == 1 {
		t := p.Transitions[0]
		e.fireEdge(t)
		return e.resolveEffectiveTargets(t.Target)
	}
	init := findInitial(p.Owner)
	if init == nil {
		return nil, hsmerr.Internal(e.sm.Name, "region '"+p.Owner.Name+"' has no initial pseudostate to fall back to", nil)
	}
	return e.resolveEffectiveTargets(init)
}

// pickEdge selects a choice/junction's winning outgoing edge: first
// guarded-true in declaration order, else the unguarded default (the
// validator guarantees exactly one exists).
func (e *Engine) pickEdge(p *model.Vertex) (*model.Transition, error) {
	var def *model.Transition
	for _, t := range p.Transitions {
		if !t.Guarded {
			def = t
			continue
		}
		if t.Guard != nil && t.Guard(nil) {
			return t, nil
		}
	}
	if def == nil {
		return nil, hsmerr.Internal(e.sm.Name, "pseudostate '"+p.Name+"' has no unguarded default edge", nil)
	}
	return def, nil
}

func (e *Engine) fireEdge(t *model.Transition) {
	if t.Action != nil {
		if err := t.Action(nil); err != nil {
			e.fail(err)
			return
		}
	}
	e.emit(t)
}

// deferredEntry is the composer's onGuardEvaluated hook (§4.5): the first
// time a guard is evaluated against an active vertex that has not yet run
// its entry behavior, entry runs eagerly. An error or panic from the
// entry body terminates the machine, same as any other entry failure.
func (e *Engine) deferredEntry(owner *model.Vertex) {
	n := e.activeNodes[owner]
	if n == nil || n.entered {
		return
	}
	n.entered = true
	if n.vertex.OnEntry != nil {
		if err := safeRun(n.vertex.OnEntry); err != nil {
			e.fail(err)
		}
	}
}

func getOrCreateRegion(parent *vertexNode, root *regionNode, region *model.Region) *regionNode {
	if parent == nil {
		return root
	}
	for _, rn := range parent.children {
		if rn.region == region {
			return rn
		}
	}
	rn := &regionNode{region: region, parent: parent}
	parent.children = append(parent.children, rn)
	return rn
}

// enterTargets resolves rawTarget to its leaf effective targets and enters
// each one, building any missing ancestor configuration nodes between
// common (nil meaning the machine root) and the leaf, per §4.4.3's entry
// order: new nodes activate outermost first.
func (e *Engine) enterTargets(common *vertexNode, rawTarget *model.Vertex) error {
	targets, err := e.resolveEffectiveTargets(rawTarget)
	if err != nil {
		return err
	}

	var newNodes []*vertexNode
	for _, target := range targets {
		chain := append(append([]*model.Vertex(nil), e.info.Ancestors[target]...), target)
		cut := 0
		if common != nil {
			for i, w := range chain {
				if w == common.vertex {
					cut = i + 1
					break
				}
			}
		}
		below := chain[cut:]

		curParent := common
		for _, w := range below {
			rn := getOrCreateRegion(curParent, e.root, w.Owner)
			if rn.active != nil && rn.active.vertex == w {
				curParent = rn.active
				continue
			}
			depth := 0
			if curParent != nil {
				depth = curParent.depth + 1
			}
			vn := &vertexNode{vertex: w, owner: rn, depth: depth}
			rn.active = vn
			e.activeNodes[w] = vn
			newNodes = append(newNodes, vn)
			curParent = vn
		}
	}

	sortByDepth(newNodes)
	for _, vn := range newNodes {
		if err := e.activateNode(vn); err != nil {
			return err
		}
	}
	return nil
}

func sortByDepth(nodes []*vertexNode) {
	for i := 1; i < len(nodes); i++ {
		j := i
		for j > 0 && nodes[j-1].depth > nodes[j].depth {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
			j--
		}
	}
}

// activateNode runs the §4.4.3 entry-order steps for one newly created
// configuration node: block completions, subscribe the merged decision
// stream, then run entry (a no-op if deferred entry already ran it). An
// error or panic from the entry body is returned so the caller can fail
// the machine instead of continuing as if entry succeeded.
func (e *Engine) activateNode(vn *vertexNode) error {
	if vn.vertex.Kind == model.StateVertex && vn.vertex.Shape != model.Simple {
		e.composer.ArmCompletion(vn.vertex)
	}
	if vn.vertex.Kind == model.StateVertex {
		decisions, lifetime, start := e.composer.Activate(vn.vertex, e.deferredEntry)
		vn.lifetime = lifetime
		sub := decisions.Subscribe(func(d compose.Decision) {
			if err := e.applyDecision(d); err != nil {
				e.fail(err)
			}
		}, func(err error) { e.fail(err) }, func() {})
		vn.lifetime.Add(sub)
		start()
	} else {
		vn.lifetime = reactive.NewLifetime()
	}
	if !vn.entered {
		vn.entered = true
		if vn.vertex.OnEntry != nil {
			if err := safeRun(vn.vertex.OnEntry); err != nil {
				return err
			}
		}
	}
	return nil
}
