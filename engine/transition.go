package engine

import (
	"github.com/arcflow/hsm/compose"
	"github.com/arcflow/hsm/hsmerr"
	"github.com/arcflow/hsm/model"
)

// applyDecision runs one merged-stream decision through §4.4.4–§4.4.6.
func (e *Engine) applyDecision(d compose.Decision) error {
	t := d.Transition
	src := e.activeNodes[t.Owner]
	if src == nil {
		// the owning configuration node has already exited; a decision
		// racing its own teardown is discarded.
		return nil
	}

	if t.Target == nil {
		return d.RunAction()
	}

	if t.Target.Kind == model.PseudostateVertex && t.Target.PseudoKind == model.Terminate {
		if err := d.RunAction(); err != nil {
			return err
		}
		e.emit(t)
		e.Terminate()
		return nil
	}

	if t.Target.Kind == model.FinalVertex || (t.Target.Kind == model.PseudostateVertex && t.Target.PseudoKind == model.Join) {
		return e.applyFinalOrJoin(src, d)
	}

	return e.applyRegular(src, d)
}

// applyRegular implements §4.4.4 steps 1–5 for an ordinary transition.
func (e *Engine) applyRegular(src *vertexNode, d compose.Decision) error {
	t := d.Transition
	common := e.lowestCommonAncestor(src, t.Target)
	if err := e.exitBelow(common); err != nil {
		return err
	}
	if err := d.RunAction(); err != nil {
		return err
	}
	e.emit(t)
	return e.enterTargets(common, t.Target)
}

// lowestCommonAncestor walks upward from src, stopping at the first node
// whose vertex is an ancestor of target (§4.4.4 step 1). nil means the
// machine root.
func (e *Engine) lowestCommonAncestor(src *vertexNode, target *model.Vertex) *vertexNode {
	ancestors := map[*model.Vertex]bool{}
	for _, a := range e.info.Ancestors[target] {
		ancestors[a] = true
	}
	for n := src; n != nil; n = n.owner.parent {
		if ancestors[n.vertex] {
			return n
		}
	}
	return nil
}

// applyFinalOrJoin implements §4.4.5: the triggering region always swaps
// its active vertex for the final/join marker locally; whether that
// escalates into unblocking completions or proceeding through the join
// depends on the sibling regions of the enclosing orthogonal state.
func (e *Engine) applyFinalOrJoin(src *vertexNode, d compose.Decision) error {
	t := d.Transition
	isJoin := t.Target.Kind == model.PseudostateVertex && t.Target.PseudoKind == model.Join
	r := src.owner

	if err := e.regionLocalTransition(r, src, t.Target, d.RunAction); err != nil {
		return err
	}
	e.emit(t)
	if isJoin {
		r.active.status = statusAwaitJoin
	} else {
		r.active.status = statusAwaitFinalize
	}

	parent := r.parent
	if parent == nil || parent.vertex.Shape != model.Orthogonal {
		return e.escalate(parent, t.Target, isJoin)
	}

	sawJoin, sawFinalize, anyActive := false, false, false
	for _, sib := range parent.children {
		if sib.active == nil {
			continue
		}
		switch sib.active.status {
		case statusActive:
			anyActive = true
		case statusAwaitJoin:
			sawJoin = true
		case statusAwaitFinalize:
			sawFinalize = true
		}
	}
	if sawJoin && sawFinalize {
		return hsmerr.JoinConflict(e.sm.Name, parent.vertex.Name, "mixes await_join and await_finalize among sibling regions")
	}
	if anyActive {
		return nil // deferred: other regions still run independently.
	}
	return e.escalate(parent, t.Target, isJoin)
}

// regionLocalTransition replaces r's active vertex with marker (a final
// state or a join pseudostate), running src's own exit (and anything
// nested below it) first, then action, then marker's entry.
func (e *Engine) regionLocalTransition(r *regionNode, src *vertexNode, marker *model.Vertex, action func() error) error {
	if err := e.exitBelow(src); err != nil {
		return err
	}
	if err := e.exitVertex(r, src); err != nil {
		return err
	}
	if err := action(); err != nil {
		return err
	}
	// Final/join markers are parked per-region bookkeeping, not globally
	// addressable configuration: a join pseudostate is shared by every
	// sibling region converging on it, so it cannot be keyed once in
	// activeNodes the way an ordinary active vertex is.
	vn := &vertexNode{vertex: marker, owner: r, depth: src.depth}
	r.active = vn
	return e.activateNode(vn)
}

// escalate runs once every sibling region has converged. For a final
// target it unblocks the enclosing state's completion transitions; for a
// join it proceeds through the join's own outgoing edge, which may exit
// and re-enter well outside the orthogonal state entirely.
func (e *Engine) escalate(parent *vertexNode, marker *model.Vertex, isJoin bool) error {
	if !isJoin {
		if parent != nil {
			e.composer.ReleaseCompletion(parent.vertex)
		}
		return nil
	}
	jt := marker.Transitions[0]
	common := e.lowestCommonAncestor(parent, jt.Target)
	if err := e.exitBelow(common); err != nil {
		return err
	}
	e.fireEdge(jt)
	return e.enterTargets(common, jt.Target)
}
