package engine

import (
	"sort"

	"github.com/arcflow/hsm/model"
)

// exitBelow exits every configuration node strictly beneath common (nil
// meaning the machine root), innermost first, per §4.4.2. common itself is
// left active; its child regions are emptied.
func (e *Engine) exitBelow(common *vertexNode) error {
	var regions []*regionNode
	if common == nil {
		regions = []*regionNode{e.root}
	} else {
		regions = common.children
	}
	var nodes []*vertexNode
	collectDescendants(regions, &nodes)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].depth > nodes[j].depth })
	// Leaf sets are taken before anything exits: exiting a node clears its
	// region's active slot, after which leavesOf on an enclosing node would
	// stop at that enclosing node.
	leaves := make(map[*vertexNode][]*model.Vertex, len(nodes))
	for _, n := range nodes {
		leaves[n] = leavesOf(n)
	}
	for _, n := range nodes {
		err := e.exitVertex(n.owner, n)
		if rec := e.history[n.owner.region]; rec != nil && rec.deep != nil {
			rec.deep = leaves[n]
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// collectDescendants appends every active vertex under regions to out in
// post-order: each branch's own descendants are appended before the
// branch's own node, branches in region declaration order.
func collectDescendants(regions []*regionNode, out *[]*vertexNode) {
	for _, r := range regions {
		if r.active == nil {
			continue
		}
		v := r.active
		collectDescendants(v.children, out)
		*out = append(*out, v)
	}
}

// exitVertex runs v's exit behavior (eagerly running entry first if it was
// never entered, per the deferred-entry idempotency rule), captures
// history for its owning region, and tears down its subtree lifetime. The
// first error or panic from either body is returned after bookkeeping has
// still run to completion, so the machine fails but does not leave stale
// entries behind in activeNodes/history.
func (e *Engine) exitVertex(r *regionNode, v *vertexNode) error {
	var firstErr error
	if !v.entered {
		v.entered = true
		if v.vertex.OnEntry != nil {
			firstErr = safeRun(v.vertex.OnEntry)
		}
	}
	if firstErr == nil && v.vertex.OnExit != nil {
		firstErr = safeRun(v.vertex.OnExit)
	}
	e.captureHistory(r, v)
	if v.lifetime != nil {
		v.lifetime.Cancel()
	}
	if r.active == v {
		r.active = nil
	}
	delete(e.activeNodes, v.vertex)
	return firstErr
}

func (e *Engine) captureHistory(r *regionNode, v *vertexNode) {
	for _, p := range r.region.Vertices {
		if p.Kind != model.PseudostateVertex {
			continue
		}
		rec := e.history[r.region]
		if rec == nil {
			rec = &historyRecord{}
			e.history[r.region] = rec
		}
		switch p.PseudoKind {
		case model.ShallowHistory:
			rec.shallow = v.vertex
		case model.DeepHistory:
			rec.deep = leavesOf(v)
		}
	}
}

// leavesOf returns every leaf active vertex transitively under v: v itself
// if it owns no active sub-regions, else the union of leavesOf across each
// of v's active child regions.
func leavesOf(v *vertexNode) []*model.Vertex {
	if len(v.children) == 0 {
		return []*model.Vertex{v.vertex}
	}
	var out []*model.Vertex
	for _, c := range v.children {
		if c.active != nil {
			out = append(out, leavesOf(c.active)...)
		}
	}
	if len(out) == 0 {
		return []*model.Vertex{v.vertex}
	}
	return out
}
