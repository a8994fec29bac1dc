// Package validate implements the structural, assembly-time validator
// (§4.2): it enforces the per-pseudostate-kind rules table, the
// per-state region rules, and computes the ancestor map, the
// join-pseudostate incoming-edge map, and the set of transition target
// vertices that the engine and composer rely on afterward.
package validate

import (
	"fmt"

	"github.com/arcflow/hsm/hsmerr"
	"github.com/arcflow/hsm/model"
)

// Info is the validator's output, consumed by packages compose and
// engine.
type Info struct {
	// Ancestors maps a vertex to its outermost-first list of enclosing
	// states.
	Ancestors map[*model.Vertex][]*model.Vertex
	// JoinSources maps a join pseudostate to the source vertices of its
	// incoming edges.
	JoinSources map[*model.Vertex][]*model.Vertex
	// TargetStates is the set of vertices referenced by any transition's
	// target.
	TargetStates map[*model.Vertex]bool
}

// Validate runs every rule in §4.2 against sm, which must not yet be
// assembled. On success it returns the computed Info; on the first rule
// violation it returns a *hsmerr.Error of kind not_allowed.
func Validate(sm *model.StateMachine) (*Info, error) {
	if sm.IsAssembled() {
		return nil, hsmerr.NotAllowed(sm.Name, "state_machine", sm.Name, "already assembled")
	}
	if sm.Top.Owner != nil {
		return nil, hsmerr.NotAllowed(sm.Name, "state_machine", sm.Name, "is embedded as a sub-machine and cannot be assembled on its own")
	}
	if len(sm.Top.Vertices) == 0 {
		return nil, hsmerr.NotAllowed(sm.Name, "state_machine", sm.Name, "requires at least one top-level sub-state")
	}

	vertices := sm.AllVertices()
	info := &Info{
		Ancestors:    map[*model.Vertex][]*model.Vertex{},
		JoinSources:  map[*model.Vertex][]*model.Vertex{},
		TargetStates: map[*model.Vertex]bool{},
	}

	owned := map[*model.Vertex]bool{}
	for _, v := range vertices {
		owned[v] = true
	}

	incoming := map[*model.Vertex][]*model.Vertex{} // target -> source vertices
	for _, v := range vertices {
		info.Ancestors[v] = ancestorsOf(v)
		for _, t := range v.Transitions {
			if t.Target != nil {
				if !owned[t.Target] {
					return nil, notAllowed(sm, "transition", t.Name, "target does not belong to the same top-level state machine")
				}
				info.TargetStates[t.Target] = true
				incoming[t.Target] = append(incoming[t.Target], v)
			}
		}
	}

	if !hasTopLevelInitial(sm) {
		return nil, hsmerr.NotAllowed(sm.Name, "state_machine", sm.Name, "requires exactly one top-level initial pseudostate")
	}

	regionsSeen := map[*model.Region]bool{}
	for _, v := range vertices {
		for _, r := range v.Regions {
			if err := validateRegionPseudostateCounts(sm, r, regionsSeen); err != nil {
				return nil, err
			}
		}
	}
	if err := validateRegionPseudostateCounts(sm, sm.Top, regionsSeen); err != nil {
		return nil, err
	}

	for _, v := range vertices {
		if v.Kind != model.PseudostateVertex {
			continue
		}
		if err := validatePseudostate(sm, v, incoming[v], info); err != nil {
			return nil, err
		}
	}

	for v := range info.TargetStates {
		if v.Kind != model.StateVertex || (v.Shape != model.Composite && v.Shape != model.Orthogonal) {
			continue
		}
		for _, r := range v.Regions {
			if err := validateTargetableRegion(sm, v, r); err != nil {
				return nil, err
			}
		}
	}

	if err := validateOrthogonalEntry(sm, vertices); err != nil {
		return nil, err
	}

	return info, nil
}

func ancestorsOf(v *model.Vertex) []*model.Vertex {
	var chain []*model.Vertex
	r := v.Owner
	for r != nil && r.Owner != nil {
		chain = append(chain, r.Owner)
		r = r.Owner.Owner
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func hasTopLevelInitial(sm *model.StateMachine) bool {
	for _, v := range sm.Top.Vertices {
		if v.Kind == model.PseudostateVertex && v.PseudoKind == model.Initial {
			return true
		}
	}
	return false
}

func validateRegionPseudostateCounts(sm *model.StateMachine, r *model.Region, seen map[*model.Region]bool) error {
	if seen[r] {
		return nil
	}
	seen[r] = true
	var initials, shallow, deep int
	for _, v := range r.Vertices {
		if v.Kind != model.PseudostateVertex {
			continue
		}
		switch v.PseudoKind {
		case model.Initial:
			initials++
		case model.ShallowHistory:
			shallow++
		case model.DeepHistory:
			deep++
		}
	}
	if initials > 1 {
		return notAllowed(sm, "region", r.Name, "at most one initial pseudostate per region")
	}
	if shallow > 1 {
		return notAllowed(sm, "region", r.Name, "at most one shallow_history pseudostate per region")
	}
	if deep > 1 {
		return notAllowed(sm, "region", r.Name, "at most one deep_history pseudostate per region")
	}
	return nil
}

func validateTargetableRegion(sm *model.StateMachine, owner *model.Vertex, r *model.Region) error {
	hasInitial, hasRegular := false, false
	for _, v := range r.Vertices {
		if v.Kind == model.PseudostateVertex && v.PseudoKind == model.Initial {
			hasInitial = true
		}
		if v.Kind == model.StateVertex {
			hasRegular = true
		}
	}
	if !hasInitial {
		return notAllowed(sm, owner.Kind.String(), owner.Name, fmt.Sprintf("region '%s' is targetable but has no initial pseudostate", r.Name))
	}
	if !hasRegular {
		return notAllowed(sm, owner.Kind.String(), owner.Name, fmt.Sprintf("region '%s' is targetable but has no regular state", r.Name))
	}
	return nil
}

// validateOrthogonalEntry enforces that a sub-state of an orthogonal
// state's region is only targeted, from outside that region (including
// from a sibling region), by a fork pseudostate's outgoing edge.
func validateOrthogonalEntry(sm *model.StateMachine, vertices []*model.Vertex) error {
	for _, v := range vertices {
		for _, t := range v.Transitions {
			if t.Target == nil {
				continue
			}
			tr := t.Target.Owner
			if tr == nil || tr.Owner == nil || tr.Owner.Shape != model.Orthogonal {
				continue
			}
			orth := tr.Owner
			if within(v, tr) {
				continue
			}
			if v.Kind == model.PseudostateVertex && v.PseudoKind == model.Fork {
				continue
			}
			return notAllowed(sm, "transition", t.Name, fmt.Sprintf("enters region '%s' of orthogonal state '%s' without going through a fork", tr.Name, orth.Name))
		}
	}
	return nil
}

// within reports whether v lives in region, directly or nested
// transitively inside one of its states.
func within(v *model.Vertex, region *model.Region) bool {
	r := v.Owner
	for r != nil {
		if r == region {
			return true
		}
		if r.Owner == nil {
			return false
		}
		r = r.Owner.Owner
	}
	return false
}

func notAllowed(sm *model.StateMachine, element, name, msg string) error {
	return hsmerr.NotAllowed(sm.Name, element, name, msg)
}
