package validate

import (
	"fmt"

	"github.com/arcflow/hsm/model"
)

// validatePseudostate enforces the per-kind rules table of §4.2 for a
// single pseudostate p, given its precomputed incoming edges (source
// vertices of transitions that target p).
func validatePseudostate(sm *model.StateMachine, p *model.Vertex, incoming []*model.Vertex, info *Info) error {
	switch p.PseudoKind {
	case model.Initial:
		return validateInitial(sm, p, incoming)
	case model.Terminate:
		return validateTerminate(sm, p, incoming)
	case model.EntryPoint:
		return validateEntryOrExitPoint(sm, p, true)
	case model.ExitPoint:
		return validateEntryOrExitPoint(sm, p, false)
	case model.Choice, model.Junction:
		return validateChoiceOrJunction(sm, p, incoming)
	case model.Fork:
		return validateFork(sm, p, incoming)
	case model.Join:
		return validateJoin(sm, p, incoming, info)
	case model.ShallowHistory, model.DeepHistory:
		return validateHistory(sm, p)
	default:
		return nil
	}
}

func validateInitial(sm *model.StateMachine, p *model.Vertex, incoming []*model.Vertex) error {
	if len(incoming) != 0 {
		return notAllowed(sm, "pseudostate", p.Name, "initial pseudostate may not have incoming transitions")
	}
	if len(p.Transitions) != 1 {
		return notAllowed(sm, "pseudostate", p.Name, "initial pseudostate must have exactly one outgoing transition")
	}
	t := p.Transitions[0]
	if t.Guarded {
		return notAllowed(sm, "pseudostate", p.Name, "initial pseudostate's outgoing transition must be unguarded")
	}
	if t.Target == nil || t.Target.Owner != p.Owner {
		return notAllowed(sm, "pseudostate", p.Name, "initial pseudostate must target a sibling in the same region")
	}
	if t.Target.Kind == model.PseudostateVertex {
		return notAllowed(sm, "pseudostate", p.Name, "initial pseudostate may not target another pseudostate")
	}
	return nil
}

func validateTerminate(sm *model.StateMachine, p *model.Vertex, incoming []*model.Vertex) error {
	if len(p.Transitions) != 0 {
		return notAllowed(sm, "pseudostate", p.Name, "terminate pseudostate may not have outgoing transitions")
	}
	return nil
}

func validateEntryOrExitPoint(sm *model.StateMachine, p *model.Vertex, isEntry bool) error {
	label := "entry_point"
	if !isEntry {
		label = "exit_point"
	}
	owningState := p.Owner.Owner
	if owningState == nil || (owningState.Shape != model.Composite && owningState.Shape != model.SubMachine) {
		return notAllowed(sm, "pseudostate", p.Name, label+" must be owned by a composite or sub-machine state")
	}
	if len(p.Transitions) != 1 {
		return notAllowed(sm, "pseudostate", p.Name, label+" must have exactly one outgoing transition")
	}
	t := p.Transitions[0]
	if t.Guarded {
		return notAllowed(sm, "pseudostate", p.Name, label+"'s outgoing transition must be unguarded")
	}
	if isEntry {
		if t.Target == nil || t.Target.Owner != p.Owner {
			return notAllowed(sm, "pseudostate", p.Name, "entry_point must target a vertex in the owning state's region")
		}
	} else {
		if t.Target == nil || owningState.Owner == nil || t.Target.Owner != owningState.Owner || t.Target.Owner == p.Owner {
			return notAllowed(sm, "pseudostate", p.Name, "exit_point must target a vertex in the parent state's enclosing region, outside its own region")
		}
	}
	return nil
}

func validateChoiceOrJunction(sm *model.StateMachine, p *model.Vertex, incoming []*model.Vertex) error {
	label := p.PseudoKind.String()
	if len(incoming) < 1 {
		return notAllowed(sm, "pseudostate", p.Name, label+" requires at least one incoming transition")
	}
	if len(p.Transitions) < 1 {
		return notAllowed(sm, "pseudostate", p.Name, label+" requires at least one outgoing transition")
	}
	unguarded := 0
	for _, t := range p.Transitions {
		if !t.Guarded {
			unguarded++
		}
	}
	if unguarded != 1 {
		return notAllowed(sm, "pseudostate", p.Name, fmt.Sprintf("%s requires exactly one unguarded default outgoing transition, found %d", label, unguarded))
	}
	return nil
}

func validateFork(sm *model.StateMachine, p *model.Vertex, incoming []*model.Vertex) error {
	if len(incoming) < 1 {
		return notAllowed(sm, "pseudostate", p.Name, "fork requires at least one incoming transition")
	}
	if len(p.Transitions) < 2 {
		return notAllowed(sm, "pseudostate", p.Name, "fork requires at least two outgoing transitions")
	}
	var orth *model.Vertex
	regions := map[*model.Region]bool{}
	for _, t := range p.Transitions {
		if t.Guarded {
			return notAllowed(sm, "pseudostate", p.Name, "fork's outgoing transitions must be unguarded")
		}
		if t.Target == nil || t.Target.Owner == nil || t.Target.Owner.Owner == nil {
			return notAllowed(sm, "pseudostate", p.Name, "fork's outgoing targets must live in a region of an orthogonal state")
		}
		state := t.Target.Owner.Owner
		if state.Shape != model.Orthogonal {
			return notAllowed(sm, "pseudostate", p.Name, "fork's outgoing targets must live in an orthogonal state's region")
		}
		if orth == nil {
			orth = state
		} else if orth != state {
			return notAllowed(sm, "pseudostate", p.Name, "fork's outgoing targets must all belong to the same orthogonal state")
		}
		if regions[t.Target.Owner] {
			return notAllowed(sm, "pseudostate", p.Name, "fork's outgoing targets must each land in a distinct region")
		}
		regions[t.Target.Owner] = true
	}
	if len(regions) != len(orth.Regions) {
		return notAllowed(sm, "pseudostate", p.Name, "fork must cover every region of its orthogonal state")
	}
	return nil
}

func validateJoin(sm *model.StateMachine, p *model.Vertex, incoming []*model.Vertex, info *Info) error {
	if len(incoming) < 2 {
		return notAllowed(sm, "pseudostate", p.Name, "join requires at least two incoming transitions")
	}
	if len(p.Transitions) != 1 {
		return notAllowed(sm, "pseudostate", p.Name, "join requires exactly one outgoing transition")
	}
	var orth *model.Vertex
	regions := map[*model.Region]bool{}
	for _, src := range incoming {
		if src.Owner == nil || src.Owner.Owner == nil {
			return notAllowed(sm, "pseudostate", p.Name, "join's incoming sources must live in a region of an orthogonal state")
		}
		state := src.Owner.Owner
		if state.Shape != model.Orthogonal {
			return notAllowed(sm, "pseudostate", p.Name, "join's incoming sources must live in an orthogonal state's region")
		}
		if orth == nil {
			orth = state
		} else if orth != state {
			return notAllowed(sm, "pseudostate", p.Name, "join's incoming sources must all belong to the same orthogonal state")
		}
		if regions[src.Owner] {
			return notAllowed(sm, "pseudostate", p.Name, "join's incoming sources must each come from a distinct region")
		}
		regions[src.Owner] = true
	}
	if len(regions) != len(orth.Regions) {
		return notAllowed(sm, "pseudostate", p.Name, "join must cover every region of its orthogonal state")
	}
	info.JoinSources[p] = append([]*model.Vertex(nil), incoming...)
	return nil
}

func validateHistory(sm *model.StateMachine, p *model.Vertex) error {
	owningState := p.Owner.Owner
	if owningState == nil || (owningState.Shape != model.Composite && owningState.Shape != model.Orthogonal && owningState.Shape != model.SubMachine) {
		return notAllowed(sm, "pseudostate", p.Name, p.PseudoKind.String()+" must be owned by a composite, orthogonal, or sub-machine state")
	}
	if len(p.Transitions) > 1 {
		return notAllowed(sm, "pseudostate", p.Name, p.PseudoKind.String()+" may have at most one outgoing transition")
	}
	if len(p.Transitions) == 1 {
		t := p.Transitions[0]
		if t.Guarded {
			return notAllowed(sm, "pseudostate", p.Name, p.PseudoKind.String()+"'s default outgoing transition must be unguarded")
		}
		if t.Target == nil || t.Target.Owner != p.Owner {
			return notAllowed(sm, "pseudostate", p.Name, p.PseudoKind.String()+"'s default must target a vertex in the same region")
		}
	}
	return nil
}
