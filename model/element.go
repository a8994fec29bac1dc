package model

import "github.com/arcflow/hsm/hsmerr"

// Region is an ordered collection of sibling vertices, either the
// top-level region of a StateMachine or one of a composite/orthogonal
// state's regions. Owner is nil for the top-level region.
type Region struct {
	Name     string
	Owner    *Vertex // weak back-reference; nil for the top-level region
	Machine  *StateMachine
	Vertices []*Vertex
}

// Vertex is the tagged union State | Pseudostate | FinalState. Fields
// outside a variant's relevance are left zero.
type Vertex struct {
	Name  string
	Kind  VertexKind
	Owner *Region // weak back-reference to the region this vertex lives in

	// State-only fields.
	Shape       StateShape
	Regions     []*Region // one implicit region for Composite, N for Orthogonal
	SubMachine  *StateMachine
	OnEntry     func() error
	OnExit      func() error
	Transitions []*Transition

	// Pseudostate-only field.
	PseudoKind PseudoKind
}

// IsState reports whether v is a regular (non-pseudo, non-final) state.
func (v *Vertex) IsState() bool { return v.Kind == StateVertex }

// IsPseudostate reports whether v is a pseudostate.
func (v *Vertex) IsPseudostate() bool { return v.Kind == PseudostateVertex }

// IsFinal reports whether v is a final state.
func (v *Vertex) IsFinal() bool { return v.Kind == FinalVertex }

// MakeState creates a declared-simple state vertex, detached from any
// region until attached via Region.WithSubState or Vertex.WithSubState.
func MakeState(name string) *Vertex {
	return &Vertex{Name: name, Kind: StateVertex, Shape: Simple}
}

// MakeFinalState creates a final-state vertex.
func MakeFinalState(name string) *Vertex {
	return &Vertex{Name: name, Kind: FinalVertex}
}

// MakePseudostate creates a pseudostate vertex of the given kind.
func MakePseudostate(kind PseudoKind, name string) *Vertex {
	return &Vertex{Name: name, Kind: PseudostateVertex, PseudoKind: kind}
}

// MakeRegion creates a detached region, to be attached to a state via
// Vertex.WithRegion or used as a StateMachine's top-level region.
func MakeRegion(name string) *Region {
	return &Region{Name: name}
}

func (r *Region) machine() *StateMachine {
	if r.Machine != nil {
		return r.Machine
	}
	return nil
}

func (r *Region) assembled() bool {
	return r.Machine != nil && r.Machine.IsAssembled()
}

func (r *Region) notAllowed(element, elementName, msg string) error {
	name := ""
	if r.Machine != nil {
		name = r.Machine.Name
	}
	return hsmerr.NotAllowed(name, element, elementName, msg)
}

// WithSubState attaches one or more vertices as siblings of this region.
// A vertex already attached elsewhere is rejected, as is a duplicate
// sibling name.
func (r *Region) WithSubState(vs ...*Vertex) error {
	if r.assembled() {
		return r.notAllowed("region", r.Name, "cannot add sub-states after assembly")
	}
	for _, v := range vs {
		if v.Owner != nil {
			return r.notAllowed("vertex", v.Name, "already attached to a region")
		}
		for _, sib := range r.Vertices {
			if sib.Name == v.Name {
				return r.notAllowed("region", r.Name, "sibling name '"+v.Name+"' already present")
			}
		}
	}
	for _, v := range vs {
		v.Owner = r
		propagateMachine(v, r.Machine)
		r.Vertices = append(r.Vertices, v)
	}
	return nil
}

// propagateMachine stamps m (and recursively, its nested regions/vertices)
// with the owning StateMachine, so later assembled()/name() checks work
// without a separate indexing pass.
func propagateMachine(v *Vertex, m *StateMachine) {
	if m == nil {
		return
	}
	for _, r := range v.Regions {
		r.Machine = m
		for _, sub := range r.Vertices {
			propagateMachine(sub, m)
		}
	}
}

// WithSubState promotes a Simple state to Composite (creating one
// implicit region named "<state>.region" if none exists yet) and attaches
// vs to that region.
func (v *Vertex) WithSubState(vs ...*Vertex) error {
	if err := v.checkAssembled(); err != nil {
		return err
	}
	if v.Kind != StateVertex {
		return v.notAllowed("only states may own sub-states")
	}
	if v.Shape == Orthogonal || v.Shape == SubMachine {
		return v.notAllowed("cannot add sub-states to an orthogonal or sub-machine state")
	}
	if len(v.Regions) == 0 {
		region := &Region{Name: v.Name + ".region", Owner: v}
		if v.machine() != nil {
			region.Machine = v.machine()
		}
		v.Regions = []*Region{region}
	}
	v.Shape = Composite
	return v.Regions[0].WithSubState(vs...)
}

// WithRegion promotes v to Orthogonal and appends a new named region,
// returning it for further chaining.
func (v *Vertex) WithRegion(name string) (*Region, error) {
	if err := v.checkAssembled(); err != nil {
		return nil, err
	}
	if v.Kind != StateVertex {
		return nil, v.notAllowed("only states may own regions")
	}
	if v.Shape == SubMachine {
		return nil, v.notAllowed("cannot add a region to a sub-machine state")
	}
	if v.Shape == Composite && len(v.Regions) == 1 && v.Regions[0].Owner == v && v.Regions[0].Name == v.Name+".region" && len(v.Regions[0].Vertices) == 0 {
		// an empty implicit region created speculatively by WithSubState
		// was never actually populated; reclaim it as the first named
		// orthogonal region instead of leaving dead structure behind.
		v.Regions = nil
	} else if v.Shape == Composite {
		return nil, v.notAllowed("cannot mix sub-states and regions on the same state")
	}
	region := &Region{Name: name, Owner: v, Machine: v.machine()}
	v.Regions = append(v.Regions, region)
	v.Shape = Orthogonal
	return region, nil
}

// WithStateMachine promotes v to SubMachine, embedding sub as the single
// nested machine. A SubMachine may not also carry sub-states or
// additional regions.
func (v *Vertex) WithStateMachine(sub *StateMachine) error {
	if err := v.checkAssembled(); err != nil {
		return err
	}
	if v.Kind != StateVertex {
		return v.notAllowed("only states may own a sub-machine")
	}
	if v.Shape != Simple {
		return v.notAllowed("a sub-machine state may not combine with sub-states or regions")
	}
	if sub.IsAssembled() {
		return v.notAllowed("cannot embed an already-assembled state machine")
	}
	v.Shape = SubMachine
	v.SubMachine = sub
	v.Regions = []*Region{sub.Top}
	sub.Top.Owner = v
	return nil
}

// WithOnEntry sets the entry behavior exactly once. fn's error return
// propagates as the engine output's error, terminating the machine (§7).
func (v *Vertex) WithOnEntry(fn func() error) error {
	if err := v.checkAssembled(); err != nil {
		return err
	}
	if v.OnEntry != nil {
		return v.notAllowed("entry behavior already set")
	}
	v.OnEntry = fn
	return nil
}

// WithOnExit sets the exit behavior exactly once. fn's error return
// propagates as the engine output's error, terminating the machine (§7).
func (v *Vertex) WithOnExit(fn func() error) error {
	if err := v.checkAssembled(); err != nil {
		return err
	}
	if v.OnExit != nil {
		return v.notAllowed("exit behavior already set")
	}
	v.OnExit = fn
	return nil
}

func (v *Vertex) machine() *StateMachine {
	if v.Owner != nil {
		return v.Owner.Machine
	}
	return nil
}

func (v *Vertex) checkAssembled() error {
	if m := v.machine(); m != nil && m.IsAssembled() {
		return v.notAllowed("cannot mutate after assembly")
	}
	return nil
}

func (v *Vertex) notAllowed(msg string) error {
	name := ""
	if m := v.machine(); m != nil {
		name = m.Name
	}
	return hsmerr.NotAllowed(name, v.Kind.String(), v.Name, msg)
}
