package model

import "sync"

// StateMachine is the top-level region plus assembly-state bookkeeping.
// Elements under it are mutable only until MarkAssembled is called, which
// every structural builder method on Region/Vertex checks via
// IsAssembled.
type StateMachine struct {
	Name string
	Top  *Region

	mu        sync.RWMutex
	assembled bool
}

// MakeStateMachine creates a fresh, unassembled state machine with an
// empty top-level region.
func MakeStateMachine(name string) *StateMachine {
	sm := &StateMachine{Name: name}
	sm.Top = &Region{Name: name + ".top", Machine: sm}
	return sm
}

// IsAssembled reports whether assemble has already run on this machine.
func (sm *StateMachine) IsAssembled() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.assembled
}

// MarkAssembled freezes the machine. It does not itself reject
// re-assembly (a second call is a no-op): validate.Validate, which
// engine.Assemble runs first, rejects an already-assembled machine with
// not_allowed.
func (sm *StateMachine) MarkAssembled() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.assembled = true
}

// WithSubState attaches top-level sub-states, delegating to the top
// region.
func (sm *StateMachine) WithSubState(vs ...*Vertex) error {
	return sm.Top.WithSubState(vs...)
}

// AllVertices returns every vertex in the machine in a stable
// depth-first, region-declaration-order walk, including vertices nested
// inside sub-machines.
func (sm *StateMachine) AllVertices() []*Vertex {
	var out []*Vertex
	var walkRegion func(*Region)
	var walkVertex func(*Vertex)
	walkVertex = func(v *Vertex) {
		out = append(out, v)
		for _, r := range v.Regions {
			walkRegion(r)
		}
	}
	walkRegion = func(r *Region) {
		for _, v := range r.Vertices {
			walkVertex(v)
		}
	}
	walkRegion(sm.Top)
	return out
}
