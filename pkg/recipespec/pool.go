package recipespec

import "sync"

// Pool is the process-wide append-only arena specs are allocated from.
// Emplacement is serialized by a single mutex; storage never relocates,
// so pointers handed out by New remain valid for the life of the
// process (§3, §9 "appendable, pointer-stable pool of specs").
//
// Grounded on the teacher's pkg/recipe/store.go Store type, generalized
// from a single in-memory measurement slice to an append-only arena of
// owned, pointer-stable Spec allocations.
type Pool struct {
	mu    sync.Mutex
	specs []*Spec
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{}
}

// New allocates a Spec in the pool and returns a stable pointer to it.
// All Spec creation must go through New (§3).
func (p *Pool) New(spec Spec) *Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := new(Spec)
	*s = spec
	p.specs = append(p.specs, s)
	poolSize.Set(float64(len(p.specs)))
	return s
}

// Len reports how many specs have been allocated.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.specs)
}

// All returns a snapshot slice of every spec allocated so far. The
// returned slice is a copy of the pool's index, not of the specs
// themselves, so pointers remain shared.
func (p *Pool) All() []*Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Spec, len(p.specs))
	copy(out, p.specs)
	return out
}
