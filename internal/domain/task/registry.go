package task

import (
	"fmt"
	"sync"
)

// Registry resolves score-function references by name. Functions are not
// serializable; persisted tasks store a reference that is resolved against a
// registry at load time.
type Registry struct {
	mu    sync.RWMutex
	fns   map[string]ScoreFunc
	batch map[string]BatchScoreFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fns:   make(map[string]ScoreFunc),
		batch: make(map[string]BatchScoreFunc),
	}
}

// Register binds a pointwise score function to a name, replacing any
// previous binding.
func (r *Registry) Register(name string, fn ScoreFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// RegisterBatch binds a vectorized score function to a name.
func (r *Registry) RegisterBatch(name string, fn BatchScoreFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch[name] = fn
}

// Lookup resolves a pointwise score reference.
func (r *Registry) Lookup(name string) (ScoreFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScore, name)
	}
	return fn, nil
}

// LookupBatch resolves a vectorized score reference, nil when none is bound.
func (r *Registry) LookupBatch(name string) BatchScoreFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batch[name]
}
