package circuit

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry owns the process-wide breaker instances, keyed by dependency
// name. It replaces ad-hoc external state-poking with an explicit reset path.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Register creates (or returns the existing) breaker for name. Thresholds are
// per dependency so that high-volume and sensitive calls can differ.
func (r *Registry) Register(name string, threshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, threshold, recoveryTimeout)
	r.breakers[name] = cb
	return cb
}

func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Reset returns the named breaker to CLOSED. Errors on unknown names so
// operator typos do not silently no-op.
func (r *Registry) Reset(name string) error {
	cb, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("no circuit breaker registered under %q", name)
	}
	cb.Reset()
	return nil
}

// Snapshots returns a stable-ordered view of every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
