// Package registry provides a capability-indexed lookup over backend
// descriptors.
//
// The registry owns a name→descriptor map and an inverted index
// capability→set(name). The index is always exactly the union of the
// (capability, name) pairs of the registered descriptors. Lookups never fail:
// absence is reported with a false second result, and probe failures are
// treated as unavailability.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/atlas/capability"
)

// Descriptor is the contract a registered backend fulfils.
type Descriptor[C comparable] interface {
	Name() string
	Capabilities() []C
	Supports(c C) bool
	Available(ctx context.Context) (bool, error)
}

// BackendRegistry is the registry used across atlas.
type BackendRegistry = Registry[capability.Capability, capability.Descriptor]

// Option configures a Registry.
type Option func(*settings)

type settings struct {
	probeTimeout time.Duration
	probeLimit   int
}

// WithProbeTimeout bounds every availability probe. Zero disables the bound.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.probeTimeout = d
	}
}

// WithProbeLimit bounds how many probes GetAvailable runs at once.
// Zero or negative means unbounded.
func WithProbeLimit(n int) Option {
	return func(s *settings) {
		s.probeLimit = n
	}
}

// Registry is a generic capability-indexed descriptor registry.
// It is safe for concurrent use; probes run outside the lock.
type Registry[C comparable, D Descriptor[C]] struct {
	mu     sync.RWMutex
	byName map[string]D
	order  []string // registration order
	index  map[C]map[string]struct{}
	cfg    settings
}

// New creates an empty registry.
func New[C comparable, D Descriptor[C]](opts ...Option) *Registry[C, D] {
	r := &Registry[C, D]{
		byName: make(map[string]D),
		index:  make(map[C]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(&r.cfg)
	}
	return r
}

// NewBackendRegistry creates a registry over capability descriptors.
func NewBackendRegistry(opts ...Option) *BackendRegistry {
	return New[capability.Capability, capability.Descriptor](opts...)
}

// Register inserts or replaces a descriptor by name. Last write wins; a
// replaced descriptor keeps its registration slot.
func (r *Registry[C, D]) Register(d D) {
	name := d.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.byName[name]; exists {
		log.Printf("[REGISTRY] Replacing backend %q", name)
		r.unindexLocked(name, old)
	} else {
		r.order = append(r.order, name)
	}

	r.byName[name] = d
	for _, c := range d.Capabilities() {
		set, ok := r.index[c]
		if !ok {
			set = make(map[string]struct{})
			r.index[c] = set
		}
		set[name] = struct{}{}
	}
}

// Unregister removes a descriptor and prunes it from every index entry.
// Returns whether anything was removed.
func (r *Registry[C, D]) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, exists := r.byName[name]
	if !exists {
		return false
	}

	r.unindexLocked(name, d)
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry[C, D]) unindexLocked(name string, d D) {
	for _, c := range d.Capabilities() {
		set := r.index[c]
		delete(set, name)
		if len(set) == 0 {
			delete(r.index, c)
		}
	}
}

// Get returns the descriptor registered under name.
func (r *Registry[C, D]) Get(name string) (D, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// GetFor returns a descriptor indexed under c. Callers must not rely on which
// one is returned when several are eligible.
func (r *Registry[C, D]) GetFor(c C) (D, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.index[c]
	for _, name := range r.order {
		if _, ok := set[name]; ok {
			return r.byName[name], true
		}
	}
	var zero D
	return zero, false
}

// GetAllFor returns every descriptor currently indexed under c.
func (r *Registry[C, D]) GetAllFor(c C) []D {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexedLocked(c)
}

func (r *Registry[C, D]) indexedLocked(c C) []D {
	set := r.index[c]
	if len(set) == 0 {
		return nil
	}
	out := make([]D, 0, len(set))
	for _, name := range r.order {
		if _, ok := set[name]; ok {
			out = append(out, r.byName[name])
		}
	}
	return out
}

// GetAvailableFor walks the descriptors indexed under c in registration order
// and returns the first whose probe reports available. Probes run one at a
// time so a known-bad provider is never hit needlessly.
func (r *Registry[C, D]) GetAvailableFor(ctx context.Context, c C) (D, bool) {
	r.mu.RLock()
	candidates := r.indexedLocked(c)
	r.mu.RUnlock()

	for _, d := range candidates {
		if ctx.Err() != nil {
			break
		}
		if r.probe(ctx, d) {
			return d, true
		}
	}
	var zero D
	return zero, false
}

// GetAvailable probes every descriptor concurrently and returns those that
// reported available, in registration order.
func (r *Registry[C, D]) GetAvailable(ctx context.Context) []D {
	r.mu.RLock()
	all := make([]D, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.byName[name])
	}
	r.mu.RUnlock()

	ok := make([]bool, len(all))
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.probeLimit > 0 {
		g.SetLimit(r.cfg.probeLimit)
	}
	for i, d := range all {
		g.Go(func() error {
			ok[i] = r.probe(gctx, d)
			return nil
		})
	}
	_ = g.Wait()

	var out []D
	for i, d := range all {
		if ok[i] {
			out = append(out, d)
		}
	}
	return out
}

// probe runs one availability check. Errors, panics and timeouts count as
// unavailable.
func (r *Registry[C, D]) probe(ctx context.Context, d D) (available bool) {
	if r.cfg.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.probeTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[REGISTRY] Probe for %q panicked: %v", d.Name(), rec)
			available = false
		}
	}()

	ok, err := d.Available(ctx)
	if err != nil {
		log.Printf("[REGISTRY] Probe for %q failed: %v", d.Name(), err)
		return false
	}
	return ok
}

// HasCapability reports whether any descriptor is indexed under c.
func (r *Registry[C, D]) HasCapability(c C) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index[c]) > 0
}

// Capabilities returns every capability with at least one descriptor.
func (r *Registry[C, D]) Capabilities() []C {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]C, 0, len(r.index))
	for c := range r.index {
		out = append(out, c)
	}
	return out
}

// Names returns registered names in registration order.
func (r *Registry[C, D]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Size returns the number of registered descriptors.
func (r *Registry[C, D]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Clear removes everything.
func (r *Registry[C, D]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]D)
	r.index = make(map[C]map[string]struct{})
	r.order = nil
}

// Replace swaps the whole registry contents for ds in one step. Readers see
// either the old set or the new one, never a partial state. Duplicate names
// keep the last descriptor in the first slot, as with Register.
func (r *Registry[C, D]) Replace(ds ...D) {
	byName := make(map[string]D, len(ds))
	order := make([]string, 0, len(ds))
	index := make(map[C]map[string]struct{})
	for _, d := range ds {
		name := d.Name()
		if old, exists := byName[name]; exists {
			for _, c := range old.Capabilities() {
				delete(index[c], name)
				if len(index[c]) == 0 {
					delete(index, c)
				}
			}
		} else {
			order = append(order, name)
		}
		byName[name] = d
		for _, c := range d.Capabilities() {
			set, ok := index[c]
			if !ok {
				set = make(map[string]struct{})
				index[c] = set
			}
			set[name] = struct{}{}
		}
	}

	r.mu.Lock()
	r.byName, r.order, r.index = byName, order, index
	r.mu.Unlock()
}

func (r *Registry[C, D]) String() string {
	return fmt.Sprintf("registry(%d backends, %d capabilities)", r.Size(), len(r.Capabilities()))
}
