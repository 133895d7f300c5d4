package capability

import (
	"context"
)

// Descriptor identifies one concrete backend instance, e.g. "anthropic:haiku".
//
// Implementations must keep Supports and Capabilities consistent:
// Supports(c) is true iff c is in Capabilities(). Availability is probed on
// demand and is not cached by the descriptor.
type Descriptor interface {
	// Name is unique within a registry.
	Name() string

	// Capabilities returns the advertised capability set (sorted copy).
	Capabilities() []Capability

	// Supports reports membership in the capability set.
	Supports(c Capability) bool

	// Available probes the backend. An error is treated as unavailable by callers.
	Available(ctx context.Context) (bool, error)
}

// ProbeFunc checks whether a backend can currently serve requests.
type ProbeFunc func(ctx context.Context) (bool, error)

// Backend is the immutable Descriptor used for every configured provider.
type Backend struct {
	name  string
	caps  map[Capability]struct{}
	probe ProbeFunc
}

// NewBackend creates a descriptor. A nil probe always reports available.
func NewBackend(name string, caps []Capability, probe ProbeFunc) *Backend {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return &Backend{name: name, caps: set, probe: probe}
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Capabilities() []Capability {
	out := make([]Capability, 0, len(b.caps))
	for c := range b.caps {
		out = append(out, c)
	}
	Sort(out)
	return out
}

func (b *Backend) Supports(c Capability) bool {
	_, ok := b.caps[c]
	return ok
}

func (b *Backend) Available(ctx context.Context) (bool, error) {
	if b.probe == nil {
		return true, nil
	}
	return b.probe(ctx)
}

// Static returns a ProbeFunc with a fixed answer.
func Static(available bool) ProbeFunc {
	return func(context.Context) (bool, error) {
		return available, nil
	}
}
