// Package provider turns configured backend specifiers into registered
// descriptors with working clients behind them.
//
// Every distinct specifier in the config becomes one Backend named
// "provider:model" whose capabilities are exactly the capability keys it was
// assigned. Consumers look a backend up by capability in the registry and
// then ask it for the client they need.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/becomeliminal/atlas/capability"
	"github.com/becomeliminal/atlas/memory"
	"github.com/becomeliminal/atlas/registry"
)

// ErrNoBackend is returned when no available backend serves a capability.
var ErrNoBackend = errors.New("no available backend")

// Request is one completion call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int

	// JSON asks the backend for a single JSON object when it supports a
	// dedicated mode.
	JSON bool
}

// Completer produces text completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Backend is a registered descriptor that carries its clients. Clients the
// provider cannot serve are nil.
type Backend struct {
	*capability.Backend

	Spec      string
	Completer Completer
	Embedder  memory.Embedder
	Reranker  memory.Reranker
}

var _ capability.Descriptor = (*Backend)(nil)

// Lookup is the registry surface used by the resolvers.
type Lookup interface {
	GetAvailableFor(ctx context.Context, c capability.Capability) (capability.Descriptor, bool)
}

var _ Lookup = (*registry.BackendRegistry)(nil)

// CompleterFor returns the completion client of the first available backend
// for c, along with the backend's name.
func CompleterFor(ctx context.Context, reg Lookup, c capability.Capability) (Completer, string, error) {
	b, err := backendFor(ctx, reg, c)
	if err != nil {
		return nil, "", err
	}
	if b.Completer == nil {
		return nil, "", fmt.Errorf("%s: backend %s has no completion client", c, b.Name())
	}
	return b.Completer, b.Name(), nil
}

// EmbedderFor returns the embedding client of the first available backend for c.
func EmbedderFor(ctx context.Context, reg Lookup, c capability.Capability) (memory.Embedder, string, error) {
	b, err := backendFor(ctx, reg, c)
	if err != nil {
		return nil, "", err
	}
	if b.Embedder == nil {
		return nil, "", fmt.Errorf("%s: backend %s has no embedding client", c, b.Name())
	}
	return b.Embedder, b.Name(), nil
}

// RerankerFor returns the reranking client of the first available backend for c.
func RerankerFor(ctx context.Context, reg Lookup, c capability.Capability) (memory.Reranker, string, error) {
	b, err := backendFor(ctx, reg, c)
	if err != nil {
		return nil, "", err
	}
	if b.Reranker == nil {
		return nil, "", fmt.Errorf("%s: backend %s has no reranking client", c, b.Name())
	}
	return b.Reranker, b.Name(), nil
}

func backendFor(ctx context.Context, reg Lookup, c capability.Capability) (*Backend, error) {
	d, ok := reg.GetAvailableFor(ctx, c)
	if !ok {
		return nil, fmt.Errorf("%s: %w", c, ErrNoBackend)
	}
	b, ok := d.(*Backend)
	if !ok {
		return nil, fmt.Errorf("%s: descriptor %s carries no client", c, d.Name())
	}
	return b, nil
}
