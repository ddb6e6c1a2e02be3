package tools

import (
	"context"
	"fmt"
)

// Source resolves a tool identifier. It returns (nil, nil) when the id is
// not one it knows about, so the next source can try.
type Source interface {
	Lookup(ctx context.Context, orgID, id string) (*Tool, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, orgID, id string) (*Tool, error)

// Lookup implements Source.
func (f SourceFunc) Lookup(ctx context.Context, orgID, id string) (*Tool, error) {
	return f(ctx, orgID, id)
}

// Catalog is a fixed set of built-in tools keyed by registry name.
type Catalog map[string]*Tool

// Lookup implements Source.
func (c Catalog) Lookup(_ context.Context, _ string, id string) (*Tool, error) {
	return c[id], nil
}

// Resolver turns a list of tool identifiers (registry names, stored tool
// record ids, integration tool names) into a registry.
type Resolver struct {
	sources []Source
}

// NewResolver consults sources in order.
func NewResolver(sources ...Source) *Resolver {
	return &Resolver{sources: sources}
}

// Resolve builds a registry for ids. Unknown ids fail the whole call with
// a *NotFoundError listing every unresolved id.
func (r *Resolver) Resolve(ctx context.Context, orgID string, ids []string) (*ToolRegistry, error) {
	reg := NewToolRegistry()
	seen := make(map[string]bool, len(ids))
	var missing []string

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		tool, err := r.lookup(ctx, orgID, id)
		if err != nil {
			return nil, fmt.Errorf("resolve tool %s: %w", id, err)
		}
		if tool == nil {
			missing = append(missing, id)
			continue
		}
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}

	if len(missing) > 0 {
		return nil, &NotFoundError{IDs: missing}
	}
	return reg, nil
}

func (r *Resolver) lookup(ctx context.Context, orgID, id string) (*Tool, error) {
	for _, s := range r.sources {
		t, err := s.Lookup(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}
