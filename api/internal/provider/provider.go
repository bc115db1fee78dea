// Package provider defines the adapter contracts for identification and
// health providers and selects implementations by name.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"leafscan/api/internal/provider/types"
)

// Identifier maps one provider's identification API onto types.Identification.
type Identifier interface {
	Name() string
	Identify(ctx context.Context, images []types.Image) (types.Identification, error)
}

// Diagnoser maps one provider's health API onto types.Assessment.
type Diagnoser interface {
	Name() string
	Diagnose(ctx context.Context, images []types.Image) (types.Assessment, error)
}

type Registry struct {
	identifiers map[string]Identifier
	diagnosers  map[string]Diagnoser
	defID       string
	defHealth   string
}

// NewRegistry creates an empty registry. defaultHealth may be empty to
// disable health assessment.
func NewRegistry(defaultIdentifier, defaultHealth string) *Registry {
	return &Registry{
		identifiers: map[string]Identifier{},
		diagnosers:  map[string]Diagnoser{},
		defID:       defaultIdentifier,
		defHealth:   defaultHealth,
	}
}

func (r *Registry) RegisterIdentifier(id Identifier) {
	r.identifiers[id.Name()] = id
}

func (r *Registry) RegisterDiagnoser(d Diagnoser) {
	r.diagnosers[d.Name()] = d
}

// Identifier returns the named adapter, or the default one for "".
func (r *Registry) Identifier(name string) (Identifier, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.defID
	}
	if id, ok := r.identifiers[name]; ok {
		return id, nil
	}
	return nil, &types.ValidationError{
		Message: fmt.Sprintf("Unknown provider %q; use one of: %s.", name, strings.Join(r.IdentifierNames(), ", ")),
	}
}

// Diagnoser returns the configured health adapter. ok is false when health
// assessment is disabled or the adapter was never registered.
func (r *Registry) Diagnoser() (Diagnoser, bool) {
	if r.defHealth == "" {
		return nil, false
	}
	d, ok := r.diagnosers[r.defHealth]
	return d, ok
}

func (r *Registry) IdentifierNames() []string {
	out := make([]string, 0, len(r.identifiers))
	for n := range r.identifiers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
