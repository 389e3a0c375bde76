// Package strategy resolves optimizable strategies by id and their parameter
// schemas, optionally narrowed by a YAML override document.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// Registry maps strategy ids to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]backtest.StrategyFactory
}

// NewRegistry creates a registry with the built-in strategies registered
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]backtest.StrategyFactory)}
	r.factories[backtest.TrailMAStrategyID] = backtest.NewTrailMAStrategy
	return r
}

// Register adds a strategy factory. Ids must be unique.
func (r *Registry) Register(id string, factory backtest.StrategyFactory) error {
	if id == "" {
		return fmt.Errorf("strategy id is required")
	}
	if factory == nil {
		return fmt.Errorf("strategy %s: factory cannot be nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("strategy %s is already registered", id)
	}
	r.factories[id] = factory

	log.Debug().Str("strategy", id).Msg("Strategy registered")
	return nil
}

// Get returns a new instance of the strategy
func (r *Registry) Get(id string) (backtest.Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown strategy: %s (available: %v)", id, r.IDs())
	}
	return factory(), nil
}

// IDs returns the registered strategy ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Schema returns the parameter schema of a strategy with the overrides in
// overridesPath applied. An empty path returns the strategy defaults.
//
// Every worker process calls Schema with the same inputs, so the result must
// only depend on the registry and the file content.
func (r *Registry) Schema(id, overridesPath string) ([]*backtest.Parameter, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	base := s.Schema()
	if overridesPath == "" {
		return CloneSchema(base), nil
	}

	doc, err := ImportFromFile(overridesPath)
	if err != nil {
		return nil, err
	}
	if doc.Strategy != "" && doc.Strategy != id {
		return nil, fmt.Errorf("schema file %s targets strategy %s, not %s", overridesPath, doc.Strategy, id)
	}

	params, err := doc.Apply(base)
	if err != nil {
		return nil, fmt.Errorf("failed to apply schema overrides from %s: %w", overridesPath, err)
	}

	log.Info().
		Str("strategy", id).
		Str("schema_file", overridesPath).
		Int("overrides", len(doc.Parameters)).
		Msg("Applied schema overrides")

	return params, nil
}

// CloneSchema deep-copies a parameter schema
func CloneSchema(schema []*backtest.Parameter) []*backtest.Parameter {
	out := make([]*backtest.Parameter, len(schema))
	for i, p := range schema {
		c := *p
		if p.Values != nil {
			c.Values = append([]string(nil), p.Values...)
		}
		if p.OptMin != nil {
			v := *p.OptMin
			c.OptMin = &v
		}
		if p.OptMax != nil {
			v := *p.OptMax
			c.OptMax = &v
		}
		out[i] = &c
	}
	return out
}
