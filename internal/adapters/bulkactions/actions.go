// Package bulkactions exposes the selection and bulk execution API over
// HTTP and runs queued executions on a background worker.
package bulkactions

import (
	"context"
	"fmt"
	"sync"

	"selectcore/internal/core"
	"selectcore/pkg/domain"
)

// RecordMutator is the write surface the built-in actions need. The
// in-memory record store satisfies it; external collections supply their
// own adapter.
type RecordMutator interface {
	Get(id domain.RecordID) (domain.Record, bool)
	Put(record domain.Record)
	Delete(id domain.RecordID) bool
}

// ActionFactory builds an executable action from request parameters.
type ActionFactory func(params map[string]any) (core.Action, error)

// Registry maps action kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ActionFactory
}

// NewRegistry returns an empty action registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ActionFactory)}
}

// Register installs a factory under kind, replacing any previous one.
func (r *Registry) Register(kind string, factory ActionFactory) {
	r.mu.Lock()
	r.factories[kind] = factory
	r.mu.Unlock()
}

// Resolve builds the action registered under kind.
func (r *Registry) Resolve(kind string, params map[string]any) (core.Action, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
	return factory(params)
}

// Kinds lists the registered action kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		out = append(out, kind)
	}
	return out
}

// RegisterBuiltinActions installs record.delete and record.tag against the
// given mutator.
func RegisterBuiltinActions(registry *Registry, records RecordMutator) {
	registry.Register("record.delete", func(map[string]any) (core.Action, error) {
		return core.ActionFunc{
			Name: "record.delete",
			Fn: func(_ context.Context, id domain.RecordID) error {
				if !records.Delete(id) {
					return domain.ActionError{Kind: "not_found", Err: fmt.Errorf("record %s not found", id)}
				}
				return nil
			},
		}, nil
	})

	registry.Register("record.tag", func(params map[string]any) (core.Action, error) {
		field, _ := params["field"].(string)
		if field == "" {
			return nil, fmt.Errorf("record.tag requires a %q parameter", "field")
		}
		value, ok := params["value"]
		if !ok {
			return nil, fmt.Errorf("record.tag requires a %q parameter", "value")
		}
		return core.ActionFunc{
			Name: "record.tag",
			Fn: func(_ context.Context, id domain.RecordID) error {
				record, found := records.Get(id)
				if !found {
					return domain.ActionError{Kind: "not_found", Err: fmt.Errorf("record %s not found", id)}
				}
				fields := make(map[string]any, len(record.Fields)+1)
				for k, v := range record.Fields {
					fields[k] = v
				}
				fields[field] = value
				record.Fields = fields
				records.Put(record)
				return nil
			},
		}, nil
	})
}
