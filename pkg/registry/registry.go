// Package registry maps node kinds to their executors.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

// ErrUnknownKind is returned by Lookup for kinds without an executor.
var ErrUnknownKind = errors.New("unknown node kind")

// Registry is a closed set of executors keyed by node kind. It is filled
// at construction and read-only afterwards, so it is safe for concurrent
// use.
type Registry struct {
	logger    *slog.Logger
	executors map[models.NodeKind]nodes.Executor
}

// New builds a registry holding every built-in executor.
func New(logger *slog.Logger, deps Dependencies) *Registry {
	r := &Registry{
		logger:    logger.With("module", "registry"),
		executors: make(map[models.NodeKind]nodes.Executor),
	}

	for _, executor := range defaultExecutors(deps) {
		r.register(executor)
	}

	return r
}

// NewWith builds a registry from explicit executors, used by tests that
// stub a kind.
func NewWith(logger *slog.Logger, executors ...nodes.Executor) *Registry {
	r := &Registry{
		logger:    logger.With("module", "registry"),
		executors: make(map[models.NodeKind]nodes.Executor),
	}

	for _, executor := range executors {
		r.register(executor)
	}

	return r
}

func (r *Registry) register(executor nodes.Executor) {
	if _, exists := r.executors[executor.Kind()]; exists {
		r.logger.Warn("replacing executor", "kind", executor.Kind())
	}

	r.executors[executor.Kind()] = executor
}

// Lookup returns the executor for kind.
func (r *Registry) Lookup(kind models.NodeKind) (nodes.Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	return executor, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []models.NodeKind {
	kinds := make([]models.NodeKind, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}

	slices.Sort(kinds)

	return kinds
}

// Descriptor is the public description of one node kind.
type Descriptor struct {
	Kind        models.NodeKind `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      map[string]any  `json:"schema"`
}

// Describe lists every registered kind with its configuration schema.
func (r *Registry) Describe() []Descriptor {
	descriptors := make([]Descriptor, 0, len(r.executors))

	for _, kind := range r.Kinds() {
		executor := r.executors[kind]
		descriptors = append(descriptors, Descriptor{
			Kind:        kind,
			Name:        executor.Name(),
			Description: executor.Description(),
			Schema:      executor.Schema(),
		})
	}

	return descriptors
}
