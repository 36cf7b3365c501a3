// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotRegistered is the cause of a [ResolveError] for an unknown identifier.
	ErrNotRegistered = errors.New("not registered")

	// ErrDuplicate is returned when registering an identifier twice.
	ErrDuplicate = errors.New("already registered")

	// ErrEmptyID is returned when registering an empty identifier.
	ErrEmptyID = errors.New("empty id")
)

// A Resolver turns identifiers into steps and conditions.
//
// A flow asks its resolver for a step every time an identifier added with
// [Flow.Chain], [Flow.RunStep] or [Flow.RunIf] is reached, and for a
// condition every time a [Flow.Branch] is reached. Resolved values are not
// cached between executions.
type Resolver[T any] interface {
	ResolveStep(ctx context.Context, id string) (Step[T], error)
	ResolveCondition(ctx context.Context, id string) (Predicate[T], error)
}

// ResolverFuncs adapts a pair of functions to the [Resolver] interface.
// A nil function fails every resolution of its kind with [ErrNotRegistered].
type ResolverFuncs[T any] struct {
	Step      func(ctx context.Context, id string) (Step[T], error)
	Condition func(ctx context.Context, id string) (Predicate[T], error)
}

// ResolveStep calls r.Step.
func (r ResolverFuncs[T]) ResolveStep(ctx context.Context, id string) (Step[T], error) {
	if r.Step == nil {
		return nil, &ResolveError{Kind: KindStep, ID: id, Err: ErrNotRegistered}
	}
	return r.Step(ctx, id)
}

// ResolveCondition calls r.Condition.
func (r ResolverFuncs[T]) ResolveCondition(ctx context.Context, id string) (Predicate[T], error) {
	if r.Condition == nil {
		return nil, &ResolveError{Kind: KindCondition, ID: id, Err: ErrNotRegistered}
	}
	return r.Condition(ctx, id)
}

// ResolveError is returned by a [Registry] that cannot produce a step or
// condition.
type ResolveError struct {
	Kind ResolutionKind
	ID   string
	Err  error
}

// Error returns the formatted error message.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s %q: %v", e.Kind, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Err
}

// A StepFactory constructs a step. It is called on every resolution.
type StepFactory[T any] func(ctx context.Context) (Step[T], error)

// A ConditionFactory constructs a condition. It is called on every resolution.
type ConditionFactory[T any] func(ctx context.Context) (Predicate[T], error)

// Registry is a [Resolver] backed by named factories. It is safe for
// concurrent use.
//
// Example:
//
//	registry := flows.NewRegistry[string]()
//	registry.MustProvideStep("trim", flows.Handler[string](trim))
//	registry.MustProvideCondition("is-empty", flows.If(func(s string) bool { return s == "" }))
//
//	flow := flows.Start[string]().WithResolver(registry).Chain("trim")
type Registry[T any] struct {
	mu         sync.RWMutex
	steps      map[string]StepFactory[T]
	conditions map[string]ConditionFactory[T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		steps:      make(map[string]StepFactory[T]),
		conditions: make(map[string]ConditionFactory[T]),
	}
}

// RegisterStep registers a step factory under id.
func (r *Registry[T]) RegisterStep(id string, factory StepFactory[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return fmt.Errorf("register step: %w", ErrEmptyID)
	}
	if _, ok := r.steps[id]; ok {
		return fmt.Errorf("register step %q: %w", id, ErrDuplicate)
	}
	r.steps[id] = factory
	return nil
}

// RegisterCondition registers a condition factory under id.
func (r *Registry[T]) RegisterCondition(id string, factory ConditionFactory[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return fmt.Errorf("register condition: %w", ErrEmptyID)
	}
	if _, ok := r.conditions[id]; ok {
		return fmt.Errorf("register condition %q: %w", id, ErrDuplicate)
	}
	r.conditions[id] = factory
	return nil
}

// MustRegisterStep is like [Registry.RegisterStep] but panics on error.
func (r *Registry[T]) MustRegisterStep(id string, factory StepFactory[T]) *Registry[T] {
	if err := r.RegisterStep(id, factory); err != nil {
		panic(err)
	}
	return r
}

// ProvideStep registers a step instance under id. The same instance is
// returned on every resolution, so it should be stateless.
func (r *Registry[T]) ProvideStep(id string, step Step[T]) error {
	return r.RegisterStep(id, func(context.Context) (Step[T], error) {
		return step, nil
	})
}

// ProvideCondition registers a condition under id.
func (r *Registry[T]) ProvideCondition(id string, condition Predicate[T]) error {
	return r.RegisterCondition(id, func(context.Context) (Predicate[T], error) {
		return condition, nil
	})
}

// MustProvideStep is like [Registry.ProvideStep] but panics on error.
// It is intended for package-level setup.
func (r *Registry[T]) MustProvideStep(id string, step Step[T]) *Registry[T] {
	if err := r.ProvideStep(id, step); err != nil {
		panic(err)
	}
	return r
}

// MustProvideCondition is like [Registry.ProvideCondition] but panics on error.
func (r *Registry[T]) MustProvideCondition(id string, condition Predicate[T]) *Registry[T] {
	if err := r.ProvideCondition(id, condition); err != nil {
		panic(err)
	}
	return r
}

// ResolveStep implements [Resolver].
func (r *Registry[T]) ResolveStep(ctx context.Context, id string) (Step[T], error) {
	r.mu.RLock()
	factory, ok := r.steps[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &ResolveError{Kind: KindStep, ID: id, Err: ErrNotRegistered}
	}
	step, err := factory(ctx)
	if err != nil {
		return nil, &ResolveError{Kind: KindStep, ID: id, Err: err}
	}
	if step == nil {
		return nil, &ResolveError{Kind: KindStep, ID: id, Err: ErrNilStep}
	}
	return step, nil
}

// ResolveCondition implements [Resolver].
func (r *Registry[T]) ResolveCondition(ctx context.Context, id string) (Predicate[T], error) {
	r.mu.RLock()
	factory, ok := r.conditions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &ResolveError{Kind: KindCondition, ID: id, Err: ErrNotRegistered}
	}
	condition, err := factory(ctx)
	if err != nil {
		return nil, &ResolveError{Kind: KindCondition, ID: id, Err: err}
	}
	if condition == nil {
		return nil, &ResolveError{Kind: KindCondition, ID: id, Err: ErrNilStep}
	}
	return condition, nil
}

// Has reports whether an identifier of the given kind is registered.
func (r *Registry[T]) Has(kind ResolutionKind, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindStep:
		_, ok := r.steps[id]
		return ok
	case KindCondition:
		_, ok := r.conditions[id]
		return ok
	}
	return false
}

// StepIDs returns the registered step identifiers in sorted order.
func (r *Registry[T]) StepIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.steps))
	for id := range r.steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
