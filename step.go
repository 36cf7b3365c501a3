// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
)

// Next is the continuation handed to every step. Calling it runs the rest
// of the flow with the given payload and returns whatever the rest of the
// flow returns.
type Next[T any] = func(context.Context, T) (T, error)

// A Step is a unit of work in a [Flow].
//
// Handle receives the current payload and the continuation. It may transform
// the payload and pass it on by calling next, or return without calling next
// to short-circuit the remainder of the flow. Whatever Handle returns becomes
// the result seen by the step before it.
//
// Steps should call next at most once. Calling it more than once re-runs the
// remainder of the flow.
type Step[T any] interface {
	Handle(ctx context.Context, payload T, next Next[T]) (T, error)
}

// Handler adapts an ordinary function to the [Step] interface.
//
// Example:
//
//	appendFoo := flows.Handler[string](func(ctx context.Context, s string, next flows.Next[string]) (string, error) {
//	    return next(ctx, s+" foo")
//	})
type Handler[T any] func(ctx context.Context, payload T, next Next[T]) (T, error)

// Handle calls h(ctx, payload, next).
func (h Handler[T]) Handle(ctx context.Context, payload T, next Next[T]) (T, error) {
	return h(ctx, payload, next)
}

// A Transform is a plain, failable payload transformation. Transforms added
// with [Flow.Apply] always continue to the next step with their output.
type Transform[T any] = func(context.Context, T) (T, error)

// An ErrorHandler recovers from a failure raised downstream of a
// [Flow.Catch] step.
//
// It receives the failure and the payload as it was when the catch step was
// entered. Its return values replace the failure. Returning a non-nil error
// propagates that error instead.
type ErrorHandler[T any] = func(ctx context.Context, err error, payload T) (T, error)

// identity is the terminal continuation of a top-level execution.
func identity[T any](_ context.Context, payload T) (T, error) {
	return payload, nil
}

// Generic step names used when a step carries no identifier of its own.
const (
	closureName   = "<closure>"
	transformName = "<transform>"
	stepName      = "<step>"
	catchName     = "<catch>"
	flowName      = "<flow>"
)

// descriptor is one appended entry of a flow's step list.
type descriptor[T any] interface {
	name() string
	invoke(ctx context.Context, ex *execution[T], payload T, next Next[T]) (T, error)
}

// inlineStep is a closure added with Run.
type inlineStep[T any] struct {
	handler Handler[T]
}

func (s inlineStep[T]) name() string { return closureName }

func (s inlineStep[T]) invoke(ctx context.Context, _ *execution[T], payload T, next Next[T]) (T, error) {
	return s.handler(ctx, payload, next)
}

// instanceStep is an already-constructed Step added with Use or Include.
type instanceStep[T any] struct {
	step Step[T]
}

func (s instanceStep[T]) name() string {
	switch step := s.step.(type) {
	case interface{ StepName() string }:
		return step.StepName()
	case *Flow[T]:
		return flowName
	default:
		return stepName
	}
}

func (s instanceStep[T]) invoke(ctx context.Context, _ *execution[T], payload T, next Next[T]) (T, error) {
	return s.step.Handle(ctx, payload, next)
}

// transformStep is a plain function added with Apply.
type transformStep[T any] struct {
	fn Transform[T]
}

func (s transformStep[T]) name() string { return transformName }

func (s transformStep[T]) invoke(ctx context.Context, _ *execution[T], payload T, next Next[T]) (T, error) {
	out, err := s.fn(ctx, payload)
	if err != nil {
		var zero T
		return zero, err
	}
	return next(ctx, out)
}

// resolvableStep is an identifier added with Chain or RunStep. It is
// resolved every time it is reached.
type resolvableStep[T any] struct {
	id string
}

func (s resolvableStep[T]) name() string { return s.id }

func (s resolvableStep[T]) invoke(ctx context.Context, ex *execution[T], payload T, next Next[T]) (T, error) {
	step, err := ex.resolveStep(ctx, s.id)
	if err != nil {
		var zero T
		return zero, err
	}
	return step.Handle(ctx, payload, next)
}

// branchStep optionally replaces the payload and always continues.
type branchStep[T any] struct {
	conditionID string
	callback    func(T) T
}

func (s branchStep[T]) name() string { return s.conditionID }

func (s branchStep[T]) invoke(ctx context.Context, ex *execution[T], payload T, next Next[T]) (T, error) {
	var zero T
	condition, err := ex.resolveCondition(ctx, s.conditionID)
	if err != nil {
		return zero, err
	}
	ok, err := condition(ctx, payload)
	if err != nil {
		return zero, err
	}
	if ok {
		payload = s.callback(payload)
	}
	return next(ctx, payload)
}

// guardStep hands control to a resolved step only when its condition holds.
type guardStep[T any] struct {
	condition Predicate[T]
	actionID  string
}

func (s guardStep[T]) name() string { return s.actionID }

func (s guardStep[T]) invoke(ctx context.Context, ex *execution[T], payload T, next Next[T]) (T, error) {
	var zero T
	ok, err := s.condition(ctx, payload)
	if err != nil {
		return zero, err
	}
	if !ok {
		return next(ctx, payload)
	}
	step, err := ex.resolveStep(ctx, s.actionID)
	if err != nil {
		return zero, err
	}
	return step.Handle(ctx, payload, next)
}

// catchStep runs the rest of the flow inside a failure boundary.
type catchStep[T any] struct {
	handler ErrorHandler[T]
}

func (s catchStep[T]) name() string { return catchName }

func (s catchStep[T]) invoke(ctx context.Context, _ *execution[T], payload T, next Next[T]) (T, error) {
	result, err := protect(ctx, payload, next)
	if err == nil {
		return result, nil
	}
	return s.handler(ctx, err, payload)
}

// protect calls next, converting a panic into a [RecoveredPanic] error.
func protect[T any](ctx context.Context, payload T, next Next[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, err = zero, &RecoveredPanic{Value: r}
		}
	}()
	return next(ctx, payload)
}
