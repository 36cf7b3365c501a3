// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStepResolution matches every [StepResolutionError] via [errors.Is].
	ErrStepResolution = errors.New("step resolution failed")

	// ErrNoResolver is the cause of a [StepResolutionError] raised when an
	// identifier is reached but no [Resolver] was configured.
	ErrNoResolver = errors.New("no resolver configured")

	// ErrNilStep is the cause of a resolution failure when a resolver or
	// factory produced nothing.
	ErrNilStep = errors.New("resolved to nil")

	// ErrNoLogger is returned when a debug record is emitted without a
	// logger attached.
	ErrNoLogger = errors.New("no debug logger attached")
)

// ResolutionKind says what kind of identifier failed to resolve.
type ResolutionKind string

const (
	// KindStep identifies a step added with Chain, RunStep or RunIf.
	KindStep ResolutionKind = "step"
	// KindCondition identifies a condition added with Branch.
	KindCondition ResolutionKind = "condition"
)

// StepResolutionError is returned from [Flow.Execute] when an identifier
// reached during execution could not be resolved. The resolver's error is
// kept as the cause.
//
// Example:
//
//	_, err := flow.Execute(ctx, payload)
//	var resErr *flows.StepResolutionError
//	if errors.As(err, &resErr) {
//	    log.Printf("unknown %s %q: %v", resErr.Kind, resErr.ID, resErr.Err)
//	}
type StepResolutionError struct {
	// Kind is the kind of identifier.
	Kind ResolutionKind
	// ID is the identifier that failed to resolve.
	ID string
	// Err is the underlying resolver error.
	Err error
}

// Error returns the formatted error message.
func (e *StepResolutionError) Error() string {
	return fmt.Sprintf("%s resolution failed for %q: %v", e.Kind, e.ID, e.Err)
}

// Unwrap returns the underlying resolver error.
func (e *StepResolutionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is [ErrStepResolution].
func (e *StepResolutionError) Is(target error) bool {
	return target == ErrStepResolution
}

// RecoveredPanic is an error type that wraps a panic value.
//
// A [Flow.Catch] step hands panics raised downstream of it to its handler as
// a *RecoveredPanic.
type RecoveredPanic struct {
	Value any
}

func (p *RecoveredPanic) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// Unwrap returns the panic value if it is an error.
func (p *RecoveredPanic) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// CatchOnly returns an [ErrorHandler] that calls handler only for failures
// matching target according to [errors.Is]. Other failures propagate.
//
// Example:
//
//	flows.Start[*Order]().
//	    Catch(flows.CatchOnly(ErrOutOfStock, backorder)).
//	    Chain("reserve-stock")
func CatchOnly[T any](target error, handler ErrorHandler[T]) ErrorHandler[T] {
	return func(ctx context.Context, err error, payload T) (T, error) {
		if !errors.Is(err, target) {
			var zero T
			return zero, err
		}
		return handler(ctx, err, payload)
	}
}

// Recover returns an [ErrorHandler] that swallows every failure and resumes
// with fallback.
func Recover[T any](fallback T) ErrorHandler[T] {
	return func(_ context.Context, _ error, _ T) (T, error) {
		return fallback, nil
	}
}

// RecoverPayload returns an [ErrorHandler] that swallows every failure and
// resumes with the payload the catch step received.
func RecoverPayload[T any]() ErrorHandler[T] {
	return func(_ context.Context, _ error, payload T) (T, error) {
		return payload, nil
	}
}
