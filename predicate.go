// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
)

// A Predicate decides a condition about a payload. An error means the
// condition could not be decided, and it fails the step evaluating it.
type Predicate[T any] = func(context.Context, T) (bool, error)

// If lifts a plain boolean function into a [Predicate].
//
// Example:
//
//	flows.Start[string]().RunIf(
//	    flows.If(func(s string) bool { return strings.HasPrefix(s, "!") }),
//	    "escalate",
//	)
func If[T any](fn func(T) bool) Predicate[T] {
	return func(_ context.Context, t T) (bool, error) {
		return fn(t), nil
	}
}

// Always returns a predicate that always holds.
func Always[T any]() Predicate[T] {
	return func(context.Context, T) (bool, error) {
		return true, nil
	}
}

// Never returns a predicate that never holds.
func Never[T any]() Predicate[T] {
	return func(context.Context, T) (bool, error) {
		return false, nil
	}
}

// Not inverts a predicate. An error from the inner predicate is returned
// as is.
func Not[T any](predicate Predicate[T]) Predicate[T] {
	return func(ctx context.Context, t T) (bool, error) {
		ok, err := predicate(ctx, t)
		return !ok && err == nil, err
	}
}

// And holds when every predicate holds; with no predicates it holds.
// Predicates are evaluated in order until one fails to hold or errors.
//
//	flows.Start[*Order]().RunIf(
//	    flows.And(IsPaid(), HasShippingAddress()),
//	    "ship",
//	)
func And[T any](predicates ...Predicate[T]) Predicate[T] {
	return shortCircuit(predicates, false)
}

// Or holds when some predicate holds; with no predicates it does not.
// Predicates are evaluated in order until one holds or errors.
func Or[T any](predicates ...Predicate[T]) Predicate[T] {
	return shortCircuit(predicates, true)
}

// shortCircuit evaluates predicates until one yields decisive, which is
// then the result. Otherwise the result is !decisive.
func shortCircuit[T any](predicates []Predicate[T], decisive bool) Predicate[T] {
	return func(ctx context.Context, t T) (bool, error) {
		for _, p := range predicates {
			ok, err := p(ctx, t)
			if err != nil {
				return false, err
			}
			if ok == decisive {
				return decisive, nil
			}
		}
		return !decisive, nil
	}
}
