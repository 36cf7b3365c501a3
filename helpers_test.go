// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
)

// ==== Test Helpers: Error Variables ====

var error1 = errors.New("error 1")
var error2 = errors.New("error 2")

// ==== Test Helpers: String Steps ====

// appendStep returns a step that appends suffix and continues.
func appendStep(suffix string) Handler[string] {
	return func(ctx context.Context, s string, next Next[string]) (string, error) {
		return next(ctx, s+suffix)
	}
}

// appendFoo appends " foo" and continues.
var appendFoo = appendStep(" foo")

// stopWith returns a step that never calls next.
func stopWith(result string) Handler[string] {
	return func(context.Context, string, Next[string]) (string, error) {
		return result, nil
	}
}

// failWith returns a step that fails without calling next.
func failWith(err error) Handler[string] {
	return func(context.Context, string, Next[string]) (string, error) {
		return "", err
	}
}

// panicWith returns a step that panics with value.
func panicWith(value any) Handler[string] {
	return func(context.Context, string, Next[string]) (string, error) {
		panic(value)
	}
}

// containsRun holds when the payload contains "run".
var containsRun = If(func(s string) bool {
	return strings.Contains(s, "run")
})

// failingPredicate always fails with err.
func failingPredicate(err error) Predicate[string] {
	return func(context.Context, string) (bool, error) {
		return false, err
	}
}

// newTestRegistry returns a registry with the identifiers used across tests:
//
//	steps:      "foo" (append " foo"), "bar" (append " bar"),
//	            "fail" (fails with error1), "stop" (returns "stopped")
//	conditions: "contains-run", "is-true", "is-false"
func newTestRegistry() *Registry[string] {
	return NewRegistry[string]().
		MustProvideStep("foo", appendFoo).
		MustProvideStep("bar", appendStep(" bar")).
		MustProvideStep("fail", failWith(error1)).
		MustProvideStep("stop", stopWith("stopped")).
		MustProvideCondition("contains-run", containsRun).
		MustProvideCondition("is-true", Always[string]()).
		MustProvideCondition("is-false", Never[string]())
}

// countingResolver counts resolutions and delegates to a registry.
type countingResolver struct {
	*Registry[string]
	steps      atomic.Int64
	conditions atomic.Int64
}

func newCountingResolver() *countingResolver {
	return &countingResolver{Registry: newTestRegistry()}
}

func (r *countingResolver) ResolveStep(ctx context.Context, id string) (Step[string], error) {
	r.steps.Add(1)
	return r.Registry.ResolveStep(ctx, id)
}

func (r *countingResolver) ResolveCondition(ctx context.Context, id string) (Predicate[string], error) {
	r.conditions.Add(1)
	return r.Registry.ResolveCondition(ctx, id)
}
