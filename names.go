// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"runtime"
	"strings"
)

// StepNames returns a copy of the step name stack from the context.
// Returns nil if no names are present in the context.
//
// Inside a step the last element is the step's own name. Steps of a nested
// flow see the name of the enclosing step before their own, e.g.
// ["normalize", "trim"].
func StepNames(ctx context.Context) []string {
	f := getFlowCtx(ctx)
	if f == nil || len(f.names) == 0 {
		return nil
	}
	// Return a copy to prevent mutation
	return append([]string{}, f.names...)
}

// namedStep gives a step a name for debug records and traces.
type namedStep[T any] struct {
	name string
	step Step[T]
}

func (n namedStep[T]) Handle(ctx context.Context, payload T, next Next[T]) (T, error) {
	return n.step.Handle(ctx, payload, next)
}

// StepName returns the name given to the step.
func (n namedStep[T]) StepName() string {
	return n.name
}

// Named wraps a [Step] with a name.
//
// The name replaces the generic marker otherwise used for the step in debug
// records, traces and [StepNames]. Failures of the step are returned
// unchanged.
//
// Example:
//
//	flows.Start[*Order]().
//	    Use(flows.Named("checkout", checkoutFlow)).
//	    Use(flows.Named[*Order]("notify", flows.Handler[*Order](notify)))
func Named[T any](name string, step Step[T]) Step[T] {
	return namedStep[T]{name: name, step: step}
}

type autoNamedOptions struct {
	callerSkip int
}

// An AutoNamedOption is a function option for [AutoNamed].
type AutoNamedOption func(*autoNamedOptions)

// SkipCaller adds a delta to the number of skipped stack frames.
//
// This is useful when wrapping AutoNamed inside helper functions, allowing
// it to skip intermediate layers and identify the original caller.
func SkipCaller(delta int) AutoNamedOption {
	return func(o *autoNamedOptions) {
		o.callerSkip += delta
	}
}

// AutoNamed wraps a [Handler] with a name automatically derived from the
// calling function.
//
// Example:
//
//	func TrimSpace() flows.Step[string] {
//	    return flows.AutoNamed(func(ctx context.Context, s string, next flows.Next[string]) (string, error) {
//	        return next(ctx, strings.TrimSpace(s))
//	    })
//	}
//	// Debug records for this step read "before TrimSpace" / "after TrimSpace".
//
// Note: AutoNamed only works when called directly from a named function.
// Called from a closure it yields names such as "func1".
func AutoNamed[T any](h Handler[T], opts ...AutoNamedOption) Step[T] {
	const minimumCallerSkip = 1
	config := autoNamedOptions{callerSkip: minimumCallerSkip}
	for _, opt := range opts {
		opt(&config)
	}

	pc, _, _, ok := runtime.Caller(config.callerSkip)
	if !ok {
		return h
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return h
	}
	return Named[T](extractFunctionName(fn.Name()), h)
}

// extractFunctionName extracts the simple function name from a full Go function path.
//
// Examples:
//   - "github.com/sam-fredrickson/flows.CreateDatabase" -> "CreateDatabase"
//   - "main.(*Server).HandleRequest" -> "HandleRequest"
//   - "github.com/user/pkg.init.0" -> "0"
func extractFunctionName(fullName string) string {
	parts := strings.Split(fullName, "/")
	lastPart := parts[len(parts)-1]

	if idx := strings.LastIndex(lastPart, "."); idx != -1 {
		lastPart = lastPart[idx+1:]
	}
	return lastPart
}
