// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"log/slog"
)

// A Flow is an ordered, buildable, executable pipeline of steps.
//
// Flows are assembled with the builder methods, each of which appends one
// step and returns the flow for chaining. [Flow.Execute] runs the steps in
// the order they were appended. Executing a flow never modifies it, so a flow
// may be executed any number of times, including concurrently.
//
// A *Flow[T] is itself a [Step], so flows nest. A nested flow hands the
// outer continuation to its last step: if any step of the nested flow
// short-circuits, the rest of the outer flow is skipped as well.
type Flow[T any] struct {
	steps    []descriptor[T]
	resolver Resolver[T]
	logger   *slog.Logger
	debug    debugOptions
}

// Start returns a new, empty flow.
//
// Example:
//
//	result, err := flows.Start[string]().
//	    WithResolver(registry).
//	    Chain("trim").
//	    Branch("is-shouting", strings.ToLower).
//	    Execute(ctx, "  HELLO  ")
func Start[T any]() *Flow[T] {
	return &Flow[T]{
		debug: defaultDebugOptions(),
	}
}

// WithResolver sets the capability used to resolve step and condition
// identifiers. Identifiers are resolved when they are reached during
// execution, so the resolver may be supplied after the steps are appended.
//
// A nested flow without a resolver of its own uses the resolver of the
// flow that runs it.
func (f *Flow[T]) WithResolver(r Resolver[T]) *Flow[T] {
	f.resolver = r
	return f
}

// Run appends an inline step.
//
// Example:
//
//	flows.Start[string]().Run(func(ctx context.Context, s string, next flows.Next[string]) (string, error) {
//	    return next(ctx, s+" closure")
//	})
func (f *Flow[T]) Run(h Handler[T]) *Flow[T] {
	return f.append(inlineStep[T]{handler: h})
}

// RunStep appends a step that is resolved by identifier at execution time.
// It is an alias of [Flow.Chain].
func (f *Flow[T]) RunStep(id string) *Flow[T] {
	return f.Chain(id)
}

// Chain appends a step that is resolved by identifier at execution time.
//
// The identifier is not checked when it is appended. If it cannot be
// resolved when reached, execution fails with a [StepResolutionError].
// The identifier is resolved afresh on every execution.
func (f *Flow[T]) Chain(id string) *Flow[T] {
	return f.append(resolvableStep[T]{id: id})
}

// Use appends an already-constructed step, such as a [Named] step or
// another flow.
func (f *Flow[T]) Use(step Step[T]) *Flow[T] {
	return f.append(instanceStep[T]{step: step})
}

// Include builds a nested flow with build and appends it as a single step.
//
// This is useful for sharing a fragment of a pipeline between flows:
//
//	normalize := func(f *flows.Flow[string]) {
//	    f.Chain("trim").Chain("lower")
//	}
//	flows.Start[string]().Include(normalize).Chain("publish")
func (f *Flow[T]) Include(build func(*Flow[T])) *Flow[T] {
	sub := Start[T]()
	build(sub)
	return f.Use(sub)
}

// Apply appends a plain transformation. Its output is always passed to the
// next step; a transform cannot short-circuit the flow except by failing.
func (f *Flow[T]) Apply(fn Transform[T]) *Flow[T] {
	return f.append(transformStep[T]{fn: fn})
}

// Branch appends a step that optionally transforms the payload.
//
// At execution time the condition is resolved by identifier and evaluated
// against the payload. If it holds, the payload is replaced with
// callback(payload). Either way the payload is passed on to the next step:
// a branch never stops the flow.
func (f *Flow[T]) Branch(conditionID string, callback func(T) T) *Flow[T] {
	return f.append(branchStep[T]{conditionID: conditionID, callback: callback})
}

// RunIf appends a guarded step.
//
// The condition is used exactly as supplied. If it does not hold, the step
// is skipped and the action is never resolved. If it holds, the action is
// resolved by identifier and given full control over the continuation, as
// though it had been appended with [Flow.Chain].
func (f *Flow[T]) RunIf(condition Predicate[T], actionID string) *Flow[T] {
	return f.append(guardStep[T]{condition: condition, actionID: actionID})
}

// Catch appends a failure boundary around the rest of the flow.
//
// If any later step fails (or panics), handler is called with the failure
// and the payload as it was when the catch step was reached, and its result
// becomes the result of the catch step. Failures from steps before the catch
// are not intercepted. Use [CatchOnly] to intercept only some failures.
func (f *Flow[T]) Catch(handler ErrorHandler[T]) *Flow[T] {
	return f.append(catchStep[T]{handler: handler})
}

// Debug attaches a logger that receives a record before and after every
// step of the flow. It does not change what the flow computes. Passing a nil
// logger turns tracing off.
//
// Records are emitted at [slog.LevelDebug] unless [AtLevel] is given.
func (f *Flow[T]) Debug(logger *slog.Logger, opts ...DebugOption) *Flow[T] {
	f.logger = logger
	f.debug = defaultDebugOptions()
	for _, opt := range opts {
		opt(&f.debug)
	}
	return f
}

// Len returns the number of steps appended to the flow.
func (f *Flow[T]) Len() int {
	return len(f.steps)
}

// Execute runs the flow against payload and returns the final payload, or
// whatever the step that stopped the flow returned.
//
// Execution fails with a [StepResolutionError] if an identifier reached
// during execution cannot be resolved, or with the error of any step that
// failed without an intervening [Flow.Catch].
func (f *Flow[T]) Execute(ctx context.Context, payload T) (T, error) {
	return f.Handle(ctx, payload, identity[T])
}

// Handle implements [Step], running the flow with next as its terminal
// continuation.
func (f *Flow[T]) Handle(ctx context.Context, payload T, next Next[T]) (T, error) {
	ctx, ex := f.bind(ctx)
	return ex.compose(f.steps, next)(ctx, payload)
}

func (f *Flow[T]) append(d descriptor[T]) *Flow[T] {
	f.steps = append(f.steps, d)
	return f
}

// bind prepares the flow context for one execution of f, inheriting the
// resolver, logger and run ID of an enclosing execution where f has none.
func (f *Flow[T]) bind(ctx context.Context) (context.Context, *execution[T]) {
	fc := newFlowCtx(ctx, getFlowCtx(ctx))
	fc.ensureRunID()

	ex := &execution[T]{
		resolver: f.resolver,
		logger:   f.logger,
		level:    f.debug.level,
	}
	if ex.resolver == nil {
		ex.resolver, _ = fc.resolver.(Resolver[T])
	} else {
		fc.resolver = ex.resolver
	}
	if ex.logger == nil {
		ex.logger, ex.level = fc.logger, fc.level
	} else {
		fc.logger, fc.level = ex.logger, ex.level
	}
	return fc, ex
}

// execution holds what one run of a flow needs beyond its step list.
type execution[T any] struct {
	resolver Resolver[T]
	logger   *slog.Logger
	level    slog.Level
}

// compose folds steps right to left around terminal, so that the first
// appended step runs first.
func (ex *execution[T]) compose(steps []descriptor[T], terminal Next[T]) Next[T] {
	next := terminal
	for i := len(steps) - 1; i >= 0; i-- {
		next = ex.wrap(steps[i], next)
	}
	return next
}

// wrap turns one descriptor into the continuation that runs it.
//
// The step sees a context carrying its own name on the step name stack. The
// continuation handed to the step restores the caller's flow context before
// running the remaining steps, so sibling steps do not appear nested.
func (ex *execution[T]) wrap(d descriptor[T], next Next[T]) Next[T] {
	name := d.name()
	call := Handler[T](func(ctx context.Context, payload T, next Next[T]) (T, error) {
		return d.invoke(ctx, ex, payload, next)
	})
	if ex.logger != nil {
		call = ex.logged(name, call)
	}

	return func(ctx context.Context, payload T) (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}

		base := getFlowCtx(ctx)
		stepCtx := pushName(ctx, base, name)
		resume := func(ctx context.Context, payload T) (T, error) {
			return next(newFlowCtx(ctx, base), payload)
		}

		tr := stepCtx.trace
		if tr == nil {
			return call(stepCtx, payload, resume)
		}
		sp := tr.begin(stepCtx.names)
		defer func() {
			if r := recover(); r != nil {
				sp.finishPanic(r)
				panic(r)
			}
		}()
		result, err := call(stepCtx, payload, timed(sp, resume))
		sp.finish(err)
		return result, err
	}
}

// resolveStep resolves a step identifier, wrapping any failure in a
// StepResolutionError.
func (ex *execution[T]) resolveStep(ctx context.Context, id string) (Step[T], error) {
	if ex.resolver == nil {
		return nil, &StepResolutionError{Kind: KindStep, ID: id, Err: ErrNoResolver}
	}
	step, err := ex.resolver.ResolveStep(ctx, id)
	if err != nil {
		return nil, &StepResolutionError{Kind: KindStep, ID: id, Err: err}
	}
	if step == nil {
		return nil, &StepResolutionError{Kind: KindStep, ID: id, Err: ErrNilStep}
	}
	return step, nil
}

// resolveCondition resolves a condition identifier, wrapping any failure in
// a StepResolutionError.
func (ex *execution[T]) resolveCondition(ctx context.Context, id string) (Predicate[T], error) {
	if ex.resolver == nil {
		return nil, &StepResolutionError{Kind: KindCondition, ID: id, Err: ErrNoResolver}
	}
	condition, err := ex.resolver.ResolveCondition(ctx, id)
	if err != nil {
		return nil, &StepResolutionError{Kind: KindCondition, ID: id, Err: err}
	}
	if condition == nil {
		return nil, &StepResolutionError{Kind: KindCondition, ID: id, Err: ErrNilStep}
	}
	return condition, nil
}
