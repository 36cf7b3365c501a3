// SPDX-License-Identifier: Apache-2.0

// Package flows provides a fluent builder for sequential pipelines of steps
// that pass a payload along a chain of continuations.
//
// # Core Concepts
//
// A [Flow] is an ordered list of steps. Executing a flow hands the payload to
// the first step together with a continuation, [Next], that runs the rest of
// the flow:
//
//	type Next[T any] = func(context.Context, T) (T, error)
//
//	type Step[T any] interface {
//	    Handle(ctx context.Context, payload T, next Next[T]) (T, error)
//	}
//
// A step may transform the payload and call next, inspect what the rest of
// the flow returned, or return without calling next to stop the flow early.
//
// Flows are assembled with builder methods that each append one step:
//
//	flow := flows.Start[string]().
//	    WithResolver(registry).
//	    Run(func(ctx context.Context, s string, next flows.Next[string]) (string, error) {
//	        return next(ctx, strings.TrimSpace(s))
//	    }).
//	    Chain("censor").                       // resolved by identifier
//	    Branch("is-question", addQuestionTag). // resolved condition, plain callback
//	    RunIf(flows.If(isUrgent), "escalate"). // inline condition, resolved step
//	    Catch(flows.RecoverPayload[string]()). // intercept failures further down
//	    Chain("publish")
//
//	result, err := flow.Execute(ctx, "  is this thing on?  ")
//
// # Resolution
//
// Steps and conditions can be named by identifier. Identifiers are resolved
// through a [Resolver] each time they are reached, never when they are
// appended, and never cached between executions. [Registry] is a ready-made
// resolver backed by factories. An identifier that cannot be resolved fails
// execution with a [StepResolutionError] carrying the resolver's error.
//
// # Error Handling
//
// A failing step's error travels back through the steps before it exactly as
// it was returned, until it reaches a [Flow.Catch] step or the caller of
// [Flow.Execute]. A catch step only sees failures from steps after it, and
// also receives panics raised there as [RecoveredPanic]. [CatchOnly] narrows
// a handler to one kind of failure.
//
// # Reusable Workflows
//
// A flow is safe to execute concurrently and is resolved afresh on every
// execution, so a workflow is usually built once at package level and
// exposed through a plain function:
//
//	var moderate = flows.Start[string]().
//	    WithResolver(registry).
//	    Chain("trim").
//	    Chain("censor")
//
//	// Moderate runs the moderation workflow on a message.
//	func Moderate(ctx context.Context, message string) (string, error) {
//	    return moderate.Execute(ctx, message)
//	}
//
// Because a *Flow is itself a [Step], the same value can be embedded in a
// larger flow with [Flow.Use], or built in place with [Flow.Include].
//
// # Debugging
//
// [Flow.Debug] attaches a [log/slog] logger that receives "before <step>" and
// "after <step>" records around every step. [Traced] collects a [Trace] of
// every step entered, with durations and failures, which can be filtered and
// written as JSON or text.
//
// # Requirements
//
// Flows requires Go 1.24 or later.
package flows
