// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

// flowCtxKey is the context key for retrieving the flowCtx.
type flowCtxKey struct{}

// flowCtx is an internal context type that consolidates all flow-specific
// context values into a single lookup.
//
// The flowCtx embeds the parent context.Context to properly delegate
// cancellation, deadlines, and non-flow context values.
type flowCtx struct {
	context.Context

	// trace is the active execution trace, if tracing is enabled.
	trace *trace

	// names is the step name stack in hierarchical order (oldest first).
	names []string

	// runID identifies the top-level execution.
	runID uuid.UUID

	// resolver is the Resolver[T] of the innermost flow that set one.
	// It is stored untyped because contexts are not generic.
	resolver any

	// logger and level are the debug logger of the innermost flow that set
	// one; nil when tracing is off.
	logger *slog.Logger
	level  slog.Level
}

// Value implements context.Context.Value by intercepting flowCtxKey lookups
// and delegating all other keys to the embedded parent context.
func (f *flowCtx) Value(key any) any {
	_, ok := key.(flowCtxKey)
	if !ok {
		return f.Context.Value(key)
	}
	return f
}

// newFlowCtx creates a new flowCtx that wraps parent and inherits flow-specific
// state from origin. A nil origin yields empty flow state.
func newFlowCtx(parent context.Context, origin *flowCtx) *flowCtx {
	f := &flowCtx{Context: parent}
	if origin != nil {
		f.trace = origin.trace
		f.names = origin.names
		f.runID = origin.runID
		f.resolver = origin.resolver
		f.logger = origin.logger
		f.level = origin.level
	}
	return f
}

// getFlowCtx returns the innermost flowCtx of ctx, or nil.
func getFlowCtx(ctx context.Context) *flowCtx {
	f, _ := ctx.Value(flowCtxKey{}).(*flowCtx)
	return f
}

// ensureRunID assigns a fresh run ID unless one was inherited.
func (f *flowCtx) ensureRunID() {
	if f.runID == uuid.Nil {
		f.runID = uuid.New()
	}
}

// pushName derives a flowCtx for a step named name, one level below base.
func pushName(ctx context.Context, base *flowCtx, name string) *flowCtx {
	f := newFlowCtx(ctx, base)
	f.names = append(slices.Clip(f.names), name)
	return f
}

// RunID returns the identifier of the flow execution ctx belongs to, or
// [uuid.Nil] outside of an execution.
//
// Every top-level call to [Flow.Execute] (or a [Traced] step) gets a new run
// ID. Nested flows share the run ID of the execution that runs them. The run
// ID is attached to every debug record as "run_id".
func RunID(ctx context.Context) uuid.UUID {
	f := getFlowCtx(ctx)
	if f == nil {
		return uuid.Nil
	}
	return f.runID
}
