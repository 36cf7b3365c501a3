// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TraceEvent represents a single step execution in a traced flow.
type TraceEvent struct {
	// Names holds the names of the enclosing steps, outermost first, ending
	// with the step's own name.
	// For example: ["checkout", "reserve-stock"]
	Names []string `json:"step_names"`

	// Start is when the step was entered.
	Start time.Time `json:"start"`

	// Duration is the time spent in the step itself, excluding the time
	// spent in the later steps it delegated to.
	Duration time.Duration `json:"duration"`

	// Total is the time from entering the step until it returned,
	// including the later steps it delegated to.
	Total time.Duration `json:"total"`

	// Error is the error message if the step itself failed, empty otherwise.
	// A failure that merely passed through the step on its way to the caller
	// is recorded only on the step that raised it.
	Error string `json:"error,omitempty"`
}

// TraceOption customizes [Traced].
type TraceOption func(*traceOptions)

type traceOptions struct {
	// StreamTo receives each event as a JSON line once it completes. Nil
	// keeps events in memory only.
	StreamTo io.Writer
}

// WithStreamTo also writes every event to w as one JSON object per line.
//
// Events are written in JSON Lines format (one event per line) as steps
// return. Because a step returns after the steps it delegated to, streamed
// events appear innermost first. All events are retained in memory as well,
// in start order.
//
// Write failures to the stream are best-effort and do not cause the flow to fail.
//
// Example:
//
//	f, _ := os.Create("trace.jsonl")
//	defer f.Close()
//	result, trace, err := flows.Traced[string](flow, flows.WithStreamTo(f))(ctx, payload)
func WithStreamTo(w io.Writer) TraceOption {
	return func(opts *traceOptions) {
		opts.StreamTo = w
	}
}

// trace is the internal collection infrastructure used during execution.
type trace struct {
	mu       sync.Mutex
	streamTo io.Writer
	encoder  *json.Encoder
	result   *Trace
}

// Trace is the record of one traced execution.
type Trace struct {
	// RunID is the run ID of the traced execution; see [RunID].
	RunID uuid.UUID

	// Events is the list of all recorded trace events, in start order.
	Events []TraceEvent

	// Start is when the traced execution began.
	Start time.Time

	// Duration is the total execution time.
	// After Filter, the selected events' durations added up.
	Duration time.Duration

	// TotalSteps is the number of steps entered.
	// After Filter, len(Events).
	TotalSteps int

	// TotalErrors is the number of steps that failed.
	TotalErrors int
}

// eventIdx indexes Trace.Events.
type eventIdx int

// Traced wraps a step, typically a [Flow], so that executing it also returns
// a [Trace] with one event per step entered.
//
// Example:
//
//	run := flows.Traced[string](flow)
//	result, trace, err := run(ctx, "payload")
//	_, _ = trace.WriteText(os.Stdout)
//
// Flows that are never traced pay nothing for it.
func Traced[T any](step Step[T], opts ...TraceOption) func(context.Context, T) (T, *Trace, error) {
	options := traceOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return func(ctx context.Context, payload T) (T, *Trace, error) {
		result := &Trace{
			Start:  time.Now(),
			Events: make([]TraceEvent, 0),
		}

		tr := &trace{
			streamTo: options.StreamTo,
			result:   result,
		}
		if tr.streamTo != nil {
			tr.encoder = json.NewEncoder(tr.streamTo)
		}

		fc := newFlowCtx(ctx, getFlowCtx(ctx))
		fc.trace = tr
		fc.ensureRunID()
		result.RunID = fc.runID

		defer func() {
			result.Duration = time.Since(result.Start)
			if tr.streamTo != nil {
				if flusher, ok := tr.streamTo.(interface{ Flush() error }); ok {
					_ = flusher.Flush() // Best-effort
				}
			}
		}()
		out, err := step.Handle(fc, payload, identity[T])
		return out, result, err
	}
}

// span tracks one step while it runs.
type span struct {
	trace         *trace
	idx           eventIdx
	start         time.Time
	downstream    time.Duration
	downstreamErr error
	// downstreamPanicked is set when a panic unwound through the continuation.
	downstreamPanicked bool
}

// begin records the start of a step and returns its span.
func (t *trace) begin(names []string) *span {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	idx := len(t.result.Events)
	t.result.Events = append(t.result.Events, TraceEvent{
		Names: append([]string{}, names...),
		Start: now,
	})
	t.result.TotalSteps++

	return &span{trace: t, idx: eventIdx(idx), start: now}
}

// timed measures the time a step spends in its continuation.
func timed[T any](sp *span, next Next[T]) Next[T] {
	return func(ctx context.Context, payload T) (result T, err error) {
		start := time.Now()
		defer func() {
			sp.downstream += time.Since(start)
			sp.downstreamErr = err
			if r := recover(); r != nil {
				sp.downstreamPanicked = true
				panic(r)
			}
		}()
		return next(ctx, payload)
	}
}

// finishPanic closes the span of a step that is unwinding from a panic. The
// panic is the step's own failure unless it came up through its continuation.
func (sp *span) finishPanic(value any) {
	var err error
	if !sp.downstreamPanicked {
		err = &RecoveredPanic{Value: value}
	}
	sp.finish(err)
}

// finish records the step's durations and its own failure, if any.
func (sp *span) finish(err error) {
	total := time.Since(sp.start)

	t := sp.trace
	t.mu.Lock()
	defer t.mu.Unlock()

	event := &t.result.Events[sp.idx]
	event.Total = total
	event.Duration = max(total-sp.downstream, 0)
	passedThrough := sp.downstreamErr != nil && errors.Is(err, sp.downstreamErr)
	if err != nil && !passedThrough {
		event.Error = err.Error()
		t.result.TotalErrors++
	}

	// Best-effort
	if t.streamTo != nil {
		_ = t.encoder.Encode(event)
	}
}
