// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"log/slog"
)

// A DebugOption configures [Flow.Debug].
type DebugOption func(*debugOptions)

type debugOptions struct {
	level slog.Level
}

func defaultDebugOptions() debugOptions {
	return debugOptions{level: slog.LevelDebug}
}

// AtLevel sets the level of the debug records. The default is
// [slog.LevelDebug].
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	flow.Debug(logger, flows.AtLevel(slog.LevelInfo))
func AtLevel(level slog.Level) DebugOption {
	return func(o *debugOptions) {
		o.level = level
	}
}

// logged wraps a step call with debug records.
//
// The records look like:
//
//	{"level":"DEBUG","msg":"before trim","step":"trim","run_id":"…","payload":"  hi  "}
//	{"level":"DEBUG","msg":"after trim","step":"trim","run_id":"…","result":"hi"}
//
// "after" is emitted when the step returns, so with a continuation-style
// step it follows the records of every later step the step delegated to.
// A failed step adds an "error" attribute; the failure itself is returned
// unchanged. A panicking step gets an "after" record whose error is a
// [RecoveredPanic], and the panic continues.
func (ex *execution[T]) logged(name string, h Handler[T]) Handler[T] {
	return func(ctx context.Context, payload T, next Next[T]) (T, error) {
		runID := slog.String("run_id", RunID(ctx).String())
		step := slog.String("step", name)

		if err := ex.emit(ctx, "before "+name, step, runID, slog.Any("payload", payload)); err != nil {
			var zero T
			return zero, err
		}

		defer func() {
			if r := recover(); r != nil {
				_ = ex.emit(ctx, "after "+name, step, runID, slog.Any("error", &RecoveredPanic{Value: r}))
				panic(r)
			}
		}()
		result, err := h(ctx, payload, next)

		attrs := []any{step, runID, slog.Any("result", result)}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		_ = ex.emit(ctx, "after "+name, attrs...)
		return result, err
	}
}

// emit writes one debug record. Emitting without a logger is a programming
// error reported as [ErrNoLogger].
func (ex *execution[T]) emit(ctx context.Context, msg string, args ...any) error {
	if ex.logger == nil {
		return ErrNoLogger
	}
	ex.logger.Log(ctx, ex.level, msg, args...)
	return nil
}
