// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteAll(t *testing.T) {
	t.Parallel()

	t.Run("ResultsInPayloadOrder", func(t *testing.T) {
		t.Parallel()
		flow := Start[string]().
			WithResolver(newTestRegistry()).
			Run(func(ctx context.Context, s string, next Next[string]) (string, error) {
				// Later payloads finish first.
				time.Sleep(time.Duration(5-len(s)) * time.Millisecond)
				return next(ctx, s)
			}).
			Chain("foo")

		results, err := flow.ExecuteAll(t.Context(), []string{"a", "bb", "ccc", "dddd"}, BatchOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a foo", "bb foo", "ccc foo", "dddd foo"}, results)
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		results, err := Start[string]().ExecuteAll(t.Context(), nil, BatchOptions{})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("FirstErrorCancelsRest", func(t *testing.T) {
		t.Parallel()
		flow := Start[string]().
			Run(func(ctx context.Context, s string, next Next[string]) (string, error) {
				if s == "bad" {
					return "", error1
				}
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(time.Second):
					return next(ctx, s)
				}
			})

		_, err := flow.ExecuteAll(t.Context(), []string{"good", "bad", "good"}, BatchOptions{})
		var indexed *IndexedError
		require.ErrorAs(t, err, &indexed)
		assert.Equal(t, 1, indexed.Index)
		assert.ErrorIs(t, err, error1)
		assert.EqualError(t, err, "payload 1: error 1")
	})

	t.Run("JoinErrors", func(t *testing.T) {
		t.Parallel()
		flow := Start[string]().
			WithResolver(newTestRegistry()).
			RunIf(If(func(s string) bool { return strings.HasPrefix(s, "x") }), "fail").
			Chain("foo")

		results, err := flow.ExecuteAll(t.Context(), []string{"x1", "ok", "x2"}, BatchOptions{JoinErrors: true})
		require.Error(t, err)
		assert.Equal(t, []string{"", "ok foo", ""}, results)

		joined, ok := err.(interface{ Unwrap() []error })
		require.True(t, ok)
		var indices []int
		for _, e := range joined.Unwrap() {
			var indexed *IndexedError
			require.True(t, errors.As(e, &indexed))
			assert.ErrorIs(t, indexed, error1)
			indices = append(indices, indexed.Index)
		}
		assert.ElementsMatch(t, []int{0, 2}, indices)
	})

	t.Run("Limit", func(t *testing.T) {
		t.Parallel()
		var running, peak atomic.Int32
		flow := Start[int]().Run(func(ctx context.Context, n int, next Next[int]) (int, error) {
			current := running.Add(1)
			defer running.Add(-1)
			for {
				old := peak.Load()
				if current <= old || peak.CompareAndSwap(old, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return next(ctx, n*2)
		})

		payloads := []int{1, 2, 3, 4, 5, 6, 7, 8}
		results, err := flow.ExecuteAll(t.Context(), payloads, BatchOptions{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 6, 8, 10, 12, 14, 16}, results)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("IndependentRunIDs", func(t *testing.T) {
		t.Parallel()
		flow := Start[string]().Run(func(ctx context.Context, _ string, next Next[string]) (string, error) {
			return next(ctx, RunID(ctx).String())
		})
		results, err := flow.ExecuteAll(t.Context(), []string{"a", "b", "c"}, BatchOptions{})
		require.NoError(t, err)
		assert.NotEqual(t, results[0], results[1])
		assert.NotEqual(t, results[1], results[2])
	})
}
