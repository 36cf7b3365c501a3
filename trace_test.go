// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type traceValidator func(*testing.T, *Trace)

func expectEvents(n int) traceValidator {
	return func(t *testing.T, tr *Trace) {
		t.Helper()
		assert.Len(t, tr.Events, n)
		assert.Equal(t, n, tr.TotalSteps)
	}
}

func expectErrors(n int) traceValidator {
	return func(t *testing.T, tr *Trace) {
		t.Helper()
		assert.Equal(t, n, tr.TotalErrors)
	}
}

func expectPaths(paths ...string) traceValidator {
	return func(t *testing.T, tr *Trace) {
		t.Helper()
		actual := make([]string, len(tr.Events))
		for i, event := range tr.Events {
			actual[i] = strings.Join(event.Names, "/")
		}
		assert.Equal(t, paths, actual)
	}
}

func expectErrorOn(path, message string) traceValidator {
	return func(t *testing.T, tr *Trace) {
		t.Helper()
		event := tr.FindEvent(PathMatches(path))
		require.NotNil(t, event, "no event for %q", path)
		assert.Equal(t, message, event.Error)
	}
}

func sleepStep(d time.Duration) Handler[string] {
	return func(ctx context.Context, s string, next Next[string]) (string, error) {
		time.Sleep(d)
		return next(ctx, s)
	}
}

func TestTraced(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		flow       func() *Flow[string]
		wantErr    bool
		validators []traceValidator
	}{
		{
			name: "EmptyFlow",
			flow: Start[string],
			validators: []traceValidator{
				expectEvents(0),
				expectErrors(0),
			},
		},
		{
			name: "ResolvedSteps",
			flow: func() *Flow[string] {
				return Start[string]().WithResolver(newTestRegistry()).Chain("foo").Chain("bar")
			},
			validators: []traceValidator{
				expectEvents(2),
				expectPaths("foo", "bar"),
			},
		},
		{
			name: "GenericMarkers",
			flow: func() *Flow[string] {
				return Start[string]().
					Run(appendFoo).
					Apply(func(_ context.Context, s string) (string, error) { return s, nil }).
					Use(appendFoo).
					Catch(RecoverPayload[string]())
			},
			validators: []traceValidator{
				expectPaths("<closure>", "<transform>", "<step>", "<catch>"),
			},
		},
		{
			name: "BranchAndGuardNames",
			flow: func() *Flow[string] {
				return Start[string]().
					WithResolver(newTestRegistry()).
					Branch("is-true", strings.ToUpper).
					RunIf(Always[string](), "foo")
			},
			validators: []traceValidator{
				expectPaths("is-true", "foo"),
			},
		},
		{
			name: "NestedFlows",
			flow: func() *Flow[string] {
				inner := Start[string]().
					Use(Named("reserve", appendFoo)).
					Use(Named("charge", appendFoo))
				return Start[string]().
					Use(Named("trim", appendFoo)).
					Use(Named("checkout", inner)).
					Use(Named("notify", appendFoo))
			},
			validators: []traceValidator{
				expectEvents(5),
				expectPaths("trim", "checkout", "checkout/reserve", "checkout/charge", "notify"),
			},
		},
		{
			name: "UnnamedNestedFlow",
			flow: func() *Flow[string] {
				return Start[string]().Include(func(f *Flow[string]) {
					f.Use(Named("inner", appendFoo))
				})
			},
			validators: []traceValidator{
				expectPaths("<flow>", "<flow>/inner"),
			},
		},
		{
			name: "ErrorRecordedOnlyWhereRaised",
			flow: func() *Flow[string] {
				return Start[string]().
					Use(Named("outer", appendFoo)).
					Use(Named("middle", appendFoo)).
					Use(Named("failing", failWith(error1)))
			},
			wantErr: true,
			validators: []traceValidator{
				expectEvents(3),
				expectErrors(1),
				expectErrorOn("failing", "error 1"),
				expectErrorOn("outer", ""),
				expectErrorOn("middle", ""),
			},
		},
		{
			name: "WrappedErrorCountsAsPassedThrough",
			flow: func() *Flow[string] {
				return Start[string]().
					Use(Named("wrapper", Handler[string](func(ctx context.Context, s string, next Next[string]) (string, error) {
						out, err := next(ctx, s)
						if err != nil {
							return out, fmt.Errorf("wrapped: %w", err)
						}
						return out, nil
					}))).
					Use(Named("failing", failWith(error2)))
			},
			wantErr: true,
			validators: []traceValidator{
				expectErrors(1),
				expectErrorOn("wrapper", ""),
			},
		},
		{
			name: "CaughtError",
			flow: func() *Flow[string] {
				return Start[string]().
					Catch(Recover("ok")).
					Use(Named("failing", failWith(error1)))
			},
			validators: []traceValidator{
				expectErrors(1),
				expectErrorOn("<catch>", ""),
				expectErrorOn("failing", "error 1"),
			},
		},
		{
			name: "CaughtPanicRecordedWhereRaised",
			flow: func() *Flow[string] {
				return Start[string]().
					Catch(RecoverPayload[string]()).
					Use(Named("outer", appendFoo)).
					Use(Named("boom", panicWith("boom")))
			},
			validators: []traceValidator{
				expectEvents(3),
				expectErrors(1),
				expectErrorOn("boom", "panic recovered: boom"),
				expectErrorOn("outer", ""),
				expectErrorOn("<catch>", ""),
			},
		},
		{
			name: "ResolutionFailure",
			flow: func() *Flow[string] {
				return Start[string]().WithResolver(newTestRegistry()).Chain("foo").Chain("missing")
			},
			wantErr: true,
			validators: []traceValidator{
				expectPaths("foo", "missing"),
				expectErrors(1),
				expectErrorOn("missing", `step resolution failed for "missing": resolve step "missing": not registered`),
			},
		},
		{
			name: "ShortCircuitedStepsAbsent",
			flow: func() *Flow[string] {
				return Start[string]().
					WithResolver(newTestRegistry()).
					Chain("foo").
					Chain("stop").
					Chain("bar")
			},
			validators: []traceValidator{
				expectPaths("foo", "stop"),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, trace, err := Traced[string](tc.flow())(t.Context(), "p")
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, trace)
			for _, validate := range tc.validators {
				validate(t, trace)
			}
		})
	}
}

func TestTracedPanicDurations(t *testing.T) {
	t.Parallel()
	flow := Start[string]().
		Catch(RecoverPayload[string]()).
		Use(Named("outer", sleepStep(2*time.Millisecond))).
		Use(Named("boom", Handler[string](func(context.Context, string, Next[string]) (string, error) {
			time.Sleep(5 * time.Millisecond)
			panic("boom")
		})))

	result, trace, err := Traced[string](flow)(t.Context(), "p")
	require.NoError(t, err)
	assert.Equal(t, "p", result)
	assert.Equal(t, 1, trace.TotalErrors)

	boom := trace.FindEvent(NameMatches("boom"))
	require.NotNil(t, boom)
	assert.GreaterOrEqual(t, boom.Total, 5*time.Millisecond)
	assert.Equal(t, boom.Total, boom.Duration)

	outer := trace.FindEvent(NameMatches("outer"))
	require.NotNil(t, outer)
	assert.GreaterOrEqual(t, outer.Total, 7*time.Millisecond)
	assert.GreaterOrEqual(t, outer.Duration, 2*time.Millisecond)
	assert.Less(t, outer.Duration, outer.Total)
	assert.Empty(t, outer.Error)
}

func TestTracedDurations(t *testing.T) {
	t.Parallel()
	flow := Start[string]().
		Use(Named("outer", sleepStep(5*time.Millisecond))).
		Use(Named("inner", sleepStep(30*time.Millisecond)))

	start := time.Now()
	_, trace, err := Traced[string](flow)(t.Context(), "p")
	require.NoError(t, err)

	outer := trace.FindEvent(NameMatches("outer"))
	inner := trace.FindEvent(NameMatches("inner"))
	require.NotNil(t, outer)
	require.NotNil(t, inner)

	// Self time excludes the continuation, total time includes it.
	assert.GreaterOrEqual(t, inner.Duration, 30*time.Millisecond)
	assert.Less(t, outer.Duration, 30*time.Millisecond)
	assert.GreaterOrEqual(t, outer.Total, inner.Total)
	assert.GreaterOrEqual(t, outer.Total, 35*time.Millisecond)
	assert.False(t, outer.Start.After(inner.Start))
	assert.False(t, trace.Start.Before(start))
	assert.GreaterOrEqual(t, trace.Duration, outer.Total)
}

func TestTracedRunID(t *testing.T) {
	t.Parallel()
	var seen uuid.UUID
	flow := Start[string]().Run(func(ctx context.Context, s string, next Next[string]) (string, error) {
		seen = RunID(ctx)
		return next(ctx, s)
	})

	run := Traced[string](flow)
	_, first, err := run(t.Context(), "p")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.RunID)
	assert.Equal(t, first.RunID, seen)

	_, second, err := run(t.Context(), "p")
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestTracedResultUnchanged(t *testing.T) {
	t.Parallel()
	flow := Start[string]().
		WithResolver(newTestRegistry()).
		Chain("foo").
		Branch("contains-run", strings.ToUpper).
		Chain("bar")

	plain, err := flow.Execute(t.Context(), "run")
	require.NoError(t, err)
	traced, _, err := Traced[string](flow)(t.Context(), "run")
	require.NoError(t, err)
	assert.Equal(t, plain, traced)
}

func TestTracedConcurrentExecutions(t *testing.T) {
	t.Parallel()
	flow := Start[string]().
		Use(Named("a", appendFoo)).
		Use(Named("b", appendFoo))
	run := Traced[string](flow)

	var wg sync.WaitGroup
	traces := make([]*Trace, 10)
	for i := range traces {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, tr, err := run(context.Background(), "p")
			assert.NoError(t, err)
			traces[i] = tr
		}()
	}
	wg.Wait()

	for _, tr := range traces {
		require.NotNil(t, tr)
		assert.Len(t, tr.Events, 2)
	}
}

func TestTracedStreaming(t *testing.T) {
	t.Parallel()

	t.Run("JSONLinesInnermostFirst", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		flow := Start[string]().
			Use(Named("first", appendFoo)).
			Use(Named("second", appendFoo)).
			Use(Named("third", failWith(error1)))

		_, trace, err := Traced[string](flow, WithStreamTo(&buf))(t.Context(), "p")
		require.ErrorIs(t, err, error1)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)

		var names []string
		for _, line := range lines {
			var event TraceEvent
			require.NoError(t, json.Unmarshal([]byte(line), &event))
			names = append(names, event.Names[0])
		}
		assert.Equal(t, []string{"third", "second", "first"}, names)
		assert.Contains(t, lines[0], `"error":"error 1"`)
		assert.NotContains(t, lines[1], `"error"`)

		// Memory keeps start order.
		expectPaths("first", "second", "third")(t, trace)
	})

	t.Run("FlushesBufferedWriter", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		flow := Start[string]().Use(Named("only", appendFoo))

		_, _, err := Traced[string](flow, WithStreamTo(w))(t.Context(), "p")
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"step_names":["only"]`)
	})

	t.Run("WriteFailureIgnored", func(t *testing.T) {
		t.Parallel()
		flow := Start[string]().Use(Named("only", appendFoo))
		result, trace, err := Traced[string](flow, WithStreamTo(failingWriter{}))(t.Context(), "p")
		require.NoError(t, err)
		assert.Equal(t, "p foo", result)
		assert.Len(t, trace.Events, 1)
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, error2
}

func TestTracedContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, trace, err := Traced[string](Start[string]().Run(appendFoo))(ctx, "p")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, trace.Events)
	assert.Zero(t, trace.TotalErrors)
}

func TestFindEvent(t *testing.T) {
	t.Parallel()

	flow := Start[string]().
		Catch(RecoverPayload[string]()).
		Use(Named("fast", sleepStep(time.Millisecond))).
		Use(Named("slow", sleepStep(50*time.Millisecond))).
		Use(Named("error", failWith(fmt.Errorf("test error"))))

	_, trace, err := Traced[string](flow)(t.Context(), "p")
	require.NoError(t, err)

	testCases := []struct {
		name    string
		filters []TraceFilter
		want    string // expected step name, or "" if nil
	}{
		{
			name:    "FindSlowStep",
			filters: []TraceFilter{NoError(), NamePrefix("s"), MinDuration(10 * time.Millisecond)},
			want:    "slow",
		},
		{
			name:    "FindError",
			filters: []TraceFilter{HasError()},
			want:    "error",
		},
		{
			name:    "FindByName",
			filters: []TraceFilter{NameMatches("fa*")},
			want:    "fast",
		},
		{
			name:    "NoMatch",
			filters: []TraceFilter{MinDuration(time.Hour)},
		},
		{
			name:    "NoFiltersReturnsFirst",
			filters: nil,
			want:    "<catch>",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event := trace.FindEvent(tc.filters...)
			if tc.want == "" {
				assert.Nil(t, event)
				return
			}
			require.NotNil(t, event)
			assert.Equal(t, tc.want, event.Names[len(event.Names)-1])
		})
	}
}
