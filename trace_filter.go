// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// TraceFilter selects trace events. Filters passed together must all hold.
type TraceFilter func(TraceEvent) bool

// FindEvent returns the earliest-started event accepted by every filter,
// or nil.
//
//	// The first slow step of the checkout flow
//	event := trace.FindEvent(
//	    flows.PathMatches("checkout/*"),
//	    flows.MinDuration(time.Second),
//	)
func (t *Trace) FindEvent(filters ...TraceFilter) *TraceEvent {
	i := slices.IndexFunc(t.Events, func(event TraceEvent) bool {
		return matchAll(event, filters)
	})
	if i < 0 {
		return nil
	}
	return &t.Events[i]
}

// Filter builds a new Trace from the events accepted by every filter,
// leaving t untouched.
//
// The summary fields describe the selection rather than the run: Duration
// adds up the selected events' own durations, TotalSteps and TotalErrors
// count them, and Start is the earliest selected start (t.Start when nothing
// was selected). RunID is carried over.
//
//	failedAndSlow := trace.Filter(flows.MinDuration(time.Second), flows.HasError())
func (t *Trace) Filter(filters ...TraceFilter) *Trace {
	sub := &Trace{
		RunID:  t.RunID,
		Events: make([]TraceEvent, 0, len(t.Events)),
	}
	for _, event := range t.Events {
		if !matchAll(event, filters) {
			continue
		}
		if len(sub.Events) == 0 || event.Start.Before(sub.Start) {
			sub.Start = event.Start
		}
		sub.Events = append(sub.Events, event)
		sub.Duration += event.Duration
		if event.Error != "" {
			sub.TotalErrors++
		}
	}
	sub.TotalSteps = len(sub.Events)
	if sub.TotalSteps == 0 {
		sub.Start = t.Start
	}
	return sub
}

// MinDuration keeps events whose own duration is at least d.
func MinDuration(d time.Duration) TraceFilter {
	return func(event TraceEvent) bool { return event.Duration >= d }
}

// MaxDuration keeps events whose own duration is at most d.
func MaxDuration(d time.Duration) TraceFilter {
	return func(event TraceEvent) bool { return event.Duration <= d }
}

// HasError keeps the events of steps that raised an error.
func HasError() TraceFilter {
	return func(event TraceEvent) bool { return event.Error != "" }
}

// NoError keeps the events of steps that raised no error.
func NoError() TraceFilter {
	return func(event TraceEvent) bool { return event.Error == "" }
}

// NameMatches keeps events whose innermost name matches a doublestar glob
// such as "reserve-*" or "{charge,refund}". An invalid pattern keeps nothing.
func NameMatches(pattern string) TraceFilter {
	return globFilter(pattern, innermostName)
}

// NamePrefix keeps events whose innermost name starts with prefix.
func NamePrefix(prefix string) TraceFilter {
	return func(event TraceEvent) bool {
		name, ok := innermostName(event)
		return ok && strings.HasPrefix(name, prefix)
	}
}

// PathMatches keeps events whose slash-joined name path matches a
// doublestar glob. A "*" stays within one level; a trailing "/**" also
// takes in the parent itself:
//
//	flows.PathMatches("checkout/*")   // direct children of checkout
//	flows.PathMatches("checkout/**")  // checkout and everything below it
//
// An invalid pattern keeps nothing.
func PathMatches(pattern string) TraceFilter {
	return globFilter(pattern, stepPath)
}

// HasPathPrefix keeps events nested under (or equal to) the given names.
//
//	flows.HasPathPrefix([]string{"checkout", "payment"})
func HasPathPrefix(prefix []string) TraceFilter {
	return func(event TraceEvent) bool {
		return len(event.Names) >= len(prefix) && slices.Equal(event.Names[:len(prefix)], prefix)
	}
}

// DepthEquals keeps events with exactly depth names. Steps of the traced
// flow have depth 1, steps of a flow nested in it depth 2, and so on.
func DepthEquals(depth int) TraceFilter {
	return func(event TraceEvent) bool { return len(event.Names) == depth }
}

// DepthAtMost keeps events with at most depth names.
func DepthAtMost(depth int) TraceFilter {
	return func(event TraceEvent) bool { return len(event.Names) <= depth }
}

// TimeRange keeps events that started in [start, end].
//
//	early := flows.TimeRange(trace.Start, trace.Start.Add(time.Second))
func TimeRange(start, end time.Time) TraceFilter {
	return func(event TraceEvent) bool {
		return !event.Start.Before(start) && !event.Start.After(end)
	}
}

// ErrorMatches keeps events whose error message matches a doublestar glob.
// A "*" does not cross a "/" in the message, so slashes must be matched
// literally:
//
//	flows.ErrorMatches("*timeout*")      // mentions timeout, no slash after it
//	flows.ErrorMatches("*i/o timeout")   // ends in i/o timeout
//	flows.ErrorMatches("connection *")
//
// An invalid pattern keeps nothing.
func ErrorMatches(pattern string) TraceFilter {
	return globFilter(pattern, func(event TraceEvent) (string, bool) {
		return event.Error, event.Error != ""
	})
}

func matchAll(event TraceEvent, filters []TraceFilter) bool {
	for _, keep := range filters {
		if !keep(event) {
			return false
		}
	}
	return true
}

// globFilter matches pattern against the string subject extracts. Events
// without a subject never match.
func globFilter(pattern string, subject func(TraceEvent) (string, bool)) TraceFilter {
	if !doublestar.ValidatePattern(pattern) {
		return func(TraceEvent) bool { return false }
	}
	return func(event TraceEvent) bool {
		s, ok := subject(event)
		if !ok {
			return false
		}
		matched, err := doublestar.Match(pattern, s)
		return err == nil && matched
	}
}

func innermostName(event TraceEvent) (string, bool) {
	if len(event.Names) == 0 {
		return "", false
	}
	return event.Names[len(event.Names)-1], true
}

func stepPath(event TraceEvent) (string, bool) {
	if len(event.Names) == 0 {
		return "", false
	}
	return strings.Join(event.Names, "/"), true
}
