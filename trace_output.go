// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteTo serializes the trace events as a pretty-printed JSON array.
//
// Returns the number of bytes written and any error. This is different from
// streaming (via [WithStreamTo]), which outputs JSON Lines during execution.
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	data, err := json.MarshalIndent(t.Events, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal trace: %w", err)
	}
	data = append(data, '\n')

	n, err := w.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write trace: %w", err)
	}
	return int64(n), nil
}

// WriteText outputs a human-readable tree view of the trace.
//
// Indentation reflects nesting depth and the displayed name is the last
// element of the step path. Each line shows the step's own duration and,
// after a slash, the duration including the steps it delegated to.
//
// Example output:
//
//	trim (12µs / 2.1ms)
//	checkout (1.9ms / 2ms)
//	  reserve-stock (1.2ms / 1.3ms)
//	  charge (700µs / 700µs) [ERROR: card declined]
func (t *Trace) WriteText(w io.Writer) (int64, error) {
	var totalBytes int64
	for _, event := range t.Events {
		depth := max(len(event.Names)-1, 0)
		indent := strings.Repeat("  ", depth)

		name := "<unknown>"
		if len(event.Names) > 0 {
			name = event.Names[len(event.Names)-1]
		}

		n, err := io.WriteString(w, indent+formatEvent(name, event))
		totalBytes += int64(n)
		if err != nil {
			return totalBytes, fmt.Errorf("failed to write text: %w", err)
		}
	}
	return totalBytes, nil
}

// WriteFlatText outputs a human-readable flat list of events with full paths
// (e.g., "checkout > charge") and no indentation.
//
// Example output:
//
//	trim (12µs / 2.1ms)
//	checkout (1.9ms / 2ms)
//	checkout > reserve-stock (1.2ms / 1.3ms)
//	checkout > charge (700µs / 700µs) [ERROR: card declined]
func (t *Trace) WriteFlatText(w io.Writer) (int64, error) {
	var totalBytes int64
	for _, event := range t.Events {
		path := "<unknown>"
		if len(event.Names) > 0 {
			path = strings.Join(event.Names, " > ")
		}

		n, err := io.WriteString(w, formatEvent(path, event))
		totalBytes += int64(n)
		if err != nil {
			return totalBytes, fmt.Errorf("failed to write flat text: %w", err)
		}
	}
	return totalBytes, nil
}

func formatEvent(label string, event TraceEvent) string {
	line := fmt.Sprintf("%s (%s / %s)", label, event.Duration, event.Total)
	if event.Error != "" {
		line += fmt.Sprintf(" [ERROR: %s]", event.Error)
	}
	return line + "\n"
}
