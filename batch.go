// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// IndexedError wraps an error with the index of the payload whose execution
// failed in [Flow.ExecuteAll].
//
// Example:
//
//	_, err := flow.ExecuteAll(ctx, payloads, flows.BatchOptions{})
//	var ie *flows.IndexedError
//	if errors.As(err, &ie) {
//	    fmt.Printf("payload %d failed: %v\n", ie.Index, ie.Err)
//	}
type IndexedError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *IndexedError) Error() string {
	return fmt.Sprintf("payload %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error for error inspection via errors.Is and errors.As.
func (e *IndexedError) Unwrap() error {
	return e.Err
}

// BatchOptions specifies how [Flow.ExecuteAll] runs executions.
type BatchOptions struct {
	// Limit controls how many executions may run at once.
	//
	// Numbers less than or equal to zero indicate no limit.
	Limit int

	// JoinErrors controls error handling.
	//
	// By default, when false, the first failed execution cancels the context
	// of the rest, and its error is returned. (This is the behavior of the
	// `errgroup` package.)
	//
	// If enabled, every execution runs to completion regardless of errors,
	// and a combined `errors.Join` error of all failures is returned.
	JoinErrors bool
}

// ExecuteAll executes the flow once for every payload, concurrently, and
// returns the results in the order of payloads.
//
// Each execution is independent and runs its steps one at a time, exactly
// like [Flow.Execute]; only the executions overlap. Steps that share state
// across payloads must synchronize it themselves.
//
// Failures are wrapped in [IndexedError]. The result slice always has one
// entry per payload; entries of failed executions hold the zero value.
func (f *Flow[T]) ExecuteAll(ctx context.Context, payloads []T, opts BatchOptions) ([]T, error) {
	results := make([]T, len(payloads))

	group, groupCtx := errgroup.WithContext(ctx)
	if opts.Limit > 0 {
		group.SetLimit(opts.Limit)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	for i, payload := range payloads {
		group.Go(func() error {
			result, err := f.Execute(groupCtx, payload)
			if err == nil {
				results[i] = result
				return nil
			}
			err = &IndexedError{Index: i, Err: err}
			if !opts.JoinErrors {
				return err
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}
