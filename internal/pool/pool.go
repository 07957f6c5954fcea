// Package pool runs every match of a batch on a bounded set of workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of matches run at once
const DefaultWorkers = 6

// ErrSkipped marks a match that never ran because the batch was cancelled
var ErrSkipped = errors.New("match skipped")

// MatchRunner plays one match and returns its results file path
type MatchRunner interface {
	RunMatch(ctx context.Context, index int) (string, error)
}

// RunnerFunc adapts a function to MatchRunner
type RunnerFunc func(ctx context.Context, index int) (string, error)

// RunMatch calls f
func (f RunnerFunc) RunMatch(ctx context.Context, index int) (string, error) {
	return f(ctx, index)
}

// Policy decides what one failed match does to the batch
type Policy int

const (
	// Continue records the failure and keeps running the other matches
	Continue Policy = iota
	// FailFast cancels the remaining matches and returns the first failure
	FailFast
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	default:
		return "continue"
	}
}

// Monitor observes batch progress. Calls come from worker goroutines.
type Monitor interface {
	OnMatchStart(index, total int)
	OnMatchDone(outcome Outcome, completed, total int)
}

// Options configures Run
type Options struct {
	Workers int
	Policy  Policy
	Monitor Monitor
}

// Outcome is the result of one match: a results file or an error
type Outcome struct {
	Index      int
	ResultPath string
	Err        error
	Duration   time.Duration
}

// OK reports whether the match produced a results file
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Run calls runner once for every index in [0, total) with at most
// opts.Workers matches in flight. It returns only after every match has
// finished, with outcomes indexed by match index.
func Run(ctx context.Context, runner MatchRunner, total int, opts Options) ([]Outcome, error) {
	if total < 0 {
		return nil, fmt.Errorf("total matches must not be negative, got %d", total)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	outcomes := make([]Outcome, total)
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < total; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{Index: i, Err: fmt.Errorf("%w: %v", ErrSkipped, err)}
				return nil
			}

			if opts.Monitor != nil {
				opts.Monitor.OnMatchStart(i, total)
			}

			start := time.Now()
			path, err := runner.RunMatch(gctx, i)
			outcomes[i] = Outcome{
				Index:      i,
				ResultPath: path,
				Err:        err,
				Duration:   time.Since(start),
			}

			done := int(completed.Add(1))
			if opts.Monitor != nil {
				opts.Monitor.OnMatchDone(outcomes[i], done, total)
			}

			if err != nil && opts.Policy == FailFast {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

// Succeeded returns the outcomes that produced results, in index order
func Succeeded(outcomes []Outcome) []Outcome {
	var ok []Outcome
	for _, o := range outcomes {
		if o.OK() {
			ok = append(ok, o)
		}
	}
	return ok
}

// Failed returns the outcomes that did not, in index order
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}
