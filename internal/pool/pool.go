// Package pool runs one call per parameter, either sequentially or on a
// bounded set of goroutines, and returns the results in parameter order.
//
// Both modes fail fast. Sequential execution stops at the first error.
// Concurrent execution cancels the context handed to the calls that have not
// finished yet and reports the first error that occurred. Neither mode returns
// partial results.
package pool

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/iter"
)

// DefaultMaxWorkers matches the number of parallel requests the upstream
// sites tolerate without throttling.
const DefaultMaxWorkers = 2

// Options controls how Map executes.
type Options struct {
	// Concurrent selects the worker pool; false runs calls one by one.
	Concurrent bool
	// MaxWorkers bounds the number of calls in flight. Values below 1 mean
	// DefaultMaxWorkers.
	MaxWorkers int
	// OnDone, if set, is called after every successful call. It may be
	// called from several goroutines.
	OnDone func()
}

// DefaultOptions returns concurrent execution with DefaultMaxWorkers.
func DefaultOptions() Options {
	return Options{Concurrent: true, MaxWorkers: DefaultMaxWorkers}
}

// Map calls fn once for every element of params and returns the results in
// the same order as params.
func Map[P, R any](ctx context.Context, params []P, fn func(context.Context, P) (R, error), opts Options) ([]R, error) {
	if !opts.Concurrent {
		return sequential(ctx, params, fn, opts)
	}
	return concurrent(ctx, params, fn, opts)
}

func sequential[P, R any](ctx context.Context, params []P, fn func(context.Context, P) (R, error), opts Options) ([]R, error) {
	results := make([]R, 0, len(params))
	for _, p := range params {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := fn(ctx, p)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
		if opts.OnDone != nil {
			opts.OnDone()
		}
	}
	return results, nil
}

func concurrent[P, R any](ctx context.Context, params []P, fn func(context.Context, P) (R, error), opts Options) ([]R, error) {
	workers := opts.MaxWorkers
	if workers < 1 {
		workers = DefaultMaxWorkers
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	mapper := iter.Mapper[P, R]{MaxGoroutines: workers}
	results := mapper.Map(params, func(p *P) R {
		var zero R
		if err := ctx.Err(); err != nil {
			fail(err)
			return zero
		}
		r, err := fn(ctx, *p)
		if err != nil {
			fail(err)
			return zero
		}
		if opts.OnDone != nil {
			opts.OnDone()
		}
		return r
	})

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
