package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct{ a, b int }

func square(ctx context.Context, p pair) (int, error) {
	return (p.a + p.b) * (p.a + p.b), nil
}

func modes() map[string]Options {
	return map[string]Options{
		"concurrent": DefaultOptions(),
		"sequential": {Concurrent: false},
	}
}

func TestMap_PreservesOrder(t *testing.T) {
	params := []pair{{0, 1}, {1, 2}, {2, 3}}

	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			got, err := Map(context.Background(), params, square, opts)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 9, 25}, got)
		})
	}
}

func TestMap_OrderIndependentOfCompletion(t *testing.T) {
	params := []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 0}
	fn := func(ctx context.Context, d time.Duration) (time.Duration, error) {
		time.Sleep(d)
		return d, nil
	}

	got, err := Map(context.Background(), params, fn, Options{Concurrent: true, MaxWorkers: 3})
	require.NoError(t, err)
	assert.Equal(t, params, got)
}

func TestMap_Empty(t *testing.T) {
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			got, err := Map(context.Background(), []pair{}, square, opts)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestMap_FailFast(t *testing.T) {
	errBoom := errors.New("boom")

	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			fn := func(ctx context.Context, p pair) (int, error) {
				calls.Add(1)
				if p.a == 1 {
					return 0, errBoom
				}
				return p.a, nil
			}

			got, err := Map(context.Background(), []pair{{0, 0}, {1, 0}, {2, 0}}, fn, opts)
			assert.ErrorIs(t, err, errBoom)
			assert.Nil(t, got, "no partial results on failure")
		})
	}
}

func TestMap_SequentialStopsAtFirstError(t *testing.T) {
	errBoom := errors.New("boom")
	var calls int
	fn := func(ctx context.Context, p pair) (int, error) {
		calls++
		if p.a == 1 {
			return 0, errBoom
		}
		return p.a, nil
	}

	_, err := Map(context.Background(), []pair{{0, 0}, {1, 0}, {2, 0}, {3, 0}}, fn, Options{})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
}

func TestMap_ConcurrentCancelsRemaining(t *testing.T) {
	errBoom := errors.New("boom")
	var cancelled atomic.Int32

	fn := func(ctx context.Context, i int) (int, error) {
		if i == 0 {
			return 0, errBoom
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return 0, ctx.Err()
		case <-time.After(2 * time.Second):
			return i, nil
		}
	}

	start := time.Now()
	_, err := Map(context.Background(), []int{0, 1, 2, 3}, fn, Options{Concurrent: true, MaxWorkers: 4})
	assert.ErrorIs(t, err, errBoom, "the first error wins over cancellation errors")
	assert.Less(t, time.Since(start), time.Second)
}

func TestMap_BoundedWorkers(t *testing.T) {
	var inFlight, peak atomic.Int32
	fn := func(ctx context.Context, i int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return i, nil
	}

	params := make([]int, 12)
	_, err := Map(context.Background(), params, fn, Options{Concurrent: true, MaxWorkers: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMap_OnDone(t *testing.T) {
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			var done atomic.Int32
			opts.OnDone = func() { done.Add(1) }

			_, err := Map(context.Background(), []pair{{0, 1}, {1, 2}, {2, 3}}, square, opts)
			require.NoError(t, err)
			assert.Equal(t, int32(3), done.Load())
		})
	}
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			_, err := Map(ctx, []pair{{0, 1}}, square, opts)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}
