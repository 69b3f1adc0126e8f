package testutil

import (
	"context"
	"sync/atomic"

	"jdata/internal/daterange"
	"jdata/internal/fetcher"
)

// MockRangeFetcher is a mock implementation of the RangeFetcher interface for testing
type MockRangeFetcher struct {
	NS        string
	FetchFunc func(ctx context.Context, r daterange.Range) ([]fetcher.Record, error)
	ParamFunc func(r daterange.Range) map[string]string

	calls atomic.Int32
}

// Namespace implements the RangeFetcher interface
func (m *MockRangeFetcher) Namespace() string {
	if m.NS != "" {
		return m.NS
	}
	return "mock"
}

// Params implements the RangeFetcher interface
func (m *MockRangeFetcher) Params(r daterange.Range) map[string]string {
	if m.ParamFunc != nil {
		return m.ParamFunc(r)
	}
	return map[string]string{
		"from_date": r.Start.Format(daterange.KeyLayout),
		"to_date":   r.End.Format(daterange.KeyLayout),
	}
}

// FetchRange implements the RangeFetcher interface and counts invocations
func (m *MockRangeFetcher) FetchRange(ctx context.Context, r daterange.Range) ([]fetcher.Record, error) {
	m.calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, r)
	}
	return nil, nil
}

// Calls returns how many times FetchRange ran
func (m *MockRangeFetcher) Calls() int {
	return int(m.calls.Load())
}

// NewDailyFetcher returns a fetcher that yields one record per day of the
// requested range, newest first, with the date under "date".
func NewDailyFetcher(namespace string) *MockRangeFetcher {
	return &MockRangeFetcher{
		NS: namespace,
		FetchFunc: func(ctx context.Context, r daterange.Range) ([]fetcher.Record, error) {
			var out []fetcher.Record
			for d := r.End; !d.Before(r.Start); d = d.AddDate(0, 0, -1) {
				out = append(out, fetcher.Record{"date": d.Format(daterange.KeyLayout)})
			}
			return out, nil
		},
	}
}

// NewFailingFetcher returns a fetcher whose every call fails with err
func NewFailingFetcher(namespace string, err error) *MockRangeFetcher {
	return &MockRangeFetcher{
		NS: namespace,
		FetchFunc: func(ctx context.Context, r daterange.Range) ([]fetcher.Record, error) {
			return nil, err
		},
	}
}
