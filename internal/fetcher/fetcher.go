package fetcher

import (
	"context"

	"jdata/internal/daterange"
)

// RangeFetcher is the core interface every historical series must implement.
// A series is fetched one calendar-month sub-range at a time; each sub-range
// result is cached under Namespace with the key built from Params.
type RangeFetcher interface {
	// Namespace names the cache directory for this series, e.g. nsehistory-stock.
	Namespace() string

	// Params returns every parameter that shapes the request for r, with
	// dates rendered in daterange.KeyLayout. Two calls that would hit the
	// upstream with the same request must return equal maps.
	Params(r daterange.Range) map[string]string

	// FetchRange retrieves the records for r, newest first. A range without
	// data yields an empty slice and no error.
	FetchRange(ctx context.Context, r daterange.Range) ([]Record, error)
}
