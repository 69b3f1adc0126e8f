package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jdata/internal/daterange"
	"jdata/internal/diskcache"
	"jdata/internal/fetcher"
	"jdata/internal/pool"
)

// Coordinator fetches historical series one calendar month at a time,
// through the disk cache and a bounded worker pool, and merges the
// chunks newest first.
type Coordinator struct {
	cache  *diskcache.Cache
	opts   pool.Options
	logger *slog.Logger
}

// New creates a new Coordinator. A nil cache disables caching.
func New(cache *diskcache.Cache, opts pool.Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cache:  cache,
		opts:   opts,
		logger: logger,
	}
}

// Cache returns the disk cache, nil when caching is disabled.
func (c *Coordinator) Cache() *diskcache.Cache {
	return c.cache
}

// Options returns the pool options used for every series.
func (c *Coordinator) Options() pool.Options {
	return c.opts
}

// FetchSeries retrieves every record of f between from and to inclusive.
// Sub-ranges are fetched newest first and their records concatenated in that
// order without re-sorting. The first failing sub-range fails the whole call.
func (c *Coordinator) FetchSeries(ctx context.Context, from, to time.Time, f fetcher.RangeFetcher) ([]fetcher.Record, error) {
	ranges, err := daterange.Partition(from, to)
	if err != nil {
		return nil, fetcher.NewInvalidArgumentError(err.Error())
	}
	ranges = daterange.Reverse(ranges)

	ns := f.Namespace()
	c.logger.Debug("fetching series",
		"namespace", ns,
		"from", from.Format(daterange.KeyLayout),
		"to", to.Format(daterange.KeyLayout),
		"chunks", len(ranges))

	chunks, err := pool.Map(ctx, ranges, func(ctx context.Context, r daterange.Range) ([]fetcher.Record, error) {
		return diskcache.Fetch(ctx, c.cache, ns, f.Params(r), func(ctx context.Context) ([]fetcher.Record, error) {
			return f.FetchRange(ctx, r)
		})
	}, c.opts)
	if err != nil {
		c.logger.Warn("series fetch failed", "namespace", ns, "error", err)
		return nil, fmt.Errorf("%s %s..%s: %w", ns,
			from.Format(daterange.KeyLayout), to.Format(daterange.KeyLayout), err)
	}

	return fetcher.Flatten(chunks), nil
}
