package ratelimit

import (
	"context"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// API represents the different upstream hosts we talk to
type API string

const (
	// APINSE represents the www.nseindia.com JSON API
	APINSE API = "nse"
	// APINSEArchives represents the archive file host (bhavcopies, bulk deals)
	APINSEArchives API = "nsearchives"
	// APINiftyIndices represents the niftyindices.com backend
	APINiftyIndices API = "niftyindices"
	// APIBSE represents the BSE India API
	APIBSE API = "bse"
	// APIRBI represents the RBI website
	APIRBI API = "rbi"
)

// Limiter manages rate limits for different APIs
type Limiter struct {
	limiters map[API]*rate.Limiter
	mu       sync.RWMutex
}

var (
	instance *Limiter
	once     sync.Once
)

// GetLimiter returns the singleton rate limiter instance
func GetLimiter() *Limiter {
	once.Do(func() {
		instance = &Limiter{
			limiters: make(map[API]*rate.Limiter),
		}
		instance.initLimiters()
	})
	return instance
}

// initLimiters initializes rate limiters for each API with conservative defaults
func (l *Limiter) initLimiters() {
	// Unlimited in tests so httptest servers are hit immediately
	if os.Getenv("GO_TESTING") == "1" || isTestMode() {
		for _, api := range []API{APINSE, APINSEArchives, APINiftyIndices, APIBSE, APIRBI} {
			l.limiters[api] = rate.NewLimiter(rate.Inf, 1)
		}
		return
	}

	// NSE blocks clients that burst; 3 requests per second with a burst of 2
	// keeps a two-worker pool busy without tripping it.
	l.limiters[APINSE] = rate.NewLimiter(rate.Limit(3), 2)

	// Archive downloads are larger and slower
	l.limiters[APINSEArchives] = rate.NewLimiter(rate.Limit(2), 1)

	l.limiters[APINiftyIndices] = rate.NewLimiter(rate.Limit(2), 2)

	l.limiters[APIBSE] = rate.NewLimiter(rate.Limit(2), 1)

	// One page, fetched rarely
	l.limiters[APIRBI] = rate.NewLimiter(rate.Limit(1), 1)
}

// SetLimit replaces the limit for api. Used by configuration overrides and tests.
func (l *Limiter) SetLimit(api API, limit rate.Limit, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[api] = rate.NewLimiter(limit, burst)
}

// isTestMode checks if we're running in test mode
func isTestMode() bool {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

// Wait blocks until the rate limiter permits an event for the given API
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, api API) error {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this API, allow the request without limiting
		return nil
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event for the given API may happen now
func (l *Limiter) Allow(api API) bool {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		return true
	}

	return limiter.Allow()
}
