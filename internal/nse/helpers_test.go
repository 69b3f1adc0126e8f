package nse

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"jdata/internal/coordinator"
	"jdata/internal/diskcache"
	"jdata/internal/fetcher"
	"jdata/internal/pool"
)

// noRetry keeps failing tests fast.
var noRetry = fetcher.WithRetry(0, time.Millisecond, time.Millisecond)

func newTestCoordinator(t *testing.T) (*coordinator.Coordinator, string) {
	t.Helper()
	root := t.TempDir()
	return coordinator.New(diskcache.New(root, nil), pool.DefaultOptions(), nil), root
}

// requestLog records the query of every request to a path.
type requestLog struct {
	mu      sync.Mutex
	queries map[string][]map[string]string
}

func newRequestLog() *requestLog {
	return &requestLog{queries: make(map[string][]map[string]string)}
}

func (l *requestLog) record(r *http.Request) map[string]string {
	q := make(map[string]string)
	for k, v := range r.URL.Query() {
		q[k] = v[0]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries[r.URL.Path] = append(l.queries[r.URL.Path], q)
	return q
}

func (l *requestLog) count(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queries[path])
}

func (l *requestLog) all(path string) []map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]string(nil), l.queries[path]...)
}

func setSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "test-session", Path: "/"})
}

// withSequential returns a coordinator sharing c's cache that runs one
// request at a time, for tests that inspect request order.
func withSequential(c *coordinator.Coordinator) *coordinator.Coordinator {
	return coordinator.New(c.Cache(), pool.Options{Concurrent: false}, nil)
}
