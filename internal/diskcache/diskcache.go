// Package diskcache memoizes deterministic fetch results on disk, one file per
// unique set of fetch parameters.
//
// Entries live at <root>/<namespace>/<key> and never expire. Writes go through
// a temp file and a rename, so a reader sees either no entry or a complete one.
// There is no locking: two processes fetching the same key concurrently will
// both call the fetch function and the last rename wins.
package diskcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"jdata/internal/fetcher"
)

// EnvCacheDir overrides the platform cache directory when set.
const EnvCacheDir = "JDATA_CACHE_DIR"

const keySeparator = "-"

// Cache is a namespaced on-disk result cache.
type Cache struct {
	root   string
	logger *slog.Logger
}

// New creates a cache rooted at root. The directory is created lazily on the
// first write.
func New(root string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{root: root, logger: logger}
}

// ResolveRoot returns override when it is non-empty, and the per-user cache
// directory for app otherwise.
func ResolveRoot(override, app string) (string, error) {
	if override != "" {
		return override, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user cache dir: %w", err)
	}
	return filepath.Join(dir, app), nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Key builds the canonical fetch key: parameter names sorted ascending, their
// values joined with "-". Callers must render dates with daterange.KeyLayout.
func Key(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]string, len(names))
	for i, name := range names {
		values[i] = params[name]
	}
	return strings.Join(values, keySeparator)
}

// Path returns the file holding the entry for key in namespace.
func (c *Cache) Path(namespace, key string) string {
	return filepath.Join(c.root, namespace, sanitize(key))
}

// Fetch returns the cached value for params in namespace, calling fn and
// persisting its result on a miss. Errors from fn are returned unchanged and
// nothing is stored. A nil cache calls fn every time.
func Fetch[V any](ctx context.Context, c *Cache, namespace string, params map[string]string, fn func(context.Context) (V, error)) (V, error) {
	var zero V
	if c == nil {
		return fn(ctx)
	}

	if err := checkNamespace(namespace); err != nil {
		return zero, err
	}
	key := Key(params)
	path := c.Path(namespace, key)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var v V
		derr := decode(data, &v)
		if derr == nil {
			c.logger.Debug("cache hit", "namespace", namespace, "key", key)
			return v, nil
		}
		c.logger.Warn("discarding unreadable cache entry",
			"namespace", namespace, "key", key, "error", derr)
	case !errors.Is(err, fs.ErrNotExist):
		return zero, fmt.Errorf("failed to read cache entry %s: %w", path, err)
	}

	c.logger.Debug("cache miss", "namespace", namespace, "key", key)
	v, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	if err := c.write(namespace, key, v); err != nil {
		return zero, err
	}
	return v, nil
}

// Clear removes every entry in namespace and returns how many were removed.
// A namespace that was never written is not an error.
func (c *Cache) Clear(namespace string) (int, error) {
	if err := checkNamespace(namespace); err != nil {
		return 0, err
	}
	dir := filepath.Join(c.root, namespace)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list cache namespace %s: %w", namespace, err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return count, fmt.Errorf("failed to remove cache entry %s: %w", e.Name(), err)
		}
		count++
	}
	return count, nil
}

func (c *Cache) write(namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	dir := filepath.Join(c.root, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.Path(namespace, key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// checkNamespace accepts only a single directory name below the root.
func checkNamespace(namespace string) error {
	if namespace == "" || namespace == "." || namespace == ".." ||
		strings.ContainsAny(namespace, `/\`) || filepath.Base(namespace) != namespace {
		return fetcher.NewInvalidArgumentError(fmt.Sprintf("invalid cache namespace %q", namespace))
	}
	return nil
}

// sanitize turns a key into a file name. The mapping is injective: path
// escaping never produces a lone "%" or "%2E", so the special cases below
// cannot collide with an escaped key.
func sanitize(key string) string {
	switch key {
	case "":
		return "%"
	case ".", "..":
		return strings.Repeat("%2E", len(key))
	}
	// PathEscape keeps ":" in path segments.
	return strings.ReplaceAll(url.PathEscape(key), ":", "%3A")
}
