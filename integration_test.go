package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jdata/internal/fetcher"
	"jdata/internal/nse"
)

// fakeNSE serves the equity history API with one record per calendar day of
// the requested range, newest first.
type fakeNSE struct {
	*httptest.Server
	history atomic.Int32
	warmUps atomic.Int32
}

func newFakeNSE(t *testing.T) *fakeNSE {
	t.Helper()
	f := &fakeNSE{}

	mux := http.NewServeMux()
	mux.HandleFunc("/get-quotes/equity", func(w http.ResponseWriter, r *http.Request) {
		f.warmUps.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "nseappid", Value: "integration", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/historical/cm/equity", func(w http.ResponseWriter, r *http.Request) {
		f.history.Add(1)
		q := r.URL.Query()
		from, err := time.Parse("02-01-2006", q.Get("from"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		to, err := time.Parse("02-01-2006", q.Get("to"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var data []map[string]any
		for d := to; !d.Before(from); d = d.AddDate(0, 0, -1) {
			data = append(data, map[string]any{
				"CH_TIMESTAMP":          d.Format("2006-01-02"),
				"CH_SERIES":             "EQ",
				"CH_OPENING_PRICE":      100.5,
				"CH_TRADE_HIGH_PRICE":   104,
				"CH_TRADE_LOW_PRICE":    99.25,
				"CH_PREVIOUS_CLS_PRICE": 100,
				"CH_LAST_TRADED_PRICE":  102,
				"CH_CLOSING_PRICE":      102.1,
				"VWAP":                  101.7,
				"CH_52WEEK_HIGH_PRICE":  120,
				"CH_52WEEK_LOW_PRICE":   80,
				"CH_TOT_TRADED_QTY":     12000000,
				"CH_TOT_TRADED_VAL":     1.2e9,
				"CH_TOTAL_TRADES":       45210,
				"CH_SYMBOL":             q.Get("symbol"),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// setupEnv points the configuration at the fake servers and a private cache.
func setupEnv(t *testing.T, nseURL string) string {
	t.Helper()
	home := t.TempDir()
	cacheDir := filepath.Join(home, "cache")
	t.Setenv("HOME", home)
	t.Setenv("JDATA_CACHE_DIR", cacheDir)
	t.Setenv("JDATA_RETRY_COUNT", "0")
	t.Setenv("JDATA_LOG_LEVEL", "error")
	t.Setenv("NSE_BASE_URL", nseURL)
	return cacheDir
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(context.Background(), append([]string{"jdata"}, args...))
	return stdout.String(), err
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestIntegration_StockHistory(t *testing.T) {
	server := newFakeNSE(t)
	cacheDir := setupEnv(t, server.URL)
	out := filepath.Join(t.TempDir(), "sbin.csv")

	args := []string{"--no-progress", "stock", "-s", "SBIN", "-f", "2001-01-15", "-t", "2002-01-15", "-o", out}
	_, err := runApp(t, args...)
	require.NoError(t, err)

	// 2001-01-15 .. 2002-01-15 spans thirteen calendar months.
	entries, err := os.ReadDir(filepath.Join(cacheDir, nse.NamespaceStock))
	require.NoError(t, err)
	assert.Len(t, entries, 13)
	assert.Equal(t, int32(13), server.history.Load())
	assert.Equal(t, int32(1), server.warmUps.Load())

	rows := readCSV(t, out)
	require.Len(t, rows, 1+366)
	assert.Equal(t, "DATE", rows[0][0])
	assert.Equal(t, "SYMBOL", rows[0][len(rows[0])-1])
	assert.Equal(t, "2002-01-15", rows[1][0])
	assert.Equal(t, "2001-01-15", rows[len(rows)-1][0])
	for i := 2; i < len(rows); i++ {
		assert.Greater(t, rows[i-1][0], rows[i][0], "row %d is not newest first", i)
	}

	// A second run is served entirely from the cache.
	out2 := filepath.Join(t.TempDir(), "sbin.csv")
	args[len(args)-1] = out2
	_, err = runApp(t, args...)
	require.NoError(t, err)
	assert.Equal(t, int32(13), server.history.Load())
	assert.Equal(t, rows, readCSV(t, out2))
}

func TestIntegration_NoCacheAndSequential(t *testing.T) {
	server := newFakeNSE(t)
	cacheDir := setupEnv(t, server.URL)

	for i := 0; i < 2; i++ {
		out, err := runApp(t, "--no-cache", "--no-progress", "--sequential",
			"stock", "-s", "SBIN", "-f", "2023-01-30", "-t", "2023-03-02", "--format", "table")
		require.NoError(t, err)
		assert.Contains(t, out, "SBIN")
		assert.Contains(t, out, "2023-03-02")
	}

	assert.Equal(t, int32(6), server.history.Load())
	_, err := os.Stat(cacheDir)
	assert.True(t, os.IsNotExist(err), "no cache directory expected, got %v", err)
}

func TestIntegration_CacheClear(t *testing.T) {
	server := newFakeNSE(t)
	setupEnv(t, server.URL)
	out := filepath.Join(t.TempDir(), "sbin.csv")

	_, err := runApp(t, "--no-progress", "stock", "-s", "SBIN", "-f", "2023-01-01", "-t", "2023-03-31", "-o", out)
	require.NoError(t, err)

	stdout, err := runApp(t, "cache", "clear", "--namespace", nse.NamespaceStock)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s: removed 3 entries\n", nse.NamespaceStock), stdout)

	_, err = runApp(t, "--no-progress", "stock", "-s", "SBIN", "-f", "2023-01-01", "-t", "2023-03-31", "-o", out)
	require.NoError(t, err)
	assert.Equal(t, int32(6), server.history.Load())
}

func TestIntegration_CacheClearStaysInsideCache(t *testing.T) {
	cacheDir := setupEnv(t, "http://127.0.0.1:1")
	outside := filepath.Join(filepath.Dir(cacheDir), "notes.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep me"), 0o644))

	for _, ns := range []string{"..", "../..", "nsehistory-stock/../.."} {
		_, err := runApp(t, "cache", "clear", "-n", ns)
		require.Error(t, err)
		assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeInvalidArgument), "got %v", err)
	}
	assert.FileExists(t, outside)
}

func TestIntegration_EmptyResultWritesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nseappid", Value: "integration", Path: "/"})
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()
	setupEnv(t, server.URL)
	out := filepath.Join(t.TempDir(), "holiday.csv")

	_, err := runApp(t, "--no-progress", "stock", "-s", "SBIN", "-f", "2023-03-07", "-t", "2023-03-07", "-o", out)
	require.NoError(t, err)
	assert.NoFileExists(t, out)
}

func TestIntegration_IndexBhavcopyUsesArchivesHost(t *testing.T) {
	var hits atomic.Int32
	archives := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/Daily_Snapshot/ind_close_all_10032023.csv", r.URL.Path)
		fmt.Fprint(w, "Index Name,Index Date,Closing Index Value\nNifty 50,10-03-2023,17412.90\n")
	}))
	defer archives.Close()
	indices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("index snapshot requested from the history host: %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer indices.Close()

	setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("NIFTYINDICES_BASE_URL", indices.URL)
	t.Setenv("NIFTYINDICES_ARCHIVES_BASE_URL", archives.URL)
	dest := t.TempDir()

	stdout, err := runApp(t, "bhavcopy", "--kind", "index", "-d", "2023-03-10", "--dest", dest)
	require.NoError(t, err)

	path := filepath.Join(dest, "ind_close_all_10032023.csv")
	assert.Equal(t, path+"\n", stdout)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Nifty 50,10-03-2023,17412.90")
	assert.Equal(t, int32(1), hits.Load())
}

func TestIntegration_InvalidArguments(t *testing.T) {
	server := newFakeNSE(t)
	setupEnv(t, server.URL)

	tests := []struct {
		name string
		args []string
	}{
		{"inverted range", []string{"stock", "-s", "SBIN", "-f", "2023-03-10", "-t", "2023-03-01"}},
		{"unknown format", []string{"stock", "-s", "SBIN", "-f", "2023-03-01", "-t", "2023-03-10", "--format", "xml"}},
		{"option without strike", []string{"derivatives", "-s", "NIFTY", "-f", "2023-03-01", "-t", "2023-03-10",
			"-e", "2023-03-30", "-i", "OPTIDX"}},
		{"unknown bhavcopy kind", []string{"bhavcopy", "--kind", "weekly", "-d", "2023-03-10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, append([]string{"--no-progress"}, tt.args...)...)
			require.Error(t, err)
			assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeInvalidArgument), "got %v", err)
		})
	}
	assert.Equal(t, int32(0), server.history.Load())
}

func TestIntegration_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "nseappid", Value: "integration", Path: "/"})
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	cacheDir := setupEnv(t, server.URL)

	_, err := runApp(t, "--no-progress", "stock", "-s", "SBIN", "-f", "2023-03-01", "-t", "2023-03-10",
		"-o", filepath.Join(t.TempDir(), "out.csv"))
	require.Error(t, err)
	assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeServer), "got %v", err)

	_, statErr := os.Stat(filepath.Join(cacheDir, nse.NamespaceStock))
	assert.True(t, os.IsNotExist(statErr), "failed months must not be cached")
}

func TestIntegration_RBIRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="wrapper"><table>
			<tr><td>Policy Repo Rate</td><td>: 6.50%</td></tr>
			<tr><td>Bank Rate</td><td>: 6.75%*</td></tr>
			<tr><td>header only</td></tr>
		</table></div></body></html>`)
	}))
	defer server.Close()
	setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("RBI_BASE_URL", server.URL)

	out, err := runApp(t, "rbi")
	require.NoError(t, err)
	assert.Equal(t, "Bank Rate: 6.75%\nPolicy Repo Rate: 6.50%\n", out)
}

func TestIntegration_InvalidConfiguration(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("JDATA_WORKERS", "0")

	_, err := runApp(t, "rbi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers must be at least 1")
}
