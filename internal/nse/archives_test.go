package nse

import (
	"archive/zip"
	"bytes"
	"context"
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
)

const foBhavcopy = `INSTRUMENT,SYMBOL,EXPIRY_DT,STRIKE_PR,OPTION_TYP,OPEN,HIGH,LOW,CLOSE,SETTLE_PR,CONTRACTS,VAL_INLAKH,OPEN_INT,CHG_IN_OI,TIMESTAMP,
FUTIDX,NIFTY,30-Jan-2020,0,XX,12200,12290,12190,12280,12280,100,9000,1000,10,02-JAN-2020,
FUTIDX,NIFTY,27-Feb-2020,0,XX,12250,12330,12240,12320,12320,50,4000,800,5,02-JAN-2020,
FUTIDX,NIFTY,26-Mar-2020,0,XX,0,0,0,12350,12350,0,0,0,0,02-JAN-2020,
OPTIDX,NIFTY,09-Jan-2020,12000,CE,250,300,240,290,290,500,60000,2000,20,02-JAN-2020,
FUTSTK,SBIN,30-Jan-2020,0,XX,335,340,333,339,339,10,100,100,1,02-JAN-2020,
`

func zipped(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newFakeArchives(t *testing.T, hits *atomic.Int32) (*httptest.Server, *httptest.Server) {
	t.Helper()
	cm := zipped(t, "cm02JAN2020bhav.csv", "SYMBOL,SERIES,OPEN\nSBIN,EQ,334.7\n")
	fo := zipped(t, "fo02JAN2020bhav.csv", foBhavcopy)

	mux := http.NewServeMux()
	mux.HandleFunc("/content/historical/EQUITIES/2020/JAN/cm02JAN2020bhav.csv.zip", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(cm)
	})
	mux.HandleFunc("/content/historical/DERIVATIVES/2020/JAN/fo02JAN2020bhav.csv.zip", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(fo)
	})
	mux.HandleFunc("/products/content/sec_bhavdata_full_02012020.csv", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("SYMBOL, SERIES, DATE1\nSBIN, EQ, 02-Jan-2020\n"))
	})
	mux.HandleFunc("/content/equities/bulk.csv", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("Date,Symbol\n02-Jan-2020,SBIN\n"))
	})
	mux.HandleFunc("/content/historical/EQUITIES/2020/FEB/cm03FEB2020bhav.csv.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a zip"))
	})
	archives := httptest.NewServer(mux)
	t.Cleanup(archives.Close)

	indices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/Daily_Snapshot/ind_close_all_02012020.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("Index Name,Index Date\nNifty 50,02-01-2020\n"))
	}))
	t.Cleanup(indices.Close)

	return archives, indices
}

func TestArchives_Downloads(t *testing.T) {
	var hits atomic.Int32
	archives, indices := newFakeArchives(t, &hits)
	a := NewArchives(archives.URL, indices.URL, noRetry)
	ctx := context.Background()
	day := date(2020, 1, 2)

	text, err := a.Bhavcopy(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "SYMBOL,SERIES,OPEN\nSBIN,EQ,334.7\n", text)

	text, err = a.FullBhavcopy(ctx, day)
	require.NoError(t, err)
	assert.Contains(t, text, "SBIN, EQ")

	text, err = a.BulkDeals(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "02-Jan-2020,SBIN")

	text, err = a.FOBhavcopy(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, foBhavcopy, text)

	text, err = a.IndexBhavcopy(ctx, day)
	require.NoError(t, err)
	assert.Contains(t, text, "Nifty 50")
}

func TestArchives_NotAZip(t *testing.T) {
	var hits atomic.Int32
	archives, indices := newFakeArchives(t, &hits)
	a := NewArchives(archives.URL, indices.URL, noRetry)

	_, err := a.Bhavcopy(context.Background(), date(2020, 2, 3))
	assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeFormat), "got %v", err)
}

func TestArchives_MissingFile(t *testing.T) {
	var hits atomic.Int32
	archives, indices := newFakeArchives(t, &hits)
	a := NewArchives(archives.URL, indices.URL, noRetry)

	_, err := a.IndexBhavcopy(context.Background(), date(2020, 1, 3))
	assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeClient), "got %v", err)
}

func TestArchives_FullBhavcopyTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	a := NewArchives(slow.URL, slow.URL, noRetry, fetcher.WithTimeout(50*time.Millisecond))

	_, err := a.FullBhavcopy(context.Background(), date(2019, 6, 3))
	require.Error(t, err)
	assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeTimeout))
	assert.Contains(t, err.Error(), "2019 and prior dates")

	_, err = a.FullBhavcopy(context.Background(), date(2021, 6, 3))
	require.Error(t, err)
	assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeTimeout))
	assert.NotContains(t, err.Error(), "2019 and prior dates")
}

func TestArchives_Save(t *testing.T) {
	var hits atomic.Int32
	archives, indices := newFakeArchives(t, &hits)
	a := NewArchives(archives.URL, indices.URL, noRetry)
	ctx := context.Background()
	dest := t.TempDir()
	day := date(2020, 1, 2)

	tests := []struct {
		kind BhavcopyKind
		name string
	}{
		{KindEquity, "cm02Jan2020bhav.csv"},
		{KindFull, "sec_bhavdata_full_02Jan2020bhav.csv"},
		{KindFO, "fo02Jan2020bhav.csv"},
		{KindIndex, "ind_close_all_02012020.csv"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			path, err := a.Save(ctx, tt.kind, day, dest, true)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dest, tt.name), path)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotEmpty(t, data)

			before := hits.Load()
			_, err = a.Save(ctx, tt.kind, day, dest, true)
			require.NoError(t, err)
			assert.Equal(t, before, hits.Load(), "present file must not be downloaded again")

			_, err = a.Save(ctx, tt.kind, day, dest, false)
			require.NoError(t, err)
			assert.Equal(t, before+1, hits.Load())
		})
	}
}

func TestArchives_ExpiryDates(t *testing.T) {
	var hits atomic.Int32
	archives, indices := newFakeArchives(t, &hits)
	a := NewArchives(archives.URL, indices.URL, noRetry)
	day := date(2020, 1, 2)

	tests := []struct {
		name       string
		instrument string
		symbol     string
		min        int64
		want       []time.Time
	}{
		{"nifty futures", InstrumentFutureIndex, "NIFTY", 0, []time.Time{date(2020, 1, 30), date(2020, 2, 27)}},
		{"liquid nifty futures", InstrumentFutureIndex, "NIFTY", 50, []time.Time{date(2020, 1, 30)}},
		{"everything traded", "", "", 0, []time.Time{date(2020, 1, 9), date(2020, 1, 30), date(2020, 2, 27)}},
		{"sbin", "", "SBIN", 0, []time.Time{date(2020, 1, 30)}},
		{"nothing", InstrumentOptionStock, "", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ExpiryDates(context.Background(), day, tt.instrument, tt.symbol, tt.min)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBhavcopyKind(t *testing.T) {
	k, err := ParseBhavcopyKind("FO")
	require.NoError(t, err)
	assert.Equal(t, KindFO, k)

	_, err = ParseBhavcopyKind("bonds")
	assert.True(t, fetcher.IsType(err, fetcher.ErrorTypeInvalidArgument))
}
