package nse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"resty.dev/v3"

	"jdata/internal/fetcher"
	"jdata/internal/ratelimit"
)

const (
	// DefaultArchivesBaseURL hosts the daily bhavcopy and bulk deal files.
	DefaultArchivesBaseURL = "https://nsearchives.nseindia.com"
	// DefaultIndexArchivesBaseURL hosts the daily index snapshot files.
	DefaultIndexArchivesBaseURL = "https://www.niftyindices.com"
	// DefaultArchiveTimeout bounds every archive download.
	DefaultArchiveTimeout = 4 * time.Second
)

// BhavcopyKind names one of the downloadable daily files.
type BhavcopyKind string

const (
	KindEquity BhavcopyKind = "cm"
	KindFull   BhavcopyKind = "full"
	KindFO     BhavcopyKind = "fo"
	KindIndex  BhavcopyKind = "index"
)

// ParseBhavcopyKind validates a kind given on the command line.
func ParseBhavcopyKind(s string) (BhavcopyKind, error) {
	k := BhavcopyKind(strings.ToLower(s))
	switch k {
	case KindEquity, KindFull, KindFO, KindIndex:
		return k, nil
	}
	return "", fetcher.NewInvalidArgumentError(fmt.Sprintf("unknown bhavcopy kind %q, should be one of cm, full, fo, index", s))
}

// fullBhavcopyCutoff is the first date the full bhavcopy is reliably served for.
var fullBhavcopyCutoff = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

var archiveHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/84.0.4147.125 Safari/537.36",
	"Accept":     "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9",
}

var indexArchiveHeaders = map[string]string{
	"Referer":          "https://www.nseindia.com",
	"X-Requested-With": "XMLHttpRequest",
	"Accept":           "*/*",
	"Accept-Language":  "en-GB,en-US;q=0.9,en;q=0.8",
	"Cache-Control":    "no-cache",
}

// Archives downloads daily exchange files. They are returned as text and
// never cached.
type Archives struct {
	client  *resty.Client
	indices *resty.Client
}

// NewArchives creates an Archives client. archivesURL serves equity and F&O
// files, indicesURL serves index snapshots.
func NewArchives(archivesURL, indicesURL string, opts ...fetcher.ClientOption) *Archives {
	return &Archives{
		client:  fetcher.NewHTTPClient(archivesURL, archiveOptions(archiveHeaders, opts)...),
		indices: fetcher.NewHTTPClient(indicesURL, archiveOptions(indexArchiveHeaders, opts)...),
	}
}

func archiveOptions(headers map[string]string, opts []fetcher.ClientOption) []fetcher.ClientOption {
	return append([]fetcher.ClientOption{
		fetcher.WithTimeout(DefaultArchiveTimeout),
		fetcher.WithHeaders(headers),
	}, opts...)
}

func upperMonth(d time.Time) string {
	return strings.ToUpper(d.Format("Jan"))
}

func (a *Archives) download(ctx context.Context, client *resty.Client, api ratelimit.API, path string) ([]byte, error) {
	if err := ratelimit.GetLimiter().Wait(ctx, api); err != nil {
		return nil, err
	}
	resp, err := client.R().SetContext(ctx).Get(path)
	if err := fetcher.CheckResponse(resp, err); err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return resp.Bytes(), nil
}

// unzipFirst returns the contents of the first file in a zip archive.
func unzipFirst(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fetcher.NewFormatError("failed to unzip archive", err)
	}
	if len(zr.File) == 0 {
		return "", fetcher.NewFormatError("archive is empty", nil)
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return "", fetcher.NewFormatError("failed to open "+zr.File[0].Name, err)
	}
	defer f.Close()

	text, err := io.ReadAll(f)
	if err != nil {
		return "", fetcher.NewFormatError("failed to read "+zr.File[0].Name, err)
	}
	return string(text), nil
}

// Bhavcopy returns the equity bhavcopy CSV for date.
func (a *Archives) Bhavcopy(ctx context.Context, date time.Time) (string, error) {
	path := fmt.Sprintf("/content/historical/EQUITIES/%d/%s/cm%s%s%dbhav.csv.zip",
		date.Year(), upperMonth(date), date.Format("02"), upperMonth(date), date.Year())
	data, err := a.download(ctx, a.client, ratelimit.APINSEArchives, path)
	if err != nil {
		return "", err
	}
	return unzipFirst(data)
}

// FullBhavcopy returns the security-wise full bhavcopy CSV for date. The
// archive times out instead of answering 404 for dates before 2020.
func (a *Archives) FullBhavcopy(ctx context.Context, date time.Time) (string, error) {
	path := "/products/content/sec_bhavdata_full_" + date.Format("02012006") + ".csv"
	data, err := a.download(ctx, a.client, ratelimit.APINSEArchives, path)
	if err != nil {
		if fetcher.IsType(err, fetcher.ErrorTypeTimeout) && date.Before(fullBhavcopyCutoff) {
			return "", &fetcher.FetchError{
				Type:      fetcher.ErrorTypeTimeout,
				Retryable: false,
				Message:   "either request timed out or full bhavcopy file is not available for given date (2019 and prior dates)",
				Cause:     err,
			}
		}
		return "", err
	}
	return string(data), nil
}

// BulkDeals returns the current bulk deals CSV.
func (a *Archives) BulkDeals(ctx context.Context) (string, error) {
	data, err := a.download(ctx, a.client, ratelimit.APINSEArchives, "/content/equities/bulk.csv")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FOBhavcopy returns the F&O bhavcopy CSV for date.
func (a *Archives) FOBhavcopy(ctx context.Context, date time.Time) (string, error) {
	path := fmt.Sprintf("/content/historical/DERIVATIVES/%d/%s/fo%s%s%dbhav.csv.zip",
		date.Year(), upperMonth(date), date.Format("02"), upperMonth(date), date.Year())
	data, err := a.download(ctx, a.client, ratelimit.APINSEArchives, path)
	if err != nil {
		return "", err
	}
	return unzipFirst(data)
}

// IndexBhavcopy returns the closing values of all indices for date.
func (a *Archives) IndexBhavcopy(ctx context.Context, date time.Time) (string, error) {
	path := "/Daily_Snapshot/ind_close_all_" + date.Format("02012006") + ".csv"
	data, err := a.download(ctx, a.indices, ratelimit.APINiftyIndices, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveName is the file name Save uses for kind on date.
func SaveName(kind BhavcopyKind, date time.Time) string {
	switch kind {
	case KindFull:
		return "sec_bhavdata_full_" + date.Format("02Jan2006") + "bhav.csv"
	case KindFO:
		return "fo" + date.Format("02Jan2006") + "bhav.csv"
	case KindIndex:
		return "ind_close_all_" + date.Format("02012006") + ".csv"
	default:
		return "cm" + date.Format("02Jan2006") + "bhav.csv"
	}
}

// Save downloads the kind file for date into dest and returns its path. With
// skipIfPresent an existing file is left untouched and nothing is downloaded.
func (a *Archives) Save(ctx context.Context, kind BhavcopyKind, date time.Time, dest string, skipIfPresent bool) (string, error) {
	path := filepath.Join(dest, SaveName(kind, date))
	if skipIfPresent {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	var (
		text string
		err  error
	)
	switch kind {
	case KindEquity:
		text, err = a.Bhavcopy(ctx, date)
	case KindFull:
		text, err = a.FullBhavcopy(ctx, date)
	case KindFO:
		text, err = a.FOBhavcopy(ctx, date)
	case KindIndex:
		text, err = a.IndexBhavcopy(ctx, date)
	default:
		_, err = ParseBhavcopyKind(string(kind))
	}
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// foContract is the subset of an F&O bhavcopy row ExpiryDates needs.
type foContract struct {
	Instrument string `csv:"INSTRUMENT"`
	Symbol     string `csv:"SYMBOL"`
	Expiry     string `csv:"EXPIRY_DT"`
	Contracts  int64  `csv:"CONTRACTS"`
}

// ExpiryDates lists the distinct contract expiry dates traded on date,
// ascending. Empty instrumentType or symbol match everything; only contracts
// with more than minContracts trades are counted.
func (a *Archives) ExpiryDates(ctx context.Context, date time.Time, instrumentType, symbol string, minContracts int64) ([]time.Time, error) {
	text, err := a.FOBhavcopy(ctx, date)
	if err != nil {
		return nil, err
	}
	return parseExpiryDates(text, instrumentType, symbol, minContracts)
}

func parseExpiryDates(text, instrumentType, symbol string, minContracts int64) ([]time.Time, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(r)
	if err != nil {
		return nil, fetcher.NewFormatError("failed to read F&O bhavcopy header", err)
	}

	seen := make(map[time.Time]struct{})
	var out []time.Time
	for {
		var c foContract
		if err := dec.Decode(&c); err == io.EOF {
			break
		} else if err != nil {
			return nil, fetcher.NewFormatError("failed to decode F&O bhavcopy row", err)
		}

		if instrumentType != "" && c.Instrument != instrumentType {
			continue
		}
		if symbol != "" && c.Symbol != symbol {
			continue
		}
		if c.Contracts <= minContracts {
			continue
		}

		expiry, err := time.Parse(expiryDateLayout, c.Expiry)
		if err != nil {
			return nil, fetcher.NewFormatError(fmt.Sprintf("bad expiry date %q", c.Expiry), err)
		}
		if _, ok := seen[expiry]; ok {
			continue
		}
		seen[expiry] = struct{}{}
		out = append(out, expiry)
	}

	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out, nil
}
