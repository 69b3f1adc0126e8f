package nse

import (
	"context"
	"fmt"

	"resty.dev/v3"

	"jdata/internal/coordinator"
	"jdata/internal/daterange"
	"jdata/internal/fetcher"
	"jdata/internal/ratelimit"
)

// DefaultIndicesBaseURL is the NiftyIndices website.
const DefaultIndicesBaseURL = "https://niftyindices.com"

const (
	pathIndexHistory   = "/Backpage.aspx/getHistoricaldatatabletoString"
	pathIndexPEHistory = "/Backpage.aspx/getpepbHistoricaldataDBtoString"

	NamespaceIndex   = "nsehistory-index"
	NamespaceIndexPE = "nsehistory-index_pe"

	indexDateLayout = "02-Jan-2006"
)

var indicesHeaders = map[string]string{
	"Referer":          "niftyindices.com",
	"X-Requested-With": "XMLHttpRequest",
	"Origin":           "https://niftyindices.com",
	"Accept":           "*/*",
	"Accept-Language":  "en-GB,en-US;q=0.9,en;q=0.8",
	"Cache-Control":    "no-cache",
	"Content-Type":     "application/json; charset=UTF-8",
}

// Indices downloads index price and valuation histories from NiftyIndices.
type Indices struct {
	client *resty.Client
	coord  *coordinator.Coordinator
}

// NewIndices creates an Indices client against baseURL.
func NewIndices(baseURL string, coord *coordinator.Coordinator, opts ...fetcher.ClientOption) *Indices {
	all := append([]fetcher.ClientOption{fetcher.WithHeaders(indicesHeaders)}, opts...)
	return &Indices{
		client: fetcher.NewHTTPClient(baseURL, all...),
		coord:  coord,
	}
}

// Index returns the daily OHLC history of an index such as "NIFTY 50".
func (i *Indices) Index(ctx context.Context, p IndexParams) ([]fetcher.Record, error) {
	if err := checkParams(p, p.From, p.To); err != nil {
		return nil, err
	}
	return i.coord.FetchSeries(ctx, p.From, p.To, &indexSeries{i: i, p: p, namespace: NamespaceIndex, path: pathIndexHistory})
}

// IndexPE returns the daily P/E, P/B and dividend yield history of an index.
func (i *Indices) IndexPE(ctx context.Context, p IndexParams) ([]fetcher.Record, error) {
	if err := checkParams(p, p.From, p.To); err != nil {
		return nil, err
	}
	return i.coord.FetchSeries(ctx, p.From, p.To, &indexSeries{i: i, p: p, namespace: NamespaceIndexPE, path: pathIndexPEHistory})
}

// postJSON sends body to path and decodes the JSON array the backend returns
// as a string under "d".
func (i *Indices) postJSON(ctx context.Context, path string, body any) ([]fetcher.Record, error) {
	if err := ratelimit.GetLimiter().Wait(ctx, ratelimit.APINiftyIndices); err != nil {
		return nil, err
	}

	resp, err := i.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err := fetcher.CheckResponse(resp, err); err != nil {
		return nil, err
	}

	var envelope struct {
		D *string `json:"d"`
	}
	if err := fetcher.Decode(resp.Bytes(), &envelope); err != nil {
		return nil, err
	}
	if envelope.D == nil {
		return nil, fetcher.NewFormatError(fmt.Sprintf("response from %s has no d field", path), nil)
	}

	var records []fetcher.Record
	if err := fetcher.Decode([]byte(*envelope.D), &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []fetcher.Record{}
	}
	return records, nil
}

type indexSeries struct {
	i         *Indices
	p         IndexParams
	namespace string
	path      string
}

func (s *indexSeries) Namespace() string { return s.namespace }

func (s *indexSeries) Params(r daterange.Range) map[string]string {
	return map[string]string{
		"symbol":    s.p.Symbol,
		"from_date": r.Start.Format(daterange.KeyLayout),
		"to_date":   r.End.Format(daterange.KeyLayout),
	}
}

func (s *indexSeries) FetchRange(ctx context.Context, r daterange.Range) ([]fetcher.Record, error) {
	return s.i.postJSON(ctx, s.path, map[string]string{
		"name":      s.p.Symbol,
		"startDate": r.Start.Format(indexDateLayout),
		"endDate":   r.End.Format(indexDateLayout),
	})
}
