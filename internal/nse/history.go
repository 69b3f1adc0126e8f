package nse

import (
	"context"
	"fmt"
	"strings"

	"jdata/internal/coordinator"
	"jdata/internal/daterange"
	"jdata/internal/fetcher"
	"jdata/internal/ratelimit"
)

// DefaultBaseURL is the NSE website.
const DefaultBaseURL = "https://www.nseindia.com"

const (
	pathStockHistory = "/api/historical/cm/equity"
	pathDerivatives  = "/api/historical/fo/derivatives"
	pathQuotePage    = "/get-quotes/equity"

	// Cache namespaces, one per series kind.
	NamespaceStock       = "nsehistory-stock"
	NamespaceDerivatives = "nsehistory-derivatives"

	queryDateLayout  = "02-01-2006"
	expiryDateLayout = "02-Jan-2006"
)

var historyHeaders = map[string]string{
	"Referer":          "https://www.nseindia.com/get-quotes/equity?symbol=SBIN",
	"X-Requested-With": "XMLHttpRequest",
	"Pragma":           "no-cache",
	"Sec-Fetch-Dest":   "empty",
	"Sec-Fetch-Mode":   "cors",
	"Sec-Fetch-Site":   "same-origin",
	"Accept":           "*/*",
	"Accept-Language":  "en-GB,en-US;q=0.9,en;q=0.8",
	"Cache-Control":    "no-cache",
}

// History downloads NSE equity and derivatives price histories. Requests are
// split into calendar months and run through coord, so every month is cached
// on disk once fetched.
type History struct {
	sess  *session
	coord *coordinator.Coordinator
}

// NewHistory creates a History client against baseURL.
func NewHistory(baseURL string, coord *coordinator.Coordinator, opts ...fetcher.ClientOption) (*History, error) {
	sess, err := newSession(baseURL, ratelimit.APINSE, historyHeaders, pathQuotePage, nil, opts...)
	if err != nil {
		return nil, err
	}
	return &History{sess: sess, coord: coord}, nil
}

// Stock returns the daily equity history of p.Symbol between p.From and
// p.To inclusive, newest first.
func (h *History) Stock(ctx context.Context, p StockParams) ([]fetcher.Record, error) {
	if p.Series == "" {
		p.Series = DefaultSeries
	}
	if err := checkParams(p, p.From, p.To); err != nil {
		return nil, err
	}
	return h.coord.FetchSeries(ctx, p.From, p.To, &stockSeries{h: h, p: p})
}

// Derivatives returns the daily history of one futures or options contract,
// newest first.
func (h *History) Derivatives(ctx context.Context, p DerivativesParams) ([]fetcher.Record, error) {
	if err := checkDerivatives(p); err != nil {
		return nil, err
	}
	return h.coord.FetchSeries(ctx, p.From, p.To, &derivativesSeries{h: h, p: p})
}

// fetchData GETs path and returns the "data" array of the response.
func (h *History) fetchData(ctx context.Context, path string, query map[string]string) ([]fetcher.Record, error) {
	body, err := h.sess.get(ctx, path, query)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data *[]fetcher.Record `json:"data"`
	}
	if err := fetcher.Decode(body, &payload); err != nil {
		return nil, err
	}
	if payload.Data == nil {
		return nil, fetcher.NewFormatError(fmt.Sprintf("response from %s has no data field", path), nil)
	}
	return *payload.Data, nil
}

type stockSeries struct {
	h *History
	p StockParams
}

func (s *stockSeries) Namespace() string { return NamespaceStock }

func (s *stockSeries) Params(r daterange.Range) map[string]string {
	return map[string]string{
		"symbol":    s.p.Symbol,
		"from_date": r.Start.Format(daterange.KeyLayout),
		"to_date":   r.End.Format(daterange.KeyLayout),
		"series":    s.p.Series,
	}
}

func (s *stockSeries) FetchRange(ctx context.Context, r daterange.Range) ([]fetcher.Record, error) {
	return s.h.fetchData(ctx, pathStockHistory, map[string]string{
		"symbol": s.p.Symbol,
		"from":   r.Start.Format(queryDateLayout),
		"to":     r.End.Format(queryDateLayout),
		"series": fmt.Sprintf(`["%s"]`, s.p.Series),
	})
}

type derivativesSeries struct {
	h *History
	p DerivativesParams
}

func (s *derivativesSeries) Namespace() string { return NamespaceDerivatives }

func (s *derivativesSeries) strike() string {
	if !s.p.IsOption() {
		return ""
	}
	return fmt.Sprintf("%.2f", s.p.StrikePrice)
}

func (s *derivativesSeries) optionType() string {
	if !s.p.IsOption() {
		return ""
	}
	return s.p.OptionType
}

func (s *derivativesSeries) Params(r daterange.Range) map[string]string {
	return map[string]string{
		"symbol":          s.p.Symbol,
		"from_date":       r.Start.Format(daterange.KeyLayout),
		"to_date":         r.End.Format(daterange.KeyLayout),
		"expiry_date":     s.p.Expiry.Format(daterange.KeyLayout),
		"instrument_type": s.p.InstrumentType,
		"strike_price":    s.strike(),
		"option_type":     s.optionType(),
	}
}

func (s *derivativesSeries) FetchRange(ctx context.Context, r daterange.Range) ([]fetcher.Record, error) {
	query := map[string]string{
		"symbol":         s.p.Symbol,
		"from":           r.Start.Format(queryDateLayout),
		"to":             r.End.Format(queryDateLayout),
		"expiryDate":     strings.ToUpper(s.p.Expiry.Format(expiryDateLayout)),
		"instrumentType": s.p.InstrumentType,
	}
	if s.p.IsOption() {
		query["strikePrice"] = s.strike()
		query["optionType"] = s.p.OptionType
	}
	return s.h.fetchData(ctx, pathDerivatives, query)
}
