package nse

import (
	"context"
	"strconv"
	"strings"
	"time"

	"jdata/internal/fetcher"
	"jdata/internal/livecache"
	"jdata/internal/ratelimit"
)

// DefaultLiveTimeout bounds every live request.
const DefaultLiveTimeout = 5 * time.Second

const (
	routeStockQuote        = "/api/quote-equity"
	routeDerivativeQuote   = "/api/quote-derivative"
	routeMarketStatus      = "/api/marketStatus"
	routeChartData         = "/api/chart-databyindex"
	routeMarketTurnover    = "/api/market-turnover"
	routeEquityStock       = "/api/equity-stock"
	routeAllIndices        = "/api/allIndices"
	routeLiveIndex         = "/api/equity-stockIndices"
	routeIndexOptionChain  = "/api/option-chain-indices"
	routeEquityOptionChain = "/api/option-chain-equities"
	routeCurrencyOptions   = "/api/option-chain-currency"
	routePreOpenMarket     = "/api/market-data-pre-open"
	routeHolidayMaster     = "/api/holiday-master"
)

var liveHeaders = map[string]string{
	"Cache-Control":             "no-cache",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-User":            "?1",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9",
	"Sec-Fetch-Site":            "same-origin",
	"Sec-Fetch-Mode":            "cors",
	"Accept-Language":           "en-US,en;q=0.9,hi;q=0.8",
}

// Payload is a decoded live API response.
type Payload = map[string]any

// Live queries NSE's live market API. Responses are memoized in the injected
// cache for its TTL; LiveIndex is always fetched fresh.
type Live struct {
	sess  *session
	cache *livecache.Cache[Payload]
}

// NewLive creates a Live client against baseURL. A nil cache disables
// memoization.
func NewLive(baseURL string, cache *livecache.Cache[Payload], opts ...fetcher.ClientOption) (*Live, error) {
	all := append([]fetcher.ClientOption{fetcher.WithTimeout(DefaultLiveTimeout)}, opts...)
	sess, err := newSession(baseURL, ratelimit.APINSE, liveHeaders,
		pathQuotePage, map[string]string{"symbol": "LT"}, all...)
	if err != nil {
		return nil, err
	}
	return &Live{sess: sess, cache: cache}, nil
}

func (l *Live) get(ctx context.Context, route string, query map[string]string) (Payload, error) {
	body, err := l.sess.get(ctx, route, query)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := fetcher.Decode(body, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Live) cached(ctx context.Context, key, route string, query map[string]string) (Payload, error) {
	return l.cache.Do(ctx, key, func(ctx context.Context) (Payload, error) {
		return l.get(ctx, route, query)
	})
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// StockQuote returns the live equity quote for symbol.
func (l *Live) StockQuote(ctx context.Context, symbol string) (Payload, error) {
	return l.cached(ctx, cacheKey("stock_quote", symbol), routeStockQuote,
		map[string]string{"symbol": symbol})
}

// StockQuoteFNO returns the live derivatives quotes for symbol.
func (l *Live) StockQuoteFNO(ctx context.Context, symbol string) (Payload, error) {
	return l.cached(ctx, cacheKey("stock_quote_fno", symbol), routeDerivativeQuote,
		map[string]string{"symbol": symbol})
}

// TradeInfo returns the trade info section of the equity quote.
func (l *Live) TradeInfo(ctx context.Context, symbol string) (Payload, error) {
	return l.cached(ctx, cacheKey("trade_info", symbol), routeStockQuote,
		map[string]string{"symbol": symbol, "section": "trade_info"})
}

// MarketStatus returns the open/closed status of every market segment.
func (l *Live) MarketStatus(ctx context.Context) (Payload, error) {
	return l.cached(ctx, cacheKey("market_status"), routeMarketStatus, nil)
}

// ChartData returns the intraday chart for an equity, or for an index when
// indices is true.
func (l *Live) ChartData(ctx context.Context, symbol string, indices bool) (Payload, error) {
	query := map[string]string{"index": symbol + "EQN"}
	if indices {
		query["index"] = symbol
		query["indices"] = "true"
	}
	return l.cached(ctx, cacheKey("chart_data", symbol, strconv.FormatBool(indices)), routeChartData, query)
}

// TickData is ChartData under its older name.
func (l *Live) TickData(ctx context.Context, symbol string, indices bool) (Payload, error) {
	return l.ChartData(ctx, symbol, indices)
}

// MarketTurnover returns turnover per segment.
func (l *Live) MarketTurnover(ctx context.Context) (Payload, error) {
	return l.cached(ctx, cacheKey("market_turnover"), routeMarketTurnover, nil)
}

// EqDerivativeTurnover returns the most active contracts of kind, which
// defaults to "allcontracts".
func (l *Live) EqDerivativeTurnover(ctx context.Context, kind string) (Payload, error) {
	if kind == "" {
		kind = "allcontracts"
	}
	return l.cached(ctx, cacheKey("eq_derivative_turnover", kind), routeEquityStock,
		map[string]string{"index": kind})
}

// AllIndices returns the latest value of every index.
func (l *Live) AllIndices(ctx context.Context) (Payload, error) {
	return l.cached(ctx, cacheKey("all_indices"), routeAllIndices, nil)
}

// LiveIndex returns the constituents of index, "NIFTY 50" by default. It is
// never memoized.
func (l *Live) LiveIndex(ctx context.Context, index string) (Payload, error) {
	if index == "" {
		index = "NIFTY 50"
	}
	return l.get(ctx, routeLiveIndex, map[string]string{"index": index})
}

// IndexOptionChain returns the option chain of an index, "NIFTY" by default.
func (l *Live) IndexOptionChain(ctx context.Context, symbol string) (Payload, error) {
	if symbol == "" {
		symbol = "NIFTY"
	}
	return l.cached(ctx, cacheKey("index_option_chain", symbol), routeIndexOptionChain,
		map[string]string{"symbol": symbol})
}

// EquitiesOptionChain returns the option chain of a stock.
func (l *Live) EquitiesOptionChain(ctx context.Context, symbol string) (Payload, error) {
	return l.cached(ctx, cacheKey("equities_option_chain", symbol), routeEquityOptionChain,
		map[string]string{"symbol": symbol})
}

// CurrencyOptionChain returns the option chain of a currency pair, "USDINR" by default.
func (l *Live) CurrencyOptionChain(ctx context.Context, symbol string) (Payload, error) {
	if symbol == "" {
		symbol = "USDINR"
	}
	return l.cached(ctx, cacheKey("currency_option_chain", symbol), routeCurrencyOptions,
		map[string]string{"symbol": symbol})
}

// LiveFNO returns the live quotes of every security in the F&O segment.
func (l *Live) LiveFNO(ctx context.Context) (Payload, error) {
	return l.cache.Do(ctx, cacheKey("live_fno"), func(ctx context.Context) (Payload, error) {
		return l.LiveIndex(ctx, "SECURITIES IN F&O")
	})
}

// PreOpenMarket returns the pre-open session data for key, "NIFTY" by default.
func (l *Live) PreOpenMarket(ctx context.Context, key string) (Payload, error) {
	if key == "" {
		key = "NIFTY"
	}
	return l.cached(ctx, cacheKey("pre_open_market", key), routePreOpenMarket,
		map[string]string{"key": key})
}

// HolidayList returns the trading holidays of the current year.
func (l *Live) HolidayList(ctx context.Context) (Payload, error) {
	return l.cached(ctx, cacheKey("holiday_list"), routeHolidayMaster,
		map[string]string{"type": "trading"})
}
