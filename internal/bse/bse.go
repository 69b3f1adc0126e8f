// Package bse reads corporate announcements from the BSE India API.
package bse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"resty.dev/v3"

	"jdata/internal/fetcher"
	"jdata/internal/livecache"
	"jdata/internal/ratelimit"
)

const (
	// DefaultBaseURL is the BSE India API root.
	DefaultBaseURL = "https://api.bseindia.com/BseIndiaAPI/api"
	// AttachmentBaseURL serves announcement attachments.
	AttachmentBaseURL = "https://www.bseindia.com/xml-data/corpfiling/AttachLive"
	// DefaultTimeout bounds every request.
	DefaultTimeout = 5 * time.Second

	routeAnnouncements = "/AnnSubCategoryGetData/w"

	defaultCategory    = "Result"
	defaultSubcategory = "Financial+Results"
	queryDateLayout    = "20060102"
)

var headers = map[string]string{
	"Referer":         "https://www.bseindia.com/corporates/ann.html",
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.9",
	"Cache-Control":   "no-cache",
}

// Payload is a decoded API response.
type Payload = map[string]any

// AnnouncementParams filters corporate announcements. Zero values select the
// upstream defaults: every category, page 1, search type "P", type "C".
type AnnouncementParams struct {
	ScripCode        string
	Category         string
	Subcategory      string
	From             time.Time
	To               time.Time
	PageNo           int
	SearchType       string
	AnnouncementType string
}

func (p AnnouncementParams) query() map[string]string {
	page := p.PageNo
	if page < 1 {
		page = 1
	}
	q := map[string]string{
		"pageno":    strconv.Itoa(page),
		"strType":   orDefault(p.AnnouncementType, "C"),
		"strSearch": orDefault(p.SearchType, "P"),
	}
	if p.Category != "" && p.Category != defaultCategory {
		q["strCat"] = p.Category
	}
	if p.Subcategory != "" && p.Subcategory != defaultSubcategory {
		q["subcategory"] = p.Subcategory
	}
	if p.ScripCode != "" {
		q["strScrip"] = p.ScripCode
	}
	if !p.From.IsZero() {
		q["strPrevDate"] = p.From.Format(queryDateLayout)
	}
	if !p.To.IsZero() {
		q["strToDate"] = p.To.Format(queryDateLayout)
	}
	return q
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Client queries BSE. Responses are memoized in the injected cache.
type Client struct {
	client *resty.Client
	cache  *livecache.Cache[Payload]
}

// NewClient creates a Client against baseURL. A nil cache disables memoization.
func NewClient(baseURL string, cache *livecache.Cache[Payload], opts ...fetcher.ClientOption) *Client {
	all := append([]fetcher.ClientOption{
		fetcher.WithTimeout(DefaultTimeout),
		fetcher.WithHeaders(headers),
	}, opts...)
	return &Client{
		client: fetcher.NewHTTPClient(baseURL, all...),
		cache:  cache,
	}
}

// CorporateAnnouncements returns one page of announcements. The response
// holds the rows under "Table" and the total row count under "Table1".
func (c *Client) CorporateAnnouncements(ctx context.Context, p AnnouncementParams) (Payload, error) {
	q := p.query()
	return c.cache.Do(ctx, cacheKey(q), func(ctx context.Context) (Payload, error) {
		if err := ratelimit.GetLimiter().Wait(ctx, ratelimit.APIBSE); err != nil {
			return nil, err
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(q).
			Get(routeAnnouncements)
		if err := fetcher.CheckResponse(resp, err); err != nil {
			return nil, err
		}

		var out Payload
		if err := fetcher.Decode(resp.Bytes(), &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// AttachmentURL returns the download link of an attachment, or "" when name
// is empty.
func AttachmentURL(name string) string {
	if name == "" {
		return ""
	}
	return AttachmentBaseURL + "/" + name
}

// AnnouncementsWithURLs is CorporateAnnouncements with "attachment_url" and
// "file_size_formatted" added to every row of "Table". Rows without an
// attachment get nil for both.
func (c *Client) AnnouncementsWithURLs(ctx context.Context, p AnnouncementParams) (Payload, error) {
	res, err := c.CorporateAnnouncements(ctx, p)
	if err != nil {
		return nil, err
	}

	table, ok := res["Table"].([]any)
	if !ok {
		return res, nil
	}

	// Copy so the memoized response is left untouched.
	out := make(Payload, len(res))
	for k, v := range res {
		out[k] = v
	}
	rows := make([]any, len(table))
	for i, item := range table {
		row, ok := item.(map[string]any)
		if !ok {
			rows[i] = item
			continue
		}
		enriched := make(map[string]any, len(row)+2)
		for k, v := range row {
			enriched[k] = v
		}

		name, _ := row["ATTACHMENTNAME"].(string)
		if name == "" {
			enriched["attachment_url"] = nil
			enriched["file_size_formatted"] = nil
		} else {
			enriched["attachment_url"] = AttachmentURL(name)
			if size, ok := number(row["Fld_Attachsize"]); ok && size != 0 {
				enriched["file_size_formatted"] = FormatSize(size)
			}
		}
		rows[i] = enriched
	}
	out["Table"] = rows
	return out, nil
}

// FormatSize renders an attachment size in bytes as KB, or MB above 99999 bytes.
func FormatSize(bytes float64) string {
	if bytes > 99999 {
		return fmt.Sprintf("%.2f MB", bytes/1048576)
	}
	return fmt.Sprintf("%.2f KB", bytes/1024)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

func cacheKey(q map[string]string) string {
	return "announcements|" + fmt.Sprint(q)
}
