// Package rbi scrapes the current policy rates from the RBI home page.
package rbi

import (
	"bytes"
	"context"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"resty.dev/v3"

	"jdata/internal/fetcher"
	"jdata/internal/ratelimit"
)

const (
	// DefaultBaseURL is the RBI website.
	DefaultBaseURL = "https://www.rbi.org.in"
	// DefaultTimeout bounds the page download.
	DefaultTimeout = 10 * time.Second
)

// Client reads the rates table of the RBI home page.
type Client struct {
	client *resty.Client
}

// NewClient creates a Client against baseURL.
func NewClient(baseURL string, opts ...fetcher.ClientOption) *Client {
	all := append([]fetcher.ClientOption{fetcher.WithTimeout(DefaultTimeout)}, opts...)
	return &Client{client: fetcher.NewHTTPClient(baseURL, all...)}
}

// CurrentRates returns every two-cell row inside the page's #wrapper element
// as name to value, e.g. "Policy Repo Rate" to "6.50%".
func (c *Client) CurrentRates(ctx context.Context) (map[string]string, error) {
	if err := ratelimit.GetLimiter().Wait(ctx, ratelimit.APIRBI); err != nil {
		return nil, err
	}
	resp, err := c.client.R().SetContext(ctx).Get("/")
	if err := fetcher.CheckResponse(resp, err); err != nil {
		return nil, err
	}
	return ParseRates(resp.Bytes())
}

// ParseRates extracts the rates table from an RBI home page.
func ParseRates(page []byte) (map[string]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fetcher.NewFormatError("failed to parse RBI page", err)
	}

	wrapper := findByID(doc, atom.Div, "wrapper")
	if wrapper == nil {
		return nil, fetcher.NewFormatError("RBI page has no #wrapper element", nil)
	}

	rates := make(map[string]string)
	for _, tr := range findAll(wrapper, atom.Tr) {
		tds := findAll(tr, atom.Td)
		if len(tds) < 2 {
			continue
		}
		key := strings.TrimSpace(text(tds[0]))
		val := strings.NewReplacer(":", "", "*", "", "#", "").Replace(text(tds[1]))
		rates[key] = strings.TrimSpace(val)
	}
	return rates, nil
}

func findByID(n *html.Node, a atom.Atom, id string) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, a, id); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
