package nse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
	"resty.dev/v3"

	"jdata/internal/fetcher"
	"jdata/internal/ratelimit"
)

// sessionCookie is set by the quote page and required by the JSON API.
const sessionCookie = "nseappid"

// session is an HTTP client that visits a landing page to collect cookies
// before the first API call, and again whenever the session cookie is gone.
type session struct {
	client *resty.Client
	jar    http.CookieJar
	base   *url.URL
	api    ratelimit.API
	logger *slog.Logger

	warmPath  string
	warmQuery map[string]string

	mu sync.Mutex
}

func newSession(baseURL string, api ratelimit.API, headers map[string]string, warmPath string, warmQuery map[string]string, opts ...fetcher.ClientOption) (*session, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	all := append([]fetcher.ClientOption{
		fetcher.WithHeaders(headers),
		fetcher.WithCookieJar(jar),
	}, opts...)

	return &session{
		client:    fetcher.NewHTTPClient(baseURL, all...),
		jar:       jar,
		base:      base,
		api:       api,
		logger:    slog.Default(),
		warmPath:  warmPath,
		warmQuery: warmQuery,
	}, nil
}

func (s *session) hasCookie() bool {
	for _, c := range s.jar.Cookies(s.base) {
		if c.Name == sessionCookie {
			return true
		}
	}
	return false
}

// warmUp loads the landing page unless the session cookie is already present.
// Concurrent callers wait for a single visit.
func (s *session) warmUp(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasCookie() {
		return nil
	}
	if err := ratelimit.GetLimiter().Wait(ctx, s.api); err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(s.warmQuery).
		Get(s.warmPath)
	if err != nil {
		return fetcher.ClassifyTransportError(err)
	}
	// The landing page status does not matter, only the cookies it sets.
	s.logger.Debug("session warm-up",
		"path", s.warmPath,
		"status_code", resp.StatusCode(),
		"cookie", s.hasCookie())
	return nil
}

// get performs a rate limited GET and returns the body of a 2xx response.
func (s *session) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	if err := s.warmUp(ctx); err != nil {
		return nil, err
	}
	if err := ratelimit.GetLimiter().Wait(ctx, s.api); err != nil {
		return nil, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err := fetcher.CheckResponse(resp, err); err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}
