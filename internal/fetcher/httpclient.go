package fetcher

import (
	"log/slog"
	"net/http"
	"time"

	"resty.dev/v3"
)

const (
	// Default retry configuration
	defaultRetryCount       = 3
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second
	defaultTimeout          = 30 * time.Second
)

// BrowserUserAgent is sent by every client; the upstream sites reject
// requests that do not look like they come from a browser.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.132 Safari/537.36"

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	Headers          map[string]string
	Timeout          time.Duration
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
	CookieJar        http.CookieJar
}

// ClientOption mutates ClientOptions.
type ClientOption func(*ClientOptions)

// WithHeaders adds request headers sent on every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if timeout > 0 {
			o.Timeout = timeout
		}
	}
}

// WithRetry overrides the retry count and backoff bounds.
func WithRetry(count int, wait, maxWait time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.RetryCount = count
		o.RetryWaitTime = wait
		o.RetryMaxWaitTime = maxWait
	}
}

// WithRetryCount overrides the retry count, keeping the default backoff.
func WithRetryCount(count int) ClientOption {
	return func(o *ClientOptions) {
		o.RetryCount = count
	}
}

// WithCookieJar makes the client keep cookies in jar.
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(o *ClientOptions) {
		o.CookieJar = jar
	}
}

// NewHTTPClient creates a new HTTP client with retry logic and exponential backoff
func NewHTTPClient(baseURL string, opts ...ClientOption) *resty.Client {
	o := ClientOptions{
		Headers:          map[string]string{"User-Agent": BrowserUserAgent},
		Timeout:          defaultTimeout,
		RetryCount:       defaultRetryCount,
		RetryWaitTime:    defaultRetryWaitTime,
		RetryMaxWaitTime: defaultRetryMaxWaitTime,
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeaders(o.Headers).
		SetTimeout(o.Timeout).
		SetRetryCount(o.RetryCount).
		SetRetryWaitTime(o.RetryWaitTime).
		SetRetryMaxWaitTime(o.RetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)

	if o.CookieJar != nil {
		client.SetCookieJar(o.CookieJar)
	}

	return client
}

// retryCondition determines whether a request should be retried based on the response and error
func retryCondition(r *resty.Response, err error) bool {
	// Retry on network errors
	if err != nil {
		return true
	}

	// Retry on server errors (5xx)
	if r.StatusCode() >= 500 {
		return true
	}

	// Retry on rate limit (429)
	if r.StatusCode() == 429 {
		return true
	}

	// Retry on request timeout (408)
	if r.StatusCode() == 408 {
		return true
	}

	return false
}

// retryHook logs retry attempts for observability
func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying request due to error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Debug("retrying request due to status code",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
