// Package httpclient is the o11y instrumented HTTP client the supervisor talks to the
// control service with. Calls are traced per attempt, bounded by per call timeouts,
// and optionally retried with back-off while the server answers 5XX.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/grugmq/redeployer/httpclient/dnscache"
	"github.com/grugmq/redeployer/o11y"
)

const (
	defaultAttemptTimeout = 5 * time.Second
	defaultPoolSize       = 10
)

// ErrNoContent is a 204 response. It is a warning, an empty channel is not a failure.
var ErrNoContent = o11y.NewWarning("no content")

type Config struct {
	// Name tags every span and metric of the client.
	Name string
	// BaseURL is the scheme, host and optional path prefix of the server.
	BaseURL   string
	UserAgent string
	// Timeout bounds a retried call across all its attempts. Zero leaves it to the context.
	Timeout time.Duration
	// MaxConnectionsPerHost is the size of the connection pool, 10 when zero.
	MaxConnectionsPerHost int
	// DNSCache caches host lookups, for clients that poll the same host every second.
	DNSCache bool
}

type Client struct {
	name       string
	baseURL    string
	userAgent  string
	maxElapsed time.Duration
	httpClient *http.Client
	resolver   *dnscache.Resolver
}

func New(cfg Config) *Client {
	pool := cfg.MaxConnectionsPerHost
	if pool == 0 {
		pool = defaultPoolSize
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxConnsPerHost = pool
	t.MaxIdleConnsPerHost = pool

	c := &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		maxElapsed: cfg.Timeout,
		httpClient: &http.Client{Transport: t},
	}
	if cfg.DNSCache {
		c.resolver = dnscache.New(dnscache.Config{})
		t.DialContext = dnscache.DialContext(c.resolver, nil)
	}
	return c
}

// DNSStats reports the DNS cache counters, or false when the client has no cache.
func (c *Client) DNSStats() (hits, misses, stale int64, ok bool) {
	if c.resolver == nil {
		return 0, 0, 0, false
	}
	hits, misses, stale = c.resolver.Stats()
	return hits, misses, stale, true
}

// Decoder reads a 2XX response body.
type Decoder func(r io.Reader) error

// NewStringDecoder stores the whole body in *s.
func NewStringDecoder(s *string) Decoder {
	return func(r io.Reader) error {
		b, err := io.ReadAll(r)
		*s = string(b)
		return err
	}
}

// Request is a single call. Create one with NewRequest.
type Request struct {
	Method  string
	Route   string
	Decoder Decoder
	// Timeout bounds each attempt, 5s when zero.
	Timeout time.Duration
	// Retry retries 5XX responses and transport failures with exponential back-off.
	Retry bool

	url string
}

// NewRequest formats route with routeParams to build the request URL. The route
// itself names the call in traces and metrics, so they do not vary by parameter.
func NewRequest(method, route string, timeout time.Duration, routeParams ...interface{}) Request {
	return Request{
		Method:  method,
		Route:   route,
		Timeout: timeout,
		url:     fmt.Sprintf(route, routeParams...),
	}
}

// Call makes the request, tracing a span for every attempt. A non 2XX response is
// returned as an *HTTPError, and 204 as ErrNoContent.
func (c *Client) Call(ctx context.Context, r Request) error {
	if r.url == "" {
		r.url = r.Route
	}
	u, err := url.Parse(c.baseURL + r.url)
	if err != nil {
		return err
	}

	n := 0
	err = backoff.Retry(func() error {
		n++
		return c.attempt(ctx, r, u, n)
	}, backoff.WithContext(c.policy(r), ctx))

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		httpErr.final = true
	}
	return err
}

func (c *Client) policy(r Request) backoff.BackOff {
	if !r.Retry {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	return b
}

func (c *Client) attempt(ctx context.Context, r Request, u *url.URL, n int) (err error) {
	ctx, span := o11y.StartSpan(ctx, fmt.Sprintf("httpclient: %s %s", c.name, r.Route))
	defer o11y.End(span, &err)
	span.AddRawField("meta.type", "http_client")
	span.AddRawField("http.client_name", c.name)
	span.AddRawField("http.method", r.Method)
	span.AddRawField("http.route", r.Route)
	span.AddRawField("http.host", u.Host)
	span.AddRawField("http.url", u.String())
	span.AddRawField("http.attempt", n)

	timeout := r.Timeout
	if timeout == 0 {
		timeout = defaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	started := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error repeats the method and url we already have
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("call: %s %s failed with: %w after %d attempt(s)", r.Method, r.Route, err, n)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	span.AddRawField("http.status_code", res.StatusCode)
	c.recordTiming(ctx, r, res.StatusCode, n, time.Since(started))

	if res.StatusCode >= 300 {
		err = &HTTPError{method: r.Method, route: r.Route, code: res.StatusCode, attempts: n}
		if res.StatusCode < 500 {
			err = backoff.Permanent(err)
		}
		return err
	}
	if res.StatusCode == http.StatusNoContent {
		return backoff.Permanent(ErrNoContent)
	}
	if r.Decoder != nil {
		if err = r.Decoder(res.Body); err != nil {
			return backoff.Permanent(fmt.Errorf("call: %s %s decoding failed with: %w", r.Method, r.Route, err))
		}
	}
	return nil
}

func (c *Client) recordTiming(ctx context.Context, r Request, code, n int, took time.Duration) {
	m := o11y.FromContext(ctx).MetricsProvider()
	if m == nil {
		return
	}
	_ = m.TimeInMilliseconds("httpclient", float64(took)/float64(time.Millisecond), []string{
		"http.client_name:" + c.name,
		"http.route:" + r.Route,
		"http.status_code:" + strconv.Itoa(code),
		"http.retry:" + strconv.FormatBool(n > 1),
	}, 1)
}

// HTTPError is a call answered with a status code outside the 2XX range.
type HTTPError struct {
	method   string
	route    string
	code     int
	attempts int
	// final is set once no more attempts will be made.
	final bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s answered %d %s after %d attempt(s)",
		e.method, e.route, e.code, http.StatusText(e.code), e.attempts)
}

// Is makes an attempt that will be retried a warning, as is a final 401 to 404.
func (e *HTTPError) Is(target error) bool {
	if !o11y.IsWarningNoUnwrap(target) {
		return false
	}
	return !e.final || (e.code > 400 && e.code <= 404)
}

func IsNoContent(err error) bool {
	return errors.Is(err, ErrNoContent)
}
