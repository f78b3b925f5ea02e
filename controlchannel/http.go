package controlchannel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grugmq/redeployer/httpclient"
	"github.com/grugmq/redeployer/o11y"
)

const (
	DefaultReadRoute  = "/v1/deploy/read"
	DefaultWriteRoute = "/v1/deploy/write/%s"

	defaultTimeout = 10 * time.Second
)

var (
	errReadFailed  = o11y.NewWarning("control channel read failed")
	errWriteFailed = o11y.NewWarning("control channel write failed")
)

type HTTPConfig struct {
	// BaseURL is the scheme and host of the control server, eg http://localhost:8000
	BaseURL string
	// Timeout bounds each read and write.
	Timeout time.Duration
	// ReadRoute is requested with GET to read the current command.
	ReadRoute string
	// WriteRoute is a format string with a single %s for the escaped status.
	WriteRoute string
}

// HTTP is a Channel served over plain HTTP GET requests.
type HTTP struct {
	client     *httpclient.Client
	timeout    time.Duration
	readRoute  string
	writeRoute string
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ReadRoute == "" {
		cfg.ReadRoute = DefaultReadRoute
	}
	if cfg.WriteRoute == "" {
		cfg.WriteRoute = DefaultWriteRoute
	}

	return &HTTP{
		client: httpclient.New(httpclient.Config{
			Name:                  "control",
			BaseURL:               strings.TrimSuffix(cfg.BaseURL, "/"),
			UserAgent:             "redeployer",
			Timeout:               cfg.Timeout,
			MaxConnectionsPerHost: 2,
			DNSCache:              true,
		}),
		timeout:    cfg.Timeout,
		readRoute:  cfg.ReadRoute,
		writeRoute: cfg.WriteRoute,
	}
}

func (h *HTTP) MetricName() string {
	return "control-http"
}

// Gauges reports the DNS cache of the control client.
func (h *HTTP) Gauges(_ context.Context) map[string]float64 {
	hits, misses, stale, ok := h.client.DNSStats()
	if !ok {
		return nil
	}
	return map[string]float64{
		"dns_hits":   float64(hits),
		"dns_misses": float64(misses),
		"dns_stale":  float64(stale),
	}
}

// Read returns the current value of the channel, with surrounding whitespace removed.
func (h *HTTP) Read(ctx context.Context) (value string) {
	var err error
	ctx, span := o11y.StartSpan(ctx, "controlchannel: read")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Incr("controlchannel.read", "result"))

	req := httpclient.NewRequest(http.MethodGet, h.readRoute, h.timeout)
	req.Decoder = httpclient.NewStringDecoder(&value)

	err = h.client.Call(ctx, req)
	switch {
	case httpclient.IsNoContent(err):
		err = nil
		return ""
	case err != nil:
		err = fmt.Errorf("%w: %v", errReadFailed, err)
		return ""
	}

	value = strings.TrimSpace(value)
	span.AddField("value", value)
	return value
}

// Write sends status to the channel. Failures are traced as warnings and otherwise ignored.
func (h *HTTP) Write(ctx context.Context, status Status) (delivered bool) {
	var err error
	ctx, span := o11y.StartSpan(ctx, "controlchannel: write")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Incr("controlchannel.write", "result"))
	addStatusFields(span, status)

	req := httpclient.NewRequest(http.MethodGet, h.writeRoute, h.timeout, url.PathEscape(string(status)))
	// a lost status is only corrected by the next redeploy, so writes ride out a 5XX
	req.Retry = true

	err = h.client.Call(ctx, req)
	if err != nil && !httpclient.IsNoContent(err) {
		err = fmt.Errorf("%w: %v", errWriteFailed, err)
		return false
	}
	err = nil
	return true
}
