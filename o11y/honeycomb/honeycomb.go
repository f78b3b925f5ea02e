// Package honeycomb implements o11y tracing on top of the honeycomb beeline.
//
// Spans are always written to the operator console (in text, colour or json form)
// and optionally sent to honeycomb.
package honeycomb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/honeycombio/beeline-go"
	"github.com/honeycombio/beeline-go/client"
	"github.com/honeycombio/beeline-go/trace"
	"github.com/honeycombio/dynsampler-go"
	"github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"

	"github.com/grugmq/redeployer/o11y"
)

// Console formats.
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatColour = "color"
	FormatNone   = "none"
)

type Config struct {
	Host    string
	Dataset string
	Key     string
	// Format is how spans are written to Writer, one of the Format constants.
	Format string
	Writer io.Writer
	// SendTraces sends spans to honeycomb as well as the console.
	SendTraces bool
	Sender     transmission.Sender

	// SampleTraces drops spans at SampleRates, keyed by SampleKeyFunc. Failures are kept.
	SampleTraces  bool
	SampleKeyFunc func(map[string]interface{}) string
	SampleRates   map[string]int

	Metrics     o11y.ClosableMetricsProvider
	ServiceName string
	Debug       bool
}

// Validate reports a missing key when spans would be sent to honeycomb itself.
func (c *Config) Validate() error {
	if c.SendTraces && c.Key == "" && c.Sender == nil {
		return errors.New("honeycomb_key key required for honeycomb")
	}
	return nil
}

func (c *Config) senders() transmission.Sender {
	w := c.Writer
	if w == nil {
		w = os.Stderr
	}

	var senders fanout
	if c.SendTraces {
		tx := c.Sender
		if tx == nil {
			tx = &transmission.Honeycomb{
				MaxBatchSize:         libhoney.DefaultMaxBatchSize,
				BatchTimeout:         libhoney.DefaultBatchTimeout,
				MaxConcurrentBatches: libhoney.DefaultMaxConcurrentBatches,
				PendingWorkCapacity:  libhoney.DefaultPendingWorkCapacity,
				UserAgentAddition:    c.ServiceName,
			}
		}
		senders = append(senders, tx)
	}

	switch c.Format {
	case FormatNone:
	case FormatText:
		senders = append(senders, &consoleSender{w: w})
	case FormatColour, "colour":
		senders = append(senders, &consoleSender{w: w, colour: true})
	default:
		senders = append(senders, &transmission.WriterSender{W: w})
	}
	return senders
}

type provider struct {
	metrics o11y.ClosableMetricsProvider
}

// New creates a honeycomb o11y provider. The beeline underneath is a process wide
// singleton, so only one provider should be in use at a time.
func New(conf Config) o11y.Provider {
	// beeline ignores this error in its own constructor too
	c, _ := libhoney.NewClient(libhoney.ClientConfig{
		APIKey:       conf.Key,
		Dataset:      conf.Dataset,
		APIHost:      conf.Host,
		Transmission: conf.senders(),
	})

	bc := beeline.Config{
		Client:      c,
		Debug:       conf.Debug,
		WriteKey:    conf.Key,
		ServiceName: conf.ServiceName,
	}

	hook := metricsHook(conf.Metrics)
	if conf.SampleTraces {
		s := &sampler{
			key:   conf.SampleKeyFunc,
			rates: &dynsampler.Static{Default: 1, Rates: conf.SampleRates},
		}
		// a dropped span never reaches the presend hook, so metrics go out here
		bc.SamplerHook = func(fields map[string]interface{}) (bool, int) {
			hook(fields)
			return s.Hook(fields)
		}
	} else {
		bc.PresendHook = hook
	}
	beeline.Init(bc)

	return &provider{metrics: conf.Metrics}
}

func (p *provider) AddGlobalField(key string, val interface{}) {
	checkKey(key)
	client.AddField(key, val)
}

func (p *provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	var s *trace.Span
	if parent := trace.GetSpanFromContext(ctx); parent != nil {
		ctx, s = parent.CreateAsyncChild(ctx)
	} else {
		ctx, _ = trace.NewTrace(ctx, nil)
		s = trace.GetSpanFromContext(ctx)
	}
	s.AddField("name", name)
	return ctx, WrapSpan(s)
}

func (p *provider) GetSpan(ctx context.Context) o11y.Span {
	return WrapSpan(trace.GetSpanFromContext(ctx))
}

func (p *provider) AddField(ctx context.Context, key string, val interface{}) {
	checkKey(key)
	beeline.AddField(ctx, key, val)
}

func (p *provider) Log(ctx context.Context, name string, fields ...o11y.Pair) {
	_, s := beeline.StartSpan(ctx, name)
	ev := WrapSpan(s)
	for _, f := range fields {
		ev.AddField(f.Key, f.Value)
	}
	ev.End()
}

func (p *provider) Close(context.Context) {
	beeline.Close()
	if p.metrics != nil {
		_ = p.metrics.Close()
	}
}

func (p *provider) MetricsProvider() o11y.MetricsProvider {
	if p.metrics == nil {
		return nil
	}
	return p.metrics
}

// WrapSpan adapts a beeline span to o11y.Span, nil stays nil.
func WrapSpan(s *trace.Span) o11y.Span {
	if s == nil {
		return nil
	}
	return &span{span: s}
}

type span struct {
	span    *trace.Span
	metrics []o11y.Metric
}

func (s *span) AddField(key string, val interface{}) {
	s.AddRawField("app."+key, val)
}

func (s *span) AddRawField(key string, val interface{}) {
	checkKey(key)
	if err, ok := val.(error); ok {
		val = err.Error()
	}
	s.span.AddField(key, val)
}

func (s *span) RecordMetric(metric o11y.Metric) {
	s.metrics = append(s.metrics, metric)
	s.span.AddField(metricKey, s.metrics)
}

func (s *span) End() {
	s.span.Send()
}

// checkKey panics on dashes, statsd tags and honeycomb queries both trip over them.
func checkKey(key string) {
	if strings.Contains(key, "-") {
		panic(fmt.Errorf("key %q cannot contain '-'", key))
	}
}
