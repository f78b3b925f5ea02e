// Package o11y is how the redeployer reports what it is doing. Every package traces
// through the Provider held in the context, so the operator console, honeycomb and
// statsd all see the same spans.
package o11y

import (
	"context"
	"io"

	"github.com/DataDog/datadog-go/statsd"
)

type Provider interface {
	// AddGlobalField sets a field on every span from now on, such as the version or
	// the name of the supervised child.
	AddGlobalField(key string, val interface{})

	// StartSpan begins timing a unit of work. name reads "package: operation", and the
	// span must be ended by the caller:
	//
	//	ctx, span := o11y.StartSpan(ctx, "repository: pull")
	//	defer o11y.End(span, &err)
	StartSpan(ctx context.Context, name string) (context.Context, Span)

	// GetSpan is the span started in ctx, nil when there is none.
	GetSpan(ctx context.Context) Span

	// AddField sets app.<key> on the span started in ctx.
	AddField(ctx context.Context, key string, val interface{})

	// Log emits a span with no duration.
	Log(ctx context.Context, name string, fields ...Pair)

	Close(ctx context.Context)

	// MetricsProvider is for metrics that do not belong to a span, like the gauges
	// sampled by the system loop.
	MetricsProvider() MetricsProvider
}

type Span interface {
	// AddField sets app.<key> on the span.
	AddField(key string, val interface{})

	// AddRawField sets key as given. Shared plumbing uses it for names that are the
	// same across packages, like result or http.status_code.
	AddRawField(key string, val interface{})

	// RecordMetric emits metric once the span ends, tagged from the span fields.
	RecordMetric(metric Metric)

	// End stops the clock and hands the span to the provider. It must not be used again.
	End()
}

type MetricType string

const (
	MetricTimer MetricType = "timer"
	MetricCount MetricType = "count"
)

// Metric is emitted to the metrics backend when the span that recorded it ends.
// Tags are read from the span fields named in TagFields.
type Metric struct {
	Type      MetricType
	Name      string
	TagFields []string
}

// Timing emits the span duration, eg how long a build took.
func Timing(name string, tagFields ...string) Metric {
	return Metric{Type: MetricTimer, Name: name, TagFields: tagFields}
}

// Incr counts one for every span, eg every redeploy outcome.
func Incr(name string, tagFields ...string) Metric {
	return Metric{Type: MetricCount, Name: name, TagFields: tagFields}
}

// MetricsProvider is the subset of a statsd client the redeployer uses.
type MetricsProvider interface {
	TimeInMilliseconds(name string, value float64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
}

type ClosableMetricsProvider interface {
	MetricsProvider
	io.Closer
}

type providerKey struct{}

func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// FromContext never returns nil. Without a provider in ctx everything is discarded.
func FromContext(ctx context.Context) Provider {
	if p, ok := ctx.Value(providerKey{}).(Provider); ok {
		return p
	}
	return discard
}

func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return FromContext(ctx).StartSpan(ctx, name)
}

func AddField(ctx context.Context, key string, val interface{}) {
	FromContext(ctx).AddField(ctx, key, val)
}

func Log(ctx context.Context, name string, fields ...Pair) {
	FromContext(ctx).Log(ctx, name, fields...)
}

var discard = &discardProvider{}

type discardProvider struct{}

func (*discardProvider) AddGlobalField(string, interface{}) {}

func (*discardProvider) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, discardSpan{}
}

func (*discardProvider) GetSpan(context.Context) Span                   { return discardSpan{} }
func (*discardProvider) AddField(context.Context, string, interface{}) {}
func (*discardProvider) Log(context.Context, string, ...Pair)           {}
func (*discardProvider) Close(context.Context)                          {}

func (*discardProvider) MetricsProvider() MetricsProvider {
	return &statsd.NoOpClient{}
}

type discardSpan struct{}

func (discardSpan) AddField(string, interface{})    {}
func (discardSpan) AddRawField(string, interface{}) {}
func (discardSpan) RecordMetric(Metric)             {}
func (discardSpan) End()                            {}
