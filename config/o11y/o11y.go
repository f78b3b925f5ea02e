// Package o11y wires the o11y provider for the redeployer from its command line
// configuration: console and honeycomb tracing, statsd metrics and rollbar.
package o11y

import (
	"context"
	"fmt"
	"os"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rollbar/rollbar-go"

	"github.com/grugmq/redeployer/config/secret"
	"github.com/grugmq/redeployer/o11y"
	"github.com/grugmq/redeployer/o11y/honeycomb"
)

type Config struct {
	// Statsd is the agent address, metrics are discarded when empty.
	Statsd                  string
	StatsNamespace          string
	StatsdTelemetryDisabled bool

	RollbarToken      secret.String
	RollbarEnv        string
	RollbarServerRoot string
	RollbarDisabled   bool

	HoneycombEnabled bool
	HoneycombDataset string
	HoneycombKey     secret.String
	SampleTraces     bool
	// SampleKeyFunc groups spans for SampleRates, DefaultSampleKey when nil.
	SampleKeyFunc func(map[string]interface{}) string
	SampleRates   map[string]int

	// Format of the console output, one of the honeycomb Format constants.
	Format  string
	Version string
	Service string
	// Mode is the name of the supervised child, when set it tags every span and metric.
	Mode  string
	Debug bool
}

// Setup returns a context carrying the configured provider, and the func that
// flushes and closes the provider on exit.
func Setup(ctx context.Context, o Config) (context.Context, func(context.Context), error) {
	hc, err := honeycombConfig(o)
	if err != nil {
		return nil, nil, err
	}

	hostname, _ := os.Hostname()
	if hc.Metrics, err = statsdClient(o, hostname); err != nil {
		return nil, nil, err
	}

	var p o11y.Provider = honeycomb.New(hc)
	p.AddGlobalField("service", o.Service)
	p.AddGlobalField("version", o.Version)
	if o.Mode != "" {
		p.AddGlobalField("mode", o.Mode)
	}

	if o.RollbarToken.IsSet() {
		rb := rollbar.NewAsync(o.RollbarToken.Raw(), o.RollbarEnv, o.Version, hostname, o.RollbarServerRoot)
		rb.SetEnabled(!o.RollbarDisabled)
		rb.Message(rollbar.INFO, "Supervisor started")
		p = withRollbar{Provider: p, client: rb}
	}

	return o11y.WithProvider(ctx, p), p.Close, nil
}

func statsdClient(o Config, hostname string) (o11y.ClosableMetricsProvider, error) {
	if o.Statsd == "" {
		return &statsd.NoOpClient{}, nil
	}

	tags := []string{"service:" + o.Service, "version:" + o.Version, "hostname:" + hostname}
	if o.Mode != "" {
		tags = append(tags, "mode:"+o.Mode)
	}
	opts := []statsd.Option{statsd.WithNamespace(o.StatsNamespace), statsd.WithTags(tags)}
	if o.StatsdTelemetryDisabled {
		opts = append(opts, statsd.WithoutTelemetry())
	}

	c, err := statsd.New(o.Statsd, opts...)
	if err != nil {
		return nil, fmt.Errorf("statsd: %w", err)
	}
	return c, nil
}

func honeycombConfig(o Config) (honeycomb.Config, error) {
	c := honeycomb.Config{
		Dataset:       o.HoneycombDataset,
		Key:           o.HoneycombKey.Raw(),
		Format:        o.Format,
		SendTraces:    o.HoneycombEnabled,
		SampleTraces:  o.SampleTraces,
		SampleKeyFunc: o.SampleKeyFunc,
		SampleRates:   o.SampleRates,
		ServiceName:   o.Service,
		Debug:         o.Debug,
	}
	if c.SampleKeyFunc == nil {
		c.SampleKeyFunc = DefaultSampleKey
	}
	return c, c.Validate()
}

// DefaultSampleKey groups spans by name and result, so idle polls of the control
// channel can be sampled down without losing failures.
func DefaultSampleKey(fields map[string]interface{}) string {
	return fmt.Sprintf("%v %v", fields["name"], fields["result"])
}

// withRollbar closes the rollbar client along with the provider. o11y.HandlePanic
// finds the client through RollBarClient.
type withRollbar struct {
	o11y.Provider
	client *rollbar.Client
}

func (p withRollbar) Close(ctx context.Context) {
	p.Provider.Close(ctx)
	_ = p.client.Close()
}

func (p withRollbar) RollBarClient() *rollbar.Client {
	return p.client
}
