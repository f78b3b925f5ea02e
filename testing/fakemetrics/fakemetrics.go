// Package fakemetrics records the calls made to an o11y.MetricsProvider, so tests can
// check the gauges and counters the supervisor reports.
package fakemetrics

import "sync"

// MetricCall is one call, Metric is timer, gauge or count.
type MetricCall struct {
	Metric   string
	Name     string
	Value    float64
	ValueInt int64
	Tags     []string
	Rate     float64
}

// Provider is an o11y.ClosableMetricsProvider that keeps every call.
type Provider struct {
	mu    sync.Mutex
	calls []MetricCall
}

func (p *Provider) Calls() []MetricCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MetricCall(nil), p.calls...)
}

// LastGauge returns the last value recorded for the named gauge.
func (p *Provider) LastGauge(name string) (float64, bool) {
	calls := p.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Metric == "gauge" && calls[i].Name == name {
			return calls[i].Value, true
		}
	}
	return 0, false
}

func (p *Provider) TimeInMilliseconds(name string, value float64, tags []string, rate float64) error {
	return p.record(MetricCall{Metric: "timer", Name: name, Value: value, Tags: tags, Rate: rate})
}

func (p *Provider) Gauge(name string, value float64, tags []string, rate float64) error {
	return p.record(MetricCall{Metric: "gauge", Name: name, Value: value, Tags: tags, Rate: rate})
}

func (p *Provider) Count(name string, value int64, tags []string, rate float64) error {
	return p.record(MetricCall{Metric: "count", Name: name, ValueInt: value, Tags: tags, Rate: rate})
}

func (p *Provider) Close() error {
	return nil
}

func (p *Provider) record(c MetricCall) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return nil
}
