package system

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/grugmq/redeployer/o11y"
	"github.com/grugmq/redeployer/termination"
	"github.com/grugmq/redeployer/worker"
)

// HealthChecker is implemented by components that report on the admin server's
// /live and /ready endpoints. A nil ready or live func is not registered.
type HealthChecker interface {
	HealthChecks() (name string, ready, live func(ctx context.Context) error)
}

// MetricProducer is a group of gauges published every 10s as gauge.<MetricName>.<key>.
type MetricProducer interface {
	MetricName() string
	Gauges(context.Context) map[string]float64
}

type System struct {
	services  []func(context.Context) error
	checkers  []HealthChecker
	producers []MetricProducer
	cleanups  []func(context.Context) error
}

func New() *System {
	return &System{}
}

func (s *System) AddService(run func(ctx context.Context) error) {
	s.services = append(s.services, run)
}

func (s *System) AddHealthCheck(h HealthChecker) {
	s.checkers = append(s.checkers, h)
}

func (s *System) AddMetrics(m MetricProducer) {
	s.producers = append(s.producers, m)
}

// AddCleanup registers work for Cleanup, such as closing the control channel once the
// deploy loop has written its final status.
func (s *System) AddCleanup(c func(ctx context.Context) error) {
	s.cleanups = append(s.cleanups, c)
}

func (s *System) HealthChecks() []HealthChecker {
	return s.checkers
}

var (
	waitForSignal = termination.Handle
	gaugeInterval = 10 * time.Second
)

// Run starts every service and blocks until one fails, or until the process is
// signalled. delay is how long to wait after a signal before stopping.
func (s *System) Run(ctx context.Context, delay time.Duration) (err error) {
	ctx, span := o11y.StartSpan(ctx, "system: run")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("system.run", "result"))
	span.AddField("services", len(s.services))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return waitForSignal(ctx, delay)
	})
	for _, run := range s.services {
		run := run
		g.Go(func() error {
			return run(ctx)
		})
	}
	if len(s.producers) > 0 {
		g.Go(func() error {
			worker.Run(ctx, worker.Config{
				Name:          "metric-loop",
				MaxWorkTime:   time.Second,
				NoWorkBackOff: backoff.NewConstantBackOff(gaugeInterval),
				WorkFunc: func(ctx context.Context) error {
					publishGauges(ctx, s.producers)
					return worker.ErrShouldBackoff
				},
			})
			return nil
		})
	}
	return g.Wait()
}

// Cleanup runs every cleanup in the order added, logging rather than returning errors.
func (s *System) Cleanup(ctx context.Context) {
	for _, c := range s.cleanups {
		if err := c(ctx); err != nil {
			o11y.LogError(ctx, "system: cleanup error", err)
		}
	}
}

func publishGauges(ctx context.Context, producers []MetricProducer) {
	metrics := o11y.FromContext(ctx).MetricsProvider()
	if metrics == nil {
		return
	}
	for _, p := range producers {
		prefix := "gauge." + strings.ReplaceAll(p.MetricName(), "-", "_") + "."
		for key, v := range p.Gauges(ctx) {
			_ = metrics.Gauge(prefix+key, v, []string{}, 1)
		}
	}
}
