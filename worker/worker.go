// Package worker runs a unit of work over and over, each iteration in its own span,
// pausing between iterations when the work asks for it.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/grugmq/redeployer/o11y"
)

// ErrShouldBackoff is returned by a WorkFunc that found nothing to do. The iteration
// is recorded as a success, and the next one waits for NoWorkBackOff.
var ErrShouldBackoff = errors.New("should back off")

type Config struct {
	// Name tags the worker loop span and metric.
	Name string
	// NoWorkBackOff is the pause after ErrShouldBackoff, an exponential back-off from
	// 50ms to 5s by default. It is reset after every iteration that did not back off.
	NoWorkBackOff backoff.BackOff
	// MaxWorkTime bounds each iteration when set.
	MaxWorkTime time.Duration
	// BackoffOnAllErrors pauses after a failed iteration too, rather than retrying it
	// at once. The failure is still traced as an error.
	BackoffOnAllErrors bool
	WorkFunc           func(ctx context.Context) error

	sleep func(ctx context.Context, d time.Duration)
}

// Run calls WorkFunc until ctx is done. A panic in WorkFunc fails that iteration only.
func Run(ctx context.Context, cfg Config) {
	if cfg.NoWorkBackOff == nil {
		cfg.NoWorkBackOff = &backoff.ExponentialBackOff{
			InitialInterval: 50 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     5 * time.Second,
			Clock:           backoff.SystemClock,
		}
	}
	if cfg.sleep == nil {
		cfg.sleep = sleep
	}

	cfg.NoWorkBackOff.Reset()
	for ctx.Err() == nil {
		pause, ok := iterate(ctx, cfg)
		if !ok {
			cfg.NoWorkBackOff.Reset()
			continue
		}
		cfg.sleep(ctx, pause)
	}
}

// iterate runs WorkFunc once, and returns the pause before the next run if there
// should be one.
func iterate(ctx context.Context, cfg Config) (pause time.Duration, ok bool) {
	if cfg.MaxWorkTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxWorkTime)
		defer cancel()
	}

	ctx, span := o11y.StartSpan(ctx, "worker loop: "+cfg.Name)
	span.AddField("loop_name", cfg.Name)
	span.RecordMetric(o11y.Timing("worker_loop", "loop_name", "result"))

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = o11y.HandlePanic(ctx, span, r, nil)
			pause, ok = cfg.NoWorkBackOff.NextBackOff(), true
		}
		if ok {
			span.AddField("backoff_ms", pause.Milliseconds())
		}
		o11y.End(span, &err)
	}()

	err = cfg.WorkFunc(ctx)
	if errors.Is(err, ErrShouldBackoff) {
		err = nil
		return cfg.NoWorkBackOff.NextBackOff(), true
	}
	if err != nil && cfg.BackoffOnAllErrors {
		return cfg.NoWorkBackOff.NextBackOff(), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
