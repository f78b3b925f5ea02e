// Package termination turns SIGINT and SIGTERM into an error that ends the system.
package termination

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grugmq/redeployer/o11y"
)

var ErrTerminated = errors.New("terminated")

// Handle blocks until the process is asked to stop, or ctx is done. After a signal it
// waits for delay before returning an error wrapping ErrTerminated.
func Handle(ctx context.Context, delay time.Duration) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	return handle(ctx, delay, quit)
}

func handle(ctx context.Context, delay time.Duration, quit <-chan os.Signal) error {
	select {
	case sig := <-quit:
		o11y.Log(ctx, "termination: signal received",
			o11y.Field("signal", sig.String()),
			o11y.Field("delay", delay),
		)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
		return fmt.Errorf("%w: %s", ErrTerminated, sig)
	case <-ctx.Done():
		return nil
	}
}
