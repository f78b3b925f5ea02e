//go:build !go1.25

package rundef

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/grugmq/redeployer/o11y"
)

// MaxProcs sets GOMAXPROCS to the CPU quota of the process.
func MaxProcs(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "rundef: max procs")
	defer o11y.End(span, &err)

	_, err = maxprocs.Set(maxprocs.Min(1), maxprocs.Logger(func(s string, i ...interface{}) {
		o11y.Log(ctx, "rundef: "+fmt.Sprintf(s, i...))
	}))
	if err != nil {
		return err
	}

	span.AddField("limit", runtime.GOMAXPROCS(0))
	return nil
}
