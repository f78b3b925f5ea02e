//go:build go1.25

package rundef

import (
	"context"
	"runtime"

	"github.com/grugmq/redeployer/o11y"
)

// MaxProcs only records the limit, the runtime reads the CPU quota itself from Go 1.25.
func MaxProcs(ctx context.Context) (err error) {
	_, span := o11y.StartSpan(ctx, "rundef: max procs")
	defer o11y.End(span, &err)

	span.AddField("limit", runtime.GOMAXPROCS(0))
	return nil
}
