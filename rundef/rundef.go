// Package rundef sizes the Go runtime of the supervisor to the container it runs in.
// The child server is a separate process, so none of this applies to it.
package rundef

import (
	"context"
	"errors"

	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/grugmq/redeployer/o11y"
)

const memLimitRatio = 0.9

// Defaults sets GOMEMLIMIT and GOMAXPROCS from the cgroup limits of the process, falling
// back to the host when there are none. Both are attempted even if one fails.
func Defaults(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "rundef: defaults")
	defer o11y.End(span, &err)

	return errors.Join(MemLimit(ctx), MaxProcs(ctx))
}

// MemLimit sets GOMEMLIMIT to 90% of the memory available to the process.
func MemLimit(ctx context.Context) (err error) {
	_, span := o11y.StartSpan(ctx, "rundef: mem limit")
	defer o11y.End(span, &err)

	provider := memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)
	limit, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(memLimitRatio), memlimit.WithProvider(provider))
	if err != nil {
		return err
	}
	span.AddField("limit", limit)
	return nil
}
