package main

import (
	"context"

	"github.com/grugmq/redeployer/config/o11y"
)

func loadO11y(ctx context.Context, version string, cli cli) (context.Context, func(context.Context), error) {
	cfg := o11y.Config{
		Statsd:            cli.O11yStatsd,
		RollbarToken:      cli.O11yRollbarToken,
		RollbarEnv:        cli.O11yRollbarEnv,
		RollbarServerRoot: "github.com/grugmq/redeployer",
		HoneycombEnabled:  cli.O11yHoneycombEnabled,
		HoneycombDataset:  cli.O11yHoneycombDataset,
		HoneycombKey:      cli.O11yHoneycombKey,
		SampleTraces:      cli.O11ySampleTraces,
		SampleRates: map[string]int{
			"worker loop: deploy success":        100,
			"worker loop: metric-loop success":   10,
			"controlchannel: read success":       100,
			"controlchannel: redis read success": 100,
		},
		Format:         cli.O11yFormat,
		Version:        version,
		Service:        "redeployer",
		StatsNamespace: "grugmq.redeployer.",
		Mode:           cli.ChildName,
		Debug:          cli.O11yDebug,
	}
	return o11y.Setup(ctx, cfg)
}
