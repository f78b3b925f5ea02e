package honeycomb

import (
	"fmt"

	"github.com/grugmq/redeployer/o11y"
)

// metricKey is the span field the recorded metrics ride on until the span is sent.
const metricKey = "__MAGIC_METRIC_KEY__"

// metricsHook turns the metrics recorded on a span into statsd calls, and strips them
// from the span before it is written anywhere. Every error and warning is counted.
func metricsHook(mp o11y.MetricsProvider) func(map[string]interface{}) {
	return func(fields map[string]interface{}) {
		metrics, _ := fields[metricKey].([]o11y.Metric)
		delete(fields, metricKey)
		if mp == nil {
			return
		}

		for _, outcome := range []string{"error", "warning"} {
			if _, ok := fields[outcome]; ok {
				_ = mp.Count(outcome, 1, []string{"type:o11y"}, 1)
			}
		}

		for _, m := range metrics {
			tags := tagsFrom(m.TagFields, fields)
			switch m.Type {
			case o11y.MetricTimer:
				if ms, ok := fields["duration_ms"].(float64); ok {
					_ = mp.TimeInMilliseconds(m.Name, ms, tags, 1)
				}
			case o11y.MetricCount:
				_ = mp.Count(m.Name, 1, tags, 1)
			}
		}
	}
}

// tagsFrom renders the named span fields as statsd tags. Fields added with AddField
// are found without their app. prefix, and missing fields are skipped.
func tagsFrom(names []string, fields map[string]interface{}) []string {
	tags := make([]string, 0, len(names))
	for _, name := range names {
		val, ok := fields[name]
		if !ok {
			val, ok = fields["app."+name]
		}
		if ok {
			tags = append(tags, fmt.Sprintf("%s:%v", name, val))
		}
	}
	return tags
}
