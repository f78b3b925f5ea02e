package honeycomb

import (
	"fmt"
	"hash/crc32"
	"math"

	dynsampler "github.com/honeycombio/dynsampler-go"
)

// sampler thins out the spans of an idle supervisor, the once a second control channel
// polls, while keeping every redeploy and every failure.
type sampler struct {
	// key maps span fields to the key its sample rate is looked up by, the span
	// name when unset
	key   func(map[string]interface{}) string
	rates dynsampler.Sampler
}

// Hook implements beeline.Config.SamplerHook.
func (s *sampler) Hook(fields map[string]interface{}) (keep bool, rate int) {
	if keep, _ := fields["meta.keep.span"].(bool); keep {
		return true, 1
	}
	if result, ok := fields["result"]; ok && result != "success" {
		return true, 1
	}

	rate = s.rates.GetSampleRate(s.keyOf(fields))
	// whole traces are kept or dropped together
	if inSample(fmt.Sprint(fields["trace.trace_id"]), rate) {
		return true, rate
	}
	return false, 0
}

func (s *sampler) keyOf(fields map[string]interface{}) string {
	if s.key == nil {
		return fmt.Sprint(fields["name"])
	}
	return s.key(fields)
}

// inSample keeps one in rate of the ids, always choosing the same ones.
func inSample(id string, rate int) bool {
	if rate <= 1 {
		return true
	}
	threshold := math.MaxUint32 / uint32(rate) //nolint:gosec
	return crc32.ChecksumIEEE([]byte(id)) < threshold
}
