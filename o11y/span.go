package o11y

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rollbar/rollbar-go"
)

// Pair is a field passed to Log or LogError.
type Pair struct {
	Key   string
	Value interface{}
}

func Field(key string, value interface{}) Pair {
	return Pair{Key: key, Value: value}
}

// LogError emits a span with no duration that carries err as its outcome.
func LogError(ctx context.Context, name string, err error, fields ...Pair) {
	_, span := StartSpan(ctx, name)
	for _, f := range fields {
		span.AddField(f.Key, f.Value)
	}
	AddResultToSpan(span, err)
	span.End()
}

// End records the outcome held in *err and ends the span. Pass a pointer to the named
// return value, so whatever the function finally returns is recorded:
//
//	defer o11y.End(span, &err)
func End(span Span, err *error) {
	var outcome error
	if err != nil {
		outcome = *err
	}
	AddResultToSpan(span, outcome)
	span.End()
}

// AddResultToSpan sets result on the span, plus error or warning when err is not nil.
// Warnings keep a success result. Cancellation is how the supervisor stops, so it is
// recorded as canceled rather than as an error.
func AddResultToSpan(span Span, err error) {
	result := "success"
	switch {
	case err == nil:
	case IsWarning(err):
		span.AddRawField("warning", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "canceled"
		span.AddRawField("warning", err.Error())
	default:
		result = "error"
		span.AddRawField("error", err.Error())
	}
	span.AddRawField("result", result)
}

// HandlePanic records a recovered panic on the span and returns it as an error. When
// the provider carries a rollbar client the panic is reported there too. r is nil
// outside of HTTP handlers.
func HandlePanic(ctx context.Context, span Span, recovered interface{}, r *http.Request) error {
	err := fmt.Errorf("panic handled: %+v", recovered)
	span.AddRawField("panic", recovered)
	span.AddRawField("has_panicked", "true")
	span.AddRawField("stack", string(debug.Stack()))
	span.RecordMetric(Incr("panics", "name"))

	rb, ok := FromContext(ctx).(interface{ RollBarClient() *rollbar.Client })
	if !ok {
		return err
	}
	if r != nil {
		rb.RollBarClient().RequestError(rollbar.CRIT, r, err)
	} else {
		rb.RollBarClient().LogPanic(recovered, true)
	}
	return err
}
