package o11y

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestFromContext_Discards(t *testing.T) {
	ctx := context.Background()
	assert.Check(t, cmp.Equal(FromContext(ctx), Provider(discard)))

	spanCtx, span := StartSpan(ctx, "deploy: redeploy")
	assert.Check(t, span != nil)
	assert.Check(t, cmp.Equal(spanCtx, ctx))

	Log(ctx, "deploy: start", Field("head", "8f2c1de"))
	AddField(ctx, "head", "8f2c1de")
}

func TestFromContext_WithProvider(t *testing.T) {
	p := &recordingProvider{}
	ctx := WithProvider(context.Background(), p)
	assert.Check(t, cmp.Equal(FromContext(ctx), Provider(p)))
}

func TestAddResultToSpan(t *testing.T) {
	tests := []struct {
		err    error
		result string
		field  string
		msg    string
	}{
		{result: "success"},
		{err: errors.New("git pull exited with status 1"), result: "error", field: "error", msg: "git pull exited with status 1"},
		{err: NewWarning("control channel unreachable"), result: "success", field: "warning", msg: "control channel unreachable"},
		{err: fmt.Errorf("read: %w", NewWarning("connection refused")), result: "success", field: "warning", msg: "read: connection refused"},
		{err: context.Canceled, result: "canceled", field: "warning", msg: "context canceled"},
		{err: fmt.Errorf("settle: %w", context.DeadlineExceeded), result: "canceled", field: "warning", msg: "settle: context deadline exceeded"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			span := newRecordingSpan()
			AddResultToSpan(span, tt.err)

			assert.Check(t, cmp.Equal(span.fields["result"], tt.result))
			for _, f := range []string{"error", "warning"} {
				v, ok := span.fields[f]
				if f != tt.field {
					assert.Check(t, !ok, "unexpected %s=%v", f, v)
					continue
				}
				assert.Check(t, cmp.Equal(v, tt.msg))
			}
		})
	}
}

func TestEnd_RecordsFinalReturn(t *testing.T) {
	span := newRecordingSpan()
	_ = func() (err error) {
		defer End(span, &err)
		err = errors.New("pull failed")
		return errors.New("build failed")
	}()
	assert.Check(t, cmp.Equal(span.fields["error"], "build failed"))
	assert.Check(t, span.ended)

	span = newRecordingSpan()
	End(span, nil)
	assert.Check(t, cmp.Equal(span.fields["result"], "success"))
	assert.Check(t, span.ended)
}

func TestLogError(t *testing.T) {
	p := &recordingProvider{}
	ctx := WithProvider(context.Background(), p)

	LogError(ctx, "control: write", errors.New("connection refused"), Field("status", "redeploy_skipped"))

	assert.Assert(t, p.span != nil)
	assert.Check(t, cmp.DeepEqual(p.span.fields, map[string]interface{}{
		"name":       "control: write",
		"app.status": "redeploy_skipped",
		"result":     "error",
		"error":      "connection refused",
	}))
	assert.Check(t, p.span.ended)
}

func TestHandlePanic(t *testing.T) {
	ctx := context.Background()
	span := newRecordingSpan()

	err := func() (err error) {
		defer func() {
			err = HandlePanic(ctx, span, recover(), nil)
		}()
		panic("index out of range")
	}()

	assert.Check(t, cmp.ErrorContains(err, "panic handled: index out of range"))
	assert.Check(t, cmp.Equal(span.fields["has_panicked"], "true"))
	assert.Check(t, cmp.Len(span.metrics, 1))
}

type recordingSpan struct {
	fields  map[string]interface{}
	metrics []Metric
	ended   bool
}

func newRecordingSpan() *recordingSpan {
	return &recordingSpan{fields: map[string]interface{}{}}
}

func (s *recordingSpan) AddField(key string, val interface{})    { s.fields["app."+key] = val }
func (s *recordingSpan) AddRawField(key string, val interface{}) { s.fields[key] = val }
func (s *recordingSpan) RecordMetric(m Metric)                   { s.metrics = append(s.metrics, m) }
func (s *recordingSpan) End()                                    { s.ended = true }

type recordingProvider struct {
	Provider
	span *recordingSpan
}

func (p *recordingProvider) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	p.span = newRecordingSpan()
	p.span.fields["name"] = name
	return ctx, p.span
}
