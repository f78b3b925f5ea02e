package honeycomb

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/honeycombio/libhoney-go/transmission"

	"github.com/grugmq/redeployer/colourise"
)

// consoleSender writes each span as a line for the operator, next to the relayed child
// output. The app. prefix is dropped, and the outcome of the span ends the line:
//
//	09:14:27 1e113 5321.577ms repository: build stage=build error=exit status 101 result=error
type consoleSender struct {
	mu     sync.Mutex
	w      io.Writer
	colour bool

	responses chan transmission.Response
}

// outcomeFields are written last, in this order.
var outcomeFields = []string{"warning", "error", "result"}

func (c *consoleSender) Start() error {
	c.responses = make(chan transmission.Response, 100)
	return nil
}

func (c *consoleSender) Stop() error  { return nil }
func (c *consoleSender) Flush() error { return nil }

func (c *consoleSender) Add(ev *transmission.Event) {
	line := c.format(ev)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.w.Write(line)
	c.SendResponse(transmission.Response{Metadata: ev.Metadata})
}

func (c *consoleSender) TxResponses() chan transmission.Response {
	return c.responses
}

func (c *consoleSender) SendResponse(r transmission.Response) bool {
	select {
	case c.responses <- r:
		return false
	default:
		return true
	}
}

func (c *consoleSender) format(ev *transmission.Event) []byte {
	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, "%s %s %.3fms %s",
		ev.Timestamp.Format("15:04:05"),
		c.paint(shortTraceID(ev.Data["trace.trace_id"])),
		ev.Data["duration_ms"],
		c.paint(fmt.Sprint(ev.Data["name"])),
	)

	var keys []string
	for k := range ev.Data {
		if !hidden(k) && !isOutcome(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range outcomeFields {
		if _, ok := ev.Data[k]; ok {
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		label := strings.TrimPrefix(k, "app.")
		if c.colour && (k == "error" || k == "warning") {
			label = colourise.ErrorHighlight(label)
		}
		_, _ = fmt.Fprintf(buf, " %s=%v", label, ev.Data[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func (c *consoleSender) paint(s string) string {
	if !c.colour {
		return s
	}
	return colourise.ApplyColour(s)
}

// hidden fields are the same on every line, or already in the line's prefix.
func hidden(k string) bool {
	switch k {
	case "name", "duration_ms", "service", "service_name", "service.name", "version", "mode":
		return true
	}
	return strings.HasPrefix(k, "trace.") || strings.HasPrefix(k, "meta.")
}

func isOutcome(k string) bool {
	for _, o := range outcomeFields {
		if k == o {
			return true
		}
	}
	return false
}

// shortTraceID is enough of the trace id to tell interleaved traces apart.
func shortTraceID(raw interface{}) string {
	id, ok := raw.(string)
	if !ok || len(id) < 5 {
		return "-----"
	}
	return id[len(id)-5:]
}
