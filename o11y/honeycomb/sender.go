package honeycomb

import (
	"github.com/honeycombio/libhoney-go/transmission"
)

// fanout sends every event to each of its senders, so the console and honeycomb both
// see every span. Responses come from the first sender only.
type fanout []transmission.Sender

func (f fanout) Add(ev *transmission.Event) {
	for _, s := range f {
		s.Add(ev)
	}
}

func (f fanout) Start() error {
	return f.each(transmission.Sender.Start)
}

func (f fanout) Stop() error {
	return f.each(transmission.Sender.Stop)
}

func (f fanout) Flush() error {
	return f.each(transmission.Sender.Flush)
}

// each stops at the first error.
func (f fanout) each(fn func(transmission.Sender) error) error {
	for _, s := range f {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) TxResponses() chan transmission.Response {
	if len(f) == 0 {
		return nil
	}
	return f[0].TxResponses()
}

func (f fanout) SendResponse(r transmission.Response) bool {
	pending := false
	for _, s := range f {
		if s.SendResponse(r) {
			pending = true
		}
	}
	return pending
}
