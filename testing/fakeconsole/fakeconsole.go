// Package fakeconsole stands in for the operator console in tests. The output relay
// writes to it from its own goroutine while the test reads it.
package fakeconsole

import (
	"strings"
	"sync"

	"gotest.tools/v3/poll"
)

type Console struct {
	mu  sync.Mutex
	out strings.Builder
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *Console) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

// WaitFor polls until want has been written.
func (c *Console) WaitFor(t poll.TestingT, want string, opts ...poll.SettingOp) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if out := c.String(); !strings.Contains(out, want) {
			return poll.Continue("waiting for %q in %q", want, out)
		}
		return poll.Success()
	}, opts...)
}
