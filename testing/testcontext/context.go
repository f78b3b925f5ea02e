// Package testcontext gives tests a context carrying a working o11y provider, so
// spans are written to the test output.
package testcontext

import (
	"context"

	"github.com/grugmq/redeployer/config/o11y"
)

// ctx is created once at package init, since the beeline underneath is a process
// wide singleton.
var ctx = newContext()

// Background returns a context for use in tests which contains a working o11y, so you get logs.
func Background() context.Context {
	return ctx
}

func newContext() context.Context {
	cx, _, err := o11y.Setup(context.Background(), o11y.Config{
		Format:  "color",
		Service: "redeployer-test",
		Version: "dev",
	})
	if err != nil {
		panic(err)
	}
	return cx
}
