package redisfixture

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/grugmq/redeployer/testing/testcontext"
)

func TestSetup(t *testing.T) {
	ctx := testcontext.Background()
	fix := Setup(ctx, t, Connection{})
	assert.Check(t, fix.Ping(ctx).Err())
	assert.Check(t, cmp.Equal(fix.Addr, DefaultAddr))
}

func TestHash(t *testing.T) {
	assert.Check(t, cmp.Equal(hash("TestSetup", 16), hash("TestSetup", 16)))
	assert.Check(t, hash("TestSetup", 16) < 16)
}
