package rundef

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/skip"

	"github.com/grugmq/redeployer/testing/testcontext"
)

func restoreRuntime(t *testing.T) {
	mem := debug.SetMemoryLimit(-1)
	procs := runtime.GOMAXPROCS(0)
	t.Cleanup(func() {
		debug.SetMemoryLimit(mem)
		runtime.GOMAXPROCS(procs)
	})
}

func TestMemLimit_FollowsCgroup(t *testing.T) {
	skip.If(t, runtime.GOOS != "linux", "cgroups are linux only")
	limit, err := memlimit.FromCgroup()
	skip.If(t, err != nil, "no cgroup memory limit: %v", err)
	restoreRuntime(t)

	assert.NilError(t, MemLimit(testcontext.Background()))
	assert.Check(t, cmp.Equal(debug.SetMemoryLimit(-1), int64(float64(limit)*memLimitRatio)))
}

func TestDefaults(t *testing.T) {
	skip.If(t, runtime.GOOS != "linux", "the memory fallback reads linux system memory")
	restoreRuntime(t)

	assert.Check(t, Defaults(testcontext.Background()))
	assert.Check(t, runtime.GOMAXPROCS(0) >= 1)
}
