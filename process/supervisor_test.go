//go:build unix

package process

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/grugmq/redeployer/internal/procgroup"
	"github.com/grugmq/redeployer/testing/fakeconsole"
	"github.com/grugmq/redeployer/testing/testcontext"
)

func newTestSupervisor(t *testing.T, script string, console *fakeconsole.Console) *Supervisor {
	t.Helper()
	s := New(Config{
		Name:        "grugmq",
		Dir:         t.TempDir(),
		Command:     []string{"sh", "-c", script},
		Port:        "8080",
		Console:     console,
		StopTimeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		assert.Check(t, s.Close(testcontext.Background()))
	})
	return s
}

func TestSupervisor_StartKill(t *testing.T) {
	ctx := testcontext.Background()
	console := &fakeconsole.Console{}
	// $0 is the port, passed as the only argument
	s := newTestSupervisor(t, `echo "listening on $0"; exec sleep 60`, console)

	assert.Check(t, cmp.Equal(s.Name(), "grugmq"))
	assert.Check(t, !s.Running())
	assert.Check(t, cmp.Equal(s.PID(), 0))

	assert.Assert(t, s.Start(ctx))
	assert.Check(t, s.Running())
	assert.Check(t, s.PID() > 0)
	assert.Check(t, cmp.Equal(s.Starts(), int64(1)))

	console.WaitFor(t, "[grugmq] listening on 8080\n", poll.WithTimeout(10*time.Second))

	s.mu.Lock()
	c := s.child
	s.mu.Unlock()

	assert.Assert(t, s.Kill(ctx))
	assert.Check(t, c.hasExited(), "kill must return after the child is reaped")
	assert.Check(t, !s.Running())
	assert.Check(t, cmp.Equal(s.PID(), 0))
	assert.Check(t, cmp.Equal(s.UnexpectedExits(), int64(0)))
}

func TestSupervisor_StartWhileRunning(t *testing.T) {
	ctx := testcontext.Background()
	s := newTestSupervisor(t, `exec sleep 60`, &fakeconsole.Console{})

	assert.Assert(t, s.Start(ctx))
	pid := s.PID()

	err := s.Start(ctx)
	assert.Check(t, errors.Is(err, ErrAlreadyRunning))
	assert.Check(t, cmp.Equal(s.PID(), pid))
	assert.Check(t, cmp.Equal(s.Starts(), int64(1)))
}

func TestSupervisor_KillWhileStopped(t *testing.T) {
	ctx := testcontext.Background()
	s := newTestSupervisor(t, `exec sleep 60`, &fakeconsole.Console{})

	err := s.Kill(ctx)
	assert.Check(t, errors.Is(err, ErrNotRunning))

	assert.Assert(t, s.Start(ctx))
	assert.Assert(t, s.Kill(ctx))

	err = s.Kill(ctx)
	assert.Check(t, errors.Is(err, ErrNotRunning))
}

func TestSupervisor_KillEscalates(t *testing.T) {
	ctx := testcontext.Background()
	console := &fakeconsole.Console{}
	s := New(Config{
		Name:        "grugmq",
		Command:     []string{"sh", "-c", `trap '' TERM; echo ready; while true; do sleep 1; done`},
		Console:     console,
		StopTimeout: 300 * time.Millisecond,
	})
	t.Cleanup(func() {
		assert.Check(t, s.Close(ctx))
	})

	assert.Assert(t, s.Start(ctx))
	console.WaitFor(t, "[grugmq] ready\n", poll.WithTimeout(10*time.Second))

	start := time.Now()
	assert.Assert(t, s.Kill(ctx))
	took := time.Since(start)

	assert.Check(t, took >= 300*time.Millisecond, took)
	assert.Check(t, took < 5*time.Second, took)
	assert.Check(t, !s.Running())
}

func TestSupervisor_KillStopsDescendants(t *testing.T) {
	ctx := testcontext.Background()
	console := &fakeconsole.Console{}
	// the leader stops on SIGTERM, the server it forked does not
	s := New(Config{
		Name:        "grugmq",
		Command:     []string{"sh", "-c", `(trap '' TERM; echo ready; exec sleep 60) & exec sleep 60`},
		Console:     console,
		StopTimeout: 300 * time.Millisecond,
	})
	t.Cleanup(func() {
		assert.Check(t, s.Close(ctx))
	})

	assert.Assert(t, s.Start(ctx))
	console.WaitFor(t, "[grugmq] ready\n", poll.WithTimeout(10*time.Second))
	pid := s.PID()

	start := time.Now()
	assert.Assert(t, s.Kill(ctx))
	took := time.Since(start)

	assert.Check(t, !procgroup.Alive(pid), "process group %d still has members after kill", pid)
	assert.Check(t, took >= 300*time.Millisecond, took)
	assert.Check(t, took < 5*time.Second, took)
	assert.Check(t, !s.Running())
}

func TestSupervisor_KillStopsDescendantsOfExitedChild(t *testing.T) {
	ctx := testcontext.Background()
	console := &fakeconsole.Console{}
	s := newTestSupervisor(t, `sleep 60 & echo forked; exit 0`, console)

	assert.Assert(t, s.Start(ctx))
	s.mu.Lock()
	pid := s.child.pid
	s.mu.Unlock()
	console.WaitFor(t, "[grugmq] forked\n", poll.WithTimeout(10*time.Second))
	poll.WaitOn(t, func(t poll.LogT) poll.Result {
		if s.Running() {
			return poll.Continue("leader still running")
		}
		return poll.Success()
	}, poll.WithTimeout(10*time.Second))
	assert.Assert(t, procgroup.Alive(pid))

	assert.Check(t, s.Kill(ctx))
	assert.Check(t, !procgroup.Alive(pid))
}

func TestSupervisor_UnexpectedExitIsNotRestarted(t *testing.T) {
	ctx := testcontext.Background()
	console := &fakeconsole.Console{}
	s := newTestSupervisor(t, `echo bye; exit 3`, console)

	assert.Assert(t, s.Start(ctx))

	poll.WaitOn(t, func(t poll.LogT) poll.Result {
		if s.Running() {
			return poll.Continue("child still running")
		}
		return poll.Success()
	}, poll.WithTimeout(10*time.Second))

	// give a restart the chance to happen, it must not
	time.Sleep(200 * time.Millisecond)
	assert.Check(t, !s.Running())
	assert.Check(t, cmp.Equal(s.Starts(), int64(1)))
	assert.Check(t, cmp.Equal(s.UnexpectedExits(), int64(1)))

	// an exited child is already stopped, so kill then start works as a restart
	assert.Check(t, s.Kill(ctx))
	assert.Assert(t, s.Start(ctx))
	assert.Check(t, cmp.Equal(s.Starts(), int64(2)))
}

func TestSupervisor_Close(t *testing.T) {
	ctx := testcontext.Background()
	s := newTestSupervisor(t, `exec sleep 60`, &fakeconsole.Console{})

	assert.Assert(t, s.Start(ctx))
	assert.Assert(t, s.Close(ctx))
	assert.Check(t, !s.Running())

	err := s.Start(ctx)
	assert.Check(t, errors.Is(err, ErrClosed))
	assert.Check(t, s.Close(ctx))
}

func TestSupervisor_StartFails(t *testing.T) {
	ctx := testcontext.Background()
	s := New(Config{
		Command: []string{"./target/release/missing"},
		Dir:     t.TempDir(),
		Console: &fakeconsole.Console{},
	})

	err := s.Start(ctx)
	assert.Check(t, cmp.ErrorContains(err, "start"))
	assert.Check(t, !s.Running())
	assert.Check(t, errors.Is(s.Kill(ctx), ErrNotRunning))
}

// stuckConsole blocks every write until it is released.
type stuckConsole struct {
	release chan struct{}
	once    sync.Once
}

func (w *stuckConsole) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func (w *stuckConsole) unblock() {
	w.once.Do(func() { close(w.release) })
}

func TestSupervisor_SlowConsoleDropsLines(t *testing.T) {
	ctx := testcontext.Background()
	console := &stuckConsole{release: make(chan struct{})}
	t.Cleanup(console.unblock)

	s := New(Config{
		Name:      "grugmq",
		Command:   []string{"sh", "-c", `i=0; while [ $i -lt 500 ]; do echo "line $i"; i=$((i+1)); done; echo done >&2; exec sleep 60`},
		Console:   console,
		RelaySize: 4,
	})
	t.Cleanup(func() {
		assert.Check(t, s.Close(ctx))
	})

	assert.Assert(t, s.Start(ctx))

	poll.WaitOn(t, func(t poll.LogT) poll.Result {
		if s.DroppedLines() < 400 {
			return poll.Continue("only %d lines dropped", s.DroppedLines())
		}
		return poll.Success()
	}, poll.WithTimeout(10*time.Second))
	assert.Check(t, s.Running())
}
