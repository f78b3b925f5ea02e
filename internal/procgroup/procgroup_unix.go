//go:build unix

package procgroup

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const pollInterval = 10 * time.Millisecond

// Setup makes cmd the leader of a new process group once started.
func Setup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Terminate asks every process in the group led by pid to stop.
func Terminate(pid int) error {
	return signal(pid, unix.SIGTERM)
}

// Kill stops every process in the group led by pid.
func Kill(pid int) error {
	return signal(pid, unix.SIGKILL)
}

// Alive reports whether any process in the group led by pid is still running.
// The group outlives its leader while anything the leader forked is running.
func Alive(pid int) bool {
	err := unix.Kill(-pid, 0)
	if errors.Is(err, unix.ESRCH) {
		return false
	}
	return hasRunningMember(pid)
}

// Wait blocks until no process in the group led by pid is running, or ctx is done.
func Wait(ctx context.Context, pid int) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if !Alive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func signal(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// the group has already gone
		return nil
	}
	return err
}
