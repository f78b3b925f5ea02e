//go:build windows

package procgroup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Setup is a no-op, windows has no process groups to signal.
func Setup(*exec.Cmd) {}

// Terminate kills the process, windows cannot deliver SIGTERM.
func Terminate(pid int) error {
	return Kill(pid)
}

// Kill kills the process with pid. Its children are not stopped.
func Kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	err = p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Alive always reports false, the supervisor waits on the process itself.
func Alive(int) bool {
	return false
}

// Wait returns at once, see Alive.
func Wait(context.Context, int) error {
	return nil
}
