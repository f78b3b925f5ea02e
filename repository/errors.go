package repository

import (
	"fmt"
	"strings"
	"sync"
)

// CommandError is returned when pull or build does not succeed. It matches
// ErrPullFailed or ErrBuildFailed with errors.Is.
type CommandError struct {
	Stage    string
	Args     []string
	ExitCode int
	// Output is the tail of the combined stdout and stderr of the command.
	Output string

	sentinel error
	cause    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %q exited with code %d: %v",
		e.sentinel, strings.Join(e.Args, " "), e.ExitCode, e.cause)
}

func (e *CommandError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	size int
	buf  []byte
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.size; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
