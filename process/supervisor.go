package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/grugmq/redeployer/colourise"
	"github.com/grugmq/redeployer/internal/procgroup"
	"github.com/grugmq/redeployer/internal/relay"
	"github.com/grugmq/redeployer/o11y"
)

var (
	ErrAlreadyRunning = errors.New("process already running")
	ErrNotRunning     = errors.New("process not running")
	ErrClosed         = errors.New("process supervisor closed")

	errUnexpectedExit = o11y.NewWarning("process exited unexpectedly")
)

const (
	defaultStopTimeout = 10 * time.Second
	// killGrace is how long SIGKILL gets to clear the group
	killGrace = 2 * time.Second
)

var DefaultCommand = []string{"./target/release/grugmq"}

type Config struct {
	// Name prefixes every relayed line. It defaults to the base name of the binary.
	Name string
	// Dir is the working directory of the child.
	Dir     string
	Command []string
	// Port is passed to the child as its last argument, unless empty.
	Port string
	// Env is added to the environment of the supervisor.
	Env []string

	Console io.Writer
	Colour  bool
	// RelaySize is how many lines may wait for the console before lines are dropped.
	RelaySize int
	// StopTimeout is how long the group has to exit after SIGTERM before it is killed.
	StopTimeout time.Duration
}

// Supervisor owns at most one running child process.
type Supervisor struct {
	name        string
	dir         string
	args        []string
	env         []string
	console     io.Writer
	prefix      string
	relaySize   int
	stopTimeout time.Duration

	mu     sync.Mutex
	child  *child
	closed bool

	starts          *atomic.Int64
	unexpectedExits *atomic.Int64
	priorDropped    *atomic.Int64
}

type child struct {
	cmd     *exec.Cmd
	pid     int
	relay   *relay.Relay
	exited  chan struct{}
	waitErr error

	stopping *atomic.Bool
}

func (c *child) hasExited() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

func New(cfg Config) *Supervisor {
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Command[0])
	}
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}
	if cfg.RelaySize == 0 {
		cfg.RelaySize = relay.DefaultSize
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	args := append([]string{}, cfg.Command...)
	if cfg.Port != "" {
		args = append(args, cfg.Port)
	}

	return &Supervisor{
		name:            cfg.Name,
		dir:             cfg.Dir,
		args:            args,
		env:             cfg.Env,
		console:         cfg.Console,
		prefix:          colourise.Prefix(cfg.Name, cfg.Colour),
		relaySize:       cfg.RelaySize,
		stopTimeout:     cfg.StopTimeout,
		starts:          atomic.NewInt64(0),
		unexpectedExits: atomic.NewInt64(0),
		priorDropped:    atomic.NewInt64(0),
	}
}

// Start launches a new child. It fails with ErrAlreadyRunning while a child is running,
// and with ErrClosed once the supervisor has been closed.
func (s *Supervisor) Start(ctx context.Context) (err error) {
	_, span := o11y.StartSpan(ctx, "process: start")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Incr("process.start", "result"))
	span.AddField("command", strings.Join(s.args, " "))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.child != nil {
		if !s.child.hasExited() {
			span.AddField("pid", s.child.pid)
			return ErrAlreadyRunning
		}
		s.clearChild()
	}

	// #nosec - the command comes from the operator's configuration
	cmd := exec.Command(s.args[0], s.args[1:]...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.env...)
	procgroup.Setup(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	err = cmd.Start()
	// the child holds its own copy of the write end
	_ = pw.Close()
	if err != nil {
		_ = pr.Close()
		return fmt.Errorf("start %q: %w", s.args[0], err)
	}

	c := &child{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		relay:    relay.Start(pr, s.console, s.prefix, s.relaySize),
		exited:   make(chan struct{}),
		stopping: atomic.NewBool(false),
	}
	s.child = c
	s.starts.Inc()
	span.AddField("pid", c.pid)

	go s.reap(ctx, c, pr)
	return nil
}

// reap waits for the child to exit. An exit nobody asked for is logged, and nothing more.
func (s *Supervisor) reap(ctx context.Context, c *child, output io.Closer) {
	c.waitErr = c.cmd.Wait()
	close(c.exited)

	if !c.stopping.Load() {
		s.unexpectedExits.Inc()
		err := errUnexpectedExit
		if c.waitErr != nil {
			err = fmt.Errorf("%w: %v", errUnexpectedExit, c.waitErr)
		}
		o11y.LogError(ctx, "process: exited", err,
			o11y.Field("name", s.name),
			o11y.Field("pid", c.pid),
		)
	}

	// anything the child forked may still be writing
	c.relay.Wait()
	_ = output.Close()
}

// Kill stops the running child and its process group. It returns once the child has
// been reaped, so anything it was listening on is free.
func (s *Supervisor) Kill(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "process: kill")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("process.kill", "result"))

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.kill(ctx, span)
}

func (s *Supervisor) kill(_ context.Context, span o11y.Span) error {
	c := s.child
	if c == nil {
		return ErrNotRunning
	}
	defer s.clearChild()
	span.AddField("pid", c.pid)

	c.stopping.Store(true)
	if c.hasExited() {
		span.AddField("already_exited", true)
	}

	// the group is signalled even after the leader has gone, anything it forked may
	// still hold the port
	err := procgroup.Terminate(c.pid)
	if err != nil {
		span.AddField("terminate_error", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	select {
	case <-c.exited:
	case <-ctx.Done():
	}

	err = procgroup.Wait(ctx, c.pid)
	if err != nil {
		span.AddField("forced", true)
		err = procgroup.Kill(c.pid)
		if err != nil {
			return fmt.Errorf("kill process group %d: %w", c.pid, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), killGrace)
		defer cancel()
		if procgroup.Wait(ctx, c.pid) != nil {
			span.AddField("group_lingering", true)
		}
	}
	<-c.exited

	if c.waitErr != nil {
		span.AddField("exit", c.waitErr.Error())
	}
	return nil
}

// Close stops any running child, and refuses to start another.
func (s *Supervisor) Close(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "process: close")
	defer o11y.End(span, &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	err = s.kill(ctx, span)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

func (s *Supervisor) clearChild() {
	s.priorDropped.Add(s.child.relay.Dropped())
	s.child = nil
}

// Running reports whether a child has been started, and has neither been killed nor exited.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child != nil && !s.child.hasExited()
}

// PID returns the pid of the running child, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil || s.child.hasExited() {
		return 0
	}
	return s.child.pid
}

// Name is the prefix of relayed child output.
func (s *Supervisor) Name() string {
	return s.name
}

// Starts returns how many children have been started.
func (s *Supervisor) Starts() int64 {
	return s.starts.Load()
}

// UnexpectedExits returns how many children exited without being killed.
func (s *Supervisor) UnexpectedExits() int64 {
	return s.unexpectedExits.Load()
}

// DroppedLines returns how many lines of child output never reached the console.
func (s *Supervisor) DroppedLines() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.priorDropped.Load()
	if s.child != nil {
		n += s.child.relay.Dropped()
	}
	return n
}
