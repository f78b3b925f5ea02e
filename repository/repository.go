package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/grugmq/redeployer/colourise"
	"github.com/grugmq/redeployer/internal/procgroup"
	"github.com/grugmq/redeployer/internal/relay"
	"github.com/grugmq/redeployer/o11y"
)

var (
	ErrPullFailed  = errors.New("pull failed")
	ErrBuildFailed = errors.New("build failed")
)

var (
	DefaultPullCommand  = []string{"git", "pull"}
	DefaultBuildCommand = []string{"cargo", "build", "--release"}
)

const (
	defaultTailSize = 4096
	// how long a cancelled command's output may take to close after its group is killed
	waitDelay = 5 * time.Second
)

// Head identifies the checked out commit.
type Head string

func (h Head) String() string {
	return string(h)
}

// Short returns the abbreviated form of the head, as git log --oneline shows it.
func (h Head) Short() string {
	if len(h) > 7 {
		return string(h[:7])
	}
	return string(h)
}

type Config struct {
	// Dir is the working tree of the checkout.
	Dir          string
	PullCommand  []string
	BuildCommand []string
	// Console receives the relayed output of pull and build.
	Console io.Writer
	Colour  bool
	// TailSize is how many bytes of output a CommandError keeps.
	TailSize int
}

type Manager struct {
	dir          string
	pullCommand  []string
	buildCommand []string
	console      io.Writer
	colour       bool
	tailSize     int
}

func New(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("repository dir is required")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("repository dir: %w", err)
	}
	if len(cfg.PullCommand) == 0 {
		cfg.PullCommand = DefaultPullCommand
	}
	if len(cfg.BuildCommand) == 0 {
		cfg.BuildCommand = DefaultBuildCommand
	}
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}
	if cfg.TailSize == 0 {
		cfg.TailSize = defaultTailSize
	}

	return &Manager{
		dir:          dir,
		pullCommand:  cfg.PullCommand,
		buildCommand: cfg.BuildCommand,
		console:      cfg.Console,
		colour:       cfg.Colour,
		tailSize:     cfg.TailSize,
	}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

// Head returns the commit HEAD points at. It reads the same refs as git rev-parse HEAD
// and has no side effects.
func (m *Manager) Head(ctx context.Context) (head Head, err error) {
	_, span := o11y.StartSpan(ctx, "repository: head")
	defer o11y.End(span, &err)

	repo, err := git.PlainOpen(m.dir)
	if err != nil {
		return "", fmt.Errorf("open repository %q: %w", m.dir, err)
	}

	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve head: %w", err)
	}

	head = Head(ref.Hash().String())
	span.AddField("head", head)
	return head, nil
}

// Pull fetches and merges new commits into the checkout.
func (m *Manager) Pull(ctx context.Context) error {
	return m.run(ctx, "pull", m.pullCommand, ErrPullFailed)
}

// Build runs the release build in the checkout.
func (m *Manager) Build(ctx context.Context) error {
	return m.run(ctx, "build", m.buildCommand, ErrBuildFailed)
}

func (m *Manager) run(ctx context.Context, stage string, args []string, sentinel error) (err error) {
	ctx, span := o11y.StartSpan(ctx, "repository: "+stage)
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("repository."+stage, "result"))
	span.AddField("command", strings.Join(args, " "))

	// #nosec - the commands come from the operator's configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = m.dir
	procgroup.Setup(cmd)
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd.Process.Pid)
	}
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	tail := newTailBuffer(m.tailSize)
	out := io.MultiWriter(pw, tail)
	cmd.Stdout = out
	cmd.Stderr = out

	r := relay.Start(pr, m.console, colourise.Prefix(stage, m.colour), relay.DefaultSize)
	runErr := cmd.Run()
	_ = pw.Close()
	r.Wait()
	span.AddField("output_lines", r.Relayed())

	if runErr == nil {
		return nil
	}

	cerr := &CommandError{
		Stage:    stage,
		Args:     args,
		ExitCode: -1,
		Output:   tail.String(),
		sentinel: sentinel,
		cause:    runErr,
	}
	exitErr := &exec.ExitError{}
	if errors.As(runErr, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		cerr.cause = fmt.Errorf("%w: %v", ctx.Err(), runErr)
	}
	span.AddField("exit_code", cerr.ExitCode)
	return cerr
}
