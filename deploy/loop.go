package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"

	"github.com/grugmq/redeployer/controlchannel"
	"github.com/grugmq/redeployer/o11y"
	"github.com/grugmq/redeployer/process"
	"github.com/grugmq/redeployer/repository"
	"github.com/grugmq/redeployer/worker"
)

type State string

const (
	StateIdle           State = "idle"
	StateCheckingUpdate State = "checking_update"
	StateBuilding       State = "building"
	StateRestarting     State = "restarting"
	StateShuttingDown   State = "shutting_down"
)

const (
	DefaultRedeployCommand = "redeploy"

	defaultPollInterval    = time.Second
	defaultSettleDelay     = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Repository is the checkout the loop deploys from.
type Repository interface {
	Head(ctx context.Context) (repository.Head, error)
	Pull(ctx context.Context) error
	Build(ctx context.Context) error
}

// Process is the child the loop keeps running.
type Process interface {
	Start(ctx context.Context) error
	Kill(ctx context.Context) error
	Close(ctx context.Context) error
	Running() bool
	PID() int
	DroppedLines() int64
	UnexpectedExits() int64
}

type Config struct {
	Channel    controlchannel.Channel
	Repository Repository
	Process    Process

	// RedeployCommand is the channel value that asks for a redeploy.
	RedeployCommand string
	PollInterval    time.Duration
	// SettleDelay is how long a new child has to come up before the redeploy is reported done.
	SettleDelay time.Duration
	// ShutdownTimeout bounds stopping the child once the loop has been cancelled.
	ShutdownTimeout time.Duration
}

type Loop struct {
	channel         controlchannel.Channel
	repo            Repository
	process         Process
	redeployCommand string
	pollInterval    time.Duration
	settleDelay     time.Duration
	shutdownTimeout time.Duration

	shutdown *atomic.Bool

	done    *atomic.Int64
	skipped *atomic.Int64
	failed  *atomic.Int64

	mu           sync.RWMutex
	cancel       context.CancelFunc
	state        State
	head         repository.Head
	lastStatus   controlchannel.Status
	lastRedeploy time.Time
	// handled is set once the command in the channel has been acted on, and cleared
	// when a status replaces it in the channel or the channel is seen holding anything else.
	handled bool
	// reissued is set when the command was written again while a redeploy ran. The
	// redeploy's outcome overwrites it in the channel, so it is acted on from here.
	reissued bool

	// progressDelivered is only touched by the loop goroutine.
	progressDelivered bool
}

func New(cfg Config) *Loop {
	if cfg.RedeployCommand == "" {
		cfg.RedeployCommand = DefaultRedeployCommand
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Loop{
		channel:         cfg.Channel,
		repo:            cfg.Repository,
		process:         cfg.Process,
		redeployCommand: cfg.RedeployCommand,
		pollInterval:    cfg.PollInterval,
		settleDelay:     cfg.SettleDelay,
		shutdownTimeout: cfg.ShutdownTimeout,
		shutdown:        atomic.NewBool(false),
		done:            atomic.NewInt64(0),
		skipped:         atomic.NewInt64(0),
		failed:          atomic.NewInt64(0),
		state:           StateIdle,
	}
}

// Run starts the child, then polls the control channel until ctx is cancelled or
// Shutdown is called. The child has been stopped by the time Run returns.
func (l *Loop) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	if l.shutdown.Load() {
		return nil
	}

	err = l.start(ctx)
	if err != nil {
		_ = l.Shutdown(ctx)
		return err
	}

	// the child is stopped as soon as the loop is cancelled, even mid redeploy
	running := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			_ = l.Shutdown(ctx)
		case <-running:
		}
	}()

	worker.Run(ctx, worker.Config{
		Name:               "deploy",
		NoWorkBackOff:      backoff.NewConstantBackOff(l.pollInterval),
		BackoffOnAllErrors: true,
		WorkFunc:           l.cycle,
	})
	close(running)
	<-stopped

	return l.Shutdown(ctx)
}

func (l *Loop) start(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "deploy: start")
	defer o11y.End(span, &err)

	head, headErr := l.repo.Head(ctx)
	if headErr != nil {
		o11y.LogError(ctx, "deploy: head unknown", headErr)
	} else {
		l.setHead(head)
		span.AddField("head", head)
		o11y.Log(ctx, "deploy: git head", o11y.Field("head", head), o11y.Field("short", head.Short()))
	}

	err = l.process.Start(ctx)
	if err != nil {
		return fmt.Errorf("start child: %w", err)
	}
	return nil
}

// Shutdown stops the loop and the child process group. No child is started afterwards.
// It is safe to call more than once, and from any goroutine.
func (l *Loop) Shutdown(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "deploy: shutdown")
	defer o11y.End(span, &err)

	l.shutdown.Store(true)
	l.setState(StateShuttingDown)

	l.mu.RLock()
	cancel := l.cancel
	l.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	// ctx is usually cancelled by now, stopping the child still needs time
	ctx, stop := context.WithTimeout(context.WithoutCancel(ctx), l.shutdownTimeout)
	defer stop()
	return l.process.Close(ctx)
}

func (l *Loop) cycle(ctx context.Context) error {
	if l.shutdown.Load() {
		return worker.ErrShouldBackoff
	}

	value := l.channel.Read(ctx)
	if !l.shouldRedeploy(value) {
		return worker.ErrShouldBackoff
	}

	err := l.redeploy(ctx)
	l.setState(StateIdle)
	if err != nil {
		return err
	}
	return worker.ErrShouldBackoff
}

// shouldRedeploy reports whether value is a redeploy command that has not been acted on.
func (l *Loop) shouldRedeploy(value string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reissued {
		l.reissued = false
		l.handled = true
		return true
	}
	if value != l.redeployCommand {
		l.handled = false
		return false
	}
	if l.handled {
		return false
	}
	l.handled = true
	return true
}

func (l *Loop) redeploy(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "deploy: redeploy")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Timing("deploy.redeploy", "result", "outcome"))

	l.mu.Lock()
	l.lastRedeploy = time.Now()
	l.mu.Unlock()

	l.setState(StateCheckingUpdate)
	l.progressDelivered = l.push(ctx, controlchannel.StatusInProgress)

	oldHead, err := l.repo.Head(ctx)
	if err != nil {
		return l.fail(ctx, span, "head", err)
	}
	span.AddField("old_head", oldHead)

	err = l.repo.Pull(ctx)
	if err != nil {
		return l.fail(ctx, span, "pull", err)
	}

	newHead, err := l.repo.Head(ctx)
	if err != nil {
		return l.fail(ctx, span, "head", err)
	}
	span.AddField("new_head", newHead)

	if newHead == oldHead {
		l.skipped.Inc()
		span.AddField("outcome", "skipped")
		o11y.Log(ctx, "deploy: no update from git, not redeploying", o11y.Field("head", newHead))
		l.finish(ctx, controlchannel.StatusSkipped)
		return nil
	}

	l.setState(StateBuilding)
	err = l.repo.Build(ctx)
	if err != nil {
		return l.fail(ctx, span, "build", err)
	}

	l.setState(StateRestarting)
	err = l.process.Kill(ctx)
	if err != nil && !errors.Is(err, process.ErrNotRunning) {
		return l.fail(ctx, span, "kill", err)
	}
	err = l.process.Start(ctx)
	if err != nil {
		return l.fail(ctx, span, "start", err)
	}
	l.setHead(newHead)

	err = l.settle(ctx)
	if err != nil {
		return err
	}

	l.done.Inc()
	span.AddField("outcome", "done")
	l.finish(ctx, controlchannel.StatusDone(newHead.String()))
	return nil
}

func (l *Loop) settle(ctx context.Context) error {
	t := time.NewTimer(l.settleDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Loop) fail(ctx context.Context, span o11y.Span, stage string, err error) error {
	l.failed.Inc()
	span.AddField("outcome", "failed")
	span.AddField("stage", stage)

	// a shutdown interrupted the redeploy, nobody is waiting for the status
	if ctx.Err() == nil {
		l.finish(ctx, controlchannel.StatusFailed(stage))
	}
	return fmt.Errorf("redeploy %s: %w", stage, err)
}

// finish pushes the outcome of a redeploy. The in progress status replaced the command
// in the channel, so finding the command there again means it was written again.
func (l *Loop) finish(ctx context.Context, status controlchannel.Status) {
	if l.progressDelivered && l.channel.Read(ctx) == l.redeployCommand {
		o11y.Log(ctx, "deploy: redeploy requested during redeploy")
		l.mu.Lock()
		l.reissued = true
		l.mu.Unlock()
	}
	l.push(ctx, status)
}

// push writes status to the channel. A delivered status replaces whatever command the
// channel held, so the next command read is a new one.
func (l *Loop) push(ctx context.Context, status controlchannel.Status) (delivered bool) {
	delivered = l.channel.Write(ctx, status)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastStatus = status
	if delivered {
		l.handled = false
	}
	return delivered
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// nothing follows shutting down
	if l.state == StateShuttingDown {
		return
	}
	l.state = s
}

func (l *Loop) setHead(h repository.Head) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = h
}

func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}
