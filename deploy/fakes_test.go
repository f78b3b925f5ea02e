package deploy

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/grugmq/redeployer/controlchannel"
	"github.com/grugmq/redeployer/process"
	"github.com/grugmq/redeployer/repository"
)

// events records the order of repository and process calls across fakes.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(ev string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

// fakeChannel behaves like the control server, where a write replaces the value.
type fakeChannel struct {
	mu         sync.Mutex
	value      string
	reads      int
	writes     []string
	dropWrites bool
	// reissueAfter has the operator ask for a redeploy as soon as a status with this
	// prefix is stored
	reissueAfter string
}

func (c *fakeChannel) Read(_ context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.value
}

func (c *fakeChannel) Write(_ context.Context, status controlchannel.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, status.String())
	if c.dropWrites {
		return false
	}
	c.value = status.String()
	if c.reissueAfter != "" && strings.HasPrefix(c.value, c.reissueAfter) {
		c.value = "redeploy"
	}
	return true
}

func (c *fakeChannel) set(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

func (c *fakeChannel) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *fakeChannel) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

type fakeRepo struct {
	ev *events

	mu        sync.Mutex
	head      repository.Head
	afterPull repository.Head
	headErr   error
	pullErr   error
	buildErr  error
	onBuild   func() error
	// build blocks until ctx is done when set
	blockBuild bool
	building   chan struct{}
}

func (r *fakeRepo) Head(_ context.Context) (repository.Head, error) {
	r.ev.add("head")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headErr != nil {
		return "", r.headErr
	}
	return r.head, nil
}

func (r *fakeRepo) Pull(_ context.Context) error {
	r.ev.add("pull")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pullErr != nil {
		return r.pullErr
	}
	if r.afterPull != "" {
		r.head = r.afterPull
	}
	return nil
}

func (r *fakeRepo) Build(ctx context.Context) error {
	r.ev.add("build")
	r.mu.Lock()
	block, building, err, onBuild := r.blockBuild, r.building, r.buildErr, r.onBuild
	r.mu.Unlock()

	if onBuild != nil {
		if err := onBuild(); err != nil {
			return err
		}
	}

	if block {
		close(building)
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// fakeProcess fails the test through overlap if two children would ever run at once.
type fakeProcess struct {
	ev *events

	mu       sync.Mutex
	running  bool
	closed   bool
	overlap  bool
	starts   int
	kills    int
	startErr error
	killErr  error
	// failStartAfter makes every start after the first n fail with startErr
	failStartAfter int
}

func (p *fakeProcess) Start(_ context.Context) error {
	p.ev.add("start")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return process.ErrClosed
	}
	if p.running {
		p.overlap = true
		return process.ErrAlreadyRunning
	}
	if p.startErr != nil && p.starts >= p.failStartAfter {
		return p.startErr
	}
	p.starts++
	p.running = true
	return nil
}

func (p *fakeProcess) Kill(_ context.Context) error {
	p.ev.add("kill")
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return process.ErrNotRunning
	}
	if p.killErr != nil {
		return p.killErr
	}
	p.kills++
	p.running = false
	return nil
}

func (p *fakeProcess) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.ev.add("close")
	}
	p.closed = true
	p.running = false
	return nil
}

func (p *fakeProcess) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakeProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return 0
	}
	return 1000 + p.starts
}

func (p *fakeProcess) DroppedLines() int64 {
	return 7
}

func (p *fakeProcess) UnexpectedExits() int64 {
	return 0
}

func (p *fakeProcess) counts() (starts, kills int, overlap bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.kills, p.overlap
}

func (p *fakeProcess) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var errBoom = errors.New("boom")
