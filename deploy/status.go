package deploy

import (
	"context"
	"errors"
	"time"
)

// Snapshot is the state of the loop served on the admin /status endpoint.
type Snapshot struct {
	State        State      `json:"state"`
	Head         string     `json:"head"`
	Running      bool       `json:"running"`
	PID          int        `json:"pid"`
	LastStatus   string     `json:"last_status"`
	LastRedeploy *time.Time `json:"last_redeploy,omitempty"`

	RedeploysDone    int64 `json:"redeploys_done"`
	RedeploysSkipped int64 `json:"redeploys_skipped"`
	RedeploysFailed  int64 `json:"redeploys_failed"`
}

func (l *Loop) Snapshot() Snapshot {
	// the process is asked first, it may be busy stopping a child
	running, pid := l.process.Running(), l.process.PID()

	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{
		State:            l.state,
		Head:             l.head.String(),
		Running:          running,
		PID:              pid,
		LastStatus:       l.lastStatus.String(),
		RedeploysDone:    l.done.Load(),
		RedeploysSkipped: l.skipped.Load(),
		RedeploysFailed:  l.failed.Load(),
	}
	if !l.lastRedeploy.IsZero() {
		t := l.lastRedeploy
		s.LastRedeploy = &t
	}
	return s
}

// StatusFunc adapts Snapshot for the admin API.
func (l *Loop) StatusFunc(_ context.Context) interface{} {
	return l.Snapshot()
}

// HealthChecks reports the loop ready while a child is running.
func (l *Loop) HealthChecks() (name string, ready, live func(ctx context.Context) error) {
	ready = func(_ context.Context) error {
		if !l.process.Running() {
			return errors.New("child process is not running")
		}
		return nil
	}
	return "deploy", ready, nil
}

// MetricName satisfies system.MetricProducer.
func (l *Loop) MetricName() string {
	return "deploy"
}

// Gauges satisfies system.MetricProducer.
func (l *Loop) Gauges(_ context.Context) map[string]float64 {
	running := 0.0
	if l.process.Running() {
		running = 1
	}
	return map[string]float64{
		"child_running":          running,
		"child_unexpected_exits": float64(l.process.UnexpectedExits()),
		"redeploys_done":         float64(l.done.Load()),
		"redeploys_skipped":      float64(l.skipped.Load()),
		"redeploys_failed":       float64(l.failed.Load()),
		"relay_dropped_lines":    float64(l.process.DroppedLines()),
	}
}
