package httpserver

import (
	"context"
	"net"
	"sync"
)

// trackedListener counts the connections it accepts, and how many are still open.
type trackedListener struct {
	net.Listener

	mu         sync.RWMutex
	name       string
	accepted   int
	activeConn int
}

func (l *trackedListener) Accept() (net.Conn, error) {
	con, err := l.Listener.Accept()
	if err != nil {
		return con, err
	}
	l.track(1)
	return &trackedConnection{Conn: con, l: l}, nil
}

// MetricName satisfies system.MetricProducer.
func (l *trackedListener) MetricName() string {
	return l.name + "-listener"
}

// Gauges satisfies system.MetricProducer.
func (l *trackedListener) Gauges(_ context.Context) map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]float64{
		"total_connections":  float64(l.accepted),
		"active_connections": float64(l.activeConn),
	}
}

func (l *trackedListener) track(delta int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if delta > 0 {
		l.accepted++
	}
	l.activeConn += delta
}

type trackedConnection struct {
	net.Conn

	once sync.Once
	l    *trackedListener
}

// Close untracks the connection once, however many times it is closed.
func (c *trackedConnection) Close() error {
	c.once.Do(func() {
		c.l.track(-1)
	})
	return c.Conn.Close()
}
