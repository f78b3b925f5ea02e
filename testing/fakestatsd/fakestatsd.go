// Package fakestatsd is a UDP statsd listener for tests that need to see the
// metrics the supervisor emits on the wire.
package fakestatsd

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

// Metric is one dogstatsd line, name:value|type|#tag1,tag2. Value keeps the type.
type Metric struct {
	Name  string
	Value string
	Tags  []string
}

type FakeStatsd struct {
	conn *net.UDPConn

	mu       sync.Mutex
	received []Metric
}

// New listens on a random local port until the test ends.
func New(t testing.TB) *FakeStatsd {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.Assert(t, err)

	s := &FakeStatsd{conn: conn}
	go s.receive()
	t.Cleanup(func() { _ = conn.Close() })
	return s
}

func (s *FakeStatsd) Addr() string {
	return s.conn.LocalAddr().String()
}

func (s *FakeStatsd) Metrics() []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Metric(nil), s.received...)
}

func (s *FakeStatsd) receive() {
	packet := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(packet)
		if errors.Is(err, net.ErrClosed) {
			return
		}
		// the client batches several lines into a packet
		for _, line := range strings.Split(string(packet[:n]), "\n") {
			if m, ok := parse(strings.TrimSpace(line)); ok {
				s.mu.Lock()
				s.received = append(s.received, m)
				s.mu.Unlock()
			}
		}
	}
}

func parse(line string) (Metric, bool) {
	name, rest, ok := strings.Cut(line, ":")
	if !ok || name == "" {
		return Metric{}, false
	}
	value, tags, hasTags := strings.Cut(rest, "#")
	m := Metric{Name: name, Value: value}
	if hasTags {
		m.Tags = strings.Split(tags, ",")
	}
	return m, true
}
