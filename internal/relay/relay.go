// Package relay copies the output of a subprocess to the console line by line, without
// ever blocking the subprocess on a slow console.
package relay

import (
	"bufio"
	"fmt"
	"io"

	"go.uber.org/atomic"
)

const (
	// DefaultSize is how many lines may wait for the console before lines are dropped.
	DefaultSize = 1024

	maxLineLength = 1024 * 1024
)

// Relay reads lines from a source on one goroutine and writes them to the console on
// another. When the console falls DefaultSize lines behind, new lines are dropped.
type Relay struct {
	lines chan string
	out   io.Writer
	pre   string
	done  chan struct{}

	relayed *atomic.Int64
	dropped *atomic.Int64
}

// Start begins relaying src to out, prefixing every line with prefix. src is read
// until it returns an error, usually io.EOF when the subprocess closes its output.
func Start(src io.Reader, out io.Writer, prefix string, size int) *Relay {
	if size <= 0 {
		size = DefaultSize
	}
	r := &Relay{
		lines:   make(chan string, size),
		out:     out,
		pre:     prefix,
		done:    make(chan struct{}),
		relayed: atomic.NewInt64(0),
		dropped: atomic.NewInt64(0),
	}
	go r.read(src)
	go r.write()
	return r
}

func (r *Relay) read(src io.Reader) {
	defer close(r.lines)

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for sc.Scan() {
		select {
		case r.lines <- sc.Text():
		default:
			r.dropped.Inc()
		}
	}
	// keep draining so the writer of src never blocks, even after an overlong line
	_, _ = io.Copy(io.Discard, src)
}

func (r *Relay) write() {
	defer close(r.done)

	for line := range r.lines {
		_, _ = fmt.Fprintf(r.out, "%s%s\n", r.pre, line)
		r.relayed.Inc()
	}
}

// Wait blocks until src is exhausted and every buffered line has been written.
func (r *Relay) Wait() {
	<-r.done
}

// Relayed returns how many lines have been written to the console.
func (r *Relay) Relayed() int64 {
	return r.relayed.Load()
}

// Dropped returns how many lines were discarded because the console fell behind.
func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}
