// Package fakecontrol is an in-process control server for tests. Like the real one it
// holds a single value, which writes replace and reads return.
package fakecontrol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/grugmq/redeployer/o11y/wrappers/o11ygin"
	"github.com/grugmq/redeployer/testing/internal/types"
)

type Server struct {
	srv *httptest.Server

	mu      sync.Mutex
	value   string
	writes  []string
	reads   int
	failing bool
}

// New starts a server that is closed when the test ends.
func New(ctx context.Context, t types.TestingTB) *Server {
	t.Helper()

	s := &Server{}

	r := o11ygin.Router(ctx, "fakecontrol")
	r.GET("/v1/deploy/read", s.read)
	r.GET("/v1/deploy/write/*message", s.write)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) URL() string {
	return s.srv.URL
}

// Set replaces the value, as an operator asking for a redeploy would.
func (s *Server) Set(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
}

func (s *Server) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Writes returns every value written so far, oldest first.
func (s *Server) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// Reads returns how many reads have been served.
func (s *Server) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// SetFailing makes every request fail with a 500 while failing is true.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *Server) read(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		c.Status(http.StatusInternalServerError)
		return
	}
	s.reads++
	c.String(http.StatusOK, s.value)
}

func (s *Server) write(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		c.Status(http.StatusInternalServerError)
		return
	}
	msg, err := url.PathUnescape(strings.TrimPrefix(c.Param("message"), "/"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	s.value = msg
	s.writes = append(s.writes, msg)
	c.Status(http.StatusOK)
}
