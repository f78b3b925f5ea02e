package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grugmq/redeployer/o11y"
	"github.com/grugmq/redeployer/system"
)

const defaultShutdownTimeout = 10 * time.Second

type Config struct {
	// Name tags the server's spans and listener gauges.
	Name string
	// Addr is a TCP address, or a unix socket path prefixed with "unix:".
	Addr    string
	Handler http.Handler
	// ShutdownTimeout is how long in flight requests get once the server is stopping.
	ShutdownTimeout time.Duration
}

type HTTPServer struct {
	listener        *trackedListener
	server          *http.Server
	shutdownTimeout time.Duration
}

// Load creates the server, and adds it and its listener gauges to sys.
func Load(ctx context.Context, cfg Config, sys *system.System) (*HTTPServer, error) {
	s, err := New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s server: %w", cfg.Name, err)
	}
	sys.AddService(s.Serve)
	sys.AddMetrics(s.MetricsProducer())
	return s, nil
}

// New listens on cfg.Addr straight away, so a port clash fails startup rather than Serve.
func New(ctx context.Context, cfg Config) (s *HTTPServer, err error) {
	_, span := o11y.StartSpan(ctx, "server: new-server "+cfg.Name)
	defer o11y.End(span, &err)

	network, addr := "tcp", cfg.Addr
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		network, addr = "unix", path
	}
	span.AddField("server_name", cfg.Name)
	span.AddField("network", network)

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	span.AddField("address", ln.Addr().String())

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &HTTPServer{
		listener: &trackedListener{Listener: ln, name: cfg.Name},
		server: &http.Server{
			Handler:           cfg.Handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       55 * time.Second,
			WriteTimeout:      55 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Serve until ctx is done, then give in flight requests up to the shutdown timeout.
func (s *HTTPServer) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.server.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(stopCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// MetricsProducer reports the connections of the server's listener.
func (s *HTTPServer) MetricsProducer() system.MetricProducer {
	return s.listener
}

func (s *HTTPServer) Addr() string {
	return s.listener.Addr().String()
}
