package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/grugmq/redeployer/system"
	"github.com/grugmq/redeployer/testing/testcontext"
)

var statusHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "idle")
})

func TestServe_TCP(t *testing.T) {
	srv := serve(t, Config{Name: "admin", Addr: "localhost:0", Handler: statusHandler})

	c := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	assert.Check(t, cmp.Equal(get(t, c, "http://"+srv.Addr()+"/status"), "idle"))

	mp := srv.MetricsProducer()
	assert.Check(t, cmp.Equal(mp.MetricName(), "admin-listener"))
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if g := mp.Gauges(context.Background()); g["active_connections"] != 0 {
			return poll.Continue("connection still open: %v", g)
		}
		return poll.Success()
	})
	assert.Check(t, cmp.Equal(mp.Gauges(context.Background())["total_connections"], 1.0))
}

func TestServe_UnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "admin.sock")
	serve(t, Config{Name: "admin", Addr: "unix:" + socket, Handler: statusHandler})

	c := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", socket)
		},
	}}
	assert.Check(t, cmp.Equal(get(t, c, "http://admin/status"), "idle"))
}

func TestNew_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	assert.Assert(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	_, err = Load(testcontext.Background(), Config{Name: "admin", Addr: ln.Addr().String()}, system.New())
	assert.Check(t, cmp.ErrorContains(err, "admin server: "))
	assert.Check(t, cmp.ErrorContains(err, "address already in use"))
}

func serve(t *testing.T, cfg Config) *HTTPServer {
	t.Helper()
	ctx, cancel := context.WithCancel(testcontext.Background())

	srv, err := New(ctx, cfg)
	assert.Assert(t, err)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })
	t.Cleanup(func() {
		cancel()
		assert.Check(t, g.Wait())
	})
	return srv
}

func get(t *testing.T, c *http.Client, url string) string {
	t.Helper()
	res, err := c.Get(url)
	assert.Assert(t, err)
	defer res.Body.Close()
	assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))

	b, err := io.ReadAll(res.Body)
	assert.Assert(t, err)
	return string(b)
}
