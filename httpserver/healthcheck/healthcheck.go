package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hellofresh/health-go/v4"

	"github.com/grugmq/redeployer/httpserver"
	"github.com/grugmq/redeployer/o11y/wrappers/o11ygin"
	"github.com/grugmq/redeployer/system"
)

const checkTimeout = 5 * time.Second

// StatusFunc returns a JSON-serialisable snapshot for the /status endpoint.
type StatusFunc func(ctx context.Context) interface{}

type API struct {
	router *gin.Engine
}

// Load serves the admin API on addr as one of the services of sys.
func Load(ctx context.Context, addr string, sys *system.System, status StatusFunc) (*httpserver.HTTPServer, error) {
	api, err := New(ctx, sys.HealthChecks(), status)
	if err != nil {
		return nil, err
	}
	return httpserver.Load(ctx, httpserver.Config{Name: "admin", Addr: addr, Handler: api.Handler()}, sys)
}

// New builds the admin API. The /status route is only registered when status is not nil.
func New(ctx context.Context, checkers []system.HealthChecker, status StatusFunc) (*API, error) {
	live, ready, err := healthChecks(checkers)
	if err != nil {
		return nil, fmt.Errorf("health checks: %w", err)
	}

	r := o11ygin.Router(ctx, "admin")
	r.GET("/live", gin.WrapH(live.Handler()))
	r.GET("/ready", gin.WrapH(ready.Handler()))
	r.GET("/debug/pprof/*profile", profile)
	if status != nil {
		r.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, status(c.Request.Context()))
		})
	}
	return &API{router: r}, nil
}

func (a *API) Handler() http.Handler {
	return a.router
}

// healthChecks registers each checker's live and ready funcs, either may be nil.
func healthChecks(checkers []system.HealthChecker) (live, ready *health.Health, err error) {
	if live, err = health.New(); err != nil {
		return nil, nil, err
	}
	if ready, err = health.New(); err != nil {
		return nil, nil, err
	}

	for _, c := range checkers {
		name, readyCheck, liveCheck := c.HealthChecks()
		for h, check := range map[*health.Health]func(context.Context) error{ready: readyCheck, live: liveCheck} {
			if check == nil {
				continue
			}
			err = h.Register(health.Config{Name: name, Timeout: checkTimeout, Check: check})
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return live, ready, nil
}

// profile serves pprof. Index also serves the named runtime profiles, and 404s the rest.
func profile(c *gin.Context) {
	handlers := map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	}
	h, ok := handlers[strings.Trim(c.Param("profile"), "/")]
	if !ok {
		h = pprof.Index
	}
	h(c.Writer, c.Request)
}
