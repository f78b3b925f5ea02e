// Package o11ygin traces requests to the gin routers of the admin server.
package o11ygin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grugmq/redeployer/o11y"
)

const contextCancelledKey = "o11y-context-cancelled-key"

var releaseMode sync.Once

// Router is a gin engine traced with the provider in ctx, with panics turned into 500s
// and requests abandoned by the client recorded as 499.
func Router(ctx context.Context, serverName string) *gin.Engine {
	releaseMode.Do(func() { gin.SetMode(gin.ReleaseMode) })

	r := gin.New()
	r.UseRawPath = true
	r.Use(Middleware(o11y.FromContext(ctx), serverName), Recovery(), ClientCancelled())
	return r
}

// Middleware traces every request in its own span, and times it as the handler metric.
func Middleware(provider o11y.Provider, serverName string) gin.HandlerFunc {
	metrics := provider.MetricsProvider()
	return func(c *gin.Context) {
		started := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "not-found"
		}
		c.Header("X-Route", route)

		ctx := o11y.WithProvider(c.Request.Context(), provider)
		ctx, span := provider.StartSpan(ctx, c.Request.Method+" "+c.FullPath())
		c.Request = c.Request.WithContext(ctx)

		span.AddRawField("meta.type", "http_server")
		span.AddRawField("http.server_name", serverName)
		span.AddRawField("http.method", c.Request.Method)
		span.AddRawField("http.route", route)
		span.AddRawField("http.url", c.Request.URL.String())
		span.AddRawField("http.client_ip", c.ClientIP())
		span.AddRawField("http.user_agent", c.Request.UserAgent())
		for _, p := range c.Params {
			span.AddRawField("handler.vars."+p.Key, p.Value)
		}

		defer func() {
			status := c.Writer.Status()
			if c.GetBool(contextCancelledKey) {
				status = 499
			}
			span.AddRawField("http.status_code", status)
			span.AddRawField("http.response_content_length", c.Writer.Size())
			result := "success"
			if status >= http.StatusInternalServerError {
				result = "error"
			}
			span.AddRawField("result", result)
			span.End()

			if metrics == nil {
				return
			}
			_ = metrics.TimeInMilliseconds("handler", float64(time.Since(started))/float64(time.Millisecond), []string{
				"http.server_name:" + serverName,
				"http.method:" + c.Request.Method,
				"http.route:" + route,
				"http.status_code:" + strconv.Itoa(status),
			}, 1)
		}()

		c.Next()
	}
}

// ClientCancelled marks requests the client gave up on, so Middleware records them as
// 499 like nginx does. Errors gin hit itself, say while rendering, go on the span.
func ClientCancelled() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ctx := c.Request.Context()
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			c.Set(contextCancelledKey, true)
		case len(c.Errors) > 0:
			o11y.AddField(ctx, "gin_internal_error", c.Errors.String())
		}
	}
}

// Recovery turns a handler panic into a 500, and records it with o11y.HandlePanic.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		c.AbortWithStatus(http.StatusInternalServerError)

		ctx := c.Request.Context()
		span := o11y.FromContext(ctx).GetSpan(ctx)
		if span == nil {
			return
		}
		// the client went away mid response, nothing panicked
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			o11y.AddResultToSpan(span, err)
			return
		}
		_ = o11y.HandlePanic(ctx, span, recovered, c.Request)
	})
}
