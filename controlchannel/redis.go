package controlchannel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/grugmq/redeployer/config/secret"
	"github.com/grugmq/redeployer/o11y"
)

const DefaultRedisKey = "deploy"

type RedisConfig struct {
	Addr     string
	User     string
	Password secret.String
	DB       int
	// Key is the single key holding both commands and statuses.
	Key string
	// Timeout bounds each read and write.
	Timeout time.Duration
}

// Redis is a Channel held in a single Redis key.
type Redis struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:       cfg.Addr,
			Username:   cfg.User,
			Password:   cfg.Password.Raw(),
			DB:         cfg.DB,
			MaxRetries: -1,
			PoolSize:   2,
		}),
		key:     cfg.Key,
		timeout: cfg.Timeout,
	}
}

// Read returns the value of the key. A missing key reads as "".
func (r *Redis) Read(ctx context.Context) (value string) {
	var err error
	ctx, span := o11y.StartSpan(ctx, "controlchannel: redis read")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Incr("controlchannel.read", "result"))
	span.AddField("key", r.key)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	value, err = r.client.Get(ctx, r.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		err = nil
		return ""
	case err != nil:
		err = fmt.Errorf("%w: %v", errReadFailed, err)
		return ""
	}

	value = strings.TrimSpace(value)
	span.AddField("value", value)
	return value
}

// Write sets the key to status. Failures are traced as warnings and otherwise ignored.
func (r *Redis) Write(ctx context.Context, status Status) (delivered bool) {
	var err error
	ctx, span := o11y.StartSpan(ctx, "controlchannel: redis write")
	defer o11y.End(span, &err)
	span.RecordMetric(o11y.Incr("controlchannel.write", "result"))
	span.AddField("key", r.key)
	addStatusFields(span, status)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err = r.client.Set(ctx, r.key, string(status), 0).Err()
	if err != nil {
		err = fmt.Errorf("%w: %v", errWriteFailed, err)
		return false
	}
	return true
}

// HealthChecks reports the channel ready while Redis answers a ping.
func (r *Redis) HealthChecks() (name string, ready, live func(ctx context.Context) error) {
	ready = func(ctx context.Context) error {
		pong, err := r.client.Ping(ctx).Result()
		if err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		if pong != "PONG" {
			return fmt.Errorf("unexpected response for redis ping: %q", pong)
		}

		return nil
	}
	return "control-redis", ready, nil
}

// MetricName satisfies system.MetricProducer.
func (r *Redis) MetricName() string {
	return "control-redis"
}

// Gauges reports the connection pool statistics of the client.
func (r *Redis) Gauges(_ context.Context) map[string]float64 {
	stats := r.client.PoolStats()
	return map[string]float64{
		"hits":     float64(stats.Hits),
		"misses":   float64(stats.Misses),
		"timeouts": float64(stats.Timeouts),

		"total_connections": float64(stats.TotalConns),
		"idle_connections":  float64(stats.IdleConns),
		"stale_connections": float64(stats.StaleConns),
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
