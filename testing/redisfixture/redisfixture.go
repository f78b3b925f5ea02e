// Package redisfixture is a Redis database holding a control channel key for tests.
// Tests are skipped when no Redis server is running.
package redisfixture

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/grugmq/redeployer/o11y"
	"github.com/grugmq/redeployer/testing/internal/types"
)

const DefaultAddr = "localhost:6379"

type Fixture struct {
	*redis.Client
	Addr string
	DB   int
	// Key is where the control channel value lives.
	Key string
}

type Connection struct {
	Addr string
	Key  string
}

var (
	countOnce sync.Once
	databases int
)

// Setup hands the test an emptied database. Package tests run in parallel, so the
// database is picked by hashing the test name across all the server has.
func Setup(ctx context.Context, t types.TestingTB, con Connection) *Fixture {
	t.Helper()
	ctx, span := o11y.StartSpan(ctx, "redisfixture: setup")
	defer span.End()

	if con.Addr == "" {
		con.Addr = DefaultAddr
	}
	if con.Key == "" {
		con.Key = "deploy"
	}
	countOnce.Do(func() {
		databases = countDatabases(ctx, t, con.Addr)
	})
	if databases == 0 {
		t.Skip("Redis not available")
	}

	db := hash(t.Name(), databases)
	span.AddField("db", db)

	client := redis.NewClient(&redis.Options{Addr: con.Addr, DB: db})
	t.Cleanup(func() {
		assert.Check(t, client.Close())
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available: " + err.Error())
	}
	assert.Assert(t, client.FlushDB(ctx).Err())

	return &Fixture{Client: client, Addr: con.Addr, DB: db, Key: con.Key}
}

// SetValue stores value in the control key, as an operator would.
func (f *Fixture) SetValue(ctx context.Context, t types.TestingTB, value string) {
	t.Helper()
	assert.Assert(t, f.Set(ctx, f.Key, value, 0).Err())
}

// Value is what the control key holds now.
func (f *Fixture) Value(ctx context.Context, t types.TestingTB) string {
	t.Helper()
	v, err := f.Get(ctx, f.Key).Result()
	assert.Assert(t, err)
	return v
}

// hash maps name onto one of n databases.
func hash(name string, n int) int {
	h := fnv.New32()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % uint32(n))
}

// countDatabases is zero when the server cannot be reached.
func countDatabases(ctx context.Context, t types.TestingTB, addr string) int {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer func() { _ = c.Close() }()

	if c.Ping(ctx).Err() != nil {
		return 0
	}
	v, err := c.ConfigGet(ctx, "databases").Result()
	assert.Assert(t, err)
	assert.Assert(t, cmp.Len(v, 2))

	n, err := strconv.Atoi(fmt.Sprint(v[1]))
	assert.Assert(t, err)
	return n
}
