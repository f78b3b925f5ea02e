/*
Package dnscache caches DNS lookups in process, so a client polling the control
channel every second does not resolve its host every second.

When a lookup fails after an entry has gone stale, the stale addresses are served
for up to MaxStale, so a short DNS outage does not read as an empty channel.
*/
package dnscache

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/vmihailenco/go-tinylfu"
	"go.uber.org/atomic"
)

const (
	defaultCacheSize = 16
	defaultTTL       = 5 * time.Second
	defaultMaxStale  = time.Minute
)

type LookupFunc func(ctx context.Context, r *net.Resolver, host string) ([]net.IP, error)

func lookupIPs(ctx context.Context, r *net.Resolver, host string) ([]net.IP, error) {
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}

	ips := make([]net.IP, len(addrs))
	for i, ia := range addrs {
		ips[i] = ia.IP
	}
	return ips, nil
}

type Config struct {
	CacheSize int
	// TTL is how long a lookup is used before the host is resolved again.
	TTL time.Duration
	// MaxStale is how long past its TTL an entry may stand in for a failed lookup.
	// Negative disables serving stale entries.
	MaxStale time.Duration

	// Resolver optionally allows specifying a custom resolver
	Resolver *net.Resolver

	lookupFunc LookupFunc
	now        func() time.Time
}

type Resolver struct {
	config Config

	hits   *atomic.Int64
	misses *atomic.Int64
	stale  *atomic.Int64

	mu    sync.Mutex
	cache *tinylfu.T
}

type entry struct {
	ips        []net.IP
	freshUntil time.Time
}

func New(c Config) *Resolver {
	if c.CacheSize == 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.TTL == 0 {
		c.TTL = defaultTTL
	}
	if c.MaxStale == 0 {
		c.MaxStale = defaultMaxStale
	}
	if c.MaxStale < 0 {
		c.MaxStale = 0
	}
	if c.Resolver == nil {
		c.Resolver = net.DefaultResolver
	}
	if c.lookupFunc == nil {
		c.lookupFunc = lookupIPs
	}
	if c.now == nil {
		c.now = time.Now
	}

	return &Resolver{
		config: c,
		hits:   atomic.NewInt64(0),
		misses: atomic.NewInt64(0),
		stale:  atomic.NewInt64(0),
		cache:  tinylfu.New(c.CacheSize, 1000),
	}
}

// Resolve returns the addresses for host. IP literals are returned as they are.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	now := r.config.now()
	cached, ok := r.cacheGet(host)
	if ok && now.Before(cached.freshUntil) {
		r.hits.Inc()
		return cached.ips, nil
	}

	r.misses.Inc()
	ips, err := r.config.lookupFunc(ctx, r.config.Resolver, host)
	if err != nil {
		if ok && now.Before(cached.freshUntil.Add(r.config.MaxStale)) {
			r.stale.Inc()
			return cached.ips, nil
		}
		return nil, err
	}

	r.cacheSet(host, entry{
		ips:        ips,
		freshUntil: now.Add(r.config.TTL),
	}, now.Add(r.config.TTL+r.config.MaxStale))
	return ips, nil
}

// Stats reports cache hits, lookups made, and failed lookups answered from a stale entry.
func (r *Resolver) Stats() (hits, misses, stale int64) {
	return r.hits.Load(), r.misses.Load(), r.stale.Load()
}

func (r *Resolver) cacheSet(host string, e entry, expireAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a stale entry left in place would be admitted again behind the new one
	r.cache.Del(host)
	r.cache.Set(&tinylfu.Item{
		Key:      host,
		Value:    e,
		ExpireAt: expireAt,
	})
}

func (r *Resolver) cacheGet(host string) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.cache.Get(host)
	if !ok {
		return entry{}, false
	}
	return v.(entry), true
}
