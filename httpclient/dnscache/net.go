package dnscache

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"
)

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialContext returns a dialer for http.Transport that resolves through resolver.
// The resolved addresses are tried in random order until one connects, or ctx is done.
func DialContext(resolver *Resolver, baseDial DialFunc) DialFunc {
	if baseDial == nil {
		baseDial = (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := resolver.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("dial %s: no addresses", host)
		}

		var firstErr error
		for _, i := range randPerm(len(ips)) {
			conn, err := baseDial(ctx, network, net.JoinHostPort(ips[i].String(), port))
			if err == nil {
				return conn, nil
			}
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		}
		return nil, fmt.Errorf("dial %s: %w", host, firstErr)
	}
}

var randPerm = rand.Perm
