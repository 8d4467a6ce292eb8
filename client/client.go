// Package client is a thin convenience layer over dpool.DPool, the way
// tiny_grpc's own client package wrapped a raw connection with optional
// circuit-breaking. Unlike that package it carries no wire protocol: Do
// just borrows a connection, runs the caller's callback, and returns it.
package client

import (
	"context"

	"github.com/afex/hystrix-go/hystrix"

	"github.com/WangXijue/dpool"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithCircuitBreaker wraps every Do call in a named hystrix command. This
// is a call-site safety net layered on top of, not a replacement for, the
// pool's own per-shard health tracking: the shard health-checker decides
// which servers are healthy, the breaker decides whether the caller should
// keep hammering the pool at all once it is systemically failing.
func WithCircuitBreaker(conf hystrix.CommandConfig) Option {
	return func(c *Client) {
		c.breaker = true
		c.breakerConf = conf
	}
}

// WithName overrides the hystrix command name (defaults to the pool's own
// name).
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// Client pairs a DPool with the connection-lifecycle boilerplate: borrow,
// run, return, marking the connection broken if the callback failed.
type Client struct {
	pool *dpool.DPool
	name string

	breaker     bool
	breakerConf hystrix.CommandConfig
}

// New returns a Client over pool.
func New(pool *dpool.DPool, opts ...Option) *Client {
	c := &Client{pool: pool, name: pool.Name()}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker {
		hystrix.ConfigureCommand(c.name, c.breakerConf)
	}
	return c
}

// Do borrows a connection, invokes fn, and returns it to the pool. The
// connection is marked broken if fn returns a non-nil error or ctx's
// deadline was exceeded while fn ran, since both mean the caller can no
// longer trust the connection's state.
func (c *Client) Do(ctx context.Context, fn func(conn dpool.Connection) error) error {
	if c.breaker {
		return c.doWithBreaker(ctx, fn)
	}
	return c.do(ctx, fn)
}

func (c *Client) do(ctx context.Context, fn func(conn dpool.Connection) error) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}

	err = fn(conn)
	broken := err != nil || ctx.Err() != nil
	c.pool.Put(conn, broken)
	return err
}

func (c *Client) doWithBreaker(ctx context.Context, fn func(conn dpool.Connection) error) error {
	// hystrix.Go only reports on errCh when the command fails, times out or
	// is rejected; a successful run is reported on doneCh instead.
	doneCh := make(chan error, 1)
	errCh := hystrix.Go(c.name, func() error {
		err := c.do(ctx, fn)
		doneCh <- err
		return err
	}, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-doneCh:
		return err
	case err := <-errCh:
		return err
	}
}
