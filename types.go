package dpool

import (
	"context"
	"fmt"
	"time"
)

// ServerAddress identifies a single backend endpoint.
type ServerAddress struct {
	Host string
	Port int
}

// String formats the address as "host:port".
func (a ServerAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Connection is the abstract resource a Shard hands out. Callers embed
// BaseConn in a concrete type that wraps their own client and implement
// Open and Close.
type Connection interface {
	// Open dials the connection. It must be called exactly once, before
	// the connection is handed to any caller.
	Open(ctx context.Context) error

	// Close releases the underlying transport. Only ever called by the
	// pool itself (the owning Shard, or the health-checker on its own probe
	// connections), never directly by a pool caller.
	Close() error

	ServerAddr() ServerAddress

	Borrowed() bool
	SetBorrowed(bool)

	// ShardID is the back-reference used by DPool.Put to resolve the
	// owning shard in O(1) without a search.
	ShardID() int
	SetShardID(int)
}

// Factory constructs a new, unopened Connection bound to addr. The pool
// calls Open on the result itself; the factory should not dial.
type Factory func(addr ServerAddress, connTimeout, dataTimeout time.Duration) Connection

// PoolConfig holds the tunables shared by every shard of a DPool.
type PoolConfig struct {
	// MaxIdle is the idle-stack high-water mark per shard. A Put that
	// would exceed it evicts the least-recently-used idle connection.
	MaxIdle int

	// MaxActive caps idle+borrowed connections per shard. Zero means
	// unbounded.
	MaxActive int

	// MaxFails is the consecutive failure streak (failed dials and broken
	// returns) that marks a shard suspectable, making it eligible for a
	// health probe.
	MaxFails int

	// ConnTimeoutMs and DataTimeoutMs are handed opaquely to Factory-built
	// connections.
	ConnTimeoutMs int
	DataTimeoutMs int

	// Wait, when true, makes Shard.Get block (up to MaxWaitMs) for an
	// idle or freed slot instead of failing fast once MaxActive is hit.
	Wait      bool
	MaxWaitMs int

	// IdleTimeoutMs is accepted for forward compatibility with a
	// periodic idle-connection reaper; the core does not implement one
	// (see SPEC_FULL.md, section 9).
	IdleTimeoutMs int
}

// DefaultPoolConfig returns the tunables used by the original reference
// implementation.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdle:       10,
		MaxActive:     100,
		MaxFails:      5,
		ConnTimeoutMs: 100,
		DataTimeoutMs: 100,
		Wait:          false,
		MaxWaitMs:     3,
	}
}

func (c PoolConfig) validate() error {
	if c.MaxIdle < 0 {
		return fmt.Errorf("dpool: MaxIdle must be >= 0")
	}
	if c.MaxActive < 0 {
		return fmt.Errorf("dpool: MaxActive must be >= 0")
	}
	if c.MaxFails <= 0 {
		return fmt.Errorf("dpool: MaxFails must be > 0")
	}
	if c.Wait && c.MaxWaitMs <= 0 {
		return fmt.Errorf("dpool: MaxWaitMs must be > 0 when Wait is enabled")
	}
	return nil
}

func (c PoolConfig) connTimeout() time.Duration {
	return time.Duration(c.ConnTimeoutMs) * time.Millisecond
}

func (c PoolConfig) dataTimeout() time.Duration {
	return time.Duration(c.DataTimeoutMs) * time.Millisecond
}

func (c PoolConfig) maxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// BaseConn is an embeddable implementation of the bookkeeping fields every
// Connection needs: the server address, the configured timeouts, the
// borrowed flag, and the owning-shard back-reference. Only the shard reads
// or writes Borrowed/ShardID: under its own mutex, or, for a freshly dialed
// connection, before any other goroutine can see it. BaseConn therefore
// keeps no lock of its own.
type BaseConn struct {
	addr        ServerAddress
	connTimeout time.Duration
	dataTimeout time.Duration
	borrowed    bool
	shardID     int
}

// NewBaseConn returns a BaseConn bound to addr with the given timeouts.
func NewBaseConn(addr ServerAddress, connTimeout, dataTimeout time.Duration) BaseConn {
	return BaseConn{addr: addr, connTimeout: connTimeout, dataTimeout: dataTimeout, shardID: -1}
}

func (c *BaseConn) ServerAddr() ServerAddress    { return c.addr }
func (c *BaseConn) ConnTimeout() time.Duration   { return c.connTimeout }
func (c *BaseConn) DataTimeout() time.Duration   { return c.dataTimeout }
func (c *BaseConn) Borrowed() bool               { return c.borrowed }
func (c *BaseConn) SetBorrowed(v bool)           { c.borrowed = v }
func (c *BaseConn) ShardID() int                 { return c.shardID }
func (c *BaseConn) SetShardID(id int)            { c.shardID = id }
