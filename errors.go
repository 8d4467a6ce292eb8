package dpool

import (
	"errors"
	"fmt"
)

var (
	// errShardEmpty means the shard is at maxActive and not configured
	// to wait; the caller (DPool.Get) tries the next shard.
	errShardEmpty = errors.New("dpool: shard has no idle connection and is at capacity")

	// errWaitTimeout means the shard waited MaxWaitMs for a freed slot
	// and none arrived.
	errWaitTimeout = errors.New("dpool: timed out waiting for an idle connection")

	// errShardClosed means Get was called after the shard was closed.
	errShardClosed = errors.New("dpool: get on closed shard")

	// ErrExhausted is returned by DPool.Get when all attempts across
	// shards failed. This is also what Get returns once the pool has been
	// shut down: every shard reports errShardClosed, which the dispatch
	// loop treats like any other per-shard failure.
	ErrExhausted = errors.New("dpool: exhausted all shards")
)

// DialError wraps a Connection's Open failure with the server address it
// was attributed to.
type DialError struct {
	Addr ServerAddress
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dpool: dial %s failed: %v", e.Addr, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }
