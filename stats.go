package dpool

import "sync/atomic"

// counter is a monotonic int64 that can be reset, mirroring the atomic
// counter idiom used throughout the pool's lineage (soyvural/connpool's
// stat.go).
type counter struct {
	v int64
}

func (c *counter) inc() int64        { return atomic.AddInt64(&c.v, 1) }
func (c *counter) val() int64        { return atomic.LoadInt64(&c.v) }
func (c *counter) reset() int64      { return atomic.SwapInt64(&c.v, 0) }

// shardStats accumulates the per-shard counters described in the data
// model. It is reset every time a snapshot is taken, matching the
// reference PoolStats::reset() behavior.
type shardStats struct {
	numGet      counter
	numPut      counter
	numDial     counter
	numDialFail counter
	numBroken   counter
	numEvict    counter
	numClose    counter
}

func (s *shardStats) snapshot(addr ServerAddress, available bool, active int32) PoolStats {
	st := PoolStats{
		Server:      addr,
		Available:   available,
		NumActive:   int(active),
		NumGet:      s.numGet.reset(),
		NumPut:      s.numPut.reset(),
		NumDial:     s.numDial.reset(),
		NumDialFail: s.numDialFail.reset(),
		NumBroken:   s.numBroken.reset(),
		NumEvict:    s.numEvict.reset(),
		NumClose:    s.numClose.reset(),
	}
	return st
}

// PoolStats is a point-in-time, reset-on-read snapshot of one shard's
// counters.
type PoolStats struct {
	Server      ServerAddress
	Available   bool
	NumActive   int
	NumGet      int64
	NumPut      int64
	NumDial     int64
	NumDialFail int64
	NumBroken   int64
	NumEvict    int64
	NumClose    int64
}
