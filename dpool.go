package dpool

import (
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/golang/glog"
	"github.com/google/uuid"
)

// maxDispatchAttempts bounds the cross-shard retries in Get. It is not
// configurable: raising it would let a run of unavailable shards stall a
// caller well past any reasonable latency budget.
const maxDispatchAttempts = 5

// Option configures a DPool at construction time.
type Option func(*DPool) error

// WithName overrides the auto-generated pool name used in diagnostic log
// lines and metrics labels.
func WithName(name string) Option {
	return func(d *DPool) error {
		d.name = name
		return nil
	}
}

// DPool multiplexes connections across a fixed list of servers, dispatching
// by round-robin while skipping shards the health-checker has marked
// unavailable.
type DPool struct {
	name string
	cfg  PoolConfig

	shards []*shard
	index  uint64 // atomic

	numAvailable int32 // atomic, mutated only by health-check probes
	closed       int32 // atomic

	hc *healthChecker
}

// New constructs a DPool over servers, dialing nothing up front: shards are
// created empty and connections are opened lazily by Get. servers must be
// non-empty and factory must not be nil.
func New(servers []ServerAddress, cfg PoolConfig, factory Factory, opts ...Option) (*DPool, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("dpool: server list must not be empty")
	}
	if factory == nil {
		return nil, fmt.Errorf("dpool: no connection factory provided")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	d := &DPool{cfg: cfg}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.name == "" {
		d.name = fmt.Sprintf("dpool-%s", uuid.NewString()[:8])
	}

	d.shards = make([]*shard, len(servers))
	for i, addr := range servers {
		d.shards[i] = newShard(i, addr, cfg, factory, d.name)
	}
	d.numAvailable = int32(len(servers))

	d.hc = newHealthChecker(d)
	d.hc.start()

	return d, nil
}

// Name returns the pool's diagnostic name.
func (d *DPool) Name() string { return d.name }

// Get borrows a connection, trying up to 5 shards in round-robin order and
// skipping any the health-checker has marked unavailable. It returns
// ErrExhausted if every attempt failed — including every attempt after
// Shutdown, once every shard reports itself closed.
func (d *DPool) Get() (Connection, error) {
	return d.GetContext(context.Background())
}

// GetContext is Get with a caller-supplied dial deadline. The wait-for-idle
// and cross-shard retry budgets are still governed entirely by PoolConfig;
// ctx only bounds the network dial inside a shard.
func (d *DPool) GetContext(ctx context.Context) (Connection, error) {
	localIndex := atomic.AddUint64(&d.index, 1)
	n := uint64(len(d.shards))

	for tries := uint64(0); tries < maxDispatchAttempts; tries++ {
		idx := (localIndex + tries) % n
		sh := d.shards[idx]

		if !sh.isAvailable() {
			// Desynchronize retries so concurrent callers don't all
			// converge on the same unavailable shard.
			atomic.AddUint64(&d.index, 1)
			continue
		}

		conn, err := sh.get(ctx)
		if err == nil {
			return conn, nil
		}
		atomic.AddUint64(&d.index, 1)
	}

	return nil, ErrExhausted
}

// Put returns conn to its owning shard, resolved in O(1) via the
// connection's shard back-reference. broken marks the connection as
// unusable so the shard disposes of it instead of re-idling it; the pool
// never infers brokenness on the caller's behalf.
func (d *DPool) Put(conn Connection, broken bool) {
	if conn == nil {
		return
	}
	id := conn.ShardID()
	if id < 0 || id >= len(d.shards) {
		log.Errorf("dpool[%s]: put with invalid shard id %d", d.name, id)
		return
	}
	d.shards[id].put(conn, broken)
}

// Stats returns a reset-on-read snapshot of every shard's counters.
func (d *DPool) Stats() []PoolStats {
	stats := make([]PoolStats, len(d.shards))
	for i, sh := range d.shards {
		stats[i] = sh.snapshotStats()
	}
	return stats
}

// Shutdown stops the health-checker and drains every shard's idle
// connections. It is idempotent; calling it twice only logs.
func (d *DPool) Shutdown() {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		log.Errorf("dpool[%s]: pool already closed", d.name)
		return
	}
	d.hc.stop()
	for _, sh := range d.shards {
		sh.close()
	}
	log.Infof("dpool[%s]: shutdown complete", d.name)
}

// markShardAvailable applies the 1/3-unavailability gate before flipping
// sh's availability flag. It is called from the health-checker's probe
// workers, possibly for several shards at once, so a demotion first claims
// its decrement of numAvailable with a compare-and-swap; two concurrent
// demotions therefore cannot both pass the gate on the same count.
func (d *DPool) markShardAvailable(sh *shard, ok bool) {
	total := int32(len(d.shards))

	if ok {
		if sh.markAvailable(true) {
			atomic.AddInt32(&d.numAvailable, 1)
			log.Infof("dpool[%s]: server recovered: %s", d.name, sh.addr)
		}
		return
	}

	for {
		numAvailable := atomic.LoadInt32(&d.numAvailable)
		if numAvailable*3 <= total*2 {
			log.Errorf("dpool[%s]: refusing to mark %s unavailable, numAvailable=%d totalShards=%d",
				d.name, sh.addr, numAvailable, total)
			return
		}
		if atomic.CompareAndSwapInt32(&d.numAvailable, numAvailable, numAvailable-1) {
			break
		}
	}
	if sh.markAvailable(false) {
		log.Infof("dpool[%s]: server marked unavailable: %s", d.name, sh.addr)
		return
	}
	// Already unavailable: give back the claimed decrement.
	atomic.AddInt32(&d.numAvailable, 1)
}
