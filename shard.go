package dpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/golang/glog"
)

// shard owns every connection dialed against a single server address: an
// idle LIFO stack, the active-connection count, a failure streak, and the
// availability flag the health-checker flips.
type shard struct {
	id   int
	addr ServerAddress
	cfg  PoolConfig

	factory  Factory
	poolName string

	mu   sync.Mutex
	cond *sync.Cond

	idle   []Connection
	active int32

	closedFlag int32 // atomic
	available  int32 // atomic, 1 = available
	fails      uint32 // atomic

	stats shardStats
}

func newShard(id int, addr ServerAddress, cfg PoolConfig, factory Factory, poolName string) *shard {
	s := &shard{
		id:        id,
		addr:      addr,
		cfg:       cfg,
		factory:   factory,
		poolName:  poolName,
		available: 1,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// get returns a borrowed connection, or one of errShardEmpty,
// errWaitTimeout, errShardClosed, or a *DialError.
func (s *shard) get(ctx context.Context) (Connection, error) {
	start := time.Now()

	s.mu.Lock()
	s.stats.numGet.inc()

	for {
		if n := len(s.idle); n > 0 {
			conn := s.idle[n-1]
			s.idle = s.idle[:n-1]
			conn.SetBorrowed(true)
			s.mu.Unlock()
			return conn, nil
		}

		if atomic.LoadInt32(&s.closedFlag) == 1 {
			s.mu.Unlock()
			return nil, errShardClosed
		}

		if s.cfg.MaxActive == 0 || s.active < int32(s.cfg.MaxActive) {
			s.active++
			s.stats.numDial.inc()
			s.mu.Unlock()

			conn := s.factory(s.addr, s.cfg.connTimeout(), s.cfg.dataTimeout())
			dialCtx, cancel := context.WithTimeout(ctx, s.cfg.connTimeout())
			err := conn.Open(dialCtx)
			cancel()

			if err == nil {
				atomic.StoreUint32(&s.fails, 0)
				conn.SetShardID(s.id)
				conn.SetBorrowed(true)
				return conn, nil
			}

			atomic.AddUint32(&s.fails, 1)
			s.mu.Lock()
			s.active--
			s.stats.numDialFail.inc()
			s.mu.Unlock()
			s.cond.Signal()
			log.Errorf("dpool[%s]: failed to dial %s: %v", s.poolName, s.addr, err)
			return nil, &DialError{Addr: s.addr, Err: err}
		}

		if !s.cfg.Wait {
			s.mu.Unlock()
			return nil, errShardEmpty
		}

		if !s.waitUntil(start.Add(s.cfg.maxWait())) {
			s.mu.Unlock()
			return nil, errWaitTimeout
		}
		// cond.Wait re-acquired s.mu; loop restarts with the lock held.
	}
}

// waitUntil parks on the shard's condition variable until either it is
// signaled or deadline passes. s.mu must be held on entry; it is held again
// on return. Go's sync.Cond has no native deadline, so a timer goroutine
// provides the wakeup.
func (s *shard) waitUntil(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
	return time.Now().Before(deadline)
}

// put returns conn to the shard, always consuming the caller's ownership.
func (s *shard) put(conn Connection, broken bool) {
	s.mu.Lock()
	s.stats.numPut.inc()

	if !conn.Borrowed() {
		// double-return: drop silently, nothing was ever taken from us.
		s.mu.Unlock()
		return
	}
	conn.SetBorrowed(false)

	if broken {
		atomic.AddUint32(&s.fails, 1)
		s.stats.numBroken.inc()
	} else {
		atomic.StoreUint32(&s.fails, 0)
	}

	var victim Connection
	if broken || atomic.LoadInt32(&s.closedFlag) == 1 {
		victim = conn
	} else {
		s.idle = append(s.idle, conn)
		if len(s.idle) > s.cfg.MaxIdle {
			victim = s.idle[0]
			s.idle = s.idle[1:]
			s.stats.numEvict.inc()
		}
	}

	if victim != nil {
		s.active--
		s.stats.numClose.inc()
	}
	s.mu.Unlock()
	s.cond.Signal()

	if victim != nil {
		if err := victim.Close(); err != nil {
			log.Errorf("dpool[%s]: error closing connection to %s: %v", s.poolName, s.addr, err)
		}
	}
}

func (s *shard) isAvailable() bool {
	return atomic.LoadInt32(&s.available) == 1
}

func (s *shard) isSuspectable() bool {
	return atomic.LoadUint32(&s.fails) >= uint32(s.cfg.MaxFails)
}

// markAvailable atomically flips the availability flag to v and reports
// whether it actually transitioned.
func (s *shard) markAvailable(v bool) bool {
	var from, to int32
	if v {
		from, to = 0, 1
	} else {
		from, to = 1, 0
	}
	return atomic.CompareAndSwapInt32(&s.available, from, to)
}

// close drains the idle stack, disposing every connection it held.
func (s *shard) close() {
	if !atomic.CompareAndSwapInt32(&s.closedFlag, 0, 1) {
		log.Errorf("dpool[%s]: shard %s already closed", s.poolName, s.addr)
		return
	}

	s.mu.Lock()
	idle := s.idle
	s.idle = nil
	s.mu.Unlock()

	for _, c := range idle {
		s.mu.Lock()
		s.active--
		s.stats.numClose.inc()
		s.mu.Unlock()
		s.cond.Signal()
		c.Close()
	}
}

func (s *shard) snapshotStats() PoolStats {
	available := s.isAvailable()
	s.mu.Lock()
	active := s.active
	st := s.stats.snapshot(s.addr, available, active)
	s.mu.Unlock()
	return st
}
