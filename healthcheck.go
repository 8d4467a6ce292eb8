package dpool

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/sync/singleflight"

	"github.com/WangXijue/dpool/internal/workerpool"
)

const (
	healthCheckInterval = time.Second
	probeTimeout        = 100 * time.Millisecond
	probeRetries        = 2
	maxProbeWorkers     = 8
)

// healthChecker is DPool's single background goroutine. Every tick it
// re-dials any shard that is unavailable or suspectable and feeds the
// result through the 1/3-unavailability gate.
type healthChecker struct {
	pool *DPool

	workers *workerpool.Pool
	group   singleflight.Group

	stopCh chan struct{}
	doneCh chan struct{}
}

func newHealthChecker(d *DPool) *healthChecker {
	capacity := int32(len(d.shards))
	if capacity > maxProbeWorkers {
		capacity = maxProbeWorkers
	}
	return &healthChecker{
		pool:    d,
		workers: workerpool.New(capacity, 30*time.Second),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (hc *healthChecker) start() {
	go hc.run()
}

func (hc *healthChecker) run() {
	defer close(hc.doneCh)

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
		}

		if atomic.LoadInt32(&hc.pool.closed) == 1 {
			return
		}
		hc.tick()
	}
}

// tick submits a probe for every shard that needs one onto the bounded
// worker pool and returns without waiting for them to finish, so a slow or
// unreachable shard cannot delay the probing of the others.
func (hc *healthChecker) tick() {
	for _, sh := range hc.pool.shards {
		sh := sh
		if sh.isAvailable() && !sh.isSuspectable() {
			continue
		}

		key := sh.addr.String()
		err := hc.workers.Submit(func() {
			v, _, _ := hc.group.Do(key, func() (interface{}, error) {
				return hc.probe(sh), nil
			})
			hc.pool.markShardAvailable(sh, v.(bool))
		})
		if err != nil {
			log.Errorf("dpool[%s]: could not schedule health probe for %s: %v", hc.pool.name, sh.addr, err)
		}
	}
}

// probe dials sh's address up to probeRetries times, discarding the
// connection immediately. Re-dial is the only liveness signal the pool
// uses; connections are never asked to ping.
func (hc *healthChecker) probe(sh *shard) bool {
	for i := 0; i < probeRetries; i++ {
		conn := sh.factory(sh.addr, probeTimeout, probeTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := conn.Open(ctx)
		cancel()
		if err == nil {
			conn.Close()
			return true
		}
		log.Infof("dpool[%s]: health probe failed for %s: %v", hc.pool.name, sh.addr, err)
	}
	return false
}

func (hc *healthChecker) stop() {
	close(hc.stopCh)
	<-hc.doneCh
	hc.workers.Close()
}
