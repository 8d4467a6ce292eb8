// Package metrics adapts a dpool.DPool's stats read-out onto Prometheus,
// the way tiny_grpc's own monitor package exposed process metrics via
// promhttp. The pool itself stays unaware of Prometheus; this package only
// consumes the public Stats() surface.
package metrics

import (
	"net/http"
	"sync"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WangXijue/dpool"
)

var (
	availableDesc = prometheus.NewDesc(
		"dpool_shard_available", "Whether the shard is currently marked available.",
		[]string{"pool", "server"}, nil)
	activeDesc = prometheus.NewDesc(
		"dpool_shard_active", "Current number of active (idle+borrowed) connections.",
		[]string{"pool", "server"}, nil)
	getTotalDesc = prometheus.NewDesc(
		"dpool_shard_get_total", "Total Get() calls observed on the shard.",
		[]string{"pool", "server"}, nil)
	putTotalDesc = prometheus.NewDesc(
		"dpool_shard_put_total", "Total Put() calls observed on the shard.",
		[]string{"pool", "server"}, nil)
	dialTotalDesc = prometheus.NewDesc(
		"dpool_shard_dial_total", "Total dial attempts made by the shard.",
		[]string{"pool", "server"}, nil)
	dialFailTotalDesc = prometheus.NewDesc(
		"dpool_shard_dial_fail_total", "Total failed dial attempts.",
		[]string{"pool", "server"}, nil)
	brokenTotalDesc = prometheus.NewDesc(
		"dpool_shard_broken_total", "Total connections returned with broken=true.",
		[]string{"pool", "server"}, nil)
	evictTotalDesc = prometheus.NewDesc(
		"dpool_shard_evict_total", "Total idle connections evicted for exceeding maxIdle.",
		[]string{"pool", "server"}, nil)
	closeTotalDesc = prometheus.NewDesc(
		"dpool_shard_close_total", "Total connections closed (broken, evicted, or on shutdown).",
		[]string{"pool", "server"}, nil)
)

// Collector exposes a DPool's per-shard stats as Prometheus metrics.
// DPool.Stats() resets its counters on every read, so Collector keeps a
// running total per server and adds each snapshot's delta onto it rather
// than re-publishing a value that would appear to go backwards.
type Collector struct {
	pool *dpool.DPool

	mu     sync.Mutex
	totals map[string]*runningTotals
}

type runningTotals struct {
	get, put, dial, dialFail, broken, evict, close float64
}

// NewCollector returns a Collector for pool. Register it with a Prometheus
// registry the way any other prometheus.Collector is registered.
func NewCollector(pool *dpool.DPool) *Collector {
	return &Collector{pool: pool, totals: make(map[string]*runningTotals)}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- availableDesc
	ch <- activeDesc
	ch <- getTotalDesc
	ch <- putTotalDesc
	ch <- dialTotalDesc
	ch <- dialFailTotalDesc
	ch <- brokenTotalDesc
	ch <- evictTotalDesc
	ch <- closeTotalDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	name := c.pool.Name()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, st := range c.pool.Stats() {
		server := st.Server.String()
		t, ok := c.totals[server]
		if !ok {
			t = &runningTotals{}
			c.totals[server] = t
		}
		t.get += float64(st.NumGet)
		t.put += float64(st.NumPut)
		t.dial += float64(st.NumDial)
		t.dialFail += float64(st.NumDialFail)
		t.broken += float64(st.NumBroken)
		t.evict += float64(st.NumEvict)
		t.close += float64(st.NumClose)

		available := 0.0
		if st.Available {
			available = 1.0
		}

		ch <- prometheus.MustNewConstMetric(availableDesc, prometheus.GaugeValue, available, name, server)
		ch <- prometheus.MustNewConstMetric(activeDesc, prometheus.GaugeValue, float64(st.NumActive), name, server)
		ch <- prometheus.MustNewConstMetric(getTotalDesc, prometheus.CounterValue, t.get, name, server)
		ch <- prometheus.MustNewConstMetric(putTotalDesc, prometheus.CounterValue, t.put, name, server)
		ch <- prometheus.MustNewConstMetric(dialTotalDesc, prometheus.CounterValue, t.dial, name, server)
		ch <- prometheus.MustNewConstMetric(dialFailTotalDesc, prometheus.CounterValue, t.dialFail, name, server)
		ch <- prometheus.MustNewConstMetric(brokenTotalDesc, prometheus.CounterValue, t.broken, name, server)
		ch <- prometheus.MustNewConstMetric(evictTotalDesc, prometheus.CounterValue, t.evict, name, server)
		ch <- prometheus.MustNewConstMetric(closeTotalDesc, prometheus.CounterValue, t.close, name, server)
	}
}

// Serve registers collector against its own registry and starts
// promhttp.Handler on addr in the background. It never blocks the caller.
func Serve(addr string, collector *Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	log.Infof("dpool metrics: serving %s/metrics", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("dpool metrics: listen on %s failed: %v", addr, err)
		}
	}()
}
