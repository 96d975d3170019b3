// Package metrics exposes the node process's Prometheus collectors: pending
// queue depth and batch-slot occupancy from connpool, cache hit/miss and
// read/write byte counters from store. cmd/cuckoo-node registers
// prometheus.DefaultRegisterer's handler the way aistore exposes its own
// /stats endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PendingQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cuckoo",
		Subsystem: "connpool",
		Name:      "pending_queue_depth",
		Help:      "Number of dispatch units currently waiting in a shard pool's pending queue.",
	}, []string{"shard"})

	BatchSlotOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cuckoo",
		Subsystem: "connpool",
		Name:      "batch_slot_occupancy",
		Help:      "Number of owner tasks currently accumulated in a batch slot.",
	}, []string{"shard", "kind"})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cuckoo",
		Subsystem: "store",
		Name:      "cache_hits_total",
		Help:      "Whole-file reads served from the local cache without a peer or cold-backend fetch.",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cuckoo",
		Subsystem: "store",
		Name:      "cache_misses_total",
		Help:      "Whole-file reads that fell through to a peer or cold-backend fetch.",
	})

	ReadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cuckoo",
		Subsystem: "store",
		Name:      "read_bytes_total",
		Help:      "Bytes returned to callers across every Read call.",
	})

	WriteBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cuckoo",
		Subsystem: "store",
		Name:      "write_bytes_total",
		Help:      "Bytes accepted from callers across every Write call.",
	})
)

func init() {
	prometheus.MustRegister(PendingQueueDepth, BatchSlotOccupancy, CacheHits, CacheMisses, ReadBytes, WriteBytes)
}
