package engine

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors the Stats snapshot as Prometheus gauges, so a node
// embedding the engine can scrape the same numbers stats() returns (§6).
type metrics struct {
	sstableCount    prometheus.Gauge
	pendingFlushes  prometheus.Gauge
	walSegments     prometheus.Gauge
	highestSequence prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sstableCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siltkv_sstable_count",
			Help: "Number of live SSTables in the readable set.",
		}),
		pendingFlushes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siltkv_pending_flushes",
			Help: "Number of immutable memtables waiting to be flushed.",
		}),
		walSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siltkv_wal_segments",
			Help: "Number of WAL segment files currently on disk.",
		}),
		highestSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siltkv_highest_sequence",
			Help: "Highest sequence number assigned so far.",
		}),
	}
	if reg != nil {
		// A later engine in the same process reuses the gauges already
		// registered under these names instead of failing to register.
		for _, g := range []*prometheus.Gauge{&m.sstableCount, &m.pendingFlushes, &m.walSegments, &m.highestSequence} {
			if err := reg.Register(*g); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					*g = are.ExistingCollector.(prometheus.Gauge)
				}
			}
		}
	}
	return m
}

func (m *metrics) update(s Stats) {
	m.sstableCount.Set(float64(s.SSTableCount))
	m.pendingFlushes.Set(float64(s.PendingFlushes))
	m.walSegments.Set(float64(s.WALSegmentCount))
	m.highestSequence.Set(float64(s.HighestSequence))
}
