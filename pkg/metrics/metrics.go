// Package metrics is the optional, passive observability surface named in
// SPEC_FULL.md's domain stack: a handful of store-level counters/gauges the
// host may register with its own prometheus.Registerer. Nothing in the
// store imports a concrete *prometheus.Registry directly; callers hand in
// whatever registerer they already run (grounded on the standard
// promauto/prometheus.Registerer collaboration pattern client_golang itself
// documents, since the teacher's own use of the library is as a scrape
// client rather than a producer).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the counters and gauges this store can expose. The
// zero value is unusable; construct with New.
type Collector struct {
	ChunkSplits     prometheus.Counter
	ChunkCompacts   prometheus.Counter
	TrimRuns        prometheus.Counter
	SamplesTrimmed  prometheus.Counter
	StaleSweeps     prometheus.Counter
	IDsReclaimed    prometheus.Counter
	BitmapOptimizes prometheus.Counter
	DBsPruned       prometheus.Counter
	SeriesCount     prometheus.Gauge
	TotalSamples    prometheus.Gauge
	QueryDuration   prometheus.Histogram
}

// New builds a Collector with the given namespace/subsystem prefix. It does
// not register anything; call Register to attach it to a Registerer.
func New(namespace, subsystem string) *Collector {
	return &Collector{
		ChunkSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "chunk_splits_total",
			Help: "Number of times a series chunk was split because it reached its byte budget.",
		}),
		ChunkCompacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "chunk_compactions_total",
			Help: "Number of chunk compaction/re-encode passes performed by the maintenance loop.",
		}),
		TrimRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "trim_runs_total",
			Help: "Number of retention-trim batches executed by the maintenance loop.",
		}),
		SamplesTrimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "samples_trimmed_total",
			Help: "Number of samples removed by retention trimming.",
		}),
		StaleSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "stale_sweeps_total",
			Help: "Number of stale-id sweep batches executed by the maintenance loop.",
		}),
		IDsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "ids_reclaimed_total",
			Help: "Number of series ids reclaimed from the postings index after deletion.",
		}),
		BitmapOptimizes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bitmap_optimizes_total",
			Help: "Number of roaring-bitmap postings optimize passes run.",
		}),
		DBsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "dbs_pruned_total",
			Help: "Number of empty per-DB registries dropped by the maintenance loop.",
		}),
		SeriesCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "series",
			Help: "Current number of live series across all databases.",
		}),
		TotalSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "samples",
			Help: "Current number of stored samples across all databases.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "query_duration_seconds",
			Help:    "Latency of MRANGE/RANGE query execution.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register attaches every metric in c to reg. Safe to call once per
// Collector; registering twice on the same Registerer returns an
// AlreadyRegisteredError from the underlying library.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.ChunkSplits, c.ChunkCompacts, c.TrimRuns, c.SamplesTrimmed,
		c.StaleSweeps, c.IDsReclaimed, c.BitmapOptimizes, c.DBsPruned,
		c.SeriesCount, c.TotalSamples, c.QueryDuration,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}
