// Package store ties every subsystem package together into the embeddable
// time-series engine from spec §1/§5: per-DB series registries, the label
// index, the background maintenance dispatcher, and the multi-series query
// coordinator, all behind one Store type with host-facing lifecycle methods.
// Grounded directly in pkg/metricstore/metricstore.go's Init/Shutdown/
// singleton-free-instance pattern, adapted from a process-wide singleton to
// an explicit *Store value since this module has no host of its own and may
// be embedded more than once per process (e.g. in tests).
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/embeddedts/tstore/internal/config"
	"github.com/embeddedts/tstore/internal/tasks"
	"github.com/embeddedts/tstore/internal/tslog"
	"github.com/embeddedts/tstore/pkg/cache"
	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/metrics"
	"github.com/embeddedts/tstore/pkg/sample"
)

// Store is the top-level embeddable engine: a registry of numbered
// databases (spec §6 swapdb/flushdb hooks imply a Redis-like numbered-DB
// model), each with its own series map and label index, sharing one
// background maintenance dispatcher and one optional metrics collector.
type Store struct {
	mu  sync.RWMutex
	dbs map[int]*DB

	cfg              config.Config
	defaultRetention int64
	defaultEncoding  chunk.Encoding
	defaultPolicy    sample.DuplicatePolicy
	defaultChunkSize int
	taskIntervals    tasks.Intervals

	dispatcher *tasks.Dispatcher
	metrics    *metrics.Collector

	queryCache    *cache.Cache
	queryCacheTTL time.Duration
}

// New builds a Store from an already-validated Config. Use NewFromJSON to
// validate and decode a raw JSON document first, mirroring the teacher's
// two-stage Init (schema validation, then decode).
func New(cfg config.Config) (*Store, error) {
	retention, err := cfg.ParseRetention()
	if err != nil {
		return nil, err
	}
	encoding, err := chunk.ParseEncoding(cfg.DefaultChunkEncoding)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	policy, err := sample.ParseDuplicatePolicy(cfg.DefaultDuplicatePolicy)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	chunkSize := cfg.DefaultChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = chunk.MinChunkSize
	}
	parsedTasks, err := cfg.Tasks.Parse()
	if err != nil {
		return nil, err
	}

	return &Store{
		dbs:              make(map[int]*DB),
		cfg:              cfg,
		defaultRetention: retention.Milliseconds(),
		defaultEncoding:  encoding,
		defaultPolicy:    policy,
		defaultChunkSize: chunkSize,
		taskIntervals: tasks.Intervals{
			Tick:          parsedTasks.TickInterval,
			Trim:          parsedTasks.TrimInterval,
			StaleIDSweep:  parsedTasks.StaleSweepInterval,
			BitmapOptim:   parsedTasks.OptimizeInterval,
			DBPrune:       parsedTasks.DBPruneInterval,
			TrimBatch:     parsedTasks.BatchSize,
			SweepBatch:    parsedTasks.BatchSize,
			OptimizeBatch: parsedTasks.BatchSize,
		},
	}, nil
}

// NewFromJSON validates rawConfig against config.Schema (tslog.Fatalf on
// violation, matching config.Validate's fatal-on-boot-error contract) and
// builds a Store from the decoded result.
func NewFromJSON(rawConfig json.RawMessage) (*Store, error) {
	config.Validate(config.Schema, rawConfig)
	cfg := config.Default()
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("store: decoding config: %w", err)
	}
	return New(cfg)
}

// WithMetrics attaches a metrics.Collector to the store. The store updates
// only SeriesCount (on CreateSeries and Delete) and DBsPruned (on
// PruneEmpty); it does not update the collector's other metrics. Optional;
// pass nil (the default) to run without the observability surface.
func (st *Store) WithMetrics(c *metrics.Collector) *Store {
	st.metrics = c
	return st
}

// WithQueryCache enables an in-memory LRU cache of MRange/Cardinality
// results, bounded by maxMemoryBytes and expiring entries after ttl. Since
// nothing invalidates an entry on a subsequent Add to one of its matched
// series, ttl should stay short relative to how fresh callers need results
// to be; pass ttl<=0 to disable caching (the default) even if this method
// was called. Results served from the cache are plain value copies from the
// last MRange/Cardinality call, not live views.
func (st *Store) WithQueryCache(maxMemoryBytes int, ttl time.Duration) *Store {
	if ttl <= 0 {
		st.queryCache = nil
		return st
	}
	st.queryCache = cache.New(maxMemoryBytes)
	st.queryCacheTTL = ttl
	return st
}

// Start launches the shared background maintenance dispatcher (spec §4.6).
// Safe to call at most once.
func (st *Store) Start() error {
	d, err := tasks.New(st, st.taskIntervals)
	if err != nil {
		return err
	}
	st.dispatcher = d
	if err := d.Start(); err != nil {
		return err
	}
	tslog.Infof("store: started (tick=%s)", st.taskIntervals.Tick)
	return nil
}

// Shutdown stops the background maintenance dispatcher. Safe to call on a
// Store that was never started.
func (st *Store) Shutdown() {
	if st.dispatcher != nil {
		st.dispatcher.Shutdown()
	}
}

// getDB returns the DB for id, creating it on first use.
func (st *Store) getDB(id int) *DB {
	st.mu.RLock()
	db, ok := st.dbs[id]
	st.mu.RUnlock()
	if ok {
		return db
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if db, ok = st.dbs[id]; ok {
		return db
	}
	db = newDB(id)
	st.dbs[id] = db
	return db
}

// lookupDB returns the DB for id without creating it, or (nil, false) if it
// does not exist yet — used by read-only paths that should treat a missing
// DB as "no matches" rather than implicitly allocating one.
func (st *Store) lookupDB(id int) (*DB, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	db, ok := st.dbs[id]
	return db, ok
}

// Databases implements tasks.Registry.
func (st *Store) Databases() []tasks.Database {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]tasks.Database, 0, len(st.dbs))
	for _, db := range st.dbs {
		out = append(out, db)
	}
	return out
}

// PruneEmpty implements tasks.Registry: drops db id if it is still empty at
// the time of the call (re-checked under the write lock to avoid racing a
// concurrent CreateSeries).
func (st *Store) PruneEmpty(id int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	db, ok := st.dbs[id]
	if !ok {
		return
	}
	if db.IsEmpty() {
		delete(st.dbs, id)
		if st.metrics != nil {
			st.metrics.DBsPruned.Inc()
		}
	}
}

// FlushDB implements the flushdb keyspace hook (spec §6): drops every
// series in db, keeping the (now empty) DB registered.
func (st *Store) FlushDB(db int) error {
	d := st.getDB(db)
	d.flush()
	return nil
}

// SwapDB implements the swapdb keyspace hook (spec §6/§9 "Per-DB swapdb"):
// exchanges the entire contents of databases a and b, taking both write
// locks in a fixed id order to avoid deadlock against a concurrent swap the
// other direction, mirroring original_source's Postings::swap lock
// ordering exactly.
func (st *Store) SwapDB(a, b int) error {
	if a == b {
		return nil
	}
	dbA := st.getDB(a)
	dbB := st.getDB(b)
	swapDBs(dbA, dbB)
	return nil
}
