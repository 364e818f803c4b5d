package store

import (
	"math"
	"sort"
	"sync"

	"github.com/embeddedts/tstore/pkg/aggr"
	"github.com/embeddedts/tstore/pkg/index"
	"github.com/embeddedts/tstore/pkg/series"
)

// latestBinding records that series srcID feeds a compaction rule into the
// series keyed by the map's own key (the destination id), letting Range
// synthesize a "current bucket" sample for LATEST reads on a compaction
// target (spec §4.7 step 3, mirroring pkg/mrange's Handle.LatestSource).
type latestBinding struct {
	srcID    uint64
	reducer  aggr.Kind
	bucketMs int64
	alignMs  int64
}

// DB is one numbered database (spec §6 swapdb/flushdb imply a Redis-like
// numbered-DB model): a key->series map, a nextID counter, a label index,
// and the bookkeeping compaction fan-out needs. Implements tasks.Database
// structurally so the shared maintenance dispatcher can drive it without
// this package importing internal/tasks's types back.
type DB struct {
	id int

	mu         sync.RWMutex
	byKey      map[string]*series.Series
	nextID     uint64
	deletedIDs []uint64 // reclaimed ids available for reuse, most-recent-first

	index *index.Index

	compactionMu sync.Mutex
	latestSource map[uint64]latestBinding // destination series id -> its compaction source

	trimCursor uint64
}

func newDB(id int) *DB {
	return &DB{
		id:           id,
		byKey:        make(map[string]*series.Series),
		index:        index.New(),
		latestSource: make(map[uint64]latestBinding),
	}
}

// ID implements tasks.Database.
func (d *DB) ID() int { return d.id }

// IsEmpty implements tasks.Database.
func (d *DB) IsEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byKey) == 0
}

func (d *DB) allocID() uint64 {
	if n := len(d.deletedIDs); n > 0 {
		id := d.deletedIDs[n-1]
		d.deletedIDs = d.deletedIDs[:n-1]
		return id
	}
	d.nextID++
	return d.nextID
}

// reclaimID returns an id allocated by allocID back to the free list,
// for CreateSeries call paths that fail after reserving an id but before
// the series is actually registered.
func (d *DB) reclaimID(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletedIDs = append(d.deletedIDs, id)
}

// get returns the series for key under a read lock, or (nil, false).
func (d *DB) get(key string) (*series.Series, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byKey[key]
	return s, ok
}

// flush drops every series and resets the label index and id allocator
// (spec §6 FLUSHDB, spec §9 "flushdb per numbered DB").
func (d *DB) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byKey = make(map[string]*series.Series)
	d.nextID = 0
	d.deletedIDs = nil
	d.index = index.New()
	d.compactionMu.Lock()
	d.latestSource = make(map[uint64]latestBinding)
	d.compactionMu.Unlock()
}

// swapDBs exchanges the entire contents of a and b in place (spec §9
// "per-DB swapdb"), locking in ascending id order so two concurrent swaps
// of the same pair can't deadlock against each other.
func swapDBs(a, b *DB) {
	first, second := a, b
	if first.id > second.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	a.byKey, b.byKey = b.byKey, a.byKey
	a.nextID, b.nextID = b.nextID, a.nextID
	a.deletedIDs, b.deletedIDs = b.deletedIDs, a.deletedIDs

	index.SwapDB(a.index, b.index)

	a.compactionMu.Lock()
	b.compactionMu.Lock()
	a.latestSource, b.latestSource = b.latestSource, a.latestSource
	b.compactionMu.Unlock()
	a.compactionMu.Unlock()
}

// TrimBatch implements tasks.Database: applies retention trimming to up to
// batchSize series starting after cursor (spec §4.6 "trim task"), scanning
// a snapshot of series ids in ascending id order as a stable, restartable
// scan order since Go maps don't provide one on their own.
func (d *DB) TrimBatch(cursor uint64, batchSize int) (scanned int, trimmed int, nextCursor uint64) {
	d.mu.RLock()
	ids := make([]uint64, 0, len(d.byKey))
	byID := make(map[uint64]*series.Series, len(d.byKey))
	for _, s := range d.byKey {
		ids = append(ids, s.ID)
		byID[s.ID] = s
	}
	d.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	start := sort.Search(len(ids), func(i int) bool { return ids[i] > cursor })
	end := start + batchSize
	if end > len(ids) {
		end = len(ids)
	}

	for _, id := range ids[start:end] {
		s := byID[id]
		n := s.Trim()
		scanned++
		if n > 0 {
			trimmed += n
		}
		nextCursor = id
	}
	if end >= len(ids) {
		nextCursor = 0
	}
	return scanned, trimmed, nextCursor
}

// SweepStale implements tasks.Database by delegating to the label index
// (spec §4.5 "stale id sweep").
func (d *DB) SweepStale(cursor string, batchSize int) (string, bool) {
	return d.index.SweepStale(cursor, batchSize)
}

// Optimize implements tasks.Database by delegating to the label index
// (spec §4.5 "bitmap optimize pass").
func (d *DB) Optimize(cursor string, batchSize int) (string, bool) {
	return d.index.Optimize(cursor, batchSize)
}

// registerCompactionSource records, for every rule on newly created series
// src, that its destination's current bucket can be synthesized from src
// (spec §4.7 step 3's LatestSource mechanism). Called once at CreateSeries
// time; rules are immutable data on the series after that except for
// AddCompactionRule appends, which re-register individually.
func (d *DB) registerCompactionSource(src *series.Series, rule series.CompactionRule) {
	d.compactionMu.Lock()
	defer d.compactionMu.Unlock()
	d.latestSource[rule.DestSeriesID] = latestBinding{
		srcID:    src.ID,
		reducer:  aggr.Kind(rule.Aggregation),
		bucketMs: rule.BucketDurationMs,
		alignMs:  rule.AlignTimestampMs,
	}
}

// runCompactions fans writes to src out to every destination series named
// by src's compaction rules (spec §4.3 "compaction rule... applied
// synchronously on every write to the source"). Every compaction write on
// a DB is serialized through compactionMu: Series itself holds no lock
// (spec §5), and rules may name overlapping or chained destinations, so a
// single coarse lock is the simplest correct ordering — documented here as
// a deliberate simplification rather than a fine-grained per-destination
// scheme.
func (d *DB) runCompactions(src *series.Series) {
	if len(src.CompactionRules) == 0 {
		return
	}
	d.compactionMu.Lock()
	defer d.compactionMu.Unlock()

	d.mu.RLock()
	byID := make(map[uint64]*series.Series, len(d.byKey))
	for _, s := range d.byKey {
		byID[s.ID] = s
	}
	d.mu.RUnlock()

	for _, rule := range src.CompactionRules {
		dst, ok := byID[rule.DestSeriesID]
		if !ok {
			continue
		}
		d.flushCompactionRule(src, dst, rule)
	}
}

// flushCompactionRule aggregates every sample src has accumulated since
// dst's last flushed bucket and appends the completed buckets to dst,
// leaving the newest (still-open) bucket unflushed — the same "last bucket
// is still open" convention pkg/mrange's synthesizeLatestBucket relies on,
// so a LATEST read against dst sees a consistent view whether it comes
// from dst's own stored samples or from src via latestSource.
func (d *DB) flushCompactionRule(src, dst *series.Series, rule series.CompactionRule) {
	// dst's last sample is always the start of the last bucket flushed into
	// it (TimestampOutput is forced to aggr.Start below), so the next
	// unflushed window begins exactly one bucket later; re-scanning from
	// there (rather than from lastTimestamp+1) avoids recomputing a bucket
	// that's already been flushed.
	windowStart := int64(0)
	if last, ok := dst.LastSample(); ok {
		windowStart = last.Timestamp + rule.BucketDurationMs
	}

	raw := src.GetRange(windowStart, math.MaxInt64)
	if len(raw) == 0 {
		return
	}

	buckets := aggr.Aggregate(aggr.Options{
		Kind:            aggr.Kind(rule.Aggregation),
		BucketDuration:  rule.BucketDurationMs,
		TimestampOutput: aggr.Start,
		ReportEmpty:     false,
	}, rule.AlignTimestampMs, raw)

	if len(buckets) <= 1 {
		return
	}
	policy := dst.DuplicatePolicy()
	for _, b := range buckets[:len(buckets)-1] {
		_, _ = dst.Add(b.Timestamp, b.Value, &policy)
	}
}
