// Package series implements the TimeSeries container from spec §4.3: an
// ordered, non-overlapping chunk list with binary-search chunk selection,
// add/upsert/merge/trim/range-scan operations, and compaction-rule
// bookkeeping. Grounded on the teacher's buffer-chain idiom
// (pkg/metricstore/buffer.go, pkg/metricstore/level.go) generalized from a
// fixed-capacity linked buffer chain to a dynamically split chunk list.
package series

import (
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/tserr"
)

// parallelChunkThreshold is the chunk-count above which range scans fan out
// across goroutines instead of running sequentially (spec §4.3 "linear for
// ≤16 chunks"). MergeSamples always runs sequentially.
const parallelChunkThreshold = 16

// CompactionRule declares that writes to this series should also update a
// destination series via a reducer and bucket (spec §3 "Compaction rule").
type CompactionRule struct {
	DestSeriesID     uint64
	Aggregation      int // pkg/aggr.Kind, kept as int to avoid an import cycle risk; callers cast
	BucketDurationMs int64
	AlignTimestampMs int64
}

// Options configures a new Series (spec §3 TimeSeries fields not filled in
// by the lifecycle itself).
type Options struct {
	Labels          labels.Labels
	RetentionMs     int64 // 0 = unlimited
	DuplicatePolicy sample.DuplicatePolicy
	ChunkEncoding   chunk.Encoding
	ChunkSizeBytes  int
	Rounding        sample.Rounding
	Tolerance       *sample.Tolerance
	DBIndex         int
}

// Series is one time series: an ordered, non-overlapping list of chunks
// plus the metadata from spec §3's TimeSeries type. Callers are
// responsible for external mutual exclusion (the host's per-key guard,
// spec §5) — Series does not lock itself.
type Series struct {
	ID      uint64
	Labels  labels.Labels
	DBIndex int

	retentionMs     int64
	duplicatePolicy sample.DuplicatePolicy
	chunkEncoding   chunk.Encoding
	chunkSizeBytes  int
	rounding        sample.Rounding
	tolerance       *sample.Tolerance

	chunks       []chunk.Chunk
	totalSamples int

	CompactionRules []CompactionRule

	mu sync.Mutex // guards CompactionRules appends from concurrent compaction-rule registration only
}

// New constructs an empty Series with the given options.
func New(id uint64, opts Options) (*Series, error) {
	if opts.ChunkSizeBytes == 0 {
		opts.ChunkSizeBytes = chunk.MinChunkSize
	}
	return &Series{
		ID:              id,
		Labels:          opts.Labels,
		DBIndex:         opts.DBIndex,
		retentionMs:     opts.RetentionMs,
		duplicatePolicy: opts.DuplicatePolicy,
		chunkEncoding:   opts.ChunkEncoding,
		chunkSizeBytes:  opts.ChunkSizeBytes,
		rounding:        opts.Rounding,
		tolerance:       opts.Tolerance,
	}, nil
}

// TotalSamples returns the sum of every chunk's sample count.
func (s *Series) TotalSamples() int { return s.totalSamples }

// IsEmpty reports whether the series currently holds zero chunks with
// samples.
func (s *Series) IsEmpty() bool { return s.totalSamples == 0 }

// FirstTimestamp returns the first sample's timestamp, or (0, false) if
// empty.
func (s *Series) FirstTimestamp() (int64, bool) {
	for _, c := range s.chunks {
		if !c.IsEmpty() {
			return c.FirstTimestamp(), true
		}
	}
	return 0, false
}

// LastSample returns the most recently stored sample, or (Sample{}, false)
// if empty.
func (s *Series) LastSample() (sample.Sample, bool) {
	for i := len(s.chunks) - 1; i >= 0; i-- {
		c := s.chunks[i]
		if !c.IsEmpty() {
			return sample.Sample{Timestamp: c.LastTimestamp(), Value: c.LastValue()}, true
		}
	}
	return sample.Sample{}, false
}

func (s *Series) lastTimestamp() int64 {
	if last, ok := s.LastSample(); ok {
		return last.Timestamp
	}
	return 0
}

func (s *Series) newChunk() (chunk.Chunk, error) {
	return chunk.New(s.chunkEncoding, s.chunkSizeBytes)
}

// applyRoundingAndTolerance rounds v per the series' rounding strategy and
// reports whether the sample should instead be ignored as a near-duplicate
// of the last-appended sample (spec §4.2's tolerance window).
func (s *Series) applyRoundingAndTolerance(ts int64, v float64) (float64, bool) {
	v = s.rounding.Apply(v)
	if s.tolerance != nil {
		if last, ok := s.LastSample(); ok {
			if s.tolerance.Within(last, sample.Sample{Timestamp: ts, Value: v}) {
				return v, true
			}
		}
	}
	return v, false
}

// Add implements spec §4.3's add: round the value, then append past the
// last chunk if ts is newer than every stored sample, allocating a new
// chunk on capacity overflow; otherwise delegate to Upsert.
func (s *Series) Add(ts int64, value float64, policy *sample.DuplicatePolicy) (chunk.Result, error) {
	value, ignored := s.applyRoundingAndTolerance(ts, value)
	if ignored {
		return chunk.ResultIgnored, nil
	}

	if len(s.chunks) == 0 || ts > s.lastTimestamp() {
		if len(s.chunks) == 0 {
			c, err := s.newChunk()
			if err != nil {
				return chunk.ResultError, err
			}
			s.chunks = append(s.chunks, c)
		}
		last := s.chunks[len(s.chunks)-1]
		err := last.Add(sample.Sample{Timestamp: ts, Value: value})
		if err == tserr.ErrCapacityFull {
			c, nerr := s.newChunk()
			if nerr != nil {
				return chunk.ResultError, nerr
			}
			if aerr := c.Add(sample.Sample{Timestamp: ts, Value: value}); aerr != nil {
				return chunk.ResultError, aerr
			}
			s.chunks = append(s.chunks, c)
			s.totalSamples++
			return chunk.ResultOK, nil
		}
		if err != nil {
			return chunk.ResultError, err
		}
		s.totalSamples++
		return chunk.ResultOK, nil
	}

	p := s.duplicatePolicy
	if policy != nil {
		p = *policy
	}
	return s.upsert(ts, value, p)
}

// chunkIndexFor returns the index of the chunk whose range should contain
// ts: the rightmost chunk with FirstTimestamp() <= ts (spec §4.3 "Chunk
// binary search").
func (s *Series) chunkIndexFor(ts int64) int {
	idx := sort.Search(len(s.chunks), func(i int) bool {
		return s.chunks[i].FirstTimestamp() > ts
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// upsert implements spec §4.3's upsert: locate the owning chunk, split it
// first if it is already at capacity, then delegate to the chunk-level
// Upsert; when a split happened, a best-effort trim runs afterward.
func (s *Series) upsert(ts int64, value float64, policy sample.DuplicatePolicy) (chunk.Result, error) {
	if len(s.chunks) == 0 {
		c, err := s.newChunk()
		if err != nil {
			return chunk.ResultError, err
		}
		s.chunks = append(s.chunks, c)
	}

	idx := s.chunkIndexFor(ts)
	target := s.chunks[idx]
	before := target.Count()

	var res chunk.Result
	var err error
	if !target.WouldExceedCapacity() {
		res, err = target.Upsert(sample.Sample{Timestamp: ts, Value: value}, policy)
	} else {
		upper, serr := target.Split()
		if serr != nil {
			return chunk.ResultError, serr
		}
		s.chunks = append(s.chunks, nil)
		copy(s.chunks[idx+2:], s.chunks[idx+1:])
		s.chunks[idx+1] = upper

		if ts < upper.FirstTimestamp() {
			before = target.Count()
			res, err = target.Upsert(sample.Sample{Timestamp: ts, Value: value}, policy)
		} else {
			before = upper.Count()
			res, err = upper.Upsert(sample.Sample{Timestamp: ts, Value: value}, policy)
			target = upper
		}
		_ = s.Trim() // best-effort; failure is not fatal to the upsert itself
	}
	if err != nil {
		return chunk.ResultError, err
	}
	if target.Count() > before {
		s.totalSamples++
	}
	return res, nil
}

// GetRange returns every sample with start <= timestamp <= end, scanning
// only the overlapping chunks. Overlapping chunk scans run in parallel
// once the chunk count exceeds parallelChunkThreshold.
func (s *Series) GetRange(start, end int64) []sample.Sample {
	lo, hi := s.overlapRange(start, end)
	if lo > hi {
		return nil
	}
	n := hi - lo + 1
	results := make([][]sample.Sample, n)

	if n <= parallelChunkThreshold {
		for i := lo; i <= hi; i++ {
			results[i-lo] = s.chunks[i].GetRange(start, end)
		}
	} else {
		var g errgroup.Group
		for i := lo; i <= hi; i++ {
			i := i
			g.Go(func() error {
				results[i-lo] = s.chunks[i].GetRange(start, end)
				return nil
			})
		}
		_ = g.Wait()
	}

	var out []sample.Sample
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// overlapRange returns the inclusive [lo, hi] chunk-index range whose
// [FirstTimestamp, LastTimestamp] windows can overlap [start, end], or
// lo > hi if nothing overlaps.
func (s *Series) overlapRange(start, end int64) (lo, hi int) {
	lo = sort.Search(len(s.chunks), func(i int) bool {
		return s.chunks[i].IsEmpty() || s.chunks[i].LastTimestamp() >= start
	})
	hi = len(s.chunks) - 1
	for hi >= lo && (s.chunks[hi].IsEmpty() || s.chunks[hi].FirstTimestamp() > end) {
		hi--
	}
	return lo, hi
}

// GetRangeFiltered implements spec §4.3's get_range_filtered: if
// timestamps is non-nil, fetch exactly those samples via
// SamplesByTimestamps; otherwise scan [start, end]. valueFilter, if
// non-nil, keeps only samples with min <= value <= max.
func (s *Series) GetRangeFiltered(start, end int64, timestamps []int64, valueFilter *[2]float64) []sample.Sample {
	var got []sample.Sample
	if timestamps != nil {
		got = s.SamplesByTimestamps(timestamps)
	} else {
		got = s.GetRange(start, end)
	}
	if valueFilter == nil {
		return got
	}
	out := got[:0:0]
	for _, sm := range got {
		if sm.Value >= valueFilter[0] && sm.Value <= valueFilter[1] {
			out = append(out, sm)
		}
	}
	return out
}

// SamplesByTimestamps groups the requested timestamps by owning chunk and
// fetches each group, returning samples found (missing timestamps are
// simply absent from the result, matching a point lookup over a sparse
// stream).
func (s *Series) SamplesByTimestamps(timestamps []int64) []sample.Sample {
	byChunk := make(map[int][]int64)
	for _, ts := range timestamps {
		idx := s.chunkIndexFor(ts)
		if idx < 0 || idx >= len(s.chunks) {
			continue
		}
		byChunk[idx] = append(byChunk[idx], ts)
	}

	var out []sample.Sample
	for idx, tsList := range byChunk {
		c := s.chunks[idx]
		want := make(map[int64]struct{}, len(tsList))
		for _, ts := range tsList {
			want[ts] = struct{}{}
		}
		for _, sm := range c.GetRange(minInt64(tsList), maxInt64(tsList)) {
			if _, ok := want[sm.Timestamp]; ok {
				out = append(out, sm)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func minInt64(xs []int64) int64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxInt64(xs []int64) int64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// MergeSamples implements spec §4.3's merge_samples: pre-filters samples
// older than the retention window, rounds values, then appends or upserts
// the remaining samples one at a time in input order, reporting results in
// original input order. Samples are not grouped by owning chunk, and no
// part of the merge runs in parallel.
func (s *Series) MergeSamples(batch []sample.Sample, policy sample.DuplicatePolicy, nowMs int64) []chunk.Result {
	results := make([]chunk.Result, len(batch))
	if len(batch) == 0 {
		return results
	}

	minAllowed := int64(0)
	hasFloor := false
	if s.retentionMs > 0 {
		minAllowed = nowMs - s.retentionMs
		hasFloor = true
	}

	type indexed struct {
		idx int
		s   sample.Sample
	}
	toAppend := make([]indexed, 0, len(batch))
	for i, sm := range batch {
		if hasFloor && sm.Timestamp < minAllowed {
			results[i] = chunk.ResultIgnored
			continue
		}
		v, ignored := s.applyRoundingAndTolerance(sm.Timestamp, sm.Value)
		if ignored {
			results[i] = chunk.ResultIgnored
			continue
		}
		toAppend = append(toAppend, indexed{i, sample.Sample{Timestamp: sm.Timestamp, Value: v}})
	}

	for _, it := range toAppend {
		res, err := func() (chunk.Result, error) {
			if len(s.chunks) == 0 || it.s.Timestamp > s.lastTimestamp() {
				return s.appendOne(it.s)
			}
			return s.upsert(it.s.Timestamp, it.s.Value, policy)
		}()
		if err != nil {
			results[it.idx] = chunk.ResultError
			continue
		}
		results[it.idx] = res
	}
	return results
}

func (s *Series) appendOne(sm sample.Sample) (chunk.Result, error) {
	if len(s.chunks) == 0 {
		c, err := s.newChunk()
		if err != nil {
			return chunk.ResultError, err
		}
		s.chunks = append(s.chunks, c)
	}
	last := s.chunks[len(s.chunks)-1]
	if err := last.Add(sm); err != nil {
		if err != tserr.ErrCapacityFull {
			return chunk.ResultError, err
		}
		c, nerr := s.newChunk()
		if nerr != nil {
			return chunk.ResultError, nerr
		}
		if aerr := c.Add(sm); aerr != nil {
			return chunk.ResultError, aerr
		}
		s.chunks = append(s.chunks, c)
		s.totalSamples++
		return chunk.ResultOK, nil
	}
	s.totalSamples++
	return chunk.ResultOK, nil
}

// RemoveRange deletes every sample with start <= timestamp <= end,
// dropping wholly-contained chunks and trimming boundary chunks, then
// compacts the chunk list. One empty chunk is retained so a series that
// is fully cleared and then reused doesn't need a fresh allocation (spec
// §4.3 "retain one empty chunk").
func (s *Series) RemoveRange(start, end int64) int {
	removed := 0
	var kept []chunk.Chunk
	for _, c := range s.chunks {
		if c.IsEmpty() {
			kept = append(kept, c)
			continue
		}
		if c.FirstTimestamp() >= start && c.LastTimestamp() <= end {
			removed += c.Count()
			continue
		}
		if c.LastTimestamp() < start || c.FirstTimestamp() > end {
			kept = append(kept, c)
			continue
		}
		removed += c.RemoveRange(start, end)
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		c, err := s.newChunk()
		if err == nil {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
	s.totalSamples -= removed
	if s.totalSamples < 0 {
		s.totalSamples = 0
	}
	return removed
}

// Trim drops chunks entirely older than the retention window and
// partially trims the first remaining chunk (spec §4.3's trim). It is a
// no-op when retention is unlimited or the series is empty.
func (s *Series) Trim() int {
	if s.retentionMs <= 0 {
		return 0
	}
	last, ok := s.LastSample()
	if !ok {
		return 0
	}
	minAllowed := last.Timestamp - s.retentionMs

	removed := 0
	i := 0
	for i < len(s.chunks) {
		c := s.chunks[i]
		if !c.IsEmpty() && c.LastTimestamp() <= minAllowed {
			removed += c.Count()
			i++
			continue
		}
		break
	}
	s.chunks = s.chunks[i:]

	if len(s.chunks) == 0 {
		c, err := s.newChunk()
		if err == nil {
			s.chunks = append(s.chunks, c)
		}
	} else {
		first := s.chunks[0]
		if !first.IsEmpty() && first.FirstTimestamp() <= minAllowed {
			removed += first.RemoveRange(first.FirstTimestamp(), minAllowed)
		}
	}
	s.totalSamples -= removed
	if s.totalSamples < 0 {
		s.totalSamples = 0
	}
	return removed
}

// IncrBy implements spec §4.3's increment: if samples exist, clamp ts to
// at least the last timestamp and add delta to the last value; rejects
// ts < last_timestamp.
func (s *Series) IncrBy(ts int64, delta float64) (chunk.Result, error) {
	last, ok := s.LastSample()
	if !ok {
		return s.Add(ts, delta, nil)
	}
	if ts < last.Timestamp {
		return chunk.ResultError, tserr.ErrInvalidArgument
	}
	if ts < last.Timestamp {
		ts = last.Timestamp
	}
	newValue := last.Value + delta
	if ts == last.Timestamp {
		return s.upsert(ts, newValue, sample.PolicyLast)
	}
	return s.Add(ts, newValue, nil)
}

// AddCompactionRule registers a compaction rule on this series, guarding
// against concurrent registration from multiple derived-series creations.
func (s *Series) AddCompactionRule(r CompactionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompactionRules = append(s.CompactionRules, r)
}

// ChunkCount returns the number of chunks currently held (including a
// trailing empty chunk, if any).
func (s *Series) ChunkCount() int { return len(s.chunks) }

// RetentionMs returns the configured retention window, or 0 if unlimited.
func (s *Series) RetentionMs() int64 { return s.retentionMs }

// Encoding returns the series' chunk codec.
func (s *Series) Encoding() chunk.Encoding { return s.chunkEncoding }

// ChunkSizeBytes returns the configured per-chunk byte budget.
func (s *Series) ChunkSizeBytes() int { return s.chunkSizeBytes }

// DuplicatePolicy returns the series' default duplicate-collision policy.
func (s *Series) DuplicatePolicy() sample.DuplicatePolicy { return s.duplicatePolicy }

// Rounding returns the series' rounding strategy.
func (s *Series) Rounding() sample.Rounding { return s.rounding }

// Tolerance returns the series' duplicate-tolerance window, or nil.
func (s *Series) Tolerance() *sample.Tolerance { return s.tolerance }

// Chunks returns the series' current chunk list, in order. Callers must
// treat the returned slice as read-only; it is used by the snapshot
// persistence layer (pkg/persist) and must not be mutated concurrently with
// live writes (the usual host key-guard requirement applies).
func (s *Series) Chunks() []chunk.Chunk { return s.chunks }

// Restore reconstructs a Series directly from a previously decoded chunk
// list, used when loading a host snapshot (pkg/persist). totalSamples is
// recomputed from the chunks rather than trusted from the snapshot.
func Restore(id uint64, opts Options, chunks []chunk.Chunk) *Series {
	s := &Series{
		ID:              id,
		Labels:          opts.Labels,
		DBIndex:         opts.DBIndex,
		retentionMs:     opts.RetentionMs,
		duplicatePolicy: opts.DuplicatePolicy,
		chunkEncoding:   opts.ChunkEncoding,
		chunkSizeBytes:  opts.ChunkSizeBytes,
		rounding:        opts.Rounding,
		tolerance:       opts.Tolerance,
		chunks:          chunks,
	}
	for _, c := range chunks {
		s.totalSamples += c.Count()
	}
	return s
}

// EffectiveRange clamps [start, end] to the series' retention window (spec
// §4.7 step 2: "compute the effective range clamped by retention"). With no
// retention configured, or an empty series, the input range is returned
// unchanged.
func (s *Series) EffectiveRange(start, end int64) (int64, int64) {
	if s.retentionMs <= 0 {
		return start, end
	}
	last, ok := s.LastSample()
	if !ok {
		return start, end
	}
	floor := last.Timestamp - s.retentionMs
	if start < floor {
		start = floor
	}
	return start, end
}
