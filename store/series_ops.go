package store

import (
	"github.com/embeddedts/tstore/pkg/aggr"
	"github.com/embeddedts/tstore/pkg/downsample"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/mrange"
	"github.com/embeddedts/tstore/pkg/postings"
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/series"
	"github.com/embeddedts/tstore/pkg/tserr"
)

func toPostingLabels(lbls labels.Labels) []postings.Label {
	out := make([]postings.Label, len(lbls))
	for i, l := range lbls {
		out[i] = postings.Label{Name: l.Name, Value: l.Value}
	}
	return out
}

func keyBytes(key string) []byte { return []byte(key) }

func (st *Store) resolveOptions(opts SeriesOptions) series.Options {
	enc := opts.ChunkEncoding
	if enc == 0 && st.defaultEncoding != 0 {
		enc = st.defaultEncoding
	}
	size := opts.ChunkSizeBytes
	if size == 0 {
		size = st.defaultChunkSize
	}
	retention := opts.RetentionMs
	if retention == 0 {
		retention = st.defaultRetention
	}
	policy := opts.DuplicatePolicy
	if policy == 0 && st.defaultPolicy != 0 {
		policy = st.defaultPolicy
	}
	return series.Options{
		Labels:          opts.Labels,
		RetentionMs:     retention,
		DuplicatePolicy: policy,
		ChunkEncoding:   enc,
		ChunkSizeBytes:  size,
		Rounding:        opts.Rounding,
		Tolerance:       opts.Tolerance,
	}
}

// CreateSeries registers a new series under key in database db (spec §6
// "CREATE key [LABELS ...] [RETENTION ...] [ENCODING ...] [CHUNK_SIZE ...]
// [DUPLICATE_POLICY ...] [COMPACTION_RULE ...]"). The destination of every
// compaction rule must already exist in the same database.
func (st *Store) CreateSeries(db int, key string, opts SeriesOptions, guard KeyGuard) error {
	g := guardOrNoop(guard)
	g.Lock(db, key)
	defer g.Unlock(db, key)

	d := st.getDB(db)

	d.mu.Lock()
	if _, exists := d.byKey[key]; exists {
		d.mu.Unlock()
		return tserr.ErrDuplicateSeries
	}
	for _, other := range d.byKey {
		if len(opts.Labels) > 0 && other.Labels.Equal(opts.Labels) {
			d.mu.Unlock()
			return tserr.ErrDuplicateSeries
		}
	}
	id := d.allocID()
	d.mu.Unlock()

	sopts := st.resolveOptions(opts)
	s, err := series.New(id, sopts)
	if err != nil {
		d.reclaimID(id)
		return err
	}

	for _, rule := range opts.CompactionRules {
		dst, ok := d.get(rule.DestKey)
		if !ok {
			d.reclaimID(id)
			return tserr.ErrInvalidArgument
		}
		sr := series.CompactionRule{
			DestSeriesID:     dst.ID,
			Aggregation:      int(rule.Aggregation),
			BucketDurationMs: rule.BucketDurationMs,
			AlignTimestampMs: rule.AlignTimestampMs,
		}
		s.AddCompactionRule(sr)
		d.registerCompactionSource(s, sr)
	}

	d.mu.Lock()
	d.byKey[key] = s
	d.mu.Unlock()

	d.index.IndexTimeSeries(id, keyBytes(key), toPostingLabels(opts.Labels))
	if st.metrics != nil {
		st.metrics.SeriesCount.Inc()
	}
	return nil
}

// Add inserts a single sample into key (spec §6 "ADD key ts value").
func (st *Store) Add(db int, key string, ts int64, value float64, guard KeyGuard) (AddOutcome, error) {
	g := guardOrNoop(guard)
	g.Lock(db, key)
	defer g.Unlock(db, key)

	d := st.getDB(db)
	s, ok := d.get(key)
	if !ok {
		return AddFailed, tserr.ErrKeyNotFound
	}
	policy := s.DuplicatePolicy()
	res, err := s.Add(ts, value, &policy)
	if err != nil {
		return AddFailed, err
	}
	d.runCompactions(s)
	return outcomeFromChunkResult(res), nil
}

// MAdd inserts multiple samples, possibly across different keys, in one
// call (spec §6 "MADD key ts value [key ts value ...]"). Entries are applied
// one after another in input order, each through Add with its own guard
// acquisition, so a contested key delays every entry after it.
func (st *Store) MAdd(db int, entries []AddEntry, guard KeyGuard) []AddResult {
	out := make([]AddResult, len(entries))
	for i, e := range entries {
		outcome, err := st.Add(db, e.Key, e.Timestamp, e.Value, guard)
		out[i] = AddResult{Key: e.Key, Timestamp: e.Timestamp, Outcome: outcome, Err: err}
	}
	return out
}

// IncrBy adds delta to the series' last value and stores the result at
// timestamp ts (spec §6 "INCRBY key ts delta"): a ts equal to the last
// timestamp updates that sample, a later ts appends a new sample, and an
// earlier ts is rejected. On an empty series the stored value is delta.
func (st *Store) IncrBy(db int, key string, ts int64, delta float64, guard KeyGuard) (AddOutcome, error) {
	g := guardOrNoop(guard)
	g.Lock(db, key)
	defer g.Unlock(db, key)

	d := st.getDB(db)
	s, ok := d.get(key)
	if !ok {
		return AddFailed, tserr.ErrKeyNotFound
	}
	res, err := s.IncrBy(ts, delta)
	if err != nil {
		return AddFailed, err
	}
	d.runCompactions(s)
	return outcomeFromChunkResult(res), nil
}

// Delete removes key entirely from database db (spec §6 "DEL key").
func (st *Store) Delete(db int, key string, guard KeyGuard) error {
	g := guardOrNoop(guard)
	g.Lock(db, key)
	defer g.Unlock(db, key)

	d := st.getDB(db)
	d.mu.Lock()
	s, ok := d.byKey[key]
	if !ok {
		d.mu.Unlock()
		return tserr.ErrKeyNotFound
	}
	delete(d.byKey, key)
	d.deletedIDs = append(d.deletedIDs, s.ID)
	d.mu.Unlock()

	d.index.RemoveTimeSeries(s.ID, toPostingLabels(s.Labels))
	if st.metrics != nil {
		st.metrics.SeriesCount.Dec()
	}
	return nil
}

// Info returns key's static metadata and live statistics (spec §6 "INFO
// key").
func (st *Store) Info(db int, key string) (SeriesInfo, error) {
	d := st.getDB(db)
	s, ok := d.get(key)
	if !ok {
		return SeriesInfo{}, tserr.ErrKeyNotFound
	}

	info := SeriesInfo{
		Key:             key,
		ID:              s.ID,
		Labels:          s.Labels,
		RetentionMs:     s.RetentionMs(),
		DuplicatePolicy: s.DuplicatePolicy(),
		ChunkEncoding:   s.Encoding(),
		ChunkSizeBytes:  s.ChunkSizeBytes(),
		ChunkCount:      s.ChunkCount(),
		TotalSamples:    s.TotalSamples(),
	}
	if first, ok := s.FirstTimestamp(); ok {
		info.FirstTimestamp, info.HasFirst = first, true
	}
	if last, ok := s.LastSample(); ok {
		info.LastTimestamp, info.LastValue, info.HasLast = last.Timestamp, last.Value, true
	}
	for _, r := range s.CompactionRules {
		info.CompactionRules = append(info.CompactionRules, CompactionRule{
			DestKey:          destKeyFor(d, r.DestSeriesID),
			Aggregation:      aggr.Kind(r.Aggregation),
			BucketDurationMs: r.BucketDurationMs,
			AlignTimestampMs: r.AlignTimestampMs,
		})
	}
	return info, nil
}

func destKeyFor(d *DB, id uint64) string {
	if k, ok := d.index.KeyForID(id); ok {
		return string(k)
	}
	return ""
}

// buildHandle resolves key into an mrange.Handle, attaching a LatestSource
// binding when key is itself a compaction destination (spec §4.7 step 3).
func (d *DB) buildHandle(key string, s *series.Series) mrange.Handle {
	h := mrange.Handle{Key: key, Series: s}
	d.compactionMu.Lock()
	binding, ok := d.latestSource[s.ID]
	d.compactionMu.Unlock()
	if ok {
		d.mu.RLock()
		var src *series.Series
		for _, cand := range d.byKey {
			if cand.ID == binding.srcID {
				src = cand
				break
			}
		}
		d.mu.RUnlock()
		if src != nil {
			h.LatestSource = src
			h.LatestReducer = binding.reducer
			h.LatestBucketMs = binding.bucketMs
			h.LatestAlignMs = binding.alignMs
		}
	}
	return h
}

// Range returns key's samples in [req.Start, req.End] with optional
// filters and aggregation applied (spec §6 "RANGE key from to ...").
func (st *Store) Range(db int, key string, req RangeRequest) ([]sample.Sample, labels.Labels, error) {
	return st.rangeImpl(db, key, req, false)
}

// RevRange is Range with the output reversed to descending timestamp order
// (spec §6 "REVRANGE").
func (st *Store) RevRange(db int, key string, req RangeRequest) ([]sample.Sample, labels.Labels, error) {
	return st.rangeImpl(db, key, req, true)
}

func (st *Store) rangeImpl(db int, key string, req RangeRequest, reverse bool) ([]sample.Sample, labels.Labels, error) {
	d := st.getDB(db)
	s, ok := d.get(key)
	if !ok {
		return nil, nil, tserr.ErrKeyNotFound
	}

	handle := d.buildHandle(key, s)
	result, err := mrange.Run([]mrange.Handle{handle}, mrange.Request{
		Start:           req.Start,
		End:             req.End,
		Count:           req.Count,
		TimestampFilter: req.TimestampFilter,
		ValueFilter:     req.ValueFilter,
		Latest:          req.Latest,
		Aggregation:     req.Aggregation,
		Reverse:         reverse,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(result.Series) == 0 {
		return nil, s.Labels, nil
	}
	samples := result.Series[0].Samples
	if req.VisualPoints > 0 {
		var derr error
		samples, derr = downsample.LargestTriangleThreeBucket(samples, req.VisualPoints)
		if derr != nil {
			return nil, nil, derr
		}
	}
	return samples, s.Labels, nil
}
