package aggr

import (
	"math"

	"github.com/embeddedts/tstore/pkg/sample"
)

// BucketTimestamp selects which instant within a bucket is reported as its
// output timestamp (spec §4.4).
type BucketTimestamp int

const (
	Start BucketTimestamp = iota
	Mid
	End
)

// ParseBucketTimestamp maps the RANGE/MRANGE BUCKETTIMESTAMP token
// (-|+|~|start|mid|end) to a BucketTimestamp.
func ParseBucketTimestamp(tok string) (BucketTimestamp, bool) {
	switch tok {
	case "-", "start":
		return Start, true
	case "+", "end":
		return End, true
	case "~", "mid":
		return Mid, true
	default:
		return 0, false
	}
}

// apply computes the output timestamp for a bucket starting at
// bucketStart with the given duration.
func (b BucketTimestamp) apply(bucketStart, duration int64) int64 {
	switch b {
	case End:
		return bucketStart + duration
	case Mid:
		return bucketStart + duration/2
	default:
		return bucketStart
	}
}

// Options configures one run of the aggregation iterator.
type Options struct {
	Kind          Kind
	BucketDuration int64 // milliseconds, must be > 0
	TimestampOutput BucketTimestamp
	ReportEmpty   bool
}

// helper tracks the running bucket boundaries and reducer state, mirroring
// original_source/src/aggregators/iterator.rs's AggregationHelper.
type helper struct {
	reducer        reducer
	kind           Kind
	bucketDuration int64
	bucketTS       BucketTimestamp
	bucketStart    int64
	bucketEnd      int64
	alignTimestamp int64
	lastValue      float64
	allNaNs        bool
	count          int
	reportEmpty    bool
	emptyBuckets   []sample.Sample
}

func newHelper(opts Options, alignTimestamp int64) *helper {
	return &helper{
		reducer:        newReducerState(opts.Kind),
		kind:           opts.Kind,
		bucketDuration: opts.BucketDuration,
		bucketTS:       opts.TimestampOutput,
		alignTimestamp: alignTimestamp,
		lastValue:      math.NaN(),
		allNaNs:        true,
		reportEmpty:    opts.ReportEmpty,
	}
}

func (h *helper) calculateBucketStart() int64 {
	return h.bucketTS.apply(h.bucketStart, h.bucketDuration)
}

func (h *helper) advanceCurrentBucket() {
	h.bucketStart = h.bucketEnd
	h.bucketEnd = h.bucketStart + h.bucketDuration
}

func (h *helper) calculateFinalValue() float64 {
	if h.allNaNs {
		if h.count == 0 {
			return h.kind.EmptyValue()
		}
		return math.NaN()
	}
	return h.reducer.finalize()
}

func (h *helper) emptyBucketValue() float64 {
	if h.kind == Last {
		return h.lastValue
	}
	return h.kind.EmptyValue()
}

func (h *helper) finalizeCurrentBucket() sample.Sample {
	value := h.calculateFinalValue()
	ts := h.calculateBucketStart()
	h.reducer.reset()
	h.count = 0
	h.allNaNs = true
	return sample.Sample{Timestamp: ts, Value: value}
}

func (h *helper) updateValue(v float64) {
	if !math.IsNaN(v) {
		h.reducer.update(v)
		h.lastValue = v
		h.allNaNs = false
	}
	h.count++
}

// calcBucketStart computes the start of the bucket containing ts, aligned
// to alignTimestamp, using a true (non-negative) modulo (spec §4.4).
func (h *helper) calcBucketStart(ts int64) int64 {
	diff := ts - h.alignTimestamp
	delta := h.bucketDuration
	return ts - (((diff % delta) + delta) % delta)
}

func (h *helper) updateBucketTimestamps(startTimestamp int64) {
	start := h.calcBucketStart(startTimestamp)
	if start < 0 {
		start = 0
	}
	h.bucketStart = start
	h.bucketEnd = h.bucketStart + h.bucketDuration
}

func (h *helper) fillEmptyBucketsGap(gapStart, gapEnd int64) {
	emptyValue := h.emptyBucketValue()
	firstBucketStart := h.calcBucketStart(gapStart + 1)
	lastBucketStart := h.calcBucketStart(gapEnd)

	for cur := firstBucketStart; cur < lastBucketStart; cur += h.bucketDuration {
		ts := h.bucketTS.apply(cur, h.bucketDuration)
		h.emptyBuckets = append(h.emptyBuckets, sample.Sample{Timestamp: ts, Value: emptyValue})
	}
}

// updateSample feeds one input sample into the running bucket state. It
// returns a finalized bucket (and ok=true) whenever the sample belongs to a
// later bucket than the one currently accumulating.
func (h *helper) updateSample(s sample.Sample) (sample.Sample, bool) {
	if s.Timestamp < h.bucketEnd {
		h.updateValue(s.Value)
		return sample.Sample{}, false
	}

	var bucket sample.Sample
	haveBucket := false
	if h.count > 0 {
		bucket = h.finalizeCurrentBucket()
		haveBucket = true
	}

	gap := s.Timestamp - h.bucketEnd
	if gap >= h.bucketDuration {
		if h.reportEmpty {
			h.fillEmptyBucketsGap(h.bucketEnd, s.Timestamp)
			if !haveBucket && len(h.emptyBuckets) > 0 {
				bucket = h.emptyBuckets[0]
				h.emptyBuckets = h.emptyBuckets[1:]
				haveBucket = true
			}
		}
		h.updateBucketTimestamps(s.Timestamp)
	} else {
		h.advanceCurrentBucket()
	}

	h.updateValue(s.Value)
	return bucket, haveBucket
}

// Iterator pulls samples from an input sequence and emits downsampled
// buckets one at a time, grounded on original_source/src/aggregators/
// iterator.rs's AggregateIterator.
type Iterator struct {
	next func() (sample.Sample, bool)
	h    *helper
	init bool
	done bool
}

// NewIterator builds an aggregation Iterator over next, a function that
// yields the input stream's samples in ascending-timestamp order one at a
// time (ok=false signals end of stream). alignedTimestamp anchors bucket
// boundaries (spec §4.4's align_ts).
func NewIterator(opts Options, alignedTimestamp int64, next func() (sample.Sample, bool)) *Iterator {
	return &Iterator{next: next, h: newHelper(opts, alignedTimestamp)}
}

func (it *Iterator) nextBucket() (sample.Sample, bool) {
	if len(it.h.emptyBuckets) > 0 {
		b := it.h.emptyBuckets[0]
		it.h.emptyBuckets = it.h.emptyBuckets[1:]
		return b, true
	}
	for {
		s, ok := it.next()
		if !ok {
			break
		}
		if bucket, got := it.h.updateSample(s); got {
			return bucket, true
		}
	}
	if it.h.count > 0 {
		return it.h.finalizeCurrentBucket(), true
	}
	return sample.Sample{}, false
}

// Next returns the next downsampled bucket, or ok=false once the input and
// any pending empty/final buckets are exhausted.
func (it *Iterator) Next() (sample.Sample, bool) {
	if it.done {
		return sample.Sample{}, false
	}
	if !it.init {
		s, ok := it.next()
		if !ok {
			it.done = true
			return sample.Sample{}, false
		}
		it.init = true
		it.h.updateBucketTimestamps(s.Timestamp)
		it.h.updateValue(s.Value)
	}
	b, ok := it.nextBucket()
	if !ok {
		it.done = true
	}
	return b, ok
}

// Aggregate runs the iterator to completion over an in-memory slice,
// convenient for callers that already have the full input in hand (e.g.
// per-chunk range scans).
func Aggregate(opts Options, alignedTimestamp int64, samples []sample.Sample) []sample.Sample {
	i := 0
	it := NewIterator(opts, alignedTimestamp, func() (sample.Sample, bool) {
		if i >= len(samples) {
			return sample.Sample{}, false
		}
		s := samples[i]
		i++
		return s, true
	})
	var out []sample.Sample
	for {
		s, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}
