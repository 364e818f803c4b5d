package store

import (
	"github.com/embeddedts/tstore/pkg/aggr"
	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/join"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/mrange"
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/selector"
)

// SeriesOptions configures a new series at CreateSeries time (spec §6
// CREATE), replacing the textual command grammar with a typed struct.
// Zero values fall back to the Store's configured defaults.
type SeriesOptions struct {
	Labels          labels.Labels
	RetentionMs     int64
	DuplicatePolicy sample.DuplicatePolicy
	ChunkEncoding   chunk.Encoding
	ChunkSizeBytes  int
	Rounding        sample.Rounding
	Tolerance       *sample.Tolerance
	CompactionRules []CompactionRule
}

// CompactionRule is the store-facing form of pkg/series.CompactionRule: it
// names its destination by key rather than by already-resolved series id,
// since the destination series must already exist in the same DB at
// CreateSeries time (spec §4.3 "compaction rule... dest must already
// exist").
type CompactionRule struct {
	DestKey          string
	Aggregation      aggr.Kind
	BucketDurationMs int64
	AlignTimestampMs int64
}

// AddOutcome classifies what happened to one submitted sample (spec §4.2
// duplicate-policy outcomes, surfaced per call instead of as a raw
// chunk.Result so store callers never need to import pkg/chunk).
type AddOutcome int

const (
	AddOK AddOutcome = iota
	AddDuplicate
	AddIgnored
	AddFailed
)

func (o AddOutcome) String() string {
	switch o {
	case AddOK:
		return "ok"
	case AddDuplicate:
		return "duplicate"
	case AddIgnored:
		return "ignored"
	case AddFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func outcomeFromChunkResult(r chunk.Result) AddOutcome {
	switch r {
	case chunk.ResultOK:
		return AddOK
	case chunk.ResultDuplicate:
		return AddDuplicate
	case chunk.ResultIgnored:
		return AddIgnored
	default:
		return AddFailed
	}
}

// AddEntry is one (key, timestamp, value) triple submitted to MAdd (spec §6
// "MADD key ts value [key ts value ...]").
type AddEntry struct {
	Key       string
	Timestamp int64
	Value     float64
}

// AddResult pairs one AddEntry with its outcome (or error, for an unknown
// key or type mismatch).
type AddResult struct {
	Key       string
	Timestamp int64
	Outcome   AddOutcome
	Err       error
}

// RangeRequest parameterizes a single-series Range/RevRange call (spec §6
// "RANGE key from to [...]").
type RangeRequest struct {
	Start           int64
	End             int64
	TimestampFilter []int64
	ValueFilter     *[2]float64
	Count           int
	Latest          bool
	Aggregation     *AggregationSpec

	// VisualPoints, if >0, downsamples the result to roughly this many
	// points via LTTB (pkg/downsample) after every other filter/aggregation
	// step, for callers rendering a fixed-width chart rather than consuming
	// raw or bucketed values. Distinct from Aggregation: that reduces fixed
	// time windows to one value each, this preserves visual shape at a
	// target point count regardless of window size.
	VisualPoints int
}

// AggregationSpec configures the per-series downsampling pass applied by
// Range/MRange (spec §4.4), aliasing pkg/mrange's wire-safe shape so the
// store package doesn't redeclare the same four fields twice.
type AggregationSpec = mrange.AggregationSpec

// Grouping requests a cross-series GROUPBY/REDUCE pass in MRange (spec
// §4.7 step 5).
type Grouping = mrange.Grouping

// MultiRangeRequest parameterizes MRange/MRevRange: a selector-filtered set
// of series plus the same range/aggregation/grouping options as
// RangeRequest (spec §6 "MRANGE from to FILTER selector... [GROUPBY ...
// REDUCE ...]").
type MultiRangeRequest struct {
	Start           int64
	End             int64
	Selectors       []selector.Selector
	TimestampFilter []int64
	ValueFilter     *[2]float64
	Count           int
	Latest          bool
	Aggregation     *AggregationSpec
	Grouping        *Grouping

	// VisualPoints downsamples every returned series (ungrouped) or every
	// group (grouped) to roughly this many points via LTTB; see
	// RangeRequest.VisualPoints.
	VisualPoints int
}

// SeriesResult is one matched series' samples from a multi-series query,
// re-exported from pkg/mrange for store callers.
type SeriesResult = mrange.SeriesResult

// GroupResult is one GROUPBY partition's merged output.
type GroupResult = mrange.GroupResult

// MultiRangeResult holds either ungrouped per-series results or grouped
// results, never both (spec §4.7 step 5 exclusivity).
type MultiRangeResult = mrange.Result

// SeriesSample is one series' instantaneous value as returned by MGet
// (spec §6 "MGET FILTER selector").
type SeriesSample struct {
	Key    string
	Labels labels.Labels
	Sample sample.Sample
	Found  bool
}

// MGetRequest selects which series MGet returns the latest sample for.
type MGetRequest struct {
	Selectors      []selector.Selector
	WithLabels     bool
	SelectedLabels []string
}

// SeriesInfo reports a series' static metadata and live statistics (spec §6
// "INFO key").
type SeriesInfo struct {
	Key             string
	ID              uint64
	Labels          labels.Labels
	RetentionMs     int64
	DuplicatePolicy sample.DuplicatePolicy
	ChunkEncoding   chunk.Encoding
	ChunkSizeBytes  int
	ChunkCount      int
	TotalSamples    int
	FirstTimestamp  int64
	HasFirst        bool
	LastTimestamp   int64
	LastValue       float64
	HasLast         bool
	CompactionRules []CompactionRule
}

// CardinalityRequest counts matching series without fetching samples (spec
// §6 "CARD FILTER selector"). AllowFullScan permits a selector with no
// equality matchers at all — the one supplemented ACL-shaped control named
// in SPEC_FULL.md §9, a plain bool rather than an authentication stack
// (auth itself stays the host's responsibility per spec's Non-goals).
type CardinalityRequest struct {
	Selectors     []selector.Selector
	AllowFullScan bool
}

// JoinKind, JoinOptions and JoinedSample alias pkg/join's types directly:
// Store.Join has nothing to add over the library wrapper, so it re-exports
// rather than redeclaring the same three types (spec §9 Open Question 1).
type JoinKind = join.Kind
type JoinOptions = join.Options
type JoinedSample = join.Pair

const (
	JoinPrevious = join.Previous
	JoinNext     = join.Next
	JoinNearest  = join.Nearest
)
