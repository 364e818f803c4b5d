package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/embeddedts/tstore/pkg/downsample"
	"github.com/embeddedts/tstore/pkg/mrange"
	"github.com/embeddedts/tstore/pkg/selector"
	"github.com/embeddedts/tstore/pkg/tserr"
)

// downsampleResult applies LTTB downsampling in place to every series or
// group in result, whichever is populated (spec §4.7 step 5 exclusivity).
func downsampleResult(result *mrange.Result, targetPoints int) error {
	for i := range result.Series {
		out, err := downsample.LargestTriangleThreeBucket(result.Series[i].Samples, targetPoints)
		if err != nil {
			return err
		}
		result.Series[i].Samples = out
	}
	for i := range result.Groups {
		out, err := downsample.LargestTriangleThreeBucket(result.Groups[i].Samples, targetPoints)
		if err != nil {
			return err
		}
		result.Groups[i].Samples = out
	}
	return nil
}

// matchKeys resolves a set of OR'd selectors into the series they match,
// via the label index's postings bitmaps rather than a linear scan (spec
// §4.5 "PostingsForMatchers"/"Disjunction").
func (d *DB) matchKeys(sels []selector.Selector) []string {
	bmp := d.index.Disjunction(sels)
	if bmp == nil {
		return nil
	}
	out := make([]string, 0, bmp.GetCardinality())
	it := bmp.Iterator()
	for it.HasNext() {
		id := it.Next()
		if key, ok := d.index.KeyForID(id); ok {
			out = append(out, string(key))
		}
	}
	return out
}

// mrangeCacheKey builds a deterministic string key for req so that two
// logically identical requests hit the same cache entry; fields behind
// pointers are dereferenced into the key rather than keyed by address,
// since a freshly-built request always allocates a new *AggregationSpec/
// *Grouping/*[2]float64 even when the caller's intent is unchanged.
func mrangeCacheKey(db int, req MultiRangeRequest, reverse bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mrange:%d:%d:%t:%d:%d:%d:%t", db, reverse, req.Latest, req.Start, req.End, req.Count)
	sels := make([]string, len(req.Selectors))
	for i, s := range req.Selectors {
		sels[i] = s.String()
	}
	sort.Strings(sels)
	b.WriteString(":sel=")
	b.WriteString(strings.Join(sels, ","))
	fmt.Fprintf(&b, ":tsf=%v:vf=%v", req.TimestampFilter, req.ValueFilter)
	if req.Aggregation != nil {
		a := req.Aggregation
		fmt.Fprintf(&b, ":agg=%d/%d/%d/%d/%t", a.Kind, a.BucketDurationMs, a.Align, a.TimestampOutput, a.ReportEmpty)
	}
	if req.Grouping != nil {
		fmt.Fprintf(&b, ":grp=%s/%d", req.Grouping.GroupLabel, req.Grouping.Reducer)
	}
	fmt.Fprintf(&b, ":vp=%d", req.VisualPoints)
	return b.String()
}

func (st *Store) mrangeImpl(db int, req MultiRangeRequest, reverse bool) (MultiRangeResult, error) {
	compute := func() (interface{}, time.Duration, int) {
		d := st.getDB(db)
		keys := d.matchKeys(req.Selectors)
		if len(keys) == 0 {
			return MultiRangeResult{}, st.queryCacheTTL, 0
		}

		handles := make([]mrange.Handle, 0, len(keys))
		for _, k := range keys {
			s, ok := d.get(k)
			if !ok {
				continue
			}
			handles = append(handles, d.buildHandle(k, s))
		}

		result, err := mrange.Run(handles, mrange.Request{
			Start:           req.Start,
			End:             req.End,
			Count:           req.Count,
			TimestampFilter: req.TimestampFilter,
			ValueFilter:     req.ValueFilter,
			Latest:          req.Latest,
			Aggregation:     req.Aggregation,
			Grouping:        req.Grouping,
			Reverse:         reverse,
		})
		if err != nil {
			return cachedError{err}, st.queryCacheTTL, 0
		}
		if req.VisualPoints > 0 {
			if err := downsampleResult(&result, req.VisualPoints); err != nil {
				return cachedError{err}, st.queryCacheTTL, 0
			}
		}
		size := 0
		for _, s := range result.Series {
			size += len(s.Samples)
		}
		for _, g := range result.Groups {
			size += len(g.Samples)
		}
		return result, st.queryCacheTTL, size
	}

	if st.queryCache == nil {
		v, _, _ := compute()
		return asMRangeResult(v)
	}

	v := st.queryCache.Get(mrangeCacheKey(db, req, reverse), compute)
	return asMRangeResult(v)
}

// cachedError lets a failed computation be memoized as a short-lived cache
// value (still subject to the same TTL) instead of bypassing the cache
// entirely, so a selector that always errors doesn't recompute on every call.
type cachedError struct{ err error }

func asMRangeResult(v interface{}) (MultiRangeResult, error) {
	switch r := v.(type) {
	case cachedError:
		return MultiRangeResult{}, r.err
	case MultiRangeResult:
		return r, nil
	default:
		return MultiRangeResult{}, nil
	}
}

// MRange runs the multi-series query coordinator over every series
// matching req.Selectors (spec §4.7, §6 "MRANGE from to FILTER selector
// ...").
func (st *Store) MRange(db int, req MultiRangeRequest) (MultiRangeResult, error) {
	return st.mrangeImpl(db, req, false)
}

// MRevRange is MRange with every series' output reversed to descending
// timestamp order (spec §6 "MREVRANGE").
func (st *Store) MRevRange(db int, req MultiRangeRequest) (MultiRangeResult, error) {
	return st.mrangeImpl(db, req, true)
}

// MGet returns the latest sample of every series matching req.Selectors
// (spec §6 "MGET FILTER selector").
func (st *Store) MGet(db int, req MGetRequest) ([]SeriesSample, error) {
	d := st.getDB(db)
	keys := d.matchKeys(req.Selectors)
	out := make([]SeriesSample, 0, len(keys))
	for _, k := range keys {
		s, ok := d.get(k)
		if !ok {
			continue
		}
		row := SeriesSample{Key: k}
		if req.WithLabels {
			row.Labels = s.Labels
		}
		if last, ok := s.LastSample(); ok {
			row.Sample = last
			row.Found = true
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Cardinality counts series matching req.Selectors without materializing
// any samples (spec §6 "CARD FILTER selector"). A selector whose matchers
// are all non-equality (regex or negated) is rejected unless
// req.AllowFullScan is set, mirroring the index's own cost-based matcher
// ordering concern: an unbounded scan is a host policy decision, not a
// library default.
func (st *Store) Cardinality(db int, req CardinalityRequest) (uint64, error) {
	for _, sel := range req.Selectors {
		if !req.AllowFullScan && !hasEqualityMatcher(sel) {
			return 0, tserr.ErrInvalidArgument
		}
	}

	compute := func() (interface{}, time.Duration, int) {
		d := st.getDB(db)
		var total uint64
		for _, sel := range req.Selectors {
			total += d.index.Cardinality(sel.Matchers)
		}
		return total, st.queryCacheTTL, 8
	}

	if st.queryCache == nil {
		v, _, _ := compute()
		return v.(uint64), nil
	}

	sels := make([]string, len(req.Selectors))
	for i, s := range req.Selectors {
		sels[i] = s.String()
	}
	sort.Strings(sels)
	key := fmt.Sprintf("card:%d:%s", db, strings.Join(sels, ","))
	v := st.queryCache.Get(key, compute)
	return v.(uint64), nil
}

func hasEqualityMatcher(sel selector.Selector) bool {
	for _, m := range sel.Matchers {
		if m.Op == selector.Equal {
			return true
		}
	}
	return false
}

// QueryIndex returns the keys of every series matching sels, without
// fetching samples (spec §4.5's label index exposed directly, useful for
// hosts that want to resolve a selector once and issue their own
// Range/Info calls per key).
func (st *Store) QueryIndex(db int, sels []selector.Selector) ([]string, error) {
	d := st.getDB(db)
	keys := d.matchKeys(sels)
	sort.Strings(keys)
	return keys, nil
}
