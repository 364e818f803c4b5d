// Package index implements the per-database label index: a postings.Store
// guarded by a single readers-writer lock (spec §4.5, §5 "Shared
// resources"), plus the matcher→bitmap query planner that evaluates
// Prometheus-style selector expressions. Grounded on
// original_source/src/series/index/postings.rs's postings_for_filter
// family and querier.rs's size-adaptive collection strategy.
package index

import (
	"sync"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/embeddedts/tstore/pkg/postings"
	"github.com/embeddedts/tstore/pkg/selector"
)

// dateRangeAdaptiveThreshold is the cardinality below which the date-range
// post-filter rebuilds the result by scanning a plain id list rather than
// through a lookup map (spec §4.7, querier.rs: "n < 32").
const dateRangeAdaptiveThreshold = 32

// Index is one database's label index.
type Index struct {
	mu sync.RWMutex
	p  *postings.Store
}

// New returns an empty Index.
func New() *Index {
	return &Index{p: postings.New()}
}

// IndexTimeSeries records id under every label in lbls, taking the write
// lock.
func (ix *Index) IndexTimeSeries(id postings.SeriesID, key []byte, lbls []postings.Label) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.p.IndexTimeSeries(id, key, lbls)
}

// RemoveTimeSeries removes id from the index, taking the write lock.
func (ix *Index) RemoveTimeSeries(id postings.SeriesID, lbls []postings.Label) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.p.RemoveTimeSeries(id, lbls)
}

// MarkStale marks id for lazy garbage collection, taking the write lock.
func (ix *Index) MarkStale(id postings.SeriesID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.p.MarkStale(id)
}

// SweepStale advances one batch of the stale-id sweep, taking the write
// lock only for the batch's duration.
func (ix *Index) SweepStale(cursor string, batchSize int) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.p.SweepStale(cursor, batchSize)
}

// Optimize advances one batch of the bitmap-optimize pass, taking the
// write lock only for the batch's duration.
func (ix *Index) Optimize(cursor string, batchSize int) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.p.Optimize(cursor, batchSize)
}

// Count returns the number of live series, taking the read lock.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.p.Count()
}

// KeyForID looks up the stored key bytes for a series id, taking the read
// lock.
func (ix *Index) KeyForID(id postings.SeriesID) ([]byte, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.p.KeyForID(id)
}

// PostingIDByLabels resolves the unique series id carrying every given
// (name, value) pair, taking the read lock; ok is false when zero or
// several series match.
func (ix *Index) PostingIDByLabels(lbls []postings.Label) (postings.SeriesID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.p.PostingIDByLabels(lbls)
}

// LabelNames returns every distinct indexed label name, taking the read
// lock.
func (ix *Index) LabelNames() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.p.LabelNames()
}

// LabelValues returns every distinct value recorded for name, taking the
// read lock.
func (ix *Index) LabelValues(name string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.p.LabelValues(name)
}

// SwapDB exchanges the entire contents of a and b, taking both write
// locks in a fixed (pointer) order to avoid deadlock against a concurrent
// swap the other direction (spec §9 "SwapDB").
func SwapDB(a, b *Index) {
	first, second := a, b
	if uintptr(unsafe.Pointer(a)) > uintptr(unsafe.Pointer(b)) {
		first, second = b, a
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	a.p.Swap(b.p)
}

// postingsForMatcher evaluates a single matcher to a bitmap, following
// spec §4.5's per-operator rules.
func (ix *Index) postingsForMatcher(m selector.Matcher) *roaring64.Bitmap {
	switch m.Op {
	case selector.Equal:
		if m.Value == "" {
			out := ix.p.PostingsWithoutLabel(m.Label)
			return out
		}
		return ix.p.PostingsForLabelValue(m.Label, m.Value)
	case selector.NotEqual:
		if m.Value == "" {
			return ix.p.PostingsForAllLabelValues(m.Label)
		}
		all := ix.p.AllPostings()
		eq := ix.p.PostingsForLabelValue(m.Label, m.Value)
		all.AndNot(eq)
		return all
	case selector.RegexEqual:
		// ".*" must be checked before MatchesEmpty: it also matches the
		// empty string, so the empty-match branch below would otherwise
		// always shadow it and this shortcut would be dead code.
		if m.IsRegexAll() {
			return ix.p.AllPostings()
		}
		if m.MatchesEmpty() {
			return ix.p.PostingsWithoutLabel(m.Label)
		}
		return ix.p.PostingsForLabelMatching(m.Label, m.Matches)
	case selector.RegexNotEqual:
		// ".+" must be checked before MatchesEmpty for the same reason: a
		// negated ".+" also matches the empty string.
		if m.IsRegexAny() {
			return ix.p.PostingsWithoutLabel(m.Label)
		}
		if m.MatchesEmpty() {
			return ix.p.PostingsForAllLabelValues(m.Label)
		}
		return ix.p.PostingsForLabelMatching(m.Label, func(v string) bool { return !m.Matches(v) })
	}
	return roaring64.New()
}

// matcherCost ranks matchers cheapest-first for conjunction evaluation
// order: a literal equality is cheapest, then a small set of values
// (not currently a distinct matcher shape, folded into literal), then
// regex scans (spec §4.5 "literal < set-of-values < regex").
func matcherCost(m selector.Matcher) int {
	switch m.Op {
	case selector.Equal:
		return 0
	case selector.NotEqual:
		return 1
	default:
		return 2
	}
}

// PostingsForMatchers evaluates a conjunction of matchers against the
// index, applying spec §4.5's subtracting/intersecting classification and
// cost-ordered evaluation, taking the read lock for the whole evaluation.
func (ix *Index) PostingsForMatchers(matchers []selector.Matcher) *roaring64.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(matchers) == 0 {
		return ix.p.AllPostings()
	}

	var intersecting, subtracting []selector.Matcher
	for _, m := range matchers {
		if matcherSubtracts(m) {
			subtracting = append(subtracting, m)
		} else {
			intersecting = append(intersecting, m)
		}
	}
	sortByCost(intersecting)
	sortByCost(subtracting)

	var acc *roaring64.Bitmap
	if len(intersecting) == 0 {
		acc = ix.p.AllPostings()
	}
	for _, m := range intersecting {
		bmp := ix.postingsForMatcher(m)
		if acc == nil {
			acc = bmp
		} else {
			acc.And(bmp)
		}
		if acc.IsEmpty() {
			return acc
		}
	}
	for _, m := range subtracting {
		bmp := ix.postingsForInverse(m)
		acc.AndNot(bmp)
		if acc.IsEmpty() {
			return acc
		}
	}
	return acc
}

// postingsForInverse computes the bitmap to subtract for a "subtracting"
// matcher: the set of ids the matcher would accept is computed as its
// complement so it can always be AndNot'd out of the accumulator.
//
// ".*"/".+" get an explicit case mirroring original_source's
// inverse_postings_for_filter, rather than going through the generic
// invert()+postingsForMatcher round trip: negating a RegexEqual(".*")
// matcher via invert() produces RegexNotEqual(".*"), whose match set (via
// the generic label-scanning fallback) is "every series that carries the
// label" rather than "no series" — backwards, since n=~".*" matches every
// series (present or absent) and so nothing should be subtracted for it.
// The same mismatch applies in reverse to RegexNotEqual(".+").
func (ix *Index) postingsForInverse(m selector.Matcher) *roaring64.Bitmap {
	switch {
	case m.Op == selector.RegexEqual && m.IsRegexAll():
		// m matches every series unconditionally: nothing is excluded by
		// it, so there is nothing to subtract.
		return roaring64.New()
	case m.Op == selector.RegexNotEqual && m.IsRegexAny():
		// m matches only series missing the label outright, so everything
		// carrying the label must be subtracted.
		return ix.p.PostingsForAllLabelValues(m.Label)
	}
	inverse := invert(m)
	return ix.postingsForMatcher(inverse)
}

// invert builds the logical negation of a matcher (used to turn a
// "subtracting" matcher into a positive bitmap that gets AndNot'd).
func invert(m selector.Matcher) selector.Matcher {
	switch m.Op {
	case selector.Equal:
		nm, _ := selector.NewMatcher(m.Label, selector.NotEqual, m.Value)
		return nm
	case selector.NotEqual:
		nm, _ := selector.NewMatcher(m.Label, selector.Equal, m.Value)
		return nm
	case selector.RegexEqual:
		nm, _ := selector.NewMatcher(m.Label, selector.RegexNotEqual, m.Value)
		return nm
	default:
		nm, _ := selector.NewMatcher(m.Label, selector.RegexEqual, m.Value)
		return nm
	}
}

// matcherSubtracts reports whether m matches the empty string, meaning it
// is cheaper to evaluate as "all minus complement" (spec §4.5).
func matcherSubtracts(m selector.Matcher) bool {
	return m.MatchesEmpty()
}

func sortByCost(ms []selector.Matcher) {
	// insertion sort: matcher lists per query are small, and this keeps the
	// dependency surface to the stdlib for a handful-of-elements sort.
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && matcherCost(ms[j]) < matcherCost(ms[j-1]); j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}

// Disjunction evaluates an OR of selectors (each a conjunction of
// matchers), unioning the branch results (spec §4.5 "Disjunctions").
func (ix *Index) Disjunction(sels []selector.Selector) *roaring64.Bitmap {
	result := roaring64.New()
	for _, s := range sels {
		result.Or(ix.PostingsForMatchers(s.Matchers))
	}
	return result
}

// Cardinality returns the number of series matching matchers, or the
// total index size if matchers is empty (spec §4.5 "Cardinality").
func (ix *Index) Cardinality(matchers []selector.Matcher) uint64 {
	if len(matchers) == 0 {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		return uint64(ix.p.Count())
	}
	return ix.PostingsForMatchers(matchers).GetCardinality()
}

// ReorderBySizeAdaptive reorders a filtered id subset back into matched's
// original relative order. Below dateRangeAdaptiveThreshold matches this
// scans matched directly (cheap for a handful of ids); at or above it,
// builds a lookup set first. Mirrors querier.rs's `n < 32` branch, where a
// small match count scans a Vec with .contains() while a larger one builds
// an IntMap keyed by id.
func ReorderBySizeAdaptive(original []postings.SeriesID, matched []postings.SeriesID) []postings.SeriesID {
	if len(matched) < dateRangeAdaptiveThreshold {
		out := make([]postings.SeriesID, 0, len(matched))
		for _, id := range original {
			for _, m := range matched {
				if m == id {
					out = append(out, id)
					break
				}
			}
		}
		return out
	}

	set := make(map[postings.SeriesID]struct{}, len(matched))
	for _, m := range matched {
		set[m] = struct{}{}
	}
	out := make([]postings.SeriesID, 0, len(matched))
	for _, id := range original {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
