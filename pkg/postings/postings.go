// Package postings implements the per-database inverted label index from
// spec §4.5: label-name=value postings bitmaps, an id→key map, an
// all-postings bitmap, and a stale-id bitmap for lazily-resolved garbage.
// Grounded on original_source/src/series/index/postings.rs, generalized
// from croaring's 64-bit Bitmap64 to roaring/v2's roaring64 package and
// from blart's ordered TreeMap to google/btree's generic BTreeG (both
// found in the AKJUS-bsc-erigon example's go.mod, which leans on both
// roaring bitmaps and ordered btrees for exactly this kind of index).
package postings

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/btree"
)

// SeriesID is a process-unique, monotonically assigned series identifier
// (spec §3's TimeSeries.id).
type SeriesID = uint64

const labelValueSep = "\x00"

// indexKey formats the byte string "label_name\x00label_value" used as the
// postings map's sort/lookup key (spec §4.5's IndexKey).
func indexKey(name, value string) string {
	var b strings.Builder
	b.Grow(len(name) + len(labelValueSep) + len(value))
	b.WriteString(name)
	b.WriteString(labelValueSep)
	b.WriteString(value)
	return b.String()
}

// splitIndexKey reverses indexKey, returning ok=false if key has no
// separator.
func splitIndexKey(key string) (name, value string, ok bool) {
	i := strings.IndexByte(key, 0)
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

type entry struct {
	key string
	bmp *roaring64.Bitmap
}

func entryLess(a, b entry) bool { return a.key < b.key }

// Store is the core in-memory inverted index for one database: a map from
// label-name=value to a postings bitmap, a series-id to key-bytes map, the
// set of all live ids, and a set of ids pending stale garbage collection.
type Store struct {
	index       *btree.BTreeG[entry]
	idToKey     map[SeriesID][]byte
	staleIDs    *roaring64.Bitmap
	allPostings *roaring64.Bitmap
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		index:       btree.NewG(32, entryLess),
		idToKey:     make(map[SeriesID][]byte),
		staleIDs:    roaring64.New(),
		allPostings: roaring64.New(),
	}
}

// Clear empties the store in place.
func (s *Store) Clear() {
	s.index.Clear(false)
	s.idToKey = make(map[SeriesID][]byte)
	s.staleIDs = roaring64.New()
	s.allPostings = roaring64.New()
}

// Swap exchanges the entire contents of s and other, used by the SWAPDB
// keyspace event hook (spec §4.5, §9 "SwapDB").
func (s *Store) Swap(other *Store) {
	s.index, other.index = other.index, s.index
	s.idToKey, other.idToKey = other.idToKey, s.idToKey
	s.staleIDs, other.staleIDs = other.staleIDs, s.staleIDs
	s.allPostings, other.allPostings = other.allPostings, s.allPostings
}

func (s *Store) getOrCreateBitmap(key string) *roaring64.Bitmap {
	if e, ok := s.index.Get(entry{key: key}); ok {
		return e.bmp
	}
	bmp := roaring64.New()
	s.index.ReplaceOrInsert(entry{key: key, bmp: bmp})
	return bmp
}

// addPostingForLabelValue adds id to the name=value bitmap, creating it if
// absent, and reports whether a new bitmap was created.
func (s *Store) addPostingForLabelValue(id SeriesID, name, value string) bool {
	key := indexKey(name, value)
	if e, ok := s.index.Get(entry{key: key}); ok {
		e.bmp.Add(id)
		return false
	}
	bmp := roaring64.New()
	bmp.Add(id)
	s.index.ReplaceOrInsert(entry{key: key, bmp: bmp})
	return true
}

// removePostingForLabelValue removes id from the name=value bitmap and
// drops the bitmap entirely once it becomes empty.
func (s *Store) removePostingForLabelValue(name, value string, id SeriesID) bool {
	key := indexKey(name, value)
	e, ok := s.index.Get(entry{key: key})
	if !ok {
		return false
	}
	removed := e.bmp.CheckedRemove(id)
	if removed && e.bmp.IsEmpty() {
		s.index.Delete(entry{key: key})
	}
	return removed
}

// Label is the minimal (name, value) pair IndexTimeSeries/RemoveTimeSeries
// need; pkg/labels.Label satisfies this shape directly.
type Label struct {
	Name  string
	Value string
}

// IndexTimeSeries records id (with its stored key bytes) under every
// (name, value) pair in labels, and in all_postings.
func (s *Store) IndexTimeSeries(id SeriesID, key []byte, lbls []Label) {
	for _, l := range lbls {
		s.addPostingForLabelValue(id, l.Name, l.Value)
	}
	s.allPostings.Add(id)
	s.idToKey[id] = append([]byte(nil), key...)
}

// RemoveTimeSeries removes id from every bitmap it was indexed under and
// from id_to_key/all_postings. Returns whether id was actually present in
// all_postings.
func (s *Store) RemoveTimeSeries(id SeriesID, lbls []Label) bool {
	delete(s.idToKey, id)
	removed := s.allPostings.CheckedRemove(id)
	for _, l := range lbls {
		s.removePostingForLabelValue(l.Name, l.Value, id)
	}
	return removed
}

// Count returns the number of live series tracked by id_to_key.
func (s *Store) Count() int { return len(s.idToKey) }

// HasID reports whether id is a live, indexed series.
func (s *Store) HasID(id SeriesID) bool {
	_, ok := s.idToKey[id]
	return ok
}

// KeyForID returns the stored key bytes for id, if any.
func (s *Store) KeyForID(id SeriesID) ([]byte, bool) {
	k, ok := s.idToKey[id]
	return k, ok
}

func (s *Store) removeStaleIfNeeded(bmp *roaring64.Bitmap) {
	if !s.staleIDs.IsEmpty() {
		bmp.AndNot(s.staleIDs)
	}
}

// PostingsForLabelValue returns the (cloned, stale-filtered) bitmap for an
// exact name=value pair.
func (s *Store) PostingsForLabelValue(name, value string) *roaring64.Bitmap {
	key := indexKey(name, value)
	e, ok := s.index.Get(entry{key: key})
	if !ok {
		return roaring64.New()
	}
	out := e.bmp.Clone()
	s.removeStaleIfNeeded(out)
	return out
}

// prefixScan walks every entry whose key starts with name+"\x00", invoking
// fn(value, bitmap) for each. It stops early if fn returns false.
func (s *Store) prefixScan(name string, fn func(value string, bmp *roaring64.Bitmap) bool) {
	prefix := name + labelValueSep
	s.index.AscendGreaterOrEqual(entry{key: prefix}, func(e entry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		_, value, ok := splitIndexKey(e.key)
		if !ok {
			return true
		}
		return fn(value, e.bmp)
	})
}

// PostingsForAllLabelValues unions every bitmap for the given label name,
// regardless of value (spec's "union over all values").
func (s *Store) PostingsForAllLabelValues(name string) *roaring64.Bitmap {
	result := roaring64.New()
	s.prefixScan(name, func(_ string, bmp *roaring64.Bitmap) bool {
		result.Or(bmp)
		return true
	})
	s.removeStaleIfNeeded(result)
	return result
}

// PostingsForLabelValues unions the bitmaps for name=v for each v in
// values.
func (s *Store) PostingsForLabelValues(name string, values []string) *roaring64.Bitmap {
	result := roaring64.New()
	for _, v := range values {
		key := indexKey(name, v)
		if e, ok := s.index.Get(entry{key: key}); ok {
			result.Or(e.bmp)
		}
	}
	s.removeStaleIfNeeded(result)
	return result
}

// PostingsForLabelMatching returns the union of bitmaps for every value of
// name for which match(value) is true.
func (s *Store) PostingsForLabelMatching(name string, match func(value string) bool) *roaring64.Bitmap {
	result := roaring64.New()
	s.prefixScan(name, func(value string, bmp *roaring64.Bitmap) bool {
		if match(value) {
			result.Or(bmp)
		}
		return true
	})
	s.removeStaleIfNeeded(result)
	return result
}

// PostingIDByLabels returns the single series id matching every (name,
// value) pair in labels exactly, or ok=false if zero or more than one
// series match.
func (s *Store) PostingIDByLabels(lbls []Label) (SeriesID, bool) {
	if len(lbls) == 0 {
		return 0, false
	}
	first := lbls[0]
	firstKey := indexKey(first.Name, first.Value)
	e, ok := s.index.Get(entry{key: firstKey})
	if !ok {
		return 0, false
	}
	acc := e.bmp.Clone()

	for _, l := range lbls[1:] {
		key := indexKey(l.Name, l.Value)
		be, ok := s.index.Get(entry{key: key})
		if !ok {
			return 0, false
		}
		acc.And(be.bmp)
		if acc.IsEmpty() {
			return 0, false
		}
	}
	s.removeStaleIfNeeded(acc)
	if acc.GetCardinality() != 1 {
		return 0, false
	}
	it := acc.Iterator()
	if !it.HasNext() {
		return 0, false
	}
	return it.Next(), true
}

// PostingsWithoutLabel returns series ids that do NOT carry label at all
// (all_postings minus the union over every value of label).
func (s *Store) PostingsWithoutLabel(label string) *roaring64.Bitmap {
	toRemove := s.PostingsForAllLabelValues(label)
	out := s.allPostings.Clone()
	if !toRemove.IsEmpty() {
		out.AndNot(toRemove)
	}
	s.removeStaleIfNeeded(out)
	return out
}

// AllPostings returns a clone of the all-postings bitmap (stale-filtered).
func (s *Store) AllPostings() *roaring64.Bitmap {
	out := s.allPostings.Clone()
	s.removeStaleIfNeeded(out)
	return out
}

// LabelNames returns every distinct label name with a non-empty bitmap, in
// sorted order.
func (s *Store) LabelNames() []string {
	var names []string
	var last string
	first := true
	s.index.Ascend(func(e entry) bool {
		if e.bmp.IsEmpty() {
			return true
		}
		name, _, ok := splitIndexKey(e.key)
		if !ok {
			return true
		}
		if first || name != last {
			names = append(names, name)
			last = name
			first = false
		}
		return true
	})
	return names
}

// LabelValues returns every distinct value recorded for label name, in
// sorted order.
func (s *Store) LabelValues(name string) []string {
	var values []string
	s.prefixScan(name, func(value string, bmp *roaring64.Bitmap) bool {
		if !bmp.IsEmpty() && value != "" {
			values = append(values, value)
		}
		return true
	})
	return values
}

// MarkStale records id as pending garbage collection: it is removed from
// all_postings and id_to_key immediately, but label-value bitmaps are only
// cleaned up lazily by SweepStale (spec §4.5 "Stale handling").
func (s *Store) MarkStale(id SeriesID) {
	s.staleIDs.Add(id)
	s.allPostings.CheckedRemove(id)
	delete(s.idToKey, id)
}

// SweepStale walks the label index in key order starting at cursor,
// andnot-ing each bitmap against stale_ids and dropping emptied entries,
// processing at most batchSize bitmaps. It returns the next cursor to
// resume from and whether the whole index has now been swept (in which
// case stale_ids is cleared).
func (s *Store) SweepStale(cursor string, batchSize int) (nextCursor string, done bool) {
	if s.staleIDs.IsEmpty() {
		return "", true
	}
	var toDelete []string
	processed := 0
	last := cursor
	s.index.AscendGreaterOrEqual(entry{key: cursor}, func(e entry) bool {
		if processed >= batchSize {
			return false
		}
		e.bmp.AndNot(s.staleIDs)
		if e.bmp.IsEmpty() {
			toDelete = append(toDelete, e.key)
		}
		last = e.key
		processed++
		return true
	})
	for _, k := range toDelete {
		s.index.Delete(entry{key: k})
	}
	if processed < batchSize {
		s.staleIDs = roaring64.New()
		return "", true
	}
	return last + "\x00", false
}

// Optimize walks the label index in key order starting at cursor,
// RunOptimize()-ing up to batchSize bitmaps and dropping any that have
// become empty. It returns the next cursor to resume from and whether the
// whole index has been processed this pass.
func (s *Store) Optimize(cursor string, batchSize int) (nextCursor string, done bool) {
	var toDelete []string
	processed := 0
	last := cursor
	s.index.AscendGreaterOrEqual(entry{key: cursor}, func(e entry) bool {
		if processed >= batchSize {
			return false
		}
		if e.bmp.IsEmpty() {
			toDelete = append(toDelete, e.key)
		} else {
			e.bmp.RunOptimize()
		}
		last = e.key
		processed++
		return true
	})
	for _, k := range toDelete {
		s.index.Delete(entry{key: k})
	}
	if processed < batchSize {
		return "", true
	}
	return last + "\x00", false
}
