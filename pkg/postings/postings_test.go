package postings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkLabels(pairs ...string) []Label {
	out := make([]Label, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Label{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func TestIndexAndQueryByLabelValue(t *testing.T) {
	s := New()
	s.IndexTimeSeries(1, []byte("k1"), mkLabels("__name__", "cpu", "host", "a"))
	s.IndexTimeSeries(2, []byte("k2"), mkLabels("__name__", "cpu", "host", "b"))
	s.IndexTimeSeries(3, []byte("k3"), mkLabels("__name__", "mem", "host", "a"))

	cpu := s.PostingsForLabelValue("__name__", "cpu")
	assert.Equal(t, uint64(2), cpu.GetCardinality())
	assert.True(t, cpu.Contains(1))
	assert.True(t, cpu.Contains(2))

	hostA := s.PostingsForLabelValue("host", "a")
	assert.Equal(t, uint64(2), hostA.GetCardinality())
	assert.True(t, hostA.Contains(1))
	assert.True(t, hostA.Contains(3))
}

func TestPostingIDByLabelsUnique(t *testing.T) {
	s := New()
	s.IndexTimeSeries(1, []byte("k1"), mkLabels("__name__", "cpu", "host", "a"))
	s.IndexTimeSeries(2, []byte("k2"), mkLabels("__name__", "cpu", "host", "b"))

	id, ok := s.PostingIDByLabels(mkLabels("__name__", "cpu", "host", "a"))
	require.True(t, ok)
	assert.Equal(t, SeriesID(1), id)

	_, ok = s.PostingIDByLabels(mkLabels("__name__", "cpu"))
	assert.False(t, ok, "matches two series, should not resolve uniquely")
}

func TestRemoveTimeSeries(t *testing.T) {
	s := New()
	lbls := mkLabels("__name__", "cpu", "host", "a")
	s.IndexTimeSeries(1, []byte("k1"), lbls)
	require.True(t, s.HasID(1))

	removed := s.RemoveTimeSeries(1, lbls)
	assert.True(t, removed)
	assert.False(t, s.HasID(1))
	assert.Equal(t, uint64(0), s.PostingsForLabelValue("__name__", "cpu").GetCardinality())
}

func TestPostingsWithoutLabel(t *testing.T) {
	s := New()
	s.IndexTimeSeries(1, []byte("k1"), mkLabels("__name__", "cpu", "host", "a"))
	s.IndexTimeSeries(2, []byte("k2"), mkLabels("__name__", "mem"))

	without := s.PostingsWithoutLabel("host")
	assert.True(t, without.Contains(2))
	assert.False(t, without.Contains(1))
}

func TestPostingsForAllLabelValues(t *testing.T) {
	s := New()
	s.IndexTimeSeries(1, []byte("k1"), mkLabels("host", "a"))
	s.IndexTimeSeries(2, []byte("k2"), mkLabels("host", "b"))
	s.IndexTimeSeries(3, []byte("k3"), mkLabels("other", "c"))

	all := s.PostingsForAllLabelValues("host")
	assert.Equal(t, uint64(2), all.GetCardinality())
}

func TestLabelNamesAndValues(t *testing.T) {
	s := New()
	s.IndexTimeSeries(1, []byte("k1"), mkLabels("__name__", "cpu", "host", "a"))
	s.IndexTimeSeries(2, []byte("k2"), mkLabels("__name__", "cpu", "host", "b"))

	names := s.LabelNames()
	assert.Contains(t, names, "__name__")
	assert.Contains(t, names, "host")

	values := s.LabelValues("host")
	assert.ElementsMatch(t, []string{"a", "b"}, values)
}

func TestMarkStaleAndSweep(t *testing.T) {
	s := New()
	lbls := mkLabels("__name__", "cpu")
	s.IndexTimeSeries(1, []byte("k1"), lbls)
	s.IndexTimeSeries(2, []byte("k2"), lbls)

	s.MarkStale(1)
	assert.False(t, s.HasID(1))
	// bitmap still carries the stale id until swept
	assert.True(t, s.PostingsForLabelValue("__name__", "cpu").GetCardinality() == 1, "stale id should already be filtered from query results")

	cursor, done := s.SweepStale("", 100)
	assert.True(t, done)
	assert.Equal(t, "", cursor)
}

func TestSwap(t *testing.T) {
	a := New()
	a.IndexTimeSeries(1, []byte("k1"), mkLabels("__name__", "cpu"))
	b := New()
	b.IndexTimeSeries(2, []byte("k2"), mkLabels("__name__", "mem"))

	a.Swap(b)
	assert.True(t, a.HasID(2))
	assert.True(t, b.HasID(1))
}

func TestPostingsAlgebraConjunctionDisjunction(t *testing.T) {
	s := New()
	s.IndexTimeSeries(1, []byte("k1"), mkLabels("a", "1", "b", "1"))
	s.IndexTimeSeries(2, []byte("k2"), mkLabels("a", "1", "b", "2"))
	s.IndexTimeSeries(3, []byte("k3"), mkLabels("a", "2", "b", "1"))

	aEq1 := s.PostingsForLabelValue("a", "1")
	bEq1 := s.PostingsForLabelValue("b", "1")

	and := aEq1.Clone()
	and.And(bEq1)
	assert.Equal(t, uint64(1), and.GetCardinality())
	assert.True(t, and.Contains(1))

	or := aEq1.Clone()
	or.Or(bEq1)
	assert.Equal(t, uint64(3), or.GetCardinality())
}
