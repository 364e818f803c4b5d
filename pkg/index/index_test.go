package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/postings"
	"github.com/embeddedts/tstore/pkg/selector"
)

func lbls(pairs ...string) []postings.Label {
	out := make([]postings.Label, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, postings.Label{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func mustMatcher(t *testing.T, label string, op selector.Op, value string) selector.Matcher {
	t.Helper()
	m, err := selector.NewMatcher(label, op, value)
	require.NoError(t, err)
	return m
}

func TestPostingsForMatchersConjunction(t *testing.T) {
	ix := New()
	ix.IndexTimeSeries(1, []byte("k1"), lbls("__name__", "cpu", "host", "a"))
	ix.IndexTimeSeries(2, []byte("k2"), lbls("__name__", "cpu", "host", "b"))
	ix.IndexTimeSeries(3, []byte("k3"), lbls("__name__", "mem", "host", "a"))

	got := ix.PostingsForMatchers([]selector.Matcher{
		mustMatcher(t, "__name__", selector.Equal, "cpu"),
		mustMatcher(t, "host", selector.Equal, "a"),
	})
	assert.Equal(t, uint64(1), got.GetCardinality())
	assert.True(t, got.Contains(1))
}

func TestPostingsForMatchersNotEqual(t *testing.T) {
	ix := New()
	ix.IndexTimeSeries(1, []byte("k1"), lbls("host", "a"))
	ix.IndexTimeSeries(2, []byte("k2"), lbls("host", "b"))

	got := ix.PostingsForMatchers([]selector.Matcher{
		mustMatcher(t, "host", selector.NotEqual, "a"),
	})
	assert.Equal(t, uint64(1), got.GetCardinality())
	assert.True(t, got.Contains(2))
}

func TestPostingsForMatchersEqualEmptyIsAbsence(t *testing.T) {
	ix := New()
	ix.IndexTimeSeries(1, []byte("k1"), lbls("host", "a"))
	ix.IndexTimeSeries(2, []byte("k2"), lbls("other", "x"))

	got := ix.PostingsForMatchers([]selector.Matcher{
		mustMatcher(t, "host", selector.Equal, ""),
	})
	assert.True(t, got.Contains(2))
	assert.False(t, got.Contains(1))
}

func TestDisjunction(t *testing.T) {
	ix := New()
	ix.IndexTimeSeries(1, []byte("k1"), lbls("__name__", "cpu"))
	ix.IndexTimeSeries(2, []byte("k2"), lbls("__name__", "mem"))

	sels, err := selector.ParseList(`cpu{} OR mem{}`)
	require.NoError(t, err)
	got := ix.Disjunction(sels)
	assert.Equal(t, uint64(2), got.GetCardinality())
}

func TestCardinalityNoMatchers(t *testing.T) {
	ix := New()
	ix.IndexTimeSeries(1, []byte("k1"), lbls("__name__", "cpu"))
	ix.IndexTimeSeries(2, []byte("k2"), lbls("__name__", "mem"))
	assert.Equal(t, uint64(2), ix.Cardinality(nil))
}

func TestSwapDB(t *testing.T) {
	a := New()
	a.IndexTimeSeries(1, []byte("k1"), lbls("__name__", "cpu"))
	b := New()
	b.IndexTimeSeries(2, []byte("k2"), lbls("__name__", "mem"))

	SwapDB(a, b)
	_, aHas2 := a.KeyForID(2)
	_, bHas1 := b.KeyForID(1)
	assert.True(t, aHas2)
	assert.True(t, bHas1)
}

func TestReorderBySizeAdaptive(t *testing.T) {
	original := []postings.SeriesID{5, 3, 1, 4, 2}
	matched := []postings.SeriesID{1, 2, 3}
	got := ReorderBySizeAdaptive(original, matched)
	assert.Equal(t, []postings.SeriesID{3, 1, 2}, got)
}
