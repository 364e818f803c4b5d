package mrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/aggr"
	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/series"
)

func newSeries(t *testing.T, lbls labels.Labels, points [][2]int64) *series.Series {
	t.Helper()
	s, err := series.New(1, series.Options{
		Labels:          lbls,
		DuplicatePolicy: sample.PolicyBlock,
		ChunkEncoding:   chunk.Uncompressed,
		ChunkSizeBytes:  4096,
	})
	require.NoError(t, err)
	for _, p := range points {
		_, err := s.Add(p[0], float64(p[1]), nil)
		require.NoError(t, err)
	}
	return s
}

func TestRunUngroupedSortsByKey(t *testing.T) {
	a := newSeries(t, labels.FromMap(map[string]string{"host": "b"}), [][2]int64{{10, 1}, {20, 2}})
	b := newSeries(t, labels.FromMap(map[string]string{"host": "a"}), [][2]int64{{10, 3}, {20, 4}})

	res, err := Run([]Handle{
		{Key: "key-b", Series: a},
		{Key: "key-a", Series: b},
	}, Request{Start: 0, End: 100})
	require.NoError(t, err)
	require.Len(t, res.Series, 2)
	assert.Equal(t, "key-a", res.Series[0].Key)
	assert.Equal(t, "key-b", res.Series[1].Key)
}

func TestRunReverse(t *testing.T) {
	a := newSeries(t, nil, [][2]int64{{10, 1}, {20, 2}, {30, 3}})
	res, err := Run([]Handle{{Key: "k", Series: a}}, Request{Start: 0, End: 100, Reverse: true})
	require.NoError(t, err)
	require.Len(t, res.Series, 1)
	got := res.Series[0].Samples
	require.Len(t, got, 3)
	assert.Equal(t, int64(30), got[0].Timestamp)
	assert.Equal(t, int64(10), got[2].Timestamp)
}

func TestRunWithAggregation(t *testing.T) {
	a := newSeries(t, nil, [][2]int64{{0, 1}, {5, 2}, {10, 3}, {15, 4}})
	res, err := Run([]Handle{{Key: "k", Series: a}}, Request{
		Start: 0, End: 100,
		Aggregation: &AggregationSpec{Kind: aggr.Sum, BucketDurationMs: 10, TimestampOutput: aggr.Start},
	})
	require.NoError(t, err)
	got := res.Series[0].Samples
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Value) // 1+2
	assert.Equal(t, 7.0, got[1].Value) // 3+4
}

func TestRunGroupingReducesAcrossSeries(t *testing.T) {
	a := newSeries(t, labels.FromMap(map[string]string{"dc": "east"}), [][2]int64{{10, 1}, {20, 2}})
	b := newSeries(t, labels.FromMap(map[string]string{"dc": "east"}), [][2]int64{{10, 3}, {20, 4}})
	c := newSeries(t, labels.FromMap(map[string]string{"dc": "west"}), [][2]int64{{10, 10}})

	res, err := Run([]Handle{
		{Key: "a", Series: a},
		{Key: "b", Series: b},
		{Key: "c", Series: c},
	}, Request{
		Start: 0, End: 100,
		Grouping: &Grouping{GroupLabel: "dc", Reducer: aggr.Sum},
	})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)

	// sorted by group-label value: east before west
	east := res.Groups[0]
	v, _ := east.Labels.Get("dc")
	assert.Equal(t, "east", v)
	require.Len(t, east.Samples, 2)
	assert.Equal(t, 4.0, east.Samples[0].Value)  // 1+3
	assert.Equal(t, 6.0, east.Samples[1].Value)  // 2+4
	src, _ := east.Labels.Get("__source__")
	assert.Contains(t, src, "a")
	assert.Contains(t, src, "b")

	west := res.Groups[1]
	v, _ = west.Labels.Get("dc")
	assert.Equal(t, "west", v)
	require.Len(t, west.Samples, 1)
	assert.Equal(t, 10.0, west.Samples[0].Value)
}

func TestRunEmptyHandles(t *testing.T) {
	res, err := Run(nil, Request{})
	require.NoError(t, err)
	assert.Nil(t, res.Series)
	assert.Nil(t, res.Groups)
}
