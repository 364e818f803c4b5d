package series

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/sample"
)

func newTestSeries(t *testing.T, chunkSize int) *Series {
	t.Helper()
	s, err := New(1, Options{
		DuplicatePolicy: sample.PolicyBlock,
		ChunkEncoding:   chunk.Uncompressed,
		ChunkSizeBytes:  chunkSize,
	})
	require.NoError(t, err)
	return s
}

func TestAddAscendingAppends(t *testing.T) {
	s := newTestSeries(t, 4096)
	for _, ts := range []int64{10, 20, 30} {
		res, err := s.Add(ts, float64(ts), nil)
		require.NoError(t, err)
		assert.Equal(t, chunk.ResultOK, res)
	}
	assert.Equal(t, 3, s.TotalSamples())
	last, ok := s.LastSample()
	require.True(t, ok)
	assert.Equal(t, int64(30), last.Timestamp)
}

func TestAddTriggersNewChunkOnCapacity(t *testing.T) {
	s := newTestSeries(t, chunk.MinChunkSize) // capacity = MinChunkSize/16 samples
	capacity := chunk.MinChunkSize / chunk.BytesPerSample
	for i := 0; i < capacity+1; i++ {
		res, err := s.Add(int64(i+1), float64(i), nil)
		require.NoError(t, err)
		assert.Equal(t, chunk.ResultOK, res)
	}
	assert.Equal(t, 2, s.ChunkCount())
	assert.Equal(t, capacity+1, s.TotalSamples())
}

func TestUpsertBeforeLastTimestamp(t *testing.T) {
	s := newTestSeries(t, 4096)
	for _, ts := range []int64{10, 20, 30} {
		_, err := s.Add(ts, float64(ts), nil)
		require.NoError(t, err)
	}
	policy := sample.PolicyLast
	res, err := s.Add(15, 999, &policy)
	require.NoError(t, err)
	assert.Equal(t, chunk.ResultOK, res)
	assert.Equal(t, 4, s.TotalSamples())

	got := s.GetRange(0, 100)
	require.Len(t, got, 4)
	assert.Equal(t, int64(15), got[1].Timestamp)
	assert.Equal(t, 999.0, got[1].Value)
}

func TestGetRangeFiltered(t *testing.T) {
	s := newTestSeries(t, 4096)
	for _, ts := range []int64{10, 20, 30, 40} {
		_, err := s.Add(ts, float64(ts), nil)
		require.NoError(t, err)
	}
	vf := [2]float64{15, 35}
	got := s.GetRangeFiltered(0, 100, nil, &vf)
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[0].Timestamp)
	assert.Equal(t, int64(30), got[1].Timestamp)
}

func TestSamplesByTimestamps(t *testing.T) {
	s := newTestSeries(t, 4096)
	for _, ts := range []int64{10, 20, 30, 40} {
		_, err := s.Add(ts, float64(ts), nil)
		require.NoError(t, err)
	}
	got := s.SamplesByTimestamps([]int64{10, 30, 999})
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Timestamp)
	assert.Equal(t, int64(30), got[1].Timestamp)
}

func TestRemoveRange(t *testing.T) {
	s := newTestSeries(t, 4096)
	for _, ts := range []int64{10, 20, 30, 40, 50} {
		_, err := s.Add(ts, float64(ts), nil)
		require.NoError(t, err)
	}
	removed := s.RemoveRange(20, 40)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 2, s.TotalSamples())
	got := s.GetRange(0, 100)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Timestamp)
	assert.Equal(t, int64(50), got[1].Timestamp)
}

func TestTrimRespectsRetention(t *testing.T) {
	s, err := New(1, Options{
		DuplicatePolicy: sample.PolicyBlock,
		ChunkEncoding:   chunk.Uncompressed,
		ChunkSizeBytes:  4096,
		RetentionMs:     20,
	})
	require.NoError(t, err)
	for _, ts := range []int64{10, 20, 30, 40} {
		_, err := s.Add(ts, float64(ts), nil)
		require.NoError(t, err)
	}
	// last_timestamp=40, retention=20 => min_allowed=20; samples with ts<=20 drop
	removed := s.Trim()
	assert.Equal(t, 2, removed)
	got := s.GetRange(0, 100)
	require.Len(t, got, 2)
	assert.Equal(t, int64(30), got[0].Timestamp)
}

func TestIncrBy(t *testing.T) {
	s := newTestSeries(t, 4096)
	res, err := s.IncrBy(10, 5)
	require.NoError(t, err)
	assert.Equal(t, chunk.ResultOK, res)

	res, err = s.IncrBy(20, 3)
	require.NoError(t, err)
	assert.Equal(t, chunk.ResultOK, res)
	last, _ := s.LastSample()
	assert.Equal(t, 8.0, last.Value)

	_, err = s.IncrBy(5, 1)
	assert.Error(t, err)
}

func TestMergeSamplesPreservesOrderAndFiltersRetention(t *testing.T) {
	s, err := New(1, Options{
		DuplicatePolicy: sample.PolicyLast,
		ChunkEncoding:   chunk.Uncompressed,
		ChunkSizeBytes:  4096,
		RetentionMs:     1000,
	})
	require.NoError(t, err)
	_, aerr := s.Add(2000, 1, nil)
	require.NoError(t, aerr)

	batch := []sample.Sample{
		{Timestamp: 500, Value: 1}, // older than now-retention (now=2500, floor=1500) -> ignored
		{Timestamp: 2500, Value: 2},
		{Timestamp: 1500, Value: 3}, // upsert into middle
	}
	results := s.MergeSamples(batch, sample.PolicyLast, 2500)
	require.Len(t, results, 3)
	assert.Equal(t, chunk.ResultIgnored, results[0])
	assert.Equal(t, chunk.ResultOK, results[1])
	assert.Equal(t, chunk.ResultOK, results[2])
}
