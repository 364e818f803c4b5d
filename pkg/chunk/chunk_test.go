package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/tserr"
)

func allEncodings() []Encoding {
	return []Encoding{Uncompressed, Gorilla, PCO}
}

func buildAscending(c Chunk, samples []sample.Sample) error {
	for _, s := range samples {
		if err := c.Add(s); err != nil {
			return err
		}
	}
	return nil
}

func TestRoundTrip(t *testing.T) {
	samples := []sample.Sample{
		{Timestamp: 10, Value: 1.5},
		{Timestamp: 20, Value: -3.25},
		{Timestamp: 35, Value: 100},
		{Timestamp: 100, Value: 0},
		{Timestamp: 250, Value: 42.125},
	}
	for _, enc := range allEncodings() {
		c, err := New(enc, 4096)
		require.NoError(t, err, enc.String())
		require.NoError(t, buildAscending(c, samples), enc.String())

		got := c.GetRange(samples[0].Timestamp, samples[len(samples)-1].Timestamp)
		require.Len(t, got, len(samples), enc.String())
		for i := range samples {
			assert.True(t, samples[i].Equal(got[i]), "%s: sample %d mismatch: want %+v got %+v", enc.String(), i, samples[i], got[i])
		}
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	samples := []sample.Sample{
		{Timestamp: 5, Value: 1},
		{Timestamp: 15, Value: 2},
		{Timestamp: 17, Value: 2.5},
		{Timestamp: 1000, Value: -8},
	}

	gc, err := New(Gorilla, 4096)
	require.NoError(t, err)
	require.NoError(t, buildAscending(gc, samples))
	buf, err := gc.MarshalBinary()
	require.NoError(t, err)
	decoded, err := UnmarshalGorilla(4096, buf)
	require.NoError(t, err)
	assert.Equal(t, len(samples), decoded.Count())
	got := decoded.GetRange(samples[0].Timestamp, samples[len(samples)-1].Timestamp)
	for i := range samples {
		assert.True(t, samples[i].Equal(got[i]))
	}

	pc, err := New(PCO, 4096)
	require.NoError(t, err)
	require.NoError(t, buildAscending(pc, samples))
	buf2, err := pc.MarshalBinary()
	require.NoError(t, err)
	decodedPCO, err := UnmarshalPCO(4096, buf2)
	require.NoError(t, err)
	gotPCO := decodedPCO.GetRange(samples[0].Timestamp, samples[len(samples)-1].Timestamp)
	for i := range samples {
		assert.True(t, samples[i].Equal(gotPCO[i]))
	}
}

func TestUpsertKeepLast(t *testing.T) {
	for _, enc := range allEncodings() {
		c, err := New(enc, 4096)
		require.NoError(t, err, enc.String())
		for _, ts := range []int64{10, 20, 30, 40, 50} {
			require.NoError(t, c.Add(sample.Sample{Timestamp: ts, Value: float64(ts)}))
		}
		res, err := c.Upsert(sample.Sample{Timestamp: 25, Value: 999}, sample.PolicyLast)
		require.NoError(t, err, enc.String())
		assert.Equal(t, ResultOK, res, enc.String())

		got := c.GetRange(0, 1000)
		wantTs := []int64{10, 20, 25, 30, 40, 50}
		require.Len(t, got, len(wantTs), enc.String())
		for i, ts := range wantTs {
			assert.Equal(t, ts, got[i].Timestamp, enc.String())
		}
	}
}

func TestUpsertBlockPolicy(t *testing.T) {
	for _, enc := range allEncodings() {
		c, err := New(enc, 4096)
		require.NoError(t, err)
		require.NoError(t, c.Add(sample.Sample{Timestamp: 10, Value: 1}))
		require.NoError(t, c.Add(sample.Sample{Timestamp: 20, Value: 2}))
		res, err := c.Upsert(sample.Sample{Timestamp: 10, Value: 999}, sample.PolicyBlock)
		require.NoError(t, err, enc.String())
		assert.Equal(t, ResultDuplicate, res, enc.String())
		got := c.GetRange(0, 100)
		assert.Equal(t, 1.0, got[0].Value, enc.String())
	}
}

func TestSplitEvenOdd(t *testing.T) {
	for _, enc := range allEncodings() {
		c, err := New(enc, 4096)
		require.NoError(t, err)
		for _, ts := range []int64{10, 20, 30, 40, 50} {
			require.NoError(t, c.Add(sample.Sample{Timestamp: ts, Value: float64(ts)}))
		}
		upper, err := c.Split()
		require.NoError(t, err, enc.String())
		assert.Equal(t, 2, c.Count(), enc.String())
		assert.Equal(t, 3, upper.Count(), enc.String())
	}
}

func TestAddDuplicateTimestampRejected(t *testing.T) {
	for _, enc := range allEncodings() {
		c, err := New(enc, 4096)
		require.NoError(t, err)
		require.NoError(t, c.Add(sample.Sample{Timestamp: 10, Value: 1}))
		err = c.Add(sample.Sample{Timestamp: 10, Value: 2})
		assert.Error(t, err, enc.String())
	}
}

func TestCapacityFull(t *testing.T) {
	c, err := New(Uncompressed, MinChunkSize)
	require.NoError(t, err)
	capacity := MinChunkSize / BytesPerSample
	for i := 0; i < capacity; i++ {
		require.NoError(t, c.Add(sample.Sample{Timestamp: int64(i + 1), Value: 1}))
	}
	err = c.Add(sample.Sample{Timestamp: int64(capacity + 1), Value: 1})
	assert.ErrorIs(t, err, tserr.ErrCapacityFull)
}
