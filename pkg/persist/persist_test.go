package persist

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/chunk"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/series"
)

func buildSeries(t *testing.T) *series.Series {
	t.Helper()
	s, err := series.New(42, series.Options{
		Labels:          labels.FromMap(map[string]string{"__name__": "cpu", "host": "a"}),
		RetentionMs:     60000,
		DuplicatePolicy: sample.PolicyLast,
		ChunkEncoding:   chunk.Uncompressed,
		ChunkSizeBytes:  4096,
		Rounding:        sample.Rounding{Kind: sample.RoundDecimalDigits, Digits: 2},
		Tolerance:       &sample.Tolerance{MaxTimeDelta: 1, MaxValueDelta: 0.001},
	})
	require.NoError(t, err)
	for _, ts := range []int64{10, 20, 30} {
		_, err := s.Add(ts, float64(ts)*1.5, nil)
		require.NoError(t, err)
	}
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := buildSeries(t)

	var buf bytes.Buffer
	require.NoError(t, EncodeSeries(&buf, s))

	restored, err := DecodeSeries(&buf)
	require.NoError(t, err)

	assert.Equal(t, s.ID, restored.ID)
	assert.True(t, s.Labels.Equal(restored.Labels))
	assert.Equal(t, s.RetentionMs(), restored.RetentionMs())
	assert.Equal(t, s.DuplicatePolicy(), restored.DuplicatePolicy())
	assert.Equal(t, s.Encoding(), restored.Encoding())
	assert.Equal(t, s.TotalSamples(), restored.TotalSamples())

	want := s.GetRange(0, 1000)
	got := restored.GetRange(0, 1000)
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i], got[i])
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := DecodeSeries(bytes.NewReader([]byte("not-a-valid-record-at-all")))
	assert.Error(t, err)
}
