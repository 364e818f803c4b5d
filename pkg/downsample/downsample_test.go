package downsample

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/sample"
)

func buildSeries(n int) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := range out {
		out[i] = sample.Sample{Timestamp: int64(i) * 1000, Value: float64(i)}
	}
	return out
}

func TestSimpleReturnsInputWhenAlreadySmall(t *testing.T) {
	data := buildSeries(10)
	out, err := Simple(data, 50)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestSimpleDecimates(t *testing.T) {
	data := buildSeries(1000)
	out, err := Simple(data, 100)
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), 100)
	require.NotEmpty(t, out)
}

func TestSimpleRejectsNonPositiveTarget(t *testing.T) {
	_, err := Simple(buildSeries(10), 0)
	require.Error(t, err)
}

func TestLTTBKeepsFirstAndLastPoint(t *testing.T) {
	data := buildSeries(500)
	out, err := LargestTriangleThreeBucket(data, 50)
	require.NoError(t, err)
	require.Len(t, out, 50)
	require.Equal(t, data[0], out[0])
	require.Equal(t, data[len(data)-1], out[len(out)-1])
}

func TestLTTBPreservesASpike(t *testing.T) {
	data := buildSeries(300)
	spikeIdx := 150
	data[spikeIdx].Value = 1e6

	out, err := LargestTriangleThreeBucket(data, 30)
	require.NoError(t, err)

	found := false
	for _, s := range out {
		if s.Value == 1e6 {
			found = true
			break
		}
	}
	require.True(t, found, "LTTB should keep the outlier spike rather than averaging it away")
}

func TestLTTBRejectsNonPositiveTarget(t *testing.T) {
	_, err := LargestTriangleThreeBucket(buildSeries(10), 0)
	require.Error(t, err)
}
