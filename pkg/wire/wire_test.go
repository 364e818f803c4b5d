package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/aggr"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/sample"
)

func TestSampleDataRoundTripNone(t *testing.T) {
	samples := []sample.Sample{{Timestamp: 10, Value: 1.5}, {Timestamp: 20, Value: -2.25}}
	sd, err := EncodeSamples(samples, CompressionNone)
	require.NoError(t, err)
	got, err := DecodeSamples(sd)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}

func TestSampleDataRoundTripGorilla(t *testing.T) {
	samples := []sample.Sample{{Timestamp: 10, Value: 1.5}, {Timestamp: 20, Value: -2.25}, {Timestamp: 30, Value: 3}}
	sd, err := EncodeSamples(samples, CompressionGorilla)
	require.NoError(t, err)
	got, err := DecodeSamples(sd)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}

func TestSampleDataRoundTripPco(t *testing.T) {
	samples := []sample.Sample{{Timestamp: 10, Value: 1.5}, {Timestamp: 20, Value: -2.25}, {Timestamp: 30, Value: 3}}
	sd, err := EncodeSamples(samples, CompressionPco)
	require.NoError(t, err)
	got, err := DecodeSamples(sd)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}

func TestRequestRoundTrip(t *testing.T) {
	vf := [2]float64{1, 9}
	req := &MultiRangeRequest{
		Start: 0, End: 1000,
		Filters:         []string{`cpu{host="a"}`},
		WithLabels:      true,
		SelectedLabels:  nil,
		TimestampFilter: []int64{1, 2, 3},
		ValueFilter:     &vf,
		Count:           50,
		Aggregation: &AggregationSpec{
			Kind: aggr.Sum, BucketDurationMs: 10, Align: 0, TimestampOutput: aggr.Start, ReportEmpty: true,
		},
		Grouping: &GroupingSpec{GroupLabel: "dc", Reducer: aggr.Avg},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, req))

	got, err := DecodeRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req.Start, got.Start)
	assert.Equal(t, req.Filters, got.Filters)
	assert.Equal(t, req.WithLabels, got.WithLabels)
	assert.Equal(t, req.TimestampFilter, got.TimestampFilter)
	require.NotNil(t, got.ValueFilter)
	assert.Equal(t, *req.ValueFilter, *got.ValueFilter)
	assert.Equal(t, req.Count, got.Count)
	require.NotNil(t, got.Aggregation)
	assert.Equal(t, *req.Aggregation, *got.Aggregation)
	require.NotNil(t, got.Grouping)
	assert.Equal(t, *req.Grouping, *got.Grouping)
}

func TestResponseRoundTrip(t *testing.T) {
	sd, err := EncodeSamples([]sample.Sample{{Timestamp: 1, Value: 2}}, CompressionNone)
	require.NoError(t, err)
	resp := &MultiRangeResponse{
		Series: []SeriesPayload{
			{Key: "k1", Labels: labels.FromMap(map[string]string{"host": "a"}), Samples: sd},
			{Key: "k2", GroupLabelValue: "east", Samples: sd},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, resp))

	got, err := DecodeResponse(&buf)
	require.NoError(t, err)
	require.Len(t, got.Series, 2)
	assert.Equal(t, "k1", got.Series[0].Key)
	assert.Equal(t, "east", got.Series[1].GroupLabelValue)
	samples, err := DecodeSamples(got.Series[0].Samples)
	require.NoError(t, err)
	assert.Equal(t, []sample.Sample{{Timestamp: 1, Value: 2}}, samples)
}

func TestDecodeResponseRejectsBadMagic(t *testing.T) {
	_, err := DecodeResponse(bytes.NewReader([]byte("garbage-not-a-frame")))
	assert.Error(t, err)
}
