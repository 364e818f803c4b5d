package aggr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/embeddedts/tstore/pkg/sample"
)

func s(ts int64, v float64) sample.Sample { return sample.Sample{Timestamp: ts, Value: v} }

func testSamples() []sample.Sample {
	return []sample.Sample{
		s(10, 1.0), s(15, 2.0), s(20, 3.0), s(30, 4.0), s(40, 5.0), s(50, 6.0), s(60, 7.0),
	}
}

func baseOptions(k Kind) Options {
	return Options{Kind: k, BucketDuration: 10, TimestampOutput: Start}
}

// TestSumAggregation covers spec scenario S1.
func TestSumAggregation(t *testing.T) {
	got := Aggregate(baseOptions(Sum), 0, testSamples())
	want := []sample.Sample{s(10, 3), s(20, 3), s(30, 4), s(40, 5), s(50, 6), s(60, 7)}
	assert.Equal(t, want, got)
}

func TestAvgAggregation(t *testing.T) {
	got := Aggregate(baseOptions(Avg), 0, testSamples())
	assert.Len(t, got, 6)
	assert.Equal(t, int64(10), got[0].Timestamp)
	assert.Equal(t, 1.5, got[0].Value)
}

func TestMaxAggregation(t *testing.T) {
	got := Aggregate(baseOptions(Max), 0, testSamples())
	assert.Len(t, got, 6)
	assert.Equal(t, 2.0, got[0].Value)
}

func TestMinAggregation(t *testing.T) {
	got := Aggregate(baseOptions(Min), 0, testSamples())
	want := []sample.Sample{s(10, 1), s(20, 3), s(30, 4), s(40, 5), s(50, 6), s(60, 7)}
	assert.Equal(t, want, got)
}

func TestCountAggregation(t *testing.T) {
	got := Aggregate(baseOptions(Count), 0, testSamples())
	want := []sample.Sample{s(10, 2), s(20, 1), s(30, 1), s(40, 1), s(50, 1), s(60, 1)}
	assert.Equal(t, want, got)
}

func TestBucketTimestampEnd(t *testing.T) {
	opts := baseOptions(Sum)
	opts.TimestampOutput = End
	got := Aggregate(opts, 0, testSamples())
	assert.Equal(t, int64(20), got[0].Timestamp)
	assert.Equal(t, 3.0, got[0].Value)
}

func TestBucketTimestampMid(t *testing.T) {
	opts := baseOptions(Sum)
	opts.TimestampOutput = Mid
	got := Aggregate(opts, 0, testSamples())
	assert.Equal(t, int64(15), got[0].Timestamp)
	assert.Equal(t, 3.0, got[0].Value)
}

func TestEmptyInput(t *testing.T) {
	got := Aggregate(baseOptions(Sum), 0, nil)
	assert.Len(t, got, 0)
}

// TestEmptyBucketsReportEmpty mirrors the Rust test of the same name.
func TestEmptyBucketsReportEmpty(t *testing.T) {
	samples := []sample.Sample{s(100, 10), s(110, 20), s(150, 30), s(160, 40), s(200, 50)}
	opts := Options{Kind: Sum, BucketDuration: 25, TimestampOutput: Start, ReportEmpty: true}
	got := Aggregate(opts, 0, samples)

	require := []sample.Sample{s(100, 30), s(125, 0), s(150, 70), s(175, 0), s(200, 50)}
	assert.Equal(t, require, got)
}

func TestEmptyBucketsDontReportEmpty(t *testing.T) {
	samples := []sample.Sample{s(100, 10), s(110, 20), s(150, 30), s(160, 40)}
	opts := Options{Kind: Sum, BucketDuration: 25, TimestampOutput: Start, ReportEmpty: false}
	got := Aggregate(opts, 0, samples)
	want := []sample.Sample{s(100, 30), s(150, 70)}
	assert.Equal(t, want, got)
}

// TestEmptyBucketsLast covers spec scenario S2.
func TestEmptyBucketsLast(t *testing.T) {
	samples := []sample.Sample{s(10, 1), s(15, 99), s(40, 5), s(50, 6)}
	opts := baseOptions(Last)
	opts.ReportEmpty = true
	got := Aggregate(opts, 0, samples)
	want := []sample.Sample{s(10, 99), s(20, 99), s(30, 99), s(40, 5), s(50, 6)}
	assert.Equal(t, want, got)
}

func TestNoAlignment(t *testing.T) {
	samples := []sample.Sample{
		s(1000, 100), s(1010, 110), s(1020, 120),
		s(2000, 200), s(2010, 210), s(2020, 220),
	}
	opts := Options{Kind: Min, BucketDuration: 20, TimestampOutput: Start}
	got := Aggregate(opts, 0, samples)
	want := []sample.Sample{s(1000, 100), s(1020, 120), s(2000, 200), s(2020, 220)}
	assert.Equal(t, want, got)
}

func TestWithAlignment(t *testing.T) {
	samples := []sample.Sample{
		s(1000, 100), s(1010, 110), s(1020, 120),
		s(2000, 200), s(2010, 210), s(2020, 220),
		s(3000, 300), s(3010, 310), s(3020, 320),
	}
	opts := Options{Kind: Min, BucketDuration: 20, TimestampOutput: Start}
	got := Aggregate(opts, 10, samples)
	want := []sample.Sample{
		s(990, 100), s(1010, 110),
		s(1990, 200), s(2010, 210),
		s(2990, 300), s(3010, 310),
	}
	assert.Equal(t, want, got)
}

// TestRangeAggregation covers spec scenario S3.
func TestRangeAggregation(t *testing.T) {
	samples := []sample.Sample{
		s(10, 1), s(15, 5), s(20, 2), s(25, 8), s(30, 3), s(35, 7),
	}
	got := Aggregate(baseOptions(Range), 0, samples)
	want := []sample.Sample{s(10, 4), s(20, 6), s(30, 4)}
	assert.Equal(t, want, got)
}

// TestAggregationIdentities checks universal invariant 6: Sum = Count*Avg;
// VarP*n = VarS*(n-1) when n>=2; Range = Max - Min.
func TestAggregationIdentities(t *testing.T) {
	samples := []sample.Sample{s(0, 2), s(1, 4), s(2, 4), s(3, 4), s(4, 5), s(5, 5), s(6, 7), s(7, 9)}
	opts := Options{BucketDuration: 1000, TimestampOutput: Start}

	opts.Kind = Sum
	sum := Aggregate(opts, 0, samples)[0].Value
	opts.Kind = Count
	count := Aggregate(opts, 0, samples)[0].Value
	opts.Kind = Avg
	avg := Aggregate(opts, 0, samples)[0].Value
	assert.InDelta(t, sum, count*avg, 1e-9)

	opts.Kind = VarP
	varP := Aggregate(opts, 0, samples)[0].Value
	opts.Kind = VarS
	varS := Aggregate(opts, 0, samples)[0].Value
	assert.InDelta(t, varP*count, varS*(count-1), 1e-9)

	opts.Kind = Max
	mx := Aggregate(opts, 0, samples)[0].Value
	opts.Kind = Min
	mn := Aggregate(opts, 0, samples)[0].Value
	opts.Kind = Range
	rng := Aggregate(opts, 0, samples)[0].Value
	assert.InDelta(t, mx-mn, rng, 1e-9)
}

func TestVarianceSingleSampleIsZero(t *testing.T) {
	samples := []sample.Sample{s(0, 42)}
	opts := Options{Kind: VarS, BucketDuration: 1000, TimestampOutput: Start}
	got := Aggregate(opts, 0, samples)
	assert.Equal(t, 0.0, got[0].Value)

	opts.Kind = StdS
	got = Aggregate(opts, 0, samples)
	assert.Equal(t, 0.0, got[0].Value)
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	for _, k := range []Kind{First, Last, Min, Max, Sum, Count, Range, Avg, StdP, StdS, VarP, VarS} {
		r := newReducerState(k)
		for _, v := range []float64{1, 2, 3, 4} {
			r.update(v)
		}
		want := r.finalize()

		st := Serialize(k, r)
		restored := Restore(st)
		got := restored.finalize()
		if math.IsNaN(want) {
			assert.True(t, math.IsNaN(got), k.String())
		} else {
			assert.InDelta(t, want, got, 1e-9, k.String())
		}
	}
}
