// Package downsample reduces a dense sample series to a target number of
// visualization points. This is a distinct concern from pkg/aggr's bucketed
// reducers (spec §4.4): aggregation collapses fixed-size time windows into
// one summary value each, while downsampling here picks (LTTB) or strides
// through (simple decimation) a point count chosen to match a chart's pixel
// width, preserving the shape a human would see rather than any statistic.
// Adapted from pkg/resampler (itself adapted from
// https://github.com/haoel/downsampling), generalized from a fixed-frequency
// schema.Float series to an irregularly-spaced []sample.Sample series keyed
// by real timestamps rather than a synthetic sample index.
package downsample

import (
	"math"

	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/tserr"
)

// Simple decimates data to roughly targetPoints by taking every Nth sample.
// Cheaper than LTTB but can alias: a periodic signal sampled at a stride
// matching its period will look flat.
func Simple(data []sample.Sample, targetPoints int) ([]sample.Sample, error) {
	if targetPoints <= 0 {
		return nil, tserr.ErrInvalidArgument
	}
	if targetPoints >= len(data) {
		return data, nil
	}

	step := len(data) / targetPoints
	if step <= 1 {
		return data, nil
	}

	out := make([]sample.Sample, 0, targetPoints)
	for i := 0; i < len(data); i += step {
		out = append(out, data[i])
	}
	return out, nil
}

// LargestTriangleThreeBucket downsamples data to targetPoints using the LTTB
// algorithm: it always keeps the first and last sample, and for every
// intermediate bucket keeps the point that forms the largest triangle with
// the previously-kept point and the next bucket's average, which tends to
// preserve visual peaks and valleys that naive decimation would flatten.
func LargestTriangleThreeBucket(data []sample.Sample, targetPoints int) ([]sample.Sample, error) {
	if targetPoints <= 0 {
		return nil, tserr.ErrInvalidArgument
	}
	if targetPoints >= len(data) || targetPoints < 3 {
		return data, nil
	}

	out := make([]sample.Sample, 0, targetPoints)
	out = append(out, data[0])

	// Bucket size leaves room for the fixed first/last points.
	bucketSize := float64(len(data)-2) / float64(targetPoints-2)

	bucketLow := 1
	bucketMiddle := int(math.Floor(bucketSize)) + 1

	prevMaxAreaPoint := 0

	for i := 0; i < targetPoints-2; i++ {
		bucketHigh := int(math.Floor(float64(i+2)*bucketSize)) + 1
		if bucketHigh >= len(data)-1 {
			bucketHigh = len(data) - 2
		}

		avgX, avgY := averagePoint(data[bucketMiddle : bucketHigh+1])

		currBucketStart := bucketLow
		currBucketEnd := bucketMiddle

		pointX := float64(data[prevMaxAreaPoint].Timestamp)
		pointY := data[prevMaxAreaPoint].Value

		maxArea := -1.0
		maxAreaPoint := currBucketStart
		for ; currBucketStart < currBucketEnd; currBucketStart++ {
			area := triangleArea(pointX, pointY, avgX, avgY, float64(data[currBucketStart].Timestamp), data[currBucketStart].Value)
			if area > maxArea {
				maxArea = area
				maxAreaPoint = currBucketStart
			}
		}

		out = append(out, data[maxAreaPoint])
		prevMaxAreaPoint = maxAreaPoint

		bucketLow = bucketMiddle
		bucketMiddle = bucketHigh
	}

	out = append(out, data[len(data)-1])
	return out, nil
}

func triangleArea(paX, paY, pbX, pbY, pcX, pcY float64) float64 {
	area := ((paX-pcX)*(pbY-paY) - (paX-pbX)*(pcY-paY)) * 0.5
	return math.Abs(area)
}

func averagePoint(points []sample.Sample) (avgX, avgY float64) {
	if len(points) == 0 {
		return 0, 0
	}
	nan := false
	for _, p := range points {
		avgX += float64(p.Timestamp)
		avgY += p.Value
		if math.IsNaN(p.Value) {
			nan = true
		}
	}
	n := float64(len(points))
	avgX /= n
	avgY /= n
	if nan {
		return avgX, math.NaN()
	}
	return avgX, avgY
}
