// Package mrange implements the multi-series query coordinator from spec
// §4.7: given a set of already-matched, already-guarded series, it computes
// effective ranges, applies filters, aggregates per series in parallel, and
// optionally groups/reduces across series. Grounded on
// original_source/src/series/index/querier.rs's collect-then-parallel-filter
// strategy, generalized from "filter by date range" to the full per-series
// scan+aggregate pipeline; parallel fan-out uses golang.org/x/sync/errgroup
// in place of querier.rs's orx_parallel work-stealing iterator.
package mrange

import (
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/embeddedts/tstore/pkg/aggr"
	"github.com/embeddedts/tstore/pkg/labels"
	"github.com/embeddedts/tstore/pkg/sample"
	"github.com/embeddedts/tstore/pkg/series"
)

// maxParallelSeries bounds the number of series processed concurrently by a
// single coordinator call, mirroring the work-stealing pool's implicit cap
// in the original (spec §5 "per-series parallel map... dispatched to a
// work-stealing pool").
const maxParallelSeries = 32

// AggregationSpec configures the per-series downsampling pass (spec §4.4),
// applied identically to every matched series before any cross-series
// grouping.
type AggregationSpec struct {
	Kind             aggr.Kind
	BucketDurationMs int64
	Align            int64
	TimestampOutput  aggr.BucketTimestamp
	ReportEmpty      bool
}

// Grouping requests a cross-series GROUPBY/REDUCE pass (spec §4.7 step 5).
type Grouping struct {
	GroupLabel string
	Reducer    aggr.Kind
}

// Handle is one already-resolved, already-guarded series participating in
// the query. LatestSource, LatestReducer, LatestBucketMs and LatestAlignMs,
// when set, let the coordinator synthesize a
// "current bucket" sample from a compaction source for a destination series
// that is itself a compaction target (spec §4.7 step 3).
type Handle struct {
	Key    string
	Series *series.Series

	LatestSource  *series.Series
	LatestReducer aggr.Kind
	LatestBucketMs int64
	LatestAlignMs  int64
}

// Request carries the parameters of one MRANGE/MREVRANGE invocation (spec
// §6), already parsed and range-resolved by the host-facing layer.
type Request struct {
	Start, End      int64
	Count           int
	TimestampFilter []int64
	ValueFilter     *[2]float64
	Latest          bool
	Aggregation     *AggregationSpec
	Grouping        *Grouping
	Reverse         bool
}

// SeriesResult is one matched series' output samples, prior to any
// cross-series grouping.
type SeriesResult struct {
	Key     string
	Labels  labels.Labels
	Samples []sample.Sample
}

// GroupResult is one GROUPBY partition's merged output.
type GroupResult struct {
	Labels  labels.Labels
	Samples []sample.Sample
}

// Result holds either ungrouped per-series results or grouped results,
// never both, mirroring the exclusivity of spec §4.7 step 5.
type Result struct {
	Series []SeriesResult
	Groups []GroupResult
}

// Run executes the coordinator pipeline over handles per req (spec §4.7).
func Run(handles []Handle, req Request) (Result, error) {
	if len(handles) == 0 {
		return Result{}, nil
	}

	perSeries := make([]SeriesResult, len(handles))
	g := new(errgroup.Group)
	g.SetLimit(maxParallelSeries)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			perSeries[i] = processOne(h, req)
			return nil
		})
	}
	_ = g.Wait() // processOne never returns an error; errgroup used purely for fan-out

	if req.Grouping != nil {
		groups := groupAndReduce(perSeries, *req.Grouping)
		if req.Reverse {
			for i := range groups {
				reverseSamples(groups[i].Samples)
			}
		}
		sort.Slice(groups, func(i, j int) bool {
			vi, _ := groups[i].Labels.Get(req.Grouping.GroupLabel)
			vj, _ := groups[j].Labels.Get(req.Grouping.GroupLabel)
			return vi < vj
		})
		return Result{Groups: groups}, nil
	}

	if req.Reverse {
		for i := range perSeries {
			reverseSamples(perSeries[i].Samples)
		}
	}
	sort.Slice(perSeries, func(i, j int) bool { return perSeries[i].Key < perSeries[j].Key })
	return Result{Series: perSeries}, nil
}

// processOne runs steps 2-4 of spec §4.7 for a single series: effective
// range, filtered scan, optional latest-bucket synthesis, optional
// aggregation.
func processOne(h Handle, req Request) SeriesResult {
	start, end := h.Series.EffectiveRange(req.Start, req.End)
	samples := h.Series.GetRangeFiltered(start, end, req.TimestampFilter, req.ValueFilter)

	if req.Latest && h.LatestSource != nil {
		if synth, ok := synthesizeLatestBucket(h, end); ok {
			samples = appendIfNewer(samples, synth)
		}
	}

	if req.Aggregation != nil {
		samples = aggr.Aggregate(aggr.Options{
			Kind:            req.Aggregation.Kind,
			BucketDuration:  req.Aggregation.BucketDurationMs,
			TimestampOutput: req.Aggregation.TimestampOutput,
			ReportEmpty:     req.Aggregation.ReportEmpty,
		}, req.Aggregation.Align, samples)
	}

	if req.Count > 0 && len(samples) > req.Count {
		samples = samples[:req.Count]
	}

	return SeriesResult{Key: h.Key, Labels: h.Series.Labels, Samples: samples}
}

// synthesizeLatestBucket emits the "current bucket" value for a compaction
// destination series: the would-be aggregate of its source series' samples
// since the destination's last flushed bucket, up to end (spec §4.7 step 3,
// "optionally emit a synthesized current-bucket sample fetched from the
// source series' latest-sample").
func synthesizeLatestBucket(h Handle, end int64) (sample.Sample, bool) {
	last, ok := h.Series.LastSample()
	var windowStart int64
	if ok {
		windowStart = last.Timestamp
	}
	srcSamples := h.LatestSource.GetRange(windowStart, end)
	if len(srcSamples) == 0 {
		return sample.Sample{}, false
	}
	bucket := h.LatestBucketMs
	if bucket <= 0 {
		bucket = 1
	}
	agg := aggr.Aggregate(aggr.Options{
		Kind:            h.LatestReducer,
		BucketDuration:  bucket,
		TimestampOutput: aggr.Start,
		ReportEmpty:     false,
	}, h.LatestAlignMs, srcSamples)
	if len(agg) == 0 {
		return sample.Sample{}, false
	}
	return agg[len(agg)-1], true
}

func appendIfNewer(samples []sample.Sample, synth sample.Sample) []sample.Sample {
	if len(samples) > 0 && samples[len(samples)-1].Timestamp >= synth.Timestamp {
		return samples
	}
	return append(samples, synth)
}

func reverseSamples(s []sample.Sample) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// groupAndReduce implements spec §4.7 step 5: partition per-series results
// by their group_label value, then k-way merge across each partition's
// samples, applying the reducer at each distinct timestamp.
func groupAndReduce(results []SeriesResult, grouping Grouping) []GroupResult {
	type partition struct {
		value   string
		sources []string
		series  []SeriesResult
	}
	order := make([]string, 0)
	byValue := make(map[string]*partition)

	for _, r := range results {
		v, _ := r.Labels.Get(grouping.GroupLabel)
		p, ok := byValue[v]
		if !ok {
			p = &partition{value: v}
			byValue[v] = p
			order = append(order, v)
		}
		p.series = append(p.series, r)
		p.sources = append(p.sources, r.Key)
	}

	out := make([]GroupResult, 0, len(order))
	for _, v := range order {
		p := byValue[v]
		out = append(out, GroupResult{
			Labels: labels.FromMap(map[string]string{
				grouping.GroupLabel: p.value,
				"__reducer__":       grouping.Reducer.String(),
				"__source__":        strings.Join(p.sources, ","),
			}),
			Samples: kWayMergeReduce(p.series, grouping.Reducer),
		})
	}
	return out
}

// kWayMergeReduce merges each series' (already timestamp-ascending) sample
// stream, collecting all values observed at each distinct timestamp and
// reducing them into a single output sample per timestamp.
func kWayMergeReduce(results []SeriesResult, reducer aggr.Kind) []sample.Sample {
	idx := make([]int, len(results))
	var out []sample.Sample

	for {
		minTS := int64(0)
		haveMin := false
		for i, r := range results {
			if idx[i] >= len(r.Samples) {
				continue
			}
			ts := r.Samples[idx[i]].Timestamp
			if !haveMin || ts < minTS {
				minTS = ts
				haveMin = true
			}
		}
		if !haveMin {
			break
		}

		var values []float64
		for i, r := range results {
			if idx[i] < len(r.Samples) && r.Samples[idx[i]].Timestamp == minTS {
				values = append(values, r.Samples[idx[i]].Value)
				idx[i]++
			}
		}
		out = append(out, sample.Sample{Timestamp: minTS, Value: aggr.Reduce(reducer, values)})
	}
	return out
}
