// Package aggr implements the single-pass bucketed aggregation pipeline
// from spec §4.4: a pull-based iterator adapter that turns an ascending
// sample stream into downsampled buckets, plus the twelve reducers it can
// run per bucket. Grounded on original_source/src/aggregators/iterator.rs
// and its sibling reducer definitions.
package aggr

import "math"

// Kind identifies one of the twelve supported reducers.
type Kind int

const (
	First Kind = iota
	Last
	Min
	Max
	Sum
	Count
	Range
	Avg
	StdP
	StdS
	VarP
	VarS
)

func (k Kind) String() string {
	switch k {
	case First:
		return "first"
	case Last:
		return "last"
	case Min:
		return "min"
	case Max:
		return "max"
	case Sum:
		return "sum"
	case Count:
		return "count"
	case Range:
		return "range"
	case Avg:
		return "avg"
	case StdP:
		return "std.p"
	case StdS:
		return "std.s"
	case VarP:
		return "var.p"
	case VarS:
		return "var.s"
	default:
		return "unknown"
	}
}

// ParseKind maps a reducer name (as used on the wire/CLI) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "first":
		return First, true
	case "last":
		return Last, true
	case "min":
		return Min, true
	case "max":
		return Max, true
	case "sum":
		return Sum, true
	case "count":
		return Count, true
	case "range":
		return Range, true
	case "avg":
		return Avg, true
	case "std.p":
		return StdP, true
	case "std.s":
		return StdS, true
	case "var.p":
		return VarP, true
	case "var.s":
		return VarS, true
	default:
		return 0, false
	}
}

// EmptyValue is the value a reducer reports for a bucket that received no
// samples and is not using the Last-reducer carry-forward rule (spec §4.4:
// "empty input produces NaN except Sum/Count which produce 0").
func (k Kind) EmptyValue() float64 {
	switch k {
	case Sum, Count:
		return 0
	default:
		return math.NaN()
	}
}

// reducer accumulates the running state needed to finalize one bucket's
// value. Every reducer ignores NaN inputs entirely (spec §4.4: "all operate
// over non-NaN inputs"); NaN filtering happens in the iterator before
// update is called, so update only ever sees finite values.
type reducer interface {
	update(v float64)
	finalize() float64
	reset()
}

func newReducerState(k Kind) reducer {
	switch k {
	case First:
		return &firstLastReducer{first: true}
	case Last:
		return &firstLastReducer{first: false}
	case Min:
		return &minMaxReducer{kind: Min, value: math.Inf(1)}
	case Max:
		return &minMaxReducer{kind: Max, value: math.Inf(-1)}
	case Sum:
		return &sumCountReducer{wantSum: true}
	case Count:
		return &sumCountReducer{wantSum: false}
	case Range:
		return &rangeReducer{min: math.Inf(1), max: math.Inf(-1)}
	case Avg:
		return &sumCountReducer{wantSum: true, avg: true}
	case StdP, StdS, VarP, VarS:
		return &varianceReducer{kind: k}
	default:
		return &sumCountReducer{wantSum: true}
	}
}

// firstLastReducer backs both First and Last: First keeps the earliest
// update, Last keeps overwriting with every update.
type firstLastReducer struct {
	first bool
	value float64
	seen  bool
}

func (r *firstLastReducer) update(v float64) {
	if r.first && r.seen {
		return
	}
	r.value = v
	r.seen = true
}
func (r *firstLastReducer) finalize() float64 { return r.value }
func (r *firstLastReducer) reset()            { r.seen = false; r.value = 0 }

type minMaxReducer struct {
	kind  Kind
	value float64
}

func (r *minMaxReducer) update(v float64) {
	if r.kind == Min {
		if v < r.value {
			r.value = v
		}
	} else if v > r.value {
		r.value = v
	}
}
func (r *minMaxReducer) finalize() float64 { return r.value }
func (r *minMaxReducer) reset() {
	if r.kind == Min {
		r.value = math.Inf(1)
	} else {
		r.value = math.Inf(-1)
	}
}

type rangeReducer struct {
	min, max float64
}

func (r *rangeReducer) update(v float64) {
	if v < r.min {
		r.min = v
	}
	if v > r.max {
		r.max = v
	}
}
func (r *rangeReducer) finalize() float64 { return r.max - r.min }
func (r *rangeReducer) reset() {
	r.min = math.Inf(1)
	r.max = math.Inf(-1)
}

// sumCountReducer backs Sum, Count and Avg: all three just need a running
// sum and count, differing only in what finalize() returns.
type sumCountReducer struct {
	wantSum bool
	avg     bool
	sum     float64
	count   int64
}

func (r *sumCountReducer) update(v float64) {
	r.sum += v
	r.count++
}

func (r *sumCountReducer) finalize() float64 {
	switch {
	case r.avg:
		if r.count == 0 {
			return math.NaN()
		}
		return r.sum / float64(r.count)
	case r.wantSum:
		return r.sum
	default:
		return float64(r.count)
	}
}

func (r *sumCountReducer) reset() {
	r.sum = 0
	r.count = 0
}

// varianceReducer backs VarP, VarS, StdP and StdS, all derived from the same
// running sum/sum-of-squares accumulation (spec §4.4: "var = Σx² − 2·Σx·mean
// + mean²·n").
type varianceReducer struct {
	kind      Kind
	sum, sum2 float64
	count     int64
}

func (r *varianceReducer) update(v float64) {
	r.sum += v
	r.sum2 += v * v
	r.count++
}

func (r *varianceReducer) variance(sample bool) float64 {
	n := float64(r.count)
	if r.count == 0 {
		return math.NaN()
	}
	mean := r.sum / n
	variance := r.sum2 - 2*r.sum*mean + mean*mean*n
	if variance < 0 {
		variance = 0 // guard against floating-point rounding producing a tiny negative
	}
	if sample {
		if r.count == 1 {
			return 0
		}
		return variance / (n - 1)
	}
	return variance / n
}

func (r *varianceReducer) finalize() float64 {
	switch r.kind {
	case VarP:
		return r.variance(false)
	case VarS:
		return r.variance(true)
	case StdP:
		return math.Sqrt(r.variance(false))
	case StdS:
		return math.Sqrt(r.variance(true))
	default:
		return math.NaN()
	}
}

func (r *varianceReducer) reset() {
	r.sum, r.sum2 = 0, 0
	r.count = 0
}

// Reduce folds values down to a single number using kind's reducer, ignoring
// NaN inputs. Used by the multi-series GROUPBY/REDUCE stage (spec §4.7) to
// combine same-timestamp samples from distinct series.
func Reduce(kind Kind, values []float64) float64 {
	r := newReducerState(kind)
	any := false
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		r.update(v)
		any = true
	}
	if !any {
		return kind.EmptyValue()
	}
	return r.finalize()
}

// State is a serializable snapshot of a reducer's running accumulation,
// used by compaction rules to persist partial-bucket state across restarts
// (spec §4.4: "Each reducer exposes serialize/restore for snapshotting
// compaction state").
type State struct {
	Kind   Kind
	Sum    float64
	Sum2   float64
	Count  int64
	Value  float64
	Seen   bool
	Min    float64
	Max    float64
	IsMin  bool // distinguishes Min from Max when Kind doesn't already (minMaxReducer)
}

// Serialize captures a reducer's current running state.
func Serialize(k Kind, r reducer) State {
	s := State{Kind: k}
	switch v := r.(type) {
	case *firstLastReducer:
		s.Value, s.Seen = v.value, v.seen
	case *minMaxReducer:
		s.Value = v.value
		s.IsMin = v.kind == Min
	case *rangeReducer:
		s.Min, s.Max = v.min, v.max
	case *sumCountReducer:
		s.Sum, s.Count = v.sum, v.count
	case *varianceReducer:
		s.Sum, s.Sum2, s.Count = v.sum, v.sum2, v.count
	}
	return s
}

// Restore rebuilds a reducer from a previously serialized State.
func Restore(s State) reducer {
	r := newReducerState(s.Kind)
	switch v := r.(type) {
	case *firstLastReducer:
		v.value, v.seen = s.Value, s.Seen
	case *minMaxReducer:
		v.value = s.Value
	case *rangeReducer:
		v.min, v.max = s.Min, s.Max
	case *sumCountReducer:
		v.sum, v.count = s.Sum, s.Count
	case *varianceReducer:
		v.sum, v.sum2, v.count = s.Sum, s.Sum2, s.Count
	}
	return r
}
