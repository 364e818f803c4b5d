// Package join implements the JOIN command's ASOF pairing (spec §6 "JOIN
// left right from to [kind]", resolved per spec §9 Open Question 1): a
// thin wrapper over two ascending per-series sample slices with a
// tolerance-bounded nearest-match function. No teacher or pack analogue
// exists for this operator; the pairing logic is plain two-pointer
// arithmetic, not library-shaped.
package join

import (
	"sort"

	"github.com/embeddedts/tstore/pkg/sample"
)

// Kind selects which right-hand sample is paired with each left-hand
// sample.
type Kind int

const (
	// Previous pairs each left sample with the most recent right sample at
	// or before it.
	Previous Kind = iota
	// Next pairs each left sample with the earliest right sample at or
	// after it.
	Next
	// Nearest pairs each left sample with whichever of Previous/Next is
	// closer in time; ties favor Previous.
	Nearest
)

// Options configures one Join call.
type Options struct {
	Kind Kind
	// Tolerance bounds |left.Timestamp - right.Timestamp|; 0 means
	// unlimited.
	Tolerance int64
	// AllowExactMatch, when false, excludes a right sample whose timestamp
	// exactly equals the left sample's timestamp from Previous, Next and
	// Nearest candidacy (Nearest applies it to both directions).
	AllowExactMatch bool
}

// Pair is one joined row: the left sample and, if a match was found within
// tolerance, the paired right sample.
type Pair struct {
	Left    sample.Sample
	Right   sample.Sample
	Matched bool
}

// Join pairs every sample in left (ascending by timestamp) with a sample
// from right (also ascending) per opts. left and right are typically two
// series' GetRange results over the same [from, to] window.
func Join(left, right []sample.Sample, opts Options) []Pair {
	out := make([]Pair, 0, len(left))
	for _, l := range left {
		r, ok := match(right, l.Timestamp, opts)
		if ok && opts.Tolerance > 0 {
			if diff := absDiff(l.Timestamp, r.Timestamp); diff > opts.Tolerance {
				ok = false
			}
		}
		if !ok {
			out = append(out, Pair{Left: l})
			continue
		}
		out = append(out, Pair{Left: l, Right: r, Matched: true})
	}
	return out
}

func absDiff(a, b int64) int64 {
	if a < b {
		return b - a
	}
	return a - b
}

func match(right []sample.Sample, ts int64, opts Options) (sample.Sample, bool) {
	switch opts.Kind {
	case Previous:
		return findPrevious(right, ts, opts.AllowExactMatch)
	case Next:
		return findNext(right, ts, opts.AllowExactMatch)
	case Nearest:
		p, pok := findPrevious(right, ts, opts.AllowExactMatch)
		n, nok := findNext(right, ts, opts.AllowExactMatch)
		switch {
		case pok && nok:
			if (n.Timestamp - ts) < (ts - p.Timestamp) {
				return n, true
			}
			return p, true // tie-break favors the earlier-direction sample
		case pok:
			return p, true
		case nok:
			return n, true
		default:
			return sample.Sample{}, false
		}
	default:
		return sample.Sample{}, false
	}
}

// findPrevious returns the rightmost right sample with Timestamp <= ts (or
// strictly < ts when allowExact is false).
func findPrevious(right []sample.Sample, ts int64, allowExact bool) (sample.Sample, bool) {
	idx := sort.Search(len(right), func(i int) bool {
		if allowExact {
			return right[i].Timestamp > ts
		}
		return right[i].Timestamp >= ts
	})
	if idx == 0 {
		return sample.Sample{}, false
	}
	return right[idx-1], true
}

// findNext returns the leftmost right sample with Timestamp >= ts (or
// strictly > ts when allowExact is false).
func findNext(right []sample.Sample, ts int64, allowExact bool) (sample.Sample, bool) {
	idx := sort.Search(len(right), func(i int) bool {
		if allowExact {
			return right[i].Timestamp >= ts
		}
		return right[i].Timestamp > ts
	})
	if idx >= len(right) {
		return sample.Sample{}, false
	}
	return right[idx], true
}
