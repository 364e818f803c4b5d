// Package sample defines the basic (timestamp, value) pair shared by every
// chunk codec and the aggregation pipeline, plus duplicate-policy resolution
// and value-rounding strategies (spec §3, §4.2).
package sample

import (
	"math"

	"github.com/embeddedts/tstore/pkg/tserr"
)

// Sample is one (timestamp, value) pair. Timestamps are milliseconds since
// the epoch; values are IEEE-754 doubles.
type Sample struct {
	Timestamp int64
	Value     float64
}

// Equal reports whether two samples have the same timestamp and either the
// same value or both NaN (spec §3 "Equality").
func (s Sample) Equal(o Sample) bool {
	if s.Timestamp != o.Timestamp {
		return false
	}
	if math.IsNaN(s.Value) && math.IsNaN(o.Value) {
		return true
	}
	return s.Value == o.Value
}

// Less implements the total order from spec §3: primary timestamp
// ascending, ties broken so NaN sorts greater than any number.
func (s Sample) Less(o Sample) bool {
	if s.Timestamp != o.Timestamp {
		return s.Timestamp < o.Timestamp
	}
	sNaN, oNaN := math.IsNaN(s.Value), math.IsNaN(o.Value)
	if sNaN == oNaN {
		return s.Value < o.Value
	}
	return oNaN // s is not NaN, o is NaN => s < o
}

// DuplicatePolicy governs how a timestamp collision between an existing
// sample and an incoming one is resolved (spec §4.2).
type DuplicatePolicy int

const (
	// PolicyBlock rejects the incoming sample.
	PolicyBlock DuplicatePolicy = iota
	// PolicyFirst keeps the existing value.
	PolicyFirst
	// PolicyLast replaces the existing value with the incoming one.
	PolicyLast
	// PolicyMin keeps the smaller of the two values.
	PolicyMin
	// PolicyMax keeps the larger of the two values.
	PolicyMax
	// PolicySum keeps the sum of the two values.
	PolicySum
)

func (p DuplicatePolicy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyFirst:
		return "first"
	case PolicyLast:
		return "last"
	case PolicyMin:
		return "min"
	case PolicyMax:
		return "max"
	case PolicySum:
		return "sum"
	default:
		return "unknown"
	}
}

// ParseDuplicatePolicy parses the textual policy names accepted by the
// CREATE/ADD command surface (spec §6).
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "block", "":
		return PolicyBlock, nil
	case "first", "keepfirst":
		return PolicyFirst, nil
	case "last", "keeplast":
		return PolicyLast, nil
	case "min":
		return PolicyMin, nil
	case "max":
		return PolicyMax, nil
	case "sum":
		return PolicySum, nil
	default:
		return PolicyBlock, tserr.ErrInvalidArgument
	}
}

// Resolve applies the policy to a timestamp collision between an existing
// value e and an incoming value i, returning the value to keep and whether
// the incoming sample was accepted.
func (p DuplicatePolicy) Resolve(e, i float64) (value float64, ok bool) {
	switch p {
	case PolicyBlock:
		return e, false
	case PolicyFirst:
		return e, true
	case PolicyLast:
		return i, true
	case PolicyMin:
		return math.Min(e, i), true
	case PolicyMax:
		return math.Max(e, i), true
	case PolicySum:
		return e + i, true
	default:
		return e, false
	}
}

// Tolerance configures a series' duplicate-tolerance window: an incoming
// sample is treated as a duplicate of the last-appended sample (even absent
// an exact timestamp match) when both deltas fall within bounds.
type Tolerance struct {
	MaxTimeDelta  int64
	MaxValueDelta float64
}

// Within reports whether incoming is within tolerance of last.
func (t Tolerance) Within(last Sample, incoming Sample) bool {
	dt := incoming.Timestamp - last.Timestamp
	if dt < 0 {
		dt = -dt
	}
	dv := incoming.Value - last.Value
	if dv < 0 {
		dv = -dv
	}
	return dt <= t.MaxTimeDelta && dv <= t.MaxValueDelta
}

// RoundingKind selects how Rounding rounds a value before it is stored.
type RoundingKind int

const (
	RoundNone RoundingKind = iota
	RoundSignificantDigits
	RoundDecimalDigits
)

// Rounding applies a significant-digits or decimal-digits rounding strategy
// (spec §3 "rounding_strategy").
type Rounding struct {
	Kind   RoundingKind
	Digits int
}

// Apply rounds v according to r, returning v unchanged when Kind is
// RoundNone or v is not finite.
func (r Rounding) Apply(v float64) float64 {
	if r.Kind == RoundNone || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	switch r.Kind {
	case RoundDecimalDigits:
		return roundDecimal(v, r.Digits)
	case RoundSignificantDigits:
		return roundSignificant(v, r.Digits)
	default:
		return v
	}
}

func roundDecimal(v float64, digits int) float64 {
	mult := math.Pow(10, float64(digits))
	return math.Round(v*mult) / mult
}

func roundSignificant(v float64, digits int) float64 {
	if v == 0 || digits <= 0 {
		return v
	}
	sign := 1.0
	if v < 0 {
		sign = -1.0
		v = -v
	}
	magnitude := math.Ceil(math.Log10(v))
	factor := math.Pow(10, float64(digits)-magnitude)
	return sign * math.Round(v*factor) / factor
}
