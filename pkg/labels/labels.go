// Package labels implements the sorted label-set representation
// used to identify a series (spec §3, DESIGN NOTES §9 "dynamic label maps").
package labels

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MetricNameLabel is the reserved label name carrying the series' metric
// name, read by MetricName and by the selector NAME{...} shorthand.
const MetricNameLabel = "__name__"

// Label is a single (name, value) pair.
type Label struct {
	Name  string
	Value string
}

// Labels is a label set kept sorted by Name, deduplicated at construction.
// Equality and hashing use the canonical sorted byte form.
type Labels []Label

// FromMap builds a sorted, deduplicated Labels from an unordered map.
func FromMap(m map[string]string) Labels {
	out := make(Labels, 0, len(m))
	for k, v := range m {
		out = append(out, Label{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromPairs builds Labels from a flat name, value, name, value... slice, as
// accepted by the CREATE ... LABELS command argument (spec §6).
func FromPairs(pairs []string) Labels {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return FromMap(m)
}

// Get returns the value for name via binary search and whether it was
// present.
func (l Labels) Get(name string) (string, bool) {
	i := sort.Search(len(l), func(i int) bool { return l[i].Name >= name })
	if i < len(l) && l[i].Name == name {
		return l[i].Value, true
	}
	return "", false
}

// MetricName returns the reserved __name__ label's value, if present.
func (l Labels) MetricName() (string, bool) {
	return l.Get(MetricNameLabel)
}

// Equal compares two label sets for exact equality (same names and values,
// in canonical sorted order).
func (l Labels) Equal(o Labels) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if l[i] != o[i] {
			return false
		}
	}
	return true
}

// canonicalEncode writes the canonical sorted encoding used for hashing and
// equality: name\0value\x1ename\0value\x1e...
func (l Labels) canonicalEncode(sb *strings.Builder) {
	for i, lbl := range l {
		if i > 0 {
			sb.WriteByte(0x1e)
		}
		sb.WriteString(lbl.Name)
		sb.WriteByte(0)
		sb.WriteString(lbl.Value)
	}
}

// Hash returns a stable hash of the canonical sorted encoding, computed on
// each call. Duplicate-series detection on create uses Equal, not Hash.
func (l Labels) Hash() uint64 {
	var sb strings.Builder
	l.canonicalEncode(&sb)
	return xxhash.Sum64String(sb.String())
}

// String renders the Prometheus-like {name="value",...} form.
func (l Labels) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, lbl := range l {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(lbl.Name)
		sb.WriteString(`="`)
		sb.WriteString(lbl.Value)
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

// Map returns the labels as a plain map, for host-side convenience APIs.
func (l Labels) Map() map[string]string {
	m := make(map[string]string, len(l))
	for _, lbl := range l {
		m[lbl.Name] = lbl.Value
	}
	return m
}
