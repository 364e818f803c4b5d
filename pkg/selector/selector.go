// Package selector parses and represents the Prometheus-like series
// selector grammar from spec §6: `NAME{filters}` or `{filters}`, where a
// filter is `label op value` with op in {=, !=, =~, !~}. Grounded on
// pkg/metricstore/level.go's util.Selector wildcard matcher, generalized
// to full matcher semantics.
package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/embeddedts/tstore/pkg/labels"
)

// Op identifies one of the four filter match operators.
type Op int

const (
	Equal Op = iota
	NotEqual
	RegexEqual
	RegexNotEqual
)

func (o Op) String() string {
	switch o {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case RegexEqual:
		return "=~"
	case RegexNotEqual:
		return "!~"
	default:
		return "?"
	}
}

// Matcher is a single `label op value` filter.
type Matcher struct {
	Label string
	Op    Op
	Value string

	re *regexp.Regexp // compiled by NewMatcher for RegexEqual/RegexNotEqual
}

// NewMatcher builds and validates a Matcher, compiling the regex for
// RegexEqual/RegexNotEqual operators.
func NewMatcher(label string, op Op, value string) (Matcher, error) {
	m := Matcher{Label: label, Op: op, Value: value}
	if op == RegexEqual || op == RegexNotEqual {
		re, err := regexp.Compile("^(?:" + value + ")$")
		if err != nil {
			return Matcher{}, fmt.Errorf("selector: invalid regex %q: %w", value, err)
		}
		m.re = re
	}
	return m, nil
}

// MatchesEmpty reports whether this matcher matches the empty string,
// which decides subtracting-vs-intersecting classification in the query
// planner (spec §4.5).
func (m Matcher) MatchesEmpty() bool {
	switch m.Op {
	case Equal:
		return m.Value == ""
	case NotEqual:
		return m.Value != ""
	case RegexEqual:
		return m.re.MatchString("")
	case RegexNotEqual:
		return !m.re.MatchString("")
	}
	return false
}

// Matches reports whether value satisfies this matcher.
func (m Matcher) Matches(value string) bool {
	switch m.Op {
	case Equal:
		return value == m.Value
	case NotEqual:
		return value != m.Value
	case RegexEqual:
		return m.re.MatchString(value)
	case RegexNotEqual:
		return !m.re.MatchString(value)
	}
	return false
}

// IsRegexAll reports whether a RegexEqual/RegexNotEqual's pattern is
// exactly ".*" (spec §4.5's regex-shortcut rule).
func (m Matcher) IsRegexAll() bool {
	return (m.Op == RegexEqual || m.Op == RegexNotEqual) && m.re.String() == "^(?:.*)$"
}

// IsRegexAny is the ".+" shortcut: equivalent to NotEqual("", "").
func (m Matcher) IsRegexAny() bool {
	return (m.Op == RegexEqual || m.Op == RegexNotEqual) && m.re.String() == "^(?:.+)$"
}

// Selector is a parsed `NAME{filters}` or `{filters}` expression. When the
// metric-name shorthand is present it is folded into an extra
// __name__ = NAME Matcher, matching how labels.MetricNameLabel is stored.
type Selector struct {
	Matchers []Matcher
}

// String renders the selector back to its Prometheus-like textual form,
// primarily for logging/debugging.
func (s Selector) String() string {
	var b strings.Builder
	var name string
	parts := make([]string, 0, len(s.Matchers))
	for _, m := range s.Matchers {
		if m.Label == labels.MetricNameLabel && m.Op == Equal {
			name = m.Value
			continue
		}
		parts = append(parts, fmt.Sprintf("%s%s%q", m.Label, m.Op, m.Value))
	}
	b.WriteString(name)
	b.WriteByte('{')
	b.WriteString(strings.Join(parts, ","))
	b.WriteByte('}')
	return b.String()
}

// Parse parses a single selector of the form NAME{filters} or {filters}.
// OR-disjunctions across whole selectors are represented as []Selector by
// the caller (ParseList), not within one Selector.
func Parse(input string) (Selector, error) {
	input = strings.TrimSpace(input)
	name, rest, err := splitNameAndFilters(input)
	if err != nil {
		return Selector{}, err
	}

	var matchers []Matcher
	if name != "" {
		m, err := NewMatcher(labels.MetricNameLabel, Equal, name)
		if err != nil {
			return Selector{}, err
		}
		matchers = append(matchers, m)
	}

	filters, err := splitFilters(rest)
	if err != nil {
		return Selector{}, err
	}
	for _, f := range filters {
		m, err := parseFilter(f)
		if err != nil {
			return Selector{}, err
		}
		matchers = append(matchers, m)
	}
	if len(matchers) == 0 {
		return Selector{}, fmt.Errorf("selector: empty selector %q", input)
	}
	return Selector{Matchers: matchers}, nil
}

// ParseList parses a selector expression possibly disjoined by explicit
// OR, returning one Selector per branch (spec §6 "A selector list may be
// disjoined with explicit OR").
func ParseList(input string) ([]Selector, error) {
	branches := splitTopLevelOr(input)
	out := make([]Selector, 0, len(branches))
	for _, b := range branches {
		sel, err := Parse(b)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

func splitTopLevelOr(input string) []string {
	var parts []string
	depth := 0
	last := 0
	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth == 0 && i+3 < len(runes) && runes[i] == ' ' && runes[i+1] == 'O' && runes[i+2] == 'R' && runes[i+3] == ' ' {
			parts = append(parts, strings.TrimSpace(string(runes[last:i])))
			last = i + 4
			i += 3
		}
	}
	parts = append(parts, strings.TrimSpace(string(runes[last:])))
	return parts
}

func splitNameAndFilters(input string) (name, rest string, err error) {
	brace := strings.IndexByte(input, '{')
	if brace < 0 {
		return strings.TrimSpace(input), "", nil
	}
	if !strings.HasSuffix(input, "}") {
		return "", "", fmt.Errorf("selector: unterminated filter list in %q", input)
	}
	return strings.TrimSpace(input[:brace]), input[brace+1 : len(input)-1], nil
}

// splitFilters splits a comma-separated filter list, respecting quoted
// strings so a comma inside a quoted value isn't treated as a separator.
func splitFilters(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == ',' && !inQuote:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("selector: unterminated quote in %q", s)
	}
	out = append(out, strings.TrimSpace(cur.String()))
	return out, nil
}

var opTokens = []struct {
	tok string
	op  Op
}{
	{"=~", RegexEqual},
	{"!~", RegexNotEqual},
	{"!=", NotEqual},
	{"=", Equal},
}

func parseFilter(f string) (Matcher, error) {
	for _, ot := range opTokens {
		if idx := strings.Index(f, ot.tok); idx >= 0 {
			label := strings.TrimSpace(f[:idx])
			value := strings.TrimSpace(f[idx+len(ot.tok):])
			value = unquote(value)
			if label == "" {
				return Matcher{}, fmt.Errorf("selector: empty label name in filter %q", f)
			}
			return NewMatcher(label, ot.op, value)
		}
	}
	return Matcher{}, fmt.Errorf("selector: unrecognized filter %q", f)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
