package join

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedts/tstore/pkg/sample"
)

func s(ts int64, v float64) sample.Sample { return sample.Sample{Timestamp: ts, Value: v} }

func TestJoinPrevious(t *testing.T) {
	left := []sample.Sample{s(10, 1), s(25, 2)}
	right := []sample.Sample{s(5, 100), s(20, 200), s(30, 300)}

	got := Join(left, right, Options{Kind: Previous})
	require.Len(t, got, 2)
	assert.True(t, got[0].Matched)
	assert.Equal(t, int64(5), got[0].Right.Timestamp)
	assert.True(t, got[1].Matched)
	assert.Equal(t, int64(20), got[1].Right.Timestamp)
}

func TestJoinNext(t *testing.T) {
	left := []sample.Sample{s(10, 1), s(25, 2)}
	right := []sample.Sample{s(5, 100), s(20, 200), s(30, 300)}

	got := Join(left, right, Options{Kind: Next})
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[0].Right.Timestamp)
	assert.Equal(t, int64(30), got[1].Right.Timestamp)
}

func TestJoinNearestTieBreaksPrevious(t *testing.T) {
	left := []sample.Sample{s(10, 1)}
	right := []sample.Sample{s(5, 100), s(15, 200)}

	got := Join(left, right, Options{Kind: Nearest})
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Right.Timestamp)
}

func TestJoinNearestPicksCloser(t *testing.T) {
	left := []sample.Sample{s(10, 1)}
	right := []sample.Sample{s(1, 100), s(12, 200)}

	got := Join(left, right, Options{Kind: Nearest})
	require.Len(t, got, 1)
	assert.Equal(t, int64(12), got[0].Right.Timestamp)
}

func TestJoinExactMatchExcludedWhenDisallowed(t *testing.T) {
	left := []sample.Sample{s(10, 1)}
	right := []sample.Sample{s(10, 999), s(20, 200)}

	got := Join(left, right, Options{Kind: Previous, AllowExactMatch: false})
	require.Len(t, got, 1)
	assert.False(t, got[0].Matched)

	got = Join(left, right, Options{Kind: Previous, AllowExactMatch: true})
	require.Len(t, got, 1)
	assert.True(t, got[0].Matched)
	assert.Equal(t, int64(10), got[0].Right.Timestamp)
}

func TestJoinToleranceRejectsFarMatch(t *testing.T) {
	left := []sample.Sample{s(10, 1)}
	right := []sample.Sample{s(100, 999)}

	got := Join(left, right, Options{Kind: Nearest, Tolerance: 5})
	require.Len(t, got, 1)
	assert.False(t, got[0].Matched)
}

func TestJoinNoCandidateUnmatched(t *testing.T) {
	left := []sample.Sample{s(10, 1)}
	right := []sample.Sample{s(20, 2)}

	got := Join(left, right, Options{Kind: Previous})
	require.Len(t, got, 1)
	assert.False(t, got[0].Matched)
}
