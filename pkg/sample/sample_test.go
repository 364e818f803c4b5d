package sample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleEqual(t *testing.T) {
	assert.True(t, Sample{10, 1}.Equal(Sample{10, 1}))
	assert.True(t, Sample{10, math.NaN()}.Equal(Sample{10, math.NaN()}))
	assert.False(t, Sample{10, 1}.Equal(Sample{11, 1}))
	assert.False(t, Sample{10, 1}.Equal(Sample{10, 2}))
}

func TestSampleLess(t *testing.T) {
	assert.True(t, Sample{10, 1}.Less(Sample{11, 0}))
	assert.True(t, Sample{10, 1}.Less(Sample{10, math.NaN()}))
	assert.False(t, Sample{10, math.NaN()}.Less(Sample{10, 1}))
}

func TestDuplicatePolicyResolve(t *testing.T) {
	cases := []struct {
		p        DuplicatePolicy
		e, i     float64
		wantVal  float64
		wantBool bool
	}{
		{PolicyBlock, 1, 2, 1, false},
		{PolicyFirst, 1, 2, 1, true},
		{PolicyLast, 1, 2, 2, true},
		{PolicyMin, 1, 2, 1, true},
		{PolicyMax, 1, 2, 2, true},
		{PolicySum, 1, 2, 3, true},
	}
	for _, c := range cases {
		v, ok := c.p.Resolve(c.e, c.i)
		assert.Equal(t, c.wantBool, ok, c.p.String())
		assert.Equal(t, c.wantVal, v, c.p.String())
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := ParseDuplicatePolicy("sum")
	require.NoError(t, err)
	assert.Equal(t, PolicySum, p)

	_, err = ParseDuplicatePolicy("bogus")
	assert.Error(t, err)
}

func TestToleranceWithin(t *testing.T) {
	tol := Tolerance{MaxTimeDelta: 5, MaxValueDelta: 0.5}
	last := Sample{100, 10.0}
	assert.True(t, tol.Within(last, Sample{103, 10.2}))
	assert.False(t, tol.Within(last, Sample{110, 10.2}))
	assert.False(t, tol.Within(last, Sample{103, 11.0}))
}

func TestRoundingDecimalDigits(t *testing.T) {
	r := Rounding{Kind: RoundDecimalDigits, Digits: 2}
	assert.Equal(t, 3.14, r.Apply(3.14159))
}

func TestRoundingSignificantDigits(t *testing.T) {
	r := Rounding{Kind: RoundSignificantDigits, Digits: 3}
	assert.Equal(t, 123.0, r.Apply(123.456))
	assert.InDelta(t, 0.000123, r.Apply(0.00012345), 1e-9)
}

func TestRoundingNone(t *testing.T) {
	r := Rounding{Kind: RoundNone}
	assert.Equal(t, 3.14159, r.Apply(3.14159))
	assert.True(t, math.IsNaN(r.Apply(math.NaN())))
}
