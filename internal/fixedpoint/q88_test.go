package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromIntRoundTrip(t *testing.T) {
	q := FromInt(42)
	require.Equal(t, int32(42), q.Int())
}

func TestFromFloat64RoundTrip(t *testing.T) {
	q := FromFloat64(3.5)
	assert.InDelta(t, 3.5, q.Float64(), 1.0/256)
}

func TestMulSaturatesOnOverflow(t *testing.T) {
	got := Mul(Max, FromInt(2))
	require.Equal(t, Max, got)
}

func TestAddSaturatesOnOverflow(t *testing.T) {
	got := Add(Max, FromInt(1))
	require.Equal(t, Max, got)
}

func TestDivByZero(t *testing.T) {
	require.Equal(t, Max, Div(FromInt(5), 0))
	require.Equal(t, Min, Div(FromInt(-5), 0))
	require.Equal(t, Q88(0), Div(0, 0))
}

func TestClamp(t *testing.T) {
	lo, hi := FromInt(-10), FromInt(10)
	require.Equal(t, hi, Clamp(FromInt(20), lo, hi))
	require.Equal(t, lo, Clamp(FromInt(-20), lo, hi))
	mid := FromInt(3)
	require.Equal(t, mid, Clamp(mid, lo, hi))
}

func TestMulFractional(t *testing.T) {
	half := FromFloat64(0.5)
	four := FromInt(4)
	got := Mul(half, four)
	assert.InDelta(t, 2.0, got.Float64(), 1.0/256)
}
