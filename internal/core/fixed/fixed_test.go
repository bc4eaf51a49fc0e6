package fixed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromIntRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -1000, 1 << 30} {
		assert.Equal(t, v, FromInt(v).Int())
	}
}

func TestMul(t *testing.T) {
	assert.Equal(t, FromInt(12), FromInt(3).Mul(FromInt(4)))
	assert.Equal(t, FromInt(-12), FromInt(3).Mul(FromInt(-4)))
	assert.Equal(t, Half, One.Mul(Half))
	assert.Equal(t, FromInt(2), Half.Mul(FromInt(4)))
	assert.Equal(t, Fixed(0), Fixed(0).Mul(FromInt(1000)))
}

func TestMulFractionPrecision(t *testing.T) {
	// 0.5 * 0.5 = 0.25 exactly in Q48.16
	q, err := One.Div(FromInt(2))
	require.NoError(t, err)
	assert.Equal(t, One/4, q.Mul(q))
}

func TestDiv(t *testing.T) {
	q, err := FromInt(12).Div(FromInt(4))
	require.NoError(t, err)
	assert.Equal(t, FromInt(3), q)

	q, err = FromInt(1).Div(FromInt(2))
	require.NoError(t, err)
	assert.Equal(t, Half, q)

	q, err = FromInt(-9).Div(FromInt(3))
	require.NoError(t, err)
	assert.Equal(t, FromInt(-3), q)
}

func TestDivByZero(t *testing.T) {
	_, err := FromInt(1).Div(0)
	require.ErrorIs(t, err, ErrDivisionByZero)
	_, err = Fixed(0).Div(0)
	require.ErrorIs(t, err, ErrDivisionByZero)
	_, err = FromInt(5).Mod(0)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestRounding(t *testing.T) {
	v := FromFloat64(2.5)
	assert.Equal(t, FromInt(2), v.Floor())
	assert.Equal(t, FromInt(3), v.Ceil())
	assert.Equal(t, FromInt(3), v.Round())

	n := FromFloat64(-2.5)
	assert.Equal(t, FromInt(-3), n.Floor())
	assert.Equal(t, FromInt(-2), n.Ceil())
	assert.Equal(t, FromInt(-3), n.Round())
}

func TestSqrt(t *testing.T) {
	r, err := FromInt(16).Sqrt()
	require.NoError(t, err)
	assert.Equal(t, FromInt(4), r)

	r, err = FromInt(2).Sqrt()
	require.NoError(t, err)
	assert.InDelta(t, 1.41421, r.Float64(), 0.001)

	r, err = Fixed(0).Sqrt()
	require.NoError(t, err)
	assert.Equal(t, Fixed(0), r)

	_, err = FromInt(-1).Sqrt()
	require.ErrorIs(t, err, ErrNegativeSqrt)
}

func TestSinCos(t *testing.T) {
	assert.Equal(t, Fixed(0), Fixed(0).Sin())
	assert.InDelta(t, 1.0, HalfPi.Sin().Float64(), 0.005)
	assert.InDelta(t, 0.0, Pi.Sin().Float64(), 0.005)
	assert.InDelta(t, -1.0, (Pi + HalfPi).Sin().Float64(), 0.005)
	assert.InDelta(t, 1.0, Fixed(0).Cos().Float64(), 0.005)
	assert.InDelta(t, 0.5, (Pi / 6).Sin().Float64(), 0.005)
	// negative angles normalize
	assert.InDelta(t, -1.0, (-HalfPi).Sin().Float64(), 0.005)
}

// Identical operands must yield identical bit patterns on repeated
// evaluation; this guards against accidental introduction of platform state.
func TestOperationsAreReproducible(t *testing.T) {
	a, b := FromFloat64(3.7), FromFloat64(-1.3)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Mul(b), a.Mul(b))
		q1, err1 := a.Div(b)
		q2, err2 := a.Div(b)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, q1, q2)
		assert.Equal(t, a.Sin(), a.Sin())
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, FromInt(5), Clamp(FromInt(9), FromInt(0), FromInt(5)))
	assert.Equal(t, FromInt(0), Clamp(FromInt(-2), FromInt(0), FromInt(5)))
	assert.Equal(t, FromInt(3), Clamp(FromInt(3), FromInt(0), FromInt(5)))
}
