// Package fixed implements deterministic fixed-point arithmetic for the
// simulation kernel. Every real number that can influence simulation state is
// a Fixed; native floats are restricted to content authoring and observation.
package fixed

import (
	"errors"
	"fmt"
	"math/bits"
)

// Fixed is a signed Q48.16 fixed-point number: the raw int64 value scaled by
// 1<<16. Identical operand bit patterns produce identical result bit patterns
// on every platform, which is the foundation of the lockstep contract.
type Fixed int64

const (
	// FracBits is the number of fractional bits.
	FracBits = 16
	// One is the fixed-point representation of 1.
	One Fixed = 1 << FracBits
	// Half is the fixed-point representation of 0.5.
	Half Fixed = One / 2
	// Max is the largest representable value.
	Max Fixed = 1<<63 - 1
	// Min is the smallest representable value.
	Min Fixed = -1 << 63

	// Pi is the closest Q48.16 value to the mathematical constant.
	Pi     Fixed = 205887
	TwoPi  Fixed = 2 * Pi
	HalfPi Fixed = Pi / 2
)

// Arithmetic errors. Callers are expected to branch before dividing; the
// error exists so misuse never degenerates into a platform-dependent NaN/Inf.
var (
	ErrDivisionByZero = errors.New("fixed: division by zero")
	ErrNegativeSqrt   = errors.New("fixed: square root of negative value")
)

// FromInt converts an integer to its fixed-point representation.
func FromInt(v int64) Fixed { return Fixed(v << FracBits) }

// FromFloat64 converts a float to fixed-point. It exists for content
// authoring and configuration only and must never be fed a value derived
// from simulation state.
func FromFloat64(v float64) Fixed { return Fixed(v * float64(One)) }

// Int truncates toward zero and returns the integer part.
func (f Fixed) Int() int64 { return int64(f / One) }

// Float64 converts to a float for observation (rendering, logs). The result
// must never flow back into simulation state.
func (f Fixed) Float64() float64 { return float64(f) / float64(One) }

func (f Fixed) String() string { return fmt.Sprintf("%.5f", f.Float64()) }

// Add returns f+v. Overflow wraps like int64; simulation content is expected
// to stay well inside the Q48 integer range.
func (f Fixed) Add(v Fixed) Fixed { return f + v }

// Sub returns f-v.
func (f Fixed) Sub(v Fixed) Fixed { return f - v }

// Neg returns -f.
func (f Fixed) Neg() Fixed { return -f }

// Abs returns the absolute value.
func (f Fixed) Abs() Fixed {
	if f < 0 {
		return -f
	}
	return f
}

// Mul returns f*v computed through a 128-bit intermediate so the full Q48.16
// product is preserved before rescaling.
func (f Fixed) Mul(v Fixed) Fixed {
	neg := (f < 0) != (v < 0)
	a, b := uint64(f.Abs()), uint64(v.Abs())
	hi, lo := bits.Mul64(a, b)
	r := hi<<(64-FracBits) | lo>>FracBits
	if neg {
		return -Fixed(r)
	}
	return Fixed(r)
}

// Div returns f/v. Division by zero is an error, never a platform NaN/Inf.
// Quotients beyond the representable range saturate to Max/Min, which keeps
// the operation total and deterministic.
func (f Fixed) Div(v Fixed) (Fixed, error) {
	if v == 0 {
		return 0, ErrDivisionByZero
	}
	neg := (f < 0) != (v < 0)
	a, b := uint64(f.Abs()), uint64(v.Abs())
	hi, lo := a>>(64-FracBits), a<<FracBits
	if hi >= b {
		// quotient does not fit in 64 bits
		if neg {
			return Min, nil
		}
		return Max, nil
	}
	q, _ := bits.Div64(hi, lo, b)
	if neg {
		return -Fixed(q), nil
	}
	return Fixed(q), nil
}

// Mod returns the remainder of f/v with the sign of f.
func (f Fixed) Mod(v Fixed) (Fixed, error) {
	if v == 0 {
		return 0, ErrDivisionByZero
	}
	return f % v, nil
}

// Floor rounds toward negative infinity to the nearest integer value.
func (f Fixed) Floor() Fixed { return f &^ (One - 1) }

// Ceil rounds toward positive infinity to the nearest integer value.
func (f Fixed) Ceil() Fixed { return (f + One - 1) &^ (One - 1) }

// Round rounds half away from zero to the nearest integer value.
func (f Fixed) Round() Fixed {
	if f < 0 {
		return -((-f + Half) &^ (One - 1))
	}
	return (f + Half) &^ (One - 1)
}

func Minimum(a, b Fixed) Fixed {
	if a < b {
		return a
	}
	return b
}

func Maximum(a, b Fixed) Fixed {
	if a > b {
		return a
	}
	return b
}

// Clamp limits f to [lo, hi].
func Clamp(f, lo, hi Fixed) Fixed {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
