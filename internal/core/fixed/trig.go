package fixed

import "math/bits"

// Trigonometry and roots without floating point. Sin/Cos use the Bhaskara I
// rational approximation evaluated entirely in fixed arithmetic; Sqrt is an
// integer Newton iteration. Both are bit-exact across platforms, which a
// hardware sin/sqrt instruction would not guarantee.

// Sqrt returns the square root of f, or ErrNegativeSqrt for negative input.
func (f Fixed) Sqrt() (Fixed, error) {
	if f < 0 {
		return 0, ErrNegativeSqrt
	}
	if f == 0 {
		return 0, nil
	}
	// sqrt(x * 2^16) in integer space yields a Q48.16 result.
	n := uint64(f) << FracBits
	x := n
	// start from a power-of-two estimate so Newton converges quickly
	if lead := 64 - bits.LeadingZeros64(n); lead > 1 {
		x = 1 << uint((lead+1)/2)
	}
	for {
		y := (x + n/x) / 2
		if y >= x {
			return Fixed(x), nil
		}
		x = y
	}
}

// Sin returns the sine of f radians.
func (f Fixed) Sin() Fixed {
	x := normalizeAngle(f)
	sign := Fixed(1)
	if x > Pi {
		x -= Pi
		sign = -1
	}
	// Bhaskara I: sin(x) ~= 16x(pi-x) / (5pi^2 - 4x(pi-x)) on [0, pi]
	num := x.Mul(Pi - x) * 16
	den := Pi.Mul(Pi)*5 - x.Mul(Pi-x)*4
	q, err := num.Div(den)
	if err != nil {
		return 0
	}
	return sign * q
}

// Cos returns the cosine of f radians.
func (f Fixed) Cos() Fixed { return (f + HalfPi).Sin() }

// Tan returns sin/cos; angles where cos is zero yield ErrDivisionByZero.
func (f Fixed) Tan() (Fixed, error) {
	return f.Sin().Div(f.Cos())
}

// normalizeAngle maps any angle into [0, 2pi).
func normalizeAngle(x Fixed) Fixed {
	x %= TwoPi
	if x < 0 {
		x += TwoPi
	}
	return x
}
