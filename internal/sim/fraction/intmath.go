package fraction

import (
	"errors"
	"math/bits"
)

var (
	ErrOverflow     = errors.New("fraction: overflow")
	ErrDivideByZero = errors.New("fraction: divide by zero")
)

// OverflowError reports an operation whose exact result does not fit 64-bit fields even in lowest terms.
type OverflowError struct {
	Op string
}

func (e *OverflowError) Error() string { return "fraction: overflow in " + e.Op }
func (e *OverflowError) Unwrap() error { return ErrOverflow }

// Checked runs fn and converts an arithmetic panic (overflow, divide by zero) into an error.
// Other panics propagate.
func Checked(fn func() Fraction) (f Fraction, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(error)
		if !ok || !(errors.Is(e, ErrOverflow) || errors.Is(e, ErrDivideByZero)) {
			panic(r)
		}
		f, err = Zero, e
	}()
	return fn(), nil
}

// gcd is Stein's binary algorithm: the loop uses only shifts and subtraction.
func gcd(a, b uint64) uint64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	shift := bits.TrailingZeros64(a | b)
	a >>= bits.TrailingZeros64(a)
	for {
		b >>= bits.TrailingZeros64(b)
		if a > b {
			a, b = b, a
		}
		b -= a
		if b == 0 {
			break
		}
	}
	return a << shift
}

// lcm of two positive denominators; ok is false when the result overflows.
func lcm(a, b int64) (int64, bool) {
	switch {
	case a == b:
		return a, true
	case a == 1:
		return b, true
	case b == 1:
		return a, true
	}
	g := int64(gcd(uint64(a), uint64(b)))
	return mulInt64(a/g, b)
}

func absU(x int64) uint64 {
	if x < 0 {
		return uint64(^x) + 1
	}
	return uint64(x)
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (c < 0) != ((a < 0) != (b < 0)) || c/b != a {
		return 0, false
	}
	return c, true
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	if (a > 0 && b > 0 && c < 0) || (a < 0 && b < 0 && c >= 0) {
		return 0, false
	}
	return c, true
}
