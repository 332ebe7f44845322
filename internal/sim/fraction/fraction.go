// Package fraction implements the exact rational type every resource quantity is accounted in.
//
// Values are immutable. Arithmetic is exact: intermediate products are checked for 64-bit overflow and
// fall back to a reduced result when the unreduced one does not fit. A result that cannot be represented
// even in lowest terms panics with an *OverflowError (see Checked).
package fraction

import (
	"math"
	"math/big"
	"strconv"
)

// Fraction is a signed 64-bit numerator over a positive 64-bit denominator.
// The zero value is 0/0 and is treated as 0/1 by every operation; prefer Zero.
type Fraction struct {
	num int64
	den int64
}

var (
	Zero   = Fraction{0, 1}
	Bucket = Fraction{1, 1}
	Bottle = Fraction{1, 3}
	Ingot  = Fraction{1, 9}
	Nugget = Fraction{1, 81}

	Minimum = Fraction{1, math.MaxInt64}
	Maximum = Fraction{math.MaxInt64, 1}
)

// New builds n/d. A denominator <= 0 is clamped to 1; this is a normalization, not a validation.
func New(n, d int64) Fraction {
	if d <= 0 {
		d = 1
	}
	return Fraction{num: n, den: d}
}

// Of returns whole/1.
func Of(whole int64) Fraction { return Fraction{num: whole, den: 1} }

// OfMixed returns whole + n/d.
func OfMixed(whole, n, d int64) Fraction {
	return Of(whole).Add(New(n, d))
}

// OfDecimal converts d to the nearest multiple of 1/1000, simplified. NaN is Zero.
func OfDecimal(d float64) Fraction {
	if math.IsNaN(d) {
		return Zero
	}
	scaled := math.Round(d * 1000)
	if scaled >= math.MaxInt64 || scaled <= math.MinInt64 {
		panic(&OverflowError{Op: "decimal"})
	}
	return Fraction{num: int64(scaled), den: 1000}.Simplify()
}

func (f Fraction) Numerator() int64 { return f.num }

func (f Fraction) Denominator() int64 {
	if f.den <= 0 {
		return 1
	}
	return f.den
}

func (f Fraction) norm() Fraction {
	if f.den <= 0 {
		f.den = 1
	}
	return f
}

func (f Fraction) Add(g Fraction) Fraction {
	f, g = f.norm(), g.norm()
	if f.den == g.den {
		if n, ok := addInt64(f.num, g.num); ok {
			return Fraction{num: n, den: f.den}
		}
		return fromRat(new(big.Rat).Add(f.rat(), g.rat()), "add")
	}
	if l, ok := lcm(f.den, g.den); ok {
		a, okA := mulInt64(f.num, l/f.den)
		b, okB := mulInt64(g.num, l/g.den)
		if okA && okB {
			if n, ok := addInt64(a, b); ok {
				return Fraction{num: n, den: l}
			}
		}
	}
	return fromRat(new(big.Rat).Add(f.rat(), g.rat()), "add")
}

func (f Fraction) Sub(g Fraction) Fraction {
	g = g.norm()
	if g.num == math.MinInt64 {
		return fromRat(new(big.Rat).Sub(f.norm().rat(), g.rat()), "sub")
	}
	return f.Add(Fraction{num: -g.num, den: g.den})
}

// Mul combines numerators and denominators without reducing first.
func (f Fraction) Mul(g Fraction) Fraction {
	f, g = f.norm(), g.norm()
	n, okN := mulInt64(f.num, g.num)
	d, okD := mulInt64(f.den, g.den)
	if okN && okD {
		return Fraction{num: n, den: d}
	}
	return fromRat(new(big.Rat).Mul(f.rat(), g.rat()), "mul")
}

func (f Fraction) Div(g Fraction) Fraction {
	return f.Mul(g.Inverse())
}

// Inverse swaps numerator and denominator, keeping the sign in the numerator.
// Inverting zero panics with ErrDivideByZero.
func (f Fraction) Inverse() Fraction {
	f = f.norm()
	switch {
	case f.num == 0:
		panic(ErrDivideByZero)
	case f.num == math.MinInt64:
		return fromRat(new(big.Rat).Inv(f.rat()), "inverse")
	case f.num < 0:
		return Fraction{num: -f.den, den: -f.num}
	default:
		return Fraction{num: f.den, den: f.num}
	}
}

func (f Fraction) Neg() Fraction {
	return Zero.Sub(f)
}

// Simplify returns the lowest-terms representative; zero is always 0/1.
func (f Fraction) Simplify() Fraction {
	f = f.norm()
	if f.num == 0 {
		return Zero
	}
	g := gcd(absU(f.num), uint64(f.den))
	if g <= 1 {
		return f
	}
	return Fraction{num: f.num / int64(g), den: f.den / int64(g)}
}

// Limit rescales f onto the denominator den, truncating toward zero when f is not an exact multiple
// of 1/den. A non-positive den is clamped to 1.
func (f Fraction) Limit(den int64) Fraction {
	f = f.norm()
	if den <= 0 {
		den = 1
	}
	if den == f.den {
		return f
	}
	if n, ok := mulInt64(f.num, den); ok {
		return Fraction{num: n / f.den, den: den}
	}
	q := new(big.Int).Mul(big.NewInt(f.num), big.NewInt(den))
	q.Quo(q, big.NewInt(f.den))
	if !q.IsInt64() {
		panic(&OverflowError{Op: "limit"})
	}
	return Fraction{num: q.Int64(), den: den}
}

func Min(a, b Fraction) Fraction {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b Fraction) Fraction {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func (f Fraction) Min(g Fraction) Fraction { return Min(f, g) }
func (f Fraction) Max(g Fraction) Fraction { return Max(f, g) }

func (f Fraction) Sign() int {
	switch {
	case f.num > 0:
		return 1
	case f.num < 0:
		return -1
	}
	return 0
}

func (f Fraction) IsZero() bool { return f.num == 0 }

// Float64 is for display and engine-side scaling only; quantities are never accumulated in floats.
func (f Fraction) Float64() float64 {
	f = f.norm()
	return float64(f.num) / float64(f.den)
}

// Int64 truncates toward zero.
func (f Fraction) Int64() int64 {
	f = f.norm()
	return f.num / f.den
}

// String renders up to three decimal places.
func (f Fraction) String() string {
	v := math.Round(f.Float64()*1000) / 1000
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fractional renders the raw fields as "n:d".
func (f Fraction) Fractional() string {
	f = f.norm()
	return strconv.FormatInt(f.num, 10) + ":" + strconv.FormatInt(f.den, 10)
}

func (f Fraction) rat() *big.Rat {
	return new(big.Rat).SetFrac(big.NewInt(f.num), big.NewInt(f.den))
}

func fromRat(r *big.Rat, op string) Fraction {
	n, d := r.Num(), r.Denom()
	if !n.IsInt64() || !d.IsInt64() {
		panic(&OverflowError{Op: op})
	}
	return Fraction{num: n.Int64(), den: d.Int64()}
}
