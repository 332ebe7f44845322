package fraction

import "math/bits"

// Cmp returns -1, 0 or +1. Cross products are compared as exact 128-bit integers.
func (f Fraction) Cmp(g Fraction) int {
	f, g = f.norm(), g.norm()
	if f.den == g.den {
		return cmpInt64(f.num, g.num)
	}
	fs, gs := f.Sign(), g.Sign()
	if fs != gs {
		return cmpInt64(int64(fs), int64(gs))
	}
	if fs == 0 {
		return 0
	}
	// Same sign: compare |f.num|*g.den with |g.num|*f.den.
	lh, ll := bits.Mul64(absU(f.num), uint64(g.den))
	rh, rl := bits.Mul64(absU(g.num), uint64(f.den))
	c := cmpUint128(lh, ll, rh, rl)
	if fs < 0 {
		return -c
	}
	return c
}

// Equal compares simplified forms, so 1/2 equals 2/4.
func (f Fraction) Equal(g Fraction) bool {
	a, b := f.Simplify(), g.Simplify()
	return a.num == b.num && a.den == b.den
}

func (f Fraction) Less(g Fraction) bool           { return f.Cmp(g) < 0 }
func (f Fraction) LessOrEqual(g Fraction) bool    { return f.Cmp(g) <= 0 }
func (f Fraction) Greater(g Fraction) bool        { return f.Cmp(g) > 0 }
func (f Fraction) GreaterOrEqual(g Fraction) bool { return f.Cmp(g) >= 0 }

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpUint128(ah, al, bh, bl uint64) int {
	switch {
	case ah < bh:
		return -1
	case ah > bh:
		return 1
	case al < bl:
		return -1
	case al > bl:
		return 1
	}
	return 0
}
