package fraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StoredPair is the persisted form of a Fraction: raw fields, never reduced or rounded.
type StoredPair struct {
	Numerator   int64 `json:"numerator" yaml:"numerator"`
	Denominator int64 `json:"denominator" yaml:"denominator"`
}

func (f Fraction) Stored() StoredPair {
	f = f.norm()
	return StoredPair{Numerator: f.num, Denominator: f.den}
}

// FromStored restores the exact raw fields. A broken denominator is normalized like New.
func FromStored(p StoredPair) Fraction {
	return New(p.Numerator, p.Denominator)
}

func (f Fraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Stored())
}

// UnmarshalJSON accepts the stored object form, a plain integer, or a "n/d" / "n:d" string.
func (f *Fraction) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = Zero
		return nil
	}
	switch b[0] {
	case '{':
		var p StoredPair
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*f = FromStored(p)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := Parse(s)
		if err != nil {
			return err
		}
		*f = v
		return nil
	default:
		n, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("fraction: parse %s: %w", b, err)
		}
		*f = Of(n)
		return nil
	}
}

// Parse reads "n", "n/d" or "n:d". The denominator must be positive.
func Parse(s string) (Fraction, error) {
	s = strings.TrimSpace(s)
	sep := strings.IndexAny(s, "/:")
	if sep < 0 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("fraction: parse %q: %w", s, err)
		}
		return Of(n), nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s[:sep]), 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("fraction: parse %q: %w", s, err)
	}
	d, err := strconv.ParseInt(strings.TrimSpace(s[sep+1:]), 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("fraction: parse %q: %w", s, err)
	}
	if d <= 0 {
		return Zero, fmt.Errorf("fraction: parse %q: denominator must be positive", s)
	}
	return New(n, d), nil
}
