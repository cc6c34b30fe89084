// Package money converts locale-ambiguous price text into exact
// minor-currency-unit integers.
package money

import (
	"fmt"
	"strings"
)

// Normalize turns raw price text into a canonical decimal string.
// Spaces (including non-breaking ones) are treated as thousands
// separators. When both '.' and ',' appear, whichever occurs last is
// the decimal point; a lone ',' is assumed to be a European decimal
// point.
func Normalize(raw string) string {
	t := strings.ReplaceAll(raw, "\u00a0", " ")
	t = strings.ReplaceAll(t, " ", "")

	comma := strings.LastIndex(t, ",")
	dot := strings.LastIndex(t, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			t = strings.ReplaceAll(t, ".", "")
			t = strings.ReplaceAll(t, ",", ".")
		} else {
			t = strings.ReplaceAll(t, ",", "")
		}
	case comma >= 0:
		t = strings.ReplaceAll(t, ",", ".")
	}
	return t
}

// ToMinorUnits multiplies a canonical decimal string by 100 and rounds
// half-up on ties. The arithmetic is done on the digit string, not on
// floats, so the result is deterministic.
func ToMinorUnits(canonical string) (int64, error) {
	s := strings.TrimSpace(canonical)
	if s == "" {
		return 0, fmt.Errorf("unparseable number: %q", canonical)
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("unparseable number: %q", canonical)
	}
	for _, part := range []string{intPart, fracPart} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("unparseable number: %q", canonical)
			}
		}
	}

	// two fraction digits become the minor units, the third decides
	// rounding
	fracPart += "000"
	var cents int64
	for _, c := range intPart + fracPart[:2] {
		cents = cents*10 + int64(c-'0')
		if cents < 0 {
			return 0, fmt.Errorf("number out of range: %q", canonical)
		}
	}
	if fracPart[2] >= '5' {
		cents++
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}
