package core

import (
	"strconv"
	"strings"
)

// FormatSci renders a probability in two-digit scientific notation with an
// upper-case exponent marker and no exponent padding, e.g. 1.23E-4.
func FormatSci(v float64) string {
	s := strconv.FormatFloat(v, 'e', 2, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	if sign == "+" {
		return mant + "E+" + digits
	}
	return mant + "E-" + digits
}

// FormatDist renders a distance in meters with two decimals.
func FormatDist(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
