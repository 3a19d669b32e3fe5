// Package money provides exact monetary parsing, formatting, and
// percentage arithmetic.
//
// Amounts use 6 decimal places and are stored as big.Int in the smallest
// unit (1 dollar = 1,000,000 units). Percentages are computed in integer
// basis-of-hundredths so no binary floating point ever enters a comparison.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 6

// unitsPerDollar is the smallest-unit scale (10^Decimals).
var unitsPerDollar = big.NewInt(1_000_000)

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (1500000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a canonical decimal string
// with exactly 6 decimal places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// FromDollars converts a whole-dollar count to smallest units.
func FromDollars(d int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(d), unitsPerDollar)
}

// BasisHundredths returns part/whole as a percentage scaled by 100
// (i.e. hundredths of a percent: 9000 means 90.00%). The division is the
// only inexact step and happens after both multiplications, so repeated
// aggregation never drifts. Returns 0 when whole is zero or negative.
func BasisHundredths(part, whole *big.Int) int64 {
	if part == nil || whole == nil || whole.Sign() <= 0 {
		return 0
	}
	n := new(big.Int).Mul(part, big.NewInt(10_000))
	n.Quo(n, whole)
	return n.Int64()
}

// PercentFloat renders hundredths-of-a-percent as a float for response
// payloads. Decision logic must never compare this value.
func PercentFloat(hundredths int64) float64 {
	return float64(hundredths) / 100
}

// AtLeastPercent reports whether part/whole*100 >= pct, computed without
// division: part*100 >= whole*pct. False when whole is zero or negative.
func AtLeastPercent(part, whole *big.Int, pct int64) bool {
	if part == nil || whole == nil || whole.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(part, big.NewInt(100))
	rhs := new(big.Int).Mul(whole, big.NewInt(pct))
	return lhs.Cmp(rhs) >= 0
}

// Remaining returns max(0, limit-used).
func Remaining(limit, used *big.Int) *big.Int {
	if limit == nil {
		return big.NewInt(0)
	}
	if used == nil {
		return new(big.Int).Set(limit)
	}
	r := new(big.Int).Sub(limit, used)
	if r.Sign() < 0 {
		r.SetInt64(0)
	}
	return r
}
