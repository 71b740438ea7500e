// Package fixedpoint implements the WAD (18-decimal fixed point) arithmetic
// used for every stake amount, price, and payout. All division truncates
// toward zero so a given input set always produces the same output.
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in a WAD value.
const Decimals = 18

// One is 1.0 in WAD units (10^18).
var One = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// BpDenominator is the basis-point denominator (10000 bp = 100%).
var BpDenominator = big.NewInt(10000)

// Parse converts a decimal string such as "43250.12" into a WAD integer.
// Values with more than 18 fractional digits are rejected rather than
// silently rounded.
func Parse(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("fixedpoint: parse %q: more than %d decimal places", s, Decimals)
	}
	return shifted.BigInt(), nil
}

// Format renders a WAD integer as a decimal string, trimming trailing zeros
// the way decimal.String does.
func Format(w *big.Int) string {
	if w == nil {
		return "0"
	}
	return decimal.NewFromBigInt(w, -Decimals).String()
}

// FromInt64 converts whole units into WAD.
func FromInt64(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), One)
}

// MulDiv computes a*b/den with truncating division. den must be nonzero.
func MulDiv(a, b, den *big.Int) *big.Int {
	prod := new(big.Int).Mul(a, b)
	return prod.Quo(prod, den)
}

// ShareOf returns part/whole as a WAD ratio (part*1e18/whole, truncated).
func ShareOf(part, whole *big.Int) *big.Int {
	return MulDiv(part, One, whole)
}

// ApplyBp computes amount*bp/10000 with truncating division.
func ApplyBp(amount *big.Int, bp int64) *big.Int {
	return MulDiv(amount, big.NewInt(bp), BpDenominator)
}

// BpOf returns part*10000/whole truncated to an int64; it reports the share
// of whole that part represents, in basis points.
func BpOf(part, whole *big.Int) int64 {
	return MulDiv(part, BpDenominator, whole).Int64()
}
