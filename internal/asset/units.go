package asset

import (
	"errors"
	"fmt"

	"cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// MaxAmountBits bounds every amount and running total the ledger accepts.
// Scores multiply a stake by up to 10^6, which must stay within math.Int's
// 256 bits.
const MaxAmountBits = 128

// ErrAmountRange is returned for amounts wider than MaxAmountBits.
var ErrAmountRange = errors.New("amount out of range")

// InRange reports whether v is a non-negative amount of at most MaxAmountBits.
func InRange(v math.Int) bool {
	return !v.IsNil() && !v.IsNegative() && v.BigInt().BitLen() <= MaxAmountBits
}

// ParseUnits converts a decimal string such as "12.5" into base units.
// More than Decimals fractional digits is an error rather than a rounding.
func ParseUnits(s string) (math.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.Int{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return math.Int{}, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return math.Int{}, fmt.Errorf("parse amount %q: more than %d decimal places", s, Decimals)
	}
	bi := scaled.BigInt()
	if bi.BitLen() > MaxAmountBits {
		return math.Int{}, fmt.Errorf("parse amount %q: %w", s, ErrAmountRange)
	}
	return math.NewIntFromBigInt(bi), nil
}

// MustParseUnits is ParseUnits for constants; it panics on error.
func MustParseUnits(s string) math.Int {
	v, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders base units with exactly Decimals fractional digits.
func FormatUnits(v math.Int) string {
	if v.IsNil() {
		return decimal.Zero.StringFixed(Decimals)
	}
	return decimal.NewFromBigInt(v.BigInt(), -Decimals).StringFixed(Decimals)
}
