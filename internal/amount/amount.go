// Package amount holds the integer arithmetic shared by every engine.
//
// Token amounts are whole base units carried as decimals. Division always
// truncates toward zero, which for non-negative values is floor.
package amount

import (
	"math/big"

	"github.com/shopspring/decimal"

	pkgerrors "govtoken/pkg/errors"
)

// BasisPoints is 100% in basis points.
var BasisPoints = decimal.NewFromInt(10000)

// Max is the largest representable amount, 2^256 - 1.
var Max = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// maxDigits is the decimal length of Max.
const maxDigits = 78

// Validate accepts whole, non-negative amounts no larger than Max.
func Validate(a decimal.Decimal) error {
	if a.IsZero() {
		return nil
	}
	// Bounds come from the coefficient and exponent alone, before any rescale.
	digits := int64(len(new(big.Int).Abs(a.Coefficient()).Text(10)))
	exp := int64(a.Exponent())
	if digits+exp > maxDigits {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidAmount, "exceeds maximum")
	}
	if exp < 0 && -exp >= digits {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidAmount, "not a whole amount")
	}
	if a.IsNegative() || !a.Equal(a.Truncate(0)) || a.GreaterThan(Max) {
		return pkgerrors.Wrap(pkgerrors.ErrInvalidAmount, a.String())
	}
	return nil
}

// ValidatePositive accepts whole amounts greater than zero.
func ValidatePositive(a decimal.Decimal) error {
	if err := Validate(a); err != nil {
		return err
	}
	if a.IsZero() {
		return pkgerrors.ErrZeroAmount
	}
	return nil
}

// MulDiv returns floor(a * b / c) for non-negative operands.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}

// Bps returns floor(a * bps / 10000).
func Bps(a decimal.Decimal, bps int64) decimal.Decimal {
	return MulDiv(a, decimal.NewFromInt(bps), BasisPoints)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
