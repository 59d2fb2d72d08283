package math

import (
	"math/big"
)

// Fixed-point conventions: all amounts (collateral, debt, pool deposits) and
// all ratios carry 18 decimal places. Intermediate products go through
// math/big to avoid 64-bit overflow; results stay at 18 decimals.
const (
	DecimalPrecision = 18

	// ScaleFactorDigits is how many decimal digits the product factor P is
	// shifted up by when it crosses the rescale threshold. Tunable: raising
	// it trades rescale frequency for per-rescale precision loss.
	ScaleFactorDigits = 9
)

var (
	// Precision is 10^18, the unit value for fixed-point math.
	Precision = pow10(DecimalPrecision)

	// ScaleFactor is 10^9, the multiplier applied to P at a scale change.
	ScaleFactor = pow10(ScaleFactorDigits)

	// ScaleThreshold is the floor under which P triggers a rescale.
	// Equal to ScaleFactor: P is kept in [1e9, 1e18) within a scale.
	ScaleThreshold = pow10(ScaleFactorDigits)

	// NominalRatioPrecision scales nominal collateral ratios (price-free
	// ordering keys). 10^20 keeps two extra digits over amount precision.
	NominalRatioPrecision = pow10(20)

	// MaxRatio is returned for zero-debt positions: they sort above
	// everything and are never liquidation candidates.
	MaxRatio = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MulDiv computes a * b / denom in arbitrary precision, truncating toward zero.
func MulDiv(a, b, denom *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}

// DivWithRemainder computes numerator / denom and returns quotient and the
// remainder left over. The caller carries the remainder into the next
// division's numerator, bounding cumulative rounding loss to under one
// smallest unit regardless of how many divisions run.
func DivWithRemainder(numerator, denom *big.Int) (quot, rem *big.Int) {
	quot = new(big.Int)
	rem = new(big.Int)
	quot.QuoRem(numerator, denom, rem)
	return quot, rem
}

// ComputeCR returns the collateralization ratio coll * price / debt, with
// coll, price and the result at 18 decimals. Zero debt yields MaxRatio.
func ComputeCR(coll, price, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxRatio)
	}
	num := new(big.Int).Mul(coll, price)
	return num.Quo(num, debt)
}

// ComputeNominalCR returns the price-independent ordering key
// coll * NominalRatioPrecision / debt. Zero debt yields MaxRatio.
func ComputeNominalCR(coll, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxRatio)
	}
	num := new(big.Int).Mul(coll, NominalRatioPrecision)
	return num.Quo(num, debt)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Zero returns a fresh zero-valued amount.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone returns a defensive copy; nil maps to zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// FromUnits builds an 18-decimal amount from whole units, e.g. FromUnits(5)
// is 5.0. Test and bootstrap helper.
func FromUnits(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), Precision)
}

// CheckNonNegative returns false if v is negative. Amounts in the engine are
// unsigned by construction; a negative value means an arithmetic bug.
func CheckNonNegative(v *big.Int) bool {
	return v.Sign() >= 0
}
