package math

import (
	"math/big"
	"sync"
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding.
// Denominator must be positive and numerator non-negative.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / c without intermediate overflow.
// Returns 0 when c <= 0.
func MulDiv(a, b, c int64, roundingMode RoundingMode) int64 {
	if c <= 0 {
		return 0
	}
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, c, roundingMode)
	putInt128(product)
	return result
}

// CollateralForSize returns the collateral backing size units of an order
// that reserves collateralRequired for sizeTotal units (floor).
func CollateralForSize(size, collateralRequired, sizeTotal int64) int64 {
	if size <= 0 || collateralRequired <= 0 || sizeTotal <= 0 {
		return 0
	}
	if size >= sizeTotal {
		return collateralRequired
	}
	return MulDiv(size, collateralRequired, sizeTotal, RoundDown)
}

// SizeCoveredBy returns how many whole units the given collateral backs
// at collateralRequired/sizeTotal per unit (floor).
func SizeCoveredBy(collateral, collateralRequired, sizeTotal int64) int64 {
	if sizeTotal <= 0 {
		return 0
	}
	if collateralRequired <= 0 {
		return sizeTotal
	}
	if collateral <= 0 {
		return 0
	}
	return MulDiv(collateral, sizeTotal, collateralRequired, RoundDown)
}

func Min64(values ...int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
