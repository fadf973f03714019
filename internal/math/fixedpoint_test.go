package math_test

import (
	fpmath "BucketClear/internal/math"
	"math"
	"testing"
)

func TestMulDiv_NoOverflow(t *testing.T) {
	got := fpmath.MulDiv(math.MaxInt64/2, 4, 8, fpmath.RoundDown)
	if got != math.MaxInt64/4 {
		t.Errorf("got %d, want %d", got, int64(math.MaxInt64/4))
	}
}

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		a, b, c int64
		mode    fpmath.RoundingMode
		want    int64
	}{
		{7, 1, 2, fpmath.RoundDown, 3},
		{7, 1, 2, fpmath.RoundUp, 4},
		{7, 1, 2, fpmath.RoundHalfEven, 4},
		{5, 1, 2, fpmath.RoundHalfEven, 2},
		{6, 1, 3, fpmath.RoundUp, 2},
		{1, 1, 0, fpmath.RoundDown, 0},
	}
	for _, tt := range tests {
		if got := fpmath.MulDiv(tt.a, tt.b, tt.c, tt.mode); got != tt.want {
			t.Errorf("MulDiv(%d,%d,%d,%d) = %d, want %d", tt.a, tt.b, tt.c, tt.mode, got, tt.want)
		}
	}
}

func TestCollateralForSize(t *testing.T) {
	tests := []struct {
		size, required, total, want int64
	}{
		{1, 100, 10, 10},
		{4, 100, 10, 40},
		{10, 100, 10, 100},
		{1, 100, 3, 33},
		{3, 100, 3, 100},
		{5, 0, 10, 0},
		{0, 100, 10, 0},
	}
	for _, tt := range tests {
		if got := fpmath.CollateralForSize(tt.size, tt.required, tt.total); got != tt.want {
			t.Errorf("CollateralForSize(%d,%d,%d) = %d, want %d", tt.size, tt.required, tt.total, got, tt.want)
		}
	}
}

func TestSizeCoveredBy(t *testing.T) {
	tests := []struct {
		collateral, required, total, want int64
	}{
		{40, 100, 10, 4},
		{39, 100, 10, 3},
		{0, 100, 10, 0},
		{0, 0, 10, 10},
		{100, 100, 0, 0},
	}
	for _, tt := range tests {
		if got := fpmath.SizeCoveredBy(tt.collateral, tt.required, tt.total); got != tt.want {
			t.Errorf("SizeCoveredBy(%d,%d,%d) = %d, want %d", tt.collateral, tt.required, tt.total, got, tt.want)
		}
	}
}
