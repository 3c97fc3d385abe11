package math_test

import (
	fpmath "CornLedger/internal/math"
	"math/big"
	"testing"
)

// scaled converts whole units to 18-decimal base units.
func scaled(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Scale)
}

// ============================================================================
// Test: MulDiv floor semantics
// ============================================================================

func TestMulDiv_Floors(t *testing.T) {
	cases := []struct {
		a, b, den int64
		want      int64
	}{
		{7, 3, 2, 10},      // 21/2 = 10.5 -> 10
		{20000, 100, 18000, 111}, // boundary case from the ratio formula
		{20000, 100, 15000, 133},
		{15000, 100, 15000, 100},
		{1, 1, 2, 0},
		{0, 5, 3, 0},
	}

	for _, tc := range cases {
		got := fpmath.MulDiv(big.NewInt(tc.a), big.NewInt(tc.b), big.NewInt(tc.den))
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Errorf("MulDiv(%d, %d, %d) = %s, want %d", tc.a, tc.b, tc.den, got, tc.want)
		}
	}
}

func TestMulDiv_LargeOperands(t *testing.T) {
	// 10 units of collateral at a rate of 2000, all in 18-decimal base units.
	// The intermediate product is ~2e40 and must not lose precision.
	collateral := scaled(10)
	price := scaled(2000)

	value := fpmath.CollateralValue(collateral, price)
	if value.Cmp(scaled(20000)) != 0 {
		t.Errorf("CollateralValue = %s, want %s", value, scaled(20000))
	}
}

// ============================================================================
// Test: PositionRatio
// ============================================================================

func TestPositionRatio_WholePercent(t *testing.T) {
	cases := []struct {
		value, debt int64
		want        int64
	}{
		{20000, 15000, 133},
		{20000, 18000, 111},
		{15000, 15000, 100},
		{18000, 15000, 120},
		{0, 100, 0},
	}

	for _, tc := range cases {
		got := fpmath.PositionRatio(big.NewInt(tc.value), big.NewInt(tc.debt))
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Errorf("PositionRatio(%d, %d) = %s, want %d", tc.value, tc.debt, got, tc.want)
		}
	}
}

func TestPositionRatio_ZeroDebtSentinel(t *testing.T) {
	got := fpmath.PositionRatio(big.NewInt(12345), big.NewInt(0))
	if got.Cmp(fpmath.MaxUint256) != 0 {
		t.Errorf("PositionRatio with zero debt = %s, want MaxUint256", got)
	}

	// The sentinel must be a copy: mutating it must not corrupt the shared value.
	got.SetInt64(0)
	if fpmath.MaxUint256.Sign() == 0 {
		t.Fatal("MaxUint256 was mutated through a returned ratio")
	}
}

// ============================================================================
// Test: MeetsMinimumRatio
// ============================================================================

func TestMeetsMinimumRatio_Boundary(t *testing.T) {
	// 18000 * 100 == 15000 * 120 exactly: a ratio of exactly 120 is safe.
	if !fpmath.MeetsMinimumRatio(big.NewInt(18000), big.NewInt(15000), 120) {
		t.Error("ratio exactly at the minimum should be safe")
	}
	if fpmath.MeetsMinimumRatio(big.NewInt(17999), big.NewInt(15000), 120) {
		t.Error("ratio one unit below the minimum should be unsafe")
	}
	if !fpmath.MeetsMinimumRatio(big.NewInt(12345), big.NewInt(0), 120) {
		t.Error("zero debt should be vacuously safe")
	}
	if !fpmath.MeetsMinimumRatio(big.NewInt(0), big.NewInt(0), 120) {
		t.Error("zero debt with zero value should be vacuously safe")
	}
}

func TestMeetsMinimumRatio_AgreesWithPositionRatio(t *testing.T) {
	minRatio := big.NewInt(120)

	for value := int64(17995); value <= 18005; value++ {
		for _, debt := range []int64{15000, 14999, 1} {
			v, d := big.NewInt(value), big.NewInt(debt)
			byCheck := fpmath.MeetsMinimumRatio(v, d, 120)
			byRatio := fpmath.PositionRatio(v, d).Cmp(minRatio) >= 0
			if byCheck != byRatio {
				t.Errorf("value=%d debt=%d: MeetsMinimumRatio=%v, ratio check=%v",
					value, debt, byCheck, byRatio)
			}
		}
	}
}

// ============================================================================
// Test: liquidation formulas
// ============================================================================

func TestLiquidationPortionAndBonus(t *testing.T) {
	// Collateral 10 at price 1500 against debt 15000: the full position backs
	// the debt, so the portion is the whole collateral.
	debt := big.NewInt(15000)
	collateral := big.NewInt(10)
	value := big.NewInt(15000)

	portion := fpmath.LiquidationPortion(debt, collateral, value)
	if portion.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("LiquidationPortion = %s, want 10", portion)
	}

	bonus := fpmath.LiquidationBonus(portion, 10)
	if bonus.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("LiquidationBonus = %s, want 1", bonus)
	}
}

func TestLiquidationPortion_PartialBacking(t *testing.T) {
	// Debt 9000 against collateral 12 valued at 18000: portion covers half
	// the collateral, bonus adds 10% of the portion.
	portion := fpmath.LiquidationPortion(big.NewInt(9000), big.NewInt(12), big.NewInt(18000))
	if portion.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("LiquidationPortion = %s, want 6", portion)
	}

	bonus := fpmath.LiquidationBonus(portion, 10)
	if bonus.Sign() != 0 {
		t.Errorf("LiquidationBonus = %s, want 0 (floor of 0.6)", bonus)
	}
}
