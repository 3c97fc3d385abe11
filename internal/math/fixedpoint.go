package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int      // Number of decimal places
	Scale            *big.Int // 10^DecimalPrecision
}

var (
	// Standard configs: collateral, CORN and oracle prices all carry 18 decimals
	CollateralConfig = DecimalConfig{DecimalPrecision: 18, Scale: big.NewInt(1_000_000_000_000_000_000)}
	CornConfig       = DecimalConfig{DecimalPrecision: 18, Scale: big.NewInt(1_000_000_000_000_000_000)}
	PriceConfig      = DecimalConfig{DecimalPrecision: 18, Scale: big.NewInt(1_000_000_000_000_000_000)}
)

// Scale is the shared 18-decimal scaling factor (1e18). Oracle prices are
// collateral-per-CORN rates multiplied by Scale.
var Scale = PriceConfig.Scale

// MaxUint256 is the largest value representable in an unsigned 256-bit word.
// PositionRatio returns it as the "infinitely safe" sentinel for positions
// with zero debt.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var oneHundred = big.NewInt(100)

// intPool holds big.Int scratch values for intermediate products
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	intPool.Put(v)
}

// MulDiv computes floor(a * b / denominator) for non-negative operands.
// Truncating division equals floor here because no operand is negative;
// floor semantics determine the liquidation boundary and must not round.
func MulDiv(a, b, denominator *big.Int) *big.Int {
	product := getInt()
	product.Mul(a, b)
	result := new(big.Int).Quo(product, denominator)
	putInt(product)
	return result
}

// CollateralValue prices collateral in debt-asset terms:
// collateral * price / Scale.
func CollateralValue(collateral, price *big.Int) *big.Int {
	return MulDiv(collateral, price, Scale)
}

// PositionRatio returns the collateralization ratio in whole percent,
// floor(value * 100 / debt). A position with zero debt reports MaxUint256.
func PositionRatio(value, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxUint256)
	}
	return MulDiv(value, oneHundred, debt)
}

// MeetsMinimumRatio reports whether value * 100 >= debt * minRatioPct.
// Exact integer comparison: no division, so the check agrees with
// PositionRatio at every boundary. Zero debt is vacuously safe.
func MeetsMinimumRatio(value, debt *big.Int, minRatioPct int64) bool {
	if debt.Sign() == 0 {
		return true
	}
	lhs := getInt().Mul(value, oneHundred)
	rhs := getInt().Mul(debt, big.NewInt(minRatioPct))
	ok := lhs.Cmp(rhs) >= 0
	putInt(lhs)
	putInt(rhs)
	return ok
}

// LiquidationPortion is the collateral amount corresponding to the repaid
// debt: floor(debt * collateral / value). Caller must guarantee value > 0.
func LiquidationPortion(debt, collateral, value *big.Int) *big.Int {
	return MulDiv(debt, collateral, value)
}

// LiquidationBonus is the liquidator incentive on top of the portion:
// floor(portion * bonusPct / 100).
func LiquidationBonus(portion *big.Int, bonusPct int64) *big.Int {
	return MulDiv(portion, big.NewInt(bonusPct), oneHundred)
}
