package state

import (
	fpmath "CornLedger/internal/math"
	"math/big"

	"github.com/google/uuid"
)

// HealthCalculator computes collateral value and position ratio against the
// minimum collateral ratio. It uses an interface for balanceTracker so it
// accepts *ledger.BalanceTracker without importing the ledger package.
type HealthCalculator struct {
	balanceTracker interface {
		GetUserCollateral(uuid.UUID) *big.Int
		GetUserDebt(uuid.UUID) *big.Int
	}
	riskParams *RiskParams
}

func NewHealthCalculator(
	bt interface {
		GetUserCollateral(uuid.UUID) *big.Int
		GetUserDebt(uuid.UUID) *big.Int
	},
	params *RiskParams,
) *HealthCalculator {
	return &HealthCalculator{
		balanceTracker: bt,
		riskParams:     params,
	}
}

// ComputeCollateralValue returns the user's collateral priced in CORN base
// units: collateral * price / SCALE, floored.
func (hc *HealthCalculator) ComputeCollateralValue(userID uuid.UUID, price *big.Int) *big.Int {
	collateral := hc.balanceTracker.GetUserCollateral(userID)
	return fpmath.CollateralValue(collateral, price)
}

// ComputePositionRatio returns the whole-percent collateralization ratio.
// A user with no debt gets the max-uint256 sentinel.
func (hc *HealthCalculator) ComputePositionRatio(userID uuid.UUID, price *big.Int) *big.Int {
	value := hc.ComputeCollateralValue(userID, price)
	debt := hc.balanceTracker.GetUserDebt(userID)
	return fpmath.PositionRatio(value, debt)
}

// IsLiquidatable reports whether the position sits below the minimum
// collateral ratio. No debt means never liquidatable.
func (hc *HealthCalculator) IsLiquidatable(userID uuid.UUID, price *big.Int) bool {
	value := hc.ComputeCollateralValue(userID, price)
	debt := hc.balanceTracker.GetUserDebt(userID)
	return !fpmath.MeetsMinimumRatio(value, debt, hc.riskParams.MinCollateralRatioPct)
}

// Status classifies the position at the given price
func (hc *HealthCalculator) Status(userID uuid.UUID, price *big.Int) PositionStatus {
	collateral := hc.balanceTracker.GetUserCollateral(userID)
	debt := hc.balanceTracker.GetUserDebt(userID)

	if collateral.Sign() == 0 && debt.Sign() == 0 {
		return StatusEmpty
	}

	value := fpmath.CollateralValue(collateral, price)
	if !fpmath.MeetsMinimumRatio(value, debt, hc.riskParams.MinCollateralRatioPct) {
		return StatusLiquidatable
	}
	return StatusHealthy
}

// ScanLiquidatable evaluates position views against a price and returns the
// users below the minimum ratio. Called after oracle price updates to keep
// the at-risk gauge and logs current.
func (hc *HealthCalculator) ScanLiquidatable(positions []*Position, price *big.Int) []uuid.UUID {
	var flagged []uuid.UUID

	for _, pos := range positions {
		if !pos.HasDebt() {
			continue
		}
		value := fpmath.CollateralValue(pos.Collateral, price)
		if !fpmath.MeetsMinimumRatio(value, pos.Debt, hc.riskParams.MinCollateralRatioPct) {
			flagged = append(flagged, pos.UserID)
		}
	}

	return flagged
}
