package state

import "fmt"

// RiskParams defines the collateralization requirements for the ledger
type RiskParams struct {
	MinCollateralRatioPct int64 // Whole percent, e.g. 120 = 120%
	LiquidationBonusPct   int64 // Whole percent of the seized portion, e.g. 10 = 10%
}

// DefaultRiskParams returns the standard 120% minimum ratio with a 10%
// liquidator bonus.
func DefaultRiskParams() *RiskParams {
	return &RiskParams{
		MinCollateralRatioPct: 120,
		LiquidationBonusPct:   10,
	}
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// min_ratio > 100 (positions must be over-collateralized), 0 <= bonus < 100.
func ValidateRiskParams(params *RiskParams) error {
	if params.MinCollateralRatioPct <= 100 {
		return fmt.Errorf("min_collateral_ratio_pct must be > 100, got %d", params.MinCollateralRatioPct)
	}
	if params.LiquidationBonusPct < 0 {
		return fmt.Errorf("liquidation_bonus_pct must be >= 0, got %d", params.LiquidationBonusPct)
	}
	if params.LiquidationBonusPct >= 100 {
		return fmt.Errorf("liquidation_bonus_pct must be < 100, got %d", params.LiquidationBonusPct)
	}
	return nil
}
