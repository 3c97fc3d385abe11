// internal/state/position.go
package state

import (
	"math/big"

	"github.com/google/uuid"
)

// PositionStatus classifies a position against the minimum collateral ratio
type PositionStatus int32

const (
	StatusEmpty        PositionStatus = iota // No collateral, no debt
	StatusHealthy                            // Ratio at or above the minimum
	StatusLiquidatable                       // Debt outstanding, ratio below the minimum
)

func (ps PositionStatus) String() string {
	switch ps {
	case StatusEmpty:
		return "Empty"
	case StatusHealthy:
		return "Healthy"
	case StatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// Position is a read view of one user's lending state. Collateral and Debt
// are copies of the ledger balances; mutating them does not touch the ledger.
type Position struct {
	UserID     uuid.UUID
	Collateral *big.Int // ETH base units
	Debt       *big.Int // CORN base units
}

// IsEmpty returns true if the position has no collateral and no debt
func (p *Position) IsEmpty() bool {
	return p.Collateral.Sign() == 0 && p.Debt.Sign() == 0
}

// HasDebt returns true if any CORN is outstanding
func (p *Position) HasDebt() bool {
	return p.Debt.Sign() > 0
}

// Clone returns an independent copy
func (p *Position) Clone() *Position {
	return &Position{
		UserID:     p.UserID,
		Collateral: new(big.Int).Set(p.Collateral),
		Debt:       new(big.Int).Set(p.Debt),
	}
}
