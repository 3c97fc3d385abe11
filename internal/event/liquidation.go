package event

import "github.com/google/uuid"

// PositionLiquidated records a forced close: the liquidator repaid the full
// debt and received the seized collateral. CollateralSeized is already
// clamped to what the position held, so Bonus may be less than the nominal
// bonus percentage.
type PositionLiquidated struct {
	LiquidationID    uuid.UUID
	UserID           uuid.UUID
	LiquidatorID     uuid.UUID
	DebtRepaid       Amount // CORN base units
	CollateralSeized Amount // ETH base units paid to the liquidator
	Bonus            Amount // ETH base units above the pro-rata portion
	Price            Amount // Oracle price at execution
	Timestamp        int64  // Epoch microseconds
}

func (e *PositionLiquidated) IdempotencyKey() string {
	return e.LiquidationID.String()
}

func (e *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}
