package event

import "github.com/google/uuid"

// CollateralDeposited records ETH collateral credited to a position
type CollateralDeposited struct {
	OperationID uuid.UUID
	UserID      uuid.UUID
	Amount      Amount // ETH base units
	Price       Amount // Oracle price at execution
	Timestamp   int64  // Epoch microseconds
}

func (e *CollateralDeposited) IdempotencyKey() string {
	return e.OperationID.String()
}

func (e *CollateralDeposited) EventType() EventType {
	return EventTypeCollateralDeposited
}

// CollateralWithdrawn records ETH collateral returned to the user
type CollateralWithdrawn struct {
	OperationID uuid.UUID
	UserID      uuid.UUID
	Amount      Amount // ETH base units
	Price       Amount // Oracle price at execution
	Timestamp   int64  // Epoch microseconds
}

func (e *CollateralWithdrawn) IdempotencyKey() string {
	return e.OperationID.String()
}

func (e *CollateralWithdrawn) EventType() EventType {
	return EventTypeCollateralWithdrawn
}
