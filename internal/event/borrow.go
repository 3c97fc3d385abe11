package event

import "github.com/google/uuid"

// CornBorrowed records CORN issued against collateral
type CornBorrowed struct {
	OperationID uuid.UUID
	UserID      uuid.UUID
	Amount      Amount // CORN base units
	Price       Amount // Oracle price at execution
	Timestamp   int64  // Epoch microseconds
}

func (e *CornBorrowed) IdempotencyKey() string {
	return e.OperationID.String()
}

func (e *CornBorrowed) EventType() EventType {
	return EventTypeCornBorrowed
}

// CornRepaid records CORN debt retired by the user
type CornRepaid struct {
	OperationID uuid.UUID
	UserID      uuid.UUID
	Amount      Amount // CORN base units
	Price       Amount // Oracle price at execution
	Timestamp   int64  // Epoch microseconds
}

func (e *CornRepaid) IdempotencyKey() string {
	return e.OperationID.String()
}

func (e *CornRepaid) EventType() EventType {
	return EventTypeCornRepaid
}
