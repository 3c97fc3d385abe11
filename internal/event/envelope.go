package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
	EventTypeCornBorrowed
	EventTypeCornRepaid
	EventTypePositionLiquidated
)

// EventEnvelope wraps every applied operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key for the operation
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// User whose position the operation touched
	UserID uuid.UUID

	// Operation timestamp assigned at apply time
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	case EventTypeCornBorrowed:
		return "CornBorrowed"
	case EventTypeCornRepaid:
		return "CornRepaid"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	default:
		return "Unknown"
	}
}

// EventTypeFromString maps a persisted event type name back to the enum.
// Used when replaying the event log.
func EventTypeFromString(s string) EventType {
	switch s {
	case "CollateralDeposited":
		return EventTypeCollateralDeposited
	case "CollateralWithdrawn":
		return EventTypeCollateralWithdrawn
	case "CornBorrowed":
		return EventTypeCornBorrowed
	case "CornRepaid":
		return EventTypeCornRepaid
	case "PositionLiquidated":
		return EventTypePositionLiquidated
	default:
		return EventTypeUnknown
	}
}
