package event

// PriceUpdate is an oracle price message from the feed. It updates the
// oracle collaborator, not the ledger, so it carries no envelope and is
// never written to the event log.
type PriceUpdate struct {
	Price          Amount // ETH/CORN price, 18-decimal base units
	PriceSequence  int64  // Monotonic feed sequence
	PriceTimestamp int64  // Epoch microseconds (versioned input)
}
