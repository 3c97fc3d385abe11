package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"CornLedger/internal/event"
)

// priceUpdateJSON is the wire format published by the oracle feed.
// Field names use snake_case to match upstream producers. The price is a
// base-unit integer carried as a decimal string, since 18-decimal values
// overflow int64 and lose precision as JSON numbers.
type priceUpdateJSON struct {
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp_us"`
}

// ParsePriceUpdate validates and converts a raw oracle feed message.
// Structural validation only: the oracle itself decides whether the price
// is acceptable (positive, fresher than the last accepted sequence).
func ParsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}

	if j.Price == "" {
		return nil, fmt.Errorf("parse PriceUpdate: missing price")
	}
	price, ok := new(big.Int).SetString(j.Price, 10)
	if !ok {
		return nil, fmt.Errorf("parse PriceUpdate: invalid price %q", j.Price)
	}
	if j.PriceSequence < 0 {
		return nil, fmt.Errorf("parse PriceUpdate: negative price_sequence %d", j.PriceSequence)
	}

	return &event.PriceUpdate{
		Price:          event.NewAmount(price),
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}
