package oracle

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNoPrice means the oracle has not received any price yet
	ErrNoPrice = errors.New("oracle: no price available")

	// ErrStalePrice means the latest price is older than the configured max age
	ErrStalePrice = errors.New("oracle: price is stale")
)

// PriceOracle supplies the current ETH/CORN price. Every ledger operation
// reads the price fresh through this interface; the core never caches it.
type PriceOracle interface {
	// GetPrice returns the latest price in 18-decimal base units.
	GetPrice(ctx context.Context) (*big.Int, error)
}
