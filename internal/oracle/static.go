package oracle

import (
	"context"
	"math/big"
	"sync"
)

// StaticOracle holds a manually set price. Used in tests and for local
// development without a feed.
type StaticOracle struct {
	mu    sync.RWMutex
	price *big.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{}
}

// NewStaticOracleWithPrice returns a static oracle pre-seeded with a price
func NewStaticOracleWithPrice(price *big.Int) *StaticOracle {
	return &StaticOracle{price: new(big.Int).Set(price)}
}

// SetPrice replaces the stored price
func (o *StaticOracle) SetPrice(price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = new(big.Int).Set(price)
}

// GetPrice returns a copy of the stored price, or ErrNoPrice if unset
func (o *StaticOracle) GetPrice(ctx context.Context) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price == nil {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(o.price), nil
}
