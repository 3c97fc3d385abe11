package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"CornLedger/internal/event"
	"CornLedger/internal/observability"

	"github.com/rs/zerolog"
)

// FeedOracle holds the latest price accepted from the feed. Updates are
// gated by feed sequence: stale updates are dropped silently, gaps are
// tolerated with a warning. Reads past the max age fail with ErrStalePrice.
type FeedOracle struct {
	mu             sync.RWMutex
	price          *big.Int
	sequence       int64
	priceTimestamp int64 // Epoch microseconds as reported by the feed
	receivedAt     time.Time
	hasPrice       bool

	maxAge  time.Duration // 0 disables the age check
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewFeedOracle(maxAge time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *FeedOracle {
	return &FeedOracle{
		maxAge:  maxAge,
		logger:  logger,
		metrics: metrics,
	}
}

// Apply processes one feed update. Returns nil for dropped-as-stale updates
// so redelivered feed messages stay idempotent.
func (o *FeedOracle) Apply(update *event.PriceUpdate) error {
	if update.Price.Int == nil || update.Price.Sign() <= 0 {
		if o.metrics != nil {
			o.metrics.OraclePriceRejected.WithLabelValues("invalid").Inc()
		}
		o.logger.Warn().
			Int64("price_sequence", update.PriceSequence).
			Msg("rejected non-positive oracle price")
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.hasPrice {
		if update.PriceSequence <= o.sequence {
			// Stale or duplicate, drop silently
			if o.metrics != nil {
				o.metrics.OraclePriceRejected.WithLabelValues("stale").Inc()
			}
			return nil
		}
		if update.PriceSequence > o.sequence+1 {
			// Gaps are tolerable for prices, the latest one wins
			o.logger.Warn().
				Int64("expected", o.sequence+1).
				Int64("got", update.PriceSequence).
				Msg("oracle price sequence gap")
		}
	}

	o.price = new(big.Int).Set(update.Price.Int)
	o.sequence = update.PriceSequence
	o.priceTimestamp = update.PriceTimestamp
	o.receivedAt = time.Now()
	o.hasPrice = true

	if o.metrics != nil {
		price, _ := new(big.Float).SetInt(o.price).Float64()
		o.metrics.OraclePrice.Set(price)
		o.metrics.OraclePriceAge.Set(0)
		o.metrics.OraclePriceUpdates.Inc()
	}

	return nil
}

// GetPrice returns a copy of the latest accepted price
func (o *FeedOracle) GetPrice(ctx context.Context) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.hasPrice {
		return nil, ErrNoPrice
	}
	if o.maxAge > 0 && time.Since(o.receivedAt) > o.maxAge {
		return nil, ErrStalePrice
	}
	return new(big.Int).Set(o.price), nil
}

// LastPrice returns the latest accepted price with its feed metadata,
// ignoring the age check. ok is false before the first update.
func (o *FeedOracle) LastPrice() (price *big.Int, sequence int64, priceTimestamp int64, receivedAt time.Time, ok bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.hasPrice {
		return nil, 0, 0, time.Time{}, false
	}
	return new(big.Int).Set(o.price), o.sequence, o.priceTimestamp, o.receivedAt, true
}

// StartAgeReporter updates the price-age gauge until ctx is done
func (o *FeedOracle) StartAgeReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.mu.RLock()
				if o.hasPrice && o.metrics != nil {
					o.metrics.OraclePriceAge.Set(time.Since(o.receivedAt).Seconds())
				}
				o.mu.RUnlock()
			}
		}
	}()
}
