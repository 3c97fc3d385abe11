package state

import (
	"math/big"

	"github.com/google/uuid"
)

// recentLiquidationsPerUser caps the in-memory history; the full history
// lives in the projections database.
const recentLiquidationsPerUser = 128

// LiquidationRecord captures one completed liquidation. Liquidations are
// atomic: the full debt is cleared and the payout seized in a single batch,
// so there is no partial-fill state to track.
type LiquidationRecord struct {
	LiquidationID    uuid.UUID
	UserID           uuid.UUID
	LiquidatorID     uuid.UUID
	DebtRepaid       *big.Int // CORN base units
	CollateralSeized *big.Int // ETH base units paid to the liquidator
	Bonus            *big.Int // ETH base units, portion of the seizure above the pro-rata share
	Price            *big.Int // Oracle price at execution
	Sequence         int64
	Timestamp        int64 // Epoch microseconds
}

// LiquidationManager keeps recent liquidation outcomes per user
type LiquidationManager struct {
	recentByUser map[uuid.UUID][]*LiquidationRecord
	totalCount   int64
}

func NewLiquidationManager() *LiquidationManager {
	return &LiquidationManager{
		recentByUser: make(map[uuid.UUID][]*LiquidationRecord),
	}
}

// Record stores a completed liquidation, trimming the per-user history to
// the most recent entries.
func (lm *LiquidationManager) Record(rec *LiquidationRecord) {
	records := append(lm.recentByUser[rec.UserID], rec)
	if len(records) > recentLiquidationsPerUser {
		records = records[len(records)-recentLiquidationsPerUser:]
	}
	lm.recentByUser[rec.UserID] = records
	lm.totalCount++
}

// RecentByUser returns up to limit most recent liquidations for a user,
// newest first. limit <= 0 returns all retained records.
func (lm *LiquidationManager) RecentByUser(userID uuid.UUID, limit int) []*LiquidationRecord {
	records := lm.recentByUser[userID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	result := make([]*LiquidationRecord, 0, limit)
	for i := len(records) - 1; i >= len(records)-limit; i-- {
		result = append(result, records[i])
	}
	return result
}

// TotalCount returns the number of liquidations recorded since start
func (lm *LiquidationManager) TotalCount() int64 {
	return lm.totalCount
}
