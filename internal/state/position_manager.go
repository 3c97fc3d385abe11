package state

import (
	"CornLedger/internal/ledger"
	"sort"

	"github.com/google/uuid"
)

// PositionManager derives position views from the balance tracker. The
// tracker is the single source of truth for collateral and debt; this type
// never holds balances of its own.
type PositionManager struct {
	tracker *ledger.BalanceTracker
}

func NewPositionManager(tracker *ledger.BalanceTracker) *PositionManager {
	return &PositionManager{
		tracker: tracker,
	}
}

// GetPosition returns the position view for a user. A user the ledger has
// never seen gets a zero position.
func (pm *PositionManager) GetPosition(userID uuid.UUID) *Position {
	return &Position{
		UserID:     userID,
		Collateral: pm.tracker.GetUserCollateral(userID),
		Debt:       pm.tracker.GetUserDebt(userID),
	}
}

// AllPositions folds the tracker's user accounts into position views,
// sorted by user ID for deterministic iteration. Empty positions left
// behind by full withdrawals are skipped.
func (pm *PositionManager) AllPositions() []*Position {
	seen := make(map[uuid.UUID]bool)
	for key := range pm.tracker.Snapshot() {
		if key.Scope != ledger.AccountScopeUser {
			continue
		}
		seen[uuid.UUID(key.EntityID)] = true
	}

	result := make([]*Position, 0, len(seen))
	for userID := range seen {
		pos := pm.GetPosition(userID)
		if pos.IsEmpty() {
			continue
		}
		result = append(result, pos)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID.String() < result[j].UserID.String()
	})

	return result
}
