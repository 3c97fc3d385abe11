package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BalanceResponse represents one projected ledger account for API queries.
type BalanceResponse struct {
	AccountPath  string `json:"account_path"`
	AssetID      uint16 `json:"asset_id"`
	Balance      string `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetBalances returns every projected account row belonging to a user:
// the collateral account and the debt account, when they exist.
func (qs *QueryService) GetBalances(ctx context.Context, userID uuid.UUID) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance::text, last_sequence
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path
	`, accountPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		var b BalanceResponse
		b.AsOfSequence = asOfSeq
		if err := rows.Scan(&b.AccountPath, &b.AssetID, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}

	return balances, rows.Err()
}
