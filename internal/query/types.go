package query

import "github.com/google/uuid"

// PositionResponse represents a projected position for API queries.
// Amounts are base-unit integers as decimal strings.
type PositionResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Collateral   string    `json:"collateral"`
	Debt         string    `json:"debt"`
	LastSequence int64     `json:"last_sequence"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// LiquidationResponse represents a completed liquidation for API queries.
type LiquidationResponse struct {
	LiquidationID    string    `json:"liquidation_id"`
	UserID           uuid.UUID `json:"user_id"`
	LiquidatorID     string    `json:"liquidator_id"`
	DebtRepaid       string    `json:"debt_repaid"`
	CollateralSeized string    `json:"collateral_seized"`
	Bonus            string    `json:"bonus"`
	Price            string    `json:"price"`
	Sequence         int64     `json:"sequence"`
	Timestamp        int64     `json:"timestamp"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
