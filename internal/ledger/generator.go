package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for lending operations.
// Sequences are assigned by the core and passed in; the generator never
// advances its own counter.
type JournalGenerator struct {
	balanceTracker *BalanceTracker // For pre-checks against current balances
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

func newBatch(eventRef string, sequence, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(
	b *Batch,
	debit, credit AccountKey,
	amount *big.Int,
	jt JournalType,
) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateDeposit records collateral entering the ledger.
// Moves funds: external:vault -> user:collateral
func (jg *JournalGenerator) GenerateDeposit(
	userID uuid.UUID,
	amount *big.Int,
	eventRef string,
	sequence, timestamp int64,
) (*Batch, error) {
	batch := newBatch(eventRef, sequence, timestamp, 1)
	jg.appendJournal(batch, CollateralAccount(userID), VaultAccount(), amount, JournalTypeCollateralDeposit)
	return batch, nil
}

// GenerateWithdrawal records collateral leaving the ledger.
// Moves funds: user:collateral -> external:vault
// Pre-check: the user must hold at least the withdrawn amount.
func (jg *JournalGenerator) GenerateWithdrawal(
	userID uuid.UUID,
	amount *big.Int,
	eventRef string,
	sequence, timestamp int64,
) (*Batch, error) {
	collateral := jg.balanceTracker.GetUserCollateral(userID)
	if collateral.Cmp(amount) < 0 {
		return nil, fmt.Errorf("withdrawal pre-check failed: collateral=%s, requested=%s", collateral, amount)
	}

	batch := newBatch(eventRef, sequence, timestamp, 1)
	jg.appendJournal(batch, VaultAccount(), CollateralAccount(userID), amount, JournalTypeCollateralWithdrawal)
	return batch, nil
}

// GenerateBorrow records newly issued CORN debt.
// Moves funds: system:corn_issued -> user:debt
func (jg *JournalGenerator) GenerateBorrow(
	userID uuid.UUID,
	amount *big.Int,
	eventRef string,
	sequence, timestamp int64,
) (*Batch, error) {
	batch := newBatch(eventRef, sequence, timestamp, 1)
	jg.appendJournal(batch, DebtAccount(userID), CornIssuedAccount(), amount, JournalTypeBorrow)
	return batch, nil
}

// GenerateRepay records CORN debt being retired.
// Moves funds: user:debt -> system:corn_issued
// Pre-check: the user must owe at least the repaid amount.
func (jg *JournalGenerator) GenerateRepay(
	userID uuid.UUID,
	amount *big.Int,
	eventRef string,
	sequence, timestamp int64,
) (*Batch, error) {
	debt := jg.balanceTracker.GetUserDebt(userID)
	if debt.Cmp(amount) < 0 {
		return nil, fmt.Errorf("repay pre-check failed: debt=%s, requested=%s", debt, amount)
	}

	batch := newBatch(eventRef, sequence, timestamp, 1)
	jg.appendJournal(batch, CornIssuedAccount(), DebtAccount(userID), amount, JournalTypeRepay)
	return batch, nil
}

// GenerateLiquidation records a forced close: the full debt is retired and
// the payout collateral is seized to the liquidator, two entries under one
// batch. The payout entry is omitted when the payout is zero.
// Pre-checks: the user must owe the cleared debt and hold the seized payout.
func (jg *JournalGenerator) GenerateLiquidation(
	userID uuid.UUID,
	debtCleared, payout *big.Int,
	eventRef string,
	sequence, timestamp int64,
) (*Batch, error) {
	debt := jg.balanceTracker.GetUserDebt(userID)
	if debt.Cmp(debtCleared) < 0 {
		return nil, fmt.Errorf("liquidation pre-check failed: debt=%s, clearing=%s", debt, debtCleared)
	}
	collateral := jg.balanceTracker.GetUserCollateral(userID)
	if collateral.Cmp(payout) < 0 {
		return nil, fmt.Errorf("liquidation pre-check failed: collateral=%s, seizing=%s", collateral, payout)
	}

	batch := newBatch(eventRef, sequence, timestamp, 2)
	jg.appendJournal(batch, CornIssuedAccount(), DebtAccount(userID), debtCleared, JournalTypeLiquidationRepay)
	if payout.Sign() > 0 {
		jg.appendJournal(batch, VaultAccount(), CollateralAccount(userID), payout, JournalTypeLiquidationSeizure)
	}
	return batch, nil
}
