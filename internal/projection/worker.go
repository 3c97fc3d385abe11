package projection

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	UserID         string
	Payload        []byte
	JournalEntries []JournalEntry
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
// Amount is the base-unit integer as a decimal string.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	log       zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.log.Warn().Int64("sequence", output.Sequence).Err(err).Msg("projection update failed")
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Update the position row for the affected user
	if err := pw.updatePositionProjection(ctx, tx, output); err != nil {
		return fmt.Errorf("position projection: %w", err)
	}

	// Record completed liquidations
	if output.EventType == "PositionLiquidated" {
		if err := pw.insertLiquidation(ctx, tx, output); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, sequence int64) error {
	// Debit increases the balance, credit decreases it, matching the
	// in-memory tracker.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	return nil
}

// updatePositionProjection applies the event's net collateral and debt
// movement to the user's position row. Deltas are computed from the journal
// entries so the projection stays consistent with the balance table.
func (pw *ProjectionWorker) updatePositionProjection(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	if output.UserID == "" {
		return nil
	}

	collateralPath := fmt.Sprintf("user:%s:collateral:ETH", output.UserID)
	debtPath := fmt.Sprintf("user:%s:debt:CORN", output.UserID)

	collateralDelta := new(big.Int)
	debtDelta := new(big.Int)

	for _, j := range output.JournalEntries {
		amount, ok := new(big.Int).SetString(j.Amount, 10)
		if !ok {
			return fmt.Errorf("bad journal amount %q", j.Amount)
		}
		switch j.DebitAccount {
		case collateralPath:
			collateralDelta.Add(collateralDelta, amount)
		case debtPath:
			debtDelta.Add(debtDelta, amount)
		}
		switch j.CreditAccount {
		case collateralPath:
			collateralDelta.Sub(collateralDelta, amount)
		case debtPath:
			debtDelta.Sub(debtDelta, amount)
		}
	}

	if collateralDelta.Sign() == 0 && debtDelta.Sign() == 0 {
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (user_id, collateral, debt, last_sequence, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			collateral = projections.positions.collateral + $2::numeric,
			debt = projections.positions.debt + $3::numeric,
			last_sequence = $4,
			updated_at = NOW()
	`, output.UserID, collateralDelta.String(), debtDelta.String(), output.Sequence)

	return err
}

// RebuildProjections rebuilds all projection tables from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	// Truncate all projection tables
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.liquidations`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild from journal entries: debits add, credits subtract
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	// Positions derive from the user balance rows
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.positions (user_id, collateral, debt, last_sequence, updated_at)
		SELECT
			split_part(account_path, ':', 2)::uuid AS user_id,
			SUM(CASE WHEN split_part(account_path, ':', 3) = 'collateral' THEN balance ELSE 0 END) AS collateral,
			SUM(CASE WHEN split_part(account_path, ':', 3) = 'debt' THEN balance ELSE 0 END) AS debt,
			MAX(last_sequence) AS last_sequence,
			NOW()
		FROM projections.balances
		WHERE account_path LIKE 'user:%'
		GROUP BY split_part(account_path, ':', 2)
	`)
	if err != nil {
		return fmt.Errorf("rebuild positions: %w", err)
	}

	if err := rebuildLiquidations(ctx, db); err != nil {
		return fmt.Errorf("rebuild liquidations: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
