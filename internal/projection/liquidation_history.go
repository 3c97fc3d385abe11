package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// liquidationPayload mirrors the PositionLiquidated event payload. Amounts
// arrive as decimal strings and pass straight through to NUMERIC columns.
type liquidationPayload struct {
	LiquidationID    string
	UserID           string
	LiquidatorID     string
	DebtRepaid       string
	CollateralSeized string
	Bonus            string
	Price            string
	Timestamp        int64
}

// insertLiquidation appends a completed liquidation to the history table.
func (pw *ProjectionWorker) insertLiquidation(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	var p liquidationPayload
	if err := json.Unmarshal(output.Payload, &p); err != nil {
		return fmt.Errorf("parse liquidation payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(liquidation_id, user_id, liquidator_id, debt_repaid, collateral_seized, bonus, price, sequence, timestamp)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9)
		ON CONFLICT (liquidation_id) DO NOTHING
	`, p.LiquidationID, p.UserID, p.LiquidatorID,
		p.DebtRepaid, p.CollateralSeized, p.Bonus, p.Price,
		output.Sequence, p.Timestamp)

	return err
}

// rebuildLiquidations repopulates the liquidation history from the event log.
func rebuildLiquidations(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, payload
		FROM event_log.events
		WHERE event_type = 'PositionLiquidated'
		ORDER BY sequence ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type pending struct {
		sequence int64
		payload  liquidationPayload
	}
	var liquidations []pending

	for rows.Next() {
		var sequence int64
		var raw []byte
		if err := rows.Scan(&sequence, &raw); err != nil {
			return err
		}
		var p liquidationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parse liquidation payload at seq %d: %w", sequence, err)
		}
		liquidations = append(liquidations, pending{sequence: sequence, payload: p})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, l := range liquidations {
		p := l.payload
		if _, err := db.ExecContext(ctx, `
			INSERT INTO projections.liquidations
				(liquidation_id, user_id, liquidator_id, debt_repaid, collateral_seized, bonus, price, sequence, timestamp)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9)
			ON CONFLICT (liquidation_id) DO NOTHING
		`, p.LiquidationID, p.UserID, p.LiquidatorID,
			p.DebtRepaid, p.CollateralSeized, p.Bonus, p.Price,
			l.sequence, p.Timestamp); err != nil {
			return err
		}
	}

	return nil
}
