package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"CornLedger/internal/event"
	"CornLedger/internal/ledger"
	fpmath "CornLedger/internal/math"
	"CornLedger/internal/observability"
	"CornLedger/internal/oracle"
	"CornLedger/internal/state"
	"CornLedger/internal/token"

	"github.com/google/uuid"
)

// LendingCore owns all position state. Every operation, mutating or read,
// executes under one lock, so callers observe strictly serial semantics: no
// operation sees a price or balance from the middle of another.
//
// Mutations are staged apply-only-on-full-success: guards, batch
// construction, validation, and external transfers all run before the first
// in-memory write, and nothing fallible runs after it. A failed call leaves
// the ledger exactly as it was.
type LendingCore struct {
	mu sync.Mutex

	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	positions      *state.PositionManager
	health         *state.HealthCalculator
	liquidations   *state.LiquidationManager
	riskParams     *state.RiskParams
	idempotency    *IdempotencyChecker

	priceOracle oracle.PriceOracle
	corn        token.CornLedger
	vault       token.CollateralVault

	metrics *observability.Metrics

	// Timestamp source, overridable for deterministic tests
	now func() time.Time

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

// Receipt reports an applied operation back to the caller. Duplicate
// acknowledgements carry the already-applied position with zero Sequence.
type Receipt struct {
	Sequence  int64
	Price     *big.Int
	Position  *state.Position
	Duplicate bool
}

// LiquidationReceipt adds the liquidation outcome fields
type LiquidationReceipt struct {
	Receipt
	LiquidationID    uuid.UUID
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	Bonus            *big.Int
}

func NewLendingCore(
	startSequence int64,
	params *state.RiskParams,
	priceOracle oracle.PriceOracle,
	corn token.CornLedger,
	vault token.CollateralVault,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *LendingCore {
	if params == nil {
		params = state.DefaultRiskParams()
	}
	balanceTracker := ledger.NewBalanceTracker()

	return &LendingCore{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(balanceTracker),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		positions:      state.NewPositionManager(balanceTracker),
		health:         state.NewHealthCalculator(balanceTracker, params),
		liquidations:   state.NewLiquidationManager(),
		riskParams:     params,
		idempotency:    NewIdempotencyChecker(1_000_000, dbChecker),
		priceOracle:    priceOracle,
		corn:           corn,
		vault:          vault,
		metrics:        metrics,
		now:            time.Now,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// SetClock overrides the timestamp source for deterministic tests
func (c *LendingCore) SetClock(now func() time.Time) {
	c.now = now
}

// --- Mutating operations ---

// AddCollateral pulls collateral from the user's wallet into custody and
// credits the position. No solvency check: added collateral can only
// improve the ratio.
func (c *LendingCore) AddCollateral(ctx context.Context, operationID, userID uuid.UUID, amount *big.Int) (*Receipt, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	operation := event.EventTypeCollateralDeposited.String()

	if err := validateAmount(amount); err != nil {
		return nil, c.reject(operation, err)
	}
	if c.idempotency.IsDuplicate(operation, operationID.String()) {
		return c.duplicateReceipt(operation, userID), nil
	}

	price, err := c.readPrice(ctx)
	if err != nil {
		return nil, c.reject(operation, err)
	}

	timestamp := c.now()
	evt := &event.CollateralDeposited{
		OperationID: operationID,
		UserID:      userID,
		Amount:      event.NewAmount(amount),
		Price:       event.NewAmount(price),
		Timestamp:   timestamp.UnixMicro(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("encode event: %w", err))
	}

	batch, err := c.journalGen.GenerateDeposit(userID, amount, evt.IdempotencyKey(), c.sequence, timestamp.UnixMicro())
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("generate deposit: %w", err))
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}

	// Last fallible step: after the pull lands, only the infallible apply
	// remains, so a failure here leaves the ledger untouched.
	if err := c.vault.TransferIn(userID, amount); err != nil {
		return nil, c.reject(operation, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	envelope := c.applyAndEmit(evt, payload, userID, batch, timestamp)
	c.recordApplied(operation, start)
	return c.receipt(envelope, price, userID), nil
}

// WithdrawCollateral returns collateral to the user's wallet. The position
// left behind must still meet the minimum collateral ratio.
func (c *LendingCore) WithdrawCollateral(ctx context.Context, operationID, userID uuid.UUID, amount *big.Int) (*Receipt, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	operation := event.EventTypeCollateralWithdrawn.String()

	if err := validateAmount(amount); err != nil {
		return nil, c.reject(operation, err)
	}
	if c.idempotency.IsDuplicate(operation, operationID.String()) {
		return c.duplicateReceipt(operation, userID), nil
	}

	collateral := c.balanceTracker.GetUserCollateral(userID)
	if collateral.Cmp(amount) < 0 {
		return nil, c.reject(operation, fmt.Errorf("%w: withdrawal %s exceeds collateral %s", ErrInvalidAmount, amount, collateral))
	}

	price, err := c.readPrice(ctx)
	if err != nil {
		return nil, c.reject(operation, err)
	}

	// Projected solvency: check the position as it would be after the
	// withdrawal, before anything moves.
	debt := c.balanceTracker.GetUserDebt(userID)
	remaining := new(big.Int).Sub(collateral, amount)
	if !fpmath.MeetsMinimumRatio(fpmath.CollateralValue(remaining, price), debt, c.riskParams.MinCollateralRatioPct) {
		return nil, c.reject(operation, ErrUnsafePositionRatio)
	}

	timestamp := c.now()
	evt := &event.CollateralWithdrawn{
		OperationID: operationID,
		UserID:      userID,
		Amount:      event.NewAmount(amount),
		Price:       event.NewAmount(price),
		Timestamp:   timestamp.UnixMicro(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("encode event: %w", err))
	}

	batch, err := c.journalGen.GenerateWithdrawal(userID, amount, evt.IdempotencyKey(), c.sequence, timestamp.UnixMicro())
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("generate withdrawal: %w", err))
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}

	if err := c.vault.TransferOut(userID, amount); err != nil {
		return nil, c.reject(operation, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	envelope := c.applyAndEmit(evt, payload, userID, batch, timestamp)
	c.recordApplied(operation, start)
	return c.receipt(envelope, price, userID), nil
}

// BorrowCorn issues CORN to the user against their collateral. The position
// with the new debt must meet the minimum collateral ratio.
func (c *LendingCore) BorrowCorn(ctx context.Context, operationID, userID uuid.UUID, amount *big.Int) (*Receipt, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	operation := event.EventTypeCornBorrowed.String()

	if err := validateAmount(amount); err != nil {
		return nil, c.reject(operation, err)
	}
	if c.idempotency.IsDuplicate(operation, operationID.String()) {
		return c.duplicateReceipt(operation, userID), nil
	}

	price, err := c.readPrice(ctx)
	if err != nil {
		return nil, c.reject(operation, err)
	}

	collateral := c.balanceTracker.GetUserCollateral(userID)
	debt := c.balanceTracker.GetUserDebt(userID)
	projectedDebt := new(big.Int).Add(debt, amount)
	if !fpmath.MeetsMinimumRatio(fpmath.CollateralValue(collateral, price), projectedDebt, c.riskParams.MinCollateralRatioPct) {
		return nil, c.reject(operation, ErrUnsafePositionRatio)
	}

	timestamp := c.now()
	evt := &event.CornBorrowed{
		OperationID: operationID,
		UserID:      userID,
		Amount:      event.NewAmount(amount),
		Price:       event.NewAmount(price),
		Timestamp:   timestamp.UnixMicro(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("encode event: %w", err))
	}

	batch, err := c.journalGen.GenerateBorrow(userID, amount, evt.IdempotencyKey(), c.sequence, timestamp.UnixMicro())
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("generate borrow: %w", err))
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}

	if err := c.corn.Transfer(userID, amount); err != nil {
		return nil, c.reject(operation, fmt.Errorf("%w: %v", ErrBorrowingFailed, err))
	}

	envelope := c.applyAndEmit(evt, payload, userID, batch, timestamp)
	c.recordApplied(operation, start)
	return c.receipt(envelope, price, userID), nil
}

// RepayCorn pulls CORN from the user under their standing allowance and
// retires that much debt. No solvency check: repayment can only improve
// the ratio.
func (c *LendingCore) RepayCorn(ctx context.Context, operationID, userID uuid.UUID, amount *big.Int) (*Receipt, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	operation := event.EventTypeCornRepaid.String()

	if err := validateAmount(amount); err != nil {
		return nil, c.reject(operation, err)
	}
	if c.idempotency.IsDuplicate(operation, operationID.String()) {
		return c.duplicateReceipt(operation, userID), nil
	}

	debt := c.balanceTracker.GetUserDebt(userID)
	if debt.Cmp(amount) < 0 {
		return nil, c.reject(operation, fmt.Errorf("%w: repayment %s exceeds debt %s", ErrInvalidAmount, amount, debt))
	}

	price, err := c.readPrice(ctx)
	if err != nil {
		return nil, c.reject(operation, err)
	}

	timestamp := c.now()
	evt := &event.CornRepaid{
		OperationID: operationID,
		UserID:      userID,
		Amount:      event.NewAmount(amount),
		Price:       event.NewAmount(price),
		Timestamp:   timestamp.UnixMicro(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("encode event: %w", err))
	}

	batch, err := c.journalGen.GenerateRepay(userID, amount, evt.IdempotencyKey(), c.sequence, timestamp.UnixMicro())
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("generate repay: %w", err))
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}

	if err := c.corn.TransferFrom(userID, token.LedgerAccount, amount); err != nil {
		return nil, c.reject(operation, fmt.Errorf("%w: %v", ErrRepayingFailed, err))
	}

	envelope := c.applyAndEmit(evt, payload, userID, batch, timestamp)
	c.recordApplied(operation, start)
	return c.receipt(envelope, price, userID), nil
}

// Liquidate forcibly closes an unsafe position: the liquidator covers the
// full debt in CORN and receives the matching collateral plus a bonus,
// clamped to what the position actually holds.
func (c *LendingCore) Liquidate(ctx context.Context, liquidationID, liquidatorID, userID uuid.UUID) (*LiquidationReceipt, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	operation := event.EventTypePositionLiquidated.String()

	if c.idempotency.IsDuplicate(operation, liquidationID.String()) {
		return &LiquidationReceipt{Receipt: *c.duplicateReceipt(operation, userID)}, nil
	}

	price, err := c.readPrice(ctx)
	if err != nil {
		return nil, c.reject(operation, err)
	}

	userDebt := c.balanceTracker.GetUserDebt(userID)
	userCollateral := c.balanceTracker.GetUserCollateral(userID)
	collateralValue := fpmath.CollateralValue(userCollateral, price)

	// Strict boundary: a ratio exactly at the minimum is safe. Zero debt is
	// vacuously safe and rejected here too.
	if fpmath.MeetsMinimumRatio(collateralValue, userDebt, c.riskParams.MinCollateralRatioPct) {
		return nil, c.reject(operation, ErrNotLiquidatable)
	}

	if c.corn.BalanceOf(liquidatorID).Cmp(userDebt) < 0 {
		return nil, c.reject(operation, ErrInsufficientLiquidatorCorn)
	}

	// Payout: collateral share matching the repaid debt plus the bonus,
	// clamped to the position's holdings. collateralValue == 0 implies
	// collateral == 0 here (price is positive), so the division is skipped
	// and the payout stays zero.
	payout := new(big.Int)
	bonus := new(big.Int)
	if collateralValue.Sign() > 0 {
		portion := fpmath.LiquidationPortion(userDebt, userCollateral, collateralValue)
		bonus = fpmath.LiquidationBonus(portion, c.riskParams.LiquidationBonusPct)
		payout.Add(portion, bonus)
		if payout.Cmp(userCollateral) > 0 {
			payout.Set(userCollateral)
			if c.metrics != nil {
				c.metrics.LiquidationShortfall.Inc()
			}
		}
	}

	timestamp := c.now()
	evt := &event.PositionLiquidated{
		LiquidationID:    liquidationID,
		UserID:           userID,
		LiquidatorID:     liquidatorID,
		DebtRepaid:       event.NewAmount(userDebt),
		CollateralSeized: event.NewAmount(payout),
		Bonus:            event.NewAmount(bonus),
		Price:            event.NewAmount(price),
		Timestamp:        timestamp.UnixMicro(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("encode event: %w", err))
	}

	batch, err := c.journalGen.GenerateLiquidation(userID, userDebt, payout, evt.IdempotencyKey(), c.sequence, timestamp.UnixMicro())
	if err != nil {
		return nil, c.reject(operation, fmt.Errorf("generate liquidation: %w", err))
	}
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}

	// Two external legs. The CORN pull runs first; if the payout leg then
	// fails, the pull is compensated so the liquidator is made whole before
	// the error returns.
	if err := c.corn.TransferFrom(liquidatorID, token.LedgerAccount, userDebt); err != nil {
		return nil, c.reject(operation, fmt.Errorf("%w: %v", ErrRepayingFailed, err))
	}
	if payout.Sign() > 0 {
		if err := c.vault.TransferOut(liquidatorID, payout); err != nil {
			if compErr := c.corn.Transfer(liquidatorID, userDebt); compErr != nil {
				panic(fmt.Sprintf("FATAL: liquidation refund failed after payout failure: payout: %v, refund: %v", err, compErr))
			}
			return nil, c.reject(operation, fmt.Errorf("%w: %v", ErrTransferFailed, err))
		}
	}

	envelope := c.applyAndEmit(evt, payload, userID, batch, timestamp)

	c.liquidations.Record(&state.LiquidationRecord{
		LiquidationID:    liquidationID,
		UserID:           userID,
		LiquidatorID:     liquidatorID,
		DebtRepaid:       new(big.Int).Set(userDebt),
		CollateralSeized: new(big.Int).Set(payout),
		Bonus:            new(big.Int).Set(bonus),
		Price:            new(big.Int).Set(price),
		Sequence:         envelope.Sequence,
		Timestamp:        timestamp.UnixMicro(),
	})
	if c.metrics != nil {
		c.metrics.LiquidationsTotal.Inc()
	}
	c.recordApplied(operation, start)

	return &LiquidationReceipt{
		Receipt: Receipt{
			Sequence: envelope.Sequence,
			Price:    price,
			Position: c.positions.GetPosition(userID),
		},
		LiquidationID:    liquidationID,
		DebtRepaid:       userDebt,
		CollateralSeized: payout,
		Bonus:            bonus,
	}, nil
}

// --- Reads ---

// GetPosition returns the user's position view
func (c *LendingCore) GetPosition(userID uuid.UUID) *state.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions.GetPosition(userID)
}

// AllPositions returns every non-empty position, ordered by user ID
func (c *LendingCore) AllPositions() []*state.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions.AllPositions()
}

// CollateralValue prices the user's collateral with a fresh oracle read
func (c *LendingCore) CollateralValue(ctx context.Context, userID uuid.UUID) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, err := c.readPrice(ctx)
	if err != nil {
		return nil, err
	}
	return c.health.ComputeCollateralValue(userID, price), nil
}

// PositionRatio returns the whole-percent collateralization ratio at a
// fresh oracle price. Zero debt reports the max-uint256 sentinel.
func (c *LendingCore) PositionRatio(ctx context.Context, userID uuid.UUID) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, err := c.readPrice(ctx)
	if err != nil {
		return nil, err
	}
	return c.health.ComputePositionRatio(userID, price), nil
}

// IsLiquidatable reports whether the position sits strictly below the
// minimum collateral ratio at a fresh oracle price
func (c *LendingCore) IsLiquidatable(ctx context.Context, userID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, err := c.readPrice(ctx)
	if err != nil {
		return false, err
	}
	return c.health.IsLiquidatable(userID, price), nil
}

// CurrentPrice returns a fresh oracle read with the zero-price guard applied
func (c *LendingCore) CurrentPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPrice(ctx)
}

// RecentLiquidations returns up to limit liquidation records for the user,
// newest first
func (c *LendingCore) RecentLiquidations(userID uuid.UUID, limit int) []*state.LiquidationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liquidations.RecentByUser(userID, limit)
}

// VerifyGlobalBalance checks the per-asset zero-sum invariant
func (c *LendingCore) VerifyGlobalBalance() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validator.ValidateGlobalBalance()
}

// RefreshRiskGauges recomputes the position gauges at the given price and
// returns the users currently below the minimum ratio. Called after each
// accepted oracle price update.
func (c *LendingCore) RefreshRiskGauges(price *big.Int) []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := c.positions.AllPositions()
	flagged := c.health.ScanLiquidatable(positions, price)

	if c.metrics != nil {
		totalCollateral := new(big.Int)
		totalDebt := new(big.Int)
		for _, pos := range positions {
			totalCollateral.Add(totalCollateral, pos.Collateral)
			totalDebt.Add(totalDebt, pos.Debt)
		}
		col, _ := new(big.Float).SetInt(totalCollateral).Float64()
		debt, _ := new(big.Float).SetInt(totalDebt).Float64()
		c.metrics.TotalCollateral.Set(col)
		c.metrics.TotalDebt.Set(debt)
		c.metrics.OpenPositions.Set(float64(len(positions)))
		c.metrics.LiquidatablePositions.Set(float64(len(flagged)))
	}

	return flagged
}

// --- Pipeline internals ---

// readPrice takes one fresh oracle read per operation and applies the
// zero-price guard
func (c *LendingCore) readPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.priceOracle.GetPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidOraclePrice
	}
	return price, nil
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (c *LendingCore) reject(operation string, err error) error {
	if c.metrics != nil {
		c.metrics.CoreOpsRejected.WithLabelValues(operation, errorKind(err)).Inc()
	}
	return err
}

// duplicateReceipt acknowledges an already-applied operation without
// re-applying it
func (c *LendingCore) duplicateReceipt(operation string, userID uuid.UUID) *Receipt {
	if c.metrics != nil {
		c.metrics.CoreOpsRejected.WithLabelValues(operation, "duplicate").Inc()
	}
	return &Receipt{
		Position:  c.positions.GetPosition(userID),
		Duplicate: true,
	}
}

func (c *LendingCore) receipt(envelope *event.EventEnvelope, price *big.Int, userID uuid.UUID) *Receipt {
	return &Receipt{
		Sequence: envelope.Sequence,
		Price:    price,
		Position: c.positions.GetPosition(userID),
	}
}

// applyAndEmit runs the infallible tail of the pipeline: apply the batch,
// chain the hash, build the envelope, run post-checks, emit outputs, and
// mark the operation processed.
func (c *LendingCore) applyAndEmit(evt event.Event, payload []byte, userID uuid.UUID, batch *ledger.Batch, timestamp time.Time) *event.EventEnvelope {
	if err := c.balanceTracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply failed after validation: %v", err))
	}
	if c.metrics != nil {
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}

	stateDigest := c.computeStateDigest(batch)

	// Capture the chain tip before ComputeHash advances it
	prevHash := c.hasher.GetPrevHash()
	hashStart := time.Now()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		UserID:         userID,
		Timestamp:      timestamp,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if err := c.postCheckInvariants(userID); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
	}

	// Persistence: blocking send. The engine stalls until the persistence
	// worker drains, so no applied operation is ever lost.
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	// Projections: non-blocking send, drop on full. The projection worker
	// catches up from the event log via its watermark.
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("ledger").Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())

	c.sequence++
	return envelope
}

func (c *LendingCore) recordApplied(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.CoreOpsApplied.WithLabelValues(operation).Inc()
		c.metrics.CoreOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
}

// computeStateDigest creates canonical bytes for the state hash: the
// post-apply balance of every account the batch touched, sorted by path
func (c *LendingCore) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendBigInt(digest, balance)
	}

	return digest
}

// appendBigInt encodes sign, magnitude length, and big-endian magnitude
func appendBigInt(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	buf = append(buf, sign, byte(len(mag)))
	return append(buf, mag...)
}

// postCheckInvariants validates balances after batch application
func (c *LendingCore) postCheckInvariants(userID uuid.UUID) error {
	if err := c.balanceTracker.ValidateUserNonNegative(userID); err != nil {
		return err
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return err
		}
	}

	return nil
}

// --- Snapshot restore & startup ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]*big.Int
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence
func (c *LendingCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last applied sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot loads balances, sequence, hash chain tip, and the
// idempotency LRU. Call before replaying the tail of the event log.
func (c *LendingCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)
	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// WarmLRU loads recent idempotency keys so recently applied operations
// never hit the cold dedup path after a restart
func (c *LendingCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// ReplayEvent re-applies one logged event during recovery, verifying the
// hash chain as it goes. External transfers are not re-run: the log
// records operations whose transfers already happened.
func (c *LendingCore) ReplayEvent(envelope *event.EventEnvelope, batch *ledger.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if envelope.Sequence != c.sequence {
		return fmt.Errorf("replay sequence gap: log has %d, engine expects %d", envelope.Sequence, c.sequence)
	}
	if c.hasher.GetPrevHash() != envelope.PrevHash {
		return fmt.Errorf("hash chain break at sequence %d", envelope.Sequence)
	}

	if batch != nil && len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			return fmt.Errorf("replay batch invalid at sequence %d: %w", envelope.Sequence, err)
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("replay apply failed at sequence %d: %w", envelope.Sequence, err)
		}
	}

	stateDigest := c.computeStateDigest(batch)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if stateHash != envelope.StateHash {
		return fmt.Errorf("state hash mismatch at sequence %d", envelope.Sequence)
	}

	c.idempotency.MarkProcessed(envelope.EventType.String(), envelope.IdempotencyKey)
	c.sequence++
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// GetSequence returns the next sequence to assign
func (c *LendingCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current hash chain tip
func (c *LendingCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}
