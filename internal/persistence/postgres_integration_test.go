package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CornLedger/internal/persistence"
	"CornLedger/internal/testutil"
)

func testEventRow(sequence int64, eventType string, userID uuid.UUID) persistence.EventRow {
	return persistence.EventRow{
		Sequence:       sequence,
		EventType:      eventType,
		IdempotencyKey: uuid.New().String(),
		UserID:         userID.String(),
		Payload:        []byte(`{"Amount":"1000000000000000000"}`),
		StateHash:      make([]byte, 32),
		PrevHash:       make([]byte, 32),
		Timestamp:      time.UnixMicro(1_700_000_000_000_000).UTC(),
	}
}

func testJournalRow(sequence int64, userID uuid.UUID, amount string) persistence.JournalRow {
	return persistence.JournalRow{
		JournalID:     uuid.New().String(),
		BatchID:       uuid.New().String(),
		EventRef:      uuid.New().String(),
		Sequence:      sequence,
		DebitAccount:  "user:" + userID.String() + ":collateral:ETH",
		CreditAccount: "external:vault:ETH",
		AssetID:       1,
		Amount:        amount,
		JournalType:   0,
		Timestamp:     1_700_000_000_000_000,
	}
}

// ============================================================================
// Test: Event Log Writes
// ============================================================================

func TestEventLog_WriteAndLoad(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db, 100, time.Second)
	userID := uuid.New()

	events := []persistence.EventRow{
		testEventRow(0, "CollateralDeposited", userID),
		testEventRow(1, "CornBorrowed", userID),
		testEventRow(2, "CornRepaid", userID),
	}
	if err := writer.WriteEventBatch(ctx, events, nil); err != nil {
		t.Fatalf("write events: %v", err)
	}

	journals := []persistence.JournalRow{
		testJournalRow(0, userID, "10000000000000000000"),
		testJournalRow(1, userID, "15000000000000000000000"),
		testJournalRow(2, userID, "15000000000000000000000"),
	}
	if err := writer.WriteJournalBatch(ctx, journals, nil); err != nil {
		t.Fatalf("write journals: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 2 {
		t.Errorf("latest sequence: got %d, want 2", latest)
	}

	loaded, err := snapMgr.LoadEventsFrom(ctx, 1, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded events: got %d, want 2", len(loaded))
	}
	if loaded[0].Sequence != 1 || loaded[1].Sequence != 2 {
		t.Errorf("load order: got %d, %d, want 1, 2", loaded[0].Sequence, loaded[1].Sequence)
	}
	if loaded[0].EventType != "CornBorrowed" {
		t.Errorf("event type: got %q, want %q", loaded[0].EventType, "CornBorrowed")
	}
	if loaded[0].IdempotencyKey != events[1].IdempotencyKey {
		t.Errorf("idempotency key: got %q, want %q", loaded[0].IdempotencyKey, events[1].IdempotencyKey)
	}
	if !loaded[0].Timestamp.Equal(events[1].Timestamp) {
		t.Errorf("timestamp: got %v, want %v", loaded[0].Timestamp, events[1].Timestamp)
	}

	grouped, err := snapMgr.LoadJournalsInRange(ctx, 0, 2)
	if err != nil {
		t.Fatalf("load journals: %v", err)
	}
	if len(grouped) != 3 {
		t.Fatalf("journal sequences: got %d, want 3", len(grouped))
	}
	if got := grouped[0][0].Amount; got != "10000000000000000000" {
		t.Errorf("journal amount: got %q, want %q", got, "10000000000000000000")
	}
	if got := grouped[1][0].DebitAccount; got != journals[1].DebitAccount {
		t.Errorf("debit account: got %q, want %q", got, journals[1].DebitAccount)
	}
}

func TestEventLog_DuplicateWritesAreNoops(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db, 100, time.Second)
	userID := uuid.New()

	events := []persistence.EventRow{testEventRow(0, "CollateralDeposited", userID)}
	journals := []persistence.JournalRow{testJournalRow(0, userID, "5000000000000000000")}

	for i := 0; i < 2; i++ {
		if err := writer.WriteEventBatch(ctx, events, nil); err != nil {
			t.Fatalf("write events attempt %d: %v", i, err)
		}
		if err := writer.WriteJournalBatch(ctx, journals, nil); err != nil {
			t.Fatalf("write journals attempt %d: %v", i, err)
		}
	}

	var eventCount, journalCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.journal`).Scan(&journalCount); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if eventCount != 1 {
		t.Errorf("event rows: got %d, want 1", eventCount)
	}
	if journalCount != 1 {
		t.Errorf("journal rows: got %d, want 1", journalCount)
	}
}

// ============================================================================
// Test: Snapshots
// ============================================================================

func TestSnapshotManager_SaveVerifyLoad(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	snapMgr := persistence.NewSnapshotManager(db)
	userID := uuid.New()

	snap := &persistence.SnapshotData{
		Sequence:  5,
		StateHash: make([]byte, 32),
		Balances: map[string]string{
			"user:" + userID.String() + ":collateral:ETH": "10000000000000000000",
			"external:vault:ETH":                          "-10000000000000000000",
		},
		IdempotencyKeys: []string{"CollateralDeposited:" + uuid.New().String()},
		CreatedAt:       time.UnixMicro(1_700_000_000_000_000).UTC(),
	}
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots must not be offered for restore
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded != nil {
		t.Fatalf("unverified snapshot returned for restore")
	}

	if err := snapMgr.MarkVerified(ctx, 5); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("verified snapshot not returned")
	}
	if loaded.Sequence != 5 {
		t.Errorf("sequence: got %d, want 5", loaded.Sequence)
	}
	if got := loaded.Balances["external:vault:ETH"]; got != "-10000000000000000000" {
		t.Errorf("vault balance: got %q, want %q", got, "-10000000000000000000")
	}
	if len(loaded.IdempotencyKeys) != 1 {
		t.Errorf("idempotency keys: got %d, want 1", len(loaded.IdempotencyKeys))
	}
}

func TestSnapshotManager_RetakeAtSameSequenceOverwrites(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	snapMgr := persistence.NewSnapshotManager(db)

	first := &persistence.SnapshotData{
		Sequence:  3,
		StateHash: make([]byte, 32),
		Balances:  map[string]string{"external:vault:ETH": "-1"},
		CreatedAt: time.UnixMicro(1_700_000_000_000_000).UTC(),
	}
	if err := snapMgr.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := snapMgr.MarkVerified(ctx, 3); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	second := &persistence.SnapshotData{
		Sequence:  3,
		StateHash: make([]byte, 32),
		Balances:  map[string]string{"external:vault:ETH": "-2"},
		CreatedAt: time.UnixMicro(1_700_000_100_000_000).UTC(),
	}
	if err := snapMgr.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("snapshot not returned after retake")
	}
	if got := loaded.Balances["external:vault:ETH"]; got != "-2" {
		t.Errorf("retake balance: got %q, want %q", got, "-2")
	}
}

// ============================================================================
// Test: Durable Idempotency Tier
// ============================================================================

func TestPostgresIdempotencyChecker_IsDuplicate(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db, 100, time.Second)
	userID := uuid.New()

	row := testEventRow(0, "CollateralDeposited", userID)
	if err := writer.WriteEventBatch(ctx, []persistence.EventRow{row}, nil); err != nil {
		t.Fatalf("write event: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)

	dup, err := checker.IsDuplicate("CollateralDeposited", row.IdempotencyKey)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Error("persisted operation not reported as duplicate")
	}

	// Same key under a different event type is a distinct operation
	dup, err = checker.IsDuplicate("CornBorrowed", row.IdempotencyKey)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Error("different event type reported as duplicate")
	}

	dup, err = checker.IsDuplicate("CollateralDeposited", uuid.New().String())
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Error("unknown key reported as duplicate")
	}
}

func TestPostgresIdempotencyChecker_RecentKeysOldestFirst(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db, 100, time.Second)
	userID := uuid.New()

	events := []persistence.EventRow{
		testEventRow(0, "CollateralDeposited", userID),
		testEventRow(1, "CornBorrowed", userID),
		testEventRow(2, "CornRepaid", userID),
	}
	if err := writer.WriteEventBatch(ctx, events, nil); err != nil {
		t.Fatalf("write events: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)

	keys, err := checker.RecentKeys(ctx, 2)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("recent keys: got %d, want 2", len(keys))
	}

	// The window covers the newest events, returned oldest first so LRU
	// insertion order matches event order
	want0 := "CornBorrowed:" + events[1].IdempotencyKey
	want1 := "CornRepaid:" + events[2].IdempotencyKey
	if keys[0] != want0 {
		t.Errorf("keys[0]: got %q, want %q", keys[0], want0)
	}
	if keys[1] != want1 {
		t.Errorf("keys[1]: got %q, want %q", keys[1], want1)
	}
}

// ============================================================================
// Test: Migrations
// ============================================================================

func TestMigrator_UpAgainIsNoop(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// SetupTestDB already ran Up once; a second pass must apply nothing
	migrator := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("second up: %v", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM public.schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied migrations: got %d, want 2", applied)
	}
}
