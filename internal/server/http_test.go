package server_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"CornLedger/internal/core"
	"CornLedger/internal/event"
	"CornLedger/internal/oracle"
	"CornLedger/internal/server"
	"CornLedger/internal/token"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// eth converts whole asset units to 18-decimal base units.
func eth(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type testEnv struct {
	corn   *token.MemoryCorn
	vault  *token.MemoryVault
	feed   *oracle.FeedOracle
	core   *core.LendingCore
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	corn := token.NewMemoryCorn(token.LedgerAccount)
	corn.Mint(token.LedgerAccount, eth(10_000_000))
	vault := token.NewMemoryVault()
	feed := oracle.NewFeedOracle(0, zerolog.Nop(), nil)

	c := core.NewLendingCore(0, nil, feed, corn, vault, nil, nil, nil, nil)

	srv := server.NewServer("127.0.0.1:0", &server.Deps{
		Core:   c,
		Oracle: feed,
		Log:    zerolog.Nop(),
	})

	return &testEnv{corn: corn, vault: vault, feed: feed, core: c, router: srv.Handler()}
}

func (env *testEnv) setPrice(t *testing.T, seq int64, unitsPerETH int64) {
	t.Helper()
	err := env.feed.Apply(&event.PriceUpdate{
		Price:          event.NewAmount(eth(unitsPerETH)),
		PriceSequence:  seq,
		PriceTimestamp: 1_700_000_000_000_000 + seq,
	})
	if err != nil {
		t.Fatalf("apply price: %v", err)
	}
}

func (env *testEnv) post(t *testing.T, path string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

type receiptBody struct {
	Sequence         int64  `json:"sequence"`
	Duplicate        bool   `json:"duplicate"`
	Price            string `json:"price"`
	UserID           string `json:"user_id"`
	Collateral       string `json:"collateral"`
	Debt             string `json:"debt"`
	DebtRepaid       string `json:"debt_repaid"`
	CollateralSeized string `json:"collateral_seized"`
	Bonus            string `json:"bonus"`
}

func decodeReceipt(t *testing.T, w *httptest.ResponseRecorder) receiptBody {
	t.Helper()
	var r receiptBody
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode receipt: %v (body %s)", err, w.Body.String())
	}
	return r
}

// --- Operation endpoints ---

func TestDeposit(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))

	w := env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(),
		"amount":  "10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: got %d, want 200: %s", w.Code, w.Body.String())
	}

	r := decodeReceipt(t, w)
	if r.Collateral != "10" {
		t.Errorf("collateral: got %s, want 10", r.Collateral)
	}
	if r.Debt != "0" {
		t.Errorf("debt: got %s, want 0", r.Debt)
	}
	if r.Price != "2000" {
		t.Errorf("price: got %s, want 2000", r.Price)
	}
	if env.vault.Held().Cmp(eth(10)) != 0 {
		t.Errorf("custody: got %s, want %s", env.vault.Held(), eth(10))
	}
}

func TestDeposit_FractionalAmount(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))

	w := env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(),
		"amount":  "2.5",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: got %d, want 200: %s", w.Code, w.Body.String())
	}
	if r := decodeReceipt(t, w); r.Collateral != "2.5" {
		t.Errorf("collateral: got %s, want 2.5", r.Collateral)
	}
}

func TestDeposit_RejectsBadAmounts(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)
	user := uuid.New()

	for name, amount := range map[string]string{
		"zero":     "0",
		"negative": "-1",
		"too_fine": "0.0000000000000000005", // 19 decimal places
	} {
		w := env.post(t, "/v1/collateral/deposit", map[string]interface{}{
			"user_id": user.String(),
			"amount":  amount,
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s amount: got %d, want 400: %s", name, w.Code, w.Body.String())
		}
	}
}

func TestDeposit_BadUserID(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	w := env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": "not-a-uuid",
		"amount":  "1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", w.Code)
	}
}

func TestDeposit_WalletShortfallIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(1))

	w := env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(),
		"amount":  "5",
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("got %d, want 502: %s", w.Code, w.Body.String())
	}
}

func TestDeposit_NoPriceIsServiceUnavailable(t *testing.T) {
	env := newTestEnv(t)

	user := uuid.New()
	env.vault.Fund(user, eth(10))

	w := env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(),
		"amount":  "10",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503: %s", w.Code, w.Body.String())
	}
}

func TestBorrow_RatioGuard(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(), "amount": "10",
	})

	// 20000 collateral value against 15000 debt is a 133% ratio, above the
	// 120% minimum.
	w := env.post(t, "/v1/borrow", map[string]interface{}{
		"user_id": user.String(), "amount": "15000",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("borrow: got %d, want 200: %s", w.Code, w.Body.String())
	}
	if r := decodeReceipt(t, w); r.Debt != "15000" {
		t.Errorf("debt: got %s, want 15000", r.Debt)
	}
	if env.corn.BalanceOf(user).Cmp(eth(15000)) != 0 {
		t.Errorf("corn balance: got %s, want %s", env.corn.BalanceOf(user), eth(15000))
	}

	// 3000 more would put the ratio at 111%, below the minimum.
	w = env.post(t, "/v1/borrow", map[string]interface{}{
		"user_id": user.String(), "amount": "3000",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("over-borrow: got %d, want 409: %s", w.Code, w.Body.String())
	}

	w = env.get(t, "/v1/positions/"+user.String())
	if r := decodeReceipt(t, w); r.Debt != "15000" {
		t.Errorf("debt after rejected borrow: got %s, want 15000", r.Debt)
	}
}

func TestWithdraw_RatioGuard(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(), "amount": "10",
	})
	env.post(t, "/v1/borrow", map[string]interface{}{
		"user_id": user.String(), "amount": "10000",
	})

	// Withdrawing down to 6 ETH keeps the ratio at 120%, exactly at the
	// minimum, which is safe.
	w := env.post(t, "/v1/collateral/withdraw", map[string]interface{}{
		"user_id": user.String(), "amount": "4",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: got %d, want 200: %s", w.Code, w.Body.String())
	}
	if r := decodeReceipt(t, w); r.Collateral != "6" {
		t.Errorf("collateral: got %s, want 6", r.Collateral)
	}

	// One more wei-scale withdrawal would drop below the minimum.
	w = env.post(t, "/v1/collateral/withdraw", map[string]interface{}{
		"user_id": user.String(), "amount": "0.000000000000000001",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("unsafe withdraw: got %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestRepay_ExceedingDebtIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(), "amount": "10",
	})
	env.post(t, "/v1/borrow", map[string]interface{}{
		"user_id": user.String(), "amount": "1000",
	})
	env.corn.Approve(user, eth(2000))

	w := env.post(t, "/v1/repay", map[string]interface{}{
		"user_id": user.String(), "amount": "1500",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("over-repay: got %d, want 400: %s", w.Code, w.Body.String())
	}

	w = env.post(t, "/v1/repay", map[string]interface{}{
		"user_id": user.String(), "amount": "1000",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("repay: got %d, want 200: %s", w.Code, w.Body.String())
	}
	if r := decodeReceipt(t, w); r.Debt != "0" {
		t.Errorf("debt after exact repay: got %s, want 0", r.Debt)
	}
}

func TestLiquidate_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(), "amount": "10",
	})
	env.post(t, "/v1/borrow", map[string]interface{}{
		"user_id": user.String(), "amount": "15000",
	})

	// At 1500 the collateral value matches the debt exactly: 100% ratio.
	env.setPrice(t, 2, 1500)

	w := env.get(t, "/v1/positions/" + user.String() + "/liquidatable")
	var flag struct {
		Liquidatable bool `json:"liquidatable"`
	}
	json.Unmarshal(w.Body.Bytes(), &flag)
	if !flag.Liquidatable {
		t.Fatalf("expected position to be liquidatable: %s", w.Body.String())
	}

	liquidator := uuid.New()
	env.corn.Mint(liquidator, eth(15000))
	env.corn.Approve(liquidator, eth(15000))

	w = env.post(t, "/v1/liquidations", map[string]interface{}{
		"liquidator_id": liquidator.String(),
		"user_id":       user.String(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("liquidate: got %d, want 200: %s", w.Code, w.Body.String())
	}

	r := decodeReceipt(t, w)
	if r.DebtRepaid != "15000" {
		t.Errorf("debt_repaid: got %s, want 15000", r.DebtRepaid)
	}
	// The matching collateral is 10 ETH and the bonus would push the payout
	// to 11, but only 10 is there: clamped.
	if r.CollateralSeized != "10" {
		t.Errorf("collateral_seized: got %s, want 10", r.CollateralSeized)
	}
	if r.Collateral != "0" || r.Debt != "0" {
		t.Errorf("position after liquidation: collateral %s debt %s, want 0/0", r.Collateral, r.Debt)
	}
	if env.vault.WalletOf(liquidator).Cmp(eth(10)) != 0 {
		t.Errorf("liquidator wallet: got %s, want %s", env.vault.WalletOf(liquidator), eth(10))
	}
}

func TestLiquidate_HealthyPositionIsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(), "amount": "10",
	})
	env.post(t, "/v1/borrow", map[string]interface{}{
		"user_id": user.String(), "amount": "10000",
	})

	liquidator := uuid.New()
	env.corn.Mint(liquidator, eth(20000))
	env.corn.Approve(liquidator, eth(20000))

	w := env.post(t, "/v1/liquidations", map[string]interface{}{
		"liquidator_id": liquidator.String(),
		"user_id":       user.String(),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("got %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestOperationIdempotency(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	opID := uuid.New().String()

	body := map[string]interface{}{
		"operation_id": opID,
		"user_id":      user.String(),
		"amount":       "10",
	}

	w := env.post(t, "/v1/collateral/deposit", body)
	if w.Code != http.StatusOK {
		t.Fatalf("first deposit: got %d: %s", w.Code, w.Body.String())
	}
	first := decodeReceipt(t, w)

	w = env.post(t, "/v1/collateral/deposit", body)
	if w.Code != http.StatusOK {
		t.Fatalf("replayed deposit: got %d: %s", w.Code, w.Body.String())
	}
	second := decodeReceipt(t, w)

	if !second.Duplicate {
		t.Error("replayed operation should be flagged duplicate")
	}
	if first.Collateral != "10" || second.Collateral != "10" {
		t.Errorf("collateral: first %s, second %s, want 10", first.Collateral, second.Collateral)
	}
	if env.vault.Held().Cmp(eth(10)) != 0 {
		t.Errorf("custody after replay: got %s, want %s (no double apply)", env.vault.Held(), eth(10))
	}
}

func TestIdempotencyKeyHeader(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	opID := uuid.New().String()

	raw, _ := json.Marshal(map[string]interface{}{
		"user_id": user.String(),
		"amount":  "5",
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/collateral/deposit", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", opID)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: got %d: %s", i, w.Code, w.Body.String())
		}
	}

	if env.vault.Held().Cmp(eth(5)) != 0 {
		t.Errorf("custody: got %s, want %s", env.vault.Held(), eth(5))
	}
}

// --- Read endpoints ---

func TestPriceEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/v1/price")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("no price yet: got %d, want 503", w.Code)
	}

	env.setPrice(t, 7, 1850)

	w = env.get(t, "/v1/price")
	if w.Code != http.StatusOK {
		t.Fatalf("price: got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Price         string `json:"price"`
		PriceSequence int64  `json:"price_sequence"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Price != "1850" {
		t.Errorf("price: got %s, want 1850", resp.Price)
	}
	if resp.PriceSequence != 7 {
		t.Errorf("price_sequence: got %d, want 7", resp.PriceSequence)
	}
}

func TestPositionDerivedEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	user := uuid.New()
	env.vault.Fund(user, eth(10))
	env.post(t, "/v1/collateral/deposit", map[string]interface{}{
		"user_id": user.String(), "amount": "10",
	})
	env.post(t, "/v1/borrow", map[string]interface{}{
		"user_id": user.String(), "amount": "15000",
	})

	w := env.get(t, "/v1/positions/" + user.String() + "/value")
	var value struct {
		CollateralValue string `json:"collateral_value"`
	}
	json.Unmarshal(w.Body.Bytes(), &value)
	if value.CollateralValue != "20000" {
		t.Errorf("collateral_value: got %s, want 20000", value.CollateralValue)
	}

	w = env.get(t, "/v1/positions/" + user.String() + "/ratio")
	var ratio struct {
		RatioPct string `json:"ratio_pct"`
	}
	json.Unmarshal(w.Body.Bytes(), &ratio)
	if ratio.RatioPct != "133" {
		t.Errorf("ratio_pct: got %s, want 133", ratio.RatioPct)
	}

	w = env.get(t, "/v1/positions/" + user.String() + "/liquidatable")
	var flag struct {
		Liquidatable bool `json:"liquidatable"`
	}
	json.Unmarshal(w.Body.Bytes(), &flag)
	if flag.Liquidatable {
		t.Error("healthy position flagged liquidatable")
	}
}

func TestGetPosition_UnknownUserIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice(t, 1, 2000)

	w := env.get(t, "/v1/positions/"+uuid.New().String())
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	if r := decodeReceipt(t, w); r.Collateral != "0" || r.Debt != "0" {
		t.Errorf("empty position: collateral %s debt %s, want 0/0", r.Collateral, r.Debt)
	}
}
