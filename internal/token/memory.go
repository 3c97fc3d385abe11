package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// MemoryCorn implements CornLedger with in-memory maps. Used for local mode
// and tests. Not suitable for production (no persistence).
type MemoryCorn struct {
	mu sync.RWMutex

	// Account whose balance Transfer spends and TransferFrom credits
	self uuid.UUID

	balances map[uuid.UUID]*big.Int

	// Standing allowances granted to self, keyed by owner
	allowances map[uuid.UUID]*big.Int

	// Injected fault applied to both transfer legs while set
	transferErr error
}

func NewMemoryCorn(self uuid.UUID) *MemoryCorn {
	return &MemoryCorn{
		self:       self,
		balances:   make(map[uuid.UUID]*big.Int),
		allowances: make(map[uuid.UUID]*big.Int),
	}
}

func (m *MemoryCorn) balanceRef(who uuid.UUID) *big.Int {
	bal, ok := m.balances[who]
	if !ok {
		bal = new(big.Int)
		m.balances[who] = bal
	}
	return bal
}

// Mint credits freshly issued CORN to an account
func (m *MemoryCorn) Mint(who uuid.UUID, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceRef(who).Add(m.balanceRef(who), amount)
}

// Approve grants self a standing allowance over the owner's balance.
// Replaces any previous allowance.
func (m *MemoryCorn) Approve(owner uuid.UUID, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[owner] = new(big.Int).Set(amount)
}

// Allowance reports the remaining allowance granted by the owner
func (m *MemoryCorn) Allowance(owner uuid.UUID) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.allowances[owner]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// SetTransferError injects a fault into Transfer and TransferFrom.
// Pass nil to clear.
func (m *MemoryCorn) SetTransferError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferErr = err
}

func (m *MemoryCorn) Transfer(to uuid.UUID, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transferErr != nil {
		return m.transferErr
	}

	from := m.balanceRef(m.self)
	if from.Cmp(amount) < 0 {
		return fmt.Errorf("corn transfer: balance %s below %s", from, amount)
	}
	from.Sub(from, amount)
	m.balanceRef(to).Add(m.balanceRef(to), amount)
	return nil
}

func (m *MemoryCorn) TransferFrom(from, to uuid.UUID, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transferErr != nil {
		return m.transferErr
	}

	allowance, ok := m.allowances[from]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("corn transferFrom: allowance of %s below %s", from, amount)
	}

	bal := m.balanceRef(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("corn transferFrom: balance %s below %s", bal, amount)
	}

	allowance.Sub(allowance, amount)
	bal.Sub(bal, amount)
	m.balanceRef(to).Add(m.balanceRef(to), amount)
	return nil
}

func (m *MemoryCorn) BalanceOf(who uuid.UUID) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bal, ok := m.balances[who]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// MemoryVault implements CollateralVault with in-memory wallets. Used for
// local mode and tests.
type MemoryVault struct {
	mu sync.RWMutex

	// External user wallets outside custody
	wallets map[uuid.UUID]*big.Int

	// Total collateral in custody
	held *big.Int

	// Injected fault applied to both transfer legs while set
	transferErr error
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		wallets: make(map[uuid.UUID]*big.Int),
		held:    new(big.Int),
	}
}

func (v *MemoryVault) walletRef(user uuid.UUID) *big.Int {
	w, ok := v.wallets[user]
	if !ok {
		w = new(big.Int)
		v.wallets[user] = w
	}
	return w
}

// Fund credits a user's external wallet
func (v *MemoryVault) Fund(user uuid.UUID, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.walletRef(user).Add(v.walletRef(user), amount)
}

// SetTransferError injects a fault into TransferIn and TransferOut.
// Pass nil to clear.
func (v *MemoryVault) SetTransferError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transferErr = err
}

func (v *MemoryVault) TransferIn(user uuid.UUID, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.transferErr != nil {
		return v.transferErr
	}

	wallet := v.walletRef(user)
	if wallet.Cmp(amount) < 0 {
		return fmt.Errorf("vault transfer in: wallet %s below %s", wallet, amount)
	}
	wallet.Sub(wallet, amount)
	v.held.Add(v.held, amount)
	return nil
}

func (v *MemoryVault) TransferOut(user uuid.UUID, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.transferErr != nil {
		return v.transferErr
	}

	if v.held.Cmp(amount) < 0 {
		return fmt.Errorf("vault transfer out: custody %s below %s", v.held, amount)
	}
	v.held.Sub(v.held, amount)
	v.walletRef(user).Add(v.walletRef(user), amount)
	return nil
}

// WalletOf reports a user's external wallet balance
func (v *MemoryVault) WalletOf(user uuid.UUID) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if w, ok := v.wallets[user]; ok {
		return new(big.Int).Set(w)
	}
	return new(big.Int)
}

// Held reports the total collateral in custody
func (v *MemoryVault) Held() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.held)
}
