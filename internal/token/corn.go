package token

import (
	"math/big"

	"github.com/google/uuid"
)

// LedgerAccount is the lending engine's own identity in the CORN token
// ledger: the account borrows are issued from and repayment pulls land in.
// Derived, not random, so it survives restarts.
var LedgerAccount = uuid.NewSHA1(uuid.NameSpaceOID, []byte("CornLedger:treasury"))

// CornLedger is the debt-asset token collaborator. The lending engine is
// constructed holding a funded account of its own plus a standing allowance
// from borrowers, so Transfer spends the engine's balance and TransferFrom
// pulls repayments under that allowance.
type CornLedger interface {
	// Transfer moves CORN from the holder's own account to the recipient
	Transfer(to uuid.UUID, amount *big.Int) error

	// TransferFrom pulls CORN from another account into the recipient,
	// consuming the owner's standing allowance
	TransferFrom(from, to uuid.UUID, amount *big.Int) error

	// BalanceOf reports the current CORN balance of an account
	BalanceOf(who uuid.UUID) *big.Int
}
