package token

import (
	"math/big"

	"github.com/google/uuid"
)

// CollateralVault moves the native collateral asset between user wallets and
// the ledger's custody. Both legs signal success or failure explicitly; there
// is no implicit unwind on failure, so callers own any compensation.
type CollateralVault interface {
	// TransferIn pulls collateral from the user's wallet into custody
	TransferIn(user uuid.UUID, amount *big.Int) error

	// TransferOut pays collateral from custody back to the user's wallet
	TransferOut(user uuid.UUID, amount *big.Int) error
}
