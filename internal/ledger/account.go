package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota
	SubTypeDebt

	// System sub-types
	SubTypeSystemCornIssued

	// External sub-types
	SubTypeExternalVault
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

// The ledger tracks exactly two assets: the collateral asset and the debt
// asset. Journals and balances are keyed by these IDs, never by string.
const (
	AssetETH  AssetID = 1
	AssetCORN AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"ETH":  AssetETH,
		"CORN": AssetCORN,
	}
	idToAsset = map[AssetID]string{
		AssetETH:  "ETH",
		AssetCORN: "CORN",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system/external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// The four account families of the lending ledger. Collateral lives in ETH,
// debt in CORN; the external vault and the issuance account absorb the
// opposite leg of every movement so each asset sums to zero globally.

// CollateralAccount is a user's deposited collateral (ETH).
func CollateralAccount(userID uuid.UUID) AccountKey {
	assetID, _ := GetAssetID("ETH")
	return NewUserAccountKey(userID, SubTypeCollateral, assetID)
}

// DebtAccount is a user's outstanding borrowed CORN.
func DebtAccount(userID uuid.UUID) AccountKey {
	assetID, _ := GetAssetID("CORN")
	return NewUserAccountKey(userID, SubTypeDebt, assetID)
}

// VaultAccount is the external boundary for collateral entering and leaving
// the ledger. Its balance is the negation of all user collateral.
func VaultAccount() AccountKey {
	assetID, _ := GetAssetID("ETH")
	return NewExternalAccountKey(SubTypeExternalVault, assetID)
}

// CornIssuedAccount is the system counterparty for borrowed CORN. Its balance
// is the negation of all user debt.
func CornIssuedAccount() AccountKey {
	assetID, _ := GetAssetID("CORN")
	return NewSystemAccountKey(SubTypeSystemCornIssued, assetID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeDebt:
		return "debt"
	case SubTypeSystemCornIssued:
		return "corn_issued"
	case SubTypeExternalVault:
		return "vault"
	default:
		return "unknown"
	}
}

func subTypeFromName(name string) (AccountSubType, bool) {
	switch name {
	case "collateral":
		return SubTypeCollateral, true
	case "debt":
		return SubTypeDebt, true
	case "corn_issued":
		return SubTypeSystemCornIssued, true
	case "vault":
		return SubTypeExternalVault, true
	}
	return 0, false
}

// ParseAccountPath reverses AccountPath. Snapshots persist balances keyed by
// path, so every produced path must round-trip through here.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user":
		userID, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: bad user id: %w", path, err)
		}
		subType, ok := subTypeFromName(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[2])
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[3])
		}
		return NewUserAccountKey(userID, subType, assetID), nil

	case len(parts) == 3 && (parts[0] == "system" || parts[0] == "external"):
		subType, ok := subTypeFromName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[1])
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[2])
		}
		if parts[0] == "system" {
			return NewSystemAccountKey(subType, assetID), nil
		}
		return NewExternalAccountKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("unparseable account path %q", path)
}
