package ledger

import (
	"fmt"

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
	SubTypeStable AccountSubType = iota // stablecoin balance
	SubTypeCollateral
	SubTypeGovernance
	SubTypeSurplus // collateral left over after a capped liquidation

	// System sub-types
	SubTypeSystemIssuance      // stablecoin mint/burn counterparty
	SubTypeSystemStabilityPool // pooled stablecoin deposits
	SubTypeSystemGasEscrow     // flat gas compensation, funded at open
	SubTypeSystemActivePool    // collateral backing active troves
	SubTypeSystemDefaultPool   // collateral pending redistribution pull
	SubTypeSystemPoolCollateral // collateral seized for pool depositors
	SubTypeSystemGovIssuance   // governance token emission counterparty

	// External sub-types
	SubTypeExternalCollateralIn
	SubTypeExternalCollateralOut
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"TUSD": 1, // the stablecoin
		"ETH":  2,
		"BTC":  3,
		"TRV":  4, // governance token
	}
	idToAsset = map[AssetID]string{
		1: "TUSD",
		2: "ETH",
		3: "BTC",
		4: "TRV",
	}
	collateralAssets = map[string]bool{
		"ETH": true,
		"BTC": true,
	}
)

// StableAsset is the protocol stablecoin symbol.
const StableAsset = "TUSD"

// GovernanceAsset is the emission token symbol.
const GovernanceAsset = "TRV"

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// IsCollateralAsset reports whether an asset can back a trove.
func IsCollateralAsset(asset string) bool {
	return collateralAssets[asset]
}

// CollateralAssets returns the supported collateral symbols in a stable order.
func CollateralAssets() []string {
	return []string{"ETH", "BTC"}
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
	case SubTypeStable:
		return "stable"
	case SubTypeCollateral:
		return "collateral"
	case SubTypeGovernance:
		return "governance"
	case SubTypeSurplus:
		return "surplus"
	case SubTypeSystemIssuance:
		return "issuance"
	case SubTypeSystemStabilityPool:
		return "stability_pool"
	case SubTypeSystemGasEscrow:
		return "gas_escrow"
	case SubTypeSystemActivePool:
		return "active_pool"
	case SubTypeSystemDefaultPool:
		return "default_pool"
	case SubTypeSystemPoolCollateral:
		return "pool_collateral"
	case SubTypeSystemGovIssuance:
		return "gov_issuance"
	case SubTypeExternalCollateralIn:
		return "collateral_in"
	case SubTypeExternalCollateralOut:
		return "collateral_out"
	default:
		return "unknown"
	}
}
