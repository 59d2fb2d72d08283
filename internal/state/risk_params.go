package state

import (
	"fmt"
	"math/big"

	fpmath "TroveLedger/internal/math"
)

// RiskParams defines collateralization requirements per collateral asset
type RiskParams struct {
	Asset          string
	MCR            *big.Int // Minimum collateralization ratio (1e18 = 100%)
	CCR            *big.Int // Critical ratio triggering Recovery Mode (1e18 = 100%)
	MinDebt        *big.Int // Minimum composite trove debt (18 decimals)
	GasCompFlat    *big.Int // Flat stablecoin gas compensation escrowed at open
	GasCompDivisor int64    // Collateral gas comp = seized / divisor (200 = 0.5%)
	EffectiveSeq   int64    // Sequence at which params take effect
}

func defaultRiskParams(asset string) *RiskParams {
	return &RiskParams{
		Asset:          asset,
		MCR:            big.NewInt(0).SetUint64(1_100_000_000_000_000_000), // 110%
		CCR:            big.NewInt(0).SetUint64(1_500_000_000_000_000_000), // 150%
		MinDebt:        fpmath.FromUnits(2_000),                            // includes gas comp
		GasCompFlat:    fpmath.FromUnits(200),
		GasCompDivisor: 200, // 0.5%
		EffectiveSeq:   0,
	}
}

// RiskParamsManager manages per-asset risk parameters
type RiskParamsManager struct {
	params map[string]*RiskParams
}

func NewRiskParamsManager(assets []string) *RiskParamsManager {
	params := make(map[string]*RiskParams)
	for _, asset := range assets {
		params[asset] = defaultRiskParams(asset)
	}
	return &RiskParamsManager{params: params}
}

func (rpm *RiskParamsManager) GetRiskParams(asset string) (*RiskParams, bool) {
	params, ok := rpm.params[asset]
	return params, ok
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// MCR > 100%, CCR >= MCR, min_debt > gas_comp_flat, gas_comp_divisor > 0.
func ValidateRiskParams(params *RiskParams) error {
	if params.MCR == nil || params.MCR.Cmp(fpmath.Precision) <= 0 {
		return fmt.Errorf("mcr must be > 100%%, got %v", params.MCR)
	}
	if params.CCR == nil || params.CCR.Cmp(params.MCR) < 0 {
		return fmt.Errorf("ccr (%v) must be >= mcr (%v)", params.CCR, params.MCR)
	}
	if params.GasCompFlat == nil || params.GasCompFlat.Sign() < 0 {
		return fmt.Errorf("gas_comp_flat must be >= 0, got %v", params.GasCompFlat)
	}
	if params.MinDebt == nil || params.MinDebt.Cmp(params.GasCompFlat) <= 0 {
		return fmt.Errorf("min_debt (%v) must be > gas_comp_flat (%v)", params.MinDebt, params.GasCompFlat)
	}
	if params.GasCompDivisor <= 0 {
		return fmt.Errorf("gas_comp_divisor must be > 0, got %d", params.GasCompDivisor)
	}
	return nil
}

func (rpm *RiskParamsManager) UpdateRiskParams(params *RiskParams) error {
	if err := ValidateRiskParams(params); err != nil {
		return fmt.Errorf("invalid risk params for %s: %w", params.Asset, err)
	}
	rpm.params[params.Asset] = params
	return nil
}
