package state

import "errors"

var (
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInvalidAsset               = errors.New("invalid asset")
	ErrPositionAlreadyExists      = errors.New("position already exists")
	ErrPositionNotActive          = errors.New("position not active")
	ErrPositionNotLiquidatable    = errors.New("position not liquidatable")
	ErrInsufficientCollateralRatio = errors.New("insufficient collateral ratio")
	ErrDebtBelowMinimum           = errors.New("debt below minimum")
	ErrEmptyPool                  = errors.New("stability pool is empty")
	ErrNoDeposit                  = errors.New("no deposit for depositor")
	ErrNodeAlreadyExists          = errors.New("node already exists")
	ErrNodeDoesNotExist           = errors.New("node does not exist")
	ErrHintTooFar                 = errors.New("hint too far from insert position")
	ErrNoSurplus                  = errors.New("no surplus collateral")
	ErrNothingToRedistribute      = errors.New("no active stakes to redistribute to")
	ErrPriceUnavailable           = errors.New("price unavailable or stale")
)
