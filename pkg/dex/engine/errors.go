package engine

import "errors"

// Every operation either completes in full or fails with one of these (or a
// sentinel from the ledger/pair/order packages) leaving no state change.
var (
	// ErrNotOwner gates administrative operations to the engine owner.
	ErrNotOwner = errors.New("caller is not the owner")
	// ErrOrderTooSmall rejects amounts below the pair's minimum order size.
	ErrOrderTooSmall = errors.New("order below minimum size")
	// ErrInvalidPrice rejects zero limit prices.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrNotOrderOwner rejects cancellation by anyone but the order's trader.
	ErrNotOrderOwner = errors.New("caller does not own order")
	// ErrOrderAlreadyInactive rejects double cancellation.
	ErrOrderAlreadyInactive = errors.New("order already inactive")
	// ErrInsufficientLiquidity aborts a market order the resting book cannot
	// fully fill. Nothing is settled.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrAmountOverflow rejects amount-times-price products that do not fit
	// in 256 bits.
	ErrAmountOverflow = errors.New("amount overflow")
)
