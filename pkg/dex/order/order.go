package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Order is a resting limit order. Amount is the remaining unfilled quantity
// in base-token units and only ever decreases; Price is immutable once
// placed. Orders are never deleted from the store: once fully filled or
// cancelled they stay behind with IsActive=false for audit.
//
// IDs are assigned monotonically starting at 1, so 0 is never a valid order
// id and can safely mean "none" in callers.
type Order struct {
	ID         uint64         `json:"id"`
	Trader     common.Address `json:"trader"`
	BaseToken  common.Address `json:"baseToken"`
	QuoteToken common.Address `json:"quoteToken"`
	Amount     *uint256.Int   `json:"amount"`
	Price      *uint256.Int   `json:"price"`
	IsBuy      bool           `json:"isBuy"`
	IsActive   bool           `json:"isActive"`
	Timestamp  int64          `json:"timestamp"` // creation time, unix ms; informational only
}

// Side returns "buy" or "sell" for logs and API responses.
func (o *Order) Side() string {
	if o.IsBuy {
		return "buy"
	}
	return "sell"
}
