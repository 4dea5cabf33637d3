package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Trading fee: 30 bps (0.30%) of the base-token leg of every fill, credited
// to the configured fee recipient's ledger balance.
const (
	TradingFeeBps  = 30
	FeeDenominator = 10000
)

// Trade records one executed fill. Limit-against-limit matches execute at the
// midpoint of the two limit prices; market-order fills execute at the resting
// order's price. A zero BuyOrderID or SellOrderID marks that side as a market
// taker (resting order ids start at 1).
type Trade struct {
	ID          string         `json:"id"`
	BaseToken   common.Address `json:"baseToken"`
	QuoteToken  common.Address `json:"quoteToken"`
	Price       *uint256.Int   `json:"price"`
	Amount      *uint256.Int   `json:"amount"` // matched base quantity, fee included
	Fee         *uint256.Int   `json:"fee"`    // base-token fee taken out of the buyer leg
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	BuyOrderID  uint64         `json:"buyOrderId"`
	SellOrderID uint64         `json:"sellOrderId"`
	Timestamp   int64          `json:"timestamp"` // unix ms
}

// feeOn returns the trading fee for a matched base amount.
func feeOn(matchAmount *uint256.Int) (*uint256.Int, error) {
	return mulDiv(matchAmount, uint256.NewInt(TradingFeeBps), uint256.NewInt(FeeDenominator))
}

// mulDiv computes a*b/denom with an explicit 256-bit overflow check on the
// product.
func mulDiv(a, b, denom *uint256.Int) (*uint256.Int, error) {
	p, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return p.Div(p, denom), nil
}

// minAmount returns a copy of the smaller of two amounts.
func minAmount(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
