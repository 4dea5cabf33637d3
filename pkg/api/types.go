package api

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Request and response types for REST endpoints and WebSocket messages.
// Token amounts and prices travel as decimal strings so 256-bit values
// survive JSON untouched.

// ==============================
// REST Request Types
// ==============================

// AddPairRequest is the payload for POST /api/v1/pairs (owner only).
type AddPairRequest struct {
	Caller         string `json:"caller"`
	BaseToken      string `json:"baseToken"`
	QuoteToken     string `json:"quoteToken"`
	MinOrderSize   string `json:"minOrderSize"`
	PricePrecision string `json:"pricePrecision"`
}

// PlaceOrderRequest is the payload for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Trader     string `json:"trader"`
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
	Side       string `json:"side"` // "buy" or "sell"
}

// MarketOrderRequest is the payload for POST /api/v1/orders/market. No
// price: fills execute at resting order prices.
type MarketOrderRequest struct {
	Trader     string `json:"trader"`
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
	Amount     string `json:"amount"`
	Side       string `json:"side"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Caller  string `json:"caller"`
	OrderID uint64 `json:"orderId"`
}

// WithdrawRequest is the payload for POST /api/v1/withdraw.
type WithdrawRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// FaucetRequest is the payload for POST /api/v1/faucet (dev mode only).
type FaucetRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// ==============================
// REST Response Types
// ==============================

// PairInfo describes one registered trading pair.
type PairInfo struct {
	BaseToken      string `json:"baseToken"`
	QuoteToken     string `json:"quoteToken"`
	IsActive       bool   `json:"isActive"`
	MinOrderSize   string `json:"minOrderSize"`
	PricePrecision string `json:"pricePrecision"`
}

// PriceLevel is one aggregated [price, size] book level.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderbookSnapshot is the aggregated book: bids high to low, asks low to
// high.
type OrderbookSnapshot struct {
	BaseToken  string       `json:"baseToken"`
	QuoteToken string       `json:"quoteToken"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Timestamp  int64        `json:"timestamp"` // unix ms
}

// OrderInfo is one order, active or filled.
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Trader     string `json:"trader"`
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
	Amount     string `json:"amount"` // remaining base quantity
	Price      string `json:"price"`
	Side       string `json:"side"`
	IsActive   bool   `json:"isActive"`
	Timestamp  int64  `json:"timestamp"`
}

// TradeInfo is one executed fill. A zero buyOrderId or sellOrderId marks
// that side as a market taker.
type TradeInfo struct {
	ID          string `json:"id"`
	BaseToken   string `json:"baseToken"`
	QuoteToken  string `json:"quoteToken"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
	Timestamp   int64  `json:"timestamp"`
}

// BalanceInfo reports one account's escrow and wallet balance for a token.
type BalanceInfo struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Escrow  string `json:"escrow"` // withdrawable engine-held balance
	Wallet  string `json:"wallet"` // vault wallet balance outside the engine
}

// PlaceOrderResponse reports the assigned order id and the trade executed by
// this placement, if the book crossed.
type PlaceOrderResponse struct {
	OrderID uint64     `json:"orderId"`
	Trade   *TradeInfo `json:"trade,omitempty"`
}

// MarketOrderResponse lists every fill of a market order in execution order.
type MarketOrderResponse struct {
	Trades []TradeInfo `json:"trades"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to manage channel subscriptions,
// e.g. {"op":"subscribe","channels":["orderbook:0xBASE/0xQUOTE"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast on the "orderbook:{pair}" channel after every
// mutation that touches the book.
type OrderbookUpdate struct {
	Type       string       `json:"type"` // "orderbook"
	BaseToken  string       `json:"baseToken"`
	QuoteToken string       `json:"quoteToken"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Timestamp  int64        `json:"timestamp"`
}

// TradeUpdate is broadcast on the "trades:{pair}" channel for each fill.
type TradeUpdate struct {
	Type  string    `json:"type"` // "trade"
	Trade TradeInfo `json:"trade"`
}

// ==============================
// Parsing helpers
// ==============================

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s: missing amount", field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q: %w", field, s, err)
	}
	return v, nil
}

func parseSide(s string) (isBuy bool, err error) {
	switch s {
	case "buy":
		return true, nil
	case "sell":
		return false, nil
	default:
		return false, fmt.Errorf("side: expected \"buy\" or \"sell\", got %q", s)
	}
}
