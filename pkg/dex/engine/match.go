package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/yjkwon/monadex/pkg/dex/book"
	"github.com/yjkwon/monadex/pkg/dex/order"
	"github.com/yjkwon/monadex/pkg/dex/pair"
)

// PlaceLimitOrder escrows the incoming side (quote tokens for a buy, base
// tokens for a sell), records the order, and attempts exactly one match
// against the opposite side of the book. Returns the new order id and the
// executed trade, if any.
//
// One match per placement is the contract's behavior: a book that still
// crosses after the trade waits for the next placement to match again.
func (e *Engine) PlaceLimitOrder(trader, baseToken, quoteToken common.Address, amount, price *uint256.Int, isBuy bool) (uint64, *Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pairs.RequireActive(baseToken, quoteToken)
	if err != nil {
		return 0, nil, err
	}
	if amount == nil || amount.IsZero() || amount.Lt(p.MinOrderSize) {
		return 0, nil, fmt.Errorf("amount %s below pair minimum %s: %w",
			decOrZero(amount), p.MinOrderSize.Dec(), ErrOrderTooSmall)
	}
	if price == nil || price.IsZero() {
		return 0, nil, ErrInvalidPrice
	}

	// The quote leg must be representable before anything is escrowed; this
	// also bounds every later product involving this order's own price.
	quoteEscrow, err := mulDiv(amount, price, p.PricePrecision)
	if err != nil {
		return 0, nil, fmt.Errorf("place limit order: %w", err)
	}

	escrowToken, escrowAmount := baseToken, amount.Clone()
	if isBuy {
		escrowToken, escrowAmount = quoteToken, quoteEscrow
	}
	if err := e.vault.TransferIn(trader, escrowToken, escrowAmount); err != nil {
		return 0, nil, fmt.Errorf("escrow for limit order: %w", err)
	}
	e.ledger.Credit(trader, escrowToken, escrowAmount)

	o := e.orders.Create(trader, baseToken, quoteToken, amount, price, isBuy, e.clock.Now().UnixMilli())
	bk := e.bookFor(p.Key())
	bk.Add(o)

	trade, expired := e.matchOnce(p, bk)
	if trade != nil {
		e.recordTrade(trade)
	}

	if err := e.persistPlacement(o, trade, expired, trader, escrowToken); err != nil {
		return 0, nil, err
	}

	e.log.Infow("limit_order_placed", "order", o.ID, "trader", trader.Hex(),
		"pair", p.Key().String(), "side", o.Side(), "amount", amount.Dec(),
		"price", price.Dec(), "matched", trade != nil)
	return o.ID, trade, nil
}

// matchOnce executes at most one trade between the best bid and the best ask.
// Resting orders whose escrow no longer covers their leg (withdrawn through
// the shared balance bucket) are deactivated and the scan continues.
func (e *Engine) matchOnce(p *pair.Pair, bk *book.Book) (*Trade, []*order.Order) {
	var expired []*order.Order
	for {
		buy, okBuy := bk.BestBid()
		sell, okSell := bk.BestAsk()
		if !okBuy || !okSell {
			return nil, expired
		}
		if buy.Price.Lt(sell.Price) {
			return nil, expired // no cross
		}

		matchAmount := minAmount(buy.Amount, sell.Amount)

		// Execution price is the midpoint of the two limit prices, per the
		// contract. Not the maker price.
		sum, overflow := new(uint256.Int).AddOverflow(buy.Price, sell.Price)
		if overflow {
			e.log.Warnw("match_skipped_price_overflow", "buy", buy.ID, "sell", sell.ID)
			return nil, expired
		}
		matchPrice := sum.Div(sum, uint256.NewInt(2))

		fee, err := feeOn(matchAmount)
		if err != nil {
			e.log.Warnw("match_skipped_fee_overflow", "buy", buy.ID, "sell", sell.ID)
			return nil, expired
		}
		baseAmount := new(uint256.Int).Sub(matchAmount, fee)
		quoteAmount, err := mulDiv(baseAmount, matchPrice, p.PricePrecision)
		if err != nil {
			e.log.Warnw("match_skipped_quote_overflow", "buy", buy.ID, "sell", sell.ID)
			return nil, expired
		}

		if !e.ledger.Covers(buy.Trader, p.QuoteToken, quoteAmount) {
			e.expireUnderfunded(bk, buy)
			expired = append(expired, buy)
			continue
		}
		if !e.ledger.Covers(sell.Trader, p.BaseToken, matchAmount) {
			e.expireUnderfunded(bk, sell)
			expired = append(expired, sell)
			continue
		}

		// Settle both legs. The quote leg moves buyer -> seller; the base leg
		// moves seller -> buyer minus the fee, which accrues to the fee
		// recipient so every token stays accounted for.
		mustDebit(e.ledger.Debit(buy.Trader, p.QuoteToken, quoteAmount))
		e.ledger.Credit(sell.Trader, p.QuoteToken, quoteAmount)
		mustDebit(e.ledger.Debit(sell.Trader, p.BaseToken, matchAmount))
		e.ledger.Credit(buy.Trader, p.BaseToken, baseAmount)
		e.ledger.Credit(e.feeRecipient, p.BaseToken, fee)

		e.reduceOrder(bk, buy, matchAmount)
		e.reduceOrder(bk, sell, matchAmount)

		t := &Trade{
			ID:          uuid.NewString(),
			BaseToken:   p.BaseToken,
			QuoteToken:  p.QuoteToken,
			Price:       matchPrice,
			Amount:      matchAmount,
			Fee:         fee,
			Buyer:       buy.Trader,
			Seller:      sell.Trader,
			BuyOrderID:  buy.ID,
			SellOrderID: sell.ID,
			Timestamp:   e.clock.Now().UnixMilli(),
		}
		e.log.Infow("trade_executed", "trade", t.ID, "pair", p.Key().String(),
			"price", matchPrice.Dec(), "amount", matchAmount.Dec(), "fee", fee.Dec(),
			"buy_order", buy.ID, "sell_order", sell.ID)
		return t, expired
	}
}

// reduceOrder decrements a matched order's remaining amount and retires it
// from the book at exactly zero.
func (e *Engine) reduceOrder(bk *book.Book, o *order.Order, matched *uint256.Int) {
	o.Amount.Sub(o.Amount, matched)
	if o.Amount.IsZero() {
		o.IsActive = false
		bk.Remove(o.ID)
	}
}

// expireUnderfunded deactivates a resting order whose escrow was withdrawn
// out from under it. No refund is due: the backing balance is already gone.
func (e *Engine) expireUnderfunded(bk *book.Book, o *order.Order) {
	o.IsActive = false
	bk.Remove(o.ID)
	e.log.Warnw("order_expired_underfunded", "order", o.ID, "trader", o.Trader.Hex())
}

func (e *Engine) persistPlacement(o *order.Order, t *Trade, expired []*order.Order, trader, escrowToken common.Address) error {
	if e.store == nil {
		return nil
	}

	b := e.store.NewBatch()
	defer b.Close()

	b.PutOrder(o)
	for _, ex := range expired {
		b.PutOrder(ex)
	}
	b.PutBalance(trader, escrowToken, e.ledger.Balance(trader, escrowToken))
	if t != nil {
		for _, id := range []uint64{t.BuyOrderID, t.SellOrderID} {
			if matched, err := e.orders.Get(id); err == nil {
				b.PutOrder(matched)
			}
		}
		for _, acct := range []common.Address{t.Buyer, t.Seller, e.feeRecipient} {
			b.PutBalance(acct, t.BaseToken, e.ledger.Balance(acct, t.BaseToken))
			b.PutBalance(acct, t.QuoteToken, e.ledger.Balance(acct, t.QuoteToken))
		}
		b.PutTrade(t)
	}

	if err := b.Commit(); err != nil {
		return fmt.Errorf("persist placement: %w", err)
	}
	return nil
}

// mustDebit asserts a debit that was balance-checked under the engine lock.
func mustDebit(err error) {
	if err != nil {
		panic(fmt.Sprintf("settlement debit failed after funding check: %v", err))
	}
}

func decOrZero(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
