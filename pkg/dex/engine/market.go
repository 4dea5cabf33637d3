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

// marketFill is one planned consumption of a resting order.
type marketFill struct {
	maker       *order.Order
	matchAmount *uint256.Int // base quantity taken from the resting order
	fee         *uint256.Int // base-token fee on this fill
	baseAmount  *uint256.Int // matchAmount minus fee, credited to the buyer
	quoteAmount *uint256.Int // baseAmount at the resting order's price
}

// marketPlan is a fully computed market-order execution. Nothing is mutated
// until a plan covers the whole requested amount, which makes
// ErrInsufficientLiquidity side-effect free.
type marketPlan struct {
	fills   []marketFill
	total   *uint256.Int   // quote cost (buy) or quote revenue (sell)
	skipped []*order.Order // underfunded resting orders, deactivated on apply
}

// PlaceMarketOrder fills the requested base amount immediately against the
// resting book, walking the opposite side best price first (ascending ask
// price for a buy, descending bid price for a sell) and FIFO within a level.
// No persistent order is created. Each consumed resting order is settled with
// the same math as a limit match, executed at the resting order's own price,
// and its remaining amount is decremented. If the book cannot cover the full
// amount the call fails with ErrInsufficientLiquidity and no state changes.
func (e *Engine) PlaceMarketOrder(trader, baseToken, quoteToken common.Address, amount *uint256.Int, isBuy bool) ([]*Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pairs.RequireActive(baseToken, quoteToken)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() || amount.Lt(p.MinOrderSize) {
		return nil, fmt.Errorf("amount %s below pair minimum %s: %w",
			decOrZero(amount), p.MinOrderSize.Dec(), ErrOrderTooSmall)
	}

	bk := e.bookFor(p.Key())
	plan, err := e.planMarket(p, bk, amount, isBuy)
	if err != nil {
		return nil, err
	}

	// Escrow the taker's input side in full: the quote cost for a buy, the
	// base amount for a sell.
	inToken, inAmount := baseToken, amount.Clone()
	if isBuy {
		inToken, inAmount = quoteToken, plan.total.Clone()
	}
	if err := e.vault.TransferIn(trader, inToken, inAmount); err != nil {
		return nil, fmt.Errorf("escrow for market order: %w", err)
	}
	e.ledger.Credit(trader, inToken, inAmount)

	trades := e.applyMarket(p, bk, trader, plan, isBuy)
	for _, o := range plan.skipped {
		e.expireUnderfunded(bk, o)
	}
	for _, t := range trades {
		e.recordTrade(t)
	}

	if err := e.persistMarket(trader, p, plan, trades); err != nil {
		return nil, err
	}

	e.log.Infow("market_order_filled", "trader", trader.Hex(), "pair", p.Key().String(),
		"side", sideString(isBuy), "amount", amount.Dec(), "fills", len(trades),
		"total_quote", plan.total.Dec())
	return trades, nil
}

// planMarket walks the opposite side of the book and computes the full fill
// set without mutating anything. Resting orders whose makers no longer hold
// the escrow to settle (withdrawn through the shared balance bucket) are
// excluded from the plan and marked for deactivation.
func (e *Engine) planMarket(p *pair.Pair, bk *book.Book, amount *uint256.Int, isBuy bool) (*marketPlan, error) {
	plan := &marketPlan{total: new(uint256.Int)}
	remaining := amount.Clone()

	// Escrow already claimed from each maker by earlier fills in this plan.
	claimed := make(map[common.Address]*uint256.Int)

	var walkErr error
	visit := func(o *order.Order) bool {
		if remaining.IsZero() {
			return false
		}

		matchAmount := minAmount(remaining, o.Amount)
		fee, err := feeOn(matchAmount)
		if err != nil {
			walkErr = err
			return false
		}
		baseAmount := new(uint256.Int).Sub(matchAmount, fee)
		quoteAmount, err := mulDiv(baseAmount, o.Price, p.PricePrecision)
		if err != nil {
			walkErr = err
			return false
		}

		// The maker's leg: base for a resting sell, quote for a resting buy.
		makerToken, makerNeed := p.BaseToken, matchAmount
		if o.IsBuy {
			makerToken, makerNeed = p.QuoteToken, quoteAmount
		}
		prior, ok := claimed[o.Trader]
		if !ok {
			prior = new(uint256.Int)
		}
		need, overflow := new(uint256.Int).AddOverflow(prior, makerNeed)
		if overflow || !e.ledger.Covers(o.Trader, makerToken, need) {
			plan.skipped = append(plan.skipped, o)
			return true
		}
		claimed[o.Trader] = need

		plan.fills = append(plan.fills, marketFill{
			maker:       o,
			matchAmount: matchAmount,
			fee:         fee,
			baseAmount:  baseAmount,
			quoteAmount: quoteAmount,
		})
		plan.total.Add(plan.total, quoteAmount)
		remaining.Sub(remaining, matchAmount)
		return !remaining.IsZero()
	}

	if isBuy {
		bk.AscendAsks(visit)
	} else {
		bk.DescendBids(visit)
	}

	if walkErr != nil {
		return nil, fmt.Errorf("plan market order: %w", walkErr)
	}
	if !remaining.IsZero() {
		return nil, fmt.Errorf("unfilled %s of %s requested: %w",
			remaining.Dec(), amount.Dec(), ErrInsufficientLiquidity)
	}
	return plan, nil
}

// applyMarket settles every planned fill. The taker's input escrow was
// credited by the caller; each fill moves the two legs between taker and
// maker and accrues the base-token fee to the fee recipient.
func (e *Engine) applyMarket(p *pair.Pair, bk *book.Book, trader common.Address, plan *marketPlan, isBuy bool) []*Trade {
	trades := make([]*Trade, 0, len(plan.fills))
	now := e.clock.Now().UnixMilli()

	for _, f := range plan.fills {
		t := &Trade{
			ID:         uuid.NewString(),
			BaseToken:  p.BaseToken,
			QuoteToken: p.QuoteToken,
			Price:      f.maker.Price.Clone(),
			Amount:     f.matchAmount,
			Fee:        f.fee,
			Timestamp:  now,
		}

		if isBuy {
			// Taker buys base from a resting sell.
			mustDebit(e.ledger.Debit(trader, p.QuoteToken, f.quoteAmount))
			e.ledger.Credit(f.maker.Trader, p.QuoteToken, f.quoteAmount)
			mustDebit(e.ledger.Debit(f.maker.Trader, p.BaseToken, f.matchAmount))
			e.ledger.Credit(trader, p.BaseToken, f.baseAmount)
			t.Buyer, t.Seller = trader, f.maker.Trader
			t.SellOrderID = f.maker.ID
		} else {
			// Taker sells base into a resting buy.
			mustDebit(e.ledger.Debit(trader, p.BaseToken, f.matchAmount))
			e.ledger.Credit(f.maker.Trader, p.BaseToken, f.baseAmount)
			mustDebit(e.ledger.Debit(f.maker.Trader, p.QuoteToken, f.quoteAmount))
			e.ledger.Credit(trader, p.QuoteToken, f.quoteAmount)
			t.Buyer, t.Seller = f.maker.Trader, trader
			t.BuyOrderID = f.maker.ID
		}
		e.ledger.Credit(e.feeRecipient, p.BaseToken, f.fee)

		e.reduceOrder(bk, f.maker, f.matchAmount)
		trades = append(trades, t)
	}

	return trades
}

func (e *Engine) persistMarket(trader common.Address, p *pair.Pair, plan *marketPlan, trades []*Trade) error {
	if e.store == nil {
		return nil
	}

	b := e.store.NewBatch()
	defer b.Close()

	for _, f := range plan.fills {
		b.PutOrder(f.maker)
		b.PutBalance(f.maker.Trader, p.BaseToken, e.ledger.Balance(f.maker.Trader, p.BaseToken))
		b.PutBalance(f.maker.Trader, p.QuoteToken, e.ledger.Balance(f.maker.Trader, p.QuoteToken))
	}
	for _, o := range plan.skipped {
		b.PutOrder(o)
	}
	for _, t := range trades {
		b.PutTrade(t)
	}
	b.PutBalance(trader, p.BaseToken, e.ledger.Balance(trader, p.BaseToken))
	b.PutBalance(trader, p.QuoteToken, e.ledger.Balance(trader, p.QuoteToken))
	b.PutBalance(e.feeRecipient, p.BaseToken, e.ledger.Balance(e.feeRecipient, p.BaseToken))

	if err := b.Commit(); err != nil {
		return fmt.Errorf("persist market order: %w", err)
	}
	return nil
}

func sideString(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}
