package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/yjkwon/monadex/pkg/dex/book"
	"github.com/yjkwon/monadex/pkg/dex/ledger"
	"github.com/yjkwon/monadex/pkg/dex/order"
	"github.com/yjkwon/monadex/pkg/dex/pair"
	"github.com/yjkwon/monadex/pkg/dex/token"
	"github.com/yjkwon/monadex/pkg/util"
)

// recentTradesCap bounds the in-memory trade ring kept per engine.
const recentTradesCap = 1000

// Engine is the matching core: it owns the trading pair registry, the order
// store, the balance ledger, and one price-indexed book per pair. A single
// mutex serializes every mutating call, reproducing the run-to-completion
// atomicity of the deterministic ledger the design comes from: each call
// either applies in full or fails with no state change.
type Engine struct {
	mu    sync.Mutex
	log   *zap.SugaredLogger
	clock util.Clock

	owner        common.Address
	feeRecipient common.Address

	pairs  *pair.Registry
	orders *order.Store
	ledger *ledger.Ledger
	books  map[pair.Key]*book.Book
	vault  token.Transferor
	store  *Store

	recent []*Trade // newest last
}

// Config wires an engine's collaborators.
type Config struct {
	Owner        common.Address // administrator capability for AddTradingPair
	FeeRecipient common.Address // ledger account accruing trading fees
	Vault        token.Transferor
	DBPath       string // Pebble directory; empty disables persistence
	Logger       *zap.SugaredLogger
	Clock        util.Clock
}

// New creates an engine, reloading persisted pairs, orders, and balances when
// a database path is configured. Books are rebuilt from active orders in
// ascending id order, which preserves FIFO priority within price levels.
func New(cfg Config) (*Engine, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("engine requires a token vault")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}

	e := &Engine{
		log:          cfg.Logger,
		clock:        cfg.Clock,
		owner:        cfg.Owner,
		feeRecipient: cfg.FeeRecipient,
		pairs:        pair.NewRegistry(),
		orders:       order.NewStore(),
		ledger:       ledger.New(),
		books:        make(map[pair.Key]*book.Book),
		vault:        cfg.Vault,
	}

	if cfg.DBPath != "" {
		store, err := OpenStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open engine store: %w", err)
		}
		e.store = store
		if err := e.reload(); err != nil {
			store.Close()
			return nil, fmt.Errorf("reload engine state: %w", err)
		}
	}

	return e, nil
}

// Close releases the underlying database. Safe to call more than once;
// later calls are no-ops.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

func (e *Engine) reload() error {
	pairs, err := e.store.LoadPairs()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := e.pairs.Add(p); err != nil {
			return fmt.Errorf("restore pair %s: %w", p.Key(), err)
		}
	}

	orders, err := e.store.LoadOrders()
	if err != nil {
		return err
	}
	e.orders.Restore(orders)
	for _, o := range e.orders.All() {
		if o.IsActive {
			e.bookFor(pair.Key{Base: o.BaseToken, Quote: o.QuoteToken}).Add(o)
		}
	}

	entries, err := e.store.LoadBalances()
	if err != nil {
		return err
	}
	e.ledger.Restore(entries)

	e.log.Infow("engine_state_reloaded",
		"pairs", e.pairs.Count(), "orders", e.orders.Count(), "balances", len(entries))
	return nil
}

func (e *Engine) bookFor(k pair.Key) *book.Book {
	bk, ok := e.books[k]
	if !ok {
		bk = book.New()
		e.books[k] = bk
	}
	return bk
}

// AddTradingPair registers a new (base, quote) trading pair. Restricted to
// the engine owner; an existing entry for the exact ordered pair is
// overwritten. The reversed pair is a separate book and must be registered
// separately.
func (e *Engine) AddTradingPair(caller, baseToken, quoteToken common.Address, minOrderSize, pricePrecision *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return fmt.Errorf("add trading pair by %s: %w", caller.Hex(), ErrNotOwner)
	}
	if minOrderSize == nil {
		minOrderSize = new(uint256.Int)
	}
	if pricePrecision == nil {
		pricePrecision = new(uint256.Int) // rejected by pair validation below
	}

	p := &pair.Pair{
		BaseToken:      baseToken,
		QuoteToken:     quoteToken,
		IsActive:       true,
		MinOrderSize:   minOrderSize.Clone(),
		PricePrecision: pricePrecision.Clone(),
	}
	if err := e.pairs.Add(p); err != nil {
		return err
	}
	e.bookFor(p.Key())

	if e.store != nil {
		b := e.store.NewBatch()
		defer b.Close()
		b.PutPair(p)
		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist pair: %w", err)
		}
	}

	e.log.Infow("pair_added", "pair", p.Key().String(),
		"min_order_size", minOrderSize.Dec(), "price_precision", pricePrecision.Dec())
	return nil
}

// CancelOrder deactivates an active order owned by caller and refunds its
// remaining escrow: the ledger is debited and the tokens are pushed back to
// the caller's wallet. A second cancel of the same id fails with
// ErrOrderAlreadyInactive.
func (e *Engine) CancelOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.orders.Get(id)
	if err != nil {
		return err
	}
	if o.Trader != caller {
		return fmt.Errorf("cancel order %d by %s: %w", id, caller.Hex(), ErrNotOrderOwner)
	}
	if !o.IsActive {
		return fmt.Errorf("cancel order %d: %w", id, ErrOrderAlreadyInactive)
	}

	p, ok := e.pairs.Get(o.BaseToken, o.QuoteToken)
	if !ok {
		return fmt.Errorf("cancel order %d: pair %s/%s not configured",
			id, o.BaseToken.Hex(), o.QuoteToken.Hex())
	}

	refundToken := o.BaseToken
	refundAmount := o.Amount.Clone()
	if o.IsBuy {
		refundToken = o.QuoteToken
		refundAmount, err = mulDiv(o.Amount, o.Price, p.PricePrecision)
		if err != nil {
			return fmt.Errorf("cancel order %d: %w", id, err)
		}
	}

	// The escrow may already have been withdrawn (balances carry no lock);
	// in that case the cancel fails and the order stays active.
	if err := e.ledger.Debit(o.Trader, refundToken, refundAmount); err != nil {
		return fmt.Errorf("cancel order %d: %w", id, err)
	}
	if err := e.vault.TransferOut(o.Trader, refundToken, refundAmount); err != nil {
		e.ledger.Credit(o.Trader, refundToken, refundAmount) // roll back the debit
		return fmt.Errorf("cancel order %d: %w", id, err)
	}

	o.IsActive = false
	e.bookFor(pair.Key{Base: o.BaseToken, Quote: o.QuoteToken}).Remove(id)

	if e.store != nil {
		b := e.store.NewBatch()
		defer b.Close()
		b.PutOrder(o)
		b.PutBalance(o.Trader, refundToken, e.ledger.Balance(o.Trader, refundToken))
		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist cancel: %w", err)
		}
	}

	e.log.Infow("order_cancelled", "order", id, "trader", caller.Hex(),
		"refund", refundAmount.Dec(), "token", refundToken.Hex())
	return nil
}

// Withdraw debits the caller's recorded balance and transfers the tokens out
// of escrow. The recorded balance is the withdrawal limit; escrow backing
// open orders lives in the same bucket and is withdrawable too (the design
// carries no free/locked split).
func (e *Engine) Withdraw(caller, tok common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Debit(caller, tok, amount); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	if err := e.vault.TransferOut(caller, tok, amount); err != nil {
		e.ledger.Credit(caller, tok, amount) // roll back the debit
		return fmt.Errorf("withdraw: %w", err)
	}

	if e.store != nil {
		b := e.store.NewBatch()
		defer b.Close()
		b.PutBalance(caller, tok, e.ledger.Balance(caller, tok))
		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist withdrawal: %w", err)
		}
	}

	e.log.Infow("withdrawal", "account", caller.Hex(), "token", tok.Hex(), "amount", amount.Dec())
	return nil
}

// BookSnapshot is the raw order-book read: one entry per active order,
// unsorted; callers sort and aggregate as needed.
type BookSnapshot struct {
	BuyPrices   []*uint256.Int
	BuyAmounts  []*uint256.Int
	SellPrices  []*uint256.Int
	SellAmounts []*uint256.Int
}

// OrderBook returns a snapshot of all active orders on the pair.
func (e *Engine) OrderBook(baseToken, quoteToken common.Address) (*BookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pairs.Get(baseToken, quoteToken); !ok {
		return nil, fmt.Errorf("pair %s/%s: %w", baseToken.Hex(), quoteToken.Hex(), pair.ErrPairNotActive)
	}

	snap := &BookSnapshot{}
	for _, o := range e.orders.ActiveForPair(baseToken, quoteToken) {
		if o.IsBuy {
			snap.BuyPrices = append(snap.BuyPrices, o.Price.Clone())
			snap.BuyAmounts = append(snap.BuyAmounts, o.Amount.Clone())
		} else {
			snap.SellPrices = append(snap.SellPrices, o.Price.Clone())
			snap.SellAmounts = append(snap.SellAmounts, o.Amount.Clone())
		}
	}
	return snap, nil
}

// BookLevels returns aggregated price levels: bids high to low, asks low to
// high. This is the display shape the order-book UI expects.
func (e *Engine) BookLevels(baseToken, quoteToken common.Address) (bids, asks []book.Level, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pairs.Get(baseToken, quoteToken); !ok {
		return nil, nil, fmt.Errorf("pair %s/%s: %w", baseToken.Hex(), quoteToken.Hex(), pair.ErrPairNotActive)
	}

	bk := e.bookFor(pair.Key{Base: baseToken, Quote: quoteToken})
	return bk.BidLevels(), bk.AskLevels(), nil
}

// UserOrders returns the account's active order ids.
func (e *Engine) UserOrders(account common.Address) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.ActiveIDsForTrader(account)
}

// GetOrder returns an order by id, active or not.
func (e *Engine) GetOrder(id uint64) (*order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Get(id)
}

// UserBalance returns the account's recorded escrow balance for a token.
func (e *Engine) UserBalance(account, tok common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance(account, tok)
}

// Pairs lists all registered trading pairs.
func (e *Engine) Pairs() []*pair.Pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pairs.List()
}

// RecentTrades returns up to limit most recent trades on the pair, newest
// first. Served from the persistent store when one is configured.
func (e *Engine) RecentTrades(baseToken, quoteToken common.Address, limit int) ([]*Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		return e.store.LoadRecentTrades(baseToken, quoteToken, limit)
	}

	var out []*Trade
	for i := len(e.recent) - 1; i >= 0 && len(out) < limit; i-- {
		t := e.recent[i]
		if t.BaseToken == baseToken && t.QuoteToken == quoteToken {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Engine) recordTrade(t *Trade) {
	e.recent = append(e.recent, t)
	if len(e.recent) > recentTradesCap {
		e.recent = e.recent[len(e.recent)-recentTradesCap:]
	}
}
