package engine

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yjkwon/monadex/pkg/dex/ledger"
	"github.com/yjkwon/monadex/pkg/dex/order"
	"github.com/yjkwon/monadex/pkg/dex/pair"
)

// Store is the engine's Pebble-backed persistence: trading pairs, the full
// order history, ledger balances, and executed trades. All access goes
// through the engine mutex, so the store itself carries no locking.
type Store struct {
	db *pebble.DB
}

// OpenStore opens (or creates) the engine database at path.
func OpenStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(128 << 20),
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 3 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadPairs returns every persisted trading pair.
func (s *Store) LoadPairs() ([]*pair.Pair, error) {
	prefix := []byte(prefixPair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scan pairs: %w", err)
	}
	defer iter.Close()

	var pairs []*pair.Pair
	for iter.First(); iter.Valid(); iter.Next() {
		var p pair.Pair
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("decode pair at %q: %w", iter.Key(), err)
		}
		pairs = append(pairs, &p)
	}
	return pairs, iter.Error()
}

// LoadOrders returns the full order history in id order. The zero-padded key
// makes the forward scan come back ascending, which the caller relies on to
// rebuild book FIFO priority.
func (s *Store) LoadOrders() ([]*order.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	defer iter.Close()

	var orders []*order.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("decode order at %q: %w", iter.Key(), err)
		}
		orders = append(orders, &o)
	}
	return orders, iter.Error()
}

// LoadBalances returns every persisted ledger entry. Account and token come
// out of the key, the amount out of the value.
func (s *Store) LoadBalances() ([]ledger.Entry, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scan balances: %w", err)
	}
	defer iter.Close()

	var entries []ledger.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		account, token, err := balanceKeyParts(iter.Key())
		if err != nil {
			return nil, err
		}
		amount, err := uint256.FromHex(string(iter.Value()))
		if err != nil {
			return nil, fmt.Errorf("decode balance at %q: %w", iter.Key(), err)
		}
		if amount.IsZero() {
			continue
		}
		entries = append(entries, ledger.Entry{Account: account, Token: token, Amount: amount})
	}
	return entries, iter.Error()
}

// LoadRecentTrades returns up to limit trades on the pair, newest first.
func (s *Store) LoadRecentTrades(base, quote common.Address, limit int) ([]*Trade, error) {
	prefix := tradePrefix(base, quote)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scan trades: %w", err)
	}
	defer iter.Close()

	var trades []*Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode trade at %q: %w", iter.Key(), err)
		}
		trades = append(trades, &t)
	}
	return trades, iter.Error()
}

// Batch accumulates writes and commits them atomically. Encoding errors are
// deferred to Commit so call sites stay linear.
type Batch struct {
	batch *pebble.Batch
	err   error
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) set(key []byte, value []byte) {
	if b.err != nil {
		return
	}
	b.err = b.batch.Set(key, value, nil)
}

func (b *Batch) setJSON(key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encode %q: %w", key, err)
		return
	}
	b.err = b.batch.Set(key, data, nil)
}

func (b *Batch) PutPair(p *pair.Pair) {
	b.setJSON(pairKey(p.BaseToken, p.QuoteToken), p)
}

func (b *Batch) PutOrder(o *order.Order) {
	b.setJSON(orderKey(o.ID), o)
}

// PutBalance writes the current balance for one (account, token). A zero
// amount is still written so a spent balance does not resurrect on reload.
func (b *Batch) PutBalance(account, token common.Address, amount *uint256.Int) {
	b.set(balanceKey(account, token), []byte(amount.Hex()))
}

func (b *Batch) PutTrade(t *Trade) {
	b.setJSON(tradeKey(t.BaseToken, t.QuoteToken, t.Timestamp, t.ID), t)
}

// Commit writes the batch atomically.
func (b *Batch) Commit() error {
	if b.err != nil {
		return b.err
	}
	return b.batch.Commit(pebble.Sync)
}

// Close releases the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
