package order

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrOrderNotFound is returned when an order id is unknown.
var ErrOrderNotFound = errors.New("order not found")

// Store holds every order ever created, keyed by id, with a per-trader index
// of order ids. Thread-safe; the engine serializes mutations on top of the
// store's own lock.
type Store struct {
	mu       sync.RWMutex
	orders   map[uint64]*Order
	byTrader map[common.Address][]uint64
	seq      uint64 // last assigned id; first order gets id 1
}

// NewStore creates an empty order store.
func NewStore() *Store {
	return &Store{
		orders:   make(map[uint64]*Order),
		byTrader: make(map[common.Address][]uint64),
	}
}

// Create assigns the next order id and records a new active order.
// Ids are monotonic and never reused.
func (s *Store) Create(trader, baseToken, quoteToken common.Address, amount, price *uint256.Int, isBuy bool, timestamp int64) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	o := &Order{
		ID:         s.seq,
		Trader:     trader,
		BaseToken:  baseToken,
		QuoteToken: quoteToken,
		Amount:     amount.Clone(),
		Price:      price.Clone(),
		IsBuy:      isBuy,
		IsActive:   true,
		Timestamp:  timestamp,
	}

	s.orders[o.ID] = o
	s.byTrader[trader] = append(s.byTrader[trader], o.ID)
	return o
}

// Get returns the order with the given id.
func (s *Store) Get(id uint64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	return o, nil
}

// ActiveForPair returns all active orders on the exact (base, quote) pair,
// in ascending id order. Pair direction matters: (A,B) and (B,A) are
// distinct books.
func (s *Store) ActiveForPair(baseToken, quoteToken common.Address) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Order
	for _, o := range s.orders {
		if o.IsActive && o.BaseToken == baseToken && o.QuoteToken == quoteToken {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveIDsForTrader filters the trader's historical order-id list down to
// currently active orders.
func (s *Store) ActiveIDsForTrader(trader common.Address) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0)
	for _, id := range s.byTrader[trader] {
		if o, ok := s.orders[id]; ok && o.IsActive {
			ids = append(ids, id)
		}
	}
	return ids
}

// All returns every order ever created, in ascending id order.
// Used for persistence snapshots.
func (s *Store) All() []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the total number of orders ever created.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Restore replaces the store contents with persisted orders.
// The sequence counter resumes past the highest id seen.
func (s *Store) Restore(orders []*Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = make(map[uint64]*Order, len(orders))
	s.byTrader = make(map[common.Address][]uint64)
	s.seq = 0

	sorted := make([]*Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, o := range sorted {
		s.orders[o.ID] = o
		s.byTrader[o.Trader] = append(s.byTrader[o.Trader], o.ID)
		if o.ID > s.seq {
			s.seq = o.ID
		}
	}
}
