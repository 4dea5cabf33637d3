package book

import (
	"container/heap"
	"sort"

	"github.com/holiman/uint256"

	"github.com/yjkwon/monadex/pkg/dex/order"
)

// Book is the price-indexed view of one trading pair's active orders: a
// max-heap of bid prices and a min-heap of ask prices for O(1) best-price
// peeks, with a FIFO queue per price level. Within a level orders keep
// insertion order, which equals ascending order id since ids are monotonic,
// so the oldest order at the best price wins the match tie-break.
//
// Not safe for concurrent use; the engine serializes all access.
type Book struct {
	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[[32]byte][]*order.Order // price -> FIFO queue
	asks map[[32]byte][]*order.Order

	prices map[uint64]*uint256.Int // order id -> price, for O(1) removal
}

// Level aggregates the total resting amount at one price.
type Level struct {
	Price  *uint256.Int
	Amount *uint256.Int
}

// New creates an empty book.
func New() *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[[32]byte][]*order.Order),
		asks:    make(map[[32]byte][]*order.Order),
		prices:  make(map[uint64]*uint256.Int),
	}
}

func levelKey(price *uint256.Int) [32]byte {
	return price.Bytes32()
}

// Add inserts an active order at the back of its price level's queue.
func (b *Book) Add(o *order.Order) {
	key := levelKey(o.Price)
	price := o.Price.Clone()

	if o.IsBuy {
		if len(b.bids[key]) == 0 {
			heap.Push(b.bidHeap, price)
		}
		b.bids[key] = append(b.bids[key], o)
	} else {
		if len(b.asks[key]) == 0 {
			heap.Push(b.askHeap, price)
		}
		b.asks[key] = append(b.asks[key], o)
	}

	b.prices[o.ID] = price
}

// Remove takes an order out of the book, collapsing its price level when it
// empties. Returns false if the order is not resting in this book.
func (b *Book) Remove(id uint64) bool {
	price, ok := b.prices[id]
	if !ok {
		return false
	}
	key := levelKey(price)

	if queue, exists := b.bids[key]; exists {
		for i, o := range queue {
			if o.ID == id {
				b.bids[key] = append(queue[:i], queue[i+1:]...)
				if len(b.bids[key]) == 0 {
					delete(b.bids, key)
					b.removeFromBidHeap(price)
				}
				delete(b.prices, id)
				return true
			}
		}
	}

	if queue, exists := b.asks[key]; exists {
		for i, o := range queue {
			if o.ID == id {
				b.asks[key] = append(queue[:i], queue[i+1:]...)
				if len(b.asks[key]) == 0 {
					delete(b.asks, key)
					b.removeFromAskHeap(price)
				}
				delete(b.prices, id)
				return true
			}
		}
	}

	return false
}

func (b *Book) removeFromBidHeap(price *uint256.Int) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if (*b.bidHeap)[i].Eq(price) {
			heap.Remove(b.bidHeap, i)
			return
		}
	}
}

func (b *Book) removeFromAskHeap(price *uint256.Int) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i].Eq(price) {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// BestBid returns the head order of the highest bid level.
func (b *Book) BestBid() (*order.Order, bool) {
	for b.bidHeap.Len() > 0 {
		price := b.bidHeap.Peek()
		queue := b.bids[levelKey(price)]
		if len(queue) == 0 {
			delete(b.bids, levelKey(price))
			heap.Pop(b.bidHeap)
			continue
		}
		return queue[0], true
	}
	return nil, false
}

// BestAsk returns the head order of the lowest ask level.
func (b *Book) BestAsk() (*order.Order, bool) {
	for b.askHeap.Len() > 0 {
		price := b.askHeap.Peek()
		queue := b.asks[levelKey(price)]
		if len(queue) == 0 {
			delete(b.asks, levelKey(price))
			heap.Pop(b.askHeap)
			continue
		}
		return queue[0], true
	}
	return nil, false
}

// AscendAsks visits resting sell orders from the lowest price upwards, FIFO
// within each level. The walk stops when fn returns false.
func (b *Book) AscendAsks(fn func(*order.Order) bool) {
	prices := b.sortedAskPrices()
	for _, p := range prices {
		for _, o := range b.asks[levelKey(p)] {
			if !fn(o) {
				return
			}
		}
	}
}

// DescendBids visits resting buy orders from the highest price downwards,
// FIFO within each level. The walk stops when fn returns false.
func (b *Book) DescendBids(fn func(*order.Order) bool) {
	prices := b.sortedBidPrices()
	for _, p := range prices {
		for _, o := range b.bids[levelKey(p)] {
			if !fn(o) {
				return
			}
		}
	}
}

func (b *Book) sortedAskPrices() []*uint256.Int {
	prices := make([]*uint256.Int, 0, len(b.asks))
	for _, queue := range b.asks {
		if len(queue) == 0 {
			continue
		}
		prices = append(prices, queue[0].Price)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Lt(prices[j]) })
	return prices
}

func (b *Book) sortedBidPrices() []*uint256.Int {
	prices := make([]*uint256.Int, 0, len(b.bids))
	for _, queue := range b.bids {
		if len(queue) == 0 {
			continue
		}
		prices = append(prices, queue[0].Price)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Gt(prices[j]) })
	return prices
}

// BidLevels returns aggregated bid levels sorted high to low (best first).
func (b *Book) BidLevels() []Level {
	var levels []Level
	for _, p := range b.sortedBidPrices() {
		total := new(uint256.Int)
		for _, o := range b.bids[levelKey(p)] {
			total.Add(total, o.Amount)
		}
		levels = append(levels, Level{Price: p.Clone(), Amount: total})
	}
	return levels
}

// AskLevels returns aggregated ask levels sorted low to high (best first).
func (b *Book) AskLevels() []Level {
	var levels []Level
	for _, p := range b.sortedAskPrices() {
		total := new(uint256.Int)
		for _, o := range b.asks[levelKey(p)] {
			total.Add(total, o.Amount)
		}
		levels = append(levels, Level{Price: p.Clone(), Amount: total})
	}
	return levels
}

// Size returns the number of resting orders.
func (b *Book) Size() int {
	return len(b.prices)
}
