package pair

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry manages trading pair configurations in a thread-safe manner.
// Pairs are registered once by the engine owner and are immutable afterwards;
// re-registering the same (base, quote) key overwrites the previous entry.
type Registry struct {
	mu    sync.RWMutex
	pairs map[Key]*Pair
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pairs: make(map[Key]*Pair),
	}
}

// Add validates and registers a pair. An existing entry for the exact
// (base, quote) key is overwritten; there are no merge semantics.
func (r *Registry) Add(p *Pair) error {
	if p == nil {
		return fmt.Errorf("cannot register nil pair")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pairs[p.Key()] = p
	return nil
}

// Get returns the pair for the exact (base, quote) key.
func (r *Registry) Get(base, quote common.Address) (*Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pairs[Key{Base: base, Quote: quote}]
	return p, ok
}

// RequireActive returns the pair if it is configured and active.
// Called at the top of every order-placement path.
func (r *Registry) RequireActive(base, quote common.Address) (*Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pairs[Key{Base: base, Quote: quote}]
	if !ok || !p.IsActive {
		return nil, fmt.Errorf("pair %s/%s: %w", base.Hex(), quote.Hex(), ErrPairNotActive)
	}
	return p, nil
}

// List returns all registered pairs, ordered by key for deterministic output.
func (r *Registry) List() []*Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Count returns the number of registered pairs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}
