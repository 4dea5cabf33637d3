package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a debit exceeds the recorded balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger tracks escrowed token balances per (account, token) in a thread-safe
// manner. Balances are unsigned: every debit is checked against the recorded
// balance, so an entry can never go negative. The ledger does not distinguish
// free from locked funds; escrow backing an open order lives in the same
// bucket as withdrawable balance.
//
// The engine is the only writer. Credits come from order escrow or trade
// settlement, debits from withdrawals, cancellation refunds, or settlement.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*uint256.Int // account -> token -> amount
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Credit increases the balance of (account, token) by amount.
func (l *Ledger) Credit(account, token common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tokens, ok := l.balances[account]
	if !ok {
		tokens = make(map[common.Address]*uint256.Int)
		l.balances[account] = tokens
	}

	bal, ok := tokens[token]
	if !ok {
		bal = new(uint256.Int)
		tokens[token] = bal
	}
	bal.Add(bal, amount)
}

// Debit decreases the balance of (account, token) by amount.
// Fails with ErrInsufficientBalance if amount exceeds the recorded balance;
// the balance is left untouched on failure.
func (l *Ledger) Debit(account, token common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[account][token]
	if bal == nil || bal.Lt(amount) {
		have := new(uint256.Int)
		if bal != nil {
			have.Set(bal)
		}
		return fmt.Errorf("debit %s of token %s from %s (have %s): %w",
			amount.Dec(), token.Hex(), account.Hex(), have.Dec(), ErrInsufficientBalance)
	}

	bal.Sub(bal, amount)
	return nil
}

// Balance returns the recorded balance of (account, token).
// Returns a copy; mutating the result does not affect the ledger.
func (l *Ledger) Balance(account, token common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bal := l.balances[account][token]
	if bal == nil {
		return new(uint256.Int)
	}
	return bal.Clone()
}

// Covers reports whether (account, token) holds at least amount.
func (l *Ledger) Covers(account, token common.Address, amount *uint256.Int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bal := l.balances[account][token]
	if bal == nil {
		return amount == nil || amount.IsZero()
	}
	return !bal.Lt(amount)
}

// Entry is a single (account, token, amount) row. Persisted balances reload
// through Restore as a slice of these.
type Entry struct {
	Account common.Address
	Token   common.Address
	Amount  *uint256.Int
}

// Entries returns a copy of every non-zero balance row, the export view for
// custody audits.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for account, tokens := range l.balances {
		for token, bal := range tokens {
			if bal.IsZero() {
				continue
			}
			out = append(out, Entry{Account: account, Token: token, Amount: bal.Clone()})
		}
	}
	return out
}

// TotalHeld sums all recorded balances for a token across every account.
// Custody audits compare it against the tokens actually escrowed in the
// vault.
func (l *Ledger) TotalHeld(token common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := new(uint256.Int)
	for _, tokens := range l.balances {
		if bal, ok := tokens[token]; ok {
			total.Add(total, bal)
		}
	}
	return total
}

// Restore replaces the ledger contents with the given entries.
// Used on startup when reloading persisted state.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[common.Address]map[common.Address]*uint256.Int)
	for _, e := range entries {
		if e.Amount == nil || e.Amount.IsZero() {
			continue
		}
		tokens, ok := l.balances[e.Account]
		if !ok {
			tokens = make(map[common.Address]*uint256.Int)
			l.balances[e.Account] = tokens
		}
		tokens[e.Token] = e.Amount.Clone()
	}
}
