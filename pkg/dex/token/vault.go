package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientFunds is returned when a wallet cannot cover a transfer in.
var ErrInsufficientFunds = errors.New("insufficient wallet funds")

// Transferor moves tokens between external wallets and the engine's custody.
// TransferIn pulls tokens from a wallet into escrow; TransferOut pushes them
// back out. Implementations must either fully succeed or fail without moving
// anything, since the engine commits ledger state only after a successful
// transfer.
type Transferor interface {
	TransferIn(from, token common.Address, amount *uint256.Int) error
	TransferOut(to, token common.Address, amount *uint256.Int) error
}

// Vault is the in-process Transferor: it models the per-wallet token balances
// that an ERC-20 contract would hold, plus the total amount of each token
// currently in engine custody. Mint funds wallets on a devnet and in tests.
type Vault struct {
	mu      sync.RWMutex
	wallets map[common.Address]map[common.Address]*uint256.Int // owner -> token -> balance
	held    map[common.Address]*uint256.Int                    // token -> total in custody
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{
		wallets: make(map[common.Address]map[common.Address]*uint256.Int),
		held:    make(map[common.Address]*uint256.Int),
	}
}

// Mint credits a wallet with freshly issued tokens.
func (v *Vault) Mint(to, token common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.walletLocked(to, token)
	bal.Add(bal, amount)
}

// TransferIn pulls tokens from a wallet into engine custody.
func (v *Vault) TransferIn(from, token common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.walletLocked(from, token)
	if bal.Lt(amount) {
		return fmt.Errorf("transfer in %s of token %s from %s (wallet has %s): %w",
			amount.Dec(), token.Hex(), from.Hex(), bal.Dec(), ErrInsufficientFunds)
	}

	bal.Sub(bal, amount)
	held := v.heldLocked(token)
	held.Add(held, amount)
	return nil
}

// TransferOut pushes tokens from engine custody back to a wallet.
func (v *Vault) TransferOut(to, token common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.heldLocked(token)
	if held.Lt(amount) {
		return fmt.Errorf("transfer out %s of token %s (custody holds %s): %w",
			amount.Dec(), token.Hex(), held.Dec(), ErrInsufficientFunds)
	}

	held.Sub(held, amount)
	bal := v.walletLocked(to, token)
	bal.Add(bal, amount)
	return nil
}

// WalletBalance returns a wallet's balance outside engine custody.
func (v *Vault) WalletBalance(owner, token common.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	bal := v.wallets[owner][token]
	if bal == nil {
		return new(uint256.Int)
	}
	return bal.Clone()
}

// Held returns the total amount of a token in engine custody. The ledger's
// tracked balances for a token must never exceed this.
func (v *Vault) Held(token common.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	held := v.held[token]
	if held == nil {
		return new(uint256.Int)
	}
	return held.Clone()
}

func (v *Vault) walletLocked(owner, token common.Address) *uint256.Int {
	tokens, ok := v.wallets[owner]
	if !ok {
		tokens = make(map[common.Address]*uint256.Int)
		v.wallets[owner] = tokens
	}
	bal, ok := tokens[token]
	if !ok {
		bal = new(uint256.Int)
		tokens[token] = bal
	}
	return bal
}

func (v *Vault) heldLocked(token common.Address) *uint256.Int {
	held, ok := v.held[token]
	if !ok {
		held = new(uint256.Int)
		v.held[token] = held
	}
	return held
}

var _ Transferor = (*Vault)(nil)
