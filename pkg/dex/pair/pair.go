package pair

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrIdenticalTokens is returned when base and quote are the same token.
	ErrIdenticalTokens = errors.New("identical tokens")
	// ErrInvalidTokenAddress is returned when a token identifier is the zero address.
	ErrInvalidTokenAddress = errors.New("invalid token address")
	// ErrInvalidPrecision is returned when the price precision is zero.
	ErrInvalidPrecision = errors.New("invalid price precision")
	// ErrPairNotActive is returned when a pair is unconfigured or deactivated.
	ErrPairNotActive = errors.New("trading pair not active")
)

// Key identifies a trading pair by its ordered (base, quote) tokens.
// (A,B) and (B,A) are distinct pairs with independent books; there is no
// cross-matching between the two directions.
type Key struct {
	Base  common.Address
	Quote common.Address
}

func (k Key) String() string {
	return k.Base.Hex() + "/" + k.Quote.Hex()
}

// Pair is the immutable configuration of one trading pair.
// PricePrecision is the fixed-point scale for price math: every
// amount-times-price product is divided by it.
type Pair struct {
	BaseToken      common.Address `json:"baseToken"`
	QuoteToken     common.Address `json:"quoteToken"`
	IsActive       bool           `json:"isActive"`
	MinOrderSize   *uint256.Int   `json:"minOrderSize"`
	PricePrecision *uint256.Int   `json:"pricePrecision"`
}

// Key returns the registry key for the pair.
func (p *Pair) Key() Key {
	return Key{Base: p.BaseToken, Quote: p.QuoteToken}
}

// Validate checks pair configuration sanity.
func (p *Pair) Validate() error {
	if p.BaseToken == (common.Address{}) || p.QuoteToken == (common.Address{}) {
		return ErrInvalidTokenAddress
	}
	if p.BaseToken == p.QuoteToken {
		return ErrIdenticalTokens
	}
	if p.PricePrecision == nil || p.PricePrecision.IsZero() {
		return ErrInvalidPrecision
	}
	return nil
}
