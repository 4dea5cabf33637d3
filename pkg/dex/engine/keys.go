package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so each record family supports a single
// range scan, with fixed-width numeric segments for lexicographic ordering.
const (
	prefixPair    = "pair:"  // trading pair definitions
	prefixOrder   = "ord:"   // full order history, active and inactive
	prefixBalance = "bal:"   // ledger balances
	prefixTrade   = "trade:" // trade history per pair
)

// pairKey formats "pair:{base}:{quote}". The ordered pair is the identity;
// the reverse direction is a different key.
func pairKey(base, quote common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixPair, base.Hex(), quote.Hex()))
}

// orderKey formats "ord:{id}" with the id zero-padded to 20 digits so a
// forward scan yields orders in creation order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// balanceKey formats "bal:{account}:{token}".
func balanceKey(account, token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, account.Hex(), token.Hex()))
}

// tradeKey formats "trade:{base}:{quote}:{timestamp}:{id}". The zero-padded
// millisecond timestamp keeps a pair's trades chronologically ordered, so the
// recent-trades query is one reverse scan.
func tradeKey(base, quote common.Address, timestamp int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d:%s", prefixTrade, base.Hex(), quote.Hex(), timestamp, id))
}

func tradePrefix(base, quote common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixTrade, base.Hex(), quote.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan by
// incrementing the prefix's last byte.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// balanceKeyParts recovers the account and token addresses from a balance
// key. Inverse of balanceKey, used when scanning all balances at startup.
func balanceKeyParts(key []byte) (account, token common.Address, err error) {
	body := string(key[len(prefixBalance):])
	if len(body) != 42+1+42 {
		return common.Address{}, common.Address{}, fmt.Errorf("malformed balance key %q", key)
	}
	accHex, tokHex := body[:42], body[43:]
	if !common.IsHexAddress(accHex) || !common.IsHexAddress(tokHex) {
		return common.Address{}, common.Address{}, fmt.Errorf("malformed balance key %q", key)
	}
	return common.HexToAddress(accHex), common.HexToAddress(tokHex), nil
}
