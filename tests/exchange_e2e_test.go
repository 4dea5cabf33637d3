package tests

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yjkwon/monadex/pkg/dex/engine"
	"github.com/yjkwon/monadex/pkg/dex/token"
)

var (
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	feeRcpt = common.HexToAddress("0x0000000000000000000000000000000000000002")
	alice   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob     = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol   = common.HexToAddress("0xCC00000000000000000000000000000000000000")
	weth    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc    = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func e18(x uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(1e18))
}

func e15(x uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(1e15))
}

func newExchange(t *testing.T, dbPath string, vault *token.Vault) *engine.Engine {
	t.Helper()

	eng, err := engine.New(engine.Config{
		Owner:        owner,
		FeeRecipient: feeRcpt,
		Vault:        vault,
		DBPath:       dbPath,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

// TestExchangeLifecycle drives a full trading session end to end: pair
// registration, deposits via escrow, limit matching, a market sweep,
// cancellation, withdrawal, and a restart with state intact.
func TestExchangeLifecycle(t *testing.T) {
	dbPath := t.TempDir()
	vault := token.NewVault()
	vault.Mint(alice, usdc, e18(100))
	vault.Mint(bob, weth, e18(50))
	vault.Mint(carol, weth, e18(50))

	eng := newExchange(t, dbPath, vault)

	if err := eng.AddTradingPair(owner, weth, usdc, e18(1), uint256.NewInt(1e18)); err != nil {
		t.Fatalf("add pair: %v", err)
	}

	// Limit match: alice lifts bob's ask at the same price.
	if _, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(10), e18(2), false); err != nil {
		t.Fatalf("bob ask: %v", err)
	}
	_, trade, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true)
	if err != nil {
		t.Fatalf("alice bid: %v", err)
	}
	if trade == nil || !trade.Fee.Eq(e15(30)) {
		t.Fatalf("limit match: %+v", trade)
	}

	// Market sweep: carol posts two price levels, alice takes both.
	if _, _, err := eng.PlaceLimitOrder(carol, weth, usdc, e18(5), e18(2), false); err != nil {
		t.Fatalf("carol ask 1: %v", err)
	}
	if _, _, err := eng.PlaceLimitOrder(carol, weth, usdc, e18(5), e18(3), false); err != nil {
		t.Fatalf("carol ask 2: %v", err)
	}
	fills, err := eng.PlaceMarketOrder(alice, weth, usdc, e18(7), true)
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("market fills: got %d, want 2", len(fills))
	}

	// Carol cancels the remainder of her second ask and exits to wallet.
	remID := fills[1].SellOrderID
	if err := eng.CancelOrder(carol, remID); err != nil {
		t.Fatalf("cancel remainder: %v", err)
	}
	if err := eng.Withdraw(carol, usdc, eng.UserBalance(carol, usdc)); err != nil {
		t.Fatalf("carol withdraw: %v", err)
	}

	// Custody invariant holds across the whole session.
	accounts := []common.Address{owner, feeRcpt, alice, bob, carol}
	for _, tok := range []common.Address{weth, usdc} {
		total := new(uint256.Int)
		for _, acct := range accounts {
			total.Add(total, eng.UserBalance(acct, tok))
		}
		if held := vault.Held(tok); !total.Eq(held) {
			t.Errorf("token %s: ledger total %s != custody %s", tok.Hex(), total.Dec(), held.Dec())
		}
	}

	// Restart: balances, orders, and history come back.
	aliceBase := eng.UserBalance(alice, weth)
	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := newExchange(t, dbPath, vault)

	if got := reopened.UserBalance(alice, weth); !got.Eq(aliceBase) {
		t.Errorf("alice base after restart: got %s, want %s", got.Dec(), aliceBase.Dec())
	}
	trades, err := reopened.RecentTrades(weth, usdc, 10)
	if err != nil {
		t.Fatalf("recent trades: %v", err)
	}
	if len(trades) != 3 {
		t.Errorf("trade history after restart: got %d, want 3", len(trades))
	}
	cancelled, err := reopened.GetOrder(remID)
	if err != nil {
		t.Fatalf("get cancelled order: %v", err)
	}
	if cancelled.IsActive {
		t.Error("cancelled order active after restart")
	}
}
