package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/yjkwon/monadex/pkg/dex/ledger"
	"github.com/yjkwon/monadex/pkg/dex/order"
	"github.com/yjkwon/monadex/pkg/dex/pair"
	"github.com/yjkwon/monadex/pkg/dex/token"
	"github.com/yjkwon/monadex/pkg/util"
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

// Amounts are 18-decimal fixed point, so the 30 bps fee stays integral.
func e18(x uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(1e18))
}

func e15(x uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(1e15))
}

func precision() *uint256.Int { return uint256.NewInt(1e18) }

func newTestEngine(t *testing.T) (*Engine, *token.Vault) {
	t.Helper()

	vault := token.NewVault()
	eng, err := New(Config{
		Owner:        owner,
		FeeRecipient: feeRcpt,
		Vault:        vault,
		Clock:        util.FixedClock{T: time.UnixMilli(1_700_000_000_000)},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, vault
}

func addWethUsdc(t *testing.T, eng *Engine) {
	t.Helper()
	if err := eng.AddTradingPair(owner, weth, usdc, nil, precision()); err != nil {
		t.Fatalf("add pair: %v", err)
	}
}

func TestAddTradingPair(t *testing.T) {
	eng, _ := newTestEngine(t)

	if err := eng.AddTradingPair(alice, weth, usdc, nil, precision()); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner add: got %v, want ErrNotOwner", err)
	}
	if err := eng.AddTradingPair(owner, weth, weth, nil, precision()); !errors.Is(err, pair.ErrIdenticalTokens) {
		t.Fatalf("identical tokens: got %v, want ErrIdenticalTokens", err)
	}
	if err := eng.AddTradingPair(owner, common.Address{}, usdc, nil, precision()); !errors.Is(err, pair.ErrInvalidTokenAddress) {
		t.Fatalf("zero base: got %v, want ErrInvalidTokenAddress", err)
	}
	if err := eng.AddTradingPair(owner, weth, usdc, nil, nil); !errors.Is(err, pair.ErrInvalidPrecision) {
		t.Fatalf("nil precision: got %v, want ErrInvalidPrecision", err)
	}

	if err := eng.AddTradingPair(owner, weth, usdc, e18(1), precision()); err != nil {
		t.Fatalf("valid add: %v", err)
	}
	if len(eng.Pairs()) != 1 {
		t.Fatalf("pairs registered: got %d, want 1", len(eng.Pairs()))
	}
}

func TestPlaceLimitOrderValidation(t *testing.T) {
	eng, vault := newTestEngine(t)

	// Unknown pair rejected before anything else.
	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(1), e18(2), true); !errors.Is(err, pair.ErrPairNotActive) {
		t.Fatalf("unknown pair: got %v, want ErrPairNotActive", err)
	}

	if err := eng.AddTradingPair(owner, weth, usdc, e18(1), precision()); err != nil {
		t.Fatalf("add pair: %v", err)
	}
	vault.Mint(alice, usdc, e18(100))

	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, new(uint256.Int), e18(2), true); !errors.Is(err, ErrOrderTooSmall) {
		t.Fatalf("zero amount: got %v, want ErrOrderTooSmall", err)
	}
	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e15(500), e18(2), true); !errors.Is(err, ErrOrderTooSmall) {
		t.Fatalf("below min size: got %v, want ErrOrderTooSmall", err)
	}
	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(1), nil, true); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("nil price: got %v, want ErrInvalidPrice", err)
	}
	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(1), new(uint256.Int), true); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price: got %v, want ErrInvalidPrice", err)
	}

	// No order exists after any rejection.
	if _, err := eng.GetOrder(1); !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("rejections must not create orders: %v", err)
	}
}

func TestPlacementFailsWithoutWalletFunds(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(10)) // needs 20 to escrow the buy

	_, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true)
	if !errors.Is(err, token.ErrInsufficientFunds) {
		t.Fatalf("underfunded placement: got %v, want ErrInsufficientFunds", err)
	}

	// All-or-nothing: wallet untouched, no escrow, no order.
	if got := vault.WalletBalance(alice, usdc); !got.Eq(e18(10)) {
		t.Errorf("wallet after failed placement: got %s, want 10e18", got.Dec())
	}
	if got := eng.UserBalance(alice, usdc); !got.IsZero() {
		t.Errorf("escrow after failed placement: got %s, want 0", got.Dec())
	}
	if _, err := eng.GetOrder(1); !errors.Is(err, order.ErrOrderNotFound) {
		t.Errorf("order created by failed placement")
	}
}

func TestLimitOrderEscrow(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(50))
	vault.Mint(bob, weth, e18(10))

	// Buy escrows amount*price/precision of the quote token.
	id, trade, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if id != 1 || trade != nil {
		t.Fatalf("first placement: id %d trade %v", id, trade)
	}
	if got := eng.UserBalance(alice, usdc); !got.Eq(e18(20)) {
		t.Errorf("buy escrow: got %s, want 20e18", got.Dec())
	}
	if got := vault.WalletBalance(alice, usdc); !got.Eq(e18(30)) {
		t.Errorf("wallet after buy: got %s, want 30e18", got.Dec())
	}

	// Sell escrows the base amount itself. (Different price, so no cross.)
	if _, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(10), e18(5), false); err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if got := eng.UserBalance(bob, weth); !got.Eq(e18(10)) {
		t.Errorf("sell escrow: got %s, want 10e18", got.Dec())
	}
}

func TestFullMatchSettlement(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(20))
	vault.Mint(bob, weth, e18(10))

	buyID, trade, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if trade != nil {
		t.Fatal("buy against empty book should not trade")
	}

	sellID, trade, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(10), e18(2), false)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if trade == nil {
		t.Fatal("crossing sell must execute a trade")
	}

	if trade.Buyer != alice || trade.Seller != bob {
		t.Errorf("trade parties: buyer %s seller %s", trade.Buyer.Hex(), trade.Seller.Hex())
	}
	if trade.BuyOrderID != buyID || trade.SellOrderID != sellID {
		t.Errorf("trade order ids: buy %d sell %d", trade.BuyOrderID, trade.SellOrderID)
	}
	if !trade.Price.Eq(e18(2)) {
		t.Errorf("trade price: got %s, want 2e18", trade.Price.Dec())
	}
	if !trade.Amount.Eq(e18(10)) {
		t.Errorf("trade amount: got %s, want 10e18", trade.Amount.Dec())
	}
	// 30 bps of 10e18.
	if !trade.Fee.Eq(e15(30)) {
		t.Errorf("trade fee: got %s, want 0.03e18", trade.Fee.Dec())
	}

	// Buyer gets amount minus fee in base; pays the post-fee amount at the
	// match price, leaving quote change in their escrow balance.
	if got := eng.UserBalance(alice, weth); !got.Eq(e15(9970)) {
		t.Errorf("buyer base: got %s, want 9.97e18", got.Dec())
	}
	if got := eng.UserBalance(alice, usdc); !got.Eq(e15(60)) {
		t.Errorf("buyer quote change: got %s, want 0.06e18", got.Dec())
	}
	if got := eng.UserBalance(bob, weth); !got.IsZero() {
		t.Errorf("seller base: got %s, want 0", got.Dec())
	}
	if got := eng.UserBalance(bob, usdc); !got.Eq(e15(19940)) {
		t.Errorf("seller quote: got %s, want 19.94e18", got.Dec())
	}
	if got := eng.UserBalance(feeRcpt, weth); !got.Eq(e15(30)) {
		t.Errorf("fee recipient: got %s, want 0.03e18", got.Dec())
	}

	// Both orders filled and off the book.
	for _, id := range []uint64{buyID, sellID} {
		o, err := eng.GetOrder(id)
		if err != nil {
			t.Fatalf("get order %d: %v", id, err)
		}
		if o.IsActive || !o.Amount.IsZero() {
			t.Errorf("order %d: active=%v remaining=%s", id, o.IsActive, o.Amount.Dec())
		}
	}
	bids, asks, err := eng.BookLevels(weth, usdc)
	if err != nil {
		t.Fatalf("book levels: %v", err)
	}
	if len(bids) != 0 || len(asks) != 0 {
		t.Errorf("book not empty: %d bids %d asks", len(bids), len(asks))
	}
}

func TestMidpointExecutionPrice(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(6))
	vault.Mint(bob, weth, e18(2))

	if _, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(2), e18(2), false); err != nil {
		t.Fatalf("place sell: %v", err)
	}
	_, trade, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(2), e18(3), true)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a trade")
	}

	// Midpoint of 3e18 and 2e18.
	if !trade.Price.Eq(e15(2500)) {
		t.Fatalf("trade price: got %s, want 2.5e18", trade.Price.Dec())
	}

	// fee = 0.006e18; buyer pays (2 - 0.006) * 2.5 = 4.985e18 quote.
	if got := eng.UserBalance(alice, weth); !got.Eq(e15(1994)) {
		t.Errorf("buyer base: got %s, want 1.994e18", got.Dec())
	}
	if got := eng.UserBalance(alice, usdc); !got.Eq(e15(1015)) {
		t.Errorf("buyer quote change: got %s, want 1.015e18", got.Dec())
	}
	if got := eng.UserBalance(bob, usdc); !got.Eq(e15(4985)) {
		t.Errorf("seller quote: got %s, want 4.985e18", got.Dec())
	}
}

func TestPartialFill(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(bob, weth, e18(10))
	vault.Mint(alice, usdc, e18(8))

	sellID, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(10), e18(2), false)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	buyID, trade, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(4), e18(2), true)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if trade == nil || !trade.Amount.Eq(e18(4)) {
		t.Fatalf("trade amount: %v", trade)
	}

	sell, _ := eng.GetOrder(sellID)
	if !sell.IsActive || !sell.Amount.Eq(e18(6)) {
		t.Errorf("resting sell after partial fill: active=%v remaining=%s", sell.IsActive, sell.Amount.Dec())
	}
	buy, _ := eng.GetOrder(buyID)
	if buy.IsActive || !buy.Amount.IsZero() {
		t.Errorf("taker buy should be filled: active=%v remaining=%s", buy.IsActive, buy.Amount.Dec())
	}

	// The remainder still shows on the book.
	_, asks, err := eng.BookLevels(weth, usdc)
	if err != nil {
		t.Fatalf("book levels: %v", err)
	}
	if len(asks) != 1 || !asks[0].Amount.Eq(e18(6)) {
		t.Errorf("ask levels after partial fill: %v", asks)
	}
}

func TestSingleMatchPerPlacement(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(bob, weth, e18(5))
	vault.Mint(carol, weth, e18(5))
	vault.Mint(alice, usdc, e18(20))

	firstAsk, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(5), e18(2), false)
	if err != nil {
		t.Fatalf("bob sell: %v", err)
	}
	secondAsk, _, err := eng.PlaceLimitOrder(carol, weth, usdc, e18(5), e18(2), false)
	if err != nil {
		t.Fatalf("carol sell: %v", err)
	}

	// The bid crosses both asks but exactly one match runs per placement,
	// against the earlier ask (FIFO at equal price).
	bidID, trade, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true)
	if err != nil {
		t.Fatalf("alice buy: %v", err)
	}
	if trade == nil || trade.SellOrderID != firstAsk {
		t.Fatalf("expected match against order %d, got %+v", firstAsk, trade)
	}

	bid, _ := eng.GetOrder(bidID)
	if !bid.IsActive || !bid.Amount.Eq(e18(5)) {
		t.Errorf("bid after single match: active=%v remaining=%s", bid.IsActive, bid.Amount.Dec())
	}
	second, _ := eng.GetOrder(secondAsk)
	if !second.IsActive || !second.Amount.Eq(e18(5)) {
		t.Errorf("second ask must be untouched: active=%v remaining=%s", second.IsActive, second.Amount.Dec())
	}
}

func TestCancelOrder(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(20))

	id, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}

	if err := eng.CancelOrder(bob, id); !errors.Is(err, ErrNotOrderOwner) {
		t.Fatalf("cancel by non-owner: got %v, want ErrNotOrderOwner", err)
	}
	if err := eng.CancelOrder(alice, 99); !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("cancel unknown id: got %v, want ErrOrderNotFound", err)
	}

	if err := eng.CancelOrder(alice, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Full escrow flows back to the wallet.
	if got := vault.WalletBalance(alice, usdc); !got.Eq(e18(20)) {
		t.Errorf("wallet after cancel: got %s, want 20e18", got.Dec())
	}
	if got := eng.UserBalance(alice, usdc); !got.IsZero() {
		t.Errorf("escrow after cancel: got %s, want 0", got.Dec())
	}

	if err := eng.CancelOrder(alice, id); !errors.Is(err, ErrOrderAlreadyInactive) {
		t.Fatalf("double cancel: got %v, want ErrOrderAlreadyInactive", err)
	}
}

func TestCancelPartiallyFilledRefundsRemainder(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(bob, weth, e18(10))
	vault.Mint(alice, usdc, e18(8))

	sellID, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(10), e18(2), false)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(4), e18(2), true); err != nil {
		t.Fatalf("place buy: %v", err)
	}

	// 6e18 base remains escrowed under the sell; cancel refunds exactly that.
	if err := eng.CancelOrder(bob, sellID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := vault.WalletBalance(bob, weth); !got.Eq(e18(6)) {
		t.Errorf("wallet refund: got %s, want 6e18", got.Dec())
	}
	if got := eng.UserBalance(bob, weth); !got.IsZero() {
		t.Errorf("escrow after cancel: got %s, want 0", got.Dec())
	}
}

func TestWithdrawUnderRestingOrderExpiresIt(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(20))
	vault.Mint(bob, weth, e18(10))

	bidID, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true)
	if err != nil {
		t.Fatalf("place buy: %v", err)
	}

	// Balances carry no lock: the escrow under the resting bid is
	// withdrawable.
	if err := eng.Withdraw(alice, usdc, e18(20)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// A crossing sell finds the bid underfunded, deactivates it, and rests.
	sellID, trade, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(10), e18(2), false)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if trade != nil {
		t.Fatal("underfunded bid must not trade")
	}

	bid, _ := eng.GetOrder(bidID)
	if bid.IsActive {
		t.Error("underfunded bid should be deactivated")
	}
	sell, _ := eng.GetOrder(sellID)
	if !sell.IsActive {
		t.Error("incoming sell should rest on the book")
	}

	// Cancelling the dead bid now fails: there is nothing to refund.
	if err := eng.CancelOrder(alice, bidID); !errors.Is(err, ErrOrderAlreadyInactive) {
		t.Fatalf("cancel expired bid: got %v, want ErrOrderAlreadyInactive", err)
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(5))

	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(1), e18(2), true); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := eng.Withdraw(alice, usdc, e18(3)); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("over-withdrawal: got %v, want ErrInsufficientBalance", err)
	}
	// Balance untouched on failure.
	if got := eng.UserBalance(alice, usdc); !got.Eq(e18(2)) {
		t.Errorf("escrow after failed withdrawal: got %s, want 2e18", got.Dec())
	}
}

func TestPairDirectionIsolation(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, weth, e18(10))

	// Only (weth, usdc) is registered; the reverse direction is a separate
	// pair and rejects orders.
	_, _, err := eng.PlaceLimitOrder(alice, usdc, weth, e18(1), e18(1), true)
	if !errors.Is(err, pair.ErrPairNotActive) {
		t.Fatalf("reversed pair: got %v, want ErrPairNotActive", err)
	}
}

func TestOrderBookSnapshot(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(50))
	vault.Mint(bob, weth, e18(10))

	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(3), e18(2), true); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(4), e18(5), false); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	snap, err := eng.OrderBook(weth, usdc)
	if err != nil {
		t.Fatalf("order book: %v", err)
	}
	if len(snap.BuyPrices) != 1 || !snap.BuyPrices[0].Eq(e18(2)) || !snap.BuyAmounts[0].Eq(e18(3)) {
		t.Errorf("buy side: prices %v amounts %v", snap.BuyPrices, snap.BuyAmounts)
	}
	if len(snap.SellPrices) != 1 || !snap.SellPrices[0].Eq(e18(5)) {
		t.Errorf("sell side: prices %v", snap.SellPrices)
	}

	if _, err := eng.OrderBook(usdc, weth); !errors.Is(err, pair.ErrPairNotActive) {
		t.Fatalf("snapshot of unconfigured pair: got %v, want ErrPairNotActive", err)
	}
}

func TestRecentTrades(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(100))
	vault.Mint(bob, weth, e18(10))

	for i := 0; i < 3; i++ {
		if _, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(1), e18(2), false); err != nil {
			t.Fatalf("sell %d: %v", i, err)
		}
		if _, trade, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(1), e18(2), true); err != nil || trade == nil {
			t.Fatalf("buy %d: trade=%v err=%v", i, trade, err)
		}
	}

	trades, err := eng.RecentTrades(weth, usdc, 2)
	if err != nil {
		t.Fatalf("recent trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trade count: got %d, want 2", len(trades))
	}
}

// Total recorded balances must always equal tokens physically in custody.
func TestTokenConservation(t *testing.T) {
	eng, vault := newTestEngine(t)
	addWethUsdc(t, eng)
	vault.Mint(alice, usdc, e18(100))
	vault.Mint(bob, weth, e18(50))
	vault.Mint(carol, weth, e18(50))

	if _, _, err := eng.PlaceLimitOrder(alice, weth, usdc, e18(10), e18(2), true); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, _, err := eng.PlaceLimitOrder(bob, weth, usdc, e18(4), e18(2), false); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if id, _, err := eng.PlaceLimitOrder(carol, weth, usdc, e18(20), e18(3), false); err != nil {
		t.Fatalf("carol sell: %v", err)
	} else if err := eng.CancelOrder(carol, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := eng.Withdraw(bob, usdc, e18(1)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

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
}
