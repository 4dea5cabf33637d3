package order

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	weth  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc  = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	s := NewStore()

	o1 := s.Create(alice, weth, usdc, uint256.NewInt(10), uint256.NewInt(2), true, 1000)
	o2 := s.Create(bob, weth, usdc, uint256.NewInt(5), uint256.NewInt(3), false, 1001)

	// Id 0 is reserved as the "no order" sentinel.
	if o1.ID != 1 {
		t.Errorf("first order id: got %d, want 1", o1.ID)
	}
	if o2.ID != 2 {
		t.Errorf("second order id: got %d, want 2", o2.ID)
	}
	if !o1.IsActive || !o2.IsActive {
		t.Error("new orders must be active")
	}
}

func TestCreateClonesAmounts(t *testing.T) {
	s := NewStore()
	amount := uint256.NewInt(10)

	o := s.Create(alice, weth, usdc, amount, uint256.NewInt(2), true, 1000)
	amount.SetUint64(999)

	if !o.Amount.Eq(uint256.NewInt(10)) {
		t.Fatalf("order amount aliased caller value: got %s", o.Amount.Dec())
	}
}

func TestGetUnknown(t *testing.T) {
	s := NewStore()
	if _, err := s.Get(7); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestActiveForPairDirectional(t *testing.T) {
	s := NewStore()
	s.Create(alice, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), true, 0)
	s.Create(bob, usdc, weth, uint256.NewInt(1), uint256.NewInt(2), true, 0)
	inactive := s.Create(alice, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), false, 0)
	inactive.IsActive = false

	got := s.ActiveForPair(weth, usdc)
	if len(got) != 1 {
		t.Fatalf("active orders on weth/usdc: got %d, want 1", len(got))
	}
	if got[0].ID != 1 {
		t.Errorf("wrong order returned: id %d", got[0].ID)
	}

	// The reversed pair is its own book.
	if got := s.ActiveForPair(usdc, weth); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("active orders on usdc/weth: got %v", got)
	}
}

func TestActiveIDsForTrader(t *testing.T) {
	s := NewStore()
	o1 := s.Create(alice, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), true, 0)
	s.Create(bob, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), true, 0)
	o3 := s.Create(alice, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), false, 0)

	o1.IsActive = false

	ids := s.ActiveIDsForTrader(alice)
	if len(ids) != 1 || ids[0] != o3.ID {
		t.Fatalf("active ids for alice: got %v, want [%d]", ids, o3.ID)
	}
}

func TestRestoreResumesSequence(t *testing.T) {
	s := NewStore()
	s.Create(alice, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), true, 0)
	s.Create(bob, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), false, 0)

	restored := NewStore()
	restored.Restore(s.All())

	if restored.Count() != 2 {
		t.Fatalf("restored count: got %d, want 2", restored.Count())
	}

	// New ids must continue past the highest persisted id.
	o := restored.Create(alice, weth, usdc, uint256.NewInt(1), uint256.NewInt(2), true, 0)
	if o.ID != 3 {
		t.Fatalf("id after restore: got %d, want 3", o.ID)
	}
}
