package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cadian99/termpool/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMemoryStore_PoolRoundTrip(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.GetPool(ctx, 100); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}

	p := &model.MaturityPool{
		Maturity: 100, Borrowed: d(500), Supplied: d(1000),
		EarningsUnassigned: d(25), LastAccrual: 50,
	}
	if err := ms.PutPool(ctx, p); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := ms.GetPool(ctx, 100)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Borrowed.Equal(d(500)) || !got.Supplied.Equal(d(1000)) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Returned record must be a copy, not a live reference.
	got.Supplied = d(9999)
	again, _ := ms.GetPool(ctx, 100)
	if !again.Supplied.Equal(d(1000)) {
		t.Error("GetPool leaked a mutable reference")
	}
}

func TestMemoryStore_ListPoolsSorted(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	for _, m := range []int64{300, 100, 200} {
		ms.PutPool(ctx, &model.MaturityPool{Maturity: m})
	}

	pools, err := ms.ListPools(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pools) != 3 {
		t.Fatalf("expected 3 pools, got %d", len(pools))
	}
	for i, want := range []int64{100, 200, 300} {
		if pools[i].Maturity != want {
			t.Errorf("pools[%d].Maturity = %d, want %d", i, pools[i].Maturity, want)
		}
	}
}

func TestMemoryStore_Positions(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.GetPosition(ctx, "alice", 100, model.SideDeposit); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}

	// Same account and maturity on both sides are distinct positions.
	ms.PutPosition(ctx, &model.FixedPosition{
		Account: "alice", Maturity: 100, Side: model.SideDeposit, Principal: d(1000),
	})
	ms.PutPosition(ctx, &model.FixedPosition{
		Account: "alice", Maturity: 100, Side: model.SideBorrow, Principal: d(400), Fee: d(20),
	})
	ms.PutPosition(ctx, &model.FixedPosition{
		Account: "bob", Maturity: 100, Side: model.SideDeposit, Principal: d(7),
	})

	positions, err := ms.ListAccountPositions(ctx, "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions for alice, got %d", len(positions))
	}

	if err := ms.DeletePosition(ctx, "alice", 100, model.SideBorrow); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := ms.GetPosition(ctx, "alice", 100, model.SideBorrow); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected position gone, got %v", err)
	}
	if _, err := ms.GetPosition(ctx, "alice", 100, model.SideDeposit); err != nil {
		t.Errorf("deposit side should survive: %v", err)
	}
}

func TestMemoryStore_Settlements(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	entries := []*model.SettlementEntry{
		{ID: "1", Op: model.OpDeposit, Account: "alice", Initiator: "alice", Maturity: 100, Timestamp: time.Now()},
		{ID: "2", Op: model.OpBorrow, Account: "bob", Initiator: "bob", Maturity: 100, Timestamp: time.Now()},
		{ID: "3", Op: model.OpRepay, Account: "bob", Initiator: "carol", Maturity: 200, Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := ms.InsertSettlement(ctx, e); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	byMaturity, _ := ms.SettlementsByMaturity(ctx, 100)
	if len(byMaturity) != 2 {
		t.Errorf("expected 2 entries at maturity 100, got %d", len(byMaturity))
	}

	// Account history includes entries the account initiated for others.
	byCarol, _ := ms.SettlementsByAccount(ctx, "carol")
	if len(byCarol) != 1 || byCarol[0].ID != "3" {
		t.Errorf("expected carol's initiated entry, got %+v", byCarol)
	}
	byBob, _ := ms.SettlementsByAccount(ctx, "bob")
	if len(byBob) != 2 {
		t.Errorf("expected 2 entries for bob, got %d", len(byBob))
	}
}
