package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/dexbot/godex/dex/types"
)

func bookRec(id string, price float64, createdAt time.Time) *OrderRecord {
	return &OrderRecord{ID: id, Price: price, Amount: 1, CreatedAt: createdAt, Status: types.OrderStatusPending}
}

func TestInsertKeepsPriceTimePriority(t *testing.T) {
	b := NewOrderBook("a-b")
	now := time.Now()

	b.InsertBuy(bookRec("b1", 100, now))
	b.InsertBuy(bookRec("b2", 102, now.Add(time.Second)))
	b.InsertBuy(bookRec("b3", 102, now)) // 同价，更早 → 排在 b2 前

	if b.Buy[0].ID != "b3" || b.Buy[1].ID != "b2" || b.Buy[2].ID != "b1" {
		t.Fatalf("buy order wrong: %s %s %s", b.Buy[0].ID, b.Buy[1].ID, b.Buy[2].ID)
	}

	b.InsertSell(bookRec("s1", 105, now))
	b.InsertSell(bookRec("s2", 103, now))
	if b.Sell[0].ID != "s2" {
		t.Fatalf("sell head should be lowest price, got %s", b.Sell[0].ID)
	}
}

func TestRemoveScansAllLists(t *testing.T) {
	b := NewOrderBook("a-b")
	rec := bookRec("x", 0, time.Now())
	b.MarketBuy = append(b.MarketBuy, rec)
	b.StopLoss = append(b.StopLoss, rec)

	b.Remove("x")
	if b.Contains("x") {
		t.Fatalf("record still present after Remove")
	}
}

func TestTradeHistoryFIFO(t *testing.T) {
	b := NewOrderBook("a-b")
	for i := 0; i < MaxTradeHistory+5; i++ {
		b.AppendTrade(&Trade{ID: fmt.Sprintf("t-%d", i)})
	}
	if len(b.Trades) != MaxTradeHistory {
		t.Fatalf("expected bounded history, got %d", len(b.Trades))
	}
	if b.Trades[0].ID != "t-5" {
		t.Fatalf("expected oldest evicted, head is %s", b.Trades[0].ID)
	}

	recent := b.RecentTrades(3)
	if len(recent) != 3 || recent[0].ID != fmt.Sprintf("t-%d", MaxTradeHistory+4) {
		t.Fatalf("recent trades wrong: %+v", recent[0])
	}
}

func TestSnapshotIsShallowCopy(t *testing.T) {
	b := NewOrderBook("a-b")
	b.InsertBuy(bookRec("b1", 100, time.Now()))
	snap := b.Snapshot()

	b.Remove("b1")
	if len(snap.Buy) != 1 {
		t.Fatalf("snapshot must not observe later mutation")
	}
}

func TestApplyFillStatusTransitions(t *testing.T) {
	rec := bookRec("f", 100, time.Now())
	rec.Amount = 4

	rec.ApplyFill(1, 100, "cp", "", time.Now())
	if rec.Status != types.OrderStatusPartial || rec.Remaining() != 3 {
		t.Fatalf("expected PARTIAL/3, got %s/%v", rec.Status, rec.Remaining())
	}

	rec.ApplyFill(3, 100, "cp", "", time.Now())
	if rec.Status != types.OrderStatusFilled || rec.Remaining() != 0 {
		t.Fatalf("expected FILLED/0, got %s/%v", rec.Status, rec.Remaining())
	}
	if len(rec.Executions) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(rec.Executions))
	}
}
