package book

import (
	"testing"
	"time"

	"github.com/rickgao/sports-trader/internal/model"
)

func testSnapshot(market string, seq int64) model.BookSnapshot {
	return model.BookSnapshot{
		MarketID: market,
		Seq:      seq,
		Source:   "ws",
		Bids: []model.PriceLevel{
			{Price: 51000, Size: 120},
			{Price: 50000, Size: 300},
		},
		Asks: []model.PriceLevel{
			{Price: 53000, Size: 80},
			{Price: 54000, Size: 150},
		},
		ReceivedAt: time.Now(),
	}
}

func TestStore_ApplySnapshot(t *testing.T) {
	s := NewStore(nil)

	v1 := s.ApplySnapshot(testSnapshot("m1", 10))
	if v1 != 1 {
		t.Errorf("version = %d, want 1", v1)
	}

	view, ok := s.Snapshot("m1")
	if !ok {
		t.Fatal("Snapshot() ok = false")
	}
	if view.Seq != 10 || view.Stale {
		t.Errorf("view = seq %d stale %v", view.Seq, view.Stale)
	}
	if best, ok := view.BestBid(); !ok || best.Price != 51000 {
		t.Errorf("BestBid() = %+v, %v", best, ok)
	}
	if best, ok := view.BestAsk(); !ok || best.Price != 53000 {
		t.Errorf("BestAsk() = %+v, %v", best, ok)
	}

	// Replacement snapshot discards old levels entirely.
	v2 := s.ApplySnapshot(model.BookSnapshot{
		MarketID: "m1",
		Seq:      20,
		Bids:     []model.PriceLevel{{Price: 48000, Size: 10}},
	})
	if v2 <= v1 {
		t.Errorf("version not monotonic: %d then %d", v1, v2)
	}
	view, _ = s.Snapshot("m1")
	if len(view.Bids) != 1 || len(view.Asks) != 0 {
		t.Errorf("old levels survived replacement: %+v", view)
	}
}

func TestStore_ApplyDelta(t *testing.T) {
	s := NewStore(nil)
	s.ApplySnapshot(testSnapshot("m1", 10))

	// New bid level, update an ask, remove an ask.
	_, err := s.ApplyDelta(model.BookDelta{
		MarketID: "m1",
		Seq:      11,
		Changes: []model.LevelChange{
			{Side: model.BookBid, Price: 52000, NewSize: 40},
			{Side: model.BookAsk, Price: 54000, NewSize: 75},
			{Side: model.BookAsk, Price: 53000, NewSize: 0},
		},
	})
	if err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	view, _ := s.Snapshot("m1")
	if best, _ := view.BestBid(); best.Price != 52000 || best.Size != 40 {
		t.Errorf("BestBid() = %+v", best)
	}
	if best, _ := view.BestAsk(); best.Price != 54000 || best.Size != 75 {
		t.Errorf("BestAsk() after removal = %+v", best)
	}
	if view.Seq != 11 {
		t.Errorf("Seq = %d, want 11", view.Seq)
	}
}

func TestStore_RemoveLastLevelEmptiesSide(t *testing.T) {
	s := NewStore(nil)
	s.ApplySnapshot(model.BookSnapshot{
		MarketID: "m1",
		Seq:      1,
		Asks:     []model.PriceLevel{{Price: 42000, Size: 50}},
	})

	s.ApplyDelta(model.BookDelta{
		MarketID: "m1",
		Seq:      2,
		Changes:  []model.LevelChange{{Side: model.BookAsk, Price: 42000, NewSize: 0}},
	})

	view, _ := s.Snapshot("m1")
	if len(view.Asks) != 0 {
		t.Errorf("Asks = %+v, want empty side", view.Asks)
	}
	if _, _, ok := s.BestPrice("m1", model.BookAsk); ok {
		t.Error("BestPrice() ok = true for empty side")
	}
}

func TestStore_DeltaForUnknownMarket(t *testing.T) {
	s := NewStore(nil)

	_, err := s.ApplyDelta(model.BookDelta{MarketID: "nope", Seq: 1})
	if err == nil {
		t.Fatal("expected error for unknown market")
	}
}

func TestStore_MarkStale(t *testing.T) {
	s := NewStore(nil)
	s.ApplySnapshot(testSnapshot("m1", 10))

	s.MarkStale("m1", "sequence gap")

	view, _ := s.Snapshot("m1")
	if !view.Stale || view.StaleReason != "sequence gap" {
		t.Errorf("view = stale %v reason %q", view.Stale, view.StaleReason)
	}

	// Execution reads refuse stale books.
	if _, _, ok := s.BestPrice("m1", model.BookBid); ok {
		t.Error("BestPrice() ok = true on stale book")
	}

	got := s.StaleMarkets()
	if len(got) != 1 || got[0] != "m1" {
		t.Errorf("StaleMarkets() = %v", got)
	}

	// Fresh snapshot clears the flag.
	s.ApplySnapshot(testSnapshot("m1", 30))
	view, _ = s.Snapshot("m1")
	if view.Stale {
		t.Error("stale flag survived fresh snapshot")
	}
	if _, _, ok := s.BestPrice("m1", model.BookBid); !ok {
		t.Error("BestPrice() ok = false after resync")
	}
}

func TestStore_BestPrice(t *testing.T) {
	s := NewStore(nil)
	s.ApplySnapshot(testSnapshot("m1", 10))

	price, size, ok := s.BestPrice("m1", model.BookBid)
	if !ok || price != 51000 || size != 120 {
		t.Errorf("BestPrice(bid) = %d/%d/%v", price, size, ok)
	}
	price, size, ok = s.BestPrice("m1", model.BookAsk)
	if !ok || price != 53000 || size != 80 {
		t.Errorf("BestPrice(ask) = %d/%d/%v", price, size, ok)
	}
	if _, _, ok := s.BestPrice("unknown", model.BookBid); ok {
		t.Error("BestPrice() ok = true for unknown market")
	}
}

func TestStore_Remove(t *testing.T) {
	s := NewStore(nil)
	s.ApplySnapshot(testSnapshot("m1", 10))

	s.Remove("m1")

	if _, ok := s.Snapshot("m1"); ok {
		t.Error("Snapshot() ok = true after Remove")
	}
	if len(s.Markets()) != 0 {
		t.Errorf("Markets() = %v, want empty", s.Markets())
	}

	// The snapshot notified version 1; the removal notifies version 2.
	var versions []uint64
	for i := 0; i < 2; i++ {
		select {
		case u := <-s.Updates():
			versions = append(versions, u.Version)
		case <-time.After(time.Second):
			t.Fatal("missing update notification")
		}
	}
	if versions[1] != versions[0]+1 {
		t.Errorf("removal version = %d, want %d", versions[1], versions[0]+1)
	}
}

func TestStore_UpdatesNotification(t *testing.T) {
	s := NewStore(nil)

	s.ApplySnapshot(testSnapshot("m1", 10))
	s.ApplyDelta(model.BookDelta{
		MarketID: "m1",
		Seq:      11,
		Changes:  []model.LevelChange{{Side: model.BookBid, Price: 49000, NewSize: 5}},
	})

	var versions []uint64
	for i := 0; i < 2; i++ {
		select {
		case u := <-s.Updates():
			if u.MarketID != "m1" {
				t.Errorf("update market = %q", u.MarketID)
			}
			versions = append(versions, u.Version)
		case <-time.After(time.Second):
			t.Fatal("missing update notification")
		}
	}
	if versions[0] >= versions[1] {
		t.Errorf("versions not increasing: %v", versions)
	}
}

// Snapshot taken immediately after an applied delta must already contain
// the delta's effect.
func TestStore_ReadAfterWrite(t *testing.T) {
	s := NewStore(nil)
	s.ApplySnapshot(testSnapshot("m1", 10))

	version, err := s.ApplyDelta(model.BookDelta{
		MarketID: "m1",
		Seq:      11,
		Changes:  []model.LevelChange{{Side: model.BookBid, Price: 60000, NewSize: 7}},
	})
	if err != nil {
		t.Fatal(err)
	}

	view, _ := s.Snapshot("m1")
	if view.Version < version {
		t.Errorf("view version %d behind applied version %d", view.Version, version)
	}
	if best, _ := view.BestBid(); best.Price != 60000 {
		t.Errorf("BestBid() = %+v, delta not visible", best)
	}
}
