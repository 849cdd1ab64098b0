package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/sports-trader/internal/api"
)

// fakeCatalog returns a scripted market list per call.
type fakeCatalog struct {
	mu      sync.Mutex
	markets []api.APIMarket
	err     error
}

func (f *fakeCatalog) GetAllMarkets(context.Context, api.GetMarketsOptions) ([]api.APIMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]api.APIMarket(nil), f.markets...), nil
}

func (f *fakeCatalog) set(markets []api.APIMarket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = markets
}

func liveMarket(id, sport string, liquidity float64) api.APIMarket {
	return api.APIMarket{
		TokenID:   id,
		EventID:   "ev-" + id,
		Title:     "game " + id,
		Sport:     sport,
		Status:    "active",
		Live:      true,
		Liquidity: liquidity,
	}
}

func testRegistry(t *testing.T, cfg Config, catalog Catalog) *registryImpl {
	t.Helper()
	reg := NewRegistry(cfg, catalog, nil).(*registryImpl)
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		reg.Stop(ctx)
	})
	return reg
}

func collectChanges(reg Registry, n int, timeout time.Duration) []Change {
	var out []Change
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ch := <-reg.Changes():
			out = append(out, ch)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestRegistry_InitialSyncDiscovers(t *testing.T) {
	catalog := &fakeCatalog{markets: []api.APIMarket{
		liveMarket("t1", "nba", 100),
		liveMarket("t2", "nfl", 200),
	}}

	cfg := DefaultConfig()
	cfg.SyncInterval = time.Hour // only the initial sync
	reg := testRegistry(t, cfg, catalog)

	if got := len(reg.ActiveMarkets()); got != 2 {
		t.Fatalf("ActiveMarkets() = %d, want 2", got)
	}
	if _, ok := reg.GetMarket("t1"); !ok {
		t.Error("GetMarket(t1) not found")
	}

	changes := collectChanges(reg, 2, time.Second)
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	for _, ch := range changes {
		if ch.Type != ChangeDiscovered || ch.Market == nil {
			t.Errorf("change = %+v", ch)
		}
	}
}

func TestRegistry_ExcludesEsports(t *testing.T) {
	catalog := &fakeCatalog{markets: []api.APIMarket{
		liveMarket("t1", "nba", 100),
		liveMarket("t2", "esports", 500),
		liveMarket("t3", "CS2", 400),
		liveMarket("t4", "League Esports", 300),
	}}

	cfg := DefaultConfig()
	cfg.SyncInterval = time.Hour
	reg := testRegistry(t, cfg, catalog)

	markets := reg.ActiveMarkets()
	if len(markets) != 1 || markets[0].ID != "t1" {
		t.Errorf("ActiveMarkets() = %+v, want only t1", markets)
	}
}

func TestRegistry_SkipsNonLiveAndInactive(t *testing.T) {
	notLive := liveMarket("t2", "nba", 100)
	notLive.Live = false
	closed := liveMarket("t3", "nba", 100)
	closed.Status = "closed"

	catalog := &fakeCatalog{markets: []api.APIMarket{
		liveMarket("t1", "nba", 100),
		notLive,
		closed,
	}}

	cfg := DefaultConfig()
	cfg.SyncInterval = time.Hour
	reg := testRegistry(t, cfg, catalog)

	markets := reg.ActiveMarkets()
	if len(markets) != 1 || markets[0].ID != "t1" {
		t.Errorf("ActiveMarkets() = %+v, want only t1", markets)
	}
}

func TestRegistry_CapsByRanking(t *testing.T) {
	catalog := &fakeCatalog{markets: []api.APIMarket{
		liveMarket("low", "nba", 10),
		liveMarket("high", "nba", 1000),
		liveMarket("mid", "nba", 100),
	}}

	cfg := DefaultConfig()
	cfg.SyncInterval = time.Hour
	cfg.MaxMarkets = 2
	reg := testRegistry(t, cfg, catalog)

	markets := reg.ActiveMarkets()
	if len(markets) != 2 {
		t.Fatalf("ActiveMarkets() = %d, want 2", len(markets))
	}
	ids := map[string]bool{}
	for _, m := range markets {
		ids[m.ID] = true
	}
	if !ids["high"] || !ids["mid"] {
		t.Errorf("selection = %v, want the two highest ranked", ids)
	}
}

func TestRegistry_DelistsRemovedMarkets(t *testing.T) {
	catalog := &fakeCatalog{markets: []api.APIMarket{
		liveMarket("t1", "nba", 100),
		liveMarket("t2", "nba", 100),
	}}

	cfg := DefaultConfig()
	cfg.SyncInterval = 10 * time.Millisecond
	reg := testRegistry(t, cfg, catalog)
	collectChanges(reg, 2, time.Second) // drain discoveries

	// t2's game ends and it drops out of the catalog.
	catalog.set([]api.APIMarket{liveMarket("t1", "nba", 100)})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ch := <-reg.Changes():
			if ch.Type == ChangeDelisted && ch.MarketID == "t2" {
				if _, ok := reg.GetMarket("t2"); ok {
					t.Error("delisted market still in registry")
				}
				return
			}
		case <-deadline:
			t.Fatal("delist change never emitted")
		}
	}
}

func TestRegistry_EmitsUpdatedOnStatusChange(t *testing.T) {
	catalog := &fakeCatalog{markets: []api.APIMarket{liveMarket("t1", "nba", 100)}}

	cfg := DefaultConfig()
	cfg.SyncInterval = 10 * time.Millisecond
	cfg.LiveOnly = false
	reg := testRegistry(t, cfg, catalog)
	collectChanges(reg, 1, time.Second)

	m := liveMarket("t1", "nba", 100)
	m.Live = false
	catalog.set([]api.APIMarket{m})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ch := <-reg.Changes():
			if ch.Type == ChangeUpdated && ch.MarketID == "t1" {
				if ch.Market.Live {
					t.Error("updated change carries stale market data")
				}
				return
			}
		case <-deadline:
			t.Fatal("update change never emitted")
		}
	}
}

func TestIsEsports(t *testing.T) {
	tests := []struct {
		sport string
		want  bool
	}{
		{"nba", false},
		{"esports", true},
		{"Esports", true},
		{"CS2", true},
		{"valorant", true},
		{"lol", true},
		{"soccer", false},
		{"Rocket League Esports", true},
	}
	for _, tt := range tests {
		if got := isEsports(tt.sport); got != tt.want {
			t.Errorf("isEsports(%q) = %v, want %v", tt.sport, got, tt.want)
		}
	}
}
