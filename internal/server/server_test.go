package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/sports-trader/internal/book"
	"github.com/rickgao/sports-trader/internal/bus"
	"github.com/rickgao/sports-trader/internal/config"
	"github.com/rickgao/sports-trader/internal/model"
)

type fakeExec struct {
	lastIntent   model.ClickIntent
	execRes      model.OrderResult
	execErr      error
	results      map[string]model.OrderResult
	reconcileRes model.OrderResult
	reconcileErr error
}

func (f *fakeExec) Execute(ctx context.Context, intent model.ClickIntent) (model.OrderResult, error) {
	f.lastIntent = intent
	return f.execRes, f.execErr
}

func (f *fakeExec) Result(token string) (model.OrderResult, bool) {
	res, ok := f.results[token]
	return res, ok
}

func (f *fakeExec) Reconcile(ctx context.Context, token string) (model.OrderResult, error) {
	return f.reconcileRes, f.reconcileErr
}

type fakeMarkets struct {
	markets []model.Market
}

func (f *fakeMarkets) ActiveMarkets() []model.Market { return f.markets }

func (f *fakeMarkets) GetMarket(id string) (model.Market, bool) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, true
		}
	}
	return model.Market{}, false
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return fmt.Errorf("connection refused") }

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

type testEnv struct {
	exec    *fakeExec
	markets *fakeMarkets
	store   *book.Store
	bus     *bus.Bus
	server  *Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T, db Pinger) *testEnv {
	t.Helper()

	store := book.NewStore(slog.Default())
	b := bus.New(store, store.Updates(), slog.Default())
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Stop(ctx)
	})

	env := testEnv{
		exec:    &fakeExec{results: make(map[string]model.OrderResult)},
		markets: &fakeMarkets{},
		store:   store,
		bus:     b,
	}
	env.server = New(config.ServerConfig{Port: 0}, env.exec, env.markets, store, b, db, slog.Default())
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return &env
}

func (e *testEnv) postJSON(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSubmitOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	env.exec.execRes = model.OrderResult{
		Token:      "tok-1",
		OrderID:    "ord-1",
		MarketID:   "mkt-1",
		Status:     model.OrderFilled,
		FilledSize: 10,
		FillPrice:  52000,
		TS:         time.Now(),
	}

	resp, body := env.postJSON(t, "/api/orders",
		`{"token":"tok-1","market_id":"mkt-1","side":"BUY","size":10,"limit_price":"0.53"}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "filled" {
		t.Errorf("status = %v, want filled", body["status"])
	}
	if body["fill_price"] != "0.52" {
		t.Errorf("fill_price = %v, want 0.52", body["fill_price"])
	}

	intent := env.exec.lastIntent
	if intent.Side != model.SideBuy {
		t.Errorf("side = %q, want buy (case folded)", intent.Side)
	}
	if intent.LimitPrice != 53000 {
		t.Errorf("limit = %d, want 53000", intent.LimitPrice)
	}
	if intent.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestSubmitOrder_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing token", `{"market_id":"m","side":"buy","size":1}`},
		{"missing market", `{"token":"t","side":"buy","size":1}`},
		{"bad side", `{"token":"t","market_id":"m","side":"hold","size":1}`},
		{"bad limit", `{"token":"t","market_id":"m","side":"buy","size":1,"limit_price":"1.50"}`},
		{"garbage limit", `{"token":"t","market_id":"m","side":"buy","size":1,"limit_price":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.postJSON(t, "/api/orders", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if _, ok := body["error"]; !ok {
				t.Error("expected error message")
			}
		})
	}
}

func TestOrderResult(t *testing.T) {
	env := newTestEnv(t, nil)
	env.exec.results["tok-1"] = model.OrderResult{
		Token:    "tok-1",
		MarketID: "mkt-1",
		Status:   model.OrderKilled,
		TS:       time.Now(),
	}

	resp, body := env.get(t, "/api/orders/tok-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "killed" {
		t.Errorf("status = %v, want killed", body["status"])
	}

	resp, _ = env.get(t, "/api/orders/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", resp.StatusCode)
	}
}

func TestReconcile(t *testing.T) {
	env := newTestEnv(t, nil)
	env.exec.reconcileRes = model.OrderResult{
		Token:  "tok-1",
		Status: model.OrderFilled,
		TS:     time.Now(),
	}

	resp, err := http.Post(env.http.URL+"/api/orders/tok-1/reconcile", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reconcile: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "filled" {
		t.Errorf("status = %v, want filled", body["status"])
	}

	env.exec.reconcileErr = fmt.Errorf("no pending order for token tok-2")
	resp, err = http.Post(env.http.URL+"/api/orders/tok-2/reconcile", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reconcile: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMarkets(t *testing.T) {
	env := newTestEnv(t, nil)
	env.markets.markets = []model.Market{
		{ID: "mkt-1", Title: "Lakers vs. Celtics", Outcome: "Lakers", Status: "active", Live: true},
		{ID: "mkt-2", Title: "Lakers vs. Celtics", Outcome: "Celtics", Status: "active", Live: true},
	}

	resp, body := env.get(t, "/api/markets")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestBook(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.ApplySnapshot(model.BookSnapshot{
		MarketID: "mkt-1",
		Seq:      7,
		Bids:     []model.PriceLevel{{Price: 51000, Size: 100}},
		Asks:     []model.PriceLevel{{Price: 53000, Size: 80}},
	})

	resp, body := env.get(t, "/api/books/mkt-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["MarketID"] != "mkt-1" {
		t.Errorf("MarketID = %v, want mkt-1", body["MarketID"])
	}

	resp, _ = env.get(t, "/api/books/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown market status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, okPinger{})

	resp, body := env.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// No active markets yet: degraded but serving.
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}

	env.markets.markets = []model.Market{{ID: "mkt-1", Status: "active"}}
	_, body = env.get(t, "/health")
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}

	env.store.ApplySnapshot(model.BookSnapshot{MarketID: "mkt-1", Seq: 1})
	env.store.MarkStale("mkt-1", "sequence gap")
	_, body = env.get(t, "/health")
	if body["status"] != "degraded" {
		t.Errorf("status with stale book = %v, want degraded", body["status"])
	}
}

func TestHealth_UnreachableAuditDB(t *testing.T) {
	env := newTestEnv(t, failingPinger{})
	env.markets.markets = []model.Market{{ID: "mkt-1", Status: "active"}}

	resp, body := env.get(t, "/health")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

func TestWebSocketStreamsBookEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.ApplySnapshot(model.BookSnapshot{
		MarketID: "mkt-1",
		Seq:      1,
		Bids:     []model.PriceLevel{{Price: 51000, Size: 100}},
	})

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Attach primes the session with current books, so the first batch
	// carries the snapshot without any further updates.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var events []bus.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != bus.EventBook {
		t.Errorf("event type = %q, want %q", events[0].Type, bus.EventBook)
	}
	if events[0].Book == nil || events[0].Book.MarketID != "mkt-1" {
		t.Errorf("book event missing market: %+v", events[0].Book)
	}

	// A later delta reaches the same session.
	if _, err := env.store.ApplyDelta(model.BookDelta{
		MarketID: "mkt-1",
		Seq:      2,
		Changes:  []model.LevelChange{{Side: model.BookBid, Price: 51000, NewSize: 150}},
	}); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read delta batch: %v", err)
	}
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 || events[0].Book == nil || events[0].Book.Seq != 2 {
		t.Fatalf("expected coalesced book at seq 2, got %+v", events)
	}
}
