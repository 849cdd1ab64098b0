package resync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/sports-trader/internal/api"
	"github.com/rickgao/sports-trader/internal/model"
)

type sinkRecorder struct {
	mu    sync.Mutex
	snaps []model.BookSnapshot
}

func (r *sinkRecorder) ApplySnapshot(snap model.BookSnapshot) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return uint64(len(r.snaps))
}

func (r *sinkRecorder) applied() []model.BookSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.BookSnapshot(nil), r.snaps...)
}

type anchorRecorder struct {
	mu      sync.Mutex
	anchors map[string]int64
}

func (a *anchorRecorder) SetBaseline(marketID string, seq int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.anchors == nil {
		a.anchors = make(map[string]int64)
	}
	a.anchors[marketID] = seq
}

type staleList struct {
	mu  sync.Mutex
	ids []string
}

func (s *staleList) StaleMarkets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func bookServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(api.BookResponse{
			AssetID:   r.URL.Query().Get("token_id"),
			Seq:       42,
			Timestamp: time.Now().UnixMilli(),
			Bids:      []api.APILevel{{Price: "0.50", Size: "10"}},
		})
	}))
}

func startFetcher(t *testing.T, cfg Config, client *api.Client, sink *sinkRecorder, stale StaleSource, anchor SeqAnchor) *Fetcher {
	t.Helper()
	f := New(cfg, client, sink, stale, anchor, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.Stop(ctx)
	})
	return f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFetcher_RequestAppliesSnapshot(t *testing.T) {
	var calls atomic.Int32
	srv := bookServer(t, &calls)
	defer srv.Close()

	sink := &sinkRecorder{}
	anchor := &anchorRecorder{}
	f := startFetcher(t, DefaultConfig(), api.NewClient(srv.URL, nil), sink, nil, anchor)

	f.Request("m1")

	waitFor(t, func() bool { return len(sink.applied()) == 1 }, "snapshot not applied")

	snap := sink.applied()[0]
	if snap.MarketID != "m1" || snap.Seq != 42 || snap.Source != "rest" {
		t.Errorf("snapshot = %+v", snap)
	}

	anchor.mu.Lock()
	defer anchor.mu.Unlock()
	if anchor.anchors["m1"] != 42 {
		t.Errorf("baseline anchor = %d, want 42", anchor.anchors["m1"])
	}
}

func TestFetcher_DuplicateRequestsAbsorbed(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		json.NewEncoder(w).Encode(api.BookResponse{AssetID: "m1", Seq: 1})
	}))
	defer srv.Close()

	sink := &sinkRecorder{}
	f := startFetcher(t, DefaultConfig(), api.NewClient(srv.URL, nil), sink, nil, nil)

	for i := 0; i < 10; i++ {
		f.Request("m1")
	}

	waitFor(t, func() bool { return calls.Load() >= 1 }, "fetch never started")
	close(release)
	waitFor(t, func() bool { return len(sink.applied()) >= 1 }, "snapshot not applied")

	if calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1 for 10 requests", calls.Load())
	}
}

func TestFetcher_SweepRetriesStaleMarkets(t *testing.T) {
	var calls atomic.Int32
	srv := bookServer(t, &calls)
	defer srv.Close()

	sink := &sinkRecorder{}
	stale := &staleList{ids: []string{"m1", "m2"}}

	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	startFetcher(t, cfg, api.NewClient(srv.URL, nil), sink, stale, nil)

	// No explicit Request: the sweep alone must repair both markets.
	waitFor(t, func() bool { return len(sink.applied()) >= 2 }, "sweep did not fetch stale markets")
}

func TestFetcher_FailedFetchDoesNotApply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := &sinkRecorder{}
	f := startFetcher(t, DefaultConfig(), api.NewClient(srv.URL, nil), sink, nil, nil)

	f.Request("m1")
	time.Sleep(50 * time.Millisecond)

	if len(sink.applied()) != 0 {
		t.Errorf("applied = %d snapshots from failed fetch", len(sink.applied()))
	}

	// The market can be requested again after the failure.
	f.mu.Lock()
	_, pending := f.pending["m1"]
	f.mu.Unlock()
	if pending {
		t.Error("failed fetch left the market pending")
	}
}
