// Package resync repairs gapped order books by fetching fresh REST
// snapshots. Requests are demand-driven: the normalize pipeline asks for
// a market after a sequence gap, and a periodic sweep retries any book
// still flagged stale.
package resync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/sports-trader/internal/api"
	"github.com/rickgao/sports-trader/internal/metrics"
	"github.com/rickgao/sports-trader/internal/model"
)

// BookSink receives fetched snapshots.
type BookSink interface {
	ApplySnapshot(snap model.BookSnapshot) uint64
}

// StaleSource lists markets still needing a snapshot.
type StaleSource interface {
	StaleMarkets() []string
}

// SeqAnchor re-anchors the delta baseline at the fetched snapshot's
// sequence, so in-flight websocket deltas resume cleanly.
type SeqAnchor interface {
	SetBaseline(marketID string, seq int64)
}

// Config holds fetcher configuration.
type Config struct {
	SweepInterval time.Duration // Stale re-check interval (default: 5s)
	Concurrency   int           // Max concurrent fetches (default: 8)
	Timeout       time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 5 * time.Second,
		Concurrency:   8,
		Timeout:       10 * time.Second,
	}
}

// Fetcher serves snapshot requests.
type Fetcher struct {
	cfg    Config
	client *api.Client
	books  BookSink
	stale  StaleSource
	seqs   SeqAnchor
	logger *slog.Logger

	demand chan string

	mu      sync.Mutex
	pending map[string]struct{} // markets already queued or in flight

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a fetcher. stale and seqs may be nil.
func New(cfg Config, client *api.Client, books BookSink, stale StaleSource, seqs SeqAnchor, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		books:   books,
		stale:   stale,
		seqs:    seqs,
		logger:  logger,
		demand:  make(chan string, 1024),
		pending: make(map[string]struct{}),
	}
}

// Start launches the fetch workers and the stale sweep.
func (f *Fetcher) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	for i := 0; i < f.cfg.Concurrency; i++ {
		f.wg.Add(1)
		go f.worker()
	}

	f.wg.Add(1)
	go f.sweepLoop()

	f.logger.Info("resync fetcher started",
		"sweep_interval", f.cfg.SweepInterval,
		"concurrency", f.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the fetcher.
func (f *Fetcher) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("resync fetcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request queues a snapshot fetch. Duplicate requests for a market
// already queued or in flight are absorbed.
func (f *Fetcher) Request(marketID string) {
	f.mu.Lock()
	if _, ok := f.pending[marketID]; ok {
		f.mu.Unlock()
		return
	}
	f.pending[marketID] = struct{}{}
	f.mu.Unlock()

	select {
	case f.demand <- marketID:
	default:
		// Queue full; the sweep will pick the market up.
		f.mu.Lock()
		delete(f.pending, marketID)
		f.mu.Unlock()
		f.logger.Warn("resync queue full", "market", marketID)
	}
}

func (f *Fetcher) worker() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		case marketID := <-f.demand:
			f.fetch(marketID)
		}
	}
}

// sweepLoop re-requests markets still stale, covering dropped demand and
// failed fetches.
func (f *Fetcher) sweepLoop() {
	defer f.wg.Done()

	if f.stale == nil {
		return
	}

	ticker := time.NewTicker(f.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			for _, id := range f.stale.StaleMarkets() {
				f.Request(id)
			}
		}
	}
}

func (f *Fetcher) fetch(marketID string) {
	defer func() {
		f.mu.Lock()
		delete(f.pending, marketID)
		f.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := f.client.GetBook(ctx, marketID)
	if err != nil {
		f.logger.Warn("snapshot fetch failed", "market", marketID, "error", err)
		return
	}

	f.books.ApplySnapshot(resp.ToSnapshot(time.Now()))
	if f.seqs != nil {
		f.seqs.SetBaseline(marketID, resp.Seq)
	}
	metrics.Resyncs.Inc()

	f.logger.Info("book resynced",
		"market", marketID,
		"seq", resp.Seq,
		"duration", time.Since(start),
	)
}
