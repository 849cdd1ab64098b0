// Package book holds the in-memory order books for all subscribed
// markets. The store is the single source of truth the execution gateway
// and the dissemination bus read from.
package book

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/sports-trader/internal/metrics"
	"github.com/rickgao/sports-trader/internal/model"
)

// UpdateBufferSize is the capacity of the Updates channel.
const UpdateBufferSize = 4096

// Update notifies consumers that a market's book changed. Versions are
// per-market and strictly increasing.
type Update struct {
	MarketID string
	Version  uint64
}

// View is a point-in-time copy of one market's book. Bids are sorted
// highest price first, asks lowest price first.
type View struct {
	MarketID    string
	Seq         int64
	Version     uint64
	Stale       bool
	StaleReason string
	Bids        []model.PriceLevel
	Asks        []model.PriceLevel
	UpdatedAt   time.Time
}

// BestBid returns the highest bid level, false if none.
func (v View) BestBid() (model.PriceLevel, bool) {
	if len(v.Bids) == 0 {
		return model.PriceLevel{}, false
	}
	return v.Bids[0], true
}

// BestAsk returns the lowest ask level, false if none.
func (v View) BestAsk() (model.PriceLevel, bool) {
	if len(v.Asks) == 0 {
		return model.PriceLevel{}, false
	}
	return v.Asks[0], true
}

// marketBook is the mutable book for one market. The mutex serializes
// writers so reads always observe a fully applied update.
type marketBook struct {
	mu          sync.Mutex
	seq         int64
	version     uint64
	stale       bool
	staleReason string
	bids        map[int]int // price -> aggregate size
	asks        map[int]int
	updatedAt   time.Time
}

// Store is the thread-safe book cache.
type Store struct {
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]*marketBook

	updates chan Update
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:  logger,
		markets: make(map[string]*marketBook),
		updates: make(chan Update, UpdateBufferSize),
	}
}

// Updates returns the change notification channel. When the buffer is
// full the oldest notification is dropped; consumers coalesce by market
// so a dropped notification only delays, never loses, state.
func (s *Store) Updates() <-chan Update {
	return s.updates
}

// ApplySnapshot replaces a market's book wholesale and clears any stale
// flag. Returns the new book version.
func (s *Store) ApplySnapshot(snap model.BookSnapshot) uint64 {
	mb := s.getOrCreate(snap.MarketID)

	mb.mu.Lock()
	bids := make(map[int]int, len(snap.Bids))
	for _, l := range snap.Bids {
		if l.Size > 0 {
			bids[l.Price] = l.Size
		}
	}
	asks := make(map[int]int, len(snap.Asks))
	for _, l := range snap.Asks {
		if l.Size > 0 {
			asks[l.Price] = l.Size
		}
	}

	mb.bids = bids
	mb.asks = asks
	mb.seq = snap.Seq
	if mb.stale {
		metrics.StaleMarkets.Dec()
	}
	mb.stale = false
	mb.staleReason = ""
	mb.version++
	mb.updatedAt = snap.ReceivedAt
	version := mb.version
	mb.mu.Unlock()

	s.notify(Update{MarketID: snap.MarketID, Version: version})
	return version
}

// ApplyDelta applies incremental level changes. A change with NewSize 0
// removes the level. Returns the new book version.
//
// Sequence validation happens upstream; the store only refuses deltas for
// markets it has never seen a snapshot for.
func (s *Store) ApplyDelta(delta model.BookDelta) (uint64, error) {
	s.mu.RLock()
	mb, ok := s.markets[delta.MarketID]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("no book for market %s", delta.MarketID)
	}

	mb.mu.Lock()
	for _, ch := range delta.Changes {
		side := mb.bids
		if ch.Side == model.BookAsk {
			side = mb.asks
		}
		if ch.NewSize == 0 {
			delete(side, ch.Price)
		} else {
			side[ch.Price] = ch.NewSize
		}
	}
	mb.seq = delta.Seq
	mb.version++
	mb.updatedAt = delta.ReceivedAt
	version := mb.version
	crossed := isCrossedLocked(mb)
	mb.mu.Unlock()

	if crossed {
		// Transient during fast game swings; surfaced but not rejected.
		s.logger.Warn("crossed book", "market", delta.MarketID, "seq", delta.Seq)
	}

	s.notify(Update{MarketID: delta.MarketID, Version: version})
	return version, nil
}

// MarkStale flags a market so consumers stop trusting its book until the
// next snapshot arrives.
func (s *Store) MarkStale(marketID, reason string) {
	s.mu.RLock()
	mb, ok := s.markets[marketID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	mb.mu.Lock()
	if mb.stale {
		mb.mu.Unlock()
		return
	}
	mb.stale = true
	mb.staleReason = reason
	mb.version++
	version := mb.version
	mb.mu.Unlock()

	metrics.StaleMarkets.Inc()
	s.logger.Info("book marked stale", "market", marketID, "reason", reason)
	s.notify(Update{MarketID: marketID, Version: version})
}

// Snapshot returns a sorted copy of one market's book.
func (s *Store) Snapshot(marketID string) (View, bool) {
	s.mu.RLock()
	mb, ok := s.markets[marketID]
	s.mu.RUnlock()
	if !ok {
		return View{}, false
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	view := View{
		MarketID:    marketID,
		Seq:         mb.seq,
		Version:     mb.version,
		Stale:       mb.stale,
		StaleReason: mb.staleReason,
		Bids:        sortLevels(mb.bids, true),
		Asks:        sortLevels(mb.asks, false),
		UpdatedAt:   mb.updatedAt,
	}
	return view, true
}

// BestPrice returns the top level of one side. ok is false when the
// market is unknown, stale, or the side is empty.
func (s *Store) BestPrice(marketID string, side model.BookSide) (price, size int, ok bool) {
	s.mu.RLock()
	mb, found := s.markets[marketID]
	s.mu.RUnlock()
	if !found {
		return 0, 0, false
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.stale {
		return 0, 0, false
	}

	levels := mb.bids
	best := -1
	if side == model.BookAsk {
		levels = mb.asks
	}
	for p := range levels {
		switch {
		case best < 0:
			best = p
		case side == model.BookBid && p > best:
			best = p
		case side == model.BookAsk && p < best:
			best = p
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, levels[best], true
}

// Remove deletes a market's book entirely (delisted or unsubscribed).
func (s *Store) Remove(marketID string) {
	s.mu.Lock()
	mb, ok := s.markets[marketID]
	if ok {
		delete(s.markets, marketID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	mb.mu.Lock()
	wasStale := mb.stale
	mb.version++
	version := mb.version
	mb.mu.Unlock()

	if wasStale {
		metrics.StaleMarkets.Dec()
	}
	s.notify(Update{MarketID: marketID, Version: version})
}

// Markets returns the ids of all markets with a book.
func (s *Store) Markets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	return ids
}

// StaleMarkets returns the ids of all markets currently flagged stale.
func (s *Store) StaleMarkets() []string {
	s.mu.RLock()
	books := make(map[string]*marketBook, len(s.markets))
	for id, mb := range s.markets {
		books[id] = mb
	}
	s.mu.RUnlock()

	var ids []string
	for id, mb := range books {
		mb.mu.Lock()
		if mb.stale {
			ids = append(ids, id)
		}
		mb.mu.Unlock()
	}
	return ids
}

func (s *Store) getOrCreate(marketID string) *marketBook {
	s.mu.RLock()
	mb, ok := s.markets[marketID]
	s.mu.RUnlock()
	if ok {
		return mb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok = s.markets[marketID]; ok {
		return mb
	}
	mb = &marketBook{
		bids: make(map[int]int),
		asks: make(map[int]int),
	}
	s.markets[marketID] = mb
	return mb
}

// notify sends an update without blocking (drop oldest when full).
func (s *Store) notify(u Update) {
	select {
	case s.updates <- u:
	default:
		select {
		case <-s.updates:
			s.updates <- u
		default:
		}
	}
}

func isCrossedLocked(mb *marketBook) bool {
	bestBid, bestAsk := -1, -1
	for p := range mb.bids {
		if p > bestBid {
			bestBid = p
		}
	}
	for p := range mb.asks {
		if bestAsk < 0 || p < bestAsk {
			bestAsk = p
		}
	}
	return bestBid >= 0 && bestAsk >= 0 && bestBid >= bestAsk
}

func sortLevels(side map[int]int, descending bool) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(side))
	for p, sz := range side {
		levels = append(levels, model.PriceLevel{Price: p, Size: sz})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}
