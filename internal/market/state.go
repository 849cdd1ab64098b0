package market

import (
	"sync"
	"time"

	"github.com/rickgao/sports-trader/internal/model"
)

// registryState holds the thread-safe market cache.
type registryState struct {
	mu sync.RWMutex

	// All selected markets indexed by token id.
	markets map[string]*model.Market

	// Last successful catalog sync timestamp.
	lastSyncAt time.Time

	// Output channel for the feed manager.
	changes chan Change
}

func newState() *registryState {
	s := registryState{
		markets: make(map[string]*model.Market),
		changes: make(chan Change, ChangeBufferSize),
	}
	return &s
}

// getMarket returns a market by token id (read-locked).
func (s *registryState) getMarket(id string) (model.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return model.Market{}, false
	}
	return *m, true
}

// getActiveMarkets returns a copy of all selected markets (read-locked).
func (s *registryState) getActiveMarkets() []model.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		result = append(result, *m)
	}
	return result
}

// upsertMarketLocked adds or updates a market (caller must hold write lock).
func (s *registryState) upsertMarketLocked(m model.Market) {
	mCopy := m
	s.markets[m.ID] = &mCopy
}

// removeMarketLocked drops a market (caller must hold write lock).
func (s *registryState) removeMarketLocked(id string) {
	delete(s.markets, id)
}

// notifyChange sends a change to the changes channel (non-blocking).
func (s *registryState) notifyChange(change Change) {
	select {
	case s.changes <- change:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-s.changes:
			s.changes <- change
		default:
		}
	}
}
