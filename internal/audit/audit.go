// Package audit persists every click intent and order outcome. The log
// is append-only: reconciliation writes a second row for a token rather
// than mutating the first.
package audit

import (
	"context"
	"sync"

	"github.com/rickgao/sports-trader/internal/model"
)

// Log records intents and results.
type Log interface {
	RecordIntent(ctx context.Context, intent model.ClickIntent) error
	RecordResult(ctx context.Context, res model.OrderResult) error

	// LatestResult returns the most recent recorded result for a token.
	LatestResult(ctx context.Context, token string) (model.OrderResult, bool, error)

	Close()
}

// MemoryLog is an in-process Log used when no database is configured and
// in tests.
type MemoryLog struct {
	mu      sync.Mutex
	intents []model.ClickIntent
	results []model.OrderResult
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) RecordIntent(_ context.Context, intent model.ClickIntent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intents = append(l.intents, intent)
	return nil
}

func (l *MemoryLog) RecordResult(_ context.Context, res model.OrderResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, res)
	return nil
}

func (l *MemoryLog) LatestResult(_ context.Context, token string) (model.OrderResult, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.results) - 1; i >= 0; i-- {
		if l.results[i].Token == token {
			return l.results[i], true, nil
		}
	}
	return model.OrderResult{}, false, nil
}

// Intents returns a copy of all recorded intents.
func (l *MemoryLog) Intents() []model.ClickIntent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ClickIntent(nil), l.intents...)
}

// Results returns a copy of all recorded results.
func (l *MemoryLog) Results() []model.OrderResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.OrderResult(nil), l.results...)
}

func (l *MemoryLog) Close() {}
