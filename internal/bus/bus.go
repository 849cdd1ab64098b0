// Package bus fans book updates and order results out to attached UI
// sessions. Book updates coalesce per market so a slow session sees the
// latest state instead of a backlog; order results and feed status are
// queued losslessly.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/sports-trader/internal/book"
	"github.com/rickgao/sports-trader/internal/metrics"
	"github.com/rickgao/sports-trader/internal/model"
)

// ErrSessionClosed is returned by Next after the session detaches.
var ErrSessionClosed = errors.New("session closed")

// EventType discriminates session events.
type EventType string

const (
	EventBook        EventType = "book"
	EventOrderResult EventType = "order_result"
	EventFeedStatus  EventType = "feed_status"
	EventMarketGone  EventType = "market_removed"
)

// Event is one message delivered to a session.
type Event struct {
	Type        EventType          `json:"type"`
	Book        *book.View         `json:"book,omitempty"`
	OrderResult *model.OrderResult `json:"order_result,omitempty"`
	FeedStatus  *model.FeedStatus  `json:"feed_status,omitempty"`
	MarketID    string             `json:"market_id,omitempty"`
}

// BookSource is the read side of the book store the bus serves from.
type BookSource interface {
	Snapshot(marketID string) (book.View, bool)
	Markets() []string
}

// Bus tracks attached sessions.
type Bus struct {
	logger *slog.Logger
	books  BookSource

	updates <-chan book.Update

	mu       sync.Mutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bus reading book change notifications from updates.
func New(books BookSource, updates <-chan book.Update, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		books:    books,
		updates:  updates,
		sessions: make(map[string]*Session),
	}
}

// Start begins consuming book updates.
func (b *Bus) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.run()

	b.logger.Info("dissemination bus started")
	return nil
}

// Stop detaches all sessions and stops the bus.
func (b *Bus) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("dissemination bus stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case u, ok := <-b.updates:
			if !ok {
				return
			}
			b.mu.Lock()
			for _, s := range b.sessions {
				s.markDirty(u.MarketID)
			}
			b.mu.Unlock()
		}
	}
}

// Attach creates a new session primed with every current book, so the
// first read delivers full snapshots before any increments.
func (b *Bus) Attach() *Session {
	s := &Session{
		id:     uuid.NewString(),
		bus:    b,
		dirty:  make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
	for _, id := range b.books.Markets() {
		s.dirty[id] = struct{}{}
	}
	if len(s.dirty) > 0 {
		s.wake()
	}

	b.mu.Lock()
	b.sessions[s.id] = s
	n := len(b.sessions)
	b.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	b.logger.Info("session attached", "session", s.id, "sessions", n)
	return s
}

// PublishOrderResult queues an order result on every session. Never
// coalesced or dropped.
func (b *Bus) PublishOrderResult(res model.OrderResult) {
	b.broadcast(Event{Type: EventOrderResult, OrderResult: &res})
}

// PublishFeedStatus queues a feed health event on every session.
func (b *Bus) PublishFeedStatus(st model.FeedStatus) {
	b.broadcast(Event{Type: EventFeedStatus, FeedStatus: &st})
}

func (b *Bus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		s.enqueue(ev)
	}
}

func (b *Bus) detach(s *Session) {
	b.mu.Lock()
	_, ok := b.sessions[s.id]
	delete(b.sessions, s.id)
	n := len(b.sessions)
	b.mu.Unlock()
	if !ok {
		return
	}

	metrics.ActiveSessions.Set(float64(n))
	b.logger.Info("session detached", "session", s.id, "sessions", n)
}

// Session is one attached consumer.
type Session struct {
	id  string
	bus *Bus

	mu     sync.Mutex
	dirty  map[string]struct{}
	queue  []Event
	closed bool

	notify chan struct{}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Next blocks until events are available and returns them in delivery
// order: queued lossless events first, then one coalesced book event per
// dirty market. Returns ctx.Err on cancellation and ErrSessionClosed
// after Close.
func (s *Session) Next(ctx context.Context) ([]Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSessionClosed
		}
		if len(s.queue) > 0 || len(s.dirty) > 0 {
			events := s.drainLocked()
			s.mu.Unlock()
			return events, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// drainLocked builds the outgoing batch. Caller holds s.mu.
func (s *Session) drainLocked() []Event {
	events := s.queue
	s.queue = nil

	for id := range s.dirty {
		if view, ok := s.bus.books.Snapshot(id); ok {
			events = append(events, Event{Type: EventBook, Book: &view})
		} else {
			events = append(events, Event{Type: EventMarketGone, MarketID: id})
		}
	}
	s.dirty = make(map[string]struct{})
	return events
}

// Close detaches the session. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wake()
	s.bus.detach(s)
}

func (s *Session) markDirty(marketID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.dirty[marketID] = struct{}{}
	s.mu.Unlock()
	s.wake()
}

func (s *Session) enqueue(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
