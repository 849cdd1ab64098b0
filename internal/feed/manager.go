package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rickgao/sports-trader/internal/metrics"
	"github.com/rickgao/sports-trader/internal/model"
)

// BookMarker flags market data freshness in the book store. The manager
// marks every market on a lost connection stale so nothing trades against
// a book that is no longer receiving deltas.
type BookMarker interface {
	MarkStale(marketID, reason string)
}

// Manager owns the WebSocket connections to the venue market data stream
// and multiplexes market subscriptions over them, respecting the venue's
// per-connection subscription cap.
type Manager interface {
	// Start prepares the manager for subscriptions.
	Start(ctx context.Context) error

	// Stop gracefully shuts down all connections.
	Stop(ctx context.Context) error

	// Subscribe binds a market to a connection and requests its stream.
	// The venue sends a full book snapshot before deltas.
	Subscribe(marketID string) error

	// Unsubscribe tears down a market's feed binding.
	Unsubscribe(marketID string) error

	// Frames returns the channel of raw frames for the normalizer.
	Frames() <-chan RawFrame

	// Status returns the channel of feed health events.
	Status() <-chan model.FeedStatus

	// Stats returns current connection and subscription statistics.
	Stats() ManagerStats
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	ConnectedCount    int
	MarketsSubscribed int
}

// connState holds the state for a single connection.
type connState struct {
	client Client
	id     int

	mu       sync.Mutex
	markets  map[string]struct{}
	failures int
}

func (c *connState) marketList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.markets))
	for id := range c.markets {
		out = append(out, id)
	}
	return out
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	marker BookMarker

	frames chan RawFrame
	status chan model.FeedStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	conns      []*connState
	marketConn map[string]*connState
	nextConnID int

	// Test hook.
	newClient func(ClientConfig, *slog.Logger) Client
}

// NewManager creates a new feed connection manager.
func NewManager(cfg ManagerConfig, marker BookMarker, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &manager{
		cfg:        cfg,
		logger:     logger,
		marker:     marker,
		frames:     make(chan RawFrame, cfg.FrameBufferSize),
		status:     make(chan model.FeedStatus, 100),
		marketConn: make(map[string]*connState),
		newClient:  NewClient,
	}
}

// Start prepares the manager. Connections are opened lazily on the first
// Subscribe for each capacity slice.
func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("feed manager started",
		"venue", m.cfg.Venue,
		"markets_per_connection", m.cfg.MarketsPerConnection,
	)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping feed manager")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var drained bool
	select {
	case <-done:
		drained = true
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.mu.Lock()
	for _, c := range m.conns {
		c.client.Close()
	}
	m.mu.Unlock()

	// Close the outputs only once every producer goroutine has exited.
	// After a timeout a straggler may still be sending, so the channels
	// stay open.
	if drained {
		close(m.frames)
		close(m.status)
	}

	m.logger.Info("feed manager stopped")
	return nil
}

// Frames returns the output channel for the normalizer.
func (m *manager) Frames() <-chan RawFrame {
	return m.frames
}

// Status returns the feed health event channel.
func (m *manager) Status() <-chan model.FeedStatus {
	return m.status
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	connected := 0
	for _, c := range m.conns {
		if c.client.IsConnected() {
			connected++
		}
	}

	return ManagerStats{
		ConnectedCount:    connected,
		MarketsSubscribed: len(m.marketConn),
	}
}

// Subscribe binds a market to a connection with spare capacity, opening a
// new connection when every existing one is at the venue cap.
func (m *manager) Subscribe(marketID string) error {
	m.mu.Lock()
	if _, exists := m.marketConn[marketID]; exists {
		m.mu.Unlock()
		return nil
	}

	conn, err := m.selectConnLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.marketConn[marketID] = conn
	m.mu.Unlock()

	conn.mu.Lock()
	conn.markets[marketID] = struct{}{}
	conn.mu.Unlock()

	if err := m.sendCommand(conn, "subscribe", []string{marketID}); err != nil {
		// Rollback tracking; reconnect will resubscribe if it was a
		// transient connection failure.
		conn.mu.Lock()
		delete(conn.markets, marketID)
		conn.mu.Unlock()

		m.mu.Lock()
		delete(m.marketConn, marketID)
		m.mu.Unlock()

		return err
	}

	m.logger.Debug("subscribed", "market", marketID, "conn", conn.id)
	return nil
}

// Unsubscribe tears down a market's feed binding.
func (m *manager) Unsubscribe(marketID string) error {
	m.mu.Lock()
	conn, ok := m.marketConn[marketID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.marketConn, marketID)
	m.mu.Unlock()

	conn.mu.Lock()
	delete(conn.markets, marketID)
	conn.mu.Unlock()

	if err := m.sendCommand(conn, "unsubscribe", []string{marketID}); err != nil {
		m.logger.Warn("failed to unsubscribe", "market", marketID, "error", err)
		return err
	}

	m.logger.Debug("unsubscribed", "market", marketID, "conn", conn.id)
	return nil
}

// selectConnLocked returns a connected conn with spare capacity, creating
// one if needed. Caller must hold m.mu.
func (m *manager) selectConnLocked() (*connState, error) {
	for _, c := range m.conns {
		if !c.client.IsConnected() {
			continue
		}
		c.mu.Lock()
		count := len(c.markets)
		c.mu.Unlock()
		if count < m.cfg.MarketsPerConnection {
			return c, nil
		}
	}

	// All connections full (or none yet): open another.
	m.nextConnID++
	conn := &connState{
		id:      m.nextConnID,
		markets: make(map[string]struct{}),
	}
	conn.client = m.newClient(m.clientConfig(), m.logger.With("conn_id", conn.id))

	if err := conn.client.Connect(m.ctx); err != nil {
		return nil, err
	}

	m.conns = append(m.conns, conn)

	m.wg.Add(1)
	go m.readLoop(conn)

	m.emitStatus(model.FeedStatus{
		Venue:  m.cfg.Venue,
		ConnID: conn.id,
		State:  model.FeedConnected,
		TS:     time.Now(),
	})

	return conn, nil
}

func (m *manager) clientConfig() ClientConfig {
	return ClientConfig{
		URL:          m.cfg.WSURL,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.FrameBufferSize,
	}
}

// sendCommand sends a subscribe/unsubscribe command for the given assets.
func (m *manager) sendCommand(conn *connState, op string, assetIDs []string) error {
	cmd := subscribeCommand{
		Op:       op,
		Type:     "market",
		AssetIDs: assetIDs,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.client.Send(data)
}

// readLoop reads frames from a connection and forwards them.
func (m *manager) readLoop(conn *connState) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-conn.client.Errors():
			m.logger.Warn("connection error",
				"conn", conn.id,
				"error", err,
			)
			m.wg.Add(1)
			go m.reconnect(conn)
			return

		case msg, ok := <-conn.client.Messages():
			if !ok {
				return
			}

			frame := RawFrame{
				Venue:      m.cfg.Venue,
				ConnID:     conn.id,
				Data:       msg.Data,
				ReceivedAt: msg.ReceivedAt,
			}

			select {
			case m.frames <- frame:
			case <-m.ctx.Done():
				return
			default:
				m.logger.Warn("frame buffer full, dropping", "conn", conn.id)
			}
		}
	}
}

// reconnect attempts to reconnect a connection with exponential backoff and
// jitter. Every market on the connection is marked stale immediately; fresh
// snapshots on resubscription clear the flag. Past the failure ceiling the
// feed is reported degraded but retries continue at the max delay.
func (m *manager) reconnect(conn *connState) {
	defer m.wg.Done()

	markets := conn.marketList()

	m.emitStatus(model.FeedStatus{
		Venue:   m.cfg.Venue,
		ConnID:  conn.id,
		State:   model.FeedReconnecting,
		Markets: markets,
		TS:      time.Now(),
	})

	if m.marker != nil {
		for _, id := range markets {
			m.marker.MarkStale(id, "feed disconnected")
		}
	}

	wait := m.cfg.ReconnectBaseDelay
	maxWait := m.cfg.ReconnectMaxDelay

	for {
		// Jitter: wait/2 to wait*1.5
		jittered := wait/2 + time.Duration(rand.Int64N(int64(wait)))

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(jittered):
		}

		m.logger.Info("attempting reconnection", "conn", conn.id)
		metrics.Reconnects.Inc()

		conn.client.Close()
		conn.client = m.newClient(m.clientConfig(), m.logger.With("conn_id", conn.id))

		if err := conn.client.Connect(m.ctx); err != nil {
			conn.mu.Lock()
			conn.failures++
			failures := conn.failures
			conn.mu.Unlock()

			m.logger.Warn("reconnection failed",
				"conn", conn.id,
				"failures", failures,
				"error", err,
			)

			if failures == m.cfg.ReconnectCeiling {
				m.emitStatus(model.FeedStatus{
					Venue:   m.cfg.Venue,
					ConnID:  conn.id,
					State:   model.FeedDegraded,
					Markets: conn.marketList(),
					TS:      time.Now(),
				})
			}

			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
			continue
		}

		conn.mu.Lock()
		conn.failures = 0
		conn.mu.Unlock()

		m.logger.Info("reconnected", "conn", conn.id)

		// Resubscribe every market on this connection. The venue answers
		// with fresh snapshots, which clears staleness. Stale deltas from
		// before the disconnect are rejected by the sequence check.
		current := conn.marketList()
		if len(current) > 0 {
			if err := m.sendCommand(conn, "subscribe", current); err != nil {
				m.logger.Warn("resubscribe failed, retrying connection",
					"conn", conn.id,
					"error", err,
				)
				wait *= 2
				if wait > maxWait {
					wait = maxWait
				}
				continue
			}
		}

		m.emitStatus(model.FeedStatus{
			Venue:   m.cfg.Venue,
			ConnID:  conn.id,
			State:   model.FeedConnected,
			Markets: current,
			TS:      time.Now(),
		})

		m.wg.Add(1)
		go m.readLoop(conn)

		return
	}
}

// emitStatus sends a status event without blocking; under pressure the
// oldest event is dropped so the latest state always lands.
func (m *manager) emitStatus(st model.FeedStatus) {
	select {
	case m.status <- st:
	default:
		select {
		case <-m.status:
			m.status <- st
		default:
		}
	}
}
