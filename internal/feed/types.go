package feed

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrNoCapacity      = errors.New("no connection capacity")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawFrame is a message from the feed manager to the normalizer.
type RawFrame struct {
	Venue      string    // Dialect id, selects the decoder
	ConnID     int       // Which connection this came from
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when the client received it
}

// subscribeCommand is the wire format for market subscriptions. The venue
// replies with a full book snapshot per subscribed asset before deltas.
type subscribeCommand struct {
	Op       string   `json:"op"`   // "subscribe" or "unsubscribe"
	Type     string   `json:"type"` // Always "market"
	AssetIDs []string `json:"assets_ids"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// ManagerConfig configures the feed connection manager.
type ManagerConfig struct {
	Venue                string        // Dialect id stamped on outgoing frames
	WSURL                string        // WebSocket URL
	MarketsPerConnection int           // Venue subscription cap per connection
	ReconnectBaseDelay   time.Duration // Base wait time for reconnection
	ReconnectMaxDelay    time.Duration // Max wait time for reconnection
	ReconnectCeiling     int           // Consecutive failures before degraded
	FrameBufferSize      int           // Buffer size for the output frame channel
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Venue:                "clob",
		MarketsPerConnection: 500,
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    5 * time.Second,
		ReconnectCeiling:     10,
		FrameBufferSize:      10000,
		PingTimeout:          30 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}
