package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/sports-trader/internal/model"
)

// clobDecoder decodes the CLOB market channel dialect: "book" frames carry
// a full snapshot per asset, "price_change" frames carry level updates.
type clobDecoder struct{}

// NewCLOBDecoder returns the decoder for the "clob" venue dialect.
func NewCLOBDecoder() Decoder {
	return clobDecoder{}
}

func (clobDecoder) Venue() string { return "clob" }

// Wire types for JSON parsing

type clobEnvelope struct {
	EventType string `json:"event_type"`
}

type clobLevelWire struct {
	Price string `json:"price"` // e.g. "0.52"
	Size  string `json:"size"`  // e.g. "100" or "100.5"
}

// clobBookWire is the wire format for full book snapshots.
type clobBookWire struct {
	AssetID   string          `json:"asset_id"`
	Seq       int64           `json:"seq"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
	Bids      []clobLevelWire `json:"bids"`
	Asks      []clobLevelWire `json:"asks"`
}

// clobPriceChangeWire is the wire format for incremental level changes.
// Side is "BUY" (bid levels) or "SELL" (ask levels); Size is the new
// aggregate size at the price, "0" removes the level.
type clobPriceChangeWire struct {
	AssetID   string `json:"asset_id"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
}

func (d clobDecoder) Decode(data []byte, receivedAt time.Time) (*model.BookSnapshot, *model.BookDelta, error) {
	// Keepalive replies are plain text.
	if bytes.Equal(bytes.TrimSpace(data), []byte("PONG")) {
		return nil, nil, nil
	}

	var env clobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, &DecodeError{Venue: d.Venue(), Err: err}
	}

	switch env.EventType {
	case "book":
		return d.decodeBook(data, receivedAt)
	case "price_change":
		return d.decodePriceChange(data, receivedAt)
	case "last_trade_price", "tick_size_change", "subscribed", "unsubscribed":
		// No book content.
		return nil, nil, nil
	default:
		return nil, nil, nil
	}
}

func (d clobDecoder) decodeBook(data []byte, receivedAt time.Time) (*model.BookSnapshot, *model.BookDelta, error) {
	var wire clobBookWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, &DecodeError{Venue: d.Venue(), Err: err}
	}
	if wire.AssetID == "" {
		return nil, nil, &DecodeError{Venue: d.Venue(), Err: fmt.Errorf("book frame missing asset_id")}
	}

	snap := &model.BookSnapshot{
		MarketID:   wire.AssetID,
		Seq:        wire.Seq,
		Source:     "ws",
		Bids:       parseLevels(wire.Bids),
		Asks:       parseLevels(wire.Asks),
		ExchangeTS: wire.Timestamp * 1000, // ms -> µs
		ReceivedAt: receivedAt,
	}
	return snap, nil, nil
}

func (d clobDecoder) decodePriceChange(data []byte, receivedAt time.Time) (*model.BookSnapshot, *model.BookDelta, error) {
	var wire clobPriceChangeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, &DecodeError{Venue: d.Venue(), Err: err}
	}
	if wire.AssetID == "" {
		return nil, nil, &DecodeError{Venue: d.Venue(), Err: fmt.Errorf("price_change frame missing asset_id")}
	}

	changes := make([]model.LevelChange, 0, len(wire.Changes))
	for _, ch := range wire.Changes {
		var side model.BookSide
		switch ch.Side {
		case "BUY", "buy":
			side = model.BookBid
		case "SELL", "sell":
			side = model.BookAsk
		default:
			return nil, nil, &DecodeError{Venue: d.Venue(), Err: fmt.Errorf("unknown side %q", ch.Side)}
		}
		changes = append(changes, model.LevelChange{
			Side:    side,
			Price:   model.ParsePrice(ch.Price),
			NewSize: model.ParseSize(ch.Size),
		})
	}

	delta := &model.BookDelta{
		MarketID:   wire.AssetID,
		Seq:        wire.Seq,
		Changes:    changes,
		ExchangeTS: wire.Timestamp * 1000,
		ReceivedAt: receivedAt,
	}
	return nil, delta, nil
}

func parseLevels(wire []clobLevelWire) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(wire))
	for _, l := range wire {
		size := model.ParseSize(l.Size)
		if size == 0 {
			continue
		}
		levels = append(levels, model.PriceLevel{
			Price: model.ParsePrice(l.Price),
			Size:  size,
		})
	}
	return levels
}
