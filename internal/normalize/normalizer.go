// Package normalize turns venue-specific feed frames into canonical book
// updates and enforces the per-market sequence contract: deltas apply
// strictly in order, duplicates drop, and gaps force a snapshot resync.
package normalize

import (
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/sports-trader/internal/model"
)

// Normalizer validates sequence numbers across all venue dialects. It is
// safe for concurrent use, though frames for one market must arrive from a
// single goroutine for the sequence check to be meaningful.
type Normalizer struct {
	decoders map[string]Decoder

	mu      sync.Mutex
	lastSeq map[string]int64 // market id -> last applied sequence
}

// New creates a Normalizer with the given dialect decoders.
func New(decoders ...Decoder) *Normalizer {
	m := make(map[string]Decoder, len(decoders))
	for _, d := range decoders {
		m[d.Venue()] = d
	}
	return &Normalizer{
		decoders: m,
		lastSeq:  make(map[string]int64),
	}
}

// Normalize decodes a raw frame and applies the sequence check.
//
// Returns exactly one of snapshot/delta non-nil for applicable frames.
// Errors:
//   - *DecodeError: malformed frame, drop it
//   - ErrDuplicate: delta at or below the last applied sequence, drop it
//   - *GapError: missed messages, caller must request a fresh snapshot;
//     the gapped delta is discarded and the baseline left untouched so
//     later deltas keep gapping until a snapshot resets it
func (n *Normalizer) Normalize(venue string, data []byte, receivedAt time.Time) (*model.BookSnapshot, *model.BookDelta, error) {
	dec, ok := n.decoders[venue]
	if !ok {
		return nil, nil, &DecodeError{Venue: venue, Err: fmt.Errorf("no decoder registered")}
	}

	snap, delta, err := dec.Decode(data, receivedAt)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case snap != nil:
		// Full snapshot resets the sequence baseline.
		n.mu.Lock()
		n.lastSeq[snap.MarketID] = snap.Seq
		n.mu.Unlock()
		return snap, nil, nil

	case delta != nil:
		n.mu.Lock()
		defer n.mu.Unlock()

		last, seen := n.lastSeq[delta.MarketID]
		if !seen {
			// No snapshot baseline: deltas cannot be applied safely.
			return nil, nil, &GapError{MarketID: delta.MarketID, LastSeq: 0, GotSeq: delta.Seq}
		}
		if delta.Seq <= last {
			return nil, nil, ErrDuplicate
		}
		if delta.Seq > last+1 {
			return nil, nil, &GapError{MarketID: delta.MarketID, LastSeq: last, GotSeq: delta.Seq}
		}

		n.lastSeq[delta.MarketID] = delta.Seq
		return nil, delta, nil
	}

	// Frame carried nothing for the book.
	return nil, nil, nil
}

// SetBaseline anchors the sequence baseline at an externally applied
// snapshot (REST resync), so the delta stream resumes from its sequence.
func (n *Normalizer) SetBaseline(marketID string, seq int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastSeq[marketID] = seq
}

// Reset forgets the sequence baseline for a market (unsubscribe/delist).
func (n *Normalizer) Reset(marketID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.lastSeq, marketID)
}
