package normalize

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/sports-trader/internal/model"
)

// ErrDuplicate marks a delta whose sequence number is at or below the last
// applied one. Duplicates are dropped, never applied.
var ErrDuplicate = errors.New("duplicate delta")

// GapError signals a hole in the sequence stream for a market. The caller
// must request a fresh snapshot; the gapped delta itself is discarded.
type GapError struct {
	MarketID string
	LastSeq  int64 // Last applied sequence (0 if no baseline snapshot yet)
	GotSeq   int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap for %s: last %d, got %d", e.MarketID, e.LastSeq, e.GotSeq)
}

// GapSize returns the number of missed messages.
func (e *GapError) GapSize() int {
	if e.LastSeq == 0 {
		return 0
	}
	return int(e.GotSeq - e.LastSeq - 1)
}

// DecodeError marks a malformed frame. The frame is logged and dropped; a
// decode failure never tears down the connection.
type DecodeError struct {
	Venue string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s frame: %v", e.Venue, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns one venue dialect's raw frames into canonical book updates.
// Exactly one of the returned snapshot/delta is non-nil for data frames;
// both nil with a nil error means the frame carries nothing for the book
// (trade prints, keepalives, subscription confirmations).
type Decoder interface {
	Venue() string
	Decode(data []byte, receivedAt time.Time) (*model.BookSnapshot, *model.BookDelta, error)
}
