package model

import (
	"math"
	"strconv"
	"time"
)

// -----------------------------------------------------------------------------
// Markets
// -----------------------------------------------------------------------------

// Market represents one tradeable outcome of a live sports event.
// Immutable once discovered; removed when the event delists or expires.
type Market struct {
	ID      string // Primary key: venue asset/token id for this outcome
	EventID string // Venue event id (the game)
	Venue   string // Venue identifier, selects the feed dialect (e.g. "clob")
	Title   string // Event display title (e.g. "Lakers vs. Celtics")
	Outcome string // Outcome label (e.g. "Lakers", "Over 212.5")
	Sport   string // Sport code (e.g. "basketball")
	Live    bool   // Game currently in progress

	// Ranking inputs from discovery.
	Liquidity int64 // Venue-reported liquidity (whole dollars)
	Volume    int64 // Total volume (whole dollars)

	Status string // "active", "closed", "delisted"

	// Timing (µs since epoch)
	CreatedTS int64
	UpdatedAt int64
}

// Tradeable reports whether the market accepts orders.
func (m Market) Tradeable() bool {
	return m.Status == "active"
}

// -----------------------------------------------------------------------------
// Prices and sides
// -----------------------------------------------------------------------------

// PriceScale is the internal price unit: hundred-thousandths of a dollar
// (0-100,000), parsed from venue decimal strings ("0.52" -> 52000). Outcome
// prices on a prediction CLOB are bounded to (0, 1) dollars.
const PriceScale = 100000

// Side is the direction of an order or click intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// BookSide identifies one half of an order book.
type BookSide string

const (
	BookBid BookSide = "bid"
	BookAsk BookSide = "ask"
)

// ParsePrice converts a venue decimal string (e.g. "0.52") to internal
// integer format. Returns 0 for empty or malformed input.
func ParsePrice(dollars string) int {
	if dollars == "" {
		return 0
	}
	f, err := strconv.ParseFloat(dollars, 64)
	if err != nil {
		return 0
	}
	// Round to avoid floating point error (0.52 * 100000 = 51999.999...)
	return int(math.Round(f * PriceScale))
}

// FormatPrice converts an internal price to the venue decimal string.
func FormatPrice(price int) string {
	return strconv.FormatFloat(float64(price)/PriceScale, 'f', -1, 64)
}

// ParseSize converts a venue decimal size string to whole contracts.
// Returns 0 for empty or invalid input.
func ParseSize(s string) int {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(math.Round(f))
}

// PriceLevel is a single price level in an order book.
type PriceLevel struct {
	Price int // Price (hundred-thousandths, 0-100,000)
	Size  int // Contracts resting at this price
}

// -----------------------------------------------------------------------------
// Book updates
// -----------------------------------------------------------------------------

// LevelChange sets the new aggregate size at one price level.
// A NewSize of zero removes the level.
type LevelChange struct {
	Side    BookSide
	Price   int
	NewSize int
}

// BookDelta is a sequence-numbered set of level changes for one market.
// Immutable once constructed; consumed exactly once by the book store.
type BookDelta struct {
	MarketID   string
	Seq        int64
	Changes    []LevelChange
	ExchangeTS int64     // Venue timestamp (µs since epoch), 0 if not provided
	ReceivedAt time.Time // Local receive time
}

// BookSnapshot is a full-book replace for one market.
type BookSnapshot struct {
	MarketID   string
	Seq        int64
	Source     string // "ws" or "rest"
	Bids       []PriceLevel
	Asks       []PriceLevel
	ExchangeTS int64
	ReceivedAt time.Time
}

// -----------------------------------------------------------------------------
// Feed health
// -----------------------------------------------------------------------------

// FeedState is the health of a feed connection.
type FeedState string

const (
	FeedConnected    FeedState = "connected"
	FeedReconnecting FeedState = "reconnecting"
	FeedDegraded     FeedState = "degraded"
	FeedDisconnected FeedState = "disconnected"
)

// FeedStatus is emitted by the feed manager whenever a connection changes
// state. Markets lists the subscriptions affected.
type FeedStatus struct {
	Venue   string
	ConnID  int
	State   FeedState
	Markets []string
	TS      time.Time
}

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

// ClickIntent is a user-originated order request. Token is the
// client-generated idempotency key; the same token never produces two
// exchange submissions.
type ClickIntent struct {
	Token      string
	MarketID   string
	Side       Side
	Size       int // Desired contracts
	LimitPrice int // Slippage bound: max price for buys, min price for sells
	ReceivedAt time.Time
}

// TimeInForceFAK is the only time-in-force the gateway submits: fill
// immediately against resting liquidity, cancel the remainder.
const TimeInForceFAK = "FAK"

// OrderRequest is the venue-formatted order derived from a ClickIntent and
// the book state at validation time. Immutable after signing.
type OrderRequest struct {
	OrderID     string // Client order id (uuid), used for status reconciliation
	Token       string // Originating intent token
	MarketID    string
	Side        Side
	Price       int
	Size        int
	TimeInForce string // Always TimeInForceFAK
	CreatedTS   int64  // µs since epoch
}

// OrderStatus is the terminal (or ambiguous) outcome class of an order.
type OrderStatus string

const (
	// OrderFilled: the full size matched.
	OrderFilled OrderStatus = "filled"
	// OrderPartial: some size matched, the remainder was killed.
	OrderPartial OrderStatus = "partial"
	// OrderKilled: nothing matched before the FAK cancel.
	OrderKilled OrderStatus = "killed"
	// OrderRejected: refused before or at submission (validation or venue).
	OrderRejected OrderStatus = "rejected"
	// OrderFailed: the venue returned a definite error for the submission.
	OrderFailed OrderStatus = "failed"
	// OrderUncertain: no acknowledgment within the deadline. Outcome unknown;
	// resolved by a status query, never by resubmission.
	OrderUncertain OrderStatus = "uncertain"
)

// Terminal reports whether the status needs no further reconciliation.
func (s OrderStatus) Terminal() bool {
	return s != OrderUncertain && s != ""
}

// Rejection reasons surfaced to the user before any network call.
const (
	ReasonStaleMarket      = "StaleMarket"
	ReasonPriceUnavailable = "PriceUnavailable"
	ReasonSlippageExceeded = "SlippageExceeded"
)

// OrderResult is the outcome of a ClickIntent, keyed by its token.
// Written once, read by the UI and the audit log.
type OrderResult struct {
	Token      string
	OrderID    string // Empty if rejected before submission
	MarketID   string
	Status     OrderStatus
	FilledSize int
	FillPrice  int    // Average fill price, 0 if nothing filled
	Reason     string // Rejection reason or venue error message
	TS         time.Time
}
