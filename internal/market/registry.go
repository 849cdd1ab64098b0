package market

import (
	"context"

	"github.com/rickgao/sports-trader/internal/model"
)

// ChangeBufferSize is the capacity of the Change channel.
const ChangeBufferSize = 1000

// Registry discovers tradeable sports markets and tracks their lifecycle.
type Registry interface {
	// Start performs the initial catalog sync (blocking) and then keeps
	// discovering in the background.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error

	// ActiveMarkets returns all markets currently selected for trading.
	ActiveMarkets() []model.Market

	// GetMarket returns a specific market by token id.
	GetMarket(id string) (model.Market, bool)

	// Changes returns the market lifecycle channel. The feed manager uses
	// it to know when to subscribe and unsubscribe.
	Changes() <-chan Change
}

// Change event types.
const (
	ChangeDiscovered = "discovered"
	ChangeUpdated    = "updated"
	ChangeDelisted   = "delisted"
)

// Change represents a market lifecycle transition.
type Change struct {
	MarketID string
	Type     string
	Market   *model.Market // nil for delisted
}
