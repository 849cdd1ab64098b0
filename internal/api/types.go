package api

// MarketsResponse from GET /markets
type MarketsResponse struct {
	Markets []APIMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

// APIMarket represents a market from the venue catalog.
type APIMarket struct {
	TokenID string `json:"token_id"`
	EventID string `json:"event_id"`
	Title   string `json:"title"`
	Outcome string `json:"outcome"`
	Sport   string `json:"sport"`
	Status  string `json:"status"`
	Live    bool   `json:"live"`

	Liquidity float64 `json:"liquidity"`
	Volume    float64 `json:"volume"`

	// Timestamps (ISO 8601)
	CreatedTime   string `json:"created_time"`
	GameStartTime string `json:"game_start_time"`
}

// SingleMarketResponse from GET /markets/{token_id}
type SingleMarketResponse struct {
	Market APIMarket `json:"market"`
}

// BookResponse from GET /book
type BookResponse struct {
	AssetID   string     `json:"asset_id"`
	Seq       int64      `json:"seq"`
	Timestamp int64      `json:"timestamp"` // ms since epoch
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
}

// APILevel is one aggregated price level.
type APILevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderSubmission is the POST /orders payload.
type OrderSubmission struct {
	ClientOrderID string `json:"client_order_id"`
	TokenID       string `json:"token_id"`
	Side          string `json:"side"` // "BUY" or "SELL"
	Price         string `json:"price"`
	Size          int    `json:"size"`
	TimeInForce   string `json:"time_in_force"`
}

// OrderResponse from POST /orders and GET /orders/client/{id}.
type OrderResponse struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"` // "matched", "killed", "rejected"
	FilledSize    string `json:"filled_size"`
	AvgPrice      string `json:"avg_price"`
	ErrorMsg      string `json:"error_msg"`
}

// GetMarketsOptions configures a GetMarkets request.
type GetMarketsOptions struct {
	Limit  int
	Cursor string
	Sport  string
	Live   bool
	Status string
}
