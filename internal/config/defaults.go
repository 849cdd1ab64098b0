package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultVenueName            = "clob"
	DefaultRestURL              = "https://clob.polymarket.com"
	DefaultWSURL                = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	DefaultAPITimeout           = 10 * time.Second
	DefaultMaxRetries           = 3
	DefaultMarketsPerConnection = 500 // Venue cap per websocket connection
	DefaultReconnectBaseDelay   = 100 * time.Millisecond
	DefaultReconnectMaxDelay    = 5 * time.Second
	DefaultReconnectCeiling     = 10
	DefaultPingTimeout          = 30 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultFrameBufferSize      = 10000
	DefaultDiscoveryInterval    = 30 * time.Second
	DefaultMaxMarkets           = 500
	DefaultResyncInterval       = 15 * time.Second
	DefaultOrderSize            = 10
	DefaultMinOrderSize         = 5 // Venue minimum shares per order
	DefaultMaxOrderSize         = 200
	DefaultSlippage             = 1000 // 1¢ in price units
	DefaultSubmitTimeout        = 2 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultServerPort           = 5050
	DefaultMetricsPath          = "/metrics"
)

func (c *TraderConfig) applyDefaults() {
	// Venue defaults
	if c.Venue.Name == "" {
		c.Venue.Name = DefaultVenueName
	}
	if c.Venue.RestURL == "" {
		c.Venue.RestURL = DefaultRestURL
	}
	if c.Venue.WSURL == "" {
		c.Venue.WSURL = DefaultWSURL
	}
	if c.Venue.Timeout == 0 {
		c.Venue.Timeout = DefaultAPITimeout
	}
	if c.Venue.MaxRetries == 0 {
		c.Venue.MaxRetries = DefaultMaxRetries
	}

	// Feed defaults
	if c.Feed.MarketsPerConnection == 0 {
		c.Feed.MarketsPerConnection = DefaultMarketsPerConnection
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.ReconnectCeiling == 0 {
		c.Feed.ReconnectCeiling = DefaultReconnectCeiling
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.FrameBufferSize == 0 {
		c.Feed.FrameBufferSize = DefaultFrameBufferSize
	}

	// Discovery defaults
	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = DefaultDiscoveryInterval
	}
	if c.Discovery.MaxMarkets == 0 {
		c.Discovery.MaxMarkets = DefaultMaxMarkets
	}
	if c.Discovery.ResyncInterval == 0 {
		c.Discovery.ResyncInterval = DefaultResyncInterval
	}

	// Execution defaults
	if c.Execution.DefaultSize == 0 {
		c.Execution.DefaultSize = DefaultOrderSize
	}
	if c.Execution.MinSize == 0 {
		c.Execution.MinSize = DefaultMinOrderSize
	}
	if c.Execution.MaxSize == 0 {
		c.Execution.MaxSize = DefaultMaxOrderSize
	}
	if c.Execution.DefaultSlippage == 0 {
		c.Execution.DefaultSlippage = DefaultSlippage
	}
	if c.Execution.SubmitTimeout == 0 {
		c.Execution.SubmitTimeout = DefaultSubmitTimeout
	}

	// Audit defaults (only when a host is configured)
	if c.Audit.Postgres.Host != "" {
		applyDBDefaults(&c.Audit.Postgres)
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
