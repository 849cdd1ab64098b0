package config

import "time"

// TraderConfig is the root configuration for a trader instance.
type TraderConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Venue     VenueConfig     `yaml:"venue"`
	Feed      FeedConfig      `yaml:"feed"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Execution ExecutionConfig `yaml:"execution"`
	Audit     AuditConfig     `yaml:"audit"`
	Server    ServerConfig    `yaml:"server"`
}

// InstanceConfig identifies this trader process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// VenueConfig holds the exchange endpoints and signing credentials.
type VenueConfig struct {
	Name           string        `yaml:"name"`     // Dialect id, e.g. "clob"
	RestURL        string        `yaml:"rest_url"` // Order submission + catalog
	WSURL          string        `yaml:"ws_url"`   // Market data stream
	KeyID          string        `yaml:"key_id"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// FeedConfig holds feed connection manager settings.
type FeedConfig struct {
	MarketsPerConnection int           `yaml:"markets_per_connection"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectCeiling     int           `yaml:"reconnect_ceiling"` // Failures before marking markets stale
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	FrameBufferSize      int           `yaml:"frame_buffer_size"`
}

// DiscoveryConfig holds live market discovery settings.
type DiscoveryConfig struct {
	Interval       time.Duration `yaml:"interval"`
	LiveOnly       bool          `yaml:"live_only"`
	MaxMarkets     int           `yaml:"max_markets"`
	ExcludeEsports bool          `yaml:"exclude_esports"`
	ResyncInterval time.Duration `yaml:"resync_interval"` // Safety sweep for stale books
}

// ExecutionConfig holds execution gateway settings.
type ExecutionConfig struct {
	DefaultSize     int           `yaml:"default_size"`     // Contracts per click when the intent omits size
	MinSize         int           `yaml:"min_size"`         // Clamp floor
	MaxSize         int           `yaml:"max_size"`         // Clamp ceiling
	DefaultSlippage int           `yaml:"default_slippage"` // Price units added to best price when intent omits a bound
	SubmitTimeout   time.Duration `yaml:"submit_timeout"`   // Ack deadline before NetworkUncertain
}

// AuditConfig holds the append-only order audit log settings.
// When Postgres.Host is empty the trader runs with an in-memory log.
type AuditConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ServerConfig holds the UI boundary HTTP server settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}
