package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *TraderConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Venue.KeyID == "" {
		return errors.New("venue.key_id is required")
	}
	if c.Venue.PrivateKeyPath == "" {
		return errors.New("venue.private_key_path is required")
	}

	if c.Feed.MarketsPerConnection < 1 {
		return errors.New("feed.markets_per_connection must be >= 1")
	}
	if c.Feed.ReconnectBaseDelay > c.Feed.ReconnectMaxDelay {
		return fmt.Errorf("feed.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Feed.ReconnectBaseDelay, c.Feed.ReconnectMaxDelay)
	}

	if c.Execution.MinSize < 1 {
		return errors.New("execution.min_size must be >= 1")
	}
	if c.Execution.MinSize > c.Execution.MaxSize {
		return fmt.Errorf("execution.min_size (%d) cannot exceed max_size (%d)",
			c.Execution.MinSize, c.Execution.MaxSize)
	}
	if c.Execution.SubmitTimeout <= 0 {
		return errors.New("execution.submit_timeout must be positive")
	}

	if c.Audit.Postgres.Host != "" {
		if err := c.Audit.Postgres.validate("audit.postgres"); err != nil {
			return err
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
