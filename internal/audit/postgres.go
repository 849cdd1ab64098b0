package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/sports-trader/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS click_intents (
	id          BIGSERIAL PRIMARY KEY,
	token       TEXT NOT NULL,
	market_id   TEXT NOT NULL,
	side        TEXT NOT NULL,
	size        INT NOT NULL,
	limit_price INT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS click_intents_token_idx ON click_intents (token);

CREATE TABLE IF NOT EXISTS order_results (
	id          BIGSERIAL PRIMARY KEY,
	token       TEXT NOT NULL,
	order_id    TEXT NOT NULL,
	market_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	filled_size INT NOT NULL,
	fill_price  INT NOT NULL,
	reason      TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS order_results_token_idx ON order_results (token);
`

// PostgresLog persists the audit trail to PostgreSQL.
type PostgresLog struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLog creates a log over an existing pool and ensures the
// schema exists.
func NewPostgresLog(ctx context.Context, db *pgxpool.Pool, logger *slog.Logger) (*PostgresLog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	return &PostgresLog{db: db, logger: logger}, nil
}

func (l *PostgresLog) RecordIntent(ctx context.Context, intent model.ClickIntent) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO click_intents (token, market_id, side, size, limit_price, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, intent.Token, intent.MarketID, string(intent.Side), intent.Size, intent.LimitPrice, intent.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (l *PostgresLog) RecordResult(ctx context.Context, res model.OrderResult) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO order_results (token, order_id, market_id, status, filled_size, fill_price, reason, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, res.Token, res.OrderID, res.MarketID, string(res.Status), res.FilledSize, res.FillPrice, res.Reason, res.TS)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (l *PostgresLog) LatestResult(ctx context.Context, token string) (model.OrderResult, bool, error) {
	var res model.OrderResult
	var status string
	err := l.db.QueryRow(ctx, `
		SELECT token, order_id, market_id, status, filled_size, fill_price, reason, ts
		FROM order_results
		WHERE token = $1
		ORDER BY id DESC
		LIMIT 1
	`, token).Scan(&res.Token, &res.OrderID, &res.MarketID, &status, &res.FilledSize, &res.FillPrice, &res.Reason, &res.TS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OrderResult{}, false, nil
		}
		return model.OrderResult{}, false, fmt.Errorf("query result: %w", err)
	}
	res.Status = model.OrderStatus(status)
	return res, true, nil
}

func (l *PostgresLog) Close() {
	l.db.Close()
}
