package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/sports-trader/internal/api"
	"github.com/rickgao/sports-trader/internal/model"
)

// Config holds market discovery configuration.
type Config struct {
	SyncInterval   time.Duration // Catalog re-sync interval
	LiveOnly       bool          // Only select markets whose game is in progress
	MaxMarkets     int           // Selection cap, 0 for unlimited
	ExcludeEsports bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:   30 * time.Second,
		LiveOnly:       true,
		MaxMarkets:     400,
		ExcludeEsports: true,
	}
}

// Catalog is the slice of the REST client the registry needs.
type Catalog interface {
	GetAllMarkets(ctx context.Context, opts api.GetMarketsOptions) ([]api.APIMarket, error)
}

// registryImpl implements the Registry interface.
type registryImpl struct {
	cfg     Config
	catalog Catalog
	logger  *slog.Logger

	state *registryState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a new market registry.
func NewRegistry(cfg Config, catalog Catalog, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultConfig().SyncInterval
	}

	r := registryImpl{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger,
		state:   newState(),
	}
	return &r
}

// Start performs the initial sync and begins background discovery.
func (r *registryImpl) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	// Initial sync (blocking).
	if err := r.sync(r.ctx); err != nil {
		r.cancel()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.syncLoop(r.ctx)
	}()

	r.logger.Info("market registry started",
		"markets", len(r.state.markets),
		"live_only", r.cfg.LiveOnly,
	)
	return nil
}

// Stop gracefully shuts down.
func (r *registryImpl) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("market registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveMarkets returns all markets currently selected for trading.
func (r *registryImpl) ActiveMarkets() []model.Market {
	return r.state.getActiveMarkets()
}

// GetMarket returns a specific market by token id.
func (r *registryImpl) GetMarket(id string) (model.Market, bool) {
	return r.state.getMarket(id)
}

// Changes returns the market lifecycle channel.
func (r *registryImpl) Changes() <-chan Change {
	return r.state.changes
}
