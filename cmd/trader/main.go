package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sports-trader/internal/api"
	"github.com/rickgao/sports-trader/internal/audit"
	"github.com/rickgao/sports-trader/internal/auth"
	"github.com/rickgao/sports-trader/internal/book"
	"github.com/rickgao/sports-trader/internal/bus"
	"github.com/rickgao/sports-trader/internal/config"
	"github.com/rickgao/sports-trader/internal/database"
	"github.com/rickgao/sports-trader/internal/exec"
	"github.com/rickgao/sports-trader/internal/feed"
	"github.com/rickgao/sports-trader/internal/market"
	"github.com/rickgao/sports-trader/internal/normalize"
	"github.com/rickgao/sports-trader/internal/resync"
	"github.com/rickgao/sports-trader/internal/server"
	"github.com/rickgao/sports-trader/internal/version"
)

func main() {
	// .env for credentials referenced as ${VAR} in the config file.
	godotenv.Load()

	configPath := flag.String("config", "configs/trader.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting trader",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"venue", cfg.Venue.Name,
		"rest_url", cfg.Venue.RestURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Audit log: durable when Postgres is configured, in-memory otherwise.
	var (
		auditLog audit.Log
		pool     *pgxpool.Pool
	)
	if cfg.Audit.Postgres.Host != "" {
		logger.Info("connecting to audit database",
			"host", cfg.Audit.Postgres.Host,
			"port", cfg.Audit.Postgres.Port,
			"database", cfg.Audit.Postgres.Name,
		)
		pool, err = database.Connect(ctx, cfg.Audit.Postgres)
		if err != nil {
			logger.Error("failed to connect to audit database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		auditLog, err = audit.NewPostgresLog(ctx, pool, logger)
		if err != nil {
			logger.Error("failed to initialize audit log", "error", err)
			os.Exit(1)
		}
		logger.Info("audit database connected")
	} else {
		logger.Warn("no audit database configured, using in-memory audit log")
		auditLog = audit.NewMemoryLog()
	}
	defer auditLog.Close()

	// Venue signing credentials
	creds, err := auth.LoadCredentials(cfg.Venue.KeyID, cfg.Venue.PrivateKeyPath)
	if err != nil {
		logger.Error("failed to load venue credentials", "error", err)
		os.Exit(1)
	}
	logger.Info("venue credentials loaded", "key_id", cfg.Venue.KeyID)

	// Venue REST client
	apiClient := api.NewClient(
		cfg.Venue.RestURL,
		creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Venue.Timeout),
		api.WithRetries(cfg.Venue.MaxRetries, time.Second),
	)

	// Core pipeline: store, normalizer, feed, resync, dissemination.
	store := book.NewStore(logger)
	normalizer := normalize.New(normalize.NewCLOBDecoder())

	feedMgr := feed.NewManager(feed.ManagerConfig{
		Venue:                cfg.Venue.Name,
		WSURL:                cfg.Venue.WSURL,
		MarketsPerConnection: cfg.Feed.MarketsPerConnection,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Feed.ReconnectMaxDelay,
		ReconnectCeiling:     cfg.Feed.ReconnectCeiling,
		FrameBufferSize:      cfg.Feed.FrameBufferSize,
		PingTimeout:          cfg.Feed.PingTimeout,
		WriteTimeout:         cfg.Feed.WriteTimeout,
	}, store, logger)

	busSvc := bus.New(store, store.Updates(), logger)

	fetcherCfg := resync.DefaultConfig()
	if cfg.Discovery.ResyncInterval > 0 {
		fetcherCfg.SweepInterval = cfg.Discovery.ResyncInterval
	}
	fetcher := resync.New(fetcherCfg, apiClient, store, store, normalizer, logger)

	pipeline := normalize.NewPipeline(
		normalizer, store, fetcher, busSvc,
		feedMgr.Frames(), feedMgr.Status(), logger,
	)

	gateway := exec.NewGateway(cfg.Execution, store, apiClient, auditLog, busSvc, logger)

	registry := market.NewRegistry(market.Config{
		SyncInterval:   cfg.Discovery.Interval,
		LiveOnly:       cfg.Discovery.LiveOnly,
		MaxMarkets:     cfg.Discovery.MaxMarkets,
		ExcludeEsports: cfg.Discovery.ExcludeEsports,
	}, apiClient, logger)

	// UI server, started early so health reports sync progress.
	srv := server.New(cfg.Server, gateway, registry, store, busSvc, pinger(pool), logger)
	srv.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Stop(shutdownCtx)
	}()

	// Start the pipeline inside-out: consumers before producers.
	for _, s := range []struct {
		name  string
		start func(context.Context) error
	}{
		{"bus", busSvc.Start},
		{"resync fetcher", fetcher.Start},
		{"pipeline", pipeline.Start},
		{"feed manager", feedMgr.Start},
	} {
		if err := s.start(ctx); err != nil {
			logger.Error("failed to start component", "component", s.name, "error", err)
			os.Exit(1)
		}
	}

	// Bind discovery to the feed before the initial sync so buffered
	// change events drive the first subscriptions.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case change := <-registry.Changes():
				switch change.Type {
				case market.ChangeDiscovered:
					if err := feedMgr.Subscribe(change.MarketID); err != nil {
						logger.Error("subscribe failed", "market_id", change.MarketID, "error", err)
					}
				case market.ChangeDelisted:
					if err := feedMgr.Unsubscribe(change.MarketID); err != nil {
						logger.Warn("unsubscribe failed", "market_id", change.MarketID, "error", err)
					}
					store.Remove(change.MarketID)
					normalizer.Reset(change.MarketID)
				}
			}
		}
	})

	logger.Info("starting market discovery (initial sync)...")
	if err := registry.Start(ctx); err != nil {
		logger.Error("failed to start market discovery", "error", err)
		os.Exit(1)
	}

	logger.Info("trader running",
		"instance_id", cfg.Instance.ID,
		"active_markets", len(registry.ActiveMarkets()),
		"server_port", cfg.Server.Port,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Reverse of startup: producers first so consumers drain.
	registry.Stop(shutdownCtx)
	group.Wait()
	feedMgr.Stop(shutdownCtx)
	pipeline.Stop(shutdownCtx)
	fetcher.Stop(shutdownCtx)
	busSvc.Stop(shutdownCtx)

	logger.Info("trader stopped")
}

// pinger passes a typed nil pool through as an untyped nil so the health
// handler skips the database check.
func pinger(pool *pgxpool.Pool) server.Pinger {
	if pool == nil {
		return nil
	}
	return pool
}
