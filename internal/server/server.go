// Package server exposes the UI boundary: a JSON HTTP API for click
// submission and market listing, a websocket endpoint streaming coalesced
// book state and lossless order results, and health/metrics handlers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/sports-trader/internal/book"
	"github.com/rickgao/sports-trader/internal/bus"
	"github.com/rickgao/sports-trader/internal/config"
	"github.com/rickgao/sports-trader/internal/metrics"
	"github.com/rickgao/sports-trader/internal/model"
)

// Executor is the order entry surface the HTTP handlers call.
type Executor interface {
	Execute(ctx context.Context, intent model.ClickIntent) (model.OrderResult, error)
	Reconcile(ctx context.Context, token string) (model.OrderResult, error)
	Result(token string) (model.OrderResult, bool)
}

// MarketSource lists the tradeable market set.
type MarketSource interface {
	ActiveMarkets() []model.Market
	GetMarket(marketID string) (model.Market, bool)
}

// BookSource reads current book state for the REST book endpoint and
// health reporting.
type BookSource interface {
	Snapshot(marketID string) (book.View, bool)
	Markets() []string
	StaleMarkets() []string
}

// Hub hands out dissemination sessions for websocket clients.
type Hub interface {
	Attach() *bus.Session
}

// Pinger is the audit store liveness probe. Nil when auditing is in-memory.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the UI-facing HTTP server.
type Server struct {
	cfg      config.ServerConfig
	gateway  Executor
	markets  MarketSource
	books    BookSource
	hub      Hub
	db       Pinger
	logger   *slog.Logger
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New builds a Server. db may be nil when no durable audit store is
// configured.
func New(cfg config.ServerConfig, gateway Executor, markets MarketSource, books BookSource, hub Hub, db Pinger, logger *slog.Logger) *Server {
	s := Server{
		cfg:     cfg,
		gateway: gateway,
		markets: markets,
		books:   books,
		hub:     hub,
		db:      db,
		logger:  logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 65536,
			// Local trading UI; same-machine clients only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/orders/{token}", s.handleOrderResult)
	mux.HandleFunc("POST /api/orders/{token}/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /api/markets", s.handleMarkets)
	mux.HandleFunc("GET /api/books/{market}", s.handleBook)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /health", s.handleHealth)

	metricsPath := s.cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, metrics.Handler())
	return mux
}

// Start begins serving in the background. The listener error, if any,
// surfaces in the log; startup itself does not block.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// -----------------------------------------------------------------------------
// Order entry
// -----------------------------------------------------------------------------

// orderRequest is the click submission wire format. Prices are decimal
// dollar strings to match the venue's representation.
type orderRequest struct {
	Token      string `json:"token"`
	MarketID   string `json:"market_id"`
	Side       string `json:"side"`
	Size       int    `json:"size"`
	LimitPrice string `json:"limit_price,omitempty"`
}

// orderResultJSON is the outcome wire format.
type orderResultJSON struct {
	Token      string    `json:"token"`
	OrderID    string    `json:"order_id,omitempty"`
	MarketID   string    `json:"market_id"`
	Status     string    `json:"status"`
	FilledSize int       `json:"filled_size"`
	FillPrice  string    `json:"fill_price,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	TS         time.Time `json:"ts"`
}

func resultJSON(res model.OrderResult) orderResultJSON {
	out := orderResultJSON{
		Token:      res.Token,
		OrderID:    res.OrderID,
		MarketID:   res.MarketID,
		Status:     string(res.Status),
		FilledSize: res.FilledSize,
		Reason:     res.Reason,
		TS:         res.TS,
	}
	if res.FillPrice > 0 {
		out.FillPrice = model.FormatPrice(res.FillPrice)
	}
	return out
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}
	side := model.Side(strings.ToLower(req.Side))
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid side %q", req.Side))
		return
	}

	limit := 0
	if req.LimitPrice != "" {
		limit = model.ParsePrice(req.LimitPrice)
		if limit <= 0 || limit >= model.PriceScale {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit_price %q", req.LimitPrice))
			return
		}
	}

	intent := model.ClickIntent{
		Token:      req.Token,
		MarketID:   req.MarketID,
		Side:       side,
		Size:       req.Size,
		LimitPrice: limit,
		ReceivedAt: time.Now(),
	}

	res, err := s.gateway.Execute(r.Context(), intent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resultJSON(res))
}

func (s *Server) handleOrderResult(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	res, ok := s.gateway.Result(token)
	if !ok {
		writeError(w, http.StatusNotFound, "no result for token")
		return
	}
	writeJSON(w, http.StatusOK, resultJSON(res))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	res, err := s.gateway.Reconcile(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resultJSON(res))
}

// -----------------------------------------------------------------------------
// Markets and books
// -----------------------------------------------------------------------------

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	active := s.markets.ActiveMarkets()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(active),
		"markets": active,
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("market")
	view, ok := s.books.Snapshot(marketID)
	if !ok {
		writeError(w, http.StatusNotFound, "no book for market")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// -----------------------------------------------------------------------------
// Websocket dissemination
// -----------------------------------------------------------------------------

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := s.hub.Attach()
	logger := s.logger.With("session_id", sess.ID())
	logger.Info("websocket session opened", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer conn.Close()
	defer sess.Close()

	// Reader: the UI sends nothing we act on, but reading drives close
	// and ping/pong handling.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Info("websocket session closed", "reason", "ping failed")
				return
			}
		default:
		}

		events, err := s.nextBatch(ctx, sess)
		if err != nil {
			logger.Info("websocket session closed", "reason", err.Error())
			return
		}
		if len(events) == 0 {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(events); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// nextBatch waits for events but wakes periodically so the ping ticker
// is serviced on idle sessions.
func (s *Server) nextBatch(ctx context.Context, sess *bus.Session) ([]bus.Event, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wsPingInterval)
	defer cancel()

	events, err := sess.Next(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}
	return events, nil
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["audit_db"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["audit_db"] = "connected"
		}
	}

	active := s.markets.ActiveMarkets()
	health.Components["market_registry"] = map[string]any{
		"active_markets": len(active),
	}
	if len(active) == 0 && health.Status == "healthy" {
		health.Status = "degraded"
	}

	stale := s.books.StaleMarkets()
	health.Components["book_store"] = map[string]any{
		"markets":       len(s.books.Markets()),
		"stale_markets": len(stale),
	}
	if len(stale) > 0 && health.Status == "healthy" {
		health.Status = "degraded"
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
