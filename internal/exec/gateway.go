// Package exec is the click-to-order gateway: it validates a click
// against the live book, signs and submits a fill-and-kill order, and
// classifies the outcome. A click token is submitted to the venue at most
// once, no matter how often the user retries.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/sports-trader/internal/api"
	"github.com/rickgao/sports-trader/internal/audit"
	"github.com/rickgao/sports-trader/internal/book"
	"github.com/rickgao/sports-trader/internal/config"
	"github.com/rickgao/sports-trader/internal/metrics"
	"github.com/rickgao/sports-trader/internal/model"
)

// Books is the read side of the book store the gateway validates against.
type Books interface {
	Snapshot(marketID string) (book.View, bool)
	BestPrice(marketID string, side model.BookSide) (price, size int, ok bool)
}

// Venue is the order endpoint of the REST client.
type Venue interface {
	SubmitOrder(ctx context.Context, sub api.OrderSubmission) (*api.OrderResponse, error)
	GetOrderStatus(ctx context.Context, clientOrderID string) (*api.OrderResponse, error)
}

// ResultSink receives every order result for dissemination to sessions.
type ResultSink interface {
	PublishOrderResult(res model.OrderResult)
}

// Gateway turns click intents into venue orders.
type Gateway struct {
	cfg    config.ExecutionConfig
	books  Books
	venue  Venue
	audit  audit.Log
	sink   ResultSink
	logger *slog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	results map[string]model.OrderResult  // terminal results by token
	pending map[string]model.OrderRequest // uncertain submissions awaiting reconciliation

	newOrderID func() string // swapped in tests
}

// NewGateway creates a gateway. sink may be nil.
func NewGateway(cfg config.ExecutionConfig, books Books, venue Venue, auditLog audit.Log, sink ResultSink, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:        cfg,
		books:      books,
		venue:      venue,
		audit:      auditLog,
		sink:       sink,
		logger:     logger,
		results:    make(map[string]model.OrderResult),
		pending:    make(map[string]model.OrderRequest),
		newOrderID: func() string { return uuid.NewString() },
	}
}

// Execute processes one click intent. Repeated calls with the same token
// return the recorded outcome instead of submitting again; concurrent
// calls with the same token collapse into a single submission.
func (g *Gateway) Execute(ctx context.Context, intent model.ClickIntent) (model.OrderResult, error) {
	if intent.Token == "" {
		return model.OrderResult{}, fmt.Errorf("intent token is required")
	}
	if !intent.Side.Valid() {
		return model.OrderResult{}, fmt.Errorf("invalid side %q", intent.Side)
	}

	if res, ok := g.cachedResult(intent.Token); ok {
		return res, nil
	}

	v, err, _ := g.flight.Do(intent.Token, func() (any, error) {
		// Double-check under the flight: a concurrent call may have
		// finished between the cache read and here.
		if res, ok := g.cachedResult(intent.Token); ok {
			return res, nil
		}
		return g.execute(ctx, intent)
	})
	if err != nil {
		return model.OrderResult{}, err
	}
	return v.(model.OrderResult), nil
}

// Result returns the recorded outcome for a token, if any.
func (g *Gateway) Result(token string) (model.OrderResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.results[token]
	return res, ok
}

func (g *Gateway) execute(ctx context.Context, intent model.ClickIntent) (model.OrderResult, error) {
	intent.Size = g.clampSize(intent.Size)
	if intent.ReceivedAt.IsZero() {
		intent.ReceivedAt = time.Now()
	}

	// An earlier submission with this token got no acknowledgment and is
	// awaiting reconciliation. The token must never reach the venue twice,
	// so the recorded uncertain outcome is returned as-is; only Reconcile
	// resolves it.
	g.mu.Lock()
	pendingReq, inFlight := g.pending[intent.Token]
	g.mu.Unlock()
	if inFlight {
		return model.OrderResult{
			Token:    pendingReq.Token,
			OrderID:  pendingReq.OrderID,
			MarketID: pendingReq.MarketID,
			Status:   model.OrderUncertain,
			Reason:   "awaiting reconciliation",
			TS:       time.Now(),
		}, nil
	}

	// A token already seen in a previous process run replays from the
	// audit log instead of reaching the venue again. A non-terminal row
	// surfaces as-is for the same reason as the pending case above.
	if g.audit != nil {
		if res, found, err := g.audit.LatestResult(ctx, intent.Token); err != nil {
			g.logger.Error("audit lookup failed", "token", intent.Token, "error", err)
		} else if found {
			if res.Status.Terminal() {
				g.mu.Lock()
				g.results[intent.Token] = res
				g.mu.Unlock()
			}
			return res, nil
		}
	}

	if g.audit != nil {
		if err := g.audit.RecordIntent(ctx, intent); err != nil {
			g.logger.Error("audit intent failed", "token", intent.Token, "error", err)
		}
	}

	best, res, rejected := g.validate(intent)
	if rejected {
		return g.finish(ctx, res), nil
	}

	req := g.buildRequest(intent, best)
	res = g.submit(ctx, intent, req)
	return g.finish(ctx, res), nil
}

// validate checks the intent against the current book. On success it
// returns the best contra price it validated against, so the order is
// priced off the same read and never a later, possibly stale one.
func (g *Gateway) validate(intent model.ClickIntent) (int, model.OrderResult, bool) {
	reject := func(reason string) (int, model.OrderResult, bool) {
		metrics.OrdersRejected.WithLabelValues(reason).Inc()
		g.logger.Info("click rejected",
			"token", intent.Token,
			"market", intent.MarketID,
			"reason", reason,
		)
		return 0, model.OrderResult{
			Token:    intent.Token,
			MarketID: intent.MarketID,
			Status:   model.OrderRejected,
			Reason:   reason,
			TS:       time.Now(),
		}, true
	}

	view, ok := g.books.Snapshot(intent.MarketID)
	if !ok {
		return reject(model.ReasonPriceUnavailable)
	}
	if view.Stale {
		return reject(model.ReasonStaleMarket)
	}

	best, _, ok := g.books.BestPrice(intent.MarketID, contraSide(intent.Side))
	if !ok {
		return reject(model.ReasonPriceUnavailable)
	}

	if intent.LimitPrice > 0 {
		if intent.Side == model.SideBuy && best > intent.LimitPrice {
			return reject(model.ReasonSlippageExceeded)
		}
		if intent.Side == model.SideSell && best < intent.LimitPrice {
			return reject(model.ReasonSlippageExceeded)
		}
	}

	return best, model.OrderResult{}, false
}

// buildRequest derives the venue order from the intent and the best price
// read at validation time. The limit price is marketable: the validated
// best plus the slippage allowance, bounded by the intent's own limit.
func (g *Gateway) buildRequest(intent model.ClickIntent, best int) model.OrderRequest {
	price := intent.LimitPrice
	if price == 0 {
		if intent.Side == model.SideBuy {
			price = best + g.cfg.DefaultSlippage
		} else {
			price = best - g.cfg.DefaultSlippage
		}
	}
	if price < 0 {
		price = 0
	}
	if price > model.PriceScale {
		price = model.PriceScale
	}

	return model.OrderRequest{
		OrderID:     g.newOrderID(),
		Token:       intent.Token,
		MarketID:    intent.MarketID,
		Side:        intent.Side,
		Price:       price,
		Size:        intent.Size,
		TimeInForce: model.TimeInForceFAK,
		CreatedTS:   time.Now().UnixMicro(),
	}
}

// submit sends the order once and classifies the outcome. Any failure
// without a definite venue response is uncertain, never retried.
func (g *Gateway) submit(ctx context.Context, intent model.ClickIntent, req model.OrderRequest) model.OrderResult {
	subCtx, cancel := context.WithTimeout(ctx, g.cfg.SubmitTimeout)
	defer cancel()

	resp, err := g.venue.SubmitOrder(subCtx, api.OrderSubmission{
		ClientOrderID: req.OrderID,
		TokenID:       req.MarketID,
		Side:          venueSide(req.Side),
		Price:         model.FormatPrice(req.Price),
		Size:          req.Size,
		TimeInForce:   req.TimeInForce,
	})
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			// Definite venue response: the order did not execute.
			status := model.OrderFailed
			if apiErr.StatusCode < 500 {
				status = model.OrderRejected
			}
			return model.OrderResult{
				Token:    req.Token,
				OrderID:  req.OrderID,
				MarketID: req.MarketID,
				Status:   status,
				Reason:   apiErr.Message,
				TS:       time.Now(),
			}
		}

		// No venue response: the order may or may not have matched.
		g.mu.Lock()
		g.pending[req.Token] = req
		g.mu.Unlock()
		g.logger.Warn("order outcome uncertain",
			"token", req.Token,
			"order_id", req.OrderID,
			"error", err,
		)
		return model.OrderResult{
			Token:    req.Token,
			OrderID:  req.OrderID,
			MarketID: req.MarketID,
			Status:   model.OrderUncertain,
			Reason:   "no acknowledgment before deadline",
			TS:       time.Now(),
		}
	}

	return resultFromResponse(req, resp)
}

// Reconcile resolves an uncertain order by querying the venue for the
// client order id. An order the venue never saw is recorded as failed.
func (g *Gateway) Reconcile(ctx context.Context, token string) (model.OrderResult, error) {
	g.mu.Lock()
	req, ok := g.pending[token]
	g.mu.Unlock()
	if !ok {
		if res, found := g.cachedResult(token); found {
			return res, nil
		}
		return model.OrderResult{}, fmt.Errorf("no pending order for token %s", token)
	}

	resp, err := g.venue.GetOrderStatus(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, api.ErrOrderNotFound) {
			res := model.OrderResult{
				Token:    req.Token,
				OrderID:  req.OrderID,
				MarketID: req.MarketID,
				Status:   model.OrderFailed,
				Reason:   "order never reached the venue",
				TS:       time.Now(),
			}
			return g.finish(ctx, res), nil
		}
		return model.OrderResult{}, fmt.Errorf("reconcile %s: %w", token, err)
	}

	return g.finish(ctx, resultFromResponse(req, resp)), nil
}

// finish records a result, audits it, and publishes it. Terminal results
// are cached so retried tokens report the same outcome.
func (g *Gateway) finish(ctx context.Context, res model.OrderResult) model.OrderResult {
	g.mu.Lock()
	if res.Status.Terminal() {
		g.results[res.Token] = res
		delete(g.pending, res.Token)
	}
	g.mu.Unlock()

	metrics.OrdersSubmitted.WithLabelValues(string(res.Status)).Inc()

	if g.audit != nil {
		if err := g.audit.RecordResult(ctx, res); err != nil {
			g.logger.Error("audit result failed", "token", res.Token, "error", err)
		}
	}
	if g.sink != nil {
		g.sink.PublishOrderResult(res)
	}

	g.logger.Info("order result",
		"token", res.Token,
		"order_id", res.OrderID,
		"market", res.MarketID,
		"status", res.Status,
		"filled", res.FilledSize,
	)
	return res
}

func (g *Gateway) cachedResult(token string) (model.OrderResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.results[token]
	return res, ok
}

func (g *Gateway) clampSize(size int) int {
	if size <= 0 {
		size = g.cfg.DefaultSize
	}
	if size < g.cfg.MinSize {
		size = g.cfg.MinSize
	}
	if g.cfg.MaxSize > 0 && size > g.cfg.MaxSize {
		size = g.cfg.MaxSize
	}
	return size
}

// resultFromResponse maps the venue's order status onto ours.
func resultFromResponse(req model.OrderRequest, resp *api.OrderResponse) model.OrderResult {
	filled := model.ParseSize(resp.FilledSize)

	var status model.OrderStatus
	switch resp.Status {
	case "matched":
		switch {
		case filled >= req.Size:
			status = model.OrderFilled
		case filled > 0:
			status = model.OrderPartial
		default:
			status = model.OrderKilled
		}
	case "killed", "unmatched":
		status = model.OrderKilled
	case "rejected":
		status = model.OrderRejected
	default:
		status = model.OrderFailed
	}

	return model.OrderResult{
		Token:      req.Token,
		OrderID:    req.OrderID,
		MarketID:   req.MarketID,
		Status:     status,
		FilledSize: filled,
		FillPrice:  model.ParsePrice(resp.AvgPrice),
		Reason:     resp.ErrorMsg,
		TS:         time.Now(),
	}
}

func contraSide(s model.Side) model.BookSide {
	if s == model.SideBuy {
		return model.BookAsk
	}
	return model.BookBid
}

func venueSide(s model.Side) string {
	if s == model.SideBuy {
		return "BUY"
	}
	return "SELL"
}
