package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/sports-trader/internal/feed"
	"github.com/rickgao/sports-trader/internal/metrics"
	"github.com/rickgao/sports-trader/internal/model"
)

// BookApplier receives canonical book updates.
type BookApplier interface {
	ApplySnapshot(snap model.BookSnapshot) uint64
	ApplyDelta(delta model.BookDelta) (uint64, error)
	MarkStale(marketID, reason string)
}

// ResyncRequester is asked for a fresh REST snapshot after a gap.
type ResyncRequester interface {
	Request(marketID string)
}

// StatusSink receives feed health events for UI display.
type StatusSink interface {
	PublishFeedStatus(st model.FeedStatus)
}

// PipelineStats contains runtime statistics.
type PipelineStats struct {
	FramesReceived int64
	Applied        int64
	Duplicates     int64
	Gaps           int64
	DecodeErrors   int64
}

// Pipeline pumps raw feed frames through the normalizer into the book
// store. On a sequence gap it flags the market stale and requests a fresh
// snapshot instead of patching the hole.
type Pipeline struct {
	logger *slog.Logger

	norm   *Normalizer
	books  BookApplier
	resync ResyncRequester
	sink   StatusSink

	frames <-chan feed.RawFrame
	status <-chan model.FeedStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats PipelineStats
}

// NewPipeline creates a pipeline over the given inputs.
func NewPipeline(
	norm *Normalizer,
	books BookApplier,
	resync ResyncRequester,
	sink StatusSink,
	frames <-chan feed.RawFrame,
	status <-chan model.FeedStatus,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger: logger,
		norm:   norm,
		books:  books,
		resync: resync,
		sink:   sink,
		frames: frames,
		status: status,
	}
}

// Start begins processing frames.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("normalize pipeline started")
	return nil
}

// Stop gracefully shuts down the pipeline.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("normalize pipeline stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("normalize pipeline stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case frame, ok := <-p.frames:
			if !ok {
				p.logger.Info("frame channel closed")
				return
			}
			p.handleFrame(frame)

		case st, ok := <-p.status:
			if !ok {
				return
			}
			if p.sink != nil {
				p.sink.PublishFeedStatus(st)
			}
			// A degraded connection's books need REST resyncs; fresh
			// websocket snapshots are no longer guaranteed to arrive.
			if st.State == model.FeedDegraded && p.resync != nil {
				for _, id := range st.Markets {
					p.resync.Request(id)
				}
			}
		}
	}
}

// handleFrame processes one raw frame, which may batch several messages.
func (p *Pipeline) handleFrame(frame feed.RawFrame) {
	p.mu.Lock()
	p.stats.FramesReceived++
	p.mu.Unlock()
	metrics.FramesReceived.Inc()

	trimmed := bytes.TrimSpace(frame.Data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			p.countDecodeError(frame.Venue, err)
			return
		}
		for _, item := range batch {
			p.handleMessage(frame, item)
		}
		return
	}

	p.handleMessage(frame, frame.Data)
}

func (p *Pipeline) handleMessage(frame feed.RawFrame, data []byte) {
	snap, delta, err := p.norm.Normalize(frame.Venue, data, frame.ReceivedAt)
	if err != nil {
		var gap *GapError
		var decodeErr *DecodeError

		switch {
		case errors.Is(err, ErrDuplicate):
			p.mu.Lock()
			p.stats.Duplicates++
			p.mu.Unlock()

		case errors.As(err, &gap):
			p.mu.Lock()
			p.stats.Gaps++
			p.mu.Unlock()
			metrics.SequenceGaps.Inc()

			p.logger.Warn("sequence gap, requesting resync",
				"market", gap.MarketID,
				"last_seq", gap.LastSeq,
				"got_seq", gap.GotSeq,
				"gap", gap.GapSize(),
			)
			p.books.MarkStale(gap.MarketID, "sequence gap")
			if p.resync != nil {
				p.resync.Request(gap.MarketID)
			}

		case errors.As(err, &decodeErr):
			p.countDecodeError(frame.Venue, err)

		default:
			p.logger.Warn("normalize error", "error", err)
		}
		return
	}

	switch {
	case snap != nil:
		p.books.ApplySnapshot(*snap)
		p.countApplied()
	case delta != nil:
		if _, err := p.books.ApplyDelta(*delta); err != nil {
			p.logger.Warn("apply delta failed", "market", delta.MarketID, "error", err)
			return
		}
		p.countApplied()
	}
}

func (p *Pipeline) countApplied() {
	p.mu.Lock()
	p.stats.Applied++
	p.mu.Unlock()
	metrics.BookUpdatesApplied.Inc()
}

func (p *Pipeline) countDecodeError(venue string, err error) {
	p.mu.Lock()
	p.stats.DecodeErrors++
	p.mu.Unlock()
	metrics.DecodeErrors.Inc()
	p.logger.Warn("dropping malformed frame", "venue", venue, "error", err)
}
