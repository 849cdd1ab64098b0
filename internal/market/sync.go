package market

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rickgao/sports-trader/internal/api"
	"github.com/rickgao/sports-trader/internal/model"
)

// esports catalog labels, excluded from selection when configured.
var esportsLabels = map[string]struct{}{
	"esports":  {},
	"csgo":     {},
	"cs2":      {},
	"dota2":    {},
	"lol":      {},
	"valorant": {},
}

func isEsports(sport string) bool {
	s := strings.ToLower(sport)
	if _, ok := esportsLabels[s]; ok {
		return true
	}
	return strings.Contains(s, "esport")
}

// syncLoop periodically re-syncs against the catalog.
func (r *registryImpl) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sync(ctx); err != nil {
				r.logger.Error("catalog sync failed", "error", err)
			}
		}
	}
}

// sync fetches the catalog, selects tradeable markets, and emits
// discovered/updated/delisted changes against the previous selection.
func (r *registryImpl) sync(ctx context.Context) error {
	start := time.Now()

	apiMarkets, err := r.catalog.GetAllMarkets(ctx, api.GetMarketsOptions{
		Live:   r.cfg.LiveOnly,
		Status: "active",
	})
	if err != nil {
		return err
	}

	selected := r.selectMarkets(apiMarkets)

	var discovered, updated, delisted int

	r.state.mu.Lock()
	seen := make(map[string]struct{}, len(selected))
	for _, m := range selected {
		seen[m.ID] = struct{}{}

		existing, ok := r.state.markets[m.ID]
		if !ok {
			r.state.upsertMarketLocked(m)
			mCopy := m
			r.state.notifyChange(Change{MarketID: m.ID, Type: ChangeDiscovered, Market: &mCopy})
			discovered++
			continue
		}

		if existing.Status != m.Status || existing.Live != m.Live {
			r.state.upsertMarketLocked(m)
			mCopy := m
			r.state.notifyChange(Change{MarketID: m.ID, Type: ChangeUpdated, Market: &mCopy})
			updated++
			continue
		}
		// Quietly refresh liquidity and volume.
		r.state.upsertMarketLocked(m)
	}

	// Markets that fell out of the selection are delisted.
	for id := range r.state.markets {
		if _, ok := seen[id]; ok {
			continue
		}
		r.state.removeMarketLocked(id)
		r.state.notifyChange(Change{MarketID: id, Type: ChangeDelisted})
		delisted++
	}
	r.state.lastSyncAt = time.Now()
	total := len(r.state.markets)
	r.state.mu.Unlock()

	if discovered > 0 || updated > 0 || delisted > 0 {
		r.logger.Info("catalog sync found changes",
			"discovered", discovered,
			"updated", updated,
			"delisted", delisted,
			"selected", total,
			"duration", time.Since(start),
		)
	} else {
		r.logger.Debug("catalog sync complete",
			"selected", total,
			"duration", time.Since(start),
		)
	}
	return nil
}

// selectMarkets filters and ranks the raw catalog into the tradeable
// selection: tradeable status, optionally live and non-esports, ranked by
// liquidity plus volume, capped at MaxMarkets.
func (r *registryImpl) selectMarkets(apiMarkets []api.APIMarket) []model.Market {
	selected := make([]model.Market, 0, len(apiMarkets))
	for _, am := range apiMarkets {
		m := am.ToModel()
		if !m.Tradeable() {
			continue
		}
		if r.cfg.LiveOnly && !m.Live {
			continue
		}
		if r.cfg.ExcludeEsports && isEsports(m.Sport) {
			continue
		}
		selected = append(selected, m)
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Liquidity+selected[i].Volume > selected[j].Liquidity+selected[j].Volume
	})

	if r.cfg.MaxMarkets > 0 && len(selected) > r.cfg.MaxMarkets {
		selected = selected[:r.cfg.MaxMarkets]
	}
	return selected
}
