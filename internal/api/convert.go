package api

import (
	"time"

	"github.com/rickgao/sports-trader/internal/model"
)

// ParseTimestamp parses an ISO 8601 timestamp to microseconds since epoch.
// Returns 0 for empty or invalid input.
func ParseTimestamp(iso string) int64 {
	if iso == "" {
		return 0
	}

	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			return 0
		}
	}

	return t.UnixMicro()
}

// ToModel converts a catalog market to the internal representation.
func (m APIMarket) ToModel() model.Market {
	return model.Market{
		ID:        m.TokenID,
		EventID:   m.EventID,
		Venue:     "clob",
		Title:     m.Title,
		Outcome:   m.Outcome,
		Sport:     m.Sport,
		Live:      m.Live,
		Liquidity: int64(m.Liquidity),
		Volume:    int64(m.Volume),
		Status:    m.Status,
		CreatedTS: ParseTimestamp(m.CreatedTime),
		UpdatedAt: time.Now().UnixMicro(),
	}
}

// ToSnapshot converts a REST book response to a canonical snapshot.
func (b BookResponse) ToSnapshot(receivedAt time.Time) model.BookSnapshot {
	return model.BookSnapshot{
		MarketID:   b.AssetID,
		Seq:        b.Seq,
		Source:     "rest",
		Bids:       convertLevels(b.Bids),
		Asks:       convertLevels(b.Asks),
		ExchangeTS: b.Timestamp * 1000, // ms -> µs
		ReceivedAt: receivedAt,
	}
}

func convertLevels(in []APILevel) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(in))
	for _, l := range in {
		size := model.ParseSize(l.Size)
		if size == 0 {
			continue
		}
		out = append(out, model.PriceLevel{
			Price: model.ParsePrice(l.Price),
			Size:  size,
		})
	}
	return out
}
