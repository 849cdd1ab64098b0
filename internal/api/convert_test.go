package api

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"rfc3339", "2026-08-30T12:00:00Z", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC).UnixMicro()},
		{"no timezone", "2026-08-30T12:00:00", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC).UnixMicro()},
		{"empty", "", 0},
		{"garbage", "not-a-time", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseTimestamp(tt.input); got != tt.want {
				t.Errorf("ParseTimestamp(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestAPIMarket_ToModel(t *testing.T) {
	m := APIMarket{
		TokenID:     "t1",
		EventID:     "e1",
		Title:       "Lakers vs Celtics",
		Outcome:     "Lakers",
		Sport:       "nba",
		Status:      "active",
		Live:        true,
		Liquidity:   12000.5,
		Volume:      54000.9,
		CreatedTime: "2026-08-30T10:00:00Z",
	}

	got := m.ToModel()
	if got.ID != "t1" || got.EventID != "e1" || got.Venue != "clob" {
		t.Errorf("identity fields = %+v", got)
	}
	// The catalog reports dollar amounts as floats; ranking wants whole
	// dollars.
	if got.Liquidity != 12000 || got.Volume != 54000 {
		t.Errorf("Liquidity/Volume = %d/%d, want 12000/54000", got.Liquidity, got.Volume)
	}
	if got.UpdatedAt == 0 {
		t.Error("UpdatedAt not stamped")
	}
	if !got.Live || got.Sport != "nba" {
		t.Errorf("sport fields = %+v", got)
	}
	if got.CreatedTS == 0 {
		t.Error("CreatedTS not parsed")
	}
	if !got.Tradeable() {
		t.Error("active live market should be tradeable")
	}
}
