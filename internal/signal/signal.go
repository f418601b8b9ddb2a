// Package signal defines the inbound trading signal, its JSON wire
// shape, and ingest-time normalization (instrument parsing, decimal
// coercion, entry-time offset assignment).
package signal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
)

// Instrument identifies a tradeable instrument as ticker + class code,
// accepted on the wire either as "TICKER@CLASS" or as an object.
type Instrument struct {
	Ticker string `json:"ticker"`
	Class  string `json:"class_code"`
}

func (i Instrument) String() string {
	if i.Class == "" {
		return i.Ticker
	}
	return i.Ticker + "@" + i.Class
}

func (i *Instrument) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parts := strings.SplitN(s, "@", 2)
		i.Ticker = parts[0]
		if len(parts) == 2 {
			i.Class = parts[1]
		}
		return nil
	}

	type alias Instrument
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("instrument: must be \"TICKER@CLASS\" string or {ticker, class_code} object: %w", err)
	}
	*i = Instrument(a)
	return nil
}

const naiveTimeLayout = "2006-01-02T15:04:05"

// EntryTime is an ISO-8601 timestamp that may arrive without a UTC
// offset. A naive value is tagged so the ingest path can assign the
// server's local offset, per spec §9.
type EntryTime struct {
	time.Time
	naive bool
}

func (t *EntryTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		t.Time, t.naive = parsed, false
		return nil
	}
	parsed, err := time.ParseInLocation(naiveTimeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("entry_time: want RFC3339 or %q: %w", naiveTimeLayout, err)
	}
	t.Time, t.naive = parsed, true
	return nil
}

// Normalize reassigns a naive EntryTime's offset to loc.
func (t *EntryTime) Normalize(loc *time.Location) {
	if t == nil || !t.naive {
		return
	}
	t.Time = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	t.naive = false
}

// Signal is one inbound position-intent instruction (spec §3).
type Signal struct {
	ID                     string                `json:"signal_id"`
	ReceivedAt             time.Time             `json:"-"`
	Position               broker.PositionIntent `json:"position" binding:"required,oneof=long short flat"`
	Instrument             Instrument            `json:"instrument" binding:"required"`
	EntryPrice             *decimal.Decimal      `json:"entry_price,omitempty"`
	EntryTime              *EntryTime            `json:"entry_time,omitempty"`
	StopPrice              *decimal.Decimal      `json:"stop_price,omitempty"`
	LimitPrice             *decimal.Decimal      `json:"limit_price,omitempty"`
	ReserveCapital         decimal.Decimal       `json:"reserve_capital"`
	CapitalLeveragePercent decimal.Decimal       `json:"capital_leverage_percent"`
}

// NewID generates a fresh opaque signal id.
func NewID() string {
	return uuid.NewString()
}

// ApplyDefaults fills ID/ReceivedAt/leverage defaults per spec §3
// ("default: freshly generated unique string" / "default 100").
func (s *Signal) ApplyDefaults(now time.Time) {
	if s.ID == "" {
		s.ID = NewID()
	}
	s.ReceivedAt = now
	if s.CapitalLeveragePercent.IsZero() {
		s.CapitalLeveragePercent = decimal.NewFromInt(100)
	}
	s.EntryTime.Normalize(now.Location())
}
