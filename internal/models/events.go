package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types carried by BookEventEnvelope.
const (
	EventSnapshot  = "snapshot"
	EventEndUpdate = "end_update"
	EventNoUpdate  = "no_update"
)

// BookEventEnvelope is the standardized wrapper for book engine events.
type BookEventEnvelope struct {
	Type     string         `json:"type"`   // snapshot, end_update, no_update
	Feed     string         `json:"feed"`   // e.g., LMAX-EURUSD
	Symbol   string         `json:"symbol"` // e.g., EURUSD
	TsEvent  time.Time      `json:"ts_event"`
	Side     string         `json:"side,omitempty"` // bid, offer, trade
	UpdateID int64          `json:"update_id,omitempty"`
	Modified bool           `json:"modified,omitempty"`
	Levels   []LevelPayload `json:"levels,omitempty"`
	Trade    *TradePayload  `json:"trade,omitempty"`
}

// LevelPayload is one price level on the wire.
type LevelPayload struct {
	Price      int64           `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Orders     int             `json:"orders"`
	Aggregated bool            `json:"aggregated,omitempty"`
}

// TradePayload is the last trade on the wire.
type TradePayload struct {
	ID    string          `json:"id"`
	Price int64           `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Buy   bool            `json:"buy"`
	Ts    time.Time       `json:"ts"`
}

// Snapshot converts a snapshot envelope into a BookSnapshot.
func (e *BookEventEnvelope) Snapshot() (BookSnapshot, error) {
	if e.Type != EventSnapshot {
		return BookSnapshot{}, fmt.Errorf("envelope type %q is not a snapshot", e.Type)
	}
	side, err := ParseSide(e.Side)
	if err != nil {
		return BookSnapshot{}, err
	}

	snap := BookSnapshot{
		Feed:      e.Feed,
		Symbol:    e.Symbol,
		Side:      side,
		Timestamp: e.TsEvent,
	}
	if len(e.Levels) > 0 {
		snap.Levels = make([]PriceLevel, len(e.Levels))
		for i, l := range e.Levels {
			snap.Levels[i] = PriceLevel{
				Price:      l.Price,
				Size:       l.Size,
				Orders:     l.Orders,
				Depth:      i,
				Aggregated: l.Aggregated,
			}
		}
	}
	if e.Trade != nil {
		ts := e.Trade.Ts
		if ts.IsZero() {
			ts = e.TsEvent
		}
		snap.Trade = &Trade{
			ID:        e.Trade.ID,
			Price:     e.Trade.Price,
			Size:      e.Trade.Size,
			Buy:       e.Trade.Buy,
			Timestamp: ts,
		}
	}

	if err := ValidateSnapshot(snap); err != nil {
		return BookSnapshot{}, err
	}
	return snap, nil
}
