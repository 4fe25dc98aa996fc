package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book (or the trade channel) an event belongs to.
type Side int8

const (
	SideBid Side = iota
	SideOffer
	SideTrade
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideOffer:
		return "offer"
	case SideTrade:
		return "trade"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

// ParseSide parses the wire representation of a side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy":
		return SideBid, nil
	case "offer", "ask", "sell":
		return SideOffer, nil
	case "trade":
		return SideTrade, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// MarshalText renders the side as its wire name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the wire name of a side.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PriceLevel is one aggregated level of a book side.
// Prices are scaled integers; sizes keep full decimal precision.
type PriceLevel struct {
	Price      int64           `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Orders     int             `json:"orders"`
	Depth      int             `json:"depth"`
	Aggregated bool            `json:"aggregated"`
}

// Equal reports whether two levels carry the same price, size and order count.
func (l PriceLevel) Equal(o PriceLevel) bool {
	return l.Price == o.Price && l.Orders == o.Orders && l.Size.Equal(o.Size)
}

// Trade is the last trade reported alongside a snapshot.
type Trade struct {
	ID        string          `json:"id"`
	Price     int64           `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Buy       bool            `json:"buy"` // aggressor was the buyer
	Timestamp time.Time       `json:"ts"`
}

// BookSnapshot is one delivery of a book side, best price first.
type BookSnapshot struct {
	Feed      string       `json:"feed"`
	Symbol    string       `json:"symbol"`
	Side      Side         `json:"side"`
	Levels    []PriceLevel `json:"levels"`
	Trade     *Trade       `json:"trade,omitempty"`
	Timestamp time.Time    `json:"ts"`
}

// Top returns the best level of the snapshot.
func (s BookSnapshot) Top() (PriceLevel, bool) {
	if len(s.Levels) == 0 {
		return PriceLevel{}, false
	}
	return s.Levels[0], true
}

// CloneLevels returns a copy of levels that shares no backing array with the input.
func CloneLevels(levels []PriceLevel) []PriceLevel {
	if levels == nil {
		return nil
	}
	out := make([]PriceLevel, len(levels))
	copy(out, levels)
	return out
}

func cloneTrade(t *Trade) *Trade {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneLevel(l *PriceLevel) *PriceLevel {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
