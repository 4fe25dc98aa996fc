package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UpdateStatus records which sides of a quote changed during the current round.
type UpdateStatus int8

const (
	StatusNothing UpdateStatus = iota
	StatusBidOnly
	StatusOfferOnly
	StatusBoth
)

func (s UpdateStatus) String() string {
	switch s {
	case StatusBidOnly:
		return "bid_only"
	case StatusOfferOnly:
		return "offer_only"
	case StatusBoth:
		return "both"
	default:
		return "nothing"
	}
}

// MarshalText renders the status by name.
func (s UpdateStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Advance folds a change on side into the status.
func (s UpdateStatus) Advance(side Side) UpdateStatus {
	switch side {
	case SideBid:
		switch s {
		case StatusNothing:
			return StatusBidOnly
		case StatusOfferOnly:
			return StatusBoth
		}
	case SideOffer:
		switch s {
		case StatusNothing:
			return StatusOfferOnly
		case StatusBidOnly:
			return StatusBoth
		}
	}
	return s
}

// TopQuote is the merged best bid, best offer and last trade of a feed.
type TopQuote struct {
	Feed       string       `json:"feed"`
	Symbol     string       `json:"symbol"`
	SnapshotID int64        `json:"snapshot_id"`
	Bid        *PriceLevel  `json:"bid,omitempty"`
	Offer      *PriceLevel  `json:"offer,omitempty"`
	Trade      *Trade       `json:"trade,omitempty"`
	Status     UpdateStatus `json:"status"`
	Timestamp  time.Time    `json:"ts"`
}

// Clone returns a deep copy of the quote.
func (q TopQuote) Clone() TopQuote {
	q.Bid = cloneLevel(q.Bid)
	q.Offer = cloneLevel(q.Offer)
	q.Trade = cloneTrade(q.Trade)
	return q
}

// Mid is the integer-truncated mid price; 0 when either side is absent.
func (q TopQuote) Mid() int64 {
	if q.Bid == nil || q.Offer == nil {
		return 0
	}
	return Mid(q.Bid.Price, q.Offer.Price)
}

// Mid averages two prices with integer truncation, returning 0 if either is 0.
func Mid(bid, offer int64) int64 {
	if bid == 0 || offer == 0 {
		return 0
	}
	return (bid + offer) / 2
}

// WeightKind distinguishes volume from order-count weighting.
type WeightKind int8

const (
	WeightVolume WeightKind = iota
	WeightOrders
)

func (k WeightKind) String() string {
	if k == WeightOrders {
		return "owap"
	}
	return "vwap"
}

// MarshalText renders the kind by name.
func (k WeightKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// WeightedPrice is one side of a VWAP or OWAP computation.
type WeightedPrice struct {
	Feed       string          `json:"feed"`
	Symbol     string          `json:"symbol"`
	Kind       WeightKind      `json:"kind"`
	Side       Side            `json:"side"`
	Price      int64           `json:"price"`
	Weight     decimal.Decimal `json:"weight"`
	Depth      int             `json:"depth"`
	SnapshotID int64           `json:"snapshot_id"`
	Timestamp  time.Time       `json:"ts"`
}

// Present reports whether the side carried any weight.
func (w WeightedPrice) Present() bool {
	return w.Price != 0 && w.Weight.IsPositive()
}
