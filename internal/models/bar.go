package models

import "time"

// CloseReason records why a bar was closed.
type CloseReason int8

const (
	CloseNone CloseReason = iota
	CloseTimeout
	CloseData
)

func (r CloseReason) String() string {
	switch r {
	case CloseTimeout:
		return "timeout"
	case CloseData:
		return "data"
	default:
		return "none"
	}
}

// MarshalText renders the reason by name.
func (r CloseReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a reason name; unknown names map to CloseNone.
func (r *CloseReason) UnmarshalText(b []byte) error {
	switch string(b) {
	case "timeout":
		*r = CloseTimeout
	case "data":
		*r = CloseData
	default:
		*r = CloseNone
	}
	return nil
}

// PricePoint is a price together with the source time it was observed at.
type PricePoint struct {
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"ts"`
}

// TradeStats are the per-bar statistics of a trade-derived bar.
type TradeStats struct {
	Count        int     `json:"count"`
	BuyCount     int     `json:"buy_count"`
	SellCount    int     `json:"sell_count"`
	BuyCumPrice  int64   `json:"buy_cum_price"`
	SellCumPrice int64   `json:"sell_cum_price"`
	AvgBuyPrice  int64   `json:"avg_buy_price"`
	AvgSellPrice int64   `json:"avg_sell_price"`
	BuySellRatio float64 `json:"buy_sell_ratio"`
	LastTradeID  string  `json:"last_trade_id,omitempty"`
}

// OHLCBar is an open/high/low/close summary of one timeframe bucket.
// ID is the bucket start in unix seconds.
type OHLCBar struct {
	ID          int64       `json:"id"`
	Feed        string      `json:"feed"`
	Symbol      string      `json:"symbol"`
	TimeFrame   int64       `json:"time_frame"` // seconds
	Open        PricePoint  `json:"open"`
	High        PricePoint  `json:"high"`
	Low         PricePoint  `json:"low"`
	Close       PricePoint  `json:"close"`
	Typical     int64       `json:"typical"`
	Size        int64       `json:"size"`
	Closed      bool        `json:"closed"`
	CloseReason CloseReason `json:"close_reason"`
	ClosedAt    time.Time   `json:"closed_at,omitempty"`
	JustOpened  bool        `json:"just_opened"`
	Trades      *TradeStats `json:"trades,omitempty"`
}

// Clone returns a deep copy of the bar.
func (b OHLCBar) Clone() OHLCBar {
	if b.Trades != nil {
		t := *b.Trades
		b.Trades = &t
	}
	return b
}

// Start is the bucket start time.
func (b OHLCBar) Start() time.Time {
	return time.Unix(b.ID, 0).UTC()
}

// End is the exclusive bucket end time.
func (b OHLCBar) End() time.Time {
	return b.Start().Add(time.Duration(b.TimeFrame) * time.Second)
}

// BarUpdate is what bar aggregators publish: the bar, the quote that drove it
// and the timeframe label it was configured with.
type BarUpdate struct {
	TimeFrame string   `json:"time_frame"`
	Bar       OHLCBar  `json:"bar"`
	Quote     TopQuote `json:"quote"`
}

// Clone returns a deep copy of the update.
func (u BarUpdate) Clone() BarUpdate {
	u.Bar = u.Bar.Clone()
	u.Quote = u.Quote.Clone()
	return u
}

// ComplexOHLCBar pairs a generic bar and a trade bar of the same timeframe.
type ComplexOHLCBar struct {
	TimeFrame string     `json:"time_frame"`
	Generic   *BarUpdate `json:"generic,omitempty"`
	Trade     *BarUpdate `json:"trade,omitempty"`
}

// Complete reports whether both legs have been observed.
func (c ComplexOHLCBar) Complete() bool {
	return c.Generic != nil && c.Trade != nil
}

// Clone returns a deep copy of the pair.
func (c ComplexOHLCBar) Clone() ComplexOHLCBar {
	if c.Generic != nil {
		g := c.Generic.Clone()
		c.Generic = &g
	}
	if c.Trade != nil {
		t := c.Trade.Clone()
		c.Trade = &t
	}
	return c
}
