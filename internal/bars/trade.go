package bars

import (
	"time"

	"marketviews/internal/models"
)

// TradeCalculator builds bars from trades. It combines a Calculator with
// per-bar trade statistics and ignores a trade id it has just applied.
type TradeCalculator struct {
	bars        *Calculator
	stats       models.TradeStats
	lastTradeID string
}

// NewTradeCalculator creates a trade bar calculator.
func NewTradeCalculator(timeFrame, offset time.Duration) (*TradeCalculator, error) {
	c, err := NewCalculator(timeFrame, offset)
	if err != nil {
		return nil, err
	}
	return &TradeCalculator{bars: c}, nil
}

// SetMeta sets the feed and symbol stamped on new bars.
func (t *TradeCalculator) SetMeta(feed, symbol string) { t.bars.SetMeta(feed, symbol) }

// TimeFrame returns the bar length in seconds.
func (t *TradeCalculator) TimeFrame() int64 { return t.bars.TimeFrame() }

// BucketStart returns the bucket start for ts.
func (t *TradeCalculator) BucketStart(ts time.Time) int64 { return t.bars.BucketStart(ts) }

// Expired reports whether ts is past the current bar.
func (t *TradeCalculator) Expired(ts time.Time) bool { return t.bars.Expired(ts) }

// Seen reports whether tr is the trade applied last.
func (t *TradeCalculator) Seen(tr models.Trade) bool {
	return tr.ID != "" && tr.ID == t.lastTradeID
}

// Update applies a trade. It returns false without error when the trade id
// repeats the last applied one.
func (t *TradeCalculator) Update(tr models.Trade) (bool, error) {
	if t.Seen(tr) {
		return false, nil
	}
	if err := t.bars.Update(tr.Timestamp, tr.Price); err != nil {
		return false, err
	}

	s := &t.stats
	s.Count++
	if tr.Buy {
		s.BuyCount++
		s.BuyCumPrice += tr.Price
		s.AvgBuyPrice = s.BuyCumPrice / int64(s.BuyCount)
	} else {
		s.SellCount++
		s.SellCumPrice += tr.Price
		s.AvgSellPrice = s.SellCumPrice / int64(s.SellCount)
	}
	s.BuySellRatio = 0
	if s.SellCount > 0 {
		s.BuySellRatio = float64(s.BuyCount) / float64(s.SellCount)
	}
	s.LastTradeID = tr.ID
	t.lastTradeID = tr.ID
	return true, nil
}

// Current returns a copy of the bar with its trade statistics.
func (t *TradeCalculator) Current() (models.OHLCBar, bool) {
	b, ok := t.bars.Current()
	if !ok {
		return b, false
	}
	stats := t.stats
	b.Trades = &stats
	return b, true
}

// Close closes the current bar.
func (t *TradeCalculator) Close(ts time.Time, timeout bool) error {
	return t.bars.Close(ts, timeout)
}

// Restore replaces the current bar and its statistics with bar.
func (t *TradeCalculator) Restore(bar models.OHLCBar) {
	t.bars.Restore(bar)
	t.stats = models.TradeStats{}
	if bar.Trades != nil {
		t.stats = *bar.Trades
		t.lastTradeID = bar.Trades.LastTradeID
	}
}

// Reset drops the current bar and its statistics. The last trade id is kept
// so a trade repeated across a bar boundary is still ignored.
func (t *TradeCalculator) Reset() {
	t.bars.Reset()
	t.stats = models.TradeStats{}
}
