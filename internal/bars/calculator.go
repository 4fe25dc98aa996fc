// Package bars accumulates prices and trades into time-bucketed OHLC bars.
//
// A Calculator owns at most one bar. It never decides on its own that a bar
// has ended; callers detect boundary crossings or timeouts, call Close, and
// Reset before the next Update opens a fresh bar.
package bars

import (
	"errors"
	"fmt"
	"time"

	"marketviews/internal/models"
)

var (
	// ErrBarClosed is returned when a closed bar receives an update or a second close.
	ErrBarClosed = errors.New("bar is closed")
	// ErrNoBar is returned when closing a calculator that has no bar.
	ErrNoBar = errors.New("no open bar")
)

// Calculator accumulates prices into one bar of a fixed timeframe and offset.
type Calculator struct {
	timeFrame int64 // seconds
	offset    int64 // seconds
	feed      string
	symbol    string
	bar       *models.OHLCBar
}

// NewCalculator creates a calculator. timeFrame is truncated to whole seconds
// and must be at least one second.
func NewCalculator(timeFrame, offset time.Duration) (*Calculator, error) {
	tf := int64(timeFrame / time.Second)
	if tf < 1 {
		return nil, fmt.Errorf("time frame must be at least 1s, got %s", timeFrame)
	}
	return &Calculator{
		timeFrame: tf,
		offset:    int64(offset / time.Second),
	}, nil
}

// SetMeta sets the feed and symbol stamped on bars opened from now on.
func (c *Calculator) SetMeta(feed, symbol string) {
	c.feed = feed
	c.symbol = symbol
}

// TimeFrame returns the bar length in seconds.
func (c *Calculator) TimeFrame() int64 {
	return c.timeFrame
}

// BucketStart returns the unix second at which the bucket containing ts starts.
func (c *Calculator) BucketStart(ts time.Time) int64 {
	sec := ts.Unix() - c.offset
	q := sec / c.timeFrame
	if sec%c.timeFrame != 0 && sec < 0 {
		q--
	}
	return q*c.timeFrame + c.offset
}

// Current returns a copy of the bar, if any.
func (c *Calculator) Current() (models.OHLCBar, bool) {
	if c.bar == nil {
		return models.OHLCBar{}, false
	}
	return c.bar.Clone(), true
}

// Expired reports whether ts falls at or after the end of the current bar.
func (c *Calculator) Expired(ts time.Time) bool {
	if c.bar == nil {
		return false
	}
	return !ts.Before(c.bar.End())
}

// Update applies price observed at ts. With no bar it opens one; a closed bar
// rejects the update with ErrBarClosed.
func (c *Calculator) Update(ts time.Time, price int64) error {
	if c.bar == nil {
		p := models.PricePoint{Price: price, Timestamp: ts}
		c.bar = &models.OHLCBar{
			ID:         c.BucketStart(ts),
			Feed:       c.feed,
			Symbol:     c.symbol,
			TimeFrame:  c.timeFrame,
			Open:       p,
			High:       p,
			Low:        p,
			Close:      p,
			Typical:    price,
			JustOpened: true,
		}
		return nil
	}

	b := c.bar
	if b.Closed {
		return fmt.Errorf("update bar %d: %w", b.ID, ErrBarClosed)
	}

	p := models.PricePoint{Price: price, Timestamp: ts}
	if price > b.High.Price {
		b.High = p
	}
	if price < b.Low.Price {
		b.Low = p
	}
	b.Close = p
	b.Typical = (b.High.Price + b.Low.Price + b.Close.Price) / 3
	b.Size = b.Close.Price - b.Open.Price
	b.JustOpened = false
	return nil
}

// Close marks the bar closed at ts. timeout distinguishes timer-driven closes
// from closes detected on incoming data.
func (c *Calculator) Close(ts time.Time, timeout bool) error {
	if c.bar == nil {
		return ErrNoBar
	}
	if c.bar.Closed {
		return fmt.Errorf("close bar %d: %w", c.bar.ID, ErrBarClosed)
	}
	c.bar.Closed = true
	c.bar.ClosedAt = ts
	c.bar.JustOpened = false
	if timeout {
		c.bar.CloseReason = models.CloseTimeout
	} else {
		c.bar.CloseReason = models.CloseData
	}
	return nil
}

// Restore replaces the current bar with a copy of bar, e.g. one read back from history.
func (c *Calculator) Restore(bar models.OHLCBar) {
	b := bar.Clone()
	b.JustOpened = false
	b.Trades = nil
	c.bar = &b
}

// Reset drops the current bar.
func (c *Calculator) Reset() {
	c.bar = nil
}
