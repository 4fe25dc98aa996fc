package aggregator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketviews/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC)

type collector struct {
	mu        sync.Mutex
	results   []Result
	noUpdates []int64
	err       error
}

func (c *collector) OnResult(r Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return c.err
}

func (c *collector) OnNoUpdate(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noUpdates = append(c.noUpdates, id)
	return nil
}

func (c *collector) all() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

func (c *collector) last() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.results) == 0 {
		return Result{}
	}
	return c.results[len(c.results)-1]
}

func subscribe(a Aggregator) *collector {
	c := &collector{}
	a.Subscribe(c)
	return c
}

func lv(price int64, size string, orders int) models.PriceLevel {
	return models.PriceLevel{Price: price, Size: decimal.RequireFromString(size), Orders: orders}
}

func snap(side models.Side, ts time.Time, levels ...models.PriceLevel) models.BookSnapshot {
	return models.BookSnapshot{
		Feed:      "F1",
		Symbol:    "EURUSD",
		Side:      side,
		Levels:    levels,
		Timestamp: ts,
	}
}

func tradeSnap(id string, price int64, buy bool, ts time.Time) models.BookSnapshot {
	s := snap(models.SideTrade, ts)
	s.Trade = &models.Trade{ID: id, Price: price, Size: decimal.NewFromInt(1), Buy: buy, Timestamp: ts}
	return s
}

func props(values map[string]string) Props {
	return NewProps(values, Deps{})
}

// round delivers a bid and an offer top at ts and closes the round with id.
func round(a Aggregator, id int64, ts time.Time, bid, offer int64) error {
	var bids, offers []models.PriceLevel
	if bid > 0 {
		bids = []models.PriceLevel{lv(bid, "1", 1)}
	}
	if offer > 0 {
		offers = []models.PriceLevel{lv(offer, "1", 1)}
	}
	if err := a.OnSnapshot(snap(models.SideBid, ts, bids...)); err != nil {
		return err
	}
	if err := a.OnSnapshot(snap(models.SideOffer, ts, offers...)); err != nil {
		return err
	}
	if err := a.OnEndUpdate(models.SideBid, id, true); err != nil {
		return err
	}
	return a.OnEndUpdate(models.SideOffer, id, true)
}
