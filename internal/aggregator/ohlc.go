package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketviews/internal/bars"
	"marketviews/internal/history"
	"marketviews/internal/models"
)

// Price sources for generic bars.
const (
	PriceMid   = "mid"
	PriceBid   = "bid"
	PriceOffer = "offer"
)

// barInput adapts a bar calculator to the quotes produced by the tracker.
type barInput interface {
	// source reports whether q drives the bar and at which event time.
	source(q models.TopQuote) (time.Time, bool)
	apply(q models.TopQuote, ts time.Time) error
	setMeta(feed, symbol string)
	bucketStart(ts time.Time) int64
	expired(ts time.Time) bool
	current() (models.OHLCBar, bool)
	close(ts time.Time, timeout bool) error
	restore(bar models.OHLCBar)
	reset()
}

type genericInput struct {
	calc        *bars.Calculator
	priceSource string
}

func (g *genericInput) price(q models.TopQuote) int64 {
	switch g.priceSource {
	case PriceBid:
		if q.Bid != nil {
			return q.Bid.Price
		}
	case PriceOffer:
		if q.Offer != nil {
			return q.Offer.Price
		}
	default:
		if mid := q.Mid(); mid != 0 {
			return mid
		}
		if q.Bid != nil {
			return q.Bid.Price
		}
		if q.Offer != nil {
			return q.Offer.Price
		}
	}
	return 0
}

func (g *genericInput) source(q models.TopQuote) (time.Time, bool) {
	return q.Timestamp, g.price(q) > 0
}

func (g *genericInput) apply(q models.TopQuote, ts time.Time) error {
	return g.calc.Update(ts, g.price(q))
}

func (g *genericInput) setMeta(feed, symbol string)            { g.calc.SetMeta(feed, symbol) }
func (g *genericInput) bucketStart(ts time.Time) int64         { return g.calc.BucketStart(ts) }
func (g *genericInput) expired(ts time.Time) bool              { return g.calc.Expired(ts) }
func (g *genericInput) current() (models.OHLCBar, bool)        { return g.calc.Current() }
func (g *genericInput) close(ts time.Time, timeout bool) error { return g.calc.Close(ts, timeout) }
func (g *genericInput) restore(bar models.OHLCBar)             { g.calc.Restore(bar) }
func (g *genericInput) reset()                                 { g.calc.Reset() }

type tradeInput struct {
	calc *bars.TradeCalculator
	// last guards against re-applying an id-less trade that stays attached
	// to consecutive quotes.
	last *models.Trade
}

func (t *tradeInput) source(q models.TopQuote) (time.Time, bool) {
	tr := q.Trade
	if tr == nil || tr.Price <= 0 || t.calc.Seen(*tr) {
		return time.Time{}, false
	}
	if tr.ID == "" && t.last != nil && sameTrade(*t.last, *tr) {
		return time.Time{}, false
	}
	return tr.Timestamp, true
}

func sameTrade(a, b models.Trade) bool {
	return a.Price == b.Price && a.Buy == b.Buy && a.Timestamp.Equal(b.Timestamp) && a.Size.Equal(b.Size)
}

func (t *tradeInput) apply(q models.TopQuote, _ time.Time) error {
	tr := *q.Trade
	if _, err := t.calc.Update(tr); err != nil {
		return err
	}
	t.last = &tr
	return nil
}

func (t *tradeInput) setMeta(feed, symbol string)            { t.calc.SetMeta(feed, symbol) }
func (t *tradeInput) bucketStart(ts time.Time) int64         { return t.calc.BucketStart(ts) }
func (t *tradeInput) expired(ts time.Time) bool              { return t.calc.Expired(ts) }
func (t *tradeInput) current() (models.OHLCBar, bool)        { return t.calc.Current() }
func (t *tradeInput) close(ts time.Time, timeout bool) error { return t.calc.Close(ts, timeout) }
func (t *tradeInput) restore(bar models.OHLCBar)             { t.calc.Restore(bar) }
func (t *tradeInput) reset()                                 { t.calc.Reset() }

// OHLC builds bars from the quotes of a private top-of-book tracker. The
// generic variant samples a quote price each round, the trade variant
// consumes the trades attached to quotes.
type OHLC struct {
	Base

	tracker *TopOfBook
	trade   bool

	mu          sync.Mutex
	input       barInput
	label       string
	historyKey  string
	feed        string
	history     history.Provider
	recorder    bool
	reconciled  bool
	callTimeout time.Duration
	lastQuote   models.TopQuote
	last        *models.BarUpdate

	// closedID is the newest bucket closed by this aggregator; events that
	// fall at or before it are late and dropped.
	closedID  int64
	hasClosed bool
}

// NewOHLC creates a generic bar aggregator.
func NewOHLC(name string, p Props) (*OHLC, error) {
	return newOHLC(name, p, false)
}

// NewTradeOHLC creates a trade bar aggregator.
func NewTradeOHLC(name string, p Props) (*OHLC, error) {
	return newOHLC(name, p, true)
}

func newOHLC(name string, p Props, trade bool) (*OHLC, error) {
	tf, err := p.Duration(KeyTimeFrame, time.Minute)
	if err != nil {
		return nil, err
	}
	offsetSec, err := p.Int64(KeyTimeOffset, 0)
	if err != nil {
		return nil, err
	}
	recorder, err := p.Bool(KeyHistoryRecorder, false)
	if err != nil {
		return nil, err
	}
	if recorder && p.Deps.History == nil {
		return nil, fmt.Errorf("%s requires a history provider: %w", KeyHistoryRecorder, ErrMissingCollaborator)
	}
	offset := time.Duration(offsetSec) * time.Second

	a := &OHLC{
		trade:       trade,
		label:       p.String(KeyTimeFrame, "1m"),
		feed:        p.String(KeyFeed, ""),
		history:     p.Deps.History,
		recorder:    recorder,
		callTimeout: p.callTimeout(),
	}
	a.historyKey = a.label

	if trade {
		calc, err := bars.NewTradeCalculator(tf, offset)
		if err != nil {
			return nil, invalidProperty(KeyTimeFrame, a.label, err)
		}
		a.input = &tradeInput{calc: calc}
		a.historyKey = "trade:" + a.label
	} else {
		calc, err := bars.NewCalculator(tf, offset)
		if err != nil {
			return nil, invalidProperty(KeyTimeFrame, a.label, err)
		}
		src := p.String(KeyPriceSource, PriceMid)
		switch src {
		case PriceMid, PriceBid, PriceOffer:
		default:
			return nil, invalidProperty(KeyPriceSource, src, errors.New("want mid, bid or offer"))
		}
		a.input = &genericInput{calc: calc, priceSource: src}
	}
	a.input.setMeta(a.feed, p.String(KeySymbol, ""))

	if err := a.init(name, p, true); err != nil {
		return nil, err
	}
	a.tracker, err = NewTopOfBook(name+".tracker", p.forSubAggregator())
	if err != nil {
		return nil, err
	}
	a.tracker.Subscribe(ResultFunc(a.onQuote))
	return a, nil
}

// TimeFrame returns the configured timeframe label.
func (a *OHLC) TimeFrame() string { return a.label }

// HistoryKey is the timeframe key bars are recorded under.
func (a *OHLC) HistoryKey() string { return a.historyKey }

// IsTrade reports whether a builds bars from trades.
func (a *OHLC) IsTrade() bool { return a.trade }

// OnSnapshot forwards the snapshot to the tracker.
func (a *OHLC) OnSnapshot(s models.BookSnapshot) error {
	s, ok, err := a.preprocess(s)
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	if !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracker.OnSnapshot(s)
}

// OnEndUpdate forwards the barrier to the tracker; a completed round drives the bar.
func (a *OHLC) OnEndUpdate(side models.Side, updateID int64, modified bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracker.OnEndUpdate(side, updateID, modified)
}

// Expire closes the current bar with reason timeout if its interval ended before now.
func (a *OHLC) Expire(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.input.expired(now) {
		return nil
	}
	return a.rollover(now, true, a.lastQuote)
}

// Last returns the most recently published bar update.
func (a *OHLC) Last() (models.BarUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return models.BarUpdate{}, false
	}
	return a.last.Clone(), true
}

// onQuote runs under a.mu: the tracker only publishes from calls made by
// OnSnapshot and OnEndUpdate.
func (a *OHLC) onQuote(r Result) error {
	q, ok := r.Value().(models.TopQuote)
	if !ok {
		return nil
	}
	ts, ok := a.input.source(q)
	if !ok {
		return nil
	}
	if a.feed == "" {
		a.feed = q.Feed
		a.input.setMeta(q.Feed, q.Symbol)
	}

	if !a.reconciled {
		apply, err := a.reconcile(ts)
		if err != nil {
			return fmt.Errorf("%s: reconcile history: %w", a.name, err)
		}
		a.reconciled = true
		if !apply {
			a.lastQuote = q.Clone()
			return nil
		}
	}

	if id := a.input.bucketStart(ts); a.hasClosed && id <= a.closedID {
		a.logger.Debug("late_event_dropped", "feed", a.feed, "time_frame", a.historyKey,
			"bucket", id, "closed_bucket", a.closedID, "ts", ts)
		return nil
	}

	prev := a.lastQuote
	a.lastQuote = q.Clone()

	var rollErr error
	if a.input.expired(ts) {
		rollErr = a.rollover(ts, false, prev)
	}
	if err := a.input.apply(q, ts); err != nil {
		return errors.Join(rollErr, fmt.Errorf("%s: %w", a.name, err))
	}
	return errors.Join(rollErr, a.emit(q))
}

// reconcile aligns the calculator with the open bar recorded in history. It
// reports whether the event at ts should still be applied.
func (a *OHLC) reconcile(ts time.Time) (bool, error) {
	if a.history == nil {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.callTimeout)
	defer cancel()

	bar, found, err := a.history.OpenBar(ctx, a.feed, a.historyKey)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	if bar.ID == a.input.bucketStart(ts) {
		a.input.restore(bar)
		a.logger.Info("bar_restored", "feed", a.feed, "time_frame", a.historyKey, "bar_id", bar.ID)
		return bar.Close.Timestamp.Before(ts), nil
	}

	if a.recorder {
		bar.Closed = true
		bar.CloseReason = models.CloseTimeout
		bar.ClosedAt = bar.End()
		bar.JustOpened = false
		if err := a.history.ReplaceBar(ctx, a.feed, a.historyKey, bar); err != nil {
			return false, err
		}
		a.markClosed(bar.ID)
		a.logger.Info("stale_bar_closed", "feed", a.feed, "time_frame", a.historyKey, "bar_id", bar.ID)
	}
	return true, nil
}

// rollover closes, records and publishes the current bar, then drops it.
// q is the last quote applied to the closing bar.
func (a *OHLC) rollover(ts time.Time, timeout bool, q models.TopQuote) error {
	if err := a.input.close(ts, timeout); err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	bar, _ := a.input.current()
	a.input.reset()
	a.markClosed(bar.ID)

	if a.recorder {
		ctx, cancel := context.WithTimeout(context.Background(), a.callTimeout)
		defer cancel()
		if err := a.history.ReplaceBar(ctx, a.feed, a.historyKey, bar); err != nil {
			return fmt.Errorf("%s: record closed bar %d: %w", a.name, bar.ID, err)
		}
	}
	a.logger.Debug("bar_closed", "bar_id", bar.ID, "reason", bar.CloseReason.String())
	return a.publishBar(bar, q)
}

func (a *OHLC) markClosed(id int64) {
	if !a.hasClosed || id > a.closedID {
		a.closedID = id
		a.hasClosed = true
	}
}

// emit records and publishes the current bar.
func (a *OHLC) emit(q models.TopQuote) error {
	bar, ok := a.input.current()
	if !ok {
		return nil
	}
	if a.recorder {
		ctx, cancel := context.WithTimeout(context.Background(), a.callTimeout)
		defer cancel()

		var err error
		if bar.JustOpened {
			err = a.history.AddBar(ctx, a.feed, a.historyKey, bar)
		} else {
			err = a.history.ReplaceBar(ctx, a.feed, a.historyKey, bar)
		}
		if err != nil {
			return fmt.Errorf("%s: record bar %d: %w", a.name, bar.ID, err)
		}
	}
	return a.publishBar(bar, q)
}

func (a *OHLC) publishBar(bar models.OHLCBar, q models.TopQuote) error {
	u := models.BarUpdate{TimeFrame: a.label, Bar: bar, Quote: q.Clone()}
	last := u.Clone()
	a.last = &last
	return a.publish(Single(u))
}
