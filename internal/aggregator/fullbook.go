package aggregator

import (
	"fmt"
	"sync"

	"marketviews/internal/metrics"
	"marketviews/internal/models"
)

// FullBook keeps the last snapshot of each side and publishes a merged,
// depth-capped FullOrderBook once per round.
type FullBook struct {
	Base

	depth int

	mu     sync.Mutex
	book   models.FullOrderBook
	seeded bool
	round  barrier
	last   *models.FullOrderBook
}

// NewFullBook creates a full order book aggregator.
func NewFullBook(name string, p Props) (*FullBook, error) {
	depth, err := p.Int(KeyDepth, 0)
	if err != nil {
		return nil, err
	}
	a := &FullBook{depth: depth}
	if err := a.init(name, p, true); err != nil {
		return nil, err
	}
	a.book.Feed = p.String(KeyFeed, "")
	a.book.Symbol = p.String(KeySymbol, "")
	return a, nil
}

// OnSnapshot replaces the delivered side wholesale.
func (a *FullBook) OnSnapshot(s models.BookSnapshot) error {
	if s.Side != models.SideBid && s.Side != models.SideOffer {
		return nil
	}
	s, ok, err := a.preprocess(s)
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	if !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.seeded && len(s.Levels) > 0 {
		if s.Feed != "" {
			a.book.Feed = s.Feed
		}
		if s.Symbol != "" {
			a.book.Symbol = s.Symbol
		}
		a.seeded = true
	}
	if s.Timestamp.After(a.book.Timestamp) {
		a.book.Timestamp = s.Timestamp
	}

	if s.Side == models.SideBid {
		a.book.Bids = models.CloneLevels(s.Levels)
	} else {
		a.book.Offers = models.CloneLevels(s.Levels)
	}
	return nil
}

// OnEndUpdate publishes a deep copy of the book, truncated to the configured
// depth, once both sides have closed their round.
func (a *FullBook) OnEndUpdate(side models.Side, updateID int64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.round.mark(side) {
		return nil
	}
	a.round.reset()

	out := models.FullOrderBook{
		Feed:       a.book.Feed,
		Symbol:     a.book.Symbol,
		SnapshotID: updateID,
		Timestamp:  a.book.Timestamp,
		Bids:       metrics.TruncateDepth(a.book.Bids, a.depth),
		Offers:     metrics.TruncateDepth(a.book.Offers, a.depth),
	}
	last := out.Clone()
	a.last = &last

	return a.publish(Single(out))
}

// LastKnown returns a copy of the most recently published book.
func (a *FullBook) LastKnown() (models.FullOrderBook, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return models.FullOrderBook{}, false
	}
	return a.last.Clone(), true
}
