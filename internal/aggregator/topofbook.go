package aggregator

import (
	"fmt"
	"sync"

	"marketviews/internal/models"
)

// TopOfBook tracks the best bid, best offer and last trade of a feed and
// publishes a frozen TopQuote once per round.
//
// Bid, offer and trade deliveries may come from independent goroutines; all
// state is guarded by one mutex.
type TopOfBook struct {
	Base

	mu           sync.Mutex
	live         models.TopQuote
	prepopulated bool
	round        barrier
	last         *models.TopQuote
}

// NewTopOfBook creates a top-of-book aggregator.
func NewTopOfBook(name string, p Props) (*TopOfBook, error) {
	a := &TopOfBook{}
	if err := a.init(name, p, true); err != nil {
		return nil, err
	}
	a.live.Feed = p.String(KeyFeed, "")
	a.live.Symbol = p.String(KeySymbol, "")
	return a, nil
}

// OnSnapshot folds the delivered side's top level and any trade into the live quote.
func (a *TopOfBook) OnSnapshot(s models.BookSnapshot) error {
	s, ok, err := a.preprocess(s)
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	if !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.apply(s)
	return nil
}

func (a *TopOfBook) apply(s models.BookSnapshot) {
	if !a.prepopulated {
		// Cold start: the first side seen seeds the metadata for both.
		if s.Feed != "" {
			a.live.Feed = s.Feed
		}
		if s.Symbol != "" {
			a.live.Symbol = s.Symbol
		}
		a.prepopulated = true
	}
	if s.Timestamp.After(a.live.Timestamp) {
		a.live.Timestamp = s.Timestamp
	}

	switch s.Side {
	case models.SideBid:
		if replaceTop(&a.live.Bid, s) {
			a.live.Status = a.live.Status.Advance(models.SideBid)
		}
	case models.SideOffer:
		if replaceTop(&a.live.Offer, s) {
			a.live.Status = a.live.Status.Advance(models.SideOffer)
		}
	}

	if s.Trade != nil {
		t := *s.Trade
		a.live.Trade = &t
	}
}

// replaceTop stores the snapshot's best level in *cur and reports whether it changed.
func replaceTop(cur **models.PriceLevel, s models.BookSnapshot) bool {
	top, ok := s.Top()
	if !ok {
		if *cur == nil {
			return false
		}
		*cur = nil
		return true
	}
	if *cur != nil && (*cur).Equal(top) {
		return false
	}
	*cur = &top
	return true
}

// OnEndUpdate closes side's round; the quote is published once both book
// sides have closed theirs.
func (a *TopOfBook) OnEndUpdate(side models.Side, updateID int64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.round.mark(side) {
		return nil
	}

	frozen := a.live.Clone()
	frozen.SnapshotID = updateID
	a.live.Status = models.StatusNothing
	a.round.reset()

	last := frozen.Clone()
	a.last = &last
	return a.publish(Single(frozen))
}

// Last returns the most recently published quote.
func (a *TopOfBook) Last() (models.TopQuote, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return models.TopQuote{}, false
	}
	return a.last.Clone(), true
}
