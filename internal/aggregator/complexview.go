package aggregator

import (
	"errors"
	"fmt"
	"sync"

	"marketviews/internal/models"
)

// ComplexMarketView fuses a top-of-book quote with the VWAP and OWAP pairs of
// the same round.
//
// It owns its sub-aggregators and feeds them under its own lock; their
// results are folded into the live view from inside those calls.
type ComplexMarketView struct {
	Base

	mu    sync.Mutex
	top   *TopOfBook
	vwap  *Weighted
	owap  *Weighted
	feed  string
	sym   string
	view  models.ComplexMarketView
	round barrier
	last  *models.ComplexMarketView
}

// NewComplexMarketView creates a complex market view aggregator.
func NewComplexMarketView(name string, p Props) (*ComplexMarketView, error) {
	a := &ComplexMarketView{
		feed: p.String(KeyFeed, ""),
		sym:  p.String(KeySymbol, ""),
	}
	if err := a.init(name, p, true); err != nil {
		return nil, err
	}

	sub := p.forSubAggregator()
	var err error
	if a.top, err = NewTopOfBook(name+".top", sub); err != nil {
		return nil, err
	}
	if a.vwap, err = NewVWAP(name+".vwap", sub); err != nil {
		return nil, err
	}
	if a.owap, err = NewOWAP(name+".owap", sub); err != nil {
		return nil, err
	}
	a.top.Subscribe(ResultFunc(a.onQuote))
	a.vwap.Subscribe(ResultFunc(a.onWeighted))
	a.owap.Subscribe(ResultFunc(a.onWeighted))

	a.resetView()
	return a, nil
}

func (a *ComplexMarketView) resetView() {
	a.view = models.ComplexMarketView{Feed: a.feed, Symbol: a.sym}
}

// OnSnapshot filters the snapshot once and forwards it to every sub-aggregator.
func (a *ComplexMarketView) OnSnapshot(s models.BookSnapshot) error {
	s, ok, err := a.preprocess(s)
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	if !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.feed == "" && s.Feed != "" {
		a.feed, a.sym = s.Feed, s.Symbol
		a.view.Feed, a.view.Symbol = s.Feed, s.Symbol
	}
	return errors.Join(
		a.top.OnSnapshot(s),
		a.vwap.OnSnapshot(s),
		a.owap.OnSnapshot(s),
	)
}

// OnEndUpdate forwards the barrier and publishes the fused view once both
// book sides have closed the round.
func (a *ComplexMarketView) OnEndUpdate(side models.Side, updateID int64, modified bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	subErr := errors.Join(
		a.top.OnEndUpdate(side, updateID, modified),
		a.vwap.OnEndUpdate(side, updateID, modified),
		a.owap.OnEndUpdate(side, updateID, modified),
	)

	if !a.round.mark(side) {
		return subErr
	}
	out := a.view.Clone()
	out.SnapshotID = updateID
	a.resetView()
	a.round.reset()

	if subErr != nil {
		return fmt.Errorf("%s: round %d: %w", a.name, updateID, subErr)
	}
	last := out.Clone()
	a.last = &last
	return a.publish(Single(out))
}

// LastKnown returns a copy of the most recently published view.
func (a *ComplexMarketView) LastKnown() (models.ComplexMarketView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return models.ComplexMarketView{}, false
	}
	return a.last.Clone(), true
}

// onQuote and onWeighted run under a.mu.
func (a *ComplexMarketView) onQuote(r Result) error {
	if q, ok := r.Value().(models.TopQuote); ok {
		a.view.SetQuote(q.Clone())
	}
	return nil
}

func (a *ComplexMarketView) onWeighted(r Result) error {
	for _, v := range r.Values() {
		if w, ok := v.(models.WeightedPrice); ok {
			a.view.SetWeighted(w)
		}
	}
	return nil
}
