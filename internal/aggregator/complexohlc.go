package aggregator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"marketviews/internal/models"
)

// ComplexOHLC pairs a generic bar and a trade bar on the same timeframe and
// publishes the pair once both legs have reported, in either order.
type ComplexOHLC struct {
	Base

	mu       sync.Mutex
	generic  *OHLC
	trade    *OHLC
	bar      models.ComplexOHLCBar
	obtained struct{ generic, trade bool }
	last     *models.ComplexOHLCBar
}

// NewComplexOHLC creates a complex OHLC aggregator.
func NewComplexOHLC(name string, p Props) (*ComplexOHLC, error) {
	a := &ComplexOHLC{}
	if err := a.init(name, p, true); err != nil {
		return nil, err
	}

	sub := p.forSubAggregator()
	var err error
	if a.generic, err = NewOHLC(name+".generic", sub); err != nil {
		return nil, err
	}
	if a.trade, err = NewTradeOHLC(name+".trade", sub); err != nil {
		return nil, err
	}
	a.generic.Subscribe(ResultFunc(a.onGeneric))
	a.trade.Subscribe(ResultFunc(a.onTrade))
	a.bar.TimeFrame = a.generic.TimeFrame()
	return a, nil
}

// OnSnapshot filters the snapshot once and forwards it to both legs.
func (a *ComplexOHLC) OnSnapshot(s models.BookSnapshot) error {
	s, ok, err := a.preprocess(s)
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	if !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(a.generic.OnSnapshot(s), a.trade.OnSnapshot(s))
}

// OnEndUpdate forwards the barrier to both legs.
func (a *ComplexOHLC) OnEndUpdate(side models.Side, updateID int64, modified bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(
		a.generic.OnEndUpdate(side, updateID, modified),
		a.trade.OnEndUpdate(side, updateID, modified),
	)
}

// Expire forwards the timer tick to both legs.
func (a *ComplexOHLC) Expire(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(a.generic.Expire(now), a.trade.Expire(now))
}

// LastKnown returns a copy of the most recently published pair.
func (a *ComplexOHLC) LastKnown() (models.ComplexOHLCBar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return models.ComplexOHLCBar{}, false
	}
	return a.last.Clone(), true
}

// onGeneric and onTrade run under a.mu.
func (a *ComplexOHLC) onGeneric(r Result) error {
	u, ok := r.Value().(models.BarUpdate)
	if !ok {
		return nil
	}
	a.bar.Generic = &u
	a.obtained.generic = true
	return a.tryPublish()
}

func (a *ComplexOHLC) onTrade(r Result) error {
	u, ok := r.Value().(models.BarUpdate)
	if !ok {
		return nil
	}
	a.bar.Trade = &u
	a.obtained.trade = true
	return a.tryPublish()
}

func (a *ComplexOHLC) tryPublish() error {
	if !a.obtained.generic || !a.obtained.trade {
		return nil
	}
	out := a.bar.Clone()
	a.obtained.generic = false
	a.obtained.trade = false

	last := out.Clone()
	a.last = &last
	return a.publish(Single(out))
}
