package aggregator

import (
	"errors"
	"fmt"
	"sync"

	"marketviews/internal/metrics"
	"marketviews/internal/models"
)

// ErrFilter marks snapshots rejected by a pre-processing filter.
var ErrFilter = errors.New("snapshot filter")

// Filter pre-processes snapshots before they reach an aggregator's logic.
// ok=false suppresses the snapshot; an error drops it and is returned to the caller.
type Filter interface {
	Apply(s models.BookSnapshot) (out models.BookSnapshot, ok bool, err error)
}

// NewFilter builds the filter configured in p, or nil when none is.
func NewFilter(p Props) (Filter, error) {
	slippage := p.Has(KeySlippageFilter)
	spread := p.Has(KeySpreadThreshold) || p.Has(KeySynthSpread)

	switch {
	case slippage && spread:
		return nil, ErrConflictingFilters
	case slippage:
		threshold, err := p.Int64(KeySlippageFilter, 0)
		if err != nil {
			return nil, err
		}
		if threshold <= 0 {
			return nil, invalidProperty(KeySlippageFilter, p.Values[KeySlippageFilter], errors.New("must be positive"))
		}
		return NewSlippageFilter(threshold), nil
	case spread:
		threshold, err := p.Int64(KeySpreadThreshold, 0)
		if err != nil {
			return nil, err
		}
		synth, err := p.Int64(KeySynthSpread, 0)
		if err != nil {
			return nil, err
		}
		if threshold <= 0 || synth <= 0 || synth >= threshold {
			return nil, fmt.Errorf("%w: %s=%d %s=%d: need 0 < synthSpread < spreadThreshold",
				ErrInvalidProperty, KeySpreadThreshold, threshold, KeySynthSpread, synth)
		}
		return NewSpreadCorrector(threshold, synth), nil
	default:
		return nil, nil
	}
}

// SlippageFilter suppresses a side whose top price moved by less than the
// threshold since the last snapshot it let through.
type SlippageFilter struct {
	threshold int64

	mu       sync.Mutex
	accepted [2]int64
	seen     [2]bool
}

// NewSlippageFilter creates a slippage filter.
func NewSlippageFilter(threshold int64) *SlippageFilter {
	return &SlippageFilter{threshold: threshold}
}

// Apply implements Filter.
func (f *SlippageFilter) Apply(s models.BookSnapshot) (models.BookSnapshot, bool, error) {
	if s.Side == models.SideTrade {
		return s, true, nil
	}
	top, ok := s.Top()
	if !ok {
		return s, true, nil
	}
	if top.Price <= 0 {
		return s, false, fmt.Errorf("%w: slippage: non-positive %s price %d", ErrFilter, s.Side, top.Price)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	i := s.Side
	if f.seen[i] && s.Trade == nil {
		move := top.Price - f.accepted[i]
		if move < 0 {
			move = -move
		}
		if move < f.threshold {
			return s, false, nil
		}
	}
	f.accepted[i] = top.Price
	f.seen[i] = true
	return s, true, nil
}

// SpreadCorrector narrows spreads wider than the threshold to a synthetic
// spread around the true mid. Only the delivered side is rewritten.
type SpreadCorrector struct {
	threshold int64
	synth     int64

	mu   sync.Mutex
	tops [2]int64
}

// NewSpreadCorrector creates a spread corrector.
func NewSpreadCorrector(threshold, synth int64) *SpreadCorrector {
	return &SpreadCorrector{threshold: threshold, synth: synth}
}

// Apply implements Filter.
func (f *SpreadCorrector) Apply(s models.BookSnapshot) (models.BookSnapshot, bool, error) {
	if s.Side == models.SideTrade {
		return s, true, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	top, ok := s.Top()
	if !ok {
		f.tops[s.Side] = 0
		return s, true, nil
	}
	f.tops[s.Side] = top.Price

	bid, offer := f.tops[models.SideBid], f.tops[models.SideOffer]
	if bid == 0 || offer == 0 {
		return s, true, nil
	}

	c, err := metrics.CorrectSpread(bid, offer, f.threshold, f.synth)
	if err != nil {
		return s, false, fmt.Errorf("%w: spread: %v", ErrFilter, err)
	}
	if !c.Corrected {
		return s, true, nil
	}
	if err := metrics.SpreadInvariant(c); err != nil {
		return s, false, fmt.Errorf("%w: spread: %v", ErrFilter, err)
	}

	out := s
	out.Levels = models.CloneLevels(s.Levels)
	if s.Side == models.SideBid {
		out.Levels[0].Price = c.Bid
	} else {
		out.Levels[0].Price = c.Offer
	}
	out.Levels[0].Aggregated = true
	return out, true, nil
}
