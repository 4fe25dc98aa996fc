package aggregator

import (
	"fmt"

	"marketviews/internal/metrics"
	"marketviews/internal/models"
)

// Weighted computes VWAP or OWAP per side and publishes both sides as one
// batch per round.
//
// Weighted does not synchronize internally: deliveries must come from one
// goroutine or be serialized by the caller (see Serialize).
type Weighted struct {
	Base

	kind  models.WeightKind
	depth int
	sides [2]weightedSide
	round barrier
}

type weightedSide struct {
	seen     bool
	current  models.WeightedPrice
	snapshot models.WeightedPrice
}

// NewVWAP creates a volume-weighted average price aggregator.
func NewVWAP(name string, p Props) (*Weighted, error) {
	return newWeighted(name, p, models.WeightVolume)
}

// NewOWAP creates an order-weighted average price aggregator.
func NewOWAP(name string, p Props) (*Weighted, error) {
	return newWeighted(name, p, models.WeightOrders)
}

func newWeighted(name string, p Props, kind models.WeightKind) (*Weighted, error) {
	depth, err := p.Int(KeyDepth, 0)
	if err != nil {
		return nil, err
	}
	a := &Weighted{kind: kind, depth: depth}
	if err := a.init(name, p, true); err != nil {
		return nil, err
	}
	for i := range a.sides {
		a.sides[i].current = models.WeightedPrice{
			Feed:   p.String(KeyFeed, ""),
			Symbol: p.String(KeySymbol, ""),
			Kind:   kind,
			Side:   models.Side(i),
		}
	}
	return a, nil
}

// Kind reports whether a is a VWAP or an OWAP aggregator.
func (a *Weighted) Kind() models.WeightKind { return a.kind }

// OnSnapshot recomputes the delivered side's weighted price.
func (a *Weighted) OnSnapshot(s models.BookSnapshot) error {
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

	side := &a.sides[s.Side]
	if !side.seen && len(s.Levels) > 0 {
		// First sighting of this side seeds its metadata.
		if s.Feed != "" {
			side.current.Feed = s.Feed
		}
		if s.Symbol != "" {
			side.current.Symbol = s.Symbol
		}
		side.seen = true
	}

	var w metrics.Weighted
	if a.kind == models.WeightOrders {
		w = metrics.OWAP(s.Levels, a.depth)
	} else {
		w = metrics.VWAP(s.Levels, a.depth)
	}
	side.current.Price = w.Price
	side.current.Weight = w.Weight
	side.current.Depth = w.Depth
	side.current.Timestamp = s.Timestamp
	return nil
}

// OnEndUpdate takes an immutable snapshot of side and publishes the pair
// [bid, offer] once both sides have closed their round.
func (a *Weighted) OnEndUpdate(side models.Side, updateID int64, _ bool) error {
	if side != models.SideBid && side != models.SideOffer {
		return nil
	}
	a.sides[side].snapshot = a.sides[side].current

	if !a.round.mark(side) {
		return nil
	}
	bid := a.sides[models.SideBid].snapshot
	offer := a.sides[models.SideOffer].snapshot
	bid.SnapshotID = updateID
	offer.SnapshotID = updateID
	a.round.reset()

	return a.publish(Batch(bid, offer))
}
