package aggregator

import "marketviews/internal/models"

type phase int8

const (
	phaseWaitBoth phase = iota
	phaseWaitBid
	phaseWaitOffer
	phaseDone
)

// barrier tracks the end-of-update flags of both book sides for one round.
// Trade barriers never gate a round.
type barrier struct {
	bid   bool
	offer bool
}

// mark records the end of side's round and reports whether the round is complete.
func (b *barrier) mark(side models.Side) bool {
	switch side {
	case models.SideBid:
		b.bid = true
	case models.SideOffer:
		b.offer = true
	default:
		return false
	}
	return b.phase() == phaseDone
}

func (b *barrier) phase() phase {
	switch {
	case b.bid && b.offer:
		return phaseDone
	case b.bid:
		return phaseWaitOffer
	case b.offer:
		return phaseWaitBid
	default:
		return phaseWaitBoth
	}
}

func (b *barrier) reset() {
	b.bid = false
	b.offer = false
}
