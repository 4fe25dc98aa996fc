package metrics

import (
	"fmt"
)

// SpreadCorrection is the outcome of applying the spread corrector to a pair of tops.
type SpreadCorrection struct {
	Spread    int64 // observed spread before correction
	Mid       int64 // integer-truncated mid of the observed tops
	Bid       int64 // corrected bid (unchanged when not corrected)
	Offer     int64 // corrected offer (unchanged when not corrected)
	Corrected bool
}

// CorrectSpread narrows a spread wider than threshold to synth around the true mid.
//
// - spread: offer - bid
// - mid: (bid + offer) / 2, truncated
// - corrected bid/offer: mid - synth/2, mid + synth/2 (offer absorbs the odd tick)
func CorrectSpread(bid, offer, threshold, synth int64) (*SpreadCorrection, error) {
	// Validate inputs
	if bid <= 0 || offer <= 0 {
		return nil, fmt.Errorf("invalid prices: bid=%d offer=%d (must be > 0)", bid, offer)
	}

	if offer <= bid {
		return nil, fmt.Errorf("crossed book: bid=%d >= offer=%d", bid, offer)
	}

	if threshold <= 0 || synth <= 0 {
		return nil, fmt.Errorf("invalid spread settings: threshold=%d synth=%d (must be > 0)", threshold, synth)
	}

	spread := offer - bid
	mid := (bid + offer) / 2

	res := &SpreadCorrection{
		Spread: spread,
		Mid:    mid,
		Bid:    bid,
		Offer:  offer,
	}
	if spread <= threshold {
		return res, nil
	}

	half := synth / 2
	res.Bid = mid - half
	res.Offer = mid - half + synth
	res.Corrected = true

	return res, nil
}

// SpreadInvariant validates spread correction invariants.
func SpreadInvariant(c *SpreadCorrection) error {
	// Invariant 1: corrected book is never crossed
	if c.Bid >= c.Offer {
		return fmt.Errorf("crossed corrected book: bid=%d >= offer=%d", c.Bid, c.Offer)
	}

	// Invariant 2: mid lies within the corrected book
	if c.Mid < c.Bid || c.Mid > c.Offer {
		return fmt.Errorf("mid %d not in range [%d, %d]", c.Mid, c.Bid, c.Offer)
	}

	// Invariant 3: correction never widens the spread
	if c.Corrected && c.Offer-c.Bid >= c.Spread {
		return fmt.Errorf("corrected spread %d not narrower than observed %d", c.Offer-c.Bid, c.Spread)
	}

	return nil
}
