package models

import "time"

// FullOrderBook is a merged, depth-limited view of both book sides.
type FullOrderBook struct {
	Feed       string       `json:"feed"`
	Symbol     string       `json:"symbol"`
	SnapshotID int64        `json:"snapshot_id"`
	Timestamp  time.Time    `json:"ts"`
	Bids       []PriceLevel `json:"bids"`
	Offers     []PriceLevel `json:"offers"`
}

// Clone returns a deep copy of the book.
func (b FullOrderBook) Clone() FullOrderBook {
	b.Bids = CloneLevels(b.Bids)
	b.Offers = CloneLevels(b.Offers)
	return b
}

// ComplexMarketView fuses the quote with both weighted prices.
type ComplexMarketView struct {
	Feed       string         `json:"feed"`
	Symbol     string         `json:"symbol"`
	SnapshotID int64          `json:"snapshot_id"`
	Quote      TopQuote       `json:"quote"`
	BidVWAP    *WeightedPrice `json:"bid_vwap,omitempty"`
	OfferVWAP  *WeightedPrice `json:"offer_vwap,omitempty"`
	BidOWAP    *WeightedPrice `json:"bid_owap,omitempty"`
	OfferOWAP  *WeightedPrice `json:"offer_owap,omitempty"`
	QuoteMid   int64          `json:"quote_mid"`
	VWAPMid    int64          `json:"vwap_mid"`
	OWAPMid    int64          `json:"owap_mid"`
}

// Clone returns a deep copy of the view.
func (v ComplexMarketView) Clone() ComplexMarketView {
	v.Quote = v.Quote.Clone()
	v.BidVWAP = cloneWeighted(v.BidVWAP)
	v.OfferVWAP = cloneWeighted(v.OfferVWAP)
	v.BidOWAP = cloneWeighted(v.BidOWAP)
	v.OfferOWAP = cloneWeighted(v.OfferOWAP)
	return v
}

// SetWeighted stores w in the slot matching its kind and side and refreshes the matching mid.
func (v *ComplexMarketView) SetWeighted(w WeightedPrice) {
	c := w
	switch {
	case w.Kind == WeightVolume && w.Side == SideBid:
		v.BidVWAP = &c
	case w.Kind == WeightVolume && w.Side == SideOffer:
		v.OfferVWAP = &c
	case w.Kind == WeightOrders && w.Side == SideBid:
		v.BidOWAP = &c
	case w.Kind == WeightOrders && w.Side == SideOffer:
		v.OfferOWAP = &c
	}
	v.VWAPMid = weightedMid(v.BidVWAP, v.OfferVWAP)
	v.OWAPMid = weightedMid(v.BidOWAP, v.OfferOWAP)
}

// SetQuote stores the quote and refreshes the quote mid.
func (v *ComplexMarketView) SetQuote(q TopQuote) {
	v.Quote = q
	v.QuoteMid = q.Mid()
}

func weightedMid(bid, offer *WeightedPrice) int64 {
	if bid == nil || offer == nil || !bid.Present() || !offer.Present() {
		return 0
	}
	return Mid(bid.Price, offer.Price)
}

func cloneWeighted(w *WeightedPrice) *WeightedPrice {
	if w == nil {
		return nil
	}
	c := *w
	return &c
}
