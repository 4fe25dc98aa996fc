package aggregator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketviews/internal/models"
)

const concurrentRounds = 40

func concurrentBid(i int) int64   { return 100 + int64(i%7) }
func concurrentOffer(i int) int64 { return 110 + int64(i%5) }

// deliverBySide runs each round with bid, offer and trade delivered from
// their own goroutine, the way independent per-side feeds call in. Rounds are
// sequential; within a round the three sides race.
func deliverBySide(t *testing.T, a Aggregator) {
	t.Helper()
	for i := 0; i < concurrentRounds; i++ {
		id := int64(i + 1)
		ts := t0.Add(time.Duration(i) * 100 * time.Millisecond)

		errs := make(chan error, 3)
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			if err := a.OnSnapshot(snap(models.SideBid, ts, lv(concurrentBid(i), "1", 1))); err != nil {
				errs <- err
				return
			}
			errs <- a.OnEndUpdate(models.SideBid, id, true)
		}()
		go func() {
			defer wg.Done()
			if err := a.OnSnapshot(snap(models.SideOffer, ts, lv(concurrentOffer(i), "2", 3))); err != nil {
				errs <- err
				return
			}
			errs <- a.OnEndUpdate(models.SideOffer, id, true)
		}()
		go func() {
			defer wg.Done()
			if err := a.OnSnapshot(tradeSnap("", 105, i%2 == 0, ts)); err != nil {
				errs <- err
				return
			}
			errs <- a.OnEndUpdate(models.SideTrade, id, true)
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	}
}

func TestTopOfBookConcurrentSides(t *testing.T) {
	a, err := NewTopOfBook("top", props(nil))
	require.NoError(t, err)
	c := subscribe(a)

	deliverBySide(t, a)

	got := c.all()
	require.Len(t, got, concurrentRounds, "one quote per matched bid/offer pair")
	for i, r := range got {
		q := r.Value().(models.TopQuote)
		assert.Equal(t, int64(i+1), q.SnapshotID)
		require.NotNil(t, q.Bid)
		require.NotNil(t, q.Offer)
		assert.Equal(t, concurrentBid(i), q.Bid.Price)
		assert.Equal(t, concurrentOffer(i), q.Offer.Price)
	}
}

func TestFullBookConcurrentSides(t *testing.T) {
	a, err := NewFullBook("book", props(map[string]string{KeyDepth: "5"}))
	require.NoError(t, err)
	c := subscribe(a)

	deliverBySide(t, a)

	got := c.all()
	require.Len(t, got, concurrentRounds)
	for i, r := range got {
		b := r.Value().(models.FullOrderBook)
		assert.Equal(t, int64(i+1), b.SnapshotID)
		require.Len(t, b.Bids, 1)
		require.Len(t, b.Offers, 1)
		assert.Equal(t, concurrentBid(i), b.Bids[0].Price)
		assert.Equal(t, concurrentOffer(i), b.Offers[0].Price)
	}
}

func TestComplexMarketViewConcurrentSides(t *testing.T) {
	a, err := NewComplexMarketView("view", props(map[string]string{KeyDepth: "5"}))
	require.NoError(t, err)
	c := subscribe(a)

	deliverBySide(t, a)

	got := c.all()
	require.Len(t, got, concurrentRounds)
	for i, r := range got {
		v := r.Value().(models.ComplexMarketView)
		assert.Equal(t, int64(i+1), v.SnapshotID)
		assert.Equal(t, int64(i+1), v.Quote.SnapshotID, "sub-results from the same round")
		assert.Equal(t, models.Mid(concurrentBid(i), concurrentOffer(i)), v.QuoteMid)
		require.NotNil(t, v.BidVWAP)
		require.NotNil(t, v.OfferVWAP)
		assert.Equal(t, concurrentBid(i), v.BidVWAP.Price)
		assert.Equal(t, concurrentOffer(i), v.OfferVWAP.Price)
	}
}

func TestOHLCConcurrentSides(t *testing.T) {
	a, err := NewOHLC("bars", props(map[string]string{KeyTimeFrame: "1m"}))
	require.NoError(t, err)
	c := subscribe(a)

	deliverBySide(t, a)

	got := c.all()
	require.Len(t, got, concurrentRounds, "one bar update per round")
	high := int64(0)
	for i, r := range got {
		u := r.Value().(models.BarUpdate)
		assert.Equal(t, int64(i+1), u.Quote.SnapshotID)
		assert.Equal(t, bucket(), u.Bar.ID)
		assert.Equal(t, i == 0, u.Bar.JustOpened)
		mid := models.Mid(concurrentBid(i), concurrentOffer(i))
		assert.Equal(t, mid, u.Bar.Close.Price)
		if mid > high {
			high = mid
		}
		assert.Equal(t, high, u.Bar.High.Price)
	}
}
