package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketviews/internal/history"
	"marketviews/internal/models"
)

func barOf(t *testing.T, r Result) models.OHLCBar {
	t.Helper()
	u, ok := r.Value().(models.BarUpdate)
	require.True(t, ok, "got %T", r.Value())
	return u.Bar
}

func bucket() int64 { return t0.Truncate(time.Minute).Unix() }

func TestOHLCGenericBars(t *testing.T) {
	a, err := NewOHLC("bars", props(map[string]string{KeyTimeFrame: "1m"}))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, round(a, 1, t0, 100, 102))
	require.NoError(t, round(a, 2, t0.Add(20*time.Second), 104, 106))
	require.NoError(t, round(a, 3, t0.Add(55*time.Second), 98, 100))

	got := c.all()
	require.Len(t, got, 4)

	opened := barOf(t, got[0])
	assert.Equal(t, bucket(), opened.ID)
	assert.True(t, opened.JustOpened)
	assert.Equal(t, int64(101), opened.Open.Price)
	assert.Equal(t, "F1", opened.Feed)
	assert.Equal(t, "1m", got[0].Value().(models.BarUpdate).TimeFrame)
	assert.Equal(t, int64(1), got[0].Value().(models.BarUpdate).Quote.SnapshotID)

	updated := barOf(t, got[1])
	assert.False(t, updated.JustOpened)
	assert.Equal(t, int64(105), updated.High.Price)
	assert.Equal(t, int64(101), updated.Low.Price)
	assert.Equal(t, int64(103), updated.Typical)
	assert.Equal(t, int64(4), updated.Size)

	closed := barOf(t, got[2])
	assert.True(t, closed.Closed)
	assert.Equal(t, models.CloseData, closed.CloseReason)
	assert.Equal(t, int64(105), closed.Close.Price)
	assert.Equal(t, bucket(), closed.ID)
	assert.Equal(t, int64(2), got[2].Value().(models.BarUpdate).Quote.SnapshotID, "closing bar carries its own last quote")

	next := barOf(t, got[3])
	assert.Equal(t, bucket()+60, next.ID)
	assert.True(t, next.JustOpened)
	assert.Equal(t, int64(99), next.Open.Price)

	last, ok := a.Last()
	require.True(t, ok)
	assert.Equal(t, next.ID, last.Bar.ID)
}

func TestOHLCPriceSource(t *testing.T) {
	a, err := NewOHLC("bars", props(map[string]string{KeyPriceSource: PriceBid}))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, round(a, 1, t0, 0, 102))
	assert.Empty(t, c.all(), "no bid, nothing to sample")
	require.NoError(t, round(a, 2, t0, 100, 102))
	assert.Equal(t, int64(100), barOf(t, c.last()).Open.Price)

	mid, err := NewOHLC("bars", props(nil))
	require.NoError(t, err)
	cm := subscribe(mid)
	require.NoError(t, round(mid, 1, t0, 0, 102))
	assert.Equal(t, int64(102), barOf(t, cm.last()).Open.Price, "one-sided quote falls back to the present side")
}

func TestOHLCConfig(t *testing.T) {
	_, err := NewOHLC("bars", props(map[string]string{KeyHistoryRecorder: "true"}))
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	_, err = NewOHLC("bars", props(map[string]string{KeyPriceSource: "last"}))
	assert.ErrorIs(t, err, ErrInvalidProperty)

	_, err = NewOHLC("bars", props(map[string]string{KeyTimeFrame: "500ms"}))
	assert.ErrorIs(t, err, ErrInvalidProperty)

	_, err = NewTradeOHLC("bars", props(map[string]string{KeyTimeOffset: "ten"}))
	assert.ErrorIs(t, err, ErrInvalidProperty)

	a, err := NewTradeOHLC("bars", props(map[string]string{KeyTimeFrame: "5m"}))
	require.NoError(t, err)
	assert.Equal(t, "trade:5m", a.HistoryKey())
	assert.True(t, a.IsTrade())
}

func TestOHLCExpire(t *testing.T) {
	a, err := NewOHLC("bars", props(nil))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, a.Expire(t0), "no bar yet")
	require.NoError(t, round(a, 1, t0, 100, 102))

	require.NoError(t, a.Expire(t0.Add(49*time.Second)))
	require.Len(t, c.all(), 1)

	require.NoError(t, a.Expire(t0.Add(50*time.Second)))
	require.Len(t, c.all(), 2)
	closed := barOf(t, c.last())
	assert.True(t, closed.Closed)
	assert.Equal(t, models.CloseTimeout, closed.CloseReason)
	assert.Equal(t, int64(1), c.last().Value().(models.BarUpdate).Quote.SnapshotID)

	require.NoError(t, a.Expire(t0.Add(2*time.Minute)))
	require.Len(t, c.all(), 2)

	require.NoError(t, round(a, 2, t0.Add(time.Minute), 100, 102))
	assert.Equal(t, bucket()+60, barOf(t, c.last()).ID)
}

func TestTradeOHLC(t *testing.T) {
	a, err := NewTradeOHLC("trades", props(nil))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, a.OnSnapshot(tradeSnap("t1", 100, true, t0)))
	require.NoError(t, round(a, 1, t0, 100, 102))
	require.Len(t, c.all(), 1)

	require.NoError(t, round(a, 2, t0.Add(5*time.Second), 100, 102))
	require.Len(t, c.all(), 1, "same trade is not applied twice")

	require.NoError(t, a.OnSnapshot(tradeSnap("t2", 104, false, t0.Add(10*time.Second))))
	require.NoError(t, round(a, 3, t0.Add(10*time.Second), 100, 102))
	require.NoError(t, a.OnSnapshot(tradeSnap("t2", 104, false, t0.Add(10*time.Second))))
	require.NoError(t, round(a, 4, t0.Add(11*time.Second), 100, 102))
	require.Len(t, c.all(), 2)

	bar := barOf(t, c.last())
	assert.Equal(t, int64(100), bar.Open.Price)
	assert.Equal(t, int64(104), bar.High.Price)
	assert.Equal(t, int64(104), bar.Close.Price)
	require.NotNil(t, bar.Trades)
	assert.Equal(t, 2, bar.Trades.Count)
	assert.Equal(t, 1, bar.Trades.BuyCount)
	assert.Equal(t, 1, bar.Trades.SellCount)
	assert.Equal(t, int64(100), bar.Trades.AvgBuyPrice)
	assert.Equal(t, int64(104), bar.Trades.AvgSellPrice)
	assert.Equal(t, 1.0, bar.Trades.BuySellRatio)
	assert.Equal(t, "t2", bar.Trades.LastTradeID)
}

func recorderProps(store history.Provider) Props {
	return NewProps(map[string]string{KeyTimeFrame: "1m", KeyHistoryRecorder: "true"}, Deps{History: store})
}

func TestOHLCHistoryRecorder(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	a, err := NewOHLC("bars", recorderProps(store))
	require.NoError(t, err)

	require.NoError(t, round(a, 1, t0, 100, 102))
	bars, err := store.Bars(ctx, "F1", "1m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(101), bars[0].Close.Price)

	require.NoError(t, round(a, 2, t0.Add(20*time.Second), 104, 106))
	require.NoError(t, round(a, 3, t0.Add(55*time.Second), 98, 100))

	bars, err = store.Bars(ctx, "F1", "1m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.False(t, bars[0].Closed)
	assert.Equal(t, int64(99), bars[0].Open.Price)
	assert.True(t, bars[1].Closed)
	assert.Equal(t, models.CloseData, bars[1].CloseReason)
	assert.Equal(t, int64(105), bars[1].High.Price)
}

func TestOHLCDropsLateEventsForClosedBucket(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	a, err := NewOHLC("bars", recorderProps(store))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, round(a, 1, t0, 100, 102))
	require.NoError(t, round(a, 2, t0.Add(20*time.Second), 110, 112))
	require.NoError(t, a.Expire(t0.Add(51*time.Second)))
	require.Len(t, c.all(), 3)

	// Source time lags the timer: 09:00:55 still belongs to the closed bucket.
	require.NoError(t, round(a, 3, t0.Add(45*time.Second), 90, 92))
	assert.Len(t, c.all(), 3, "late event is dropped")

	bars, err := store.Bars(ctx, "F1", "1m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, bucket(), bars[0].ID)
	assert.True(t, bars[0].Closed)
	assert.Equal(t, models.CloseTimeout, bars[0].CloseReason)
	assert.Equal(t, int64(111), bars[0].High.Price)
	assert.Equal(t, int64(101), bars[0].Low.Price)
	assert.Equal(t, int64(111), bars[0].Close.Price)

	require.NoError(t, round(a, 4, t0.Add(55*time.Second), 120, 122))
	require.Len(t, c.all(), 4)
	next := barOf(t, c.last())
	assert.Equal(t, bucket()+60, next.ID)
	assert.True(t, next.JustOpened)

	// Still late once the next bucket is open.
	require.NoError(t, round(a, 5, t0.Add(49*time.Second), 80, 82))
	assert.Len(t, c.all(), 4)

	bars, err = store.Bars(ctx, "F1", "1m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(121), bars[0].Open.Price)
	assert.Equal(t, int64(121), bars[0].Low.Price)
	assert.Equal(t, int64(111), bars[1].High.Price)
}

func historicalBar(id int64, closeAt time.Time) models.OHLCBar {
	return models.OHLCBar{
		ID:        id,
		Feed:      "F1",
		TimeFrame: 60,
		Open:      models.PricePoint{Price: 90, Timestamp: closeAt},
		High:      models.PricePoint{Price: 110, Timestamp: closeAt},
		Low:       models.PricePoint{Price: 90, Timestamp: closeAt},
		Close:     models.PricePoint{Price: 95, Timestamp: closeAt},
		Typical:   98,
		Size:      5,
	}
}

func TestOHLCReconcileRestoresOpenBar(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	require.NoError(t, store.AddBar(ctx, "F1", "1m", historicalBar(bucket(), t0.Add(-5*time.Second))))

	a, err := NewOHLC("bars", recorderProps(store))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, round(a, 1, t0, 100, 102))
	require.Len(t, c.all(), 1)
	bar := barOf(t, c.last())
	assert.Equal(t, int64(90), bar.Open.Price)
	assert.Equal(t, int64(110), bar.High.Price)
	assert.Equal(t, int64(101), bar.Close.Price)
	assert.Equal(t, int64(100), bar.Typical)
	assert.Equal(t, int64(11), bar.Size)
	assert.False(t, bar.JustOpened)

	stored, found, err := store.OpenBar(ctx, "F1", "1m")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(101), stored.Close.Price)
}

func TestOHLCReconcileSkipsOlderEvent(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	require.NoError(t, store.AddBar(ctx, "F1", "1m", historicalBar(bucket(), t0.Add(10*time.Second))))

	a, err := NewOHLC("bars", recorderProps(store))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, round(a, 1, t0, 100, 102))
	assert.Empty(t, c.all())

	require.NoError(t, round(a, 2, t0.Add(20*time.Second), 102, 104))
	require.Len(t, c.all(), 1)
	bar := barOf(t, c.last())
	assert.Equal(t, int64(90), bar.Open.Price)
	assert.Equal(t, int64(103), bar.Close.Price)
}

func TestOHLCReconcileClosesStaleBar(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	stale := historicalBar(bucket()-60, t0.Add(-40*time.Second))
	require.NoError(t, store.AddBar(ctx, "F1", "1m", stale))

	a, err := NewOHLC("bars", recorderProps(store))
	require.NoError(t, err)
	c := subscribe(a)

	require.NoError(t, round(a, 1, t0, 100, 102))
	require.Len(t, c.all(), 1)
	assert.Equal(t, bucket(), barOf(t, c.last()).ID)

	bars, err := store.Bars(ctx, "F1", "1m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, bucket(), bars[0].ID)
	assert.True(t, bars[0].JustOpened)
	assert.True(t, bars[1].Closed)
	assert.Equal(t, models.CloseTimeout, bars[1].CloseReason)
	assert.True(t, bars[1].ClosedAt.Equal(stale.End()))
}

type flakyHistory struct {
	*history.MemoryStore
	err error
}

func (f *flakyHistory) OpenBar(ctx context.Context, feed, tf string) (models.OHLCBar, bool, error) {
	if f.err != nil {
		return models.OHLCBar{}, false, f.err
	}
	return f.MemoryStore.OpenBar(ctx, feed, tf)
}

func (f *flakyHistory) AddBar(ctx context.Context, feed, tf string, bar models.OHLCBar) error {
	if f.err != nil {
		return f.err
	}
	return f.MemoryStore.AddBar(ctx, feed, tf, bar)
}

func (f *flakyHistory) ReplaceBar(ctx context.Context, feed, tf string, bar models.OHLCBar) error {
	if f.err != nil {
		return f.err
	}
	return f.MemoryStore.ReplaceBar(ctx, feed, tf, bar)
}

func TestOHLCCollaboratorFailure(t *testing.T) {
	down := errors.New("history down")
	store := &flakyHistory{MemoryStore: history.NewMemoryStore(), err: down}

	a, err := NewOHLC("bars", recorderProps(store))
	require.NoError(t, err)
	c := subscribe(a)

	err = round(a, 1, t0, 100, 102)
	require.ErrorIs(t, err, down)
	assert.Empty(t, c.all())

	store.err = nil
	require.NoError(t, round(a, 2, t0.Add(time.Second), 100, 102))
	require.Len(t, c.all(), 1)

	store.err = down
	err = round(a, 3, t0.Add(2*time.Second), 104, 106)
	require.ErrorIs(t, err, down)
	require.Len(t, c.all(), 1)

	store.err = nil
	require.NoError(t, round(a, 4, t0.Add(3*time.Second), 100, 102))
	bar := barOf(t, c.last())
	assert.Equal(t, int64(105), bar.High.Price, "state kept across the failed round")
}
