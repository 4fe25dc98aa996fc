package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketviews/internal/aggregator"
	"marketviews/internal/history"
	"marketviews/internal/instrumentation"
	"marketviews/internal/lifecycle"
	"marketviews/internal/models"
	"marketviews/internal/publisher"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC)

type fixture struct {
	server   *httptest.Server
	manager  *lifecycle.Manager
	store    *history.MemoryStore
	products *publisher.RedisPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := prometheus.NewRegistry()
	metrics := instrumentation.NewMetrics(reg)
	store := history.NewMemoryStore()
	products := publisher.NewRedisPublisher(client, time.Minute, slog.Default())
	pubs := publisher.NewManager()
	pubs.Register("default", products)

	m := lifecycle.NewManager(aggregator.DefaultRegistry(), aggregator.Deps{
		History:    store,
		Publishers: pubs,
	}, metrics, slog.Default())
	require.NoError(t, m.Enable(lifecycle.FeedSpec{
		ID:     "F1",
		Symbol: "EURUSD",
		Aggregators: []aggregator.Definition{
			{Name: "top", Type: aggregator.TypeTop, Props: map[string]string{"isProductProducer": "true", "productCode": "EURUSD.TOP"}},
			{Name: "bars", Type: aggregator.TypeOHLC, Props: map[string]string{"timeFrame": "1m", "isHistoryRecorder": "true"}},
		},
	}))

	h := NewHandlers(m, store, products, slog.Default())
	srv := httptest.NewServer(NewRouter(h, reg, time.Second, slog.Default()))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, manager: m, store: store, products: products}
}

func (f *fixture) round(t *testing.T, id int64, bid, offer int64) {
	t.Helper()
	ctx := context.Background()
	for _, side := range []struct {
		name  string
		price int64
	}{{"bid", bid}, {"offer", offer}} {
		require.NoError(t, f.manager.Dispatch(ctx, &models.BookEventEnvelope{
			Type: models.EventSnapshot, Feed: "F1", Symbol: "EURUSD", Side: side.name, TsEvent: t0,
			Levels: []models.LevelPayload{{Price: side.price, Size: decimal.NewFromInt(1), Orders: 1}},
		}))
	}
	for _, side := range []string{"bid", "offer"} {
		require.NoError(t, f.manager.Dispatch(ctx, &models.BookEventEnvelope{
			Type: models.EventEndUpdate, Feed: "F1", Side: side, UpdateID: id, Modified: true,
		}))
	}
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp, raw
}

func TestHealthAndFeeds(t *testing.T) {
	f := newFixture(t)

	resp, body := get(t, f.server, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy","feeds":1}`, string(body))
	assert.NotEmpty(t, resp.Header.Get(CorrelationHeader))

	resp, body = get(t, f.server, "/feeds/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"id":"F1","symbol":"EURUSD","aggregators":["top","bars"]}]`, string(body))
}

func TestGetView(t *testing.T) {
	f := newFixture(t)

	resp, body := get(t, f.server, "/feeds/F1/views/top")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "view_not_ready", e.Error)

	resp, _ = get(t, f.server, "/feeds/F9/views/top")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.round(t, 42, 100, 102)

	resp, body = get(t, f.server, "/feeds/F1/views/top")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q models.TopQuote
	require.NoError(t, json.Unmarshal(body, &q))
	assert.Equal(t, int64(42), q.SnapshotID)
	require.NotNil(t, q.Bid)
	require.NotNil(t, q.Offer)
	assert.Equal(t, int64(100), q.Bid.Price)
	assert.Equal(t, int64(102), q.Offer.Price)
}

func TestGetBars(t *testing.T) {
	f := newFixture(t)
	f.round(t, 1, 100, 102)

	resp, body := get(t, f.server, "/feeds/F1/bars/1m?depth=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bars []models.OHLCBar
	require.NoError(t, json.Unmarshal(body, &bars))
	require.Len(t, bars, 1)
	assert.Equal(t, int64(101), bars[0].Close.Price)

	resp, body = get(t, f.server, "/feeds/F1/bars/5m")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = get(t, f.server, "/feeds/F1/bars/1m?depth=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetProduct(t *testing.T) {
	f := newFixture(t)

	resp, _ := get(t, f.server, "/products/EURUSD.TOP/top")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.round(t, 7, 100, 102)

	resp, body := get(t, f.server, "/products/EURUSD.TOP/top")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p publisher.Product
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "EURUSD.TOP", p.Code)
	assert.Equal(t, "F1", p.Feed)
	assert.Equal(t, "top", p.Aggregator)
}

func TestCorrelationIDPropagated(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(CorrelationHeader, "abc-123")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(CorrelationHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.round(t, 1, 100, 102)

	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
