package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	m := NewManager()

	_, err := m.Get("redis")
	require.Error(t, err)

	var got []Product
	m.Register("mem", Func(func(_ context.Context, p Product) error {
		got = append(got, p)
		return nil
	}))
	m.Register("other", Func(func(context.Context, Product) error { return nil }))

	p, err := m.Get("mem")
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), Product{Code: "EURUSD"}))
	require.Len(t, got, 1)
	assert.Equal(t, "EURUSD", got[0].Code)
	assert.Equal(t, []string{"mem", "other"}, m.Names())
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, Channel("EURUSD"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, time.Minute, slog.Default())
	in := Product{
		ID:          "p1",
		Code:        "EURUSD",
		ContentType: "top",
		Feed:        "F1",
		Aggregator:  "top",
		ProducedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:     json.RawMessage(`{"bid":100}`),
	}
	require.NoError(t, pub.Publish(ctx, in))

	assert.True(t, mr.Exists(ProductKey("EURUSD", "top")))
	assert.Equal(t, time.Minute, mr.TTL(ProductKey("EURUSD", "top")))

	out, found, err := pub.Latest(ctx, "EURUSD", "top")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in.ID, out.ID)
	assert.JSONEq(t, `{"bid":100}`, string(out.Payload))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"content_type":"top"`)

	_, found, err = pub.Latest(ctx, "EURUSD", "vwap")
	require.NoError(t, err)
	assert.False(t, found)
}
