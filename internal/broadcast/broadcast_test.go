package broadcast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_SkipsMalformedAndEmpty(t *testing.T) {
	var got []Message
	h := func(m Message) { got = append(got, m) }

	decode([]byte(`not json`), h)
	decode([]byte(`{"version":3}`), h)
	decode([]byte(`{"slug":"acme","version":3,"origin":"a"}`), h)

	assert.Equal(t, []Message{{Slug: "acme", Version: 3, Origin: "a"}}, got)
}

func TestNoop(t *testing.T) {
	var b Broadcaster = Noop{}
	require.NoError(t, b.Publish(context.Background(), Message{Slug: "acme"}))
	stop, err := b.Subscribe(context.Background(), func(Message) { t.Fatal("unexpected message") })
	require.NoError(t, err)
	stop()
	assert.NoError(t, b.Close())
}

func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	b := NewRedis(client, "tenantctx.test")

	received := make(chan Message, 1)
	stop, err := b.Subscribe(ctx, func(m Message) { received <- m })
	require.NoError(t, err)
	defer stop()

	want := Message{Slug: "acme", Version: 7, Origin: "node-1"}
	require.NoError(t, b.Publish(ctx, want))

	select {
	case got := <-received:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestNATS_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	ctx := context.Background()
	b, err := ConnectNATS(url, "tenantctx.test."+t.Name())
	require.NoError(t, err)
	defer b.Close()

	received := make(chan Message, 4)
	stop, err := b.Subscribe(ctx, func(m Message) { received <- m })
	require.NoError(t, err)

	// A second subscriber proves messages are still flowing after stop.
	witness := make(chan Message, 4)
	stopWitness, err := b.Subscribe(ctx, func(m Message) { witness <- m })
	require.NoError(t, err)
	defer stopWitness()

	want := Message{Slug: "acme", Version: 7, Origin: "node-1"}
	require.NoError(t, b.Publish(ctx, want))
	for _, ch := range []chan Message{received, witness} {
		select {
		case got := <-ch:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered")
		}
	}

	stop()
	stop()
	require.NoError(t, b.nc.Flush())

	require.NoError(t, b.Publish(ctx, Message{Slug: "acme", Version: 8, Origin: "node-1"}))
	select {
	case got := <-witness:
		assert.Equal(t, int64(8), got.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	select {
	case got := <-received:
		t.Fatalf("stopped subscriber received %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNATS_SubscriptionEndsWithContext(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	b, err := ConnectNATS(url, "tenantctx.test."+t.Name())
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stop, err := b.Subscribe(ctx, func(Message) {})
	require.NoError(t, err)
	defer stop()
	require.Equal(t, 1, b.nc.NumSubscriptions())

	cancel()
	require.Eventually(t, func() bool { return b.nc.NumSubscriptions() == 0 }, 5*time.Second, 10*time.Millisecond)
}
