package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"sealedbid/internal/auction"
)

// newTestClient connects to REDIS_ADDR, skipping when it is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRateLimiterWindow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rl := NewRateLimiter(c, 3, time.Minute)
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { c.rdb.Del(ctx, rateLimitKey(key), rateLimitKey(key)+":seq") })

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, err := rl.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if ok {
		t.Errorf("fourth request within the window should be denied")
	}

	// Moving the clock past the window frees the key again.
	rl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if ok, _ := rl.Allow(ctx, key); !ok {
		t.Errorf("request after the window should be allowed")
	}
}

func TestEventBusPublishAndSubscribe(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewEventBus(c)
	sub, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ev := auction.Event{Type: auction.EventBidSealed, AuctionID: 42, Commitment: "123", At: time.Now().UTC()}
	if err := bus.Notify(ctx, ev); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case payload := <-sub:
		if len(payload) == 0 {
			t.Errorf("expected a payload")
		}
	case <-ctx.Done():
		t.Fatalf("no event received")
	}

	recent, err := bus.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) == 0 || recent[len(recent)-1].AuctionID != 42 {
		t.Errorf("expected the stream to end with auction 42, got %d events", len(recent))
	}
}
