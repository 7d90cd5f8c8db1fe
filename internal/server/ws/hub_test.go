package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sealedbid/internal/auction"
	"sealedbid/internal/telemetry"
)

type chanSource chan []byte

func (s chanSource) Subscribe(context.Context) (<-chan []byte, error) {
	return s, nil
}

// replaySource is a Source whose history is fixed.
type replaySource struct {
	chanSource
	history []auction.Event
}

func (s replaySource) Recent(_ context.Context, count int) ([]auction.Event, error) {
	if len(s.history) > count {
		return s.history[len(s.history)-count:], nil
	}
	return s.history, nil
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubRelaysSourceWithFilter(t *testing.T) {
	src := make(chanSource, 4)
	h := NewHub(src, telemetry.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, h)
	waitClients(t, h, 1)

	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Auctions: []int64{2}}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	// Give the read pump time to apply the filter.
	time.Sleep(50 * time.Millisecond)

	for _, id := range []int64{1, 2} {
		data, _ := json.Marshal(auction.Event{Type: auction.EventBidSealed, AuctionID: id})
		src <- data
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev auction.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ev.AuctionID != 2 {
		t.Errorf("expected only auction 2 events, got auction %d", ev.AuctionID)
	}
}

func TestSubscribeReplaysRecentEvents(t *testing.T) {
	src := replaySource{
		chanSource: make(chanSource),
		history: []auction.Event{
			{Type: auction.EventBidSealed, AuctionID: 2},
			{Type: auction.EventBidSealed, AuctionID: 1},
			{Type: auction.EventBidRevealed, AuctionID: 2},
		},
	}
	h := NewHub(src, telemetry.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, h)
	waitClients(t, h, 1)
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Auctions: []int64{2}}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	want := []auction.EventType{auction.EventBidSealed, auction.EventBidRevealed}
	for i, typ := range want {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev auction.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if ev.AuctionID != 2 || ev.Type != typ {
			t.Errorf("replayed event %d = %s for auction %d, want %s for auction 2", i, ev.Type, ev.AuctionID, typ)
		}
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	h := NewHub(nil, telemetry.NewNopLogger())
	// Run is not started, so the queue fills and further events are dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(h.broadcast)+10; i++ {
			h.Notify(context.Background(), auction.Event{Type: auction.EventAuctionCreated, AuctionID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Notify blocked")
	}
}
