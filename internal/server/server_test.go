package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sealedbid/internal/auction"
	"sealedbid/internal/commitment"
	"sealedbid/internal/server"
	"sealedbid/internal/server/handler"
	"sealedbid/internal/server/middleware"
	"sealedbid/internal/server/ws"
	"sealedbid/internal/store/memory"
	"sealedbid/internal/telemetry"
	"sealedbid/internal/zkp"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type acceptAll struct{}

func (acceptAll) Check(*zkp.Proof, []string) error { return nil }

type env struct {
	srv     *httptest.Server
	clk     *clock
	health  *telemetry.HealthChecker
	metrics *telemetry.MetricsCollector
}

type envOptions struct {
	apiKey  string
	limiter middleware.Limiter
	hub     bool
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	log := telemetry.NewNopLogger()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	metrics := telemetry.NewMetricsCollector()
	health := telemetry.NewHealthChecker("test")

	var hub *ws.Hub
	engineOpts := []auction.Option{auction.WithClock(clk.Now), auction.WithMetrics(metrics)}
	if opts.hub {
		hub = ws.NewHub(nil, log)
		engineOpts = append(engineOpts, auction.WithNotifier(hub))
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go hub.Run(ctx)
	}

	engine, err := auction.NewEngine(auction.DefaultConfig(), memory.New(), acceptAll{}, engineOpts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	h := server.NewHandler(server.Config{APIKey: opts.apiKey}, server.Handlers{
		Health:   handler.NewHealthHandler(health, metrics),
		Auctions: handler.NewAuctionHandler(engine, log),
	}, hub, opts.limiter, log)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, clk: clk, health: health, metrics: metrics}
}

type response struct {
	status int
	body   map[string]any
	raw    []byte
}

func (e *env) do(t *testing.T, method, path string, user int64, body any) response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(user, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	out := response{status: resp.StatusCode, raw: buf.Bytes()}
	_ = json.Unmarshal(out.raw, &out.body)
	return out
}

func proofBody(cm string, auctionID int64) map[string]any {
	return map[string]any{
		"proof": map[string]any{
			"pi_a":     []string{"1", "2", "1"},
			"pi_b":     [][]string{{"1", "0"}, {"1", "0"}, {"1", "0"}},
			"pi_c":     []string{"1", "2", "1"},
			"protocol": "groth16",
			"curve":    "bn128",
		},
		"publicSignals": []string{cm, strconv.FormatInt(auctionID, 10)},
	}
}

func createAuction(t *testing.T, e *env, seller int64) int64 {
	t.Helper()
	r := e.do(t, http.MethodPost, "/api/auctions", seller,
		map[string]any{"title": "Painting", "duration_minutes": 10})
	if r.status != http.StatusCreated {
		t.Fatalf("create auction: status %d: %s", r.status, r.raw)
	}
	return int64(r.body["id"].(float64))
}

func mustHash(t *testing.T, amount, secret string, auctionID int64) string {
	t.Helper()
	cm, err := commitment.Hash(amount, secret, strconv.FormatInt(auctionID, 10))
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return cm
}

func TestAuctionLifecycle(t *testing.T) {
	e := newEnv(t, envOptions{})
	const seller, alice, bob = 1, 2, 3
	id := createAuction(t, e, seller)
	base := fmt.Sprintf("/api/auctions/%d", id)

	bids := []struct {
		bidder         int64
		amount, secret string
	}{{alice, "120", "1111"}, {bob, "180", "2222"}}
	for _, b := range bids {
		r := e.do(t, http.MethodPost, base+"/bids", b.bidder, proofBody(mustHash(t, b.amount, b.secret, id), id))
		if r.status != http.StatusCreated {
			t.Fatalf("place bid for %d: status %d: %s", b.bidder, r.status, r.raw)
		}
		if _, ok := r.body["amount"]; ok {
			t.Errorf("sealed bid response must not carry an amount")
		}
	}

	e.clk.Advance(9 * time.Minute)
	if r := e.do(t, http.MethodGet, base, 0, nil); r.body["status"] != "REVEAL" {
		t.Fatalf("expected REVEAL at the bidding deadline, got %v", r.body["status"])
	}

	for _, b := range bids {
		// Amounts may be sent as bare JSON numbers too.
		amount, _ := strconv.Atoi(b.amount)
		r := e.do(t, http.MethodPost, base+"/reveal", b.bidder, map[string]any{"amount": amount, "secret": b.secret})
		if r.status != http.StatusOK {
			t.Fatalf("reveal for %d: status %d: %s", b.bidder, r.status, r.raw)
		}
		if _, ok := r.body["secret"]; ok {
			t.Errorf("reveal response leaks the secret: %s", r.raw)
		}
		if r.body["amount"] != b.amount {
			t.Errorf("expected revealed amount %s, got %v", b.amount, r.body["amount"])
		}
	}

	r := e.do(t, http.MethodPost, base+"/close", seller, nil)
	if r.status != http.StatusOK {
		t.Fatalf("close: status %d: %s", r.status, r.raw)
	}
	if r.body["status"] != "CLOSED" || r.body["winning_amount"] != "180" || r.body["winner_id"] != float64(bob) {
		t.Errorf("unexpected close result: %s", r.raw)
	}

	r = e.do(t, http.MethodGet, "/api/me/bids", bob, nil)
	var mine []map[string]any
	if err := json.Unmarshal(r.raw, &mine); err != nil || len(mine) != 1 || mine[0]["amount"] != "180" {
		t.Errorf("unexpected bid history: %s", r.raw)
	}

	r = e.do(t, http.MethodGet, base+"/bids", 0, nil)
	var all []map[string]any
	if err := json.Unmarshal(r.raw, &all); err != nil || len(all) != 2 {
		t.Errorf("unexpected auction bids: %s", r.raw)
	}

	r = e.do(t, http.MethodGet, "/api/auctions?status=closed", 0, nil)
	var closed []map[string]any
	if err := json.Unmarshal(r.raw, &closed); err != nil || len(closed) != 1 {
		t.Errorf("expected one closed auction, got %s", r.raw)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	e := newEnv(t, envOptions{})
	const seller, bidder = 1, 2
	id := createAuction(t, e, seller)
	other := createAuction(t, e, seller)
	base := fmt.Sprintf("/api/auctions/%d", id)
	cm := mustHash(t, "50", "9", id)

	if r := e.do(t, http.MethodPost, base+"/bids", bidder, proofBody(cm, id)); r.status != http.StatusCreated {
		t.Fatalf("place bid: status %d: %s", r.status, r.raw)
	}

	tests := []struct {
		name   string
		method string
		path   string
		user   int64
		body   any
		status int
		kind   string
	}{
		{"anonymous create", http.MethodPost, "/api/auctions", 0, map[string]any{"title": "x", "duration_minutes": 5}, http.StatusUnauthorized, ""},
		{"empty title", http.MethodPost, "/api/auctions", seller, map[string]any{"title": " ", "duration_minutes": 5}, http.StatusBadRequest, "invalid_input"},
		{"unknown auction", http.MethodGet, "/api/auctions/999", 0, nil, http.StatusNotFound, "auction_not_found"},
		{"bad id", http.MethodGet, "/api/auctions/abc", 0, nil, http.StatusBadRequest, ""},
		{"seller bids", http.MethodPost, base + "/bids", seller, proofBody(cm, id), http.StatusForbidden, "forbidden"},
		{"duplicate bid", http.MethodPost, base + "/bids", bidder, proofBody(cm, id), http.StatusConflict, "duplicate_bid"},
		{"replayed proof", http.MethodPost, fmt.Sprintf("/api/auctions/%d/bids", other), bidder, proofBody(cm, id), http.StatusBadRequest, "replay_attempt"},
		{"reveal while open", http.MethodPost, base + "/reveal", bidder, map[string]any{"amount": "50", "secret": "9"}, http.StatusConflict, "phase_violation"},
		{"close while open", http.MethodPost, base + "/close", seller, nil, http.StatusConflict, "phase_violation"},
		{"close by stranger", http.MethodPost, base + "/close", 77, nil, http.StatusForbidden, "forbidden"},
		{"force close disabled", http.MethodPost, base + "/force-close", seller, nil, http.StatusForbidden, "forbidden"},
		{"unknown status filter", http.MethodGet, "/api/auctions?status=weird", 0, nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.do(t, tt.method, tt.path, tt.user, tt.body)
			if r.status != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, r.status, r.raw)
			}
			if tt.kind != "" && r.body["kind"] != tt.kind {
				t.Errorf("expected kind %q, got %v", tt.kind, r.body["kind"])
			}
		})
	}

	e.clk.Advance(9 * time.Minute)
	reveal := []struct {
		name   string
		user   int64
		body   any
		status int
	}{
		{"wrong secret", bidder, map[string]any{"amount": "50", "secret": "10"}, http.StatusUnprocessableEntity},
		{"no bid", 5, map[string]any{"amount": "50", "secret": "9"}, http.StatusNotFound},
		{"negative amount", bidder, map[string]any{"amount": "-50", "secret": "9"}, http.StatusBadRequest},
		{"correct", bidder, map[string]any{"amount": "50", "secret": "9"}, http.StatusOK},
		{"second reveal", bidder, map[string]any{"amount": "50", "secret": "9"}, http.StatusConflict},
	}
	for _, tt := range reveal {
		t.Run(tt.name, func(t *testing.T) {
			if r := e.do(t, http.MethodPost, base+"/reveal", tt.user, tt.body); r.status != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, r.status, r.raw)
			}
		})
	}

	if r := e.do(t, http.MethodPost, base+"/close", seller, nil); r.status != http.StatusOK {
		t.Fatalf("close: status %d: %s", r.status, r.raw)
	}
	if r := e.do(t, http.MethodPost, base+"/close", seller, nil); r.status != http.StatusConflict || r.body["kind"] != "already_closed" {
		t.Errorf("expected already_closed conflict, got %d: %s", r.status, r.raw)
	}
}

func TestAPIKey(t *testing.T) {
	e := newEnv(t, envOptions{apiKey: "s3cret"})

	if r := e.do(t, http.MethodGet, "/api/auctions", 0, nil); r.status != http.StatusUnauthorized {
		t.Errorf("expected 401 without a key, got %d", r.status)
	}

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") },
		func(r *http.Request) { r.Header.Set("X-API-Key", "s3cret") },
	} {
		req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/auctions", nil)
		set(req)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 with a valid key, got %d", resp.StatusCode)
		}
	}
}

func TestInvalidUserHeader(t *testing.T) {
	e := newEnv(t, envOptions{})
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/me/bids", nil)
	req.Header.Set("X-User-ID", "not-a-number")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, envOptions{limiter: middleware.NewLocalLimiter(2, 1, time.Hour)})

	for i := 0; i < 2; i++ {
		if r := e.do(t, http.MethodGet, "/api/auctions", 1, nil); r.status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, r.status)
		}
	}
	if r := e.do(t, http.MethodGet, "/api/auctions", 1, nil); r.status != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", r.status)
	}
	// Other callers have their own bucket.
	if r := e.do(t, http.MethodGet, "/api/auctions", 2, nil); r.status != http.StatusOK {
		t.Errorf("expected 200 for another caller, got %d", r.status)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	e := newEnv(t, envOptions{limiter: failingLimiter{}})
	if r := e.do(t, http.MethodGet, "/api/auctions", 1, nil); r.status != http.StatusOK {
		t.Errorf("expected limiter errors to fail open, got %d", r.status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.health.RegisterComponent("store", true, func(context.Context) error { return nil })

	r := e.do(t, http.MethodGet, "/api/health", 0, nil)
	if r.status != http.StatusOK || r.body["status"] != "success" {
		t.Errorf("expected healthy response, got %d: %s", r.status, r.raw)
	}

	e.health.RegisterComponent("archive", true, func(context.Context) error { return errors.New("bucket missing") })
	if r := e.do(t, http.MethodGet, "/api/health", 0, nil); r.status != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with a failing critical component, got %d", r.status)
	}

	createAuction(t, e, 1)
	if e.metrics.Counter(telemetry.MetricAuctionsCreated, nil) != 1 {
		t.Errorf("expected the auctions created counter to be 1")
	}
	if r := e.do(t, http.MethodGet, "/api/metrics", 0, nil); r.status != http.StatusOK {
		t.Errorf("metrics: status %d", r.status)
	}
}

func TestWebSocketEvents(t *testing.T) {
	e := newEnv(t, envOptions{hub: true})

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; retry creation until an event arrives.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	events := make(chan auction.Event, 8)
	go func() {
		for {
			var ev auction.Event
			if err := conn.ReadJSON(&ev); err != nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		createAuction(t, e, 1)
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("connection closed before any event")
			}
			if ev.Type != auction.EventAuctionCreated {
				t.Errorf("expected %s, got %s", auction.EventAuctionCreated, ev.Type)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no event received")
		}
	}
}
