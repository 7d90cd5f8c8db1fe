package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sealedbid/internal/auction"
)

func TestTokenBucketRefill(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tb := newTokenBucket(2, 1, time.Second, clock)

	if !tb.Allow() || !tb.Allow() {
		t.Fatalf("expected the first two requests to pass")
	}
	if tb.Allow() {
		t.Fatalf("expected the bucket to be empty")
	}

	now = now.Add(1500 * time.Millisecond)
	if !tb.Allow() {
		t.Fatalf("expected one token after a refill period")
	}
	if tb.Allow() {
		t.Errorf("expected a single refill, the partial period must carry over")
	}

	now = now.Add(500 * time.Millisecond)
	if !tb.Allow() {
		t.Errorf("expected the carried-over half period to complete a refill")
	}

	now = now.Add(time.Hour)
	if tb.Tokens() != 0 {
		t.Errorf("tokens are only refilled on Allow")
	}
	tb.Allow()
	if tb.Tokens() != 1 {
		t.Errorf("expected refill capped at 2 then one consumed, got %d", tb.Tokens())
	}
}

func TestIdentity(t *testing.T) {
	var got auction.Caller
	var found bool
	h := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = CallerFrom(r.Context())
	}))

	tests := []struct {
		name   string
		id     string
		role   string
		status int
		found  bool
		admin  bool
	}{
		{"anonymous", "", "", http.StatusOK, false, false},
		{"user", "7", "", http.StatusOK, true, false},
		{"admin", "8", "Admin", http.StatusOK, true, true},
		{"unknown role", "9", "root", http.StatusOK, true, false},
		{"garbage", "x", "", http.StatusUnauthorized, false, false},
		{"zero", "0", "", http.StatusUnauthorized, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found = false
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.id != "" {
				req.Header.Set(HeaderUserID, tt.id)
			}
			if tt.role != "" {
				req.Header.Set(HeaderUserRole, tt.role)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if found != tt.found {
				t.Fatalf("expected caller found=%v, got %v", tt.found, found)
			}
			if found && got.IsAdmin() != tt.admin {
				t.Errorf("expected admin=%v, got %v", tt.admin, got.IsAdmin())
			}
		})
	}
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if k := rateLimitKey(req); k != "api:ip:10.0.0.1" {
		t.Errorf("unexpected key %q", k)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if k := rateLimitKey(req); k != "api:ip:203.0.113.9" {
		t.Errorf("unexpected key %q", k)
	}
	req = req.WithContext(WithCaller(req.Context(), auction.Caller{UserID: 42}))
	if k := rateLimitKey(req); k != "api:user:42" {
		t.Errorf("unexpected key %q", k)
	}
}
