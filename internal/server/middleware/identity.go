package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"sealedbid/internal/auction"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type callerKey struct{}

// Identity reads the caller set by the upstream auth gateway. Requests
// without X-User-ID pass through anonymously; a malformed id is rejected.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				writeJSONError(w, http.StatusUnauthorized, "invalid user id")
				return
			}

			caller := auction.Caller{UserID: id, Role: auction.RoleUser}
			if strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), string(auction.RoleAdmin)) {
				caller.Role = auction.RoleAdmin
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// WithCaller attaches caller to ctx.
func WithCaller(ctx context.Context, caller auction.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (auction.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(auction.Caller)
	return c, ok
}
