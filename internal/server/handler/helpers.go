package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"sealedbid/internal/auction"
	"sealedbid/internal/server/middleware"
	"sealedbid/internal/telemetry"
)

// maxBodyBytes caps request bodies. A snarkjs proof is well under 2 KiB.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auction.ErrInvalidInput),
		errors.Is(err, auction.ErrInvalidProof),
		errors.Is(err, auction.ErrReplayAttempt):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auction.ErrAuctionNotFound),
		errors.Is(err, auction.ErrBidNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrPhaseViolation),
		errors.Is(err, auction.ErrDuplicateBid),
		errors.Is(err, auction.ErrAlreadyRevealed),
		errors.Is(err, auction.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, auction.ErrCommitmentMismatch):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeEngineError reports err to the client. Internal failures are logged
// and replaced by a generic message.
func writeEngineError(w http.ResponseWriter, log *telemetry.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Z().Error().Err(err).Str("op", op).Msg("request failed")
		writeJSON(w, status, errorBody{Error: "internal server error", Kind: "internal"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: auction.Kind(err)})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid auction id %q", r.PathValue("id"))
	}
	return id, nil
}

// requireCaller writes 401 and returns false when the request is anonymous.
func requireCaller(w http.ResponseWriter, r *http.Request) (auction.Caller, bool) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderUserID)
		return auction.Caller{}, false
	}
	return c, true
}

func parseListFilter(r *http.Request) (auction.ListFilter, error) {
	q := r.URL.Query()
	f := auction.ListFilter{Limit: 50}

	if v := strings.ToUpper(strings.TrimSpace(q.Get("status"))); v != "" {
		f.Status = auction.Status(v)
	}
	if v := q.Get("seller_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid seller_id %q", v)
		}
		f.SellerID = id
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	return f, nil
}

// decimal accepts a JSON string or a bare JSON number and keeps its decimal
// text. Bare numbers are read without float conversion.
type decimal string

func (d *decimal) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = decimal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a decimal string or integer")
	}
	*d = decimal(n.String())
	return nil
}
