package auction

import (
	"errors"

	"sealedbid/internal/commitment"
)

// Expected, caller-recoverable failures. Operations wrap these with context;
// test with errors.Is.
var (
	ErrInvalidInput       = commitment.ErrInvalidInput
	ErrInvalidProof       = errors.New("invalid proof")
	ErrReplayAttempt      = errors.New("proof bound to a different auction")
	ErrPhaseViolation     = errors.New("operation not allowed in current phase")
	ErrDuplicateBid       = errors.New("bidder already holds a sealed bid for this auction")
	ErrBidNotFound        = errors.New("bid not found")
	ErrAlreadyRevealed    = errors.New("bid already revealed")
	ErrCommitmentMismatch = errors.New("revealed values do not match commitment")
	ErrAlreadyClosed      = errors.New("auction already closed")
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrForbidden          = errors.New("caller not permitted")
)

// Kind returns a short stable name for an expected error, or "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, ErrReplayAttempt):
		return "replay_attempt"
	case errors.Is(err, ErrPhaseViolation):
		return "phase_violation"
	case errors.Is(err, ErrDuplicateBid):
		return "duplicate_bid"
	case errors.Is(err, ErrBidNotFound):
		return "bid_not_found"
	case errors.Is(err, ErrAlreadyRevealed):
		return "already_revealed"
	case errors.Is(err, ErrCommitmentMismatch):
		return "commitment_mismatch"
	case errors.Is(err, ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, ErrAuctionNotFound):
		return "auction_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return "internal"
}
