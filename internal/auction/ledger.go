// ledger.go - Bid ledger: one sealed commitment per (auction, bidder) and at
// most one reveal per bid.
//
// The ledger owns every mutation of a bid record. Uniqueness and the
// at-most-once reveal are enforced by conditional writes in the Store, so two
// racing requests for the same bid resolve to one success and one typed
// failure.

package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sealedbid/internal/commitment"
)

// Ledger mediates bid state changes.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// Seal records a sealed bid holding only its commitment.
func (l *Ledger) Seal(ctx context.Context, auctionID, bidderID int64, cm string) (*Bid, error) {
	if !commitment.IsCanonical(cm) {
		return nil, fmt.Errorf("commitment: %w", ErrInvalidInput)
	}
	b := &Bid{
		ID:         uuid.NewString(),
		AuctionID:  auctionID,
		BidderID:   bidderID,
		Commitment: cm,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.store.InsertBid(ctx, b); err != nil {
		return nil, fmt.Errorf("seal bid: %w", err)
	}
	return b, nil
}

// Reveal opens a sealed bid. The amount and secret must hash, together with
// the auction id, to the stored commitment.
func (l *Ledger) Reveal(ctx context.Context, auctionID, bidderID int64, amount, secret string) (*Bid, error) {
	a, err := commitment.ParseField(amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	s, err := commitment.ParseField(secret)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}

	b, err := l.store.GetBid(ctx, auctionID, bidderID)
	if err != nil {
		return nil, fmt.Errorf("reveal bid: %w", err)
	}
	if b.Revealed() {
		return nil, ErrAlreadyRevealed
	}

	cm, err := commitment.HashBid(a, s, auctionID)
	if err != nil {
		return nil, err
	}
	if cm != b.Commitment {
		return nil, ErrCommitmentMismatch
	}

	revealed, err := l.store.RevealBid(ctx, auctionID, bidderID, a, s, l.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reveal bid: %w", err)
	}
	return revealed, nil
}

// Bids returns an auction's bids in commitment order.
func (l *Ledger) Bids(ctx context.Context, auctionID int64) ([]*Bid, error) {
	return l.store.ListBids(ctx, auctionID)
}
