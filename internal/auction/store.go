package auction

import (
	"context"
	"math/big"
	"time"
)

// SettleFunc runs inside a store's atomic close section with the locked
// auction and all of its bids in commitment order. Returning an error aborts
// the close without writing anything.
type SettleFunc func(a *Auction, bids []*Bid) (*Outcome, error)

// Store is the durable record store behind the engine. Implementations must
// serialise per auction, never globally, and return copies that callers may
// mutate freely.
type Store interface {
	// CreateAuction assigns ID and persists a new auction.
	CreateAuction(ctx context.Context, a *Auction) (*Auction, error)
	// GetAuction returns ErrAuctionNotFound for unknown ids.
	GetAuction(ctx context.Context, id int64) (*Auction, error)
	// ListAuctions returns auctions newest first.
	ListAuctions(ctx context.Context, f ListFilter) ([]*Auction, error)
	// AdvanceStatus sets status to `to` only if it currently equals `from`.
	// It reports whether this call performed the change.
	AdvanceStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	// RevealExpired moves every OPEN auction whose bidding deadline is at or
	// before now to REVEAL and returns the ids it moved.
	RevealExpired(ctx context.Context, now time.Time) ([]int64, error)

	// InsertBid records a sealed bid. It fails with ErrDuplicateBid if the
	// bidder already holds one for the auction and with ErrPhaseViolation if
	// the stored auction status is no longer OPEN.
	InsertBid(ctx context.Context, b *Bid) error
	// GetBid returns ErrBidNotFound when the bidder has no bid.
	GetBid(ctx context.Context, auctionID, bidderID int64) (*Bid, error)
	// RevealBid sets amount and secret only while they are unset and the
	// auction is not closed. It fails with ErrAlreadyRevealed,
	// ErrPhaseViolation or ErrBidNotFound.
	RevealBid(ctx context.Context, auctionID, bidderID int64, amount, secret *big.Int, at time.Time) (*Bid, error)
	// ListBids returns an auction's bids in commitment order.
	ListBids(ctx context.Context, auctionID int64) ([]*Bid, error)
	// ListBidsByBidder returns a bidder's bids newest first.
	ListBidsByBidder(ctx context.Context, bidderID int64) ([]*Bid, error)

	// CloseAuction atomically re-reads the auction, fails with
	// ErrAlreadyClosed if it is closed, otherwise applies settle and writes
	// CLOSED together with the outcome.
	CloseAuction(ctx context.Context, id int64, at time.Time, settle SettleFunc) (*Auction, *Outcome, error)

	Ping(ctx context.Context) error
}
