// events.go - Lifecycle events published after successful operations.

package auction

import (
	"context"
	"errors"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventAuctionCreated EventType = "auction.created"
	EventAuctionReveal  EventType = "auction.reveal"
	EventBidSealed      EventType = "bid.sealed"
	EventBidRevealed    EventType = "bid.revealed"
	EventAuctionClosed  EventType = "auction.closed"
)

// Event is safe to broadcast: it carries commitments, revealed amounts and
// outcomes, never secrets.
type Event struct {
	Type          EventType `json:"type"`
	AuctionID     int64     `json:"auction_id"`
	BidderID      *int64    `json:"bidder_id,omitempty"`
	Commitment    string    `json:"commitment,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	WinnerID      *int64    `json:"winner_id,omitempty"`
	WinningAmount string    `json:"winning_amount,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier delivers events. Delivery is best effort; the engine logs
// failures and never rolls back an operation because of one.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Archiver stores the final record of a closed auction.
type Archiver interface {
	Archive(ctx context.Context, a *Auction, bids []*Bid) error
}

// FanOut delivers each event to every notifier.
type FanOut []Notifier

func (f FanOut) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
