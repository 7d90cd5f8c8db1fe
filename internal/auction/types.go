// types.go - Auction and bid records.

package auction

import (
	"math/big"
	"time"
)

// Status is the persisted lifecycle state of an auction.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusReveal Status = "REVEAL"
	StatusClosed Status = "CLOSED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusReveal, StatusClosed:
		return true
	}
	return false
}

// Role of an authenticated caller.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller is the identity supplied by the upstream auth layer.
type Caller struct {
	UserID int64
	Role   Role
}

// IsAdmin reports whether the caller has administrator rights.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Auction is a sealed-bid auction. Status is a cache of the time-derived
// phase; see CurrentPhase.
type Auction struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	SellerID        int64      `json:"seller_id"`
	CreatedAt       time.Time  `json:"created_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          Status     `json:"status"`
	WinnerID        *int64     `json:"winner_id,omitempty"`
	WinningAmount   *big.Int   `json:"winning_amount,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

// BiddingEndsAt is when sealed bidding stops.
func (a *Auction) BiddingEndsAt() time.Time {
	return BiddingDeadline(a.CreatedAt, a.DurationMinutes)
}

// RevealEndsAt is when the reveal window ends.
func (a *Auction) RevealEndsAt() time.Time {
	return RevealDeadline(a.CreatedAt, a.DurationMinutes)
}

// Clone returns a deep copy.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	if a.WinnerID != nil {
		id := *a.WinnerID
		c.WinnerID = &id
	}
	if a.WinningAmount != nil {
		c.WinningAmount = new(big.Int).Set(a.WinningAmount)
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// Bid is one bidder's sealed commitment for one auction. Amount and Secret
// are nil until the bid is revealed and never change afterwards.
type Bid struct {
	ID         string     `json:"id"`
	AuctionID  int64      `json:"auction_id"`
	BidderID   int64      `json:"bidder_id"`
	Commitment string     `json:"commitment"`
	Amount     *big.Int   `json:"amount,omitempty"`
	Secret     *big.Int   `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
}

// Revealed reports whether the bid has been opened.
func (b *Bid) Revealed() bool {
	return b.Amount != nil
}

// Clone returns a deep copy.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	c := *b
	if b.Amount != nil {
		c.Amount = new(big.Int).Set(b.Amount)
	}
	if b.Secret != nil {
		c.Secret = new(big.Int).Set(b.Secret)
	}
	if b.RevealedAt != nil {
		t := *b.RevealedAt
		c.RevealedAt = &t
	}
	return &c
}

// Outcome is the result of closing an auction. Winner is nil when no bid
// was revealed.
type Outcome struct {
	WinnerID      *int64
	WinningAmount *big.Int
	RevealedCount int
	SealedCount   int
}

// ListFilter narrows ListAuctions. A zero value lists everything.
type ListFilter struct {
	Status   Status
	SellerID int64
	Limit    int
	Offset   int
}

// NewAuction holds the caller-supplied fields for CreateAuction.
type NewAuction struct {
	Title           string
	Description     string
	DurationMinutes int
}
