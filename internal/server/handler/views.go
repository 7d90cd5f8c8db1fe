package handler

import (
	"time"

	"sealedbid/internal/auction"
)

// auctionView is the API form of an auction. Amounts are decimal strings so
// 64-bit values survive JavaScript clients.
type auctionView struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	SellerID        int64      `json:"seller_id"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	DurationMinutes int        `json:"duration_minutes"`
	BiddingEndsAt   time.Time  `json:"bidding_ends_at"`
	RevealEndsAt    time.Time  `json:"reveal_ends_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	WinnerID        *int64     `json:"winner_id,omitempty"`
	WinningAmount   string     `json:"winning_amount,omitempty"`
}

func toAuctionView(a *auction.Auction) auctionView {
	v := auctionView{
		ID:              a.ID,
		Title:           a.Title,
		Description:     a.Description,
		SellerID:        a.SellerID,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt,
		DurationMinutes: a.DurationMinutes,
		BiddingEndsAt:   a.BiddingEndsAt(),
		RevealEndsAt:    a.RevealEndsAt(),
		ClosedAt:        a.ClosedAt,
		WinnerID:        a.WinnerID,
	}
	if a.WinningAmount != nil {
		v.WinningAmount = a.WinningAmount.String()
	}
	return v
}

func toAuctionViews(as []*auction.Auction) []auctionView {
	out := make([]auctionView, 0, len(as))
	for _, a := range as {
		out = append(out, toAuctionView(a))
	}
	return out
}

type bidView struct {
	ID         string     `json:"id"`
	AuctionID  int64      `json:"auction_id"`
	BidderID   int64      `json:"bidder_id"`
	Commitment string     `json:"commitment"`
	Revealed   bool       `json:"revealed"`
	Amount     string     `json:"amount,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
}

func toBidView(b *auction.Bid) bidView {
	v := bidView{
		ID:         b.ID,
		AuctionID:  b.AuctionID,
		BidderID:   b.BidderID,
		Commitment: b.Commitment,
		Revealed:   b.Revealed(),
		CreatedAt:  b.CreatedAt,
		RevealedAt: b.RevealedAt,
	}
	if b.Amount != nil {
		v.Amount = b.Amount.String()
	}
	return v
}

func toBidViews(bs []*auction.Bid) []bidView {
	out := make([]bidView, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBidView(b))
	}
	return out
}
