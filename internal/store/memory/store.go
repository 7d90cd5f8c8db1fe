// Package memory implements auction.Store in process memory for development
// and tests. Each auction has its own mutex; the index lock is held only to
// look entries up.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"sealedbid/internal/auction"
)

type entry struct {
	mu      sync.Mutex
	auction *auction.Auction
	bids    []*auction.Bid // commitment order
	byBid   map[int64]*auction.Bid
}

// Store is an in-memory auction.Store.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	auctions map[int64]*entry
	byBidder map[int64][]*auction.Bid
}

// New creates an empty store.
func New() *Store {
	return &Store{
		auctions: make(map[int64]*entry),
		byBidder: make(map[int64][]*auction.Bid),
	}
}

func (s *Store) get(id int64) (*entry, error) {
	s.mu.RLock()
	e, ok := s.auctions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, auction.ErrAuctionNotFound
	}
	return e, nil
}

func (s *Store) CreateAuction(_ context.Context, a *auction.Auction) (*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	c := a.Clone()
	c.ID = s.nextID
	s.auctions[c.ID] = &entry{auction: c, byBid: make(map[int64]*auction.Bid)}
	return c.Clone(), nil
}

func (s *Store) GetAuction(_ context.Context, id int64) (*auction.Auction, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auction.Clone(), nil
}

func (s *Store) ListAuctions(_ context.Context, f auction.ListFilter) ([]*auction.Auction, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.auctions))
	for _, e := range s.auctions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*auction.Auction
	for _, e := range entries {
		e.mu.Lock()
		a := e.auction.Clone()
		e.mu.Unlock()
		if f.Status != "" && a.Status != f.Status && !(f.Status == auction.StatusReveal && a.Status == auction.StatusOpen) {
			continue
		}
		if f.SellerID != 0 && a.SellerID != f.SellerID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) AdvanceStatus(_ context.Context, id int64, from, to auction.Status) (bool, error) {
	e, err := s.get(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auction.Status != from {
		return false, nil
	}
	e.auction.Status = to
	return true, nil
}

func (s *Store) RevealExpired(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.auctions))
	for _, e := range s.auctions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var moved []int64
	for _, e := range entries {
		e.mu.Lock()
		if auction.NeedsReveal(e.auction, now) {
			e.auction.Status = auction.StatusReveal
			moved = append(moved, e.auction.ID)
		}
		e.mu.Unlock()
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i] < moved[j] })
	return moved, nil
}

func (s *Store) InsertBid(_ context.Context, b *auction.Bid) error {
	e, err := s.get(b.AuctionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.auction.Status != auction.StatusOpen {
		e.mu.Unlock()
		return auction.ErrPhaseViolation
	}
	if _, dup := e.byBid[b.BidderID]; dup {
		e.mu.Unlock()
		return auction.ErrDuplicateBid
	}
	c := b.Clone()
	e.bids = append(e.bids, c)
	e.byBid[b.BidderID] = c
	e.mu.Unlock()

	s.mu.Lock()
	s.byBidder[b.BidderID] = append(s.byBidder[b.BidderID], c)
	s.mu.Unlock()
	return nil
}

func (s *Store) GetBid(_ context.Context, auctionID, bidderID int64) (*auction.Bid, error) {
	e, err := s.get(auctionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.byBid[bidderID]
	if !ok {
		return nil, auction.ErrBidNotFound
	}
	return b.Clone(), nil
}

func (s *Store) RevealBid(_ context.Context, auctionID, bidderID int64, amount, secret *big.Int, at time.Time) (*auction.Bid, error) {
	e, err := s.get(auctionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auction.Status == auction.StatusClosed {
		return nil, auction.ErrPhaseViolation
	}
	b, ok := e.byBid[bidderID]
	if !ok {
		return nil, auction.ErrBidNotFound
	}
	if b.Revealed() {
		return nil, auction.ErrAlreadyRevealed
	}
	b.Amount = new(big.Int).Set(amount)
	b.Secret = new(big.Int).Set(secret)
	t := at
	b.RevealedAt = &t
	return b.Clone(), nil
}

func (s *Store) ListBids(_ context.Context, auctionID int64) ([]*auction.Bid, error) {
	e, err := s.get(auctionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneBids(e.bids), nil
}

func (s *Store) ListBidsByBidder(_ context.Context, bidderID int64) ([]*auction.Bid, error) {
	s.mu.RLock()
	refs := append([]*auction.Bid(nil), s.byBidder[bidderID]...)
	s.mu.RUnlock()

	out := make([]*auction.Bid, 0, len(refs))
	for i := len(refs) - 1; i >= 0; i-- {
		e, err := s.get(refs[i].AuctionID)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		out = append(out, refs[i].Clone())
		e.mu.Unlock()
	}
	return out, nil
}

func (s *Store) CloseAuction(_ context.Context, id int64, at time.Time, settle auction.SettleFunc) (*auction.Auction, *auction.Outcome, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.auction.Status == auction.StatusClosed {
		return nil, nil, auction.ErrAlreadyClosed
	}
	outcome, err := settle(e.auction.Clone(), cloneBids(e.bids))
	if err != nil {
		return nil, nil, err
	}

	e.auction.Status = auction.StatusClosed
	t := at
	e.auction.ClosedAt = &t
	if outcome.WinnerID != nil {
		id := *outcome.WinnerID
		e.auction.WinnerID = &id
		e.auction.WinningAmount = new(big.Int).Set(outcome.WinningAmount)
	}
	return e.auction.Clone(), outcome, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func cloneBids(bids []*auction.Bid) []*auction.Bid {
	out := make([]*auction.Bid, len(bids))
	for i, b := range bids {
		out[i] = b.Clone()
	}
	return out
}

var _ auction.Store = (*Store)(nil)
