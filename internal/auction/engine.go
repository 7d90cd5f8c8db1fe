// engine.go - Auction orchestrator.
//
// The engine composes the phase clock, proof verifier, ledger and winner
// selector into the protocol operations. Every read path reconciles a stale
// OPEN status to REVEAL with a compare-and-swap before returning.

package auction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"sealedbid/internal/commitment"
	"sealedbid/internal/telemetry"
	"sealedbid/internal/zkp"
)

// afterCloseTimeout bounds archiving and notification once a close has
// been written.
const afterCloseTimeout = 30 * time.Second

// ProofVerifier checks a sealed bid proof against its public signals.
// Public signal 0 is the commitment and signal 1 the bound auction id.
type ProofVerifier interface {
	Check(p *zkp.Proof, publicSignals []string) error
}

// Config holds engine policy.
type Config struct {
	// ReplayBinding requires public signal 1 to equal the target auction id.
	ReplayBinding bool
	// AllowForceClose enables ForceCloseAuction.
	AllowForceClose bool
	// CloseRequiresRevealEnd rejects normal closes before the reveal
	// window has fully elapsed.
	CloseRequiresRevealEnd bool
	// ClosedCacheSize is the number of closed auctions kept in memory.
	ClosedCacheSize int
	// MaxDurationMinutes caps new auctions; zero means no cap.
	MaxDurationMinutes int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		ReplayBinding:      true,
		ClosedCacheSize:    1024,
		MaxDurationMinutes: 7 * 24 * 60,
	}
}

// Engine runs sealed-bid auctions. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	store    Store
	ledger   *Ledger
	verifier ProofVerifier
	notifier Notifier
	archiver Archiver
	closed   *lru.Cache
	log      *telemetry.Logger
	metrics  *telemetry.MetricsCollector
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithArchiver(a Archiver) Option { return func(e *Engine) { e.archiver = a } }

func WithLogger(l *telemetry.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *telemetry.MetricsCollector) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine. The verifier must already hold its key.
func NewEngine(cfg Config, store Store, verifier ProofVerifier, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("auction: store is required")
	}
	if verifier == nil {
		return nil, errors.New("auction: verifier is required")
	}
	e := &Engine{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		log:      telemetry.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	size := cfg.ClosedCacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("auction: closed cache: %w", err)
	}
	e.closed = cache
	e.ledger = NewLedger(store, e.now)
	return e, nil
}

// CreateAuction opens a new auction owned by the caller.
func (e *Engine) CreateAuction(ctx context.Context, caller Caller, in NewAuction) (*Auction, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("title is required: %w", ErrInvalidInput)
	}
	if in.DurationMinutes <= 0 {
		return nil, fmt.Errorf("duration must be positive: %w", ErrInvalidInput)
	}
	if e.cfg.MaxDurationMinutes > 0 && in.DurationMinutes > e.cfg.MaxDurationMinutes {
		return nil, fmt.Errorf("duration exceeds %d minutes: %w", e.cfg.MaxDurationMinutes, ErrInvalidInput)
	}

	a, err := e.store.CreateAuction(ctx, &Auction{
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		SellerID:        caller.UserID,
		CreatedAt:       e.now().UTC(),
		DurationMinutes: in.DurationMinutes,
		Status:          StatusOpen,
	})
	if err != nil {
		return nil, fmt.Errorf("create auction: %w", err)
	}

	e.metrics.RecordAuctionCreated()
	e.log.Z().Info().Int64("auction_id", a.ID).Int64("seller_id", a.SellerID).
		Int("duration_minutes", a.DurationMinutes).Msg("auction created")
	e.notify(ctx, Event{Type: EventAuctionCreated, AuctionID: a.ID, At: a.CreatedAt})
	return a, nil
}

// GetAuction returns an auction with its status reconciled to the clock.
func (e *Engine) GetAuction(ctx context.Context, id int64) (*Auction, error) {
	if v, ok := e.closed.Get(id); ok {
		return v.(*Auction).Clone(), nil
	}
	a, err := e.store.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.reconcile(ctx, a)
}

// ListAuctions lists auctions after reconciling each one. With a status
// filter, every expired OPEN auction is moved to REVEAL before the store pages
// the result, so a page is never short because of stale rows. The filter is
// re-applied afterwards for auctions that expire in between.
func (e *Engine) ListAuctions(ctx context.Context, f ListFilter) ([]*Auction, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", f.Status, ErrInvalidInput)
	}
	if f.Status != "" {
		moved, err := e.store.RevealExpired(ctx, e.now())
		if err != nil {
			return nil, fmt.Errorf("reveal expired auctions: %w", err)
		}
		for _, id := range moved {
			e.enteredReveal(ctx, id)
		}
	}
	list, err := e.store.ListAuctions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	out := make([]*Auction, 0, len(list))
	for _, a := range list {
		a, err := e.reconcile(ctx, a)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// reconcile moves a stale OPEN auction to REVEAL. Losing the CAS means a
// concurrent request changed the status, so the auction is re-read.
func (e *Engine) reconcile(ctx context.Context, a *Auction) (*Auction, error) {
	if a.Status == StatusClosed {
		e.closed.Add(a.ID, a.Clone())
		return a, nil
	}
	if !NeedsReveal(a, e.now()) {
		return a, nil
	}
	ok, err := e.store.AdvanceStatus(ctx, a.ID, StatusOpen, StatusReveal)
	if err != nil {
		return nil, fmt.Errorf("advance auction %d: %w", a.ID, err)
	}
	if !ok {
		fresh, err := e.store.GetAuction(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	}
	a.Status = StatusReveal
	e.enteredReveal(ctx, a.ID)
	return a, nil
}

func (e *Engine) enteredReveal(ctx context.Context, id int64) {
	e.metrics.RecordPhaseTransition(string(StatusReveal))
	e.log.Z().Info().Int64("auction_id", id).Msg("auction entered reveal phase")
	e.notify(ctx, Event{Type: EventAuctionReveal, AuctionID: id, At: e.now().UTC()})
}

// PlaceSealedBid admits a sealed bid backed by a zero-knowledge proof. Only
// the commitment in public signal 0 is recorded.
func (e *Engine) PlaceSealedBid(ctx context.Context, auctionID, bidderID int64, proof *zkp.Proof, publicSignals []string) (*Bid, error) {
	b, err := e.placeSealedBid(ctx, auctionID, bidderID, proof, publicSignals)
	if err != nil {
		e.reject("place", auctionID, bidderID, err)
		return nil, err
	}
	return b, nil
}

func (e *Engine) placeSealedBid(ctx context.Context, auctionID, bidderID int64, proof *zkp.Proof, publicSignals []string) (*Bid, error) {
	a, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if phase := a.Phase(e.now()); phase != StatusOpen {
		return nil, fmt.Errorf("auction %d is %s: %w", auctionID, phase, ErrPhaseViolation)
	}
	if a.SellerID == bidderID {
		return nil, fmt.Errorf("seller cannot bid on own auction: %w", ErrForbidden)
	}

	if e.cfg.ReplayBinding {
		if len(publicSignals) < 2 {
			return nil, fmt.Errorf("missing auction binding signal: %w", ErrInvalidProof)
		}
		if publicSignals[1] != strconv.FormatInt(auctionID, 10) {
			return nil, ErrReplayAttempt
		}
	}

	start := time.Now()
	err = e.verifier.Check(proof, publicSignals)
	e.metrics.RecordVerification(time.Since(start))
	if err != nil {
		e.log.Z().Debug().Int64("auction_id", auctionID).Int64("bidder_id", bidderID).
			Err(err).Msg("proof rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	cm, err := commitment.ParseField(publicSignals[0])
	if err != nil {
		return nil, fmt.Errorf("%w: commitment signal: %v", ErrInvalidProof, err)
	}

	b, err := e.ledger.Seal(ctx, auctionID, bidderID, cm.String())
	if err != nil {
		return nil, err
	}

	e.metrics.RecordSealedBid()
	e.log.Z().Info().Int64("auction_id", auctionID).Int64("bidder_id", bidderID).
		Str("commitment", b.Commitment).Msg("sealed bid accepted")
	bidder := bidderID
	e.notify(ctx, Event{Type: EventBidSealed, AuctionID: auctionID, BidderID: &bidder, Commitment: b.Commitment, At: b.CreatedAt})
	return b, nil
}

// RevealBid opens a sealed bid. Reveals are accepted while the auction is in
// REVEAL, which includes the time after the reveal window until it is
// closed; never while OPEN.
func (e *Engine) RevealBid(ctx context.Context, auctionID, bidderID int64, amount, secret string) (*Bid, error) {
	b, err := e.revealBid(ctx, auctionID, bidderID, amount, secret)
	if err != nil {
		e.reject("reveal", auctionID, bidderID, err)
		return nil, err
	}
	return b, nil
}

func (e *Engine) revealBid(ctx context.Context, auctionID, bidderID int64, amount, secret string) (*Bid, error) {
	a, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if phase := a.Phase(e.now()); phase != StatusReveal {
		return nil, fmt.Errorf("auction %d is %s: %w", auctionID, phase, ErrPhaseViolation)
	}

	b, err := e.ledger.Reveal(ctx, auctionID, bidderID, amount, secret)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordReveal()
	e.log.Z().Info().Int64("auction_id", auctionID).Int64("bidder_id", bidderID).
		Str("commitment", b.Commitment).Msg("bid revealed")
	bidder := bidderID
	e.notify(ctx, Event{
		Type:       EventBidRevealed,
		AuctionID:  auctionID,
		BidderID:   &bidder,
		Commitment: b.Commitment,
		Amount:     b.Amount.String(),
		At:         e.now().UTC(),
	})
	b.Secret = nil
	return b, nil
}

// CloseAuction finalises an auction from REVEAL. Only the seller or an
// administrator may close.
func (e *Engine) CloseAuction(ctx context.Context, caller Caller, auctionID int64) (*Auction, error) {
	a, err := e.closeAuction(ctx, caller, auctionID, false)
	if err != nil {
		e.reject("close", auctionID, caller.UserID, err)
		return nil, err
	}
	return a, nil
}

// ForceCloseAuction closes an auction even while it is OPEN, skipping the
// reveal window. It is disabled unless Config.AllowForceClose is set.
func (e *Engine) ForceCloseAuction(ctx context.Context, caller Caller, auctionID int64) (*Auction, error) {
	if !e.cfg.AllowForceClose {
		err := fmt.Errorf("force close is disabled: %w", ErrForbidden)
		e.reject("force_close", auctionID, caller.UserID, err)
		return nil, err
	}
	a, err := e.closeAuction(ctx, caller, auctionID, true)
	if err != nil {
		e.reject("force_close", auctionID, caller.UserID, err)
		return nil, err
	}
	return a, nil
}

func (e *Engine) closeAuction(ctx context.Context, caller Caller, auctionID int64, force bool) (*Auction, error) {
	a, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.SellerID != caller.UserID && !caller.IsAdmin() {
		return nil, fmt.Errorf("only the seller or an admin may close: %w", ErrForbidden)
	}
	if a.Status == StatusClosed {
		return nil, ErrAlreadyClosed
	}

	now := e.now().UTC()
	var bids []*Bid
	settle := func(locked *Auction, all []*Bid) (*Outcome, error) {
		if !force {
			if locked.Phase(now) == StatusOpen {
				return nil, fmt.Errorf("auction %d is still open: %w", locked.ID, ErrPhaseViolation)
			}
			if e.cfg.CloseRequiresRevealEnd && now.Before(locked.RevealEndsAt()) {
				return nil, fmt.Errorf("reveal window ends at %s: %w", locked.RevealEndsAt().Format(time.RFC3339), ErrPhaseViolation)
			}
		}
		bids = all
		return Settle(all), nil
	}

	closed, outcome, err := e.store.CloseAuction(ctx, auctionID, now, settle)
	if err != nil {
		return nil, fmt.Errorf("close auction %d: %w", auctionID, err)
	}
	e.closed.Add(closed.ID, closed.Clone())

	e.metrics.RecordClose(force, outcome.RevealedCount)
	details := map[string]interface{}{
		"auction_id": closed.ID,
		"caller_id":  caller.UserID,
		"forced":     force,
		"revealed":   outcome.RevealedCount,
		"forfeited":  outcome.SealedCount,
	}
	ev := Event{Type: EventAuctionClosed, AuctionID: closed.ID, At: now}
	if closed.WinnerID != nil {
		details["winner_id"] = *closed.WinnerID
		details["winning_amount"] = closed.WinningAmount.String()
		ev.WinnerID = closed.WinnerID
		ev.WinningAmount = closed.WinningAmount.String()
	}
	if force {
		e.log.Audit("auction.force_closed", details)
	} else {
		e.log.Audit("auction.closed", details)
	}

	// The close is committed; a caller that goes away must not abort the
	// archive upload or the event.
	after, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCloseTimeout)
	defer cancel()
	if e.archiver != nil {
		if err := e.archiver.Archive(after, closed.Clone(), stripSecrets(bids)); err != nil {
			e.metrics.RecordArchiveFailure()
			e.log.Z().Warn().Int64("auction_id", closed.ID).Err(err).Msg("archive failed")
		}
	}
	e.notify(after, ev)
	return closed, nil
}

// AuctionBids lists an auction's bids with secrets removed. Amounts appear
// only for revealed bids.
func (e *Engine) AuctionBids(ctx context.Context, auctionID int64) ([]*Bid, error) {
	if _, err := e.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := e.ledger.Bids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return stripSecrets(bids), nil
}

// BidderHistory lists the caller's own bids with secrets removed.
func (e *Engine) BidderHistory(ctx context.Context, bidderID int64) ([]*Bid, error) {
	bids, err := e.store.ListBidsByBidder(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return stripSecrets(bids), nil
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func stripSecrets(bids []*Bid) []*Bid {
	for _, b := range bids {
		b.Secret = nil
	}
	return bids
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.metrics.RecordNotifyFailure()
		e.log.Z().Warn().Str("event", string(ev.Type)).Int64("auction_id", ev.AuctionID).
			Err(err).Msg("event delivery failed")
	}
}

func (e *Engine) reject(op string, auctionID, userID int64, err error) {
	kind := Kind(err)
	e.metrics.RecordRejection(op, kind)
	ev := e.log.Z().Info()
	if kind == "internal" {
		ev = e.log.Z().Error().Err(err)
	}
	ev.Str("op", op).Int64("auction_id", auctionID).Int64("user_id", userID).
		Str("kind", kind).Msg("operation rejected")
	if kind == "replay_attempt" {
		e.log.Audit("bid.replay_attempt", map[string]interface{}{
			"auction_id": auctionID,
			"bidder_id":  userID,
		})
	}
}
