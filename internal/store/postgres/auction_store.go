package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealedbid/internal/auction"
)

const uniqueViolation = "23505"

// AuctionStore implements auction.Store. Sealed inserts and reveals take a
// shared lock on the auction row; closing takes an exclusive one, so a close
// never interleaves with a bid write on the same auction while unrelated
// auctions proceed independently.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates an AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, title, description, seller_id, created_at, duration_minutes,
	status, winner_id, winning_amount::text, closed_at`

const bidSelectCols = `id::text, auction_id, bidder_id, commitment,
	amount::text, secret::text, created_at, revealed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*auction.Auction, error) {
	var a auction.Auction
	var status string
	var winningAmount *string
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.SellerID, &a.CreatedAt, &a.DurationMinutes,
		&status, &a.WinnerID, &winningAmount, &a.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = auction.Status(status)
	a.CreatedAt = a.CreatedAt.UTC()
	if winningAmount != nil {
		a.WinningAmount, err = parseNumeric(*winningAmount)
		if err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func scanBid(row rowScanner) (*auction.Bid, error) {
	var b auction.Bid
	var amount, secret *string
	err := row.Scan(
		&b.ID, &b.AuctionID, &b.BidderID, &b.Commitment,
		&amount, &secret, &b.CreatedAt, &b.RevealedAt,
	)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	if amount != nil {
		if b.Amount, err = parseNumeric(*amount); err != nil {
			return nil, err
		}
	}
	if secret != nil {
		if b.Secret, err = parseNumeric(*secret); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func scanBids(rows pgx.Rows) ([]*auction.Bid, error) {
	defer rows.Close()
	var bids []*auction.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

func numericArg(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// CreateAuction inserts a new auction and returns it with its assigned id.
func (s *AuctionStore) CreateAuction(ctx context.Context, a *auction.Auction) (*auction.Auction, error) {
	query := `
		INSERT INTO auctions (title, description, seller_id, created_at, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + auctionSelectCols

	out, err := scanAuction(s.pool.QueryRow(ctx, query,
		a.Title, a.Description, a.SellerID, a.CreatedAt, a.DurationMinutes, string(a.Status),
	))
	if err != nil {
		return nil, fmt.Errorf("postgres: create auction: %w", err)
	}
	return out, nil
}

// GetAuction returns a single auction by id.
func (s *AuctionStore) GetAuction(ctx context.Context, id int64) (*auction.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE id = $1`
	a, err := scanAuction(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auction.ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get auction %d: %w", id, err)
	}
	return a, nil
}

// ListAuctions returns auctions newest first. A REVEAL filter also matches
// stored OPEN rows because their status may be stale; the engine reconciles
// and re-filters.
func (s *AuctionStore) ListAuctions(ctx context.Context, f auction.ListFilter) ([]*auction.Auction, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		if f.Status == auction.StatusReveal {
			where = append(where, fmt.Sprintf("status IN ($%d, 'OPEN')", len(args)))
		} else {
			where = append(where, fmt.Sprintf("status = $%d", len(args)))
		}
	}
	if f.SellerID != 0 {
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + auctionSelectCols + ` FROM auctions`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	var out []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	return out, nil
}

// AdvanceStatus is a compare-and-swap on the status column.
func (s *AuctionStore) AdvanceStatus(ctx context.Context, id int64, from, to auction.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: advance auction %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevealExpired is AdvanceStatus applied to every auction past its bidding
// deadline. The deadline is 90% of the duration, i.e. 54 seconds per minute.
func (s *AuctionStore) RevealExpired(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE auctions SET status = 'REVEAL'
		WHERE status = 'OPEN'
		  AND created_at + duration_minutes * INTERVAL '54 seconds' <= $1
		RETURNING id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: reveal expired auctions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: reveal expired auctions: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// lockAuctionStatus reads the auction status inside tx with the given lock
// clause.
func lockAuctionStatus(ctx context.Context, tx pgx.Tx, id int64, lock string) (auction.Status, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM auctions WHERE id = $1 `+lock, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", auction.ErrAuctionNotFound
	}
	if err != nil {
		return "", err
	}
	return auction.Status(status), nil
}

// InsertBid records a sealed bid. The unique constraint on
// (auction_id, bidder_id) rejects duplicates.
func (s *AuctionStore) InsertBid(ctx context.Context, b *auction.Bid) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin insert bid: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockAuctionStatus(ctx, tx, b.AuctionID, "FOR SHARE")
	if err != nil {
		return fmt.Errorf("postgres: insert bid: %w", err)
	}
	if status != auction.StatusOpen {
		return auction.ErrPhaseViolation
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, commitment, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5)`,
		b.ID, b.AuctionID, b.BidderID, b.Commitment, b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auction.ErrDuplicateBid
		}
		return fmt.Errorf("postgres: insert bid: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bid: %w", err)
	}
	return nil
}

// GetBid returns a bidder's bid for an auction.
func (s *AuctionStore) GetBid(ctx context.Context, auctionID, bidderID int64) (*auction.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1 AND bidder_id = $2`
	b, err := scanBid(s.pool.QueryRow(ctx, query, auctionID, bidderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auction.ErrBidNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get bid: %w", err)
	}
	return b, nil
}

// RevealBid sets amount and secret with a conditional update so only the
// first of concurrent reveals succeeds.
func (s *AuctionStore) RevealBid(ctx context.Context, auctionID, bidderID int64, amount, secret *big.Int, at time.Time) (*auction.Bid, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin reveal: %w", err)
	}
	defer tx.Rollback(ctx)

	status, err := lockAuctionStatus(ctx, tx, auctionID, "FOR SHARE")
	if err != nil {
		return nil, fmt.Errorf("postgres: reveal bid: %w", err)
	}
	if status == auction.StatusClosed {
		return nil, auction.ErrPhaseViolation
	}

	query := `
		UPDATE bids SET amount = $3::numeric, secret = $4::numeric, revealed_at = $5
		WHERE auction_id = $1 AND bidder_id = $2 AND amount IS NULL
		RETURNING ` + bidSelectCols
	b, err := scanBid(tx.QueryRow(ctx, query, auctionID, bidderID, numericArg(amount), numericArg(secret), at))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM bids WHERE auction_id = $1 AND bidder_id = $2)`,
			auctionID, bidderID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("postgres: reveal bid: %w", err)
		}
		if exists {
			return nil, auction.ErrAlreadyRevealed
		}
		return nil, auction.ErrBidNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: reveal bid: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit reveal: %w", err)
	}
	return b, nil
}

// ListBids returns an auction's bids in commitment order.
func (s *AuctionStore) ListBids(ctx context.Context, auctionID int64) ([]*auction.Bid, error) {
	return s.listBids(ctx, s.pool, auctionID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *AuctionStore) listBids(ctx context.Context, q querier, auctionID int64) ([]*auction.Bid, error) {
	rows, err := q.Query(ctx,
		`SELECT `+bidSelectCols+` FROM bids WHERE auction_id = $1 ORDER BY created_at, seq`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids: %w", err)
	}
	bids, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids: %w", err)
	}
	return bids, nil
}

// ListBidsByBidder returns a bidder's bids newest first.
func (s *AuctionStore) ListBidsByBidder(ctx context.Context, bidderID int64) ([]*auction.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bidSelectCols+` FROM bids WHERE bidder_id = $1 ORDER BY created_at DESC, seq DESC`,
		bidderID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids by bidder: %w", err)
	}
	bids, err := scanBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bids: %w", err)
	}
	return bids, nil
}

// CloseAuction locks the auction row FOR UPDATE, settles and writes the
// outcome in one transaction. A concurrent close blocks on the row lock and
// then observes CLOSED.
func (s *AuctionStore) CloseAuction(ctx context.Context, id int64, at time.Time, settle auction.SettleFunc) (*auction.Auction, *auction.Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: begin close: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := scanAuction(tx.QueryRow(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1 FOR UPDATE`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, auction.ErrAuctionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: lock auction %d: %w", id, err)
	}
	if a.Status == auction.StatusClosed {
		return nil, nil, auction.ErrAlreadyClosed
	}

	bids, err := s.listBids(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	outcome, err := settle(a, bids)
	if err != nil {
		return nil, nil, err
	}

	closed, err := scanAuction(tx.QueryRow(ctx, `
		UPDATE auctions
		SET status = 'CLOSED', winner_id = $2, winning_amount = $3::numeric, closed_at = $4
		WHERE id = $1
		RETURNING `+auctionSelectCols,
		id, outcome.WinnerID, numericArg(outcome.WinningAmount), at,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: close auction %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("postgres: commit close %d: %w", id, err)
	}
	return closed, outcome, nil
}

// Ping backs the critical "store" health component.
func (s *AuctionStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ auction.Store = (*AuctionStore)(nil)
