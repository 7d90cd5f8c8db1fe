package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sealedbid/internal/auction"
)

// ObjectPutter is the part of the S3 API the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Record is the archived form of a closed auction. Secrets never leave the
// database.
type Record struct {
	Auction    RecordAuction `json:"auction"`
	Bids       []RecordBid   `json:"bids"`
	ArchivedAt time.Time     `json:"archived_at"`
}

type RecordAuction struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	SellerID        int64      `json:"seller_id"`
	CreatedAt       time.Time  `json:"created_at"`
	DurationMinutes int        `json:"duration_minutes"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	WinnerID        *int64     `json:"winner_id,omitempty"`
	WinningAmount   string     `json:"winning_amount,omitempty"`
}

type RecordBid struct {
	BidderID   int64      `json:"bidder_id"`
	Commitment string     `json:"commitment"`
	Amount     string     `json:"amount,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
}

// Archiver writes one JSON object per closed auction at
// auctions/<id>/result.json. It implements auction.Archiver.
type Archiver struct {
	s3     ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver writing into the client's bucket.
func NewArchiver(c *Client, prefix string) *Archiver {
	return newArchiver(c.s3, c.bucket, prefix)
}

func newArchiver(putter ObjectPutter, bucket, prefix string) *Archiver {
	if prefix == "" {
		prefix = "auctions"
	}
	return &Archiver{s3: putter, bucket: bucket, prefix: prefix, now: time.Now}
}

// Key returns the object key for an auction's record.
func (a *Archiver) Key(auctionID int64) string {
	return fmt.Sprintf("%s/%d/result.json", a.prefix, auctionID)
}

// Archive uploads the closed auction and its bids.
func (a *Archiver) Archive(ctx context.Context, au *auction.Auction, bids []*auction.Bid) error {
	body, err := json.MarshalIndent(buildRecord(au, bids, a.now().UTC()), "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: encode auction %d: %w", au.ID, err)
	}

	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(au.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put auction %d: %w", au.ID, err)
	}
	return nil
}

func buildRecord(au *auction.Auction, bids []*auction.Bid, at time.Time) Record {
	rec := Record{
		Auction: RecordAuction{
			ID:              au.ID,
			Title:           au.Title,
			SellerID:        au.SellerID,
			CreatedAt:       au.CreatedAt,
			DurationMinutes: au.DurationMinutes,
			ClosedAt:        au.ClosedAt,
			WinnerID:        au.WinnerID,
		},
		Bids:       make([]RecordBid, 0, len(bids)),
		ArchivedAt: at,
	}
	if au.WinningAmount != nil {
		rec.Auction.WinningAmount = au.WinningAmount.String()
	}
	for _, b := range bids {
		rb := RecordBid{
			BidderID:   b.BidderID,
			Commitment: b.Commitment,
			CreatedAt:  b.CreatedAt,
			RevealedAt: b.RevealedAt,
		}
		if b.Amount != nil {
			rb.Amount = b.Amount.String()
		}
		rec.Bids = append(rec.Bids, rb)
	}
	return rec
}

var _ auction.Archiver = (*Archiver)(nil)
