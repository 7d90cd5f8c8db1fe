package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sealedbid/internal/auction"
)

type fakePutter struct {
	key, bucket, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key, f.bucket, f.contentType = *in.Key, *in.Bucket, *in.ContentType
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveWritesRecordWithoutSecrets(t *testing.T) {
	put := &fakePutter{}
	a := newArchiver(put, "results", "")
	a.now = func() time.Time { return time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC) }

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	winner := int64(2)
	au := &auction.Auction{
		ID: 9, Title: "Lamp", SellerID: 1, CreatedAt: t0, DurationMinutes: 10,
		Status: auction.StatusClosed, WinnerID: &winner, WinningAmount: big.NewInt(180),
	}
	bids := []*auction.Bid{
		{BidderID: 2, Commitment: "111", Amount: big.NewInt(180), Secret: big.NewInt(987654321), CreatedAt: t0},
		{BidderID: 3, Commitment: "222", CreatedAt: t0.Add(time.Second)},
	}

	if err := a.Archive(context.Background(), au, bids); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if put.key != "auctions/9/result.json" || put.bucket != "results" {
		t.Errorf("unexpected destination %s/%s", put.bucket, put.key)
	}
	if put.contentType != "application/json" {
		t.Errorf("unexpected content type %q", put.contentType)
	}
	if strings.Contains(string(put.body), "987654321") {
		t.Errorf("archived record leaks a secret: %s", put.body)
	}

	var rec Record
	if err := json.Unmarshal(put.body, &rec); err != nil {
		t.Fatalf("record is not valid JSON: %v", err)
	}
	if rec.Auction.WinningAmount != "180" || *rec.Auction.WinnerID != 2 {
		t.Errorf("unexpected outcome %+v", rec.Auction)
	}
	if len(rec.Bids) != 2 || rec.Bids[0].Amount != "180" || rec.Bids[1].Amount != "" {
		t.Errorf("unexpected bids %+v", rec.Bids)
	}
}

func TestArchivePropagatesUploadError(t *testing.T) {
	boom := errors.New("boom")
	a := newArchiver(&fakePutter{err: boom}, "results", "closed")
	err := a.Archive(context.Background(), &auction.Auction{ID: 1}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped upload error, got %v", err)
	}
	if a.Key(1) != "closed/1/result.json" {
		t.Errorf("unexpected key %s", a.Key(1))
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		ssl    bool
		expect string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"https://r2.example.com", false, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.expect {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.expect)
		}
	}
}
