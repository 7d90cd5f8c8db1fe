package handler

import (
	"context"
	"net/http"

	"sealedbid/internal/auction"
	"sealedbid/internal/telemetry"
	"sealedbid/internal/zkp"
)

// AuctionService is the part of the engine the HTTP layer drives.
type AuctionService interface {
	CreateAuction(ctx context.Context, caller auction.Caller, in auction.NewAuction) (*auction.Auction, error)
	GetAuction(ctx context.Context, id int64) (*auction.Auction, error)
	ListAuctions(ctx context.Context, f auction.ListFilter) ([]*auction.Auction, error)
	PlaceSealedBid(ctx context.Context, auctionID, bidderID int64, proof *zkp.Proof, publicSignals []string) (*auction.Bid, error)
	RevealBid(ctx context.Context, auctionID, bidderID int64, amount, secret string) (*auction.Bid, error)
	CloseAuction(ctx context.Context, caller auction.Caller, auctionID int64) (*auction.Auction, error)
	ForceCloseAuction(ctx context.Context, caller auction.Caller, auctionID int64) (*auction.Auction, error)
	AuctionBids(ctx context.Context, auctionID int64) ([]*auction.Bid, error)
	BidderHistory(ctx context.Context, bidderID int64) ([]*auction.Bid, error)
}

// AuctionHandler serves the auction and bid endpoints.
type AuctionHandler struct {
	svc AuctionService
	log *telemetry.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(svc AuctionService, log *telemetry.Logger) *AuctionHandler {
	return &AuctionHandler{svc: svc, log: log.With("http")}
}

// ListAuctions GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	as, err := h.svc.ListAuctions(r.Context(), f)
	if err != nil {
		writeEngineError(w, h.log, "list_auctions", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionViews(as))
}

type createAuctionRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CreateAuction POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createAuctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.svc.CreateAuction(r.Context(), caller, auction.NewAuction{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		writeEngineError(w, h.log, "create_auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionView(a))
}

// GetAuction GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.svc.GetAuction(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.log, "get_auction", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

// ListBids GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bids, err := h.svc.AuctionBids(r.Context(), id)
	if err != nil {
		writeEngineError(w, h.log, "list_bids", err)
		return
	}
	writeJSON(w, http.StatusOK, toBidViews(bids))
}

type placeBidRequest struct {
	Proof         *zkp.Proof `json:"proof"`
	PublicSignals []string   `json:"publicSignals"`
}

// PlaceBid POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req placeBidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Proof == nil {
		writeError(w, http.StatusBadRequest, "proof is required")
		return
	}
	bid, err := h.svc.PlaceSealedBid(r.Context(), id, caller.UserID, req.Proof, req.PublicSignals)
	if err != nil {
		writeEngineError(w, h.log, "place_bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBidView(bid))
}

type revealRequest struct {
	Amount decimal `json:"amount"`
	Secret decimal `json:"secret"`
}

// Reveal POST /api/auctions/{id}/reveal
func (h *AuctionHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req revealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bid, err := h.svc.RevealBid(r.Context(), id, caller.UserID, string(req.Amount), string(req.Secret))
	if err != nil {
		writeEngineError(w, h.log, "reveal_bid", err)
		return
	}
	writeJSON(w, http.StatusOK, toBidView(bid))
}

// Close POST /api/auctions/{id}/close
func (h *AuctionHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.svc.CloseAuction, "close_auction")
}

// ForceClose POST /api/auctions/{id}/force-close
func (h *AuctionHandler) ForceClose(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.svc.ForceCloseAuction, "force_close_auction")
}

func (h *AuctionHandler) close(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, auction.Caller, int64) (*auction.Auction, error), op string) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := fn(r.Context(), caller, id)
	if err != nil {
		writeEngineError(w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

// MyBids GET /api/me/bids
func (h *AuctionHandler) MyBids(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	bids, err := h.svc.BidderHistory(r.Context(), caller.UserID)
	if err != nil {
		writeEngineError(w, h.log, "my_bids", err)
		return
	}
	writeJSON(w, http.StatusOK, toBidViews(bids))
}
