package auction

import "math/big"

// SelectWinner picks the highest revealed amount. Ties go to the earliest
// sealed bid; bids with equal CreatedAt keep the order they were given in,
// which stores return in commitment order. Unrevealed bids are ignored.
// It returns nil, nil when nothing was revealed.
func SelectWinner(bids []*Bid) (winnerID *int64, amount *big.Int) {
	var best *Bid
	for _, b := range bids {
		if b == nil || !b.Revealed() {
			continue
		}
		if best == nil {
			best = b
			continue
		}
		switch b.Amount.Cmp(best.Amount) {
		case 1:
			best = b
		case 0:
			if b.CreatedAt.Before(best.CreatedAt) {
				best = b
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	id := best.BidderID
	return &id, new(big.Int).Set(best.Amount)
}

// Settle computes the close outcome for an auction's bids.
func Settle(bids []*Bid) *Outcome {
	out := &Outcome{}
	for _, b := range bids {
		if b.Revealed() {
			out.RevealedCount++
		} else {
			out.SealedCount++
		}
	}
	out.WinnerID, out.WinningAmount = SelectWinner(bids)
	return out
}
