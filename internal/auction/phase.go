// phase.go - Time-derived auction phases.
//
// The bidding window is the first 90% of the duration and the reveal window
// the remaining 10%. Past the full duration the auction stays in REVEAL until
// someone closes it; CLOSED is only ever set by an explicit close.

package auction

import "time"

const (
	biddingNumerator   = 9
	biddingDenominator = 10
)

// BiddingDeadline returns the instant sealed bidding ends.
func BiddingDeadline(createdAt time.Time, durationMinutes int) time.Time {
	total := time.Duration(durationMinutes) * time.Minute
	return createdAt.Add(total * biddingNumerator / biddingDenominator)
}

// RevealDeadline returns the end of the full auction duration.
func RevealDeadline(createdAt time.Time, durationMinutes int) time.Time {
	return createdAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// CurrentPhase computes the phase at now. A stored CLOSED always wins;
// otherwise the phase is OPEN strictly before the bidding deadline and REVEAL
// from the deadline onwards.
func CurrentPhase(createdAt time.Time, durationMinutes int, stored Status, now time.Time) Status {
	if stored == StatusClosed {
		return StatusClosed
	}
	if now.Before(BiddingDeadline(createdAt, durationMinutes)) {
		return StatusOpen
	}
	return StatusReveal
}

// NeedsReveal reports whether a stored OPEN status is stale at now.
func NeedsReveal(a *Auction, now time.Time) bool {
	return a.Status == StatusOpen && CurrentPhase(a.CreatedAt, a.DurationMinutes, a.Status, now) == StatusReveal
}

// Phase is CurrentPhase for a stored auction.
func (a *Auction) Phase(now time.Time) Status {
	return CurrentPhase(a.CreatedAt, a.DurationMinutes, a.Status, now)
}
