package bidding

import (
	"github.com/ringflow/call-auction-backend/internal/domain/auction"
)

type selector struct{}

// NewSelector creates the winner selection service
func NewSelector() Selector {
	return &selector{}
}

// SelectWinner picks the best valid bid and marks it winning. The ordering is
// a total order, so repeated selection over the same set is deterministic.
func (s *selector) SelectWinner(valid []*auction.BidResponse) *auction.BidResponse {
	if len(valid) == 0 {
		return nil
	}

	winner := valid[0]
	for _, r := range valid[1:] {
		if rankBefore(r, winner) {
			winner = r
		}
	}
	winner.IsWinningBid = true
	return winner
}

// rankBefore orders bids by amount (highest first), then response time
// (fastest first), then target ID as the deterministic final tie-break.
// Amounts compare numerically so a currency-mixed set cannot panic the
// selection path.
func rankBefore(a, b *auction.BidResponse) bool {
	if cmp := a.BidAmount.Amount().Cmp(b.BidAmount.Amount()); cmp != 0 {
		return cmp > 0
	}
	if a.ResponseTime != b.ResponseTime {
		return a.ResponseTime < b.ResponseTime
	}
	return a.TargetID.String() < b.TargetID.String()
}
