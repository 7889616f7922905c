package bidding

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
)

type validator struct{}

// NewValidator creates the bid validation service
func NewValidator() Validator {
	return &validator{}
}

// Validate applies the per-bid rules, then resolves duplicate destination
// numbers in favor of the better-ranked bid. Rejected responses keep their
// row with IsValid=false and a reason; only valid bids are returned.
func (v *validator) Validate(responses []*auction.BidResponse, targets map[uuid.UUID]*rtb.Target) []*auction.BidResponse {
	candidates := make([]*auction.BidResponse, 0, len(responses))
	for _, r := range responses {
		if reason := screenBid(r, targets[r.TargetID]); reason != "" {
			r.Reject(reason)
			continue
		}
		candidates = append(candidates, r)
	}

	// Rank before the duplicate scan so the bid that would win keeps the
	// contested destination number.
	sort.SliceStable(candidates, func(i, j int) bool {
		return rankBefore(candidates[i], candidates[j])
	})

	seen := make(map[string]bool, len(candidates))
	valid := candidates[:0]
	for _, r := range candidates {
		dest := r.DestinationNumber.E164()
		if seen[dest] {
			r.Reject(auction.RejectionDuplicateDest)
			continue
		}
		seen[dest] = true
		r.MarkValid()
		valid = append(valid, r)
	}
	return valid
}

// screenBid returns the rejection reason for a single response, or "" when
// the bid is acceptable.
func screenBid(r *auction.BidResponse, target *rtb.Target) string {
	if r.Status != auction.StatusSuccess {
		return auction.RejectionNotSuccess
	}
	if r.BidAmount.Currency() == "" {
		return auction.RejectionMissingBid
	}
	if !r.BidAmount.IsPositive() {
		return auction.RejectionBelowFloor
	}
	if r.DestinationNumber.IsEmpty() {
		return auction.RejectionBadDestination
	}
	if r.RequiredDuration < 0 {
		return auction.RejectionBadDuration
	}
	if target != nil {
		if r.BidAmount.Currency() != target.Currency {
			return auction.RejectionCurrencyMismatch
		}
		if r.BidAmount.Compare(target.MinBid) < 0 {
			return auction.RejectionBelowFloor
		}
		if r.BidAmount.Compare(target.MaxBid) > 0 {
			return auction.RejectionAboveCeiling
		}
	}
	return ""
}
