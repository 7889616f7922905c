package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// RoutingDecision is the auction's answer to the call-control layer. Nil
// winner fields signal fallback routing.
type RoutingDecision struct {
	RequestID           uuid.UUID           `json:"request_id"`
	WinningTargetID     *uuid.UUID          `json:"winning_target_id,omitempty"`
	DestinationNumber   *values.PhoneNumber `json:"destination_number,omitempty"`
	BidAmount           *values.Money       `json:"bid_amount,omitempty"`
	AuctionTime         time.Duration       `json:"auction_time"`
	TotalTargetsPinged  int                 `json:"total_targets_pinged"`
	SuccessfulResponses int                 `json:"successful_responses"`
	BelowMinBidders     bool                `json:"below_min_bidders"`
}

// HasWinner reports whether the decision routes to a buyer
func (d *RoutingDecision) HasWinner() bool {
	return d.WinningTargetID != nil
}

// TargetRejection records why a target was excluded before dispatch.
// Pre-dispatch exclusions never produce a BidResponse row; this is the
// observability trail for them.
type TargetRejection struct {
	TargetID uuid.UUID `json:"target_id"`
	Reason   string    `json:"reason"`
}

// Well-known pre-dispatch rejection reasons.
const (
	RejectTargetInactive   = "target inactive"
	RejectGeoFilter        = "geo filter"
	RejectTimeFilter       = "time filter"
	RejectDeviceFilter     = "device filter"
	RejectCallerHistory    = "caller history cap"
	RejectBlockedCallerID  = "blocked caller id"
	RejectCapExceeded      = "cap exceeded"
	RejectHistoryUnknown   = "caller history unavailable"
)
