package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// BidRequest is the audit record for one auction. It is created when the
// auction opens and finalized exactly once when it closes; once persisted
// it is immutable.
type BidRequest struct {
	RequestID  uuid.UUID `json:"request_id"`
	RouterID   uuid.UUID `json:"router_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	CallID     uuid.UUID `json:"call_id"`
	CallerID   string    `json:"caller_id"`

	CallStartTime time.Time `json:"call_start_time"`

	State State `json:"state"`

	// Aggregates, filled at close.
	TotalTargetsPinged  int           `json:"total_targets_pinged"`
	SuccessfulResponses int           `json:"successful_responses"`
	WinningBidAmount    *values.Money `json:"winning_bid_amount,omitempty"`
	WinningTargetID     *uuid.UUID    `json:"winning_target_id,omitempty"`
	TotalResponseTime   time.Duration `json:"total_response_time"`

	// BelowMinBidders flags auctions that ran with fewer eligible targets
	// than the router required.
	BelowMinBidders bool `json:"below_min_bidders"`

	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// State is the auction lifecycle state
type State int

const (
	StateCreated State = iota
	StateDispatching
	StateCollecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDispatching:
		return "dispatching"
	case StateCollecting:
		return "collecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NewBidRequest opens the audit record for a fresh auction
func NewBidRequest(routerID, campaignID, callID uuid.UUID, callerID string, callStart time.Time) *BidRequest {
	return &BidRequest{
		RequestID:     uuid.New(),
		RouterID:      routerID,
		CampaignID:    campaignID,
		CallID:        callID,
		CallerID:      callerID,
		CallStartTime: callStart,
		State:         StateCreated,
		CreatedAt:     time.Now().UTC(),
	}
}

// Close finalizes the request aggregates. Closing is idempotent only in the
// sense that it refuses to run twice.
func (r *BidRequest) Close(pinged, successful int, totalResponseTime time.Duration, winner *BidResponse) bool {
	if r.State == StateClosed {
		return false
	}

	r.State = StateClosed
	r.TotalTargetsPinged = pinged
	r.SuccessfulResponses = successful
	r.TotalResponseTime = totalResponseTime

	if winner != nil {
		amount := winner.BidAmount
		targetID := winner.TargetID
		r.WinningBidAmount = &amount
		r.WinningTargetID = &targetID
	}

	now := time.Now().UTC()
	r.ClosedAt = &now
	return true
}
