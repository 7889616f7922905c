package bidding

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

// Coordinator runs one complete auction for an inbound call and returns the
// routing decision for the call-control layer.
type Coordinator interface {
	RunAuction(ctx context.Context, routerID uuid.UUID, call rtb.CallContext) (*auction.RoutingDecision, error)
}

// Validator screens collected responses. Responses that fail a rule are
// marked invalid with a reason; the returned slice holds only valid bids.
type Validator interface {
	Validate(responses []*auction.BidResponse, targets map[uuid.UUID]*rtb.Target) []*auction.BidResponse
}

// Selector picks the winning bid from the valid set
type Selector interface {
	SelectWinner(valid []*auction.BidResponse) *auction.BidResponse
}

// RouterStore loads auction configuration
type RouterStore interface {
	GetRouter(ctx context.Context, id uuid.UUID) (*rtb.Router, error)
	// ListCandidates returns the targets assigned to the router, annotated
	// with assignment priority. Inactive assignments are not returned.
	ListCandidates(ctx context.Context, routerID uuid.UUID) ([]eligibility.Candidate, error)
}

// TargetOutcome is one target's participation in a finished auction
type TargetOutcome struct {
	TargetID uuid.UUID
	Bid      bool
	Won      bool
}

// ResultPersister writes the auction audit trail. Failures here must never
// block the routing decision.
type ResultPersister interface {
	SaveAuction(ctx context.Context, request *auction.BidRequest, responses []*auction.BidResponse) error
	RecordTargetOutcomes(ctx context.Context, outcomes []TargetOutcome) error
}

// AuctionClosedEvent is broadcast to event subscribers when an auction closes
type AuctionClosedEvent struct {
	RequestID           uuid.UUID           `json:"request_id"`
	RouterID            uuid.UUID           `json:"router_id"`
	CampaignID          uuid.UUID           `json:"campaign_id"`
	WinningTargetID     *uuid.UUID          `json:"winning_target_id,omitempty"`
	BidAmount           *values.Money       `json:"bid_amount,omitempty"`
	DestinationNumber   *values.PhoneNumber `json:"destination_number,omitempty"`
	TotalTargetsPinged  int                 `json:"total_targets_pinged"`
	SuccessfulResponses int                 `json:"successful_responses"`
	BelowMinBidders     bool                `json:"below_min_bidders"`
	AuctionTime         time.Duration       `json:"auction_time"`
	ClosedAt            time.Time           `json:"closed_at"`
}

// EventPublisher fans auction events out to subscribers without blocking
type EventPublisher interface {
	PublishAuctionClosed(event AuctionClosedEvent)
}

// MetricsRecorder records auction telemetry
type MetricsRecorder interface {
	// AuctionStarted marks an auction in flight; the returned func ends it.
	AuctionStarted() func()
	RecordAuction(ctx context.Context, outcome string, elapsed time.Duration, pinged, successful int)
	RecordPersistenceFailure(ctx context.Context)
}

// Auction outcomes as recorded in metrics.
const (
	OutcomeWon      = "won"
	OutcomeNoWinner = "no_winner"
	OutcomeAborted  = "aborted"
)
