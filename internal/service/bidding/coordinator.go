package bidding

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/errors"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/captracker"
	"github.com/ringflow/call-auction-backend/internal/service/dispatch"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

type coordinator struct {
	routers    RouterStore
	filter     eligibility.Filter
	dispatcher dispatch.Dispatcher
	validator  Validator
	selector   Selector
	caps       captracker.Tracker
	persister  ResultPersister
	events     EventPublisher
	metrics    MetricsRecorder
	clock      rtb.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewCoordinator wires the auction pipeline. events and metrics may be nil.
func NewCoordinator(
	routers RouterStore,
	filter eligibility.Filter,
	dispatcher dispatch.Dispatcher,
	caps captracker.Tracker,
	persister ResultPersister,
	events EventPublisher,
	metrics MetricsRecorder,
	clock rtb.Clock,
	logger *slog.Logger,
) Coordinator {
	if clock == nil {
		clock = rtb.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &coordinator{
		routers:    routers,
		filter:     filter,
		dispatcher: dispatcher,
		validator:  NewValidator(),
		selector:   NewSelector(),
		caps:       caps,
		persister:  persister,
		events:     events,
		metrics:    metrics,
		clock:      clock,
		logger:     logger,
		tracer:     otel.Tracer("ringflow.bidding"),
	}
}

// RunAuction executes the full lifecycle for one inbound call: eligibility,
// fan-out, validation, selection, settlement, and the audit trail. The
// routing decision is returned even when persistence fails.
func (c *coordinator) RunAuction(ctx context.Context, routerID uuid.UUID, call rtb.CallContext) (*auction.RoutingDecision, error) {
	ctx, span := c.tracer.Start(ctx, "auction.run",
		trace.WithAttributes(
			attribute.String("router.id", routerID.String()),
			attribute.String("call.id", call.CallID.String()),
		))
	defer span.End()

	router, err := c.routers.GetRouter(ctx, routerID)
	if err != nil {
		return nil, err
	}
	if !router.IsActive {
		return nil, errors.ErrRouterInactive
	}

	if c.metrics != nil {
		auctionDone := c.metrics.AuctionStarted()
		defer auctionDone()
	}

	request := auction.NewBidRequest(router.ID, call.CampaignID, call.CallID, call.CallerID, call.StartTime)
	span.SetAttributes(attribute.String("auction.request_id", request.RequestID.String()))
	start := c.clock.Now()

	candidates, err := c.routers.ListCandidates(ctx, routerID)
	if err != nil {
		return nil, errors.Wrap(err, "load router targets")
	}

	filtered, err := c.filter.FilterTargets(ctx, candidates, call)
	if err != nil {
		return nil, errors.Wrap(err, "filter targets")
	}
	for _, rej := range filtered.Rejected {
		c.logger.DebugContext(ctx, "target excluded pre-dispatch",
			"request_id", request.RequestID,
			"target_id", rej.TargetID,
			"reason", rej.Reason,
		)
	}

	request.BelowMinBidders = len(filtered.Eligible) < router.MinBiddersRequired
	if request.BelowMinBidders && router.StrictMinBidders {
		c.releaseAll(ctx, filtered.Eligible)
		return c.finish(ctx, router, call, request, nil, nil, c.clock.Now().Sub(start), OutcomeAborted), nil
	}

	request.State = auction.StateDispatching
	results := c.dispatcher.Dispatch(ctx, request.RequestID, call, filtered.Eligible, router.BiddingTimeout)
	request.State = auction.StateCollecting

	responses := make([]*auction.BidResponse, 0, len(results))
	targetsByID := make(map[uuid.UUID]*rtb.Target, len(results))
	for _, r := range results {
		responses = append(responses, r.Response)
		targetsByID[r.Target.ID] = r.Target
	}

	valid := c.validator.Validate(responses, targetsByID)
	winner := c.selector.SelectWinner(valid)
	c.settle(ctx, results, winner)

	outcome := OutcomeNoWinner
	if winner != nil {
		outcome = OutcomeWon
	}
	return c.finish(ctx, router, call, request, responses, winner, c.clock.Now().Sub(start), outcome), nil
}

// settle commits the winner's cap reservation and releases everyone else's.
// Failed dispatches carry no reservation here; the dispatcher already
// released those.
func (c *coordinator) settle(ctx context.Context, results []dispatch.TargetResult, winner *auction.BidResponse) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range results {
		if r.Reservation == nil {
			continue
		}
		var err error
		if winner != nil && r.Response.ID == winner.ID {
			err = c.caps.Commit(ctx, r.Reservation)
		} else {
			err = c.caps.Release(ctx, r.Reservation)
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "cap settlement failed",
				"target_id", r.Target.ID,
				"error", err,
			)
		}
	}
}

func (c *coordinator) releaseAll(ctx context.Context, eligible []eligibility.EligibleTarget) {
	ctx = context.WithoutCancel(ctx)
	for _, et := range eligible {
		if err := c.caps.Release(ctx, et.Reservation); err != nil {
			c.logger.ErrorContext(ctx, "cap release failed",
				"target_id", et.Target.ID,
				"error", err,
			)
		}
	}
}

// finish closes the request, persists the audit trail, publishes the closed
// event, records metrics, and builds the routing decision.
func (c *coordinator) finish(
	ctx context.Context,
	router *rtb.Router,
	call rtb.CallContext,
	request *auction.BidRequest,
	responses []*auction.BidResponse,
	winner *auction.BidResponse,
	elapsed time.Duration,
	outcome string,
) *auction.RoutingDecision {
	successful := 0
	for _, r := range responses {
		if r.IsValid {
			successful++
		}
	}
	request.Close(len(responses), successful, elapsed, winner)

	c.persist(ctx, request, responses, winner)
	c.publish(router, call, request, winner, elapsed)

	if c.metrics != nil {
		c.metrics.RecordAuction(ctx, outcome, elapsed, len(responses), successful)
	}

	decision := &auction.RoutingDecision{
		RequestID:           request.RequestID,
		AuctionTime:         elapsed,
		TotalTargetsPinged:  len(responses),
		SuccessfulResponses: successful,
		BelowMinBidders:     request.BelowMinBidders,
	}
	if winner != nil {
		targetID := winner.TargetID
		amount := winner.BidAmount
		destination := winner.DestinationNumber
		decision.WinningTargetID = &targetID
		decision.BidAmount = &amount
		decision.DestinationNumber = &destination

		c.logger.InfoContext(ctx, "auction won",
			"request_id", request.RequestID,
			"target_id", targetID,
			"bid_amount", amount.String(),
			"auction_time", elapsed,
		)
	} else {
		c.logger.InfoContext(ctx, "auction closed without winner",
			"request_id", request.RequestID,
			"targets_pinged", len(responses),
			"below_min_bidders", request.BelowMinBidders,
			"auction_time", elapsed,
		)
	}
	return decision
}

// persist writes the audit trail and usage counters. A storage failure is
// logged and counted but never propagated; the caller already holds a
// routing decision.
func (c *coordinator) persist(ctx context.Context, request *auction.BidRequest, responses []*auction.BidResponse, winner *auction.BidResponse) {
	if c.persister == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if err := c.persister.SaveAuction(ctx, request, responses); err != nil {
		c.logger.ErrorContext(ctx, "auction persistence failed",
			"request_id", request.RequestID,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordPersistenceFailure(ctx)
		}
	}

	outcomes := make([]TargetOutcome, 0, len(responses))
	for _, r := range responses {
		outcomes = append(outcomes, TargetOutcome{
			TargetID: r.TargetID,
			Bid:      r.Status == auction.StatusSuccess && r.IsValid,
			Won:      winner != nil && r.ID == winner.ID,
		})
	}
	if len(outcomes) == 0 {
		return
	}
	if err := c.persister.RecordTargetOutcomes(ctx, outcomes); err != nil {
		c.logger.ErrorContext(ctx, "target counter update failed",
			"request_id", request.RequestID,
			"error", err,
		)
	}
}

func (c *coordinator) publish(router *rtb.Router, call rtb.CallContext, request *auction.BidRequest, winner *auction.BidResponse, elapsed time.Duration) {
	if c.events == nil {
		return
	}
	event := AuctionClosedEvent{
		RequestID:           request.RequestID,
		RouterID:            router.ID,
		CampaignID:          call.CampaignID,
		TotalTargetsPinged:  request.TotalTargetsPinged,
		SuccessfulResponses: request.SuccessfulResponses,
		BelowMinBidders:     request.BelowMinBidders,
		AuctionTime:         elapsed,
		ClosedAt:            time.Now().UTC(),
	}
	if winner != nil {
		targetID := winner.TargetID
		amount := winner.BidAmount
		destination := winner.DestinationNumber
		event.WinningTargetID = &targetID
		event.BidAmount = &amount
		event.DestinationNumber = &destination
	}
	c.events.PublishAuctionClosed(event)
}
