package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/service/bidding"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

// RouterRepository manages router configuration and target assignments.
// It doubles as the coordinator's RouterStore.
type RouterRepository interface {
	bidding.RouterStore

	Create(ctx context.Context, router *rtb.Router) error
	Update(ctx context.Context, router *rtb.Router) error
	List(ctx context.Context) ([]*rtb.Router, error)
	// Delete fails with ErrForeignKey while assignments still reference the
	// router.
	Delete(ctx context.Context, id uuid.UUID) error

	AssignTarget(ctx context.Context, assignment *rtb.Assignment) error
	RemoveAssignment(ctx context.Context, routerID, targetID uuid.UUID) error
	ListAssignments(ctx context.Context, routerID uuid.UUID) ([]*rtb.Assignment, error)
}

// TargetRepository manages bidder endpoint configuration
type TargetRepository interface {
	Create(ctx context.Context, target *rtb.Target) error
	GetByID(ctx context.Context, id uuid.UUID) (*rtb.Target, error)
	Update(ctx context.Context, target *rtb.Target) error
	List(ctx context.Context) ([]*rtb.Target, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuctionRepository persists the auction audit trail and serves reporting.
// It implements the coordinator's ResultPersister and the eligibility
// filter's CallerHistoryStore.
type AuctionRepository interface {
	bidding.ResultPersister
	eligibility.CallerHistoryStore

	GetByRequestID(ctx context.Context, requestID uuid.UUID) (*auction.BidRequest, []*auction.BidResponse, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]*auction.BidRequest, error)
}
