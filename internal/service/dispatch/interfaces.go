package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/captracker"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

// TargetResult pairs one dispatched target with its recorded response.
// Reservation is non-nil only for responses that arrived successfully; the
// dispatcher has already released the reservations of targets that errored
// or timed out.
type TargetResult struct {
	Target      *rtb.Target
	Response    *auction.BidResponse
	Reservation *captracker.Reservation
}

// Dispatcher fans one bid request out to every eligible target
type Dispatcher interface {
	// Dispatch sends one bid request per target concurrently. Each request
	// is bounded by min(target timeout, remaining global deadline); the
	// whole call is bounded by the deadline. Exactly one TargetResult is
	// returned per input target, in no particular order.
	Dispatch(ctx context.Context, requestID uuid.UUID, call rtb.CallContext, targets []eligibility.EligibleTarget, deadline time.Duration) []TargetResult
}
