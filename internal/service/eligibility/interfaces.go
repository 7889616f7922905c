package eligibility

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/captracker"
)

// Candidate is a target annotated with its assignment priority for one
// router. Inactive assignments are dropped before candidates are built.
type Candidate struct {
	Target   *rtb.Target
	Priority int
}

// EligibleTarget is a candidate that passed every rule. Its cap reservation
// is already held and must be settled by whoever dispatches it.
type EligibleTarget struct {
	Target      *rtb.Target
	Priority    int
	Reservation *captracker.Reservation
}

// Result is the pruned participant set plus the observability trail for
// everything excluded pre-dispatch.
type Result struct {
	Eligible []EligibleTarget
	Rejected []auction.TargetRejection
}

// Filter decides which targets may participate in one auction
type Filter interface {
	// FilterTargets applies the eligibility rules in order and reserves
	// capacity for every admitted target. The returned slice is ordered by
	// assignment priority (ascending, stable).
	FilterTargets(ctx context.Context, candidates []Candidate, call rtb.CallContext) (*Result, error)
}

// CallerHistoryStore counts a caller's prior sold calls to a target
type CallerHistoryStore interface {
	CountCallerCalls(ctx context.Context, targetID uuid.UUID, callerID string, since time.Time) (int, error)
}
