package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// BidResponse records one target's answer (or failure to answer) within an
// auction. One row exists per target that was actually dispatched; rows are
// never mutated after the auction closes.
type BidResponse struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	TargetID  uuid.UUID `json:"target_id"`

	BidAmount         values.Money       `json:"bid_amount"`
	RequiredDuration  int                `json:"required_duration"` // seconds
	DestinationNumber values.PhoneNumber `json:"destination_number"`

	ResponseTime time.Duration  `json:"response_time"`
	Status       ResponseStatus `json:"status"`

	IsValid         bool   `json:"is_valid"`
	IsWinningBid    bool   `json:"is_winning_bid"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type ResponseStatus int

const (
	StatusSuccess ResponseStatus = iota
	StatusError
	StatusTimeout
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Well-known rejection reasons recorded on invalid responses.
const (
	RejectionBelowFloor       = "below floor"
	RejectionAboveCeiling     = "above ceiling"
	RejectionMissingBid       = "missing bid amount"
	RejectionBadDestination   = "malformed destination"
	RejectionBadDuration      = "negative required duration"
	RejectionDuplicateDest    = "duplicate destination"
	RejectionNotSuccess       = "non-success response"
	RejectionCurrencyMismatch = "currency mismatch"
)

// NewSuccessResponse records a bidder answer that arrived in time
func NewSuccessResponse(requestID, targetID uuid.UUID, amount values.Money, destination values.PhoneNumber, requiredDuration int, elapsed time.Duration) *BidResponse {
	return &BidResponse{
		ID:                uuid.New(),
		RequestID:         requestID,
		TargetID:          targetID,
		BidAmount:         amount,
		DestinationNumber: destination,
		RequiredDuration:  requiredDuration,
		ResponseTime:      elapsed,
		Status:            StatusSuccess,
		CreatedAt:         time.Now().UTC(),
	}
}

// NewErrorResponse records a dispatch failure (network error, non-2xx,
// malformed body)
func NewErrorResponse(requestID, targetID uuid.UUID, elapsed time.Duration, reason string) *BidResponse {
	return &BidResponse{
		ID:              uuid.New(),
		RequestID:       requestID,
		TargetID:        targetID,
		ResponseTime:    elapsed,
		Status:          StatusError,
		RejectionReason: reason,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewTimeoutResponse records a target that did not answer within its budget
func NewTimeoutResponse(requestID, targetID uuid.UUID, elapsed time.Duration) *BidResponse {
	return &BidResponse{
		ID:              uuid.New(),
		RequestID:       requestID,
		TargetID:        targetID,
		ResponseTime:    elapsed,
		Status:          StatusTimeout,
		RejectionReason: "response timeout",
		CreatedAt:       time.Now().UTC(),
	}
}

// Reject marks the response invalid with a reason
func (r *BidResponse) Reject(reason string) {
	r.IsValid = false
	r.RejectionReason = reason
}

// MarkValid clears any rejection and admits the response as a winner candidate
func (r *BidResponse) MarkValid() {
	r.IsValid = true
	r.RejectionReason = ""
}
