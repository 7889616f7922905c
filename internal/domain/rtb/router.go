package rtb

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bounds for the global auction deadline.
const (
	MinBiddingTimeout = 1 * time.Second
	MaxBiddingTimeout = 30 * time.Second
)

// Router groups the bidding rules and timeout policy shared by one or more
// campaigns. Routers are configured through the management API and only read
// by the auction engine.
type Router struct {
	ID                 uuid.UUID     `json:"id"`
	Name               string        `json:"name"`
	BiddingTimeout     time.Duration `json:"bidding_timeout"`
	MinBiddersRequired int           `json:"min_bidders_required"`
	// StrictMinBidders aborts an auction before dispatch when fewer than
	// MinBiddersRequired targets survive eligibility. When false the auction
	// proceeds best-effort and the result carries a below-minimum flag.
	StrictMinBidders   bool        `json:"strict_min_bidders"`
	RevenueType        RevenueType `json:"revenue_type"`
	ConversionTracking bool        `json:"conversion_tracking"`
	IsActive           bool        `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RevenueType int

const (
	RevenuePerCall RevenueType = iota
	RevenuePerMinute
	RevenueCPA
	RevenueCPL
)

func (r RevenueType) String() string {
	switch r {
	case RevenuePerCall:
		return "per_call"
	case RevenuePerMinute:
		return "per_minute"
	case RevenueCPA:
		return "cpa"
	case RevenueCPL:
		return "cpl"
	default:
		return "unknown"
	}
}

// ParseRevenueType converts a wire string to a RevenueType
func ParseRevenueType(s string) (RevenueType, error) {
	switch s {
	case "per_call":
		return RevenuePerCall, nil
	case "per_minute":
		return RevenuePerMinute, nil
	case "cpa":
		return RevenueCPA, nil
	case "cpl":
		return RevenueCPL, nil
	default:
		return 0, fmt.Errorf("unknown revenue type: %s", s)
	}
}

// NewRouter creates a router with validated configuration
func NewRouter(name string, biddingTimeout time.Duration, minBidders int, revenueType RevenueType) (*Router, error) {
	now := time.Now().UTC()
	r := &Router{
		ID:                 uuid.New(),
		Name:               name,
		BiddingTimeout:     biddingTimeout,
		MinBiddersRequired: minBidders,
		RevenueType:        revenueType,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate enforces the router configuration invariants
func (r *Router) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("router name cannot be empty")
	}
	if r.BiddingTimeout < MinBiddingTimeout || r.BiddingTimeout > MaxBiddingTimeout {
		return fmt.Errorf("bidding timeout %s outside allowed range [%s, %s]",
			r.BiddingTimeout, MinBiddingTimeout, MaxBiddingTimeout)
	}
	if r.MinBiddersRequired < 0 {
		return fmt.Errorf("min bidders required cannot be negative")
	}
	return nil
}
