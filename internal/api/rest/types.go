package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	domainerrors "github.com/ringflow/call-auction-backend/internal/domain/errors"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// Router payloads

type routerRequest struct {
	Name               string `json:"name" validate:"required,max=255"`
	BiddingTimeoutMs   int64  `json:"bidding_timeout_ms" validate:"required,min=1000,max=30000"`
	MinBiddersRequired int    `json:"min_bidders_required" validate:"min=0"`
	StrictMinBidders   bool   `json:"strict_min_bidders"`
	RevenueType        string `json:"revenue_type" validate:"omitempty,oneof=per_call per_minute cpa cpl"`
	ConversionTracking bool   `json:"conversion_tracking"`
	IsActive           *bool  `json:"is_active"`
}

type routerResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	BiddingTimeoutMs   int64     `json:"bidding_timeout_ms"`
	MinBiddersRequired int       `json:"min_bidders_required"`
	StrictMinBidders   bool      `json:"strict_min_bidders"`
	RevenueType        string    `json:"revenue_type"`
	ConversionTracking bool      `json:"conversion_tracking"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (r routerRequest) toDomain(id uuid.UUID) (*rtb.Router, error) {
	revenueType := rtb.RevenuePerCall
	if r.RevenueType != "" {
		parsed, err := rtb.ParseRevenueType(r.RevenueType)
		if err != nil {
			return nil, domainerrors.NewConfigurationError("revenue_type", err.Error())
		}
		revenueType = parsed
	}

	now := time.Now().UTC()
	router := &rtb.Router{
		ID:                 id,
		Name:               r.Name,
		BiddingTimeout:     time.Duration(r.BiddingTimeoutMs) * time.Millisecond,
		MinBiddersRequired: r.MinBiddersRequired,
		StrictMinBidders:   r.StrictMinBidders,
		RevenueType:        revenueType,
		ConversionTracking: r.ConversionTracking,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if r.IsActive != nil {
		router.IsActive = *r.IsActive
	}
	if err := router.Validate(); err != nil {
		return nil, domainerrors.NewConfigurationError("router", err.Error())
	}
	return router, nil
}

func routerFromDomain(router *rtb.Router) routerResponse {
	return routerResponse{
		ID:                 router.ID,
		Name:               router.Name,
		BiddingTimeoutMs:   router.BiddingTimeout.Milliseconds(),
		MinBiddersRequired: router.MinBiddersRequired,
		StrictMinBidders:   router.StrictMinBidders,
		RevenueType:        router.RevenueType.String(),
		ConversionTracking: router.ConversionTracking,
		IsActive:           router.IsActive,
		CreatedAt:          router.CreatedAt,
		UpdatedAt:          router.UpdatedAt,
	}
}

// Target payloads

type authRequest struct {
	Method string `json:"method" validate:"omitempty,oneof=none api_key bearer basic"`
	Token  string `json:"token,omitempty"`
	Header string `json:"header,omitempty"`
}

type geoFilterRequest struct {
	Enabled          bool     `json:"enabled"`
	Mode             string   `json:"mode" validate:"omitempty,oneof=allow block"`
	States           []string `json:"states,omitempty"`
	ZipCodes         []string `json:"zip_codes,omitempty"`
	AreaCodes        []string `json:"area_codes,omitempty"`
	BlockedStates    []string `json:"blocked_states,omitempty"`
	BlockedZipCodes  []string `json:"blocked_zip_codes,omitempty"`
	BlockedAreaCodes []string `json:"blocked_area_codes,omitempty"`
}

type timeWindowRequest struct {
	StartMinute int   `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int   `json:"end_minute" validate:"min=0,max=1440"`
	Days        []int `json:"days,omitempty" validate:"dive,min=0,max=6"`
}

type timeFilterRequest struct {
	Enabled        bool                `json:"enabled"`
	Timezone       string              `json:"timezone,omitempty"`
	AllowedWindows []timeWindowRequest `json:"allowed_windows,omitempty"`
	BlockedWindows []timeWindowRequest `json:"blocked_windows,omitempty"`
}

type deviceFilterRequest struct {
	Enabled bool     `json:"enabled"`
	Allowed []string `json:"allowed,omitempty"`
	Blocked []string `json:"blocked,omitempty"`
}

type callerHistoryRequest struct {
	Enabled           bool   `json:"enabled"`
	MaxCallsPerCaller int    `json:"max_calls_per_caller" validate:"min=0"`
	Period            string `json:"period" validate:"omitempty,oneof=hour day week month"`
}

type targetRequest struct {
	Name             string `json:"name" validate:"required,max=255"`
	EndpointURL      string `json:"endpoint_url" validate:"required,url"`
	Method           string `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH"`
	TimeoutMs        int64  `json:"timeout_ms" validate:"omitempty,min=1"`
	ConnectTimeoutMs int64  `json:"connect_timeout_ms" validate:"omitempty,min=0"`

	Auth authRequest `json:"auth"`

	MinBid   string `json:"min_bid" validate:"required"`
	MaxBid   string `json:"max_bid" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`

	MaxConcurrentCalls int `json:"max_concurrent_calls" validate:"min=0"`
	HourlyCap          int `json:"hourly_cap" validate:"min=0"`
	DailyCap           int `json:"daily_cap" validate:"min=0"`
	MonthlyCap         int `json:"monthly_cap" validate:"min=0"`

	Geo           geoFilterRequest     `json:"geo"`
	Time          timeFilterRequest    `json:"time"`
	Device        deviceFilterRequest  `json:"device"`
	CallerHistory callerHistoryRequest `json:"caller_history"`

	BlockedCallerIDs []string `json:"blocked_caller_ids,omitempty"`

	QualityScoreThreshold float64 `json:"quality_score_threshold" validate:"min=0,max=100"`
	MaxRequestsPerSecond  float64 `json:"max_requests_per_second" validate:"min=0"`

	IsActive *bool `json:"is_active"`
}

type targetResponse struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	EndpointURL      string    `json:"endpoint_url"`
	Method           string    `json:"method"`
	TimeoutMs        int64     `json:"timeout_ms"`
	ConnectTimeoutMs int64     `json:"connect_timeout_ms"`

	AuthMethod string `json:"auth_method"`

	MinBid   string `json:"min_bid"`
	MaxBid   string `json:"max_bid"`
	Currency string `json:"currency"`

	MaxConcurrentCalls int `json:"max_concurrent_calls"`
	HourlyCap          int `json:"hourly_cap"`
	DailyCap           int `json:"daily_cap"`
	MonthlyCap         int `json:"monthly_cap"`

	Geo           rtb.GeoFilter           `json:"geo"`
	Time          rtb.TimeFilter          `json:"time"`
	Device        rtb.DeviceFilter        `json:"device"`
	CallerHistory rtb.CallerHistoryPolicy `json:"caller_history"`

	BlockedCallerIDs []string `json:"blocked_caller_ids,omitempty"`

	QualityScoreThreshold float64 `json:"quality_score_threshold"`
	MaxRequestsPerSecond  float64 `json:"max_requests_per_second"`

	IsActive bool `json:"is_active"`

	TotalPings     int64 `json:"total_pings"`
	SuccessfulBids int64 `json:"successful_bids"`
	WonCalls       int64 `json:"won_calls"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t targetRequest) toDomain(id uuid.UUID) (*rtb.Target, error) {
	minBid, err := values.NewMoneyFromString(t.MinBid, t.Currency)
	if err != nil {
		return nil, domainerrors.NewConfigurationError("min_bid", err.Error())
	}
	maxBid, err := values.NewMoneyFromString(t.MaxBid, t.Currency)
	if err != nil {
		return nil, domainerrors.NewConfigurationError("max_bid", err.Error())
	}

	authMethod, err := rtb.ParseAuthMethod(t.Auth.Method)
	if err != nil {
		return nil, domainerrors.NewConfigurationError("auth.method", err.Error())
	}
	geoMode, err := rtb.ParseGeoMode(t.Geo.Mode)
	if err != nil {
		return nil, domainerrors.NewConfigurationError("geo.mode", err.Error())
	}
	capPeriod, err := rtb.ParseCapPeriod(t.CallerHistory.Period)
	if err != nil {
		return nil, domainerrors.NewConfigurationError("caller_history.period", err.Error())
	}

	method := t.Method
	if method == "" {
		method = "POST"
	}
	timeout := 5 * time.Second
	if t.TimeoutMs > 0 {
		timeout = time.Duration(t.TimeoutMs) * time.Millisecond
	}

	now := time.Now().UTC()
	target := &rtb.Target{
		ID:             id,
		Name:           t.Name,
		EndpointURL:    t.EndpointURL,
		Method:         method,
		Timeout:        timeout,
		ConnectTimeout: time.Duration(t.ConnectTimeoutMs) * time.Millisecond,
		Auth: rtb.AuthConfig{
			Method: authMethod,
			Token:  t.Auth.Token,
			Header: t.Auth.Header,
		},
		MinBid:             minBid,
		MaxBid:             maxBid,
		Currency:           t.Currency,
		MaxConcurrentCalls: t.MaxConcurrentCalls,
		HourlyCap:          t.HourlyCap,
		DailyCap:           t.DailyCap,
		MonthlyCap:         t.MonthlyCap,
		Geo: rtb.GeoFilter{
			Enabled:          t.Geo.Enabled,
			Mode:             geoMode,
			States:           t.Geo.States,
			ZipCodes:         t.Geo.ZipCodes,
			AreaCodes:        t.Geo.AreaCodes,
			BlockedStates:    t.Geo.BlockedStates,
			BlockedZipCodes:  t.Geo.BlockedZipCodes,
			BlockedAreaCodes: t.Geo.BlockedAreaCodes,
		},
		Time: rtb.TimeFilter{
			Enabled:        t.Time.Enabled,
			Timezone:       t.Time.Timezone,
			AllowedWindows: toWindows(t.Time.AllowedWindows),
			BlockedWindows: toWindows(t.Time.BlockedWindows),
		},
		Device: rtb.DeviceFilter{
			Enabled: t.Device.Enabled,
			Allowed: t.Device.Allowed,
			Blocked: t.Device.Blocked,
		},
		CallerHistory: rtb.CallerHistoryPolicy{
			Enabled:           t.CallerHistory.Enabled,
			MaxCallsPerCaller: t.CallerHistory.MaxCallsPerCaller,
			Period:            capPeriod,
		},
		BlockedCallerIDs:      t.BlockedCallerIDs,
		QualityScoreThreshold: t.QualityScoreThreshold,
		MaxRequestsPerSecond:  t.MaxRequestsPerSecond,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if t.IsActive != nil {
		target.IsActive = *t.IsActive
	}
	if err := target.Validate(); err != nil {
		return nil, domainerrors.NewConfigurationError("target", err.Error())
	}
	return target, nil
}

func toWindows(windows []timeWindowRequest) []rtb.TimeWindow {
	if len(windows) == 0 {
		return nil
	}
	out := make([]rtb.TimeWindow, len(windows))
	for i, w := range windows {
		days := make([]time.Weekday, len(w.Days))
		for j, d := range w.Days {
			days[j] = time.Weekday(d)
		}
		if len(days) == 0 {
			days = nil
		}
		out[i] = rtb.TimeWindow{
			StartMinute: w.StartMinute,
			EndMinute:   w.EndMinute,
			Days:        days,
		}
	}
	return out
}

func targetFromDomain(target *rtb.Target) targetResponse {
	return targetResponse{
		ID:                    target.ID,
		Name:                  target.Name,
		EndpointURL:           target.EndpointURL,
		Method:                target.Method,
		TimeoutMs:             target.Timeout.Milliseconds(),
		ConnectTimeoutMs:      target.ConnectTimeout.Milliseconds(),
		AuthMethod:            target.Auth.Method.String(),
		MinBid:                target.MinBid.Amount().String(),
		MaxBid:                target.MaxBid.Amount().String(),
		Currency:              target.Currency,
		MaxConcurrentCalls:    target.MaxConcurrentCalls,
		HourlyCap:             target.HourlyCap,
		DailyCap:              target.DailyCap,
		MonthlyCap:            target.MonthlyCap,
		Geo:                   target.Geo,
		Time:                  target.Time,
		Device:                target.Device,
		CallerHistory:         target.CallerHistory,
		BlockedCallerIDs:      target.BlockedCallerIDs,
		QualityScoreThreshold: target.QualityScoreThreshold,
		MaxRequestsPerSecond:  target.MaxRequestsPerSecond,
		IsActive:              target.IsActive,
		TotalPings:            target.TotalPings,
		SuccessfulBids:        target.SuccessfulBids,
		WonCalls:              target.WonCalls,
		CreatedAt:             target.CreatedAt,
		UpdatedAt:             target.UpdatedAt,
	}
}

// Assignment payloads

type assignmentRequest struct {
	TargetID uuid.UUID `json:"target_id" validate:"required"`
	Priority int       `json:"priority" validate:"min=0"`
	IsActive *bool     `json:"is_active"`
}

type assignmentResponse struct {
	RouterID  uuid.UUID `json:"router_id"`
	TargetID  uuid.UUID `json:"target_id"`
	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Auction payloads

type auctionRequest struct {
	RouterID     uuid.UUID `json:"router_id" validate:"required"`
	CampaignID   uuid.UUID `json:"campaign_id" validate:"required"`
	CallID       uuid.UUID `json:"call_id"`
	CallerID     string    `json:"caller_id" validate:"required"`
	CallerNumber string    `json:"caller_number" validate:"required"`
	AreaCode     string    `json:"area_code,omitempty"`
	State        string    `json:"state,omitempty"`
	ZipCode      string    `json:"zip_code,omitempty"`
	DeviceType   string    `json:"device_type,omitempty"`
}

func (a auctionRequest) toCallContext(now time.Time) (rtb.CallContext, error) {
	number, err := values.NewPhoneNumber(a.CallerNumber)
	if err != nil {
		return rtb.CallContext{}, domainerrors.NewValidationError("INVALID_CALLER_NUMBER", err.Error())
	}

	callID := a.CallID
	if callID == uuid.Nil {
		callID = uuid.New()
	}

	return rtb.CallContext{
		CallID:       callID,
		CampaignID:   a.CampaignID,
		CallerID:     a.CallerID,
		CallerNumber: number,
		AreaCode:     a.AreaCode,
		State:        a.State,
		ZipCode:      a.ZipCode,
		DeviceType:   a.DeviceType,
		StartTime:    now,
	}, nil
}

type decisionResponse struct {
	RequestID           uuid.UUID  `json:"request_id"`
	WinningTargetID     *uuid.UUID `json:"winning_target_id,omitempty"`
	DestinationNumber   string     `json:"destination_number,omitempty"`
	BidAmount           string     `json:"bid_amount,omitempty"`
	Currency            string     `json:"currency,omitempty"`
	AuctionTimeMs       int64      `json:"auction_time_ms"`
	TotalTargetsPinged  int        `json:"total_targets_pinged"`
	SuccessfulResponses int        `json:"successful_responses"`
	BelowMinBidders     bool       `json:"below_min_bidders"`
}

func decisionFromDomain(decision *auction.RoutingDecision) decisionResponse {
	resp := decisionResponse{
		RequestID:           decision.RequestID,
		WinningTargetID:     decision.WinningTargetID,
		AuctionTimeMs:       decision.AuctionTime.Milliseconds(),
		TotalTargetsPinged:  decision.TotalTargetsPinged,
		SuccessfulResponses: decision.SuccessfulResponses,
		BelowMinBidders:     decision.BelowMinBidders,
	}
	if decision.DestinationNumber != nil {
		resp.DestinationNumber = decision.DestinationNumber.E164()
	}
	if decision.BidAmount != nil {
		resp.BidAmount = decision.BidAmount.Amount().String()
		resp.Currency = decision.BidAmount.Currency()
	}
	return resp
}

type auctionDetailResponse struct {
	Request   *auction.BidRequest    `json:"request"`
	Responses []*auction.BidResponse `json:"responses"`
}
