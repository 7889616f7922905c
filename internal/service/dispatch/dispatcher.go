package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/captracker"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

const maxResponseBody = 64 * 1024

// httpDispatcher implements Dispatcher over plain HTTP
type httpDispatcher struct {
	client *http.Client
	caps   captracker.Tracker
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

// NewHTTPDispatcher creates the outbound bid dispatcher. The client carries
// no global timeout; every request is bounded by its own context.
func NewHTTPDispatcher(caps captracker.Tracker, logger *slog.Logger) Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &httpDispatcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				DialContext: (&net.Dialer{
					Timeout: 2 * time.Second,
				}).DialContext,
			},
		},
		caps:     caps,
		logger:   logger,
		limiters: make(map[uuid.UUID]*rate.Limiter),
	}
}

// bidRequestPayload is the outbound bidder wire format
type bidRequestPayload struct {
	RequestID     string    `json:"request_id"`
	CampaignID    string    `json:"campaign_id"`
	CallerID      string    `json:"caller_id"`
	CallStartTime time.Time `json:"call_start_time"`
	TimeoutMs     int64     `json:"timeout_ms"`
	MinBid        string    `json:"min_bid"`
	MaxBid        string    `json:"max_bid"`
	Currency      string    `json:"currency"`
}

// bidResponsePayload is the expected bidder answer. bid_amount tolerates
// both JSON numbers and strings.
type bidResponsePayload struct {
	BidAmount         json.Number `json:"bid_amount"`
	BidCurrency       string      `json:"bid_currency"`
	DestinationNumber string      `json:"destination_number"`
	RequiredDuration  int         `json:"required_duration"`
}

func (d *httpDispatcher) Dispatch(ctx context.Context, requestID uuid.UUID, call rtb.CallContext, targets []eligibility.EligibleTarget, deadline time.Duration) []TargetResult {
	if len(targets) == 0 {
		return nil
	}

	globalCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make(chan TargetResult, len(targets))
	for _, et := range targets {
		go d.runTarget(globalCtx, requestID, call, et, results)
	}

	// Every per-target context is derived from globalCtx, so the join is
	// bounded by the router deadline plus scheduling epsilon.
	collected := make([]TargetResult, 0, len(targets))
	for range targets {
		collected = append(collected, <-results)
	}
	return collected
}

// runTarget issues one bid request and always delivers exactly one result,
// releasing the cap reservation on any failed outcome. A panic in the
// request path is converted to an error response so one broken target can
// never take down the auction.
func (d *httpDispatcher) runTarget(ctx context.Context, requestID uuid.UUID, call rtb.CallContext, et eligibility.EligibleTarget, results chan<- TargetResult) {
	target := et.Target
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "bid dispatch panic",
				"target_id", target.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			d.release(ctx, et.Reservation)
			results <- TargetResult{
				Target:   target,
				Response: auction.NewErrorResponse(requestID, target.ID, time.Since(start), "internal dispatch panic"),
			}
		}
	}()

	resp, err := d.requestBid(ctx, requestID, call, et, start)
	if err != nil {
		d.release(ctx, et.Reservation)
		elapsed := time.Since(start)
		if errors.Is(err, context.DeadlineExceeded) {
			results <- TargetResult{
				Target:   target,
				Response: auction.NewTimeoutResponse(requestID, target.ID, elapsed),
			}
			return
		}
		results <- TargetResult{
			Target:   target,
			Response: auction.NewErrorResponse(requestID, target.ID, elapsed, err.Error()),
		}
		return
	}

	results <- TargetResult{
		Target:      target,
		Response:    resp,
		Reservation: et.Reservation,
	}
}

func (d *httpDispatcher) requestBid(ctx context.Context, requestID uuid.UUID, call rtb.CallContext, et eligibility.EligibleTarget, start time.Time) (*auction.BidResponse, error) {
	target := et.Target

	// Per-target budget, clamped to whatever the router deadline has left.
	budget := target.Timeout
	if remaining, ok := ctx.Deadline(); ok {
		if left := time.Until(remaining); left < budget {
			budget = left
		}
	}
	if budget <= 0 {
		return nil, context.DeadlineExceeded
	}

	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := d.pace(tctx, target); err != nil {
		return nil, err
	}

	payload := bidRequestPayload{
		RequestID:     requestID.String(),
		CampaignID:    call.CampaignID.String(),
		CallerID:      call.CallerID,
		CallStartTime: call.StartTime,
		TimeoutMs:     budget.Milliseconds(),
		MinBid:        target.MinBid.Amount().String(),
		MaxBid:        target.MaxBid.Amount().String(),
		Currency:      target.Currency,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal bid request: %w", err)
	}

	req, err := http.NewRequestWithContext(tctx, target.Method, target.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	applyAuth(req, target.Auth)

	httpResp, err := d.client.Do(req)
	if err != nil {
		if tctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("bid request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		if tctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("read bid response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d %s", httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
	}

	var parsed bidResponsePayload
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("malformed response body: %v", err)
	}

	elapsed := time.Since(start)

	// Missing or unparseable amounts survive as an empty Money; the
	// validator records the rejection reason on the persisted row.
	var amount values.Money
	if parsed.BidAmount.String() != "" {
		currency := parsed.BidCurrency
		if currency == "" {
			currency = target.Currency
		}
		if m, err := values.NewMoneyFromString(parsed.BidAmount.String(), currency); err == nil {
			amount = m
		}
	}

	var destination values.PhoneNumber
	if strings.TrimSpace(parsed.DestinationNumber) != "" {
		if p, err := values.NewPhoneNumber(parsed.DestinationNumber); err == nil {
			destination = p
		}
	}

	return auction.NewSuccessResponse(requestID, target.ID, amount, destination, parsed.RequiredDuration, elapsed), nil
}

// pace applies the target's outbound request rate limit
func (d *httpDispatcher) pace(ctx context.Context, target *rtb.Target) error {
	if target.MaxRequestsPerSecond <= 0 {
		return nil
	}

	d.mu.Lock()
	limiter, ok := d.limiters[target.ID]
	if !ok {
		burst := int(target.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(target.MaxRequestsPerSecond), burst)
		d.limiters[target.ID] = limiter
	}
	d.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return context.DeadlineExceeded
	}
	return nil
}

func (d *httpDispatcher) release(ctx context.Context, res *captracker.Reservation) {
	if res == nil {
		return
	}
	// The auction deadline may already have fired; the release must still
	// reach the tracker.
	ctx = context.WithoutCancel(ctx)
	if err := d.caps.Release(ctx, res); err != nil {
		d.logger.WarnContext(ctx, "reservation release failed",
			"target_id", res.TargetID,
			"error", err,
		)
	}
}

func applyAuth(req *http.Request, auth rtb.AuthConfig) {
	switch auth.Method {
	case rtb.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Token)
	case rtb.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case rtb.AuthBasic:
		user, pass, _ := strings.Cut(auth.Token, ":")
		req.SetBasicAuth(user, pass)
	}
}
