package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	domainerrors "github.com/ringflow/call-auction-backend/internal/domain/errors"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
	"github.com/ringflow/call-auction-backend/internal/service/bidding"
)

type auctionRepository struct {
	db *sql.DB
}

// NewAuctionRepository creates a Postgres-backed auction audit repository
func NewAuctionRepository(db *sql.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

// SaveAuction writes the closed request and all of its response rows in one
// transaction. A request ID that was already saved is rejected, which makes
// retried saves idempotent.
func (r *auctionRepository) SaveAuction(ctx context.Context, request *auction.BidRequest, responses []*auction.BidResponse) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRequest(ctx, tx, request); err != nil {
		return err
	}
	for _, resp := range responses {
		if err := insertResponse(ctx, tx, resp); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertRequest(ctx context.Context, tx *sql.Tx, request *auction.BidRequest) error {
	var winningAmount, winningCurrency sql.NullString
	if request.WinningBidAmount != nil {
		winningAmount = sql.NullString{String: request.WinningBidAmount.Amount().String(), Valid: true}
		winningCurrency = sql.NullString{String: request.WinningBidAmount.Currency(), Valid: true}
	}

	query := `
		INSERT INTO bid_requests (
			request_id, router_id, campaign_id, call_id, caller_id,
			call_start_time, state, total_targets_pinged, successful_responses,
			winning_bid_amount, winning_currency, winning_target_id,
			total_response_time_ms, below_min_bidders, created_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)
	`
	_, err := tx.ExecContext(ctx, query,
		request.RequestID, request.RouterID, request.CampaignID,
		request.CallID, request.CallerID, request.CallStartTime,
		request.State.String(), request.TotalTargetsPinged, request.SuccessfulResponses,
		winningAmount, winningCurrency, request.WinningTargetID,
		request.TotalResponseTime.Milliseconds(), request.BelowMinBidders,
		request.CreatedAt, request.ClosedAt,
	)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return domainerrors.ErrDuplicateRequest
		}
		return fmt.Errorf("insert bid request: %w", err)
	}
	return nil
}

func insertResponse(ctx context.Context, tx *sql.Tx, resp *auction.BidResponse) error {
	var amount, currency sql.NullString
	if resp.BidAmount.Currency() != "" {
		amount = sql.NullString{String: resp.BidAmount.Amount().String(), Valid: true}
		currency = sql.NullString{String: resp.BidAmount.Currency(), Valid: true}
	}

	var destination sql.NullString
	if !resp.DestinationNumber.IsEmpty() {
		destination = sql.NullString{String: resp.DestinationNumber.E164(), Valid: true}
	}

	query := `
		INSERT INTO bid_responses (
			id, request_id, target_id, bid_amount, bid_currency,
			required_duration, destination_number, response_time_ms,
			status, is_valid, is_winning_bid, rejection_reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13
		)
	`
	_, err := tx.ExecContext(ctx, query,
		resp.ID, resp.RequestID, resp.TargetID, amount, currency,
		resp.RequiredDuration, destination, resp.ResponseTime.Milliseconds(),
		resp.Status.String(), resp.IsValid, resp.IsWinningBid,
		resp.RejectionReason, resp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bid response: %w", normalizeError(err))
	}
	return nil
}

// RecordTargetOutcomes bumps per-target usage counters after an auction
func (r *auctionRepository) RecordTargetOutcomes(ctx context.Context, outcomes []bidding.TargetOutcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE targets SET
			total_pings = total_pings + 1,
			successful_bids = successful_bids + $2,
			won_calls = won_calls + $3,
			updated_at = NOW()
		WHERE id = $1
	`
	for _, o := range outcomes {
		bid, won := 0, 0
		if o.Bid {
			bid = 1
		}
		if o.Won {
			won = 1
		}
		if _, err := tx.ExecContext(ctx, query, o.TargetID, bid, won); err != nil {
			return fmt.Errorf("update target counters: %w", err)
		}
	}

	return tx.Commit()
}

// CountCallerCalls counts calls sold to a target from one caller since the
// cutoff. Only winning responses represent sold calls.
func (r *auctionRepository) CountCallerCalls(ctx context.Context, targetID uuid.UUID, callerID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM bid_responses resp
		JOIN bid_requests req ON req.request_id = resp.request_id
		WHERE resp.target_id = $1
		  AND req.caller_id = $2
		  AND resp.is_winning_bid
		  AND resp.created_at >= $3
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, targetID, callerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count caller calls: %w", err)
	}
	return count, nil
}

const requestColumns = `
	request_id, router_id, campaign_id, call_id, caller_id,
	call_start_time, state, total_targets_pinged, successful_responses,
	winning_bid_amount, winning_currency, winning_target_id,
	total_response_time_ms, below_min_bidders, created_at, closed_at`

// GetByRequestID loads one auction with its response rows
func (r *auctionRepository) GetByRequestID(ctx context.Context, requestID uuid.UUID) (*auction.BidRequest, []*auction.BidResponse, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM bid_requests WHERE request_id = $1`, requestID)
	request, err := scanRequest(row)
	if err != nil {
		return nil, nil, normalizeError(err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, target_id, bid_amount, bid_currency,
		       required_duration, destination_number, response_time_ms,
		       status, is_valid, is_winning_bid, rejection_reason, created_at
		FROM bid_responses
		WHERE request_id = $1
		ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("load bid responses: %w", err)
	}
	defer rows.Close()

	var responses []*auction.BidResponse
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, nil, err
		}
		responses = append(responses, resp)
	}
	return request, responses, rows.Err()
}

// ListByCampaign returns the most recent auctions for a campaign
func (r *auctionRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]*auction.BidRequest, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM bid_requests
		 WHERE campaign_id = $1 ORDER BY created_at DESC LIMIT $2`,
		campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	var requests []*auction.BidRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

func scanRequest(row rowScanner) (*auction.BidRequest, error) {
	var request auction.BidRequest
	var state string
	var winningAmount, winningCurrency sql.NullString
	var winningTargetID *uuid.UUID
	var responseTimeMs int64

	err := row.Scan(
		&request.RequestID, &request.RouterID, &request.CampaignID,
		&request.CallID, &request.CallerID, &request.CallStartTime,
		&state, &request.TotalTargetsPinged, &request.SuccessfulResponses,
		&winningAmount, &winningCurrency, &winningTargetID,
		&responseTimeMs, &request.BelowMinBidders,
		&request.CreatedAt, &request.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	request.State = parseState(state)
	request.TotalResponseTime = time.Duration(responseTimeMs) * time.Millisecond
	request.WinningTargetID = winningTargetID

	if winningAmount.Valid {
		amount, err := values.NewMoneyFromString(winningAmount.String, winningCurrency.String)
		if err != nil {
			return nil, fmt.Errorf("scan winning bid: %w", err)
		}
		request.WinningBidAmount = &amount
	}

	return &request, nil
}

func scanResponse(row rowScanner) (*auction.BidResponse, error) {
	var resp auction.BidResponse
	var amount, currency, destination sql.NullString
	var status string
	var responseTimeMs int64

	err := row.Scan(
		&resp.ID, &resp.RequestID, &resp.TargetID, &amount, &currency,
		&resp.RequiredDuration, &destination, &responseTimeMs,
		&status, &resp.IsValid, &resp.IsWinningBid,
		&resp.RejectionReason, &resp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	resp.ResponseTime = time.Duration(responseTimeMs) * time.Millisecond
	resp.Status = parseStatus(status)

	if amount.Valid {
		money, err := values.NewMoneyFromString(amount.String, currency.String)
		if err != nil {
			return nil, fmt.Errorf("scan bid amount: %w", err)
		}
		resp.BidAmount = money
	}
	if destination.Valid {
		number, err := values.NewPhoneNumber(destination.String)
		if err != nil {
			return nil, fmt.Errorf("scan destination number: %w", err)
		}
		resp.DestinationNumber = number
	}

	return &resp, nil
}

func parseState(s string) auction.State {
	switch s {
	case "created":
		return auction.StateCreated
	case "dispatching":
		return auction.StateDispatching
	case "collecting":
		return auction.StateCollecting
	default:
		return auction.StateClosed
	}
}

func parseStatus(s string) auction.ResponseStatus {
	switch s {
	case "error":
		return auction.StatusError
	case "timeout":
		return auction.StatusTimeout
	default:
		return auction.StatusSuccess
	}
}
