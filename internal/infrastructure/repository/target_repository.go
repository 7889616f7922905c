package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type targetRepository struct {
	db querier
}

// NewTargetRepository creates a Postgres-backed target repository
func NewTargetRepository(db *sql.DB) TargetRepository {
	return &targetRepository{db: db}
}

const targetColumns = `
	id, name, endpoint_url, http_method, timeout_ms, connect_timeout_ms,
	auth, min_bid, max_bid, currency,
	max_concurrent_calls, hourly_cap, daily_cap, monthly_cap,
	geo_filter, time_filter, device_filter, caller_history,
	blocked_caller_ids, quality_score_threshold, max_requests_per_second,
	is_active, total_pings, successful_bids, won_calls,
	created_at, updated_at`

func (r *targetRepository) Create(ctx context.Context, target *rtb.Target) error {
	args, err := targetArgs(target)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO targets (` + targetColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21,
			$22, $23, $24, $25,
			$26, $27
		)
	`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert target: %w", normalizeError(err))
	}
	return nil
}

func (r *targetRepository) GetByID(ctx context.Context, id uuid.UUID) (*rtb.Target, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id)
	target, err := scanTarget(row)
	if err != nil {
		return nil, normalizeError(err)
	}
	return target, nil
}

func (r *targetRepository) Update(ctx context.Context, target *rtb.Target) error {
	target.UpdatedAt = time.Now().UTC()
	args, err := targetArgs(target)
	if err != nil {
		return err
	}

	query := `
		UPDATE targets SET
			name = $2, endpoint_url = $3, http_method = $4,
			timeout_ms = $5, connect_timeout_ms = $6, auth = $7,
			min_bid = $8, max_bid = $9, currency = $10,
			max_concurrent_calls = $11, hourly_cap = $12,
			daily_cap = $13, monthly_cap = $14,
			geo_filter = $15, time_filter = $16, device_filter = $17,
			caller_history = $18, blocked_caller_ids = $19,
			quality_score_threshold = $20, max_requests_per_second = $21,
			is_active = $22, total_pings = $23, successful_bids = $24,
			won_calls = $25, created_at = $26, updated_at = $27
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update target: %w", normalizeError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *targetRepository) List(ctx context.Context) ([]*rtb.Target, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []*rtb.Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (r *targetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete target: %w", normalizeError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// targetArgs flattens a target into the column order of targetColumns
func targetArgs(t *rtb.Target) ([]interface{}, error) {
	authJSON, err := json.Marshal(authDTO{
		Method: t.Auth.Method.String(),
		Token:  t.Auth.Token,
		Header: t.Auth.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal auth config: %w", err)
	}
	geoJSON, err := json.Marshal(t.Geo)
	if err != nil {
		return nil, fmt.Errorf("marshal geo filter: %w", err)
	}
	timeJSON, err := json.Marshal(t.Time)
	if err != nil {
		return nil, fmt.Errorf("marshal time filter: %w", err)
	}
	deviceJSON, err := json.Marshal(t.Device)
	if err != nil {
		return nil, fmt.Errorf("marshal device filter: %w", err)
	}
	historyJSON, err := json.Marshal(callerHistoryDTO{
		Enabled:           t.CallerHistory.Enabled,
		MaxCallsPerCaller: t.CallerHistory.MaxCallsPerCaller,
		Period:            t.CallerHistory.Period.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal caller history policy: %w", err)
	}

	return []interface{}{
		t.ID, t.Name, t.EndpointURL, t.Method,
		t.Timeout.Milliseconds(), t.ConnectTimeout.Milliseconds(),
		authJSON, t.MinBid.Amount().String(), t.MaxBid.Amount().String(), t.Currency,
		t.MaxConcurrentCalls, t.HourlyCap, t.DailyCap, t.MonthlyCap,
		geoJSON, timeJSON, deviceJSON, historyJSON,
		pq.Array(t.BlockedCallerIDs), t.QualityScoreThreshold, t.MaxRequestsPerSecond,
		t.IsActive, t.TotalPings, t.SuccessfulBids, t.WonCalls,
		t.CreatedAt, t.UpdatedAt,
	}, nil
}

type authDTO struct {
	Method string `json:"method"`
	Token  string `json:"token,omitempty"`
	Header string `json:"header,omitempty"`
}

type callerHistoryDTO struct {
	Enabled           bool   `json:"enabled"`
	MaxCallsPerCaller int    `json:"max_calls_per_caller"`
	Period            string `json:"period"`
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// targetScan stages raw target columns before conversion to the domain type
type targetScan struct {
	t                           rtb.Target
	timeoutMs, connectTimeoutMs int64
	authJSON, geoJSON           []byte
	timeJSON, deviceJSON        []byte
	historyJSON                 []byte
	minBid, maxBid              string
	blockedCallerIDs            pq.StringArray
}

func (s *targetScan) dest() []interface{} {
	t := &s.t
	return []interface{}{
		&t.ID, &t.Name, &t.EndpointURL, &t.Method, &s.timeoutMs, &s.connectTimeoutMs,
		&s.authJSON, &s.minBid, &s.maxBid, &t.Currency,
		&t.MaxConcurrentCalls, &t.HourlyCap, &t.DailyCap, &t.MonthlyCap,
		&s.geoJSON, &s.timeJSON, &s.deviceJSON, &s.historyJSON,
		&s.blockedCallerIDs, &t.QualityScoreThreshold, &t.MaxRequestsPerSecond,
		&t.IsActive, &t.TotalPings, &t.SuccessfulBids, &t.WonCalls,
		&t.CreatedAt, &t.UpdatedAt,
	}
}

func scanTarget(row rowScanner) (*rtb.Target, error) {
	var s targetScan
	if err := row.Scan(s.dest()...); err != nil {
		return nil, err
	}
	return s.finalize()
}

func (s *targetScan) finalize() (*rtb.Target, error) {
	t := &s.t

	t.Timeout = time.Duration(s.timeoutMs) * time.Millisecond
	t.ConnectTimeout = time.Duration(s.connectTimeoutMs) * time.Millisecond
	t.BlockedCallerIDs = s.blockedCallerIDs

	var auth authDTO
	if err := json.Unmarshal(s.authJSON, &auth); err != nil {
		return nil, fmt.Errorf("unmarshal auth config: %w", err)
	}
	method, err := rtb.ParseAuthMethod(auth.Method)
	if err != nil {
		return nil, err
	}
	t.Auth = rtb.AuthConfig{Method: method, Token: auth.Token, Header: auth.Header}

	if err := json.Unmarshal(s.geoJSON, &t.Geo); err != nil {
		return nil, fmt.Errorf("unmarshal geo filter: %w", err)
	}
	if err := json.Unmarshal(s.timeJSON, &t.Time); err != nil {
		return nil, fmt.Errorf("unmarshal time filter: %w", err)
	}
	if err := json.Unmarshal(s.deviceJSON, &t.Device); err != nil {
		return nil, fmt.Errorf("unmarshal device filter: %w", err)
	}

	var history callerHistoryDTO
	if err := json.Unmarshal(s.historyJSON, &history); err != nil {
		return nil, fmt.Errorf("unmarshal caller history policy: %w", err)
	}
	period, err := rtb.ParseCapPeriod(history.Period)
	if err != nil {
		return nil, err
	}
	t.CallerHistory = rtb.CallerHistoryPolicy{
		Enabled:           history.Enabled,
		MaxCallsPerCaller: history.MaxCallsPerCaller,
		Period:            period,
	}

	if t.MinBid, err = values.NewMoneyFromString(s.minBid, t.Currency); err != nil {
		return nil, fmt.Errorf("scan min bid: %w", err)
	}
	if t.MaxBid, err = values.NewMoneyFromString(s.maxBid, t.Currency); err != nil {
		return nil, fmt.Errorf("scan max bid: %w", err)
	}

	return t, nil
}
