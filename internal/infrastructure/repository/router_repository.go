package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

type routerRepository struct {
	db querier
}

// NewRouterRepository creates a Postgres-backed router repository
func NewRouterRepository(db *sql.DB) RouterRepository {
	return &routerRepository{db: db}
}

const routerColumns = `
	id, name, bidding_timeout_ms, min_bidders_required, strict_min_bidders,
	revenue_type, conversion_tracking, is_active, created_at, updated_at`

func (r *routerRepository) Create(ctx context.Context, router *rtb.Router) error {
	query := `
		INSERT INTO routers (` + routerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		router.ID, router.Name, router.BiddingTimeout.Milliseconds(),
		router.MinBiddersRequired, router.StrictMinBidders,
		router.RevenueType.String(), router.ConversionTracking,
		router.IsActive, router.CreatedAt, router.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert router: %w", normalizeError(err))
	}
	return nil
}

func (r *routerRepository) GetRouter(ctx context.Context, id uuid.UUID) (*rtb.Router, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+routerColumns+` FROM routers WHERE id = $1`, id)
	router, err := scanRouter(row)
	if err != nil {
		return nil, normalizeError(err)
	}
	return router, nil
}

func (r *routerRepository) Update(ctx context.Context, router *rtb.Router) error {
	router.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE routers SET
			name = $2, bidding_timeout_ms = $3, min_bidders_required = $4,
			strict_min_bidders = $5, revenue_type = $6,
			conversion_tracking = $7, is_active = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		router.ID, router.Name, router.BiddingTimeout.Milliseconds(),
		router.MinBiddersRequired, router.StrictMinBidders,
		router.RevenueType.String(), router.ConversionTracking,
		router.IsActive, router.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update router: %w", normalizeError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *routerRepository) List(ctx context.Context) ([]*rtb.Router, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+routerColumns+` FROM routers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list routers: %w", err)
	}
	defer rows.Close()

	var routers []*rtb.Router
	for rows.Next() {
		router, err := scanRouter(rows)
		if err != nil {
			return nil, err
		}
		routers = append(routers, router)
	}
	return routers, rows.Err()
}

func (r *routerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM routers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete router: %w", normalizeError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *routerRepository) AssignTarget(ctx context.Context, assignment *rtb.Assignment) error {
	query := `
		INSERT INTO router_targets (router_id, target_id, priority, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (router_id, target_id)
		DO UPDATE SET priority = EXCLUDED.priority, is_active = EXCLUDED.is_active
	`
	_, err := r.db.ExecContext(ctx, query,
		assignment.RouterID, assignment.TargetID,
		assignment.Priority, assignment.IsActive, assignment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("assign target: %w", normalizeError(err))
	}
	return nil
}

func (r *routerRepository) RemoveAssignment(ctx context.Context, routerID, targetID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM router_targets WHERE router_id = $1 AND target_id = $2`,
		routerID, targetID,
	)
	if err != nil {
		return fmt.Errorf("remove assignment: %w", normalizeError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *routerRepository) ListAssignments(ctx context.Context, routerID uuid.UUID) ([]*rtb.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT router_id, target_id, priority, is_active, created_at
		FROM router_targets
		WHERE router_id = $1
		ORDER BY priority
	`, routerID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*rtb.Assignment
	for rows.Next() {
		var a rtb.Assignment
		if err := rows.Scan(&a.RouterID, &a.TargetID, &a.Priority, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

// ListCandidates joins active assignments with their targets in priority
// order. Inactive targets are still returned; the eligibility filter records
// why they were excluded.
func (r *routerRepository) ListCandidates(ctx context.Context, routerID uuid.UUID) ([]eligibility.Candidate, error) {
	query := `
		SELECT rt.priority, ` + prefixColumns("t", targetColumns) + `
		FROM router_targets rt
		JOIN targets t ON t.id = rt.target_id
		WHERE rt.router_id = $1 AND rt.is_active
		ORDER BY rt.priority
	`
	rows, err := r.db.QueryContext(ctx, query, routerID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []eligibility.Candidate
	for rows.Next() {
		candidate, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

func scanCandidate(row rowScanner) (eligibility.Candidate, error) {
	var priority int
	var s targetScan
	if err := row.Scan(append([]interface{}{&priority}, s.dest()...)...); err != nil {
		return eligibility.Candidate{}, err
	}
	target, err := s.finalize()
	if err != nil {
		return eligibility.Candidate{}, err
	}
	return eligibility.Candidate{Target: target, Priority: priority}, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanRouter(row rowScanner) (*rtb.Router, error) {
	var router rtb.Router
	var timeoutMs int64
	var revenueType string

	err := row.Scan(
		&router.ID, &router.Name, &timeoutMs, &router.MinBiddersRequired,
		&router.StrictMinBidders, &revenueType, &router.ConversionTracking,
		&router.IsActive, &router.CreatedAt, &router.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	router.BiddingTimeout = time.Duration(timeoutMs) * time.Millisecond
	if router.RevenueType, err = rtb.ParseRevenueType(revenueType); err != nil {
		return nil, err
	}
	return &router, nil
}
