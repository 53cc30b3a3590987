package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haneul-labs/tripdesk/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. The step chain is held
// as a JSONB column; step-level filters use jsonb_array_elements.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL approval store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const approvalColumns = `id, title, content, target_type, target_id,
	       amount, currency, status, current_step, steps,
	       requester_id, created_at, updated_at, deleted_at, version`

// Create inserts a new approval.
func (s *PgStore) Create(ctx context.Context, ap model.Approval) error {
	stepsJSON, err := json.Marshal(ap.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO approvals (
			id, title, content, target_type, target_id,
			amount, currency, status, current_step, steps,
			requester_id, created_at, updated_at, deleted_at, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`,
		ap.ID, ap.Title, ap.Content, ap.TargetType, ap.TargetID,
		ap.Amount, ap.Currency, ap.Status, ap.CurrentStep, stepsJSON,
		ap.RequesterID, ap.CreatedAt, ap.UpdatedAt, ap.DeletedAt, ap.Version,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Get retrieves an approval by ID. Soft-deleted rows are treated as absent.
func (s *PgStore) Get(ctx context.Context, id string) (model.Approval, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)

	ap, err := scanApproval(row)
	if err == pgx.ErrNoRows {
		return model.Approval{}, model.NewNotFoundError("Approval not found")
	}
	if err != nil {
		return model.Approval{}, fmt.Errorf("query approval: %w", err)
	}
	return ap, nil
}

// Update persists an updated approval with optimistic locking.
func (s *PgStore) Update(ctx context.Context, ap model.Approval) error {
	stepsJSON, err := json.Marshal(ap.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE approvals SET
			title = $1,
			content = $2,
			status = $3,
			current_step = $4,
			steps = $5,
			deleted_at = $6,
			version = $7,
			updated_at = $8
		WHERE id = $9 AND version = $10 AND deleted_at IS NULL`,
		ap.Title, ap.Content, ap.Status, ap.CurrentStep, stepsJSON,
		ap.DeletedAt, ap.Version+1, time.Now().UTC(),
		ap.ID, ap.Version,
	)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM approvals WHERE id = $1 AND deleted_at IS NULL)`,
			ap.ID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check approval existence: %w", err)
		}
		if !exists {
			return model.NewNotFoundError("Approval not found")
		}
		return model.NewConflictError(
			fmt.Sprintf("approval %q version conflict (expected %d)", ap.ID, ap.Version),
		)
	}
	return nil
}

// Find returns approvals matching the filters, newest first, plus the total
// match count before pagination.
func (s *PgStore) Find(ctx context.Context, filters model.ApprovalFilters) ([]model.Approval, int, error) {
	where, args := buildWhere(filters)

	var total int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM approvals `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count approvals: %w", err)
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals ` + where +
		` ORDER BY created_at DESC, id ASC`
	argIdx := len(args) + 1
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var approvals []model.Approval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, ap)
	}
	return approvals, total, rows.Err()
}

func buildWhere(f model.ApprovalFilters) (string, []any) {
	where := "WHERE deleted_at IS NULL"
	var args []any
	argIdx := 1

	add := func(clause string, arg any) {
		where += fmt.Sprintf(" AND "+clause, argIdx)
		args = append(args, arg)
		argIdx++
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}
	if f.TargetType != "" {
		add("target_type = $%d", f.TargetType)
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedUntil != nil {
		add("created_at < $%d", *f.CreatedUntil)
	}
	if f.ApproverID != "" {
		add(`EXISTS (
			SELECT 1 FROM jsonb_array_elements(steps) AS step
			WHERE step->>'approver_id' = $%d)`, f.ApproverID)
	}
	if f.AwaitingApproverID != "" {
		add(`status = 'pending' AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(steps) AS step
			WHERE step->>'approver_id' = $%d
			AND step->>'action' IS NULL)`, f.AwaitingApproverID)
	}

	return where, args
}

func scanApproval(row pgx.Row) (model.Approval, error) {
	var ap model.Approval
	var stepsJSON []byte

	err := row.Scan(
		&ap.ID, &ap.Title, &ap.Content, &ap.TargetType, &ap.TargetID,
		&ap.Amount, &ap.Currency, &ap.Status, &ap.CurrentStep, &stepsJSON,
		&ap.RequesterID, &ap.CreatedAt, &ap.UpdatedAt, &ap.DeletedAt, &ap.Version,
	)
	if err != nil {
		return model.Approval{}, err
	}

	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &ap.Steps); err != nil {
			return model.Approval{}, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	return ap, nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
