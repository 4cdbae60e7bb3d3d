package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mabini-abc/portal/internal/database"
	"github.com/mabini-abc/portal/internal/models"
)

const onePendingConstraint = "password_reset_requests_one_pending_key"

const resetRequestColumns = `r.id, r.account_id, r.account_email, r.account_role, r.account_barangay,
	r.new_password_hash, r.ip_address, r.user_agent, r.status, r.requested_at,
	r.reviewed_at, r.reviewed_by, reviewer.email, r.rejection_reason`

const resetRequestFrom = ` FROM password_reset_requests r
	LEFT JOIN accounts reviewer ON reviewer.id = r.reviewed_by`

// ResetRequestRepository persists password reset requests and performs the
// multi-row state transitions of the reset workflow atomically.
type ResetRequestRepository struct {
	db *database.DB
}

// NewResetRequestRepository creates a new ResetRequestRepository
func NewResetRequestRepository(db *database.DB) *ResetRequestRepository {
	return &ResetRequestRepository{db: db}
}

func scanResetRequestRow(row rowScanner) (*models.ResetRequest, error) {
	var req models.ResetRequest
	var role, status string

	err := row.Scan(
		&req.ID, &req.AccountID, &req.AccountEmail, &role, &req.AccountBarangay,
		&req.NewPasswordHash, &req.IPAddress, &req.UserAgent, &status, &req.RequestedAt,
		&req.ReviewedAt, &req.ReviewedBy, &req.ReviewedByEmail, &req.RejectionReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if req.AccountRole, err = models.ParseRole(role); err != nil {
		return nil, fmt.Errorf("reset request %d: %w", req.ID, err)
	}
	req.Status = models.ResetStatus(status)
	return &req, nil
}

func scanResetRequestRows(rows pgx.Rows) ([]*models.ResetRequest, error) {
	defer rows.Close()

	requests := make([]*models.ResetRequest, 0)
	for rows.Next() {
		req, err := scanResetRequestRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reset request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reset request rows: %w", err)
	}
	return requests, nil
}

func getResetRequest(ctx context.Context, q querier, id int64, forUpdate bool) (*models.ResetRequest, error) {
	query := `SELECT ` + resetRequestColumns + resetRequestFrom + ` WHERE r.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF r`
	}
	req, err := scanResetRequestRow(q.QueryRow(ctx, query, id))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrResetRequestNotFound
	}
	return req, err
}

// GetByID returns a request or models.ErrResetRequestNotFound.
func (r *ResetRequestRepository) GetByID(ctx context.Context, id int64) (*models.ResetRequest, error) {
	return getResetRequest(ctx, r.db.Pool, id, false)
}

// HasPending reports whether the account currently has a pending request.
func (r *ResetRequestRepository) HasPending(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM password_reset_requests WHERE account_id = $1 AND status = 'pending')`,
		accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending reset: %w", err)
	}
	return exists, nil
}

// CreatePending inserts a pending request and locks the account in one
// transaction. The account row is locked first and the pending check is
// repeated under that lock; the partial unique index backs it up.
func (r *ResetRequestRepository) CreatePending(ctx context.Context, req *models.ResetRequest) (*models.ResetRequest, error) {
	var created *models.ResetRequest

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrResetAccountNotFound
			}
			return err
		}

		var pending bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM password_reset_requests WHERE account_id = $1 AND status = 'pending')`,
			account.ID).Scan(&pending); err != nil {
			return fmt.Errorf("check pending reset: %w", err)
		}
		if pending {
			return models.ErrResetAlreadyPending
		}

		var id int64
		err = tx.QueryRow(ctx, `
			INSERT INTO password_reset_requests
				(account_id, account_email, account_role, account_barangay, new_password_hash, ip_address, user_agent, status, requested_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
			RETURNING id`,
			account.ID, account.Email, string(account.Role), account.Barangay,
			req.NewPasswordHash, req.IPAddress, req.UserAgent, req.RequestedAt,
		).Scan(&id)
		if err != nil {
			if database.IsUniqueViolation(err, onePendingConstraint) {
				return models.ErrResetAlreadyPending
			}
			return fmt.Errorf("insert reset request: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET locked = TRUE, updated_at = $1 WHERE id = $2`,
			req.RequestedAt, account.ID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		created, err = getResetRequest(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// lockPending loads the request under FOR UPDATE and requires it to be pending.
func lockPending(ctx context.Context, tx pgx.Tx, id int64) (*models.ResetRequest, error) {
	req, err := getResetRequest(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, models.ErrResetAlreadyReviewed
	}
	return req, nil
}

// Approve commits the pending verifier, unlocks the account, marks the
// request approved and appends the password change log entry atomically.
func (r *ResetRequestRepository) Approve(ctx context.Context, id int64, reviewerID string, at time.Time) (*models.ResetRequest, *models.PasswordChangeLog, error) {
	var (
		approved *models.ResetRequest
		entry    *models.PasswordChangeLog
	)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		req, err := lockPending(ctx, tx, id)
		if err != nil {
			return err
		}

		result, err := tx.Exec(ctx, `
			UPDATE accounts
			SET password_hash = $1, locked = FALSE, password_changed_at = $2, updated_at = $2
			WHERE id = $3`,
			req.NewPasswordHash, at, req.AccountID)
		if err != nil {
			return fmt.Errorf("update verifier: %w", err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrResetAccountNotFound
		}

		if _, err := tx.Exec(ctx, `
			UPDATE password_reset_requests
			SET status = 'approved', reviewed_at = $1, reviewed_by = $2
			WHERE id = $3`,
			at, reviewerID, id); err != nil {
			return fmt.Errorf("mark approved: %w", err)
		}

		entry, err = insertPasswordChangeLog(ctx, tx, &models.PasswordChangeLog{
			AccountID:       req.AccountID,
			AccountEmail:    req.AccountEmail,
			AccountRole:     req.AccountRole,
			AccountBarangay: req.AccountBarangay,
			ResetRequestID:  &req.ID,
			IPAddress:       req.IPAddress,
			UserAgent:       req.UserAgent,
			ChangedAt:       at,
		})
		if err != nil {
			return err
		}

		approved, err = getResetRequest(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return approved, entry, nil
}

// Reject unlocks the account, keeping its original verifier, and marks the
// request rejected. No log entry is written.
func (r *ResetRequestRepository) Reject(ctx context.Context, id int64, reviewerID, reason string, at time.Time) (*models.ResetRequest, error) {
	var rejected *models.ResetRequest

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		req, err := lockPending(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET locked = FALSE, updated_at = $1 WHERE id = $2`,
			at, req.AccountID); err != nil {
			return fmt.Errorf("unlock account: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE password_reset_requests
			SET status = 'rejected', reviewed_at = $1, reviewed_by = $2, rejection_reason = $3
			WHERE id = $4`,
			at, reviewerID, reason, id); err != nil {
			return fmt.Errorf("mark rejected: %w", err)
		}

		rejected, err = getResetRequest(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// List returns requests matching filter, pending first, newest first.
func (r *ResetRequestRepository) List(ctx context.Context, filter models.ResetRequestFilter) ([]*models.ResetRequest, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if filter == models.ResetFilterAll {
		rows, err = r.db.Pool.Query(ctx, `SELECT `+resetRequestColumns+resetRequestFrom+`
			ORDER BY CASE r.status WHEN 'pending' THEN 1 WHEN 'approved' THEN 2 ELSE 3 END,
			         r.requested_at DESC`)
	} else {
		rows, err = r.db.Pool.Query(ctx, `SELECT `+resetRequestColumns+resetRequestFrom+`
			WHERE r.status = $1
			ORDER BY r.requested_at DESC`, string(filter))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reset requests: %w", err)
	}

	return scanResetRequestRows(rows)
}

// CountPending returns the number of requests awaiting review.
func (r *ResetRequestRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM password_reset_requests WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending reset requests: %w", err)
	}
	return count, nil
}

// Delete removes a reviewed request. Pending requests are refused so an
// account is never left locked without a request to review.
func (r *ResetRequestRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		req, err := getResetRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !req.IsTerminal() {
			return models.ErrResetReviewRequired
		}
		if _, err := tx.Exec(ctx, `DELETE FROM password_reset_requests WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete reset request: %w", err)
		}
		return nil
	})
}
