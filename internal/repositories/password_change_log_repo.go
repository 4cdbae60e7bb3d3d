package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mabini-abc/portal/internal/database"
	"github.com/mabini-abc/portal/internal/models"
)

const passwordChangeLogColumns = `id, account_id, account_email, account_role, account_barangay,
	reset_request_id, ip_address, user_agent, changed_at`

// PasswordChangeLogRepository handles the password change audit sink
type PasswordChangeLogRepository struct {
	db *database.DB
}

// NewPasswordChangeLogRepository creates a new PasswordChangeLogRepository
func NewPasswordChangeLogRepository(db *database.DB) *PasswordChangeLogRepository {
	return &PasswordChangeLogRepository{db: db}
}

func scanPasswordChangeLogRow(row rowScanner) (*models.PasswordChangeLog, error) {
	var entry models.PasswordChangeLog
	var role string

	err := row.Scan(
		&entry.ID, &entry.AccountID, &entry.AccountEmail, &role, &entry.AccountBarangay,
		&entry.ResetRequestID, &entry.IPAddress, &entry.UserAgent, &entry.ChangedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if entry.AccountRole, err = models.ParseRole(role); err != nil {
		return nil, fmt.Errorf("password change log %d: %w", entry.ID, err)
	}
	return &entry, nil
}

func scanPasswordChangeLogRows(rows pgx.Rows) ([]*models.PasswordChangeLog, error) {
	defer rows.Close()

	entries := make([]*models.PasswordChangeLog, 0)
	for rows.Next() {
		entry, err := scanPasswordChangeLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan password change log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating password change log rows: %w", err)
	}
	return entries, nil
}

// insertPasswordChangeLog appends an entry using q, normally the approving transaction.
func insertPasswordChangeLog(ctx context.Context, q querier, entry *models.PasswordChangeLog) (*models.PasswordChangeLog, error) {
	query := `
		INSERT INTO password_change_logs
			(account_id, account_email, account_role, account_barangay, reset_request_id, ip_address, user_agent, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + passwordChangeLogColumns

	created, err := scanPasswordChangeLogRow(q.QueryRow(ctx, query,
		entry.AccountID, entry.AccountEmail, string(entry.AccountRole), entry.AccountBarangay,
		entry.ResetRequestID, entry.IPAddress, entry.UserAgent, entry.ChangedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create password change log: %w", err)
	}
	return created, nil
}

// ListSince returns up to limit entries changed after since, newest first.
func (r *PasswordChangeLogRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.PasswordChangeLog, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+passwordChangeLogColumns+`
		FROM password_change_logs
		WHERE changed_at > $1
		ORDER BY changed_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query password change logs: %w", err)
	}
	return scanPasswordChangeLogRows(rows)
}

// CountSince counts entries changed after since.
func (r *PasswordChangeLogRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM password_change_logs WHERE changed_at > $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count password change logs: %w", err)
	}
	return count, nil
}

// Delete removes a single entry.
func (r *PasswordChangeLogRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM password_change_logs WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrLogEntryNotFound
	}
	return nil
}

// DeleteAll clears the log and returns how many entries were removed.
func (r *PasswordChangeLogRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM password_change_logs`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear password change logs: %w", err)
	}
	return result.RowsAffected(), nil
}
