package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mabini-abc/portal/internal/database"
	"github.com/mabini-abc/portal/internal/models"
)

const accountColumns = `id, email, password_hash, role, barangay, archived, locked,
	last_activity_at, password_changed_at, created_at, updated_at`

// AccountRepository is the credential store.
type AccountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// scanAccountRow handles nullable fields and the role enumeration.
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var role string

	err := scanner.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &role, &account.Barangay,
		&account.Archived, &account.Locked,
		&account.LastActivityAt, &account.PasswordChangedAt,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.Role, err = models.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account.ID, err)
	}

	return &account, nil
}

// Create provisions an account. The email is normalized to the identity form.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.Email = models.NormalizeIdentity(account.Email)

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if _, err := models.ParseRole(string(account.Role)); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, role, barangay, archived, locked, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.ID, account.Email, account.PasswordHash, string(account.Role), account.Barangay,
		account.Archived, account.Locked, account.PasswordChangedAt,
		account.CreatedAt, account.UpdatedAt,
	))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByEmail looks an account up by identity, case-insensitively.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, models.NormalizeIdentity(email)))
}

// TouchActivity records the last time the account was seen.
func (r *AccountRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET last_activity_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// lockAccount loads an account row under FOR UPDATE inside tx.
func lockAccount(ctx context.Context, q querier, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccountRow(q.QueryRow(ctx, query, id))
}
