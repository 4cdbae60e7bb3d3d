//go:build integration

package repositories

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mabini-abc/portal/internal/database"
	"github.com/mabini-abc/portal/internal/models"
	"github.com/mabini-abc/portal/internal/services"
	pkgauth "github.com/mabini-abc/portal/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestDatabase starts PostgreSQL in a container and applies the
// embedded migrations.
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("barangay_portal"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	require.NoError(t, database.Migrate(ctx, sqlDB, "up", discardLogger()))

	return database.New(pool, discardLogger())
}

func seedAccount(t *testing.T, repo *AccountRepository, email, password string, role models.Role, barangay string) *models.Account {
	t.Helper()
	hash, err := pkgauth.HashPassword(password)
	require.NoError(t, err)
	account, err := repo.Create(context.Background(), &models.Account{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Barangay:     barangay,
	})
	require.NoError(t, err)
	return account
}

func TestIntegration_Repositories(t *testing.T) {
	pkgauth.BcryptCost = bcrypt.MinCost
	db := setupTestDatabase(t)
	ctx := context.Background()

	accounts := NewAccountRepository(db)
	attempts := NewLoginAttemptRepository(db)
	resets := NewResetRequestRepository(db)
	changeLogs := NewPasswordChangeLogRepository(db)

	admin := seedAccount(t, accounts, "ABC@Example.com", "admin-password", models.RoleAdmin, "")

	t.Run("account lookup is by normalized identity", func(t *testing.T) {
		got, err := accounts.GetByEmail(ctx, "abc@example.com")
		require.NoError(t, err)
		assert.Equal(t, admin.ID, got.ID)

		_, err = accounts.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("concurrent failures lock exactly once", func(t *testing.T) {
		tracker := services.NewAttemptTracker(attempts, services.DefaultAttemptPolicy(), discardLogger())
		const identity = "burst@example.com"

		var wg sync.WaitGroup
		var mu sync.Mutex
		triggered := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				status, err := tracker.RecordFailure(ctx, identity)
				assert.NoError(t, err)
				if status.Triggered {
					mu.Lock()
					triggered++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, triggered)
		state, err := attempts.Get(ctx, identity)
		require.NoError(t, err)
		assert.Equal(t, 0, state.FailedAttempts)
		assert.Equal(t, 1, state.LockoutCount)
		require.NotNil(t, state.LockedUntil)

		lock, err := tracker.CheckLock(ctx, identity)
		require.NoError(t, err)
		assert.True(t, lock.Locked)
	})

	t.Run("prune keeps escalation history", func(t *testing.T) {
		tracker := services.NewAttemptTracker(attempts, services.DefaultAttemptPolicy(), discardLogger())
		_, err := tracker.RecordFailure(ctx, "idle@example.com")
		require.NoError(t, err)
		require.NoError(t, tracker.RecordSuccess(ctx, "idle@example.com"))

		removed, err := tracker.PruneIdle(ctx, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		_, err = attempts.Get(ctx, "idle@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = attempts.Get(ctx, "burst@example.com")
		assert.NoError(t, err)
	})

	t.Run("concurrent submissions create one pending request", func(t *testing.T) {
		sec := seedAccount(t, accounts, "race@example.com", "old-password", models.RoleSecretary, "Poblacion")

		var wg sync.WaitGroup
		var mu sync.Mutex
		created, conflicts := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := resets.CreatePending(ctx, &models.ResetRequest{
					AccountID:       sec.ID,
					NewPasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold",
					RequestedAt:     time.Now(),
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, models.ErrResetAlreadyPending):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Equal(t, 7, conflicts)

		locked, err := accounts.GetByID(ctx, sec.ID)
		require.NoError(t, err)
		assert.True(t, locked.Locked)

		pending, err := resets.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pending)
	})

	t.Run("approve commits verifier, unlocks and logs atomically", func(t *testing.T) {
		sec := seedAccount(t, accounts, "approve@example.com", "old-password", models.RoleSecretary, "San Roque")
		newHash, err := pkgauth.HashPassword("new-password")
		require.NoError(t, err)

		ip := "192.0.2.1"
		req, err := resets.CreatePending(ctx, &models.ResetRequest{
			AccountID:       sec.ID,
			NewPasswordHash: newHash,
			IPAddress:       &ip,
			RequestedAt:     time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.ResetStatusPending, req.Status)
		assert.Equal(t, "San Roque", req.AccountBarangay)

		require.ErrorIs(t, resets.Delete(ctx, req.ID), models.ErrResetReviewRequired)

		approved, entry, err := resets.Approve(ctx, req.ID, admin.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, models.ResetStatusApproved, approved.Status)
		require.NotNil(t, approved.ReviewedByEmail)
		assert.Equal(t, "abc@example.com", *approved.ReviewedByEmail)
		require.NotNil(t, entry.ResetRequestID)
		assert.Equal(t, req.ID, *entry.ResetRequestID)

		account, err := accounts.GetByID(ctx, sec.ID)
		require.NoError(t, err)
		assert.False(t, account.Locked)
		assert.True(t, pkgauth.PasswordMatches(account.PasswordHash, "new-password"))
		assert.NotNil(t, account.PasswordChangedAt)

		_, _, err = resets.Approve(ctx, req.ID, admin.ID, time.Now())
		assert.ErrorIs(t, err, models.ErrResetAlreadyReviewed)

		logs, err := changeLogs.ListSince(ctx, time.Now().Add(-time.Hour), 50)
		require.NoError(t, err)
		require.NotEmpty(t, logs)
		assert.Equal(t, "approve@example.com", logs[0].AccountEmail)

		require.NoError(t, resets.Delete(ctx, req.ID))
	})

	t.Run("reject keeps the old verifier", func(t *testing.T) {
		sec := seedAccount(t, accounts, "reject@example.com", "old-password", models.RoleSecretary, "Bagong Silang")
		newHash, err := pkgauth.HashPassword("new-password")
		require.NoError(t, err)

		req, err := resets.CreatePending(ctx, &models.ResetRequest{AccountID: sec.ID, NewPasswordHash: newHash, RequestedAt: time.Now()})
		require.NoError(t, err)

		before, err := changeLogs.CountSince(ctx, time.Time{})
		require.NoError(t, err)

		rejected, err := resets.Reject(ctx, req.ID, admin.ID, models.DefaultRejectionReason, time.Now())
		require.NoError(t, err)
		assert.Equal(t, models.ResetStatusRejected, rejected.Status)

		account, err := accounts.GetByID(ctx, sec.ID)
		require.NoError(t, err)
		assert.False(t, account.Locked)
		assert.True(t, pkgauth.PasswordMatches(account.PasswordHash, "old-password"))

		after, err := changeLogs.CountSince(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, before, after)

		all, err := resets.List(ctx, models.ResetFilterAll)
		require.NoError(t, err)
		require.NotEmpty(t, all)
		assert.Equal(t, models.ResetStatusPending, all[0].Status)
	})

	t.Run("clearing the change log", func(t *testing.T) {
		assert.ErrorIs(t, changeLogs.Delete(ctx, 999999), models.ErrLogEntryNotFound)

		removed, err := changeLogs.DeleteAll(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, int64(1))
	})
}
