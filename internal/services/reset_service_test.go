package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mabini-abc/portal/internal/models"
	pkgauth "github.com/mabini-abc/portal/pkg/auth"
	pkglogger "github.com/mabini-abc/portal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const newTestPassword = "battery-staple"

type resetFixture struct {
	svc      *ResetService
	store    *MemoryResetStore
	notifier *RecordingNotifier
	clock    *FakeClock
}

func newResetFixture() *resetFixture {
	logger := NewTestLogger()
	clock := NewFakeClock(trackerEpoch)
	store := NewMemoryResetStore(
		NewTestAccount("sec-1", "sec@example.com", testPassword),
		NewTestAdmin("admin-1", "abc@example.com", testPassword),
	)
	notifier := &RecordingNotifier{}

	svc := NewResetService(store.Accounts(), store, notifier, logger, pkglogger.NewAuditLogger(logger))
	svc.SetClock(clock.Now)

	return &resetFixture{svc: svc, store: store, notifier: notifier, clock: clock}
}

func (f *resetFixture) submit(t *testing.T) *models.ResetRequest {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), SubmitResetInput{
		Identity:    "sec@example.com",
		NewPassword: newTestPassword,
		IPAddress:   "203.0.113.7",
		UserAgent:   "Mozilla/5.0",
	})
	require.NoError(t, err)
	return req
}

// ============================================================================
// Submit
// ============================================================================

func TestResetService_Submit_LocksAccount(t *testing.T) {
	f := newResetFixture()
	originalHash := f.store.Account("sec-1").PasswordHash

	req := f.submit(t)

	assert.Equal(t, models.ResetStatusPending, req.Status)
	assert.Equal(t, "sec-1", req.AccountID)
	assert.Equal(t, "sec@example.com", req.AccountEmail)
	assert.Equal(t, f.clock.Now(), req.RequestedAt)
	require.NotNil(t, req.IPAddress)
	assert.Equal(t, "203.0.113.7", *req.IPAddress)
	assert.True(t, pkgauth.PasswordMatches(req.NewPasswordHash, newTestPassword))

	account := f.store.Account("sec-1")
	assert.True(t, account.Locked)
	assert.Equal(t, originalHash, account.PasswordHash, "verifier only changes on approval")

	require.Len(t, f.notifier.Requested, 1)
	assert.Equal(t, req.ID, f.notifier.Requested[0].ID)
}

func TestResetService_Submit_Declines(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *resetFixture)
		identity string
		password string
		want     error
		kind     error
	}{
		{
			name:     "not registered",
			identity: "ghost@example.com",
			password: newTestPassword,
			want:     models.ErrResetAccountNotFound,
			kind:     models.ErrNotFound,
		},
		{
			name: "archived",
			setup: func(f *resetFixture) {
				f.store.accounts["sec-1"].Archived = true
			},
			identity: "sec@example.com",
			password: newTestPassword,
			want:     models.ErrResetAccountArchived,
			kind:     models.ErrForbidden,
		},
		{
			name:     "administrator",
			identity: "abc@example.com",
			password: newTestPassword,
			want:     models.ErrAdminResetForbidden,
			kind:     models.ErrForbidden,
		},
		{
			name:     "same password",
			identity: "sec@example.com",
			password: testPassword,
			want:     models.ErrResetNoChange,
			kind:     models.ErrUnprocessable,
		},
		{
			name: "already pending",
			setup: func(f *resetFixture) {
				f.submit(t)
			},
			identity: "SEC@example.com",
			password: "another-password",
			want:     models.ErrResetAlreadyPending,
			kind:     models.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResetFixture()
			if tt.setup != nil {
				tt.setup(f)
			}

			req, err := f.svc.Submit(context.Background(), SubmitResetInput{Identity: tt.identity, NewPassword: tt.password})

			assert.Nil(t, req)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestResetService_Submit_ShortPassword(t *testing.T) {
	f := newResetFixture()

	_, err := f.svc.Submit(context.Background(), SubmitResetInput{Identity: "sec@example.com", NewPassword: "short"})

	assert.ErrorIs(t, err, models.ErrUnprocessable)
	assert.Equal(t, "invalid_password", models.ReasonOf(err))
	assert.False(t, f.store.Account("sec-1").Locked)
}

func TestResetService_Submit_TrimsNewPassword(t *testing.T) {
	f := newResetFixture()

	req, err := f.svc.Submit(context.Background(), SubmitResetInput{
		Identity:    "sec@example.com",
		NewPassword: "  " + newTestPassword + "  ",
	})
	require.NoError(t, err)

	assert.True(t, pkgauth.PasswordMatches(req.NewPasswordHash, newTestPassword))
	assert.False(t, pkgauth.PasswordMatches(req.NewPasswordHash, "  "+newTestPassword+"  "))
}

func TestResetService_Submit_ShortAfterTrim(t *testing.T) {
	f := newResetFixture()

	_, err := f.svc.Submit(context.Background(), SubmitResetInput{Identity: "sec@example.com", NewPassword: "  abcdef  "})

	assert.ErrorIs(t, err, models.ErrUnprocessable)
	assert.Equal(t, "invalid_password", models.ReasonOf(err))
	assert.False(t, f.store.Account("sec-1").Locked)
}

func TestResetService_Submit_ConcurrentOnlyOneWins(t *testing.T) {
	f := newResetFixture()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		conflict int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), SubmitResetInput{Identity: "sec@example.com", NewPassword: newTestPassword})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, models.ErrResetAlreadyPending):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 7, conflict)
	pending, err := f.store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestResetService_Submit_NotifierFailureIsIgnored(t *testing.T) {
	f := newResetFixture()
	f.notifier.Err = errors.New("ses throttled")

	req := f.submit(t)

	assert.Equal(t, models.ResetStatusPending, req.Status)
	assert.True(t, f.store.Account("sec-1").Locked)
}

// ============================================================================
// Review
// ============================================================================

func TestResetService_Review_Approve(t *testing.T) {
	f := newResetFixture()
	req := f.submit(t)
	f.clock.Advance(time.Hour)

	result, err := f.svc.Review(context.Background(), ReviewInput{
		RequestID:  req.ID,
		Decision:   models.ResetDecisionApprove,
		ReviewerID: "admin-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ResetStatusApproved, result.Request.Status)
	require.NotNil(t, result.Request.ReviewedBy)
	assert.Equal(t, "admin-1", *result.Request.ReviewedBy)
	require.NotNil(t, result.Request.ReviewedAt)
	assert.Equal(t, f.clock.Now(), *result.Request.ReviewedAt)

	account := f.store.Account("sec-1")
	assert.False(t, account.Locked)
	assert.True(t, pkgauth.PasswordMatches(account.PasswordHash, newTestPassword))
	assert.False(t, pkgauth.PasswordMatches(account.PasswordHash, testPassword))
	require.NotNil(t, account.PasswordChangedAt)

	logs := f.store.Logs()
	require.Len(t, logs, 1)
	require.NotNil(t, result.LogEntry)
	assert.Equal(t, logs[0].ID, result.LogEntry.ID)
	assert.Equal(t, "sec-1", logs[0].AccountID)
	require.NotNil(t, logs[0].ResetRequestID)
	assert.Equal(t, req.ID, *logs[0].ResetRequestID)

	require.Len(t, f.notifier.Reviewed, 1)
	assert.Equal(t, models.ResetStatusApproved, f.notifier.Reviewed[0].Status)
}

func TestResetService_Review_ApprovedPasswordLogsIn(t *testing.T) {
	f := newResetFixture()
	req := f.submit(t)

	logger := NewTestLogger()
	tracker := NewAttemptTracker(NewMemoryAttemptStore(), DefaultAttemptPolicy(), logger)
	auth := NewAuthService(f.store.Accounts(), tracker, logger, pkglogger.NewAuditLogger(logger))

	result, err := auth.Login(context.Background(), "sec@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, models.DenyResetPendingLock, result.Reason)

	_, err = f.svc.Review(context.Background(), ReviewInput{RequestID: req.ID, Decision: models.ResetDecisionApprove, ReviewerID: "admin-1"})
	require.NoError(t, err)

	result, err = auth.Login(context.Background(), "sec@example.com", newTestPassword)
	require.NoError(t, err)
	assert.True(t, result.Allowed())
}

func TestResetService_Review_Reject(t *testing.T) {
	f := newResetFixture()
	originalHash := f.store.Account("sec-1").PasswordHash
	req := f.submit(t)

	result, err := f.svc.Review(context.Background(), ReviewInput{
		RequestID:  req.ID,
		Decision:   models.ResetDecisionReject,
		ReviewerID: "admin-1",
		Reason:     "   ",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ResetStatusRejected, result.Request.Status)
	require.NotNil(t, result.Request.RejectionReason)
	assert.Equal(t, models.DefaultRejectionReason, *result.Request.RejectionReason)
	assert.Nil(t, result.LogEntry)

	account := f.store.Account("sec-1")
	assert.False(t, account.Locked)
	assert.Equal(t, originalHash, account.PasswordHash)
	assert.Nil(t, account.PasswordChangedAt)
	assert.Empty(t, f.store.Logs())
}

func TestResetService_Review_RejectWithReason(t *testing.T) {
	f := newResetFixture()
	req := f.submit(t)

	result, err := f.svc.Review(context.Background(), ReviewInput{
		RequestID:  req.ID,
		Decision:   models.ResetDecisionReject,
		ReviewerID: "admin-1",
		Reason:     "Call the office first",
	})
	require.NoError(t, err)
	assert.Equal(t, "Call the office first", *result.Request.RejectionReason)
}

func TestResetService_Review_AlreadyReviewed(t *testing.T) {
	f := newResetFixture()
	req := f.submit(t)

	_, err := f.svc.Review(context.Background(), ReviewInput{RequestID: req.ID, Decision: models.ResetDecisionReject, ReviewerID: "admin-1"})
	require.NoError(t, err)

	_, err = f.svc.Review(context.Background(), ReviewInput{RequestID: req.ID, Decision: models.ResetDecisionApprove, ReviewerID: "admin-1"})

	assert.ErrorIs(t, err, models.ErrResetAlreadyReviewed)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Empty(t, f.store.Logs())
}

func TestResetService_Review_RequiresAdmin(t *testing.T) {
	f := newResetFixture()
	req := f.submit(t)

	for _, reviewer := range []string{"sec-1", "missing"} {
		_, err := f.svc.Review(context.Background(), ReviewInput{RequestID: req.ID, Decision: models.ResetDecisionApprove, ReviewerID: reviewer})
		assert.ErrorIs(t, err, models.ErrForbidden)
	}

	stored, err := f.store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResetStatusPending, stored.Status)
	assert.True(t, f.store.Account("sec-1").Locked)
}

func TestResetService_Review_InvalidDecision(t *testing.T) {
	f := newResetFixture()
	req := f.submit(t)

	_, err := f.svc.Review(context.Background(), ReviewInput{RequestID: req.ID, Decision: "maybe", ReviewerID: "admin-1"})

	assert.ErrorIs(t, err, models.ErrInvalidDecision)
	assert.ErrorIs(t, err, models.ErrUnprocessable)
}

func TestResetService_Review_UnknownRequest(t *testing.T) {
	f := newResetFixture()

	_, err := f.svc.Review(context.Background(), ReviewInput{RequestID: 999, Decision: models.ResetDecisionApprove, ReviewerID: "admin-1"})

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestResetService_Review_StorageFailureIsInternal(t *testing.T) {
	logger := NewTestLogger()
	admin := NewTestAdmin("admin-1", "abc@example.com", testPassword)
	repo := &failingResetRepo{MemoryResetStore: NewMemoryResetStore(admin), err: errors.New("tx aborted")}
	svc := NewResetService(repo.Accounts(), repo, nil, logger, pkglogger.NewAuditLogger(logger))

	_, err := svc.Review(context.Background(), ReviewInput{RequestID: 1, Decision: models.ResetDecisionApprove, ReviewerID: "admin-1"})

	assert.ErrorIs(t, err, models.ErrInternalServer)
}

type failingResetRepo struct {
	*MemoryResetStore
	err error
}

func (r *failingResetRepo) Approve(ctx context.Context, id int64, reviewerID string, at time.Time) (*models.ResetRequest, *models.PasswordChangeLog, error) {
	return nil, nil, r.err
}

// ============================================================================
// List / Delete
// ============================================================================

func TestResetService_List(t *testing.T) {
	f := newResetFixture()
	f.store.accounts["sec-2"] = NewTestAccount("sec-2", "other@example.com", testPassword)

	first := f.submit(t)
	_, err := f.svc.Review(context.Background(), ReviewInput{RequestID: first.ID, Decision: models.ResetDecisionApprove, ReviewerID: "admin-1"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Submit(context.Background(), SubmitResetInput{Identity: "other@example.com", NewPassword: newTestPassword})
	require.NoError(t, err)

	all, err := f.svc.List(context.Background(), models.ResetFilterAll)
	require.NoError(t, err)
	require.Len(t, all.Requests, 2)
	assert.Equal(t, second.ID, all.Requests[0].ID, "pending first")
	assert.Equal(t, int64(1), all.PendingCount)

	approved, err := f.svc.List(context.Background(), models.ResetFilterApproved)
	require.NoError(t, err)
	require.Len(t, approved.Requests, 1)
	assert.Equal(t, first.ID, approved.Requests[0].ID)

	rejected, err := f.svc.List(context.Background(), models.ParseResetFilter("rejected"))
	require.NoError(t, err)
	assert.Empty(t, rejected.Requests)
}

func TestResetService_Delete(t *testing.T) {
	f := newResetFixture()
	req := f.submit(t)

	err := f.svc.Delete(context.Background(), req.ID)
	assert.ErrorIs(t, err, models.ErrResetReviewRequired)

	_, err = f.svc.Review(context.Background(), ReviewInput{RequestID: req.ID, Decision: models.ResetDecisionReject, ReviewerID: "admin-1"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), req.ID))

	_, err = f.svc.Get(context.Background(), req.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = f.svc.Delete(context.Background(), req.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
