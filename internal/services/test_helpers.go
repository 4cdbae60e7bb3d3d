package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mabini-abc/portal/internal/models"
	pkgauth "github.com/mabini-abc/portal/pkg/auth"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc       func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc    func(ctx context.Context, email string) (*models.Account, error)
	TouchActivityFunc func(ctx context.Context, id string, at time.Time) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	if m.TouchActivityFunc != nil {
		return m.TouchActivityFunc(ctx, id, at)
	}
	return nil
}

// MockLoginAttemptTracker implements LoginAttemptTracker for testing
type MockLoginAttemptTracker struct {
	CheckLockFunc     func(ctx context.Context, identity string) (models.LockStatus, error)
	RecordFailureFunc func(ctx context.Context, identity string) (models.LockStatus, error)
	RecordSuccessFunc func(ctx context.Context, identity string) error
}

func (m *MockLoginAttemptTracker) CheckLock(ctx context.Context, identity string) (models.LockStatus, error) {
	if m.CheckLockFunc != nil {
		return m.CheckLockFunc(ctx, identity)
	}
	return models.LockStatus{}, nil
}

func (m *MockLoginAttemptTracker) RecordFailure(ctx context.Context, identity string) (models.LockStatus, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, identity)
	}
	return models.LockStatus{}, nil
}

func (m *MockLoginAttemptTracker) RecordSuccess(ctx context.Context, identity string) error {
	if m.RecordSuccessFunc != nil {
		return m.RecordSuccessFunc(ctx, identity)
	}
	return nil
}

// MemoryAttemptStore is an in-memory AttemptStore. A single mutex stands in
// for the per-row lock.
type MemoryAttemptStore struct {
	mu     sync.Mutex
	states map[string]models.LoginAttemptState
	// MutateErr, when set, is returned by every Mutate call.
	MutateErr error
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{states: make(map[string]models.LoginAttemptState)}
}

func (m *MemoryAttemptStore) Mutate(ctx context.Context, identity string, create bool, fn func(state *models.LoginAttemptState) (*models.LoginAttemptState, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MutateErr != nil {
		return m.MutateErr
	}

	var current *models.LoginAttemptState
	if s, ok := m.states[identity]; ok {
		current = &s
	} else if create {
		current = &models.LoginAttemptState{Identity: identity}
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		m.states[identity] = *next
	} else if current != nil && create {
		m.states[identity] = *current
	}
	return nil
}

func (m *MemoryAttemptStore) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, s := range m.states {
		if s.FailedAttempts == 0 && s.LockoutCount == 0 && s.LockedUntil == nil && s.LastAttemptAt.Before(before) {
			delete(m.states, id)
			removed++
		}
	}
	return removed, nil
}

// State returns a copy of the stored row for identity.
func (m *MemoryAttemptStore) State(identity string) (models.LoginAttemptState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[identity]
	return s, ok
}

// Put seeds a row.
func (m *MemoryAttemptStore) Put(s models.LoginAttemptState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.Identity] = s
}

// MemoryResetStore keeps accounts, reset requests and change log entries in
// memory and applies the workflow transitions atomically under one mutex.
// It implements ResetRequestRepository; Accounts exposes the account side.
type MemoryResetStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	requests map[int64]*models.ResetRequest
	logs     map[int64]*models.PasswordChangeLog
	nextReq  int64
	nextLog  int64
}

func NewMemoryResetStore(accounts ...*models.Account) *MemoryResetStore {
	m := &MemoryResetStore{
		accounts: make(map[string]*models.Account),
		requests: make(map[int64]*models.ResetRequest),
		logs:     make(map[int64]*models.PasswordChangeLog),
	}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

// Accounts returns an AccountRepository backed by the same state.
func (m *MemoryResetStore) Accounts() AccountRepository {
	return memoryAccounts{m}
}

type memoryAccounts struct {
	m *MemoryResetStore
}

func (v memoryAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	m := v.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, models.ErrNotFound
}

func (v memoryAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	m := v.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == models.NormalizeIdentity(email) {
			c := *a
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (v memoryAccounts) TouchActivity(ctx context.Context, id string, at time.Time) error {
	m := v.m
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.LastActivityAt = &at
	return nil
}

func (m *MemoryResetStore) hasPendingLocked(accountID string) bool {
	for _, r := range m.requests {
		if r.AccountID == accountID && r.Status == models.ResetStatusPending {
			return true
		}
	}
	return false
}

func (m *MemoryResetStore) HasPending(ctx context.Context, accountID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasPendingLocked(accountID), nil
}

func (m *MemoryResetStore) CreatePending(ctx context.Context, req *models.ResetRequest) (*models.ResetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[req.AccountID]
	if !ok {
		return nil, models.ErrResetAccountNotFound
	}
	if m.hasPendingLocked(a.ID) {
		return nil, models.ErrResetAlreadyPending
	}

	m.nextReq++
	created := *req
	created.ID = m.nextReq
	created.AccountEmail = a.Email
	created.AccountRole = a.Role
	created.AccountBarangay = a.Barangay
	created.Status = models.ResetStatusPending
	m.requests[created.ID] = &created
	a.Locked = true

	out := created
	return &out, nil
}

func (m *MemoryResetStore) pendingLocked(id int64) (*models.ResetRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrResetRequestNotFound
	}
	if r.IsTerminal() {
		return nil, models.ErrResetAlreadyReviewed
	}
	return r, nil
}

func (m *MemoryResetStore) Approve(ctx context.Context, id int64, reviewerID string, at time.Time) (*models.ResetRequest, *models.PasswordChangeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.pendingLocked(id)
	if err != nil {
		return nil, nil, err
	}
	a, ok := m.accounts[r.AccountID]
	if !ok {
		return nil, nil, models.ErrResetAccountNotFound
	}

	a.PasswordHash = r.NewPasswordHash
	a.Locked = false
	a.PasswordChangedAt = &at

	r.Status = models.ResetStatusApproved
	r.ReviewedAt = &at
	r.ReviewedBy = &reviewerID

	m.nextLog++
	reqID := r.ID
	entry := &models.PasswordChangeLog{
		ID:              m.nextLog,
		AccountID:       a.ID,
		AccountEmail:    a.Email,
		AccountRole:     a.Role,
		AccountBarangay: a.Barangay,
		ResetRequestID:  &reqID,
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		ChangedAt:       at,
	}
	m.logs[entry.ID] = entry

	out, logOut := *r, *entry
	return &out, &logOut, nil
}

func (m *MemoryResetStore) Reject(ctx context.Context, id int64, reviewerID, reason string, at time.Time) (*models.ResetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.pendingLocked(id)
	if err != nil {
		return nil, err
	}
	if a, ok := m.accounts[r.AccountID]; ok {
		a.Locked = false
	}

	r.Status = models.ResetStatusRejected
	r.ReviewedAt = &at
	r.ReviewedBy = &reviewerID
	r.RejectionReason = &reason

	out := *r
	return &out, nil
}

func (m *MemoryResetStore) GetByID(ctx context.Context, id int64) (*models.ResetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrResetRequestNotFound
	}
	c := *r
	return &c, nil
}

// Account returns a copy of the stored account.
func (m *MemoryResetStore) Account(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.accounts[id]
	return &c
}

// List orders pending first, then newest first.
func (m *MemoryResetStore) List(ctx context.Context, filter models.ResetRequestFilter) ([]*models.ResetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.ResetRequest, 0)
	for _, r := range m.requests {
		if filter != models.ResetFilterAll && string(r.Status) != string(filter) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	rank := map[models.ResetStatus]int{models.ResetStatusPending: 0, models.ResetStatusApproved: 1, models.ResetStatusRejected: 2}
	sort.Slice(out, func(i, j int) bool {
		if rank[out[i].Status] != rank[out[j].Status] {
			return rank[out[i].Status] < rank[out[j].Status]
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

func (m *MemoryResetStore) CountPending(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.requests {
		if r.Status == models.ResetStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *MemoryResetStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return models.ErrResetRequestNotFound
	}
	if !r.IsTerminal() {
		return models.ErrResetReviewRequired
	}
	delete(m.requests, id)
	return nil
}

// Logs returns the change log entries ordered by id.
func (m *MemoryResetStore) Logs() []*models.PasswordChangeLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.PasswordChangeLog, 0, len(m.logs))
	for _, l := range m.logs {
		c := *l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MockPasswordChangeLogRepository implements PasswordChangeLogRepository for testing
type MockPasswordChangeLogRepository struct {
	ListSinceFunc  func(ctx context.Context, since time.Time, limit int) ([]*models.PasswordChangeLog, error)
	CountSinceFunc func(ctx context.Context, since time.Time) (int64, error)
	DeleteFunc     func(ctx context.Context, id int64) error
	DeleteAllFunc  func(ctx context.Context) (int64, error)
}

func (m *MockPasswordChangeLogRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.PasswordChangeLog, error) {
	if m.ListSinceFunc != nil {
		return m.ListSinceFunc(ctx, since, limit)
	}
	return []*models.PasswordChangeLog{}, nil
}

func (m *MockPasswordChangeLogRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if m.CountSinceFunc != nil {
		return m.CountSinceFunc(ctx, since)
	}
	return 0, nil
}

func (m *MockPasswordChangeLogRepository) Delete(ctx context.Context, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockPasswordChangeLogRepository) DeleteAll(ctx context.Context) (int64, error) {
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx)
	}
	return 0, nil
}

// RecordingNotifier captures notifications; Err is returned from every call.
type RecordingNotifier struct {
	mu        sync.Mutex
	Requested []*models.ResetRequest
	Reviewed  []*models.ResetRequest
	Err       error
}

func (n *RecordingNotifier) ResetRequested(ctx context.Context, req *models.ResetRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Requested = append(n.Requested, req)
	return n.Err
}

func (n *RecordingNotifier) ResetReviewed(ctx context.Context, req *models.ResetRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Reviewed = append(n.Reviewed, req)
	return n.Err
}

// FakeClock is a manually advanced time source.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestAccount builds a usable secretary account with the given password.
func NewTestAccount(id, email, password string) *models.Account {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		panic(fmt.Sprintf("hash test password: %v", err))
	}
	now := time.Now()
	return &models.Account{
		ID:           id,
		Email:        models.NormalizeIdentity(email),
		PasswordHash: hash,
		Role:         models.RoleSecretary,
		Barangay:     "San Isidro",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestAdmin builds an administrator account.
func NewTestAdmin(id, email, password string) *models.Account {
	a := NewTestAccount(id, email, password)
	a.Role = models.RoleAdmin
	a.Barangay = ""
	return a
}
