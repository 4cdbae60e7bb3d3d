package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mabini-abc/portal/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackerEpoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestTracker() (*AttemptTracker, *MemoryAttemptStore, *FakeClock) {
	store := NewMemoryAttemptStore()
	clock := NewFakeClock(trackerEpoch)
	tracker := NewAttemptTracker(store, DefaultAttemptPolicy(), NewTestLogger())
	tracker.SetClock(clock.Now)
	return tracker, store, clock
}

func failTimes(t *testing.T, tracker *AttemptTracker, identity string, n int) models.LockStatus {
	t.Helper()
	var status models.LockStatus
	for i := 0; i < n; i++ {
		var err error
		status, err = tracker.RecordFailure(context.Background(), identity)
		require.NoError(t, err)
	}
	return status
}

func TestAttemptTracker_LocksOnFifthFailure(t *testing.T) {
	tracker, store, clock := newTestTracker()
	ctx := context.Background()

	status := failTimes(t, tracker, "sec@example.com", 4)
	assert.False(t, status.Locked)

	state, ok := store.State("sec@example.com")
	require.True(t, ok)
	assert.Equal(t, 4, state.FailedAttempts)

	status, err := tracker.RecordFailure(ctx, "sec@example.com")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.True(t, status.Triggered)
	require.NotNil(t, status.LockedUntil)
	assert.Equal(t, clock.Now().Add(30*time.Second), *status.LockedUntil)

	state, _ = store.State("sec@example.com")
	assert.Equal(t, 0, state.FailedAttempts)
	assert.Equal(t, 1, state.LockoutCount)
}

func TestAttemptTracker_BackoffDoublesAcrossLockouts(t *testing.T) {
	tracker, _, clock := newTestTracker()
	ctx := context.Background()

	for _, want := range []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second} {
		status := failTimes(t, tracker, "sec@example.com", 5)
		require.True(t, status.Triggered)
		assert.Equal(t, want, status.Remaining(clock.Now()))

		clock.Advance(want)

		lock, err := tracker.CheckLock(ctx, "sec@example.com")
		require.NoError(t, err)
		assert.False(t, lock.Locked)
	}
}

func TestAttemptTracker_CheckLockReportsRemaining(t *testing.T) {
	tracker, _, clock := newTestTracker()
	ctx := context.Background()

	failTimes(t, tracker, "sec@example.com", 5)
	clock.Advance(10 * time.Second)

	lock, err := tracker.CheckLock(ctx, "sec@example.com")
	require.NoError(t, err)
	assert.True(t, lock.Locked)
	assert.False(t, lock.Triggered)
	assert.Equal(t, 20*time.Second, lock.Remaining(clock.Now()))
}

func TestAttemptTracker_SuccessResetsEscalation(t *testing.T) {
	tracker, store, clock := newTestTracker()
	ctx := context.Background()

	failTimes(t, tracker, "sec@example.com", 5)
	clock.Advance(30 * time.Second)
	failTimes(t, tracker, "sec@example.com", 3)

	require.NoError(t, tracker.RecordSuccess(ctx, "sec@example.com"))

	state, ok := store.State("sec@example.com")
	require.True(t, ok)
	assert.Equal(t, 0, state.FailedAttempts)
	assert.Equal(t, 0, state.LockoutCount)
	assert.Nil(t, state.LockedUntil)

	status := failTimes(t, tracker, "sec@example.com", 5)
	require.True(t, status.Triggered)
	assert.Equal(t, 30*time.Second, status.Remaining(clock.Now()))
}

func TestAttemptTracker_ExpiredLockClearIsIdempotent(t *testing.T) {
	tracker, store, clock := newTestTracker()
	ctx := context.Background()

	failTimes(t, tracker, "sec@example.com", 5)
	clock.Advance(31 * time.Second)

	for i := 0; i < 2; i++ {
		lock, err := tracker.CheckLock(ctx, "sec@example.com")
		require.NoError(t, err)
		assert.False(t, lock.Locked)
	}

	state, _ := store.State("sec@example.com")
	assert.Nil(t, state.LockedUntil)
	assert.Equal(t, 1, state.LockoutCount, "escalation survives expiry")
	assert.Equal(t, 0, state.FailedAttempts)
}

func TestAttemptTracker_CheckLockUnknownIdentity(t *testing.T) {
	tracker, store, _ := newTestTracker()

	lock, err := tracker.CheckLock(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, lock.Locked)

	_, ok := store.State("nobody@example.com")
	assert.False(t, ok)
}

func TestAttemptTracker_RecordSuccessWithoutHistory(t *testing.T) {
	tracker, store, _ := newTestTracker()

	require.NoError(t, tracker.RecordSuccess(context.Background(), "fresh@example.com"))

	_, ok := store.State("fresh@example.com")
	assert.False(t, ok)
}

func TestAttemptTracker_ConcurrentFailuresTriggerOneLock(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		triggered int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := tracker.RecordFailure(ctx, "sec@example.com")
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
	state, _ := store.State("sec@example.com")
	assert.Equal(t, 1, state.LockoutCount)
	assert.Equal(t, 0, state.FailedAttempts)
}

func TestAttemptTracker_LockoutDurationIsCapped(t *testing.T) {
	tracker, _, _ := newTestTracker()

	assert.Equal(t, 30*time.Second, tracker.LockoutDuration(0))
	assert.Equal(t, 30*time.Second, tracker.LockoutDuration(1))
	assert.Equal(t, 240*time.Second, tracker.LockoutDuration(4))
	assert.Equal(t, tracker.LockoutDuration(21), tracker.LockoutDuration(500))
	assert.Positive(t, tracker.LockoutDuration(500))
}

func TestAttemptTracker_LockoutDurationSaturatesLargeBase(t *testing.T) {
	tracker := NewAttemptTracker(NewMemoryAttemptStore(),
		AttemptPolicy{MaxFailedAttempts: 5, BaseLockout: 3 * time.Hour}, NewTestLogger())

	prev := tracker.LockoutDuration(1)
	assert.Equal(t, 3*time.Hour, prev)
	for level := 2; level <= 64; level++ {
		d := tracker.LockoutDuration(level)
		assert.Positive(t, d, "level %d", level)
		assert.GreaterOrEqual(t, d, prev, "level %d", level)
		prev = d
	}
	assert.Equal(t, maxLockout, tracker.LockoutDuration(21))
}

func TestAttemptTracker_LargeBaseStillLocksAtHighEscalation(t *testing.T) {
	store := NewMemoryAttemptStore()
	clock := NewFakeClock(trackerEpoch)
	tracker := NewAttemptTracker(store,
		AttemptPolicy{MaxFailedAttempts: 5, BaseLockout: 3 * time.Hour}, NewTestLogger())
	tracker.SetClock(clock.Now)
	ctx := context.Background()

	err := store.Mutate(ctx, "sec@example.com", true, func(*models.LoginAttemptState) (*models.LoginAttemptState, error) {
		return &models.LoginAttemptState{
			Identity:       "sec@example.com",
			FailedAttempts: 4,
			LockoutCount:   20,
			LastAttemptAt:  clock.Now(),
		}, nil
	})
	require.NoError(t, err)

	status, err := tracker.RecordFailure(ctx, "sec@example.com")
	require.NoError(t, err)
	assert.True(t, status.Triggered)
	require.NotNil(t, status.LockedUntil)
	assert.True(t, status.LockedUntil.After(clock.Now()))

	check, err := tracker.CheckLock(ctx, "sec@example.com")
	require.NoError(t, err)
	assert.True(t, check.Locked)
}

func TestAttemptTracker_PruneIdle(t *testing.T) {
	tracker, store, clock := newTestTracker()

	store.Put(models.LoginAttemptState{Identity: "idle@example.com", LastAttemptAt: clock.Now().Add(-48 * time.Hour)})
	store.Put(models.LoginAttemptState{Identity: "recent@example.com", LastAttemptAt: clock.Now().Add(-time.Hour)})
	store.Put(models.LoginAttemptState{Identity: "escalated@example.com", LockoutCount: 2, LastAttemptAt: clock.Now().Add(-48 * time.Hour)})

	removed, err := tracker.PruneIdle(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok := store.State("idle@example.com")
	assert.False(t, ok)
	_, ok = store.State("escalated@example.com")
	assert.True(t, ok)
}

func TestAttemptTracker_StoreErrorPropagates(t *testing.T) {
	tracker, store, _ := newTestTracker()
	store.MutateErr = errors.New("connection reset")

	_, err := tracker.CheckLock(context.Background(), "sec@example.com")
	assert.ErrorIs(t, err, store.MutateErr)

	_, err = tracker.RecordFailure(context.Background(), "sec@example.com")
	assert.ErrorIs(t, err, store.MutateErr)
}
