package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/types"
)

func setupTestSessionManager(now time.Time) (*SessionManager, *MockRepository) {
	repo := &MockRepository{}
	log := logger.New("debug")
	return NewSessionManager(repo, fixedClock{now: now}, log, nil, 2*time.Hour), repo
}

func pendingSession(scheduled time.Time) *types.ConfirmationSession {
	return &types.ConfirmationSession{
		ID:            "session-1",
		Token:         "tok",
		PatientID:     "patient-1",
		ScheduleID:    "sched-1",
		MedicationIDs: []string{"med-1", "med-2"},
		ScheduledTime: scheduled,
		ExpiresAt:     scheduled.Add(2 * time.Hour),
		State:         types.SessionPending,
	}
}

func TestSessionManager_Create(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	sm, repo := setupTestSessionManager(scheduled.Add(-10 * time.Minute))

	dayStart := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	repo.On("HasSessionForDay", mock.Anything, "patient-1", "sched-1", dayStart, dayStart.AddDate(0, 0, 1)).Return(false, nil)
	repo.On("CreateSession", mock.Anything, mock.Anything).Return(nil)

	session, err := sm.Create(context.Background(), "patient-1", []string{"med-1"}, "sched-1", scheduled)
	require.NoError(t, err)

	assert.Equal(t, types.SessionPending, session.State)
	assert.Equal(t, scheduled.Add(2*time.Hour), session.ExpiresAt)
	assert.Len(t, session.Token, 64)
	assert.NotContains(t, session.Token, "-")
	repo.AssertExpectations(t)
}

func TestSessionManager_CreateDuplicate(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	sm, repo := setupTestSessionManager(scheduled)

	repo.On("HasSessionForDay", mock.Anything, "patient-1", "sched-1", mock.Anything, mock.Anything).Return(true, nil)

	_, err := sm.Create(context.Background(), "patient-1", []string{"med-1"}, "sched-1", scheduled)
	assert.ErrorIs(t, err, types.ErrDuplicateSession)
	repo.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestSessionManager_TokensAreUnique(t *testing.T) {
	a := newSessionToken()
	b := newSessionToken()
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestSessionManager_CompleteBeforeExpiry(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	// Confirming at 09:30, expiry is 10:00
	sm, repo := setupTestSessionManager(scheduled.Add(90 * time.Minute))

	repo.On("GetSessionByToken", mock.Anything, "tok").Return(pendingSession(scheduled), nil)
	repo.On("CompleteSession", mock.Anything, "session-1").Return(true, nil)

	var inserted []*types.MedicationLogEvent
	repo.On("InsertEvents", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).([]*types.MedicationLogEvent)
	}).Return(nil)

	events, err := sm.Complete(context.Background(), "tok", "scan:pack-123")
	require.NoError(t, err)

	// One TAKEN event per medication in the session
	require.Len(t, events, 2)
	require.Len(t, inserted, 2)
	for _, ev := range events {
		assert.Equal(t, types.EventTaken, ev.Status)
		assert.Equal(t, types.SourceConfirmation, ev.Source)
		assert.Equal(t, "scan:pack-123", ev.RawEvidence)
		// Keyed by the scheduled time's hour bucket, not the confirm time
		assert.Equal(t, scheduled.Truncate(time.Hour), ev.EventTime)
	}
	repo.AssertExpectations(t)
}

func TestSessionManager_CompleteAfterExpiry(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	// Confirming at 10:05, five minutes past expiry
	sm, repo := setupTestSessionManager(scheduled.Add(125 * time.Minute))

	repo.On("GetSessionByToken", mock.Anything, "tok").Return(pendingSession(scheduled), nil)

	_, err := sm.Complete(context.Background(), "tok", "")
	assert.ErrorIs(t, err, types.ErrSessionExpired)
	repo.AssertNotCalled(t, "CompleteSession", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "InsertEvents", mock.Anything, mock.Anything)
}

func TestSessionManager_CompleteAlreadyCompleted(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	sm, repo := setupTestSessionManager(scheduled.Add(30 * time.Minute))

	done := pendingSession(scheduled)
	done.State = types.SessionCompleted
	repo.On("GetSessionByToken", mock.Anything, "tok").Return(done, nil)

	_, err := sm.Complete(context.Background(), "tok", "")
	assert.ErrorIs(t, err, types.ErrSessionAlreadyCompleted)
}

func TestSessionManager_CompleteExpiredProcessed(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	sm, repo := setupTestSessionManager(scheduled.Add(30 * time.Minute))

	swept := pendingSession(scheduled)
	swept.State = types.SessionExpiredProcessed
	repo.On("GetSessionByToken", mock.Anything, "tok").Return(swept, nil)

	_, err := sm.Complete(context.Background(), "tok", "")
	assert.ErrorIs(t, err, types.ErrSessionExpired)
}

func TestSessionManager_CompleteLosesRace(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	sm, repo := setupTestSessionManager(scheduled.Add(30 * time.Minute))

	repo.On("GetSessionByToken", mock.Anything, "tok").Return(pendingSession(scheduled), nil)
	// The conditional update finds the row no longer pending
	repo.On("CompleteSession", mock.Anything, "session-1").Return(false, nil)

	_, err := sm.Complete(context.Background(), "tok", "")
	assert.ErrorIs(t, err, types.ErrSessionAlreadyCompleted)
	repo.AssertNotCalled(t, "InsertEvents", mock.Anything, mock.Anything)
}

func TestSessionManager_CompleteUnknownToken(t *testing.T) {
	sm, repo := setupTestSessionManager(time.Now())

	repo.On("GetSessionByToken", mock.Anything, "nope").Return(nil, types.ErrSessionNotFound)

	_, err := sm.Complete(context.Background(), "nope", "")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestSessionManager_ExpireSweep(t *testing.T) {
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	now := scheduled.Add(3 * time.Hour)
	sm, repo := setupTestSessionManager(now)

	repo.On("GetExpiredPendingSessions", mock.Anything, now).Return([]*types.ConfirmationSession{pendingSession(scheduled)}, nil)
	repo.On("MarkSessionExpiredProcessed", mock.Anything, "session-1", now).Return(true, nil)

	var inserted []*types.MedicationLogEvent
	repo.On("InsertEvents", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).([]*types.MedicationLogEvent)
	}).Return(nil)

	result, err := sm.ExpireSweep(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SessionsProcessed)
	assert.Equal(t, 2, result.EventsWritten)

	require.Len(t, inserted, 2)
	for _, ev := range inserted {
		assert.Equal(t, types.EventMissed, ev.Status)
		assert.Equal(t, types.SourceExpirySweep, ev.Source)
		// Keyed by the scheduled time, not the sweep time
		assert.Equal(t, scheduled.Truncate(time.Hour), ev.EventTime)
	}
	repo.AssertExpectations(t)
}

func TestSessionManager_ExpireSweepClaimLost(t *testing.T) {
	// A session claimed by a concurrent sweep produces no events here
	scheduled := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	now := scheduled.Add(3 * time.Hour)
	sm, repo := setupTestSessionManager(now)

	repo.On("GetExpiredPendingSessions", mock.Anything, now).Return([]*types.ConfirmationSession{pendingSession(scheduled)}, nil)
	repo.On("MarkSessionExpiredProcessed", mock.Anything, "session-1", now).Return(false, nil)

	result, err := sm.ExpireSweep(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 0, result.SessionsProcessed)
	assert.Equal(t, 0, result.EventsWritten)
	repo.AssertNotCalled(t, "InsertEvents", mock.Anything, mock.Anything)
}

func TestSessionManager_ExpireSweepEmpty(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	sm, repo := setupTestSessionManager(now)

	repo.On("GetExpiredPendingSessions", mock.Anything, now).Return([]*types.ConfirmationSession{}, nil)

	result, err := sm.ExpireSweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SessionsProcessed)
}

func TestCalendarDayBounds(t *testing.T) {
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)

	start, end := calendarDayBounds(time.Date(2025, 6, 2, 23, 45, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, loc), end)
}
