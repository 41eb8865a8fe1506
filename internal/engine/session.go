package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/monitoring"
	"github.com/simpiller/adherence/pkg/types"
)

// SessionManager owns the confirmation session lifecycle: creation on a due
// schedule, completion on an inbound confirmation, and the periodic expiry
// sweep that records misses. State transitions are single conditional updates
// so the loser of a confirm/expire race is a no-op, never a corruption.
type SessionManager struct {
	repo    interfaces.AdherenceRepository
	clock   interfaces.Clock
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	ttl     time.Duration
}

// NewSessionManager creates a new session manager
func NewSessionManager(repo interfaces.AdherenceRepository, clock interfaces.Clock, log *logger.Logger, metrics *monitoring.MetricsCollector, ttl time.Duration) *SessionManager {
	return &SessionManager{
		repo:    repo,
		clock:   clock,
		logger:  log,
		metrics: metrics,
		ttl:     ttl,
	}
}

// Create opens a PENDING session for one dose opportunity. Storage does not
// enforce the (patient, schedule, day) uniqueness, so the same-day check runs
// immediately before the insert; callers must treat creation as
// create-if-absent and swallow ErrDuplicateSession.
func (sm *SessionManager) Create(ctx context.Context, patientID string, medicationIDs []string, scheduleID string, scheduledTime time.Time) (*types.ConfirmationSession, error) {
	if len(medicationIDs) == 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "at least one medication id is required", nil)
	}

	dayStart, dayEnd := calendarDayBounds(scheduledTime)
	exists, err := sm.repo.HasSessionForDay(ctx, patientID, scheduleID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing session: %w", err)
	}
	if exists {
		return nil, types.ErrDuplicateSession
	}

	session := &types.ConfirmationSession{
		ID:            uuid.New().String(),
		Token:         newSessionToken(),
		PatientID:     patientID,
		ScheduleID:    scheduleID,
		MedicationIDs: medicationIDs,
		ScheduledTime: scheduledTime,
		ExpiresAt:     scheduledTime.Add(sm.ttl),
		State:         types.SessionPending,
		CreatedAt:     sm.clock.Now(),
	}

	if err := sm.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if sm.metrics != nil {
		sm.metrics.RecordSessionCreated()
	}
	sm.logger.WithSessionID(session.ID).Info("Confirmation session created")

	return session, nil
}

// Complete records a confirmation for a pending, unexpired session. One TAKEN
// event is written per medication in the session, keyed by the scheduled time
// truncated to its hour bucket so a later scan and an expiry miss for the
// same dose land in the same correlation window.
func (sm *SessionManager) Complete(ctx context.Context, token, evidence string) ([]*types.MedicationLogEvent, error) {
	session, err := sm.repo.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case types.SessionCompleted:
		return nil, types.ErrSessionAlreadyCompleted
	case types.SessionExpiredProcessed:
		return nil, types.ErrSessionExpired
	}

	now := sm.clock.Now()
	if now.After(session.ExpiresAt) {
		return nil, types.ErrSessionExpired
	}

	won, err := sm.repo.CompleteSession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}
	if !won {
		// Another confirmation, or the expiry sweep, got there first.
		return nil, types.ErrSessionAlreadyCompleted
	}

	events := sm.buildEvents(session, types.EventTaken, types.SourceConfirmation, evidence)
	if err := sm.repo.InsertEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("failed to write taken events: %w", err)
	}
	sm.recordEvents(events)

	sm.logger.WithSessionID(session.ID).Info("Confirmation session completed")
	return events, nil
}

// ExpireSweep finds every PENDING session past its expiry and records one
// MISSED event per contained medication, keyed by the scheduled time rather
// than the sweep time. Each session is claimed with a conditional update that
// also stamps processed_for_missed, so overlapping or retried sweeps never
// double-log a miss.
func (sm *SessionManager) ExpireSweep(ctx context.Context, now time.Time) (*types.SweepResult, error) {
	start := time.Now()
	result := &types.SweepResult{Errors: []string{}}

	sessions, err := sm.repo.GetExpiredPendingSessions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load expired sessions: %w", err)
	}

	for _, session := range sessions {
		won, err := sm.repo.MarkSessionExpiredProcessed(ctx, session.ID, now)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("session %s: failed to mark processed: %v", session.ID, err))
			continue
		}
		if !won {
			// Claimed by a concurrent sweep, or confirmed in the meantime.
			continue
		}

		events := sm.buildEvents(session, types.EventMissed, types.SourceExpirySweep, "")
		if err := sm.repo.InsertEvents(ctx, events); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("session %s: failed to write missed events: %v", session.ID, err))
			continue
		}
		sm.recordEvents(events)

		result.SessionsProcessed++
		result.EventsWritten += len(events)
	}

	if sm.metrics != nil {
		sm.metrics.RecordJobDuration("expire_sweep", time.Since(start))
	}
	sm.logger.BatchSummary("expire_sweep", len(sessions), result.EventsWritten, result.Errors)

	return result, nil
}

func (sm *SessionManager) buildEvents(session *types.ConfirmationSession, status types.EventStatus, source, evidence string) []*types.MedicationLogEvent {
	eventTime := session.ScheduledTime.Truncate(time.Hour)
	events := make([]*types.MedicationLogEvent, 0, len(session.MedicationIDs))
	for _, medID := range session.MedicationIDs {
		scheduleID := session.ScheduleID
		events = append(events, &types.MedicationLogEvent{
			ID:           uuid.New().String(),
			PatientID:    session.PatientID,
			MedicationID: medID,
			ScheduleID:   &scheduleID,
			EventTime:    eventTime,
			Status:       status,
			Source:       source,
			RawEvidence:  evidence,
			CreatedAt:    sm.clock.Now(),
		})
	}
	return events
}

func (sm *SessionManager) recordEvents(events []*types.MedicationLogEvent) {
	if sm.metrics == nil {
		return
	}
	for _, ev := range events {
		sm.metrics.RecordEventLogged(string(ev.Status), ev.Source)
	}
}

// newSessionToken returns an opaque unguessable token (256 random bits, hex).
func newSessionToken() string {
	a := uuid.New()
	b := uuid.New()
	return strings.ReplaceAll(a.String()+b.String(), "-", "")
}

// calendarDayBounds returns the [start, end) of the calendar day containing t,
// in t's location.
func calendarDayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
