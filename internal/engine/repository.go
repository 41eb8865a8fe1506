package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/simpiller/adherence/pkg/database"
	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/types"
)

// Repository implements the AdherenceRepository interface over Postgres
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a new adherence repository
func NewRepository(db *database.DB, log *logger.Logger) interfaces.AdherenceRepository {
	return &Repository{
		db:     db,
		logger: log,
	}
}

// GetPatientByID retrieves a patient by ID
func (r *Repository) GetPatientByID(ctx context.Context, id string) (*types.Patient, error) {
	query := `
		SELECT id, first_name, last_name, phone, timezone,
			   COALESCE(morning_time::text, ''), COALESCE(afternoon_time::text, ''), COALESCE(evening_time::text, ''),
			   created_at
		FROM patients
		WHERE id = $1`

	p := &types.Patient{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Phone,
		&p.Timezone,
		&p.MorningTime,
		&p.AfternoonTime,
		&p.EveningTime,
		&p.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("patient not found: %s", id)
		}
		r.logger.Errorf("Failed to get patient %s: %v", id, err)
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	return p, nil
}

// GetMedicationByID retrieves a medication by ID
func (r *Repository) GetMedicationByID(ctx context.Context, id string) (*types.Medication, error) {
	query := `
		SELECT id, patient_id, name, frequency, COALESCE(custom_time::text, ''), active, created_at
		FROM medications
		WHERE id = $1`

	m := &types.Medication{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.PatientID,
		&m.Name,
		&m.Frequency,
		&m.CustomTime,
		&m.Active,
		&m.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("medication not found: %s", id)
		}
		r.logger.Errorf("Failed to get medication %s: %v", id, err)
		return nil, fmt.Errorf("failed to get medication: %w", err)
	}

	return m, nil
}

// ReplaceSchedules deletes all schedules for a medication and inserts the new
// set in one transaction (the expander's full-replace contract).
func (r *Repository) ReplaceSchedules(ctx context.Context, medicationID string, schedules []*types.Schedule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE medication_id = $1`, medicationID); err != nil {
		r.logger.Errorf("Failed to delete schedules for medication %s: %v", medicationID, err)
		return fmt.Errorf("failed to delete existing schedules: %w", err)
	}

	insert := `
		INSERT INTO schedules (
			id, medication_id, patient_id, time_of_day, days_of_week_mask,
			active, advance_window_minutes, notify_enabled, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, s := range schedules {
		if _, err := tx.ExecContext(ctx, insert,
			s.ID,
			s.MedicationID,
			s.PatientID,
			s.TimeOfDay,
			s.DaysOfWeekMask,
			s.Active,
			s.AdvanceWindowMinutes,
			s.NotifyEnabled,
			s.CreatedAt,
		); err != nil {
			r.logger.Errorf("Failed to insert schedule for medication %s: %v", medicationID, err)
			return fmt.Errorf("failed to insert schedule: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schedule replace: %w", err)
	}

	r.logger.Infof("Replaced schedules for medication %s (%d rows)", medicationID, len(schedules))
	return nil
}

const scheduleColumns = `id, medication_id, patient_id, time_of_day::text, days_of_week_mask,
		   active, advance_window_minutes, notify_enabled, created_at`

// GetActiveSchedules retrieves all active, notify-enabled schedules
func (r *Repository) GetActiveSchedules(ctx context.Context) ([]*types.Schedule, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM schedules
		WHERE active = TRUE AND notify_enabled = TRUE
		ORDER BY time_of_day ASC`, scheduleColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Errorf("Failed to get active schedules: %v", err)
		return nil, fmt.Errorf("failed to get active schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// GetActiveSchedulesForPatient retrieves a patient's active schedules
func (r *Repository) GetActiveSchedulesForPatient(ctx context.Context, patientID string) ([]*types.Schedule, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM schedules
		WHERE patient_id = $1 AND active = TRUE
		ORDER BY time_of_day ASC`, scheduleColumns)

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		r.logger.Errorf("Failed to get schedules for patient %s: %v", patientID, err)
		return nil, fmt.Errorf("failed to get patient schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

func scanSchedules(rows *sql.Rows) ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	for rows.Next() {
		s := &types.Schedule{}
		err := rows.Scan(
			&s.ID,
			&s.MedicationID,
			&s.PatientID,
			&s.TimeOfDay,
			&s.DaysOfWeekMask,
			&s.Active,
			&s.AdvanceWindowMinutes,
			&s.NotifyEnabled,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

// CreateSession creates a new confirmation session
func (r *Repository) CreateSession(ctx context.Context, session *types.ConfirmationSession) error {
	query := `
		INSERT INTO confirmation_sessions (
			id, token, patient_id, schedule_id, medication_ids,
			scheduled_time, expires_at, state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Token,
		session.PatientID,
		session.ScheduleID,
		pq.Array(session.MedicationIDs),
		session.ScheduledTime,
		session.ExpiresAt,
		string(session.State),
		session.CreatedAt,
	)

	if err != nil {
		r.logger.Errorf("Failed to create session for patient %s: %v", session.PatientID, err)
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

const sessionColumns = `id, token, patient_id, schedule_id, medication_ids,
		   scheduled_time, expires_at, state, processed_for_missed, created_at`

// GetSessionByToken retrieves a session by its opaque token
func (r *Repository) GetSessionByToken(ctx context.Context, token string) (*types.ConfirmationSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM confirmation_sessions
		WHERE token = $1`, sessionColumns)

	session, err := scanSession(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrSessionNotFound
		}
		r.logger.Errorf("Failed to get session by token: %v", err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// HasSessionForDay reports whether any session exists for the schedule within
// the given calendar-day bounds. This is the duplicate guard; it is a
// pre-insert check, not a storage uniqueness constraint.
func (r *Repository) HasSessionForDay(ctx context.Context, patientID, scheduleID string, dayStart, dayEnd time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM confirmation_sessions
			WHERE patient_id = $1
			  AND schedule_id = $2
			  AND scheduled_time >= $3
			  AND scheduled_time < $4
		)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, patientID, scheduleID, dayStart, dayEnd).Scan(&exists); err != nil {
		r.logger.Errorf("Failed to check same-day session: %v", err)
		return false, fmt.Errorf("failed to check same-day session: %w", err)
	}

	return exists, nil
}

// CompleteSession transitions a session to completed iff it is still pending.
// Returns whether this caller won the transition.
func (r *Repository) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	query := `
		UPDATE confirmation_sessions
		SET state = 'completed'
		WHERE id = $1 AND state = 'pending'`

	result, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		r.logger.Errorf("Failed to complete session %s: %v", sessionID, err)
		return false, fmt.Errorf("failed to complete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// GetExpiredPendingSessions retrieves pending sessions past their expiry
func (r *Repository) GetExpiredPendingSessions(ctx context.Context, now time.Time) ([]*types.ConfirmationSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM confirmation_sessions
		WHERE state = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC`, sessionColumns)

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		r.logger.Errorf("Failed to get expired sessions: %v", err)
		return nil, fmt.Errorf("failed to get expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.ConfirmationSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// MarkSessionExpiredProcessed claims a pending expired session for miss
// processing. The state guard plus the processed_for_missed stamp make the
// sweep safe to re-run. Returns whether this caller won the claim.
func (r *Repository) MarkSessionExpiredProcessed(ctx context.Context, sessionID string, processedAt time.Time) (bool, error) {
	query := `
		UPDATE confirmation_sessions
		SET state = 'expired_processed', processed_for_missed = $1
		WHERE id = $2 AND state = 'pending' AND processed_for_missed IS NULL`

	result, err := r.db.ExecContext(ctx, query, processedAt, sessionID)
	if err != nil {
		r.logger.Errorf("Failed to mark session %s expired: %v", sessionID, err)
		return false, fmt.Errorf("failed to mark session expired: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.ConfirmationSession, error) {
	s := &types.ConfirmationSession{}
	var medicationIDs pq.StringArray
	var state string

	err := row.Scan(
		&s.ID,
		&s.Token,
		&s.PatientID,
		&s.ScheduleID,
		&medicationIDs,
		&s.ScheduledTime,
		&s.ExpiresAt,
		&state,
		&s.ProcessedForMissed,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.MedicationIDs = []string(medicationIDs)
	s.State = types.SessionState(state)
	return s, nil
}

// InsertEvents appends medication log events
func (r *Repository) InsertEvents(ctx context.Context, events []*types.MedicationLogEvent) error {
	query := `
		INSERT INTO medication_log (
			id, patient_id, medication_id, schedule_id, event_time,
			status, source, raw_evidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, ev := range events {
		_, err := r.db.ExecContext(ctx, query,
			ev.ID,
			ev.PatientID,
			ev.MedicationID,
			ev.ScheduleID,
			ev.EventTime,
			string(ev.Status),
			ev.Source,
			ev.RawEvidence,
			ev.CreatedAt,
		)
		if err != nil {
			r.logger.Errorf("Failed to insert log event for patient %s: %v", ev.PatientID, err)
			return fmt.Errorf("failed to insert log event: %w", err)
		}
	}

	return nil
}

// GetEventsForPatient retrieves a patient's log events within a time range.
// A zero from means no lower bound.
func (r *Repository) GetEventsForPatient(ctx context.Context, patientID string, from, to time.Time) ([]*types.MedicationLogEvent, error) {
	query := `
		SELECT id, patient_id, medication_id, schedule_id, event_time,
			   status, source, COALESCE(raw_evidence, ''), original_status, fixed_at, fix_reason, created_at
		FROM medication_log
		WHERE patient_id = $1 AND event_time <= $2`

	args := []interface{}{patientID, to}
	if !from.IsZero() {
		query += ` AND event_time >= $3`
		args = append(args, from)
	}
	query += ` ORDER BY event_time ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Errorf("Failed to get events for patient %s: %v", patientID, err)
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*types.MedicationLogEvent
	for rows.Next() {
		ev := &types.MedicationLogEvent{}
		var status string
		err := rows.Scan(
			&ev.ID,
			&ev.PatientID,
			&ev.MedicationID,
			&ev.ScheduleID,
			&ev.EventTime,
			&status,
			&ev.Source,
			&ev.RawEvidence,
			&ev.OriginalStatus,
			&ev.FixedAt,
			&ev.FixReason,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log event: %w", err)
		}
		ev.Status = types.EventStatus(status)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log events: %w", err)
	}

	return events, nil
}

// ListEventPatientIDs retrieves the distinct patients present in the log
func (r *Repository) ListEventPatientIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT patient_id FROM medication_log`)
	if err != nil {
		r.logger.Errorf("Failed to list event patients: %v", err)
		return nil, fmt.Errorf("failed to list event patients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patient ids: %w", err)
	}

	return ids, nil
}

// MarkEventTaken rewrites a MISSED event to TAKEN, preserving the original
// status and stamping the fix for audit. The status guard makes re-running
// reconciliation over the same bucket a no-op. Returns whether this caller
// performed the rewrite.
func (r *Repository) MarkEventTaken(ctx context.Context, eventID string, fixedAt time.Time, reason string) (bool, error) {
	query := `
		UPDATE medication_log
		SET status = 'taken', original_status = 'missed', fixed_at = $1, fix_reason = $2
		WHERE id = $3 AND status = 'missed'`

	result, err := r.db.ExecContext(ctx, query, fixedAt, reason, eventID)
	if err != nil {
		r.logger.Errorf("Failed to rewrite event %s: %v", eventID, err)
		return false, fmt.Errorf("failed to rewrite event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// CountTakenEvents counts TAKEN events for a patient in a time range
func (r *Repository) CountTakenEvents(ctx context.Context, patientID string, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM medication_log
		WHERE patient_id = $1 AND status = 'taken' AND event_time >= $2 AND event_time <= $3`

	var count int
	if err := r.db.QueryRowContext(ctx, query, patientID, from, to).Scan(&count); err != nil {
		r.logger.Errorf("Failed to count taken events for patient %s: %v", patientID, err)
		return 0, fmt.Errorf("failed to count taken events: %w", err)
	}

	return count, nil
}

// InsertDeliveryAlert records an operational delivery alert
func (r *Repository) InsertDeliveryAlert(ctx context.Context, alert *types.DeliveryAlert) error {
	query := `
		INSERT INTO delivery_alerts (id, transport_message_id, recipient, status, error_code)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.TransportMessageID,
		alert.To,
		alert.Status,
		alert.ErrorCode,
	)

	if err != nil {
		r.logger.Errorf("Failed to insert delivery alert: %v", err)
		return fmt.Errorf("failed to insert delivery alert: %w", err)
	}

	return nil
}

// GetDeliveryAlerts retrieves delivery alerts, newest first
func (r *Repository) GetDeliveryAlerts(ctx context.Context, limit, offset int) ([]*types.DeliveryAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, transport_message_id, recipient, status, COALESCE(error_code, ''), created_at, reviewed_at
		FROM delivery_alerts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Errorf("Failed to get delivery alerts: %v", err)
		return nil, fmt.Errorf("failed to get delivery alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*types.DeliveryAlert
	for rows.Next() {
		alert := &types.DeliveryAlert{}
		err := rows.Scan(
			&alert.ID,
			&alert.TransportMessageID,
			&alert.To,
			&alert.Status,
			&alert.ErrorCode,
			&alert.CreatedAt,
			&alert.ReviewedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery alerts: %w", err)
	}

	return alerts, nil
}
