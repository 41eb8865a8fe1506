package types

import "time"

// Schedule represents a recurring dose opportunity for a medication. TimeOfDay
// is a wall-clock value interpreted in the patient's timezone.
type Schedule struct {
	ID                   string    `json:"id" db:"id"`
	MedicationID         string    `json:"medication_id" db:"medication_id"`
	PatientID            string    `json:"patient_id" db:"patient_id"`
	TimeOfDay            string    `json:"time_of_day" db:"time_of_day"`
	DaysOfWeekMask       int       `json:"days_of_week_mask" db:"days_of_week_mask"`
	Active               bool      `json:"active" db:"active"`
	AdvanceWindowMinutes int       `json:"advance_window_minutes" db:"advance_window_minutes"`
	NotifyEnabled        bool      `json:"notify_enabled" db:"notify_enabled"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// EveryDayMask has all seven weekday bits set (bit 0 = Sunday).
const EveryDayMask = 0b1111111

// SessionState represents the lifecycle state of a confirmation session.
type SessionState string

const (
	SessionPending          SessionState = "pending"
	SessionCompleted        SessionState = "completed"
	SessionExpiredProcessed SessionState = "expired_processed"
)

// ConfirmationSession is a bounded-lifetime record representing one concrete
// dose opportunity awaiting a patient response. Looked up by Token only.
type ConfirmationSession struct {
	ID                 string       `json:"id" db:"id"`
	Token              string       `json:"-" db:"token"`
	PatientID          string       `json:"patient_id" db:"patient_id"`
	ScheduleID         string       `json:"schedule_id" db:"schedule_id"`
	MedicationIDs      []string     `json:"medication_ids" db:"medication_ids"`
	ScheduledTime      time.Time    `json:"scheduled_time" db:"scheduled_time"`
	ExpiresAt          time.Time    `json:"expires_at" db:"expires_at"`
	State              SessionState `json:"state" db:"state"`
	ProcessedForMissed *time.Time   `json:"processed_for_missed,omitempty" db:"processed_for_missed"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
}

// EventStatus represents the recorded outcome of a dose opportunity.
type EventStatus string

const (
	EventTaken  EventStatus = "taken"
	EventMissed EventStatus = "missed"
)

// Event sources.
const (
	SourceConfirmation = "confirmation"
	SourceExpirySweep  = "expiry_sweep"
)

// MedicationLogEvent is an append-only record of a confirmed or missed dose.
// The only sanctioned mutation is the reconciliation rewrite, which preserves
// the prior status in OriginalStatus.
type MedicationLogEvent struct {
	ID             string      `json:"id" db:"id"`
	PatientID      string      `json:"patient_id" db:"patient_id"`
	MedicationID   string      `json:"medication_id" db:"medication_id"`
	ScheduleID     *string     `json:"schedule_id,omitempty" db:"schedule_id"`
	EventTime      time.Time   `json:"event_time" db:"event_time"`
	Status         EventStatus `json:"status" db:"status"`
	Source         string      `json:"source" db:"source"`
	RawEvidence    string      `json:"raw_evidence,omitempty" db:"raw_evidence"`
	OriginalStatus *string     `json:"original_status,omitempty" db:"original_status"`
	FixedAt        *time.Time  `json:"fixed_at,omitempty" db:"fixed_at"`
	FixReason      *string     `json:"fix_reason,omitempty" db:"fix_reason"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AdherenceScore is a derived expected-vs-actual dose ratio over a rolling
// period. Recomputed on demand, never stored authoritatively.
type AdherenceScore struct {
	PatientID     string    `json:"patient_id"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	ExpectedDoses int       `json:"expected_doses"`
	TakenDoses    int       `json:"taken_doses"`
	Score         float64   `json:"score"`
}

// Patient carries the engine-relevant slice of a patient record.
type Patient struct {
	ID            string    `json:"id" db:"id"`
	FirstName     string    `json:"first_name" db:"first_name"`
	LastName      string    `json:"last_name" db:"last_name"`
	Phone         string    `json:"phone" db:"phone"`
	Timezone      string    `json:"timezone" db:"timezone"`
	MorningTime   string    `json:"morning_time" db:"morning_time"`
	AfternoonTime string    `json:"afternoon_time" db:"afternoon_time"`
	EveningTime   string    `json:"evening_time" db:"evening_time"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Medication represents a prescribed medication with its dosing frequency
// label, e.g. "morning", "morning,evening", "custom".
type Medication struct {
	ID         string    `json:"id" db:"id"`
	PatientID  string    `json:"patient_id" db:"patient_id"`
	Name       string    `json:"name" db:"name"`
	Frequency  string    `json:"frequency" db:"frequency"`
	CustomTime string    `json:"custom_time,omitempty" db:"custom_time"`
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DeliveryStatus values reported by the outbound transport.
type DeliveryStatus string

const (
	DeliveryQueued      DeliveryStatus = "queued"
	DeliverySent        DeliveryStatus = "sent"
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryFailed      DeliveryStatus = "failed"
	DeliveryUndelivered DeliveryStatus = "undelivered"
)

// DeliveryResult is the transport's synchronous answer to a send. Accepted
// means the transport took the message, not that it was delivered.
type DeliveryResult struct {
	Accepted  bool   `json:"accepted"`
	MessageID string `json:"message_id,omitempty"`
}

// DeliveryAlert is an operational alert raised when the transport later
// reports a failed or undelivered message. Reviewed by a human, never retried
// automatically.
type DeliveryAlert struct {
	ID                 string     `json:"id" db:"id"`
	TransportMessageID string     `json:"transport_message_id" db:"transport_message_id"`
	To                 string     `json:"to" db:"recipient"`
	Status             string     `json:"status" db:"status"`
	ErrorCode          string     `json:"error_code,omitempty" db:"error_code"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// TickResult summarizes one due-window evaluator run. Per-item errors are
// accumulated; a non-empty Errors list does not mean the run failed.
type TickResult struct {
	SchedulesChecked int      `json:"schedules_checked"`
	SessionsCreated  int      `json:"sessions_created"`
	RemindersSent    int      `json:"reminders_sent"`
	Errors           []string `json:"errors"`
}

// SweepResult summarizes one expiry sweep run.
type SweepResult struct {
	SessionsProcessed int      `json:"sessions_processed"`
	EventsWritten     int      `json:"events_written"`
	Errors            []string `json:"errors"`
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	ProcessedGroups int      `json:"processed_groups"`
	LogsUpdated     int      `json:"logs_updated"`
	Errors          []string `json:"errors"`
}
