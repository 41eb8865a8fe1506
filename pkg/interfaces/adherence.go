package interfaces

import (
	"context"
	"time"

	"github.com/simpiller/adherence/pkg/types"
)

// Clock supplies the current time. Injected everywhere the engine reads the
// clock so evaluators and calculators are deterministic under test.
type Clock interface {
	Now() time.Time
}

// Transport is the outbound send capability. Accepted does not mean
// delivered; delivery outcomes arrive later on the status webhook.
type Transport interface {
	Send(ctx context.Context, to, body string) (*types.DeliveryResult, error)
}

// AdherenceRepository defines the persistence operations the engine needs.
// Storage is assumed to provide row-level atomic updates; conditional updates
// return whether this caller won the transition.
type AdherenceRepository interface {
	// Patients and medications
	GetPatientByID(ctx context.Context, id string) (*types.Patient, error)
	GetMedicationByID(ctx context.Context, id string) (*types.Medication, error)

	// Schedules
	ReplaceSchedules(ctx context.Context, medicationID string, schedules []*types.Schedule) error
	GetActiveSchedules(ctx context.Context) ([]*types.Schedule, error)
	GetActiveSchedulesForPatient(ctx context.Context, patientID string) ([]*types.Schedule, error)

	// Confirmation sessions
	CreateSession(ctx context.Context, session *types.ConfirmationSession) error
	GetSessionByToken(ctx context.Context, token string) (*types.ConfirmationSession, error)
	HasSessionForDay(ctx context.Context, patientID, scheduleID string, dayStart, dayEnd time.Time) (bool, error)
	CompleteSession(ctx context.Context, sessionID string) (bool, error)
	GetExpiredPendingSessions(ctx context.Context, now time.Time) ([]*types.ConfirmationSession, error)
	MarkSessionExpiredProcessed(ctx context.Context, sessionID string, processedAt time.Time) (bool, error)

	// Medication log events
	InsertEvents(ctx context.Context, events []*types.MedicationLogEvent) error
	GetEventsForPatient(ctx context.Context, patientID string, from, to time.Time) ([]*types.MedicationLogEvent, error)
	ListEventPatientIDs(ctx context.Context) ([]string, error)
	MarkEventTaken(ctx context.Context, eventID string, fixedAt time.Time, reason string) (bool, error)
	CountTakenEvents(ctx context.Context, patientID string, from, to time.Time) (int, error)

	// Delivery alerts
	InsertDeliveryAlert(ctx context.Context, alert *types.DeliveryAlert) error
	GetDeliveryAlerts(ctx context.Context, limit, offset int) ([]*types.DeliveryAlert, error)
}

// AdherenceService is the engine's service surface.
type AdherenceService interface {
	RunDueTick(ctx context.Context) (*types.TickResult, error)
	RunExpireSweep(ctx context.Context) (*types.SweepResult, error)
	Confirm(ctx context.Context, token, evidence string) ([]*types.MedicationLogEvent, error)
	Reconcile(ctx context.Context, patientID string) (*types.ReconcileResult, error)
	ExpandMedication(ctx context.Context, medicationID string) ([]*types.Schedule, error)
	Score(ctx context.Context, patientID string, periodDays int) (*types.AdherenceScore, error)

	Start(addr string) error
	Stop() error
}
