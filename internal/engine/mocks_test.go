package engine

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/simpiller/adherence/pkg/types"
)

// fixedClock returns a fixed instant so due-window and expiry decisions are
// deterministic under test.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// MockRepository is a mock implementation of AdherenceRepository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetPatientByID(ctx context.Context, id string) (*types.Patient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Patient), args.Error(1)
}

func (m *MockRepository) GetMedicationByID(ctx context.Context, id string) (*types.Medication, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Medication), args.Error(1)
}

func (m *MockRepository) ReplaceSchedules(ctx context.Context, medicationID string, schedules []*types.Schedule) error {
	args := m.Called(ctx, medicationID, schedules)
	return args.Error(0)
}

func (m *MockRepository) GetActiveSchedules(ctx context.Context) ([]*types.Schedule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Schedule), args.Error(1)
}

func (m *MockRepository) GetActiveSchedulesForPatient(ctx context.Context, patientID string) ([]*types.Schedule, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.Schedule), args.Error(1)
}

func (m *MockRepository) CreateSession(ctx context.Context, session *types.ConfirmationSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockRepository) GetSessionByToken(ctx context.Context, token string) (*types.ConfirmationSession, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ConfirmationSession), args.Error(1)
}

func (m *MockRepository) HasSessionForDay(ctx context.Context, patientID, scheduleID string, dayStart, dayEnd time.Time) (bool, error) {
	args := m.Called(ctx, patientID, scheduleID, dayStart, dayEnd)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetExpiredPendingSessions(ctx context.Context, now time.Time) ([]*types.ConfirmationSession, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.ConfirmationSession), args.Error(1)
}

func (m *MockRepository) MarkSessionExpiredProcessed(ctx context.Context, sessionID string, processedAt time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, processedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) InsertEvents(ctx context.Context, events []*types.MedicationLogEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *MockRepository) GetEventsForPatient(ctx context.Context, patientID string, from, to time.Time) ([]*types.MedicationLogEvent, error) {
	args := m.Called(ctx, patientID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.MedicationLogEvent), args.Error(1)
}

func (m *MockRepository) ListEventPatientIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRepository) MarkEventTaken(ctx context.Context, eventID string, fixedAt time.Time, reason string) (bool, error) {
	args := m.Called(ctx, eventID, fixedAt, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CountTakenEvents(ctx context.Context, patientID string, from, to time.Time) (int, error) {
	args := m.Called(ctx, patientID, from, to)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) InsertDeliveryAlert(ctx context.Context, alert *types.DeliveryAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockRepository) GetDeliveryAlerts(ctx context.Context, limit, offset int) ([]*types.DeliveryAlert, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.DeliveryAlert), args.Error(1)
}

// MockTransport is a mock implementation of Transport
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, to, body string) (*types.DeliveryResult, error) {
	args := m.Called(ctx, to, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.DeliveryResult), args.Error(1)
}
