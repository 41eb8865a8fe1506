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

func setupTestCalculator(now time.Time) (*AdherenceCalculator, *MockRepository) {
	repo := &MockRepository{}
	log := logger.New("debug")
	return NewAdherenceCalculator(repo, fixedClock{now: now}, log, 30), repo
}

func dailySchedule(id string) *types.Schedule {
	return &types.Schedule{
		ID:             id,
		PatientID:      "patient-1",
		TimeOfDay:      "08:00:00",
		DaysOfWeekMask: types.EveryDayMask,
		Active:         true,
	}
}

func TestAdherenceCalculator_PerfectAdherence(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	calc, repo := setupTestCalculator(now)

	repo.On("GetActiveSchedulesForPatient", mock.Anything, "patient-1").Return([]*types.Schedule{dailySchedule("sched-1")}, nil)
	repo.On("CountTakenEvents", mock.Anything, "patient-1", now.AddDate(0, 0, -30), now).Return(30, nil)

	score, err := calc.Score(context.Background(), "patient-1", 30)
	require.NoError(t, err)

	assert.Equal(t, 30, score.ExpectedDoses)
	assert.Equal(t, 30, score.TakenDoses)
	assert.Equal(t, 100.0, score.Score)
}

func TestAdherenceCalculator_HalfAdherence(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	calc, repo := setupTestCalculator(now)

	repo.On("GetActiveSchedulesForPatient", mock.Anything, "patient-1").Return([]*types.Schedule{dailySchedule("sched-1")}, nil)
	repo.On("CountTakenEvents", mock.Anything, "patient-1", mock.Anything, mock.Anything).Return(15, nil)

	score, err := calc.Score(context.Background(), "patient-1", 30)
	require.NoError(t, err)

	assert.Equal(t, 30, score.ExpectedDoses)
	assert.InDelta(t, 50.0, score.Score, 0.001)
}

func TestAdherenceCalculator_NoSchedulesNeutral(t *testing.T) {
	// Zero expected doses means nothing was asked of the patient
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	calc, repo := setupTestCalculator(now)

	repo.On("GetActiveSchedulesForPatient", mock.Anything, "patient-1").Return([]*types.Schedule{}, nil)
	repo.On("CountTakenEvents", mock.Anything, "patient-1", mock.Anything, mock.Anything).Return(0, nil)

	score, err := calc.Score(context.Background(), "patient-1", 30)
	require.NoError(t, err)

	assert.Equal(t, 0, score.ExpectedDoses)
	assert.Equal(t, 100.0, score.Score)
}

func TestAdherenceCalculator_CappedAt100(t *testing.T) {
	// Reconciliation rewrites can push taken above expected; the score caps
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	calc, repo := setupTestCalculator(now)

	repo.On("GetActiveSchedulesForPatient", mock.Anything, "patient-1").Return([]*types.Schedule{dailySchedule("sched-1")}, nil)
	repo.On("CountTakenEvents", mock.Anything, "patient-1", mock.Anything, mock.Anything).Return(45, nil)

	score, err := calc.Score(context.Background(), "patient-1", 30)
	require.NoError(t, err)

	assert.Equal(t, 100.0, score.Score)
}

func TestAdherenceCalculator_WeekdayMaskLimitsExpected(t *testing.T) {
	// Mondays-only over a 28 day period expects exactly 4 doses
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	calc, repo := setupTestCalculator(now)

	mondaysOnly := dailySchedule("sched-1")
	mondaysOnly.DaysOfWeekMask = 1 << int(time.Monday)

	repo.On("GetActiveSchedulesForPatient", mock.Anything, "patient-1").Return([]*types.Schedule{mondaysOnly}, nil)
	repo.On("CountTakenEvents", mock.Anything, "patient-1", mock.Anything, mock.Anything).Return(4, nil)

	score, err := calc.Score(context.Background(), "patient-1", 28)
	require.NoError(t, err)

	assert.Equal(t, 4, score.ExpectedDoses)
	assert.Equal(t, 100.0, score.Score)
}

func TestAdherenceCalculator_DefaultPeriod(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	calc, repo := setupTestCalculator(now)

	repo.On("GetActiveSchedulesForPatient", mock.Anything, "patient-1").Return([]*types.Schedule{}, nil)
	repo.On("CountTakenEvents", mock.Anything, "patient-1", now.AddDate(0, 0, -30), now).Return(0, nil)

	score, err := calc.Score(context.Background(), "patient-1", 0)
	require.NoError(t, err)

	assert.Equal(t, now.AddDate(0, 0, -30), score.PeriodStart)
	assert.Equal(t, now, score.PeriodEnd)
}
