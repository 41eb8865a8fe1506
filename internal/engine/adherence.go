package engine

import (
	"context"
	"fmt"

	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/types"
)

// AdherenceCalculator computes the expected-vs-actual dose ratio over a
// rolling period. Pure aggregation over the event log and the schedule set;
// safe to recompute at any time.
type AdherenceCalculator struct {
	repo              interfaces.AdherenceRepository
	clock             interfaces.Clock
	logger            *logger.Logger
	defaultPeriodDays int
}

// NewAdherenceCalculator creates a new adherence calculator
func NewAdherenceCalculator(repo interfaces.AdherenceRepository, clock interfaces.Clock, log *logger.Logger, defaultPeriodDays int) *AdherenceCalculator {
	return &AdherenceCalculator{
		repo:              repo,
		clock:             clock,
		logger:            log,
		defaultPeriodDays: defaultPeriodDays,
	}
}

// Score computes the adherence score for a patient over the trailing
// periodDays (default when <= 0). Expected doses count, for each active
// schedule, the calendar days in the period whose weekday bit is set in the
// schedule's mask. Zero expected doses yields the neutral ceiling of 100:
// a patient with nothing scheduled is not behind.
func (c *AdherenceCalculator) Score(ctx context.Context, patientID string, periodDays int) (*types.AdherenceScore, error) {
	if periodDays <= 0 {
		periodDays = c.defaultPeriodDays
	}

	end := c.clock.Now()
	start := end.AddDate(0, 0, -periodDays)

	schedules, err := c.repo.GetActiveSchedulesForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	expected := 0
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		weekday := int(day.Weekday())
		for _, sched := range schedules {
			if sched.DaysOfWeekMask>>weekday&1 == 1 {
				expected++
			}
		}
	}

	taken, err := c.repo.CountTakenEvents(ctx, patientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count taken events: %w", err)
	}

	score := 100.0
	if expected > 0 {
		score = float64(taken) / float64(expected) * 100.0
		if score > 100.0 {
			score = 100.0
		}
	}

	return &types.AdherenceScore{
		PatientID:     patientID,
		PeriodStart:   start,
		PeriodEnd:     end,
		ExpectedDoses: expected,
		TakenDoses:    taken,
		Score:         score,
	}, nil
}
