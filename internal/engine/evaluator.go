package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/monitoring"
	"github.com/simpiller/adherence/pkg/types"
)

// DueWindowEvaluator scans active schedules on each tick and creates a
// confirmation session for every schedule that is due now within its advance
// window. Ticks may overlap or repeat; the same-day session guard keeps each
// dose opportunity to a single session and a single reminder.
type DueWindowEvaluator struct {
	repo       interfaces.AdherenceRepository
	sessions   *SessionManager
	dispatcher *ReminderDispatcher
	clock      interfaces.Clock
	logger     *logger.Logger
	metrics    *monitoring.MetricsCollector
	defaultTZ  string
}

// NewDueWindowEvaluator creates a new due-window evaluator
func NewDueWindowEvaluator(
	repo interfaces.AdherenceRepository,
	sessions *SessionManager,
	dispatcher *ReminderDispatcher,
	clock interfaces.Clock,
	log *logger.Logger,
	metrics *monitoring.MetricsCollector,
	defaultTZ string,
) *DueWindowEvaluator {
	return &DueWindowEvaluator{
		repo:       repo,
		sessions:   sessions,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     log,
		metrics:    metrics,
		defaultTZ:  defaultTZ,
	}
}

// RunTick evaluates every active, notify-enabled schedule against the current
// time. Per-schedule failures are collected into the result; the batch never
// aborts on a single bad item.
func (ev *DueWindowEvaluator) RunTick(ctx context.Context) (*types.TickResult, error) {
	start := time.Now()
	now := ev.clock.Now()
	result := &types.TickResult{Errors: []string{}}

	schedules, err := ev.repo.GetActiveSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active schedules: %w", err)
	}

	patients := make(map[string]*types.Patient)

	for _, sched := range schedules {
		result.SchedulesChecked++

		patient, ok := patients[sched.PatientID]
		if !ok {
			patient, err = ev.repo.GetPatientByID(ctx, sched.PatientID)
			if err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("schedule %s: patient lookup failed: %v", sched.ID, err))
				continue
			}
			patients[sched.PatientID] = patient
		}

		due, scheduledTime, err := ev.evaluate(sched, patient, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("schedule %s: %v", sched.ID, err))
			continue
		}
		if !due {
			continue
		}

		session, err := ev.sessions.Create(ctx, patient.ID, []string{sched.MedicationID}, sched.ID, scheduledTime)
		if err != nil {
			// A same-day session already exists: this tick is a repeat inside
			// the window, or we lost the create race. Either way, done.
			if errors.Is(err, types.ErrDuplicateSession) {
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("schedule %s: %v", sched.ID, err))
			continue
		}
		result.SessionsCreated++

		if ev.dispatcher == nil || !sched.NotifyEnabled {
			continue
		}
		if _, err := ev.dispatcher.Send(ctx, session, patient); err != nil {
			// Dispatch failure is recorded, not retried here; the next tick
			// would be the retry but the same-day guard already holds the
			// session, so this message is only resent by an operator.
			result.Errors = append(result.Errors, fmt.Sprintf("session %s: dispatch failed: %v", session.ID, err))
			continue
		}
		result.RemindersSent++
	}

	if ev.metrics != nil {
		ev.metrics.RecordJobDuration("due_tick", time.Since(start))
	}
	ev.logger.BatchSummary("due_tick", result.SchedulesChecked, result.SessionsCreated, result.Errors)

	return result, nil
}

// evaluate decides whether a schedule is due at now and, if so, computes the
// concrete scheduled time for today in the patient's timezone. A schedule is
// due iff 0 <= scheduled - current <= advance window, in minutes since
// midnight; the window never wraps across midnight.
func (ev *DueWindowEvaluator) evaluate(sched *types.Schedule, patient *types.Patient, now time.Time) (bool, time.Time, error) {
	if !sched.Active || !sched.NotifyEnabled {
		return false, time.Time{}, nil
	}

	loc, err := ev.location(patient.Timezone)
	if err != nil {
		return false, time.Time{}, err
	}
	localNow := now.In(loc)

	// Weekday bit 0 is Sunday, matching time.Weekday.
	if sched.DaysOfWeekMask>>int(localNow.Weekday())&1 == 0 {
		return false, time.Time{}, nil
	}

	schedMinutes, err := MinutesOfDay(sched.TimeOfDay)
	if err != nil {
		return false, time.Time{}, err
	}
	currentMinutes := localNow.Hour()*60 + localNow.Minute()

	diff := schedMinutes - currentMinutes
	if diff < 0 || diff > sched.AdvanceWindowMinutes {
		return false, time.Time{}, nil
	}

	scheduledTime := time.Date(
		localNow.Year(), localNow.Month(), localNow.Day(),
		schedMinutes/60, schedMinutes%60, 0, 0, loc,
	)
	return true, scheduledTime, nil
}

func (ev *DueWindowEvaluator) location(tz string) (*time.Location, error) {
	if tz == "" {
		tz = ev.defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			fmt.Sprintf("invalid timezone: %q", tz), nil)
	}
	return loc, nil
}
