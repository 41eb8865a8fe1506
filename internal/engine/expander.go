package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/types"
)

// Slot fallback times used when the patient has no preference set.
var slotDefaults = map[string]string{
	"morning":   "06:00:00",
	"afternoon": "12:00:00",
	"evening":   "18:00:00",
}

// ScheduleExpander turns a medication's dosing frequency and the patient's
// time-of-day preferences into concrete schedule rows. Expansion is a full
// replace: all existing schedules for the medication are deleted before the
// new set is inserted, so re-running it is idempotent.
type ScheduleExpander struct {
	repo                 interfaces.AdherenceRepository
	clock                interfaces.Clock
	logger               *logger.Logger
	defaultAdvanceWindow int
}

// NewScheduleExpander creates a new schedule expander
func NewScheduleExpander(repo interfaces.AdherenceRepository, clock interfaces.Clock, log *logger.Logger, defaultAdvanceWindow int) *ScheduleExpander {
	return &ScheduleExpander{
		repo:                 repo,
		clock:                clock,
		logger:               log,
		defaultAdvanceWindow: defaultAdvanceWindow,
	}
}

// Expand computes the schedule set for a medication and persists it as a full
// replace. Unrecognized frequency slots are skipped and logged, never fatal.
func (e *ScheduleExpander) Expand(ctx context.Context, med *types.Medication, patient *types.Patient) ([]*types.Schedule, error) {
	if med == nil || patient == nil {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "medication and patient are required", nil)
	}

	var schedules []*types.Schedule
	for _, raw := range strings.Split(med.Frequency, ",") {
		slot := strings.ToLower(strings.TrimSpace(raw))
		if slot == "" {
			continue
		}

		timeOfDay, ok := e.resolveSlotTime(slot, med, patient)
		if !ok {
			e.logger.WithFields(map[string]interface{}{
				"medication_id": med.ID,
				"slot":          slot,
			}).Warn("Skipping unrecognized frequency slot")
			continue
		}

		normalized, err := NormalizeTimeOfDay(timeOfDay)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"medication_id": med.ID,
				"slot":          slot,
				"time":          timeOfDay,
			}).Warn("Skipping slot with malformed time")
			continue
		}

		schedules = append(schedules, &types.Schedule{
			ID:                   uuid.New().String(),
			MedicationID:         med.ID,
			PatientID:            patient.ID,
			TimeOfDay:            normalized,
			DaysOfWeekMask:       types.EveryDayMask,
			Active:               true,
			AdvanceWindowMinutes: e.defaultAdvanceWindow,
			NotifyEnabled:        true,
			CreatedAt:            e.clock.Now(),
		})
	}

	if err := e.repo.ReplaceSchedules(ctx, med.ID, schedules); err != nil {
		return nil, fmt.Errorf("failed to replace schedules for medication %s: %w", med.ID, err)
	}

	e.logger.WithFields(map[string]interface{}{
		"medication_id": med.ID,
		"patient_id":    patient.ID,
		"schedules":     len(schedules),
	}).Info("Expanded medication schedules")

	return schedules, nil
}

// resolveSlotTime maps a named slot to the patient's preferred time, falling
// back to the fixed default when the preference is unset.
func (e *ScheduleExpander) resolveSlotTime(slot string, med *types.Medication, patient *types.Patient) (string, bool) {
	switch slot {
	case "morning":
		return pickTime(patient.MorningTime, slotDefaults["morning"]), true
	case "afternoon":
		return pickTime(patient.AfternoonTime, slotDefaults["afternoon"]), true
	case "evening":
		return pickTime(patient.EveningTime, slotDefaults["evening"]), true
	case "custom":
		if med.CustomTime == "" {
			return "", false
		}
		return med.CustomTime, true
	default:
		return "", false
	}
}

func pickTime(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// NormalizeTimeOfDay accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func NormalizeTimeOfDay(s string) (string, error) {
	s = strings.TrimSpace(s)

	if t, err := time.Parse("15:04:05", s); err == nil {
		return t.Format("15:04:05"), nil
	}
	if t, err := time.Parse("15:04", s); err == nil {
		return t.Format("15:04:05"), nil
	}

	return "", types.NewValidationError(types.ErrCodeInvalidTime,
		fmt.Sprintf("invalid time of day: %q", s), nil)
}

// MinutesOfDay parses an HH:MM:SS wall-clock value into minutes since
// midnight. Seconds are ignored.
func MinutesOfDay(timeOfDay string) (int, error) {
	t, err := time.Parse("15:04:05", timeOfDay)
	if err != nil {
		return 0, types.NewValidationError(types.ErrCodeInvalidTime,
			fmt.Sprintf("invalid time of day: %q", timeOfDay), nil)
	}
	return t.Hour()*60 + t.Minute(), nil
}
