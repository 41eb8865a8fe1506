package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/simpiller/adherence/pkg/interfaces"
	"github.com/simpiller/adherence/pkg/logger"
	"github.com/simpiller/adherence/pkg/monitoring"
	"github.com/simpiller/adherence/pkg/types"
)

// MixedBucketReason tags rows rewritten because a TAKEN event shared their
// time bucket.
const MixedBucketReason = "taken event present in same time bucket"

// ReconciliationEngine corrects the medication log after the fact: one
// physical scan can evidence several scheduled doses, but the expiry sweep
// may have already recorded some of them as missed. Events are grouped per
// patient into coarse time buckets; a bucket holding both a TAKEN and MISSED
// entries has every MISSED entry rewritten to TAKEN with provenance fields
// preserved for audit. This rewrite is the single sanctioned exception to
// log immutability.
type ReconciliationEngine struct {
	repo    interfaces.AdherenceRepository
	clock   interfaces.Clock
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	bucket  time.Duration
}

// NewReconciliationEngine creates a new reconciliation engine
func NewReconciliationEngine(repo interfaces.AdherenceRepository, clock interfaces.Clock, log *logger.Logger, metrics *monitoring.MetricsCollector, bucketMinutes int) *ReconciliationEngine {
	return &ReconciliationEngine{
		repo:    repo,
		clock:   clock,
		logger:  log,
		metrics: metrics,
		bucket:  time.Duration(bucketMinutes) * time.Minute,
	}
}

// Reconcile runs the correction pass. An empty patientID means the full log
// (catch-up batch); a concrete id is the incremental mode triggered after a
// new confirmation. Both modes are idempotent: a bucket that is all TAKEN, or
// whose rewrites already carry provenance, is a no-op.
func (re *ReconciliationEngine) Reconcile(ctx context.Context, patientID string) (*types.ReconcileResult, error) {
	start := time.Now()
	result := &types.ReconcileResult{Errors: []string{}}

	var patients []string
	if patientID != "" {
		patients = []string{patientID}
	} else {
		ids, err := re.repo.ListEventPatientIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list patients with events: %w", err)
		}
		patients = ids
	}

	now := re.clock.Now()
	for _, pid := range patients {
		if err := re.reconcilePatient(ctx, pid, now, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("patient %s: %v", pid, err))
		}
	}

	if re.metrics != nil {
		re.metrics.RecordLogsReconciled(result.LogsUpdated)
		re.metrics.RecordJobDuration("reconcile", time.Since(start))
	}
	re.logger.BatchSummary("reconcile", result.ProcessedGroups, result.LogsUpdated, result.Errors)

	return result, nil
}

// reconcilePatient groups one patient's events into buckets and rewrites
// mixed buckets. Grouping is per patient by construction, and the bucket key
// is an absolute truncated timestamp, so events from different days can
// never share a bucket.
func (re *ReconciliationEngine) reconcilePatient(ctx context.Context, patientID string, now time.Time, result *types.ReconcileResult) error {
	events, err := re.repo.GetEventsForPatient(ctx, patientID, time.Time{}, now)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	buckets := make(map[time.Time][]*types.MedicationLogEvent)
	for _, ev := range events {
		key := BucketKey(ev.EventTime, re.bucket)
		buckets[key] = append(buckets[key], ev)
	}

	for _, group := range buckets {
		result.ProcessedGroups++

		hasTaken := false
		var missed []*types.MedicationLogEvent
		for _, ev := range group {
			switch ev.Status {
			case types.EventTaken:
				hasTaken = true
			case types.EventMissed:
				missed = append(missed, ev)
			}
		}

		if !hasTaken || len(missed) == 0 {
			continue
		}

		for _, ev := range missed {
			won, err := re.repo.MarkEventTaken(ctx, ev.ID, now, MixedBucketReason)
			if err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("event %s: failed to rewrite: %v", ev.ID, err))
				continue
			}
			if !won {
				// Already rewritten by an overlapping run.
				continue
			}
			result.LogsUpdated++
		}
	}

	return nil
}

// BucketKey floors an event time to its reconciliation bucket (minute rounded
// down to the nearest bucket boundary, e.g. 0/15/30/45 for 15 minutes).
func BucketKey(t time.Time, bucket time.Duration) time.Time {
	return t.Truncate(bucket)
}
