// Package conditions implements verification of payment preconditions.
// Verifying a condition is the only way a schedule's met-set grows; the set
// is monotone and always a subset of the required set.
package conditions

import (
	"context"
	"strings"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/schedule"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/pkg/logger"
)

// Verifier records condition verifications against payment schedules.
type Verifier struct {
	schedules storage.ScheduleStore
	log       *logger.Logger
	now       func() time.Time
}

// NewVerifier constructs a condition verifier.
func NewVerifier(schedules storage.ScheduleStore, log *logger.Logger) *Verifier {
	if log == nil {
		log = logger.NewDefault("conditions")
	}
	return &Verifier{
		schedules: schedules,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Verify marks a required condition as met, recording who verified it and
// when. Re-verifying an already-met condition is a no-op that preserves the
// original verification timestamp. When the last outstanding condition is
// verified the schedule status advances to conditions_met.
func (v *Verifier) Verify(ctx context.Context, scheduleID, condition, verifiedBy string) (schedule.PaymentSchedule, error) {
	condition = strings.TrimSpace(condition)
	verifiedBy = strings.TrimSpace(verifiedBy)

	sc, err := v.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return schedule.PaymentSchedule{}, err
	}

	if !sc.Requires(condition) {
		return schedule.PaymentSchedule{}, &schedule.UnknownConditionError{ScheduleID: sc.ID, Condition: condition}
	}

	if sc.ConditionMet(condition) {
		return sc, nil
	}

	if sc.Verifications == nil {
		sc.Verifications = make(map[string]schedule.Verification)
	}
	sc.Verifications[condition] = schedule.Verification{
		VerifiedBy: verifiedBy,
		VerifiedAt: v.now(),
	}
	if sc.AllConditionsMet() && sc.Status == schedule.StatusPending {
		sc.Status = schedule.StatusConditionsMet
	}

	sc, err = v.schedules.UpdateSchedule(ctx, sc)
	if err != nil {
		return schedule.PaymentSchedule{}, err
	}

	v.log.WithField("schedule_id", sc.ID).
		WithField("condition", condition).
		WithField("verified_by", verifiedBy).
		WithField("status", sc.Status).
		Info("condition verified")
	return sc, nil
}

// EnsureMet checks that every required condition on the schedule is still
// verified. The batch processor calls this immediately before submission to
// catch schedules that went stale between approval and the batch run.
func (v *Verifier) EnsureMet(ctx context.Context, scheduleID string) error {
	sc, err := v.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if missing := sc.MissingConditions(); len(missing) > 0 {
		return &schedule.ConditionsNotMetError{ScheduleID: sc.ID, Missing: missing}
	}
	return nil
}
