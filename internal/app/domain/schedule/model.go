package schedule

import (
	"fmt"
	"sort"
	"time"
)

// Status tracks a payment schedule entry through condition verification.
type Status string

const (
	// StatusPending means at least one required condition is unmet.
	StatusPending Status = "pending"
	// StatusConditionsMet means every required condition has been verified.
	StatusConditionsMet Status = "conditions_met"
	// StatusDisbursementCreated means a transaction has been linked to the
	// entry. The schedule row is frozen from this point on.
	StatusDisbursementCreated Status = "disbursement_created"
)

// Verification records who verified a condition and when.
type Verification struct {
	VerifiedBy string
	VerifiedAt time.Time
}

// PaymentSchedule is one planned payment of an award. Payment numbers are
// 1-based and unique within an award.
type PaymentSchedule struct {
	ID                 string
	AwardID            string
	PaymentNumber      int
	ScheduledAmount    float64
	ScheduledDate      time.Time
	RequiredConditions []string
	Verifications      map[string]Verification
	Status             Status
	TransactionID      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Requires reports whether the named condition is part of the required set.
func (p PaymentSchedule) Requires(condition string) bool {
	for _, c := range p.RequiredConditions {
		if c == condition {
			return true
		}
	}
	return false
}

// ConditionMet reports whether the named condition has been verified.
func (p PaymentSchedule) ConditionMet(condition string) bool {
	_, ok := p.Verifications[condition]
	return ok
}

// ConditionsMet returns the sorted set of verified condition names. The
// result is always a subset of RequiredConditions.
func (p PaymentSchedule) ConditionsMet() []string {
	met := make([]string, 0, len(p.Verifications))
	for name := range p.Verifications {
		met = append(met, name)
	}
	sort.Strings(met)
	return met
}

// MissingConditions returns required conditions not yet verified, in the
// order they were declared.
func (p PaymentSchedule) MissingConditions() []string {
	var missing []string
	for _, c := range p.RequiredConditions {
		if !p.ConditionMet(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// AllConditionsMet reports whether the verified set equals the required set.
func (p PaymentSchedule) AllConditionsMet() bool {
	return len(p.MissingConditions()) == 0
}

// UnknownConditionError is returned when a verification names a condition
// outside the schedule's required set.
type UnknownConditionError struct {
	ScheduleID string
	Condition  string
}

func (e *UnknownConditionError) Error() string {
	return fmt.Sprintf("condition %q is not required by schedule %s", e.Condition, e.ScheduleID)
}

// ConditionsNotMetError is returned when an operation requires a fully
// verified schedule and one or more conditions are still outstanding.
type ConditionsNotMetError struct {
	ScheduleID string
	Missing    []string
}

func (e *ConditionsNotMetError) Error() string {
	return fmt.Sprintf("schedule %s has unmet conditions: %v", e.ScheduleID, e.Missing)
}
