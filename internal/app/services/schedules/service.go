// Package schedules manages per-award payment plans: creating schedule
// entries when an award is finalised and turning fully verified entries into
// disbursement transactions.
package schedules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/domain/schedule"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/pkg/logger"
)

// Approver clears the pre-submission hold on a transaction. The
// disbursements service satisfies it.
type Approver interface {
	Approve(ctx context.Context, id string) (disbursement.Transaction, error)
}

// Service coordinates award payment plans.
type Service struct {
	awards       storage.AwardStore
	schedules    storage.ScheduleStore
	transactions storage.TransactionStore
	approver     Approver
	log          *logger.Logger
}

// New constructs a schedules service.
func New(awards storage.AwardStore, schedules storage.ScheduleStore, transactions storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("schedules")
	}
	return &Service{
		awards:       awards,
		schedules:    schedules,
		transactions: transactions,
		log:          log,
	}
}

// SetApprover enables automatic approval of newly created transactions. When
// unset, transactions stay scheduled until approved explicitly, which is the
// require_manual_approval behavior.
func (s *Service) SetApprover(a Approver) { s.approver = a }

// CreatePlan splits an award's amount evenly across the given disbursement
// dates and creates one pending schedule entry per date. Amounts are rounded
// to cents with the final installment absorbing the remainder so the entries
// sum exactly to the award amount. Every entry carries the same required
// condition set.
func (s *Service) CreatePlan(ctx context.Context, awardID string, dates []time.Time, requiredConditions []string) ([]schedule.PaymentSchedule, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("at least one disbursement date is required")
	}

	a, err := s.awards.GetAward(ctx, awardID)
	if err != nil {
		return nil, fmt.Errorf("award lookup failed: %w", err)
	}
	if a.AwardAmount <= 0 {
		return nil, fmt.Errorf("award %s has non-positive amount", awardID)
	}

	existing, err := s.schedules.ListSchedules(ctx, awardID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("award %s already has a payment plan", awardID)
	}

	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	installment := math.Floor(a.AwardAmount/float64(len(sorted))*100) / 100
	remainder := a.AwardAmount - installment*float64(len(sorted)-1)

	created := make([]schedule.PaymentSchedule, 0, len(sorted))
	for i, date := range sorted {
		amount := installment
		if i == len(sorted)-1 {
			amount = math.Round(remainder*100) / 100
		}
		sc, err := s.schedules.CreateSchedule(ctx, schedule.PaymentSchedule{
			AwardID:            awardID,
			PaymentNumber:      i + 1,
			ScheduledAmount:    amount,
			ScheduledDate:      date,
			RequiredConditions: requiredConditions,
			Status:             schedule.StatusPending,
		})
		if err != nil {
			return nil, fmt.Errorf("create payment %d: %w", i+1, err)
		}
		created = append(created, sc)
	}

	s.log.WithField("award_id", awardID).
		WithField("payments", len(created)).
		Info("payment plan created")
	return created, nil
}

// CreateTransaction turns a fully verified schedule entry into a scheduled
// disbursement transaction and links the two. The schedule must have reached
// conditions_met; attempting earlier fails with ConditionsNotMetError.
// Exactly one transaction may ever be linked to a schedule entry. With an
// approver attached the new transaction is approved immediately.
func (s *Service) CreateTransaction(ctx context.Context, scheduleID, system string) (disbursement.Transaction, error) {
	sc, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return disbursement.Transaction{}, err
	}

	if sc.TransactionID != "" {
		return disbursement.Transaction{}, fmt.Errorf("schedule %s already linked to transaction %s", sc.ID, sc.TransactionID)
	}
	if sc.Status != schedule.StatusConditionsMet {
		return disbursement.Transaction{}, &schedule.ConditionsNotMetError{ScheduleID: sc.ID, Missing: sc.MissingConditions()}
	}

	tx, err := s.transactions.CreateTransaction(ctx, disbursement.Transaction{
		TransactionID:      uuid.NewString(),
		AwardID:            sc.AwardID,
		ScheduleID:         sc.ID,
		Amount:             sc.ScheduledAmount,
		ScheduledDate:      sc.ScheduledDate,
		Status:             disbursement.StatusScheduled,
		FinancialAidSystem: system,
	})
	if err != nil {
		return disbursement.Transaction{}, err
	}

	sc.TransactionID = tx.TransactionID
	sc.Status = schedule.StatusDisbursementCreated
	if _, err := s.schedules.UpdateSchedule(ctx, sc); err != nil {
		return disbursement.Transaction{}, fmt.Errorf("link transaction to schedule: %w", err)
	}

	if s.approver != nil {
		tx, err = s.approver.Approve(ctx, tx.TransactionID)
		if err != nil {
			return disbursement.Transaction{}, fmt.Errorf("auto-approve transaction: %w", err)
		}
	}

	s.log.WithField("schedule_id", sc.ID).
		WithField("transaction_id", tx.TransactionID).
		WithField("amount", tx.Amount).
		WithField("status", tx.Status).
		Info("disbursement transaction created")
	return tx, nil
}

// Get retrieves a schedule entry.
func (s *Service) Get(ctx context.Context, scheduleID string) (schedule.PaymentSchedule, error) {
	return s.schedules.GetSchedule(ctx, scheduleID)
}

// GetByTransaction retrieves the schedule entry a transaction was created
// from.
func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (schedule.PaymentSchedule, error) {
	return s.schedules.GetScheduleByTransaction(ctx, transactionID)
}

// List returns schedule entries for an award ordered by payment number.
func (s *Service) List(ctx context.Context, awardID string) ([]schedule.PaymentSchedule, error) {
	return s.schedules.ListSchedules(ctx, awardID)
}
