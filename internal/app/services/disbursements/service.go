// Package disbursements owns the transaction lifecycle. All status and
// retry-count mutations for a given transaction flow through this service and
// are serialised by a per-transaction lock, so submitted/processing behave as
// lease states: a concurrent duplicate attempt loses the race and gets an
// InvalidTransitionError instead of double-submitting.
package disbursements

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/pkg/logger"
)

// RetryPolicy bounds automatic resubmission of failed transactions.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy matches the configuration default of three attempts.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 30 * time.Second}

// Recorder receives a signal for every applied state transition. The metrics
// registry satisfies it.
type Recorder interface {
	RecordTransition(to string)
}

// Service applies state machine transitions to disbursement transactions.
type Service struct {
	transactions storage.TransactionStore
	retry        RetryPolicy
	recorder     Recorder
	log          *logger.Logger
	now          func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a disbursements service.
func New(transactions storage.TransactionStore, retry RetryPolicy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("disbursements")
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	return &Service{
		transactions: transactions,
		retry:        retry,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		locks:        make(map[string]*sync.Mutex),
	}
}

// SetRecorder attaches a transition recorder.
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// Retry returns the retry policy in force.
func (s *Service) Retry() RetryPolicy { return s.retry }

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// transition loads the transaction, verifies the state change is legal,
// applies mutate and persists the result, all under the transaction's lock.
func (s *Service) transition(ctx context.Context, id string, to disbursement.Status, mutate func(*disbursement.Transaction)) (disbursement.Transaction, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.transactions.GetTransaction(ctx, id)
	if err != nil {
		return disbursement.Transaction{}, err
	}

	if !tx.Status.CanTransition(to) {
		return disbursement.Transaction{}, &disbursement.InvalidTransitionError{
			TransactionID: tx.TransactionID,
			From:          tx.Status,
			To:            to,
		}
	}

	from := tx.Status
	tx.Status = to
	if mutate != nil {
		mutate(&tx)
	}

	tx, err = s.transactions.UpdateTransaction(ctx, tx)
	if err != nil {
		return disbursement.Transaction{}, err
	}

	if s.recorder != nil {
		s.recorder.RecordTransition(string(to))
	}
	s.log.WithField("transaction_id", tx.TransactionID).
		WithField("from", from).
		WithField("to", to).
		Info("transaction state changed")
	return tx, nil
}

// Approve clears the pre-submission hold: scheduled -> approved. No external
// call is involved.
func (s *Service) Approve(ctx context.Context, id string) (disbursement.Transaction, error) {
	return s.transition(ctx, id, disbursement.StatusApproved, nil)
}

// MarkSubmitted moves a transaction into the submitted lease state, storing
// the payload snapshot sent to the external system. Allowed from approved,
// and from failed as a retry while the retry budget lasts and the policy
// delay since the failure has elapsed.
func (s *Service) MarkSubmitted(ctx context.Context, id string, payload map[string]any) (disbursement.Transaction, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.transactions.GetTransaction(ctx, id)
	if err != nil {
		return disbursement.Transaction{}, err
	}

	if !tx.Status.CanTransition(disbursement.StatusSubmitted) {
		return disbursement.Transaction{}, &disbursement.InvalidTransitionError{
			TransactionID: tx.TransactionID,
			From:          tx.Status,
			To:            disbursement.StatusSubmitted,
		}
	}
	if tx.Status == disbursement.StatusFailed {
		if tx.RetryCount >= s.retry.MaxAttempts {
			return disbursement.Transaction{}, fmt.Errorf("transaction %s: retry budget exhausted after %d attempts", tx.TransactionID, tx.RetryCount)
		}
		if due := tx.UpdatedAt.Add(s.retry.Delay); s.retry.Delay > 0 && s.now().Before(due) {
			return disbursement.Transaction{}, fmt.Errorf("transaction %s: retry not due until %s", tx.TransactionID, due.Format(time.RFC3339))
		}
	}

	from := tx.Status
	tx.Status = disbursement.StatusSubmitted
	tx.SubmissionPayload = payload

	tx, err = s.transactions.UpdateTransaction(ctx, tx)
	if err != nil {
		return disbursement.Transaction{}, err
	}

	if s.recorder != nil {
		s.recorder.RecordTransition(string(tx.Status))
	}
	s.log.WithField("transaction_id", tx.TransactionID).
		WithField("from", from).
		WithField("to", tx.Status).
		Info("transaction state changed")
	return tx, nil
}

// MarkProcessing records acceptance by the external system:
// submitted -> processing. The external transaction ID is set here, at most
// once; a resubmission reusing the same external ID is a no-op on the field.
func (s *Service) MarkProcessing(ctx context.Context, id, externalID string, response map[string]any) (disbursement.Transaction, error) {
	return s.transition(ctx, id, disbursement.StatusProcessing, func(tx *disbursement.Transaction) {
		if tx.ExternalTransactionID == "" {
			tx.ExternalTransactionID = externalID
		}
		tx.ResponseData = response
		tx.ErrorMessage = ""
	})
}

// MarkFailed records a failed submission or processing outcome. The retry
// counter increases on every failure.
func (s *Service) MarkFailed(ctx context.Context, id, message string, response map[string]any) (disbursement.Transaction, error) {
	return s.transition(ctx, id, disbursement.StatusFailed, func(tx *disbursement.Transaction) {
		tx.ErrorMessage = message
		tx.RetryCount++
		if response != nil {
			tx.ResponseData = response
		}
	})
}

// MarkCompleted records terminal success: processing -> completed, with the
// processed date reported by the external system.
func (s *Service) MarkCompleted(ctx context.Context, id string, processedDate time.Time) (disbursement.Transaction, error) {
	if processedDate.IsZero() {
		processedDate = time.Now().UTC()
	}
	return s.transition(ctx, id, disbursement.StatusCompleted, func(tx *disbursement.Transaction) {
		d := processedDate
		tx.ProcessedDate = &d
	})
}

// CanRetry reports whether a failed transaction still has retry budget.
func (s *Service) CanRetry(tx disbursement.Transaction) bool {
	return tx.Status == disbursement.StatusFailed && tx.RetryCount < s.retry.MaxAttempts
}

// Get retrieves a transaction.
func (s *Service) Get(ctx context.Context, id string) (disbursement.Transaction, error) {
	return s.transactions.GetTransaction(ctx, id)
}

// List returns transactions for an award.
func (s *Service) List(ctx context.Context, awardID string) ([]disbursement.Transaction, error) {
	return s.transactions.ListTransactions(ctx, awardID)
}

// ListByStatus returns transactions in a given lifecycle state.
func (s *Service) ListByStatus(ctx context.Context, status disbursement.Status) ([]disbursement.Transaction, error) {
	return s.transactions.ListTransactionsByStatus(ctx, status)
}
