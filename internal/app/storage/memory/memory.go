package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/audit"
	"github.com/reportengine/disbursement/internal/app/domain/award"
	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/domain/schedule"
	"github.com/reportengine/disbursement/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu                     sync.RWMutex
	nextID                 int64
	awards                 map[string]award.Award
	schedules              map[string]schedule.PaymentSchedule
	schedulesByTransaction map[string]string
	transactions           map[string]disbursement.Transaction
	systemLogs             []audit.SystemLog
}

var _ storage.AwardStore = (*Store)(nil)
var _ storage.ScheduleStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:                 1,
		awards:                 make(map[string]award.Award),
		schedules:              make(map[string]schedule.PaymentSchedule),
		schedulesByTransaction: make(map[string]string),
		transactions:           make(map[string]disbursement.Transaction),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// AwardStore implementation ---------------------------------------------------

func (s *Store) CreateAward(_ context.Context, a award.Award) (award.Award, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.nextIDLocked()
	} else if _, exists := s.awards[a.ID]; exists {
		return award.Award{}, fmt.Errorf("award %s already exists", a.ID)
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	s.awards[a.ID] = a
	return a, nil
}

func (s *Store) UpdateAward(_ context.Context, a award.Award) (award.Award, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.awards[a.ID]
	if !ok {
		return award.Award{}, fmt.Errorf("award %s: %w", a.ID, storage.ErrNotFound)
	}

	a.CreatedAt = original.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	s.awards[a.ID] = a
	return a, nil
}

func (s *Store) GetAward(_ context.Context, id string) (award.Award, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.awards[id]
	if !ok {
		return award.Award{}, fmt.Errorf("award %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListAwards(_ context.Context) ([]award.Award, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]award.Award, 0, len(s.awards))
	for _, a := range s.awards {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ScheduleStore implementation ------------------------------------------------

func (s *Store) CreateSchedule(_ context.Context, sc schedule.PaymentSchedule) (schedule.PaymentSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.ID == "" {
		sc.ID = s.nextIDLocked()
	} else if _, exists := s.schedules[sc.ID]; exists {
		return schedule.PaymentSchedule{}, fmt.Errorf("schedule %s already exists", sc.ID)
	}

	for _, existing := range s.schedules {
		if existing.AwardID == sc.AwardID && existing.PaymentNumber == sc.PaymentNumber {
			return schedule.PaymentSchedule{}, fmt.Errorf("award %s already has payment %d", sc.AwardID, sc.PaymentNumber)
		}
	}

	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	sc.RequiredConditions = append([]string(nil), sc.RequiredConditions...)
	sc.Verifications = cloneVerifications(sc.Verifications)

	s.schedules[sc.ID] = sc
	return cloneSchedule(sc), nil
}

func (s *Store) UpdateSchedule(_ context.Context, sc schedule.PaymentSchedule) (schedule.PaymentSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.schedules[sc.ID]
	if !ok {
		return schedule.PaymentSchedule{}, fmt.Errorf("schedule %s: %w", sc.ID, storage.ErrNotFound)
	}

	sc.CreatedAt = original.CreatedAt
	sc.UpdatedAt = time.Now().UTC()
	sc.RequiredConditions = append([]string(nil), sc.RequiredConditions...)
	sc.Verifications = cloneVerifications(sc.Verifications)

	s.schedules[sc.ID] = sc
	if sc.TransactionID != "" {
		s.schedulesByTransaction[sc.TransactionID] = sc.ID
	}
	return cloneSchedule(sc), nil
}

func (s *Store) GetSchedule(_ context.Context, id string) (schedule.PaymentSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.schedules[id]
	if !ok {
		return schedule.PaymentSchedule{}, fmt.Errorf("schedule %s: %w", id, storage.ErrNotFound)
	}
	return cloneSchedule(sc), nil
}

func (s *Store) GetScheduleByTransaction(_ context.Context, transactionID string) (schedule.PaymentSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.schedulesByTransaction[transactionID]
	if !ok {
		return schedule.PaymentSchedule{}, fmt.Errorf("schedule for transaction %s: %w", transactionID, storage.ErrNotFound)
	}
	return cloneSchedule(s.schedules[id]), nil
}

func (s *Store) ListSchedules(_ context.Context, awardID string) ([]schedule.PaymentSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]schedule.PaymentSchedule, 0)
	for _, sc := range s.schedules {
		if awardID == "" || sc.AwardID == awardID {
			result = append(result, cloneSchedule(sc))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AwardID != result[j].AwardID {
			return result[i].AwardID < result[j].AwardID
		}
		return result[i].PaymentNumber < result[j].PaymentNumber
	})
	return result, nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx disbursement.Transaction) (disbursement.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.TransactionID == "" {
		tx.TransactionID = s.nextIDLocked()
	} else if _, exists := s.transactions[tx.TransactionID]; exists {
		return disbursement.Transaction{}, fmt.Errorf("transaction %s already exists", tx.TransactionID)
	}

	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	tx.SubmissionPayload = cloneMap(tx.SubmissionPayload)
	tx.ResponseData = cloneMap(tx.ResponseData)

	s.transactions[tx.TransactionID] = tx
	return cloneTransaction(tx), nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx disbursement.Transaction) (disbursement.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.transactions[tx.TransactionID]
	if !ok {
		return disbursement.Transaction{}, fmt.Errorf("transaction %s: %w", tx.TransactionID, storage.ErrNotFound)
	}

	tx.CreatedAt = original.CreatedAt
	tx.Amount = original.Amount
	tx.UpdatedAt = time.Now().UTC()
	tx.SubmissionPayload = cloneMap(tx.SubmissionPayload)
	tx.ResponseData = cloneMap(tx.ResponseData)

	s.transactions[tx.TransactionID] = tx
	return cloneTransaction(tx), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (disbursement.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return disbursement.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, awardID string) ([]disbursement.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]disbursement.Transaction, 0)
	for _, tx := range s.transactions {
		if awardID == "" || tx.AwardID == awardID {
			result = append(result, cloneTransaction(tx))
		}
	}
	sortTransactions(result)
	return result, nil
}

func (s *Store) ListTransactionsByStatus(_ context.Context, status disbursement.Status) ([]disbursement.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]disbursement.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.Status == status {
			result = append(result, cloneTransaction(tx))
		}
	}
	sortTransactions(result)
	return result, nil
}

func (s *Store) ListDueTransactions(_ context.Context, status disbursement.Status, from, to time.Time, limit int) ([]disbursement.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]disbursement.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.Status != status {
			continue
		}
		if tx.ScheduledDate.Before(from) || tx.ScheduledDate.After(to) {
			continue
		}
		result = append(result, cloneTransaction(tx))
	}
	sortTransactions(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendSystemLog(_ context.Context, entry audit.SystemLog) (audit.SystemLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = s.nextIDLocked()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.RequestData = cloneMap(entry.RequestData)
	entry.ResponseData = cloneMap(entry.ResponseData)

	s.systemLogs = append(s.systemLogs, entry)
	return entry, nil
}

func (s *Store) ListSystemLogs(_ context.Context, transactionID string) ([]audit.SystemLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]audit.SystemLog, 0)
	for _, entry := range s.systemLogs {
		if transactionID == "" || entry.TransactionID == transactionID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// helpers ----------------------------------------------------------------------

func sortTransactions(txs []disbursement.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].ScheduledDate.Equal(txs[j].ScheduledDate) {
			return txs[i].ScheduledDate.Before(txs[j].ScheduledDate)
		}
		return txs[i].TransactionID < txs[j].TransactionID
	})
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneVerifications(m map[string]schedule.Verification) map[string]schedule.Verification {
	if m == nil {
		return nil
	}
	out := make(map[string]schedule.Verification, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSchedule(sc schedule.PaymentSchedule) schedule.PaymentSchedule {
	sc.RequiredConditions = append([]string(nil), sc.RequiredConditions...)
	sc.Verifications = cloneVerifications(sc.Verifications)
	return sc
}

func cloneTransaction(tx disbursement.Transaction) disbursement.Transaction {
	tx.SubmissionPayload = cloneMap(tx.SubmissionPayload)
	tx.ResponseData = cloneMap(tx.ResponseData)
	if tx.ProcessedDate != nil {
		d := *tx.ProcessedDate
		tx.ProcessedDate = &d
	}
	return tx
}
