package disbursements

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/services/integration"
	"github.com/reportengine/disbursement/internal/app/storage/memory"
)

type fakeChecker struct {
	mu      sync.Mutex
	calls   int
	results map[string]integration.StatusResult
	err     error
}

func (f *fakeChecker) CheckDisbursementStatus(ctx context.Context, system, transactionID, externalID string) (integration.StatusResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return integration.StatusResult{}, f.err
	}
	return f.results[externalID], nil
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedProcessing(t *testing.T, store *memory.Store, svc *Service, externalID string) disbursement.Transaction {
	t.Helper()
	ctx := context.Background()
	tx := seedTransaction(t, store, disbursement.StatusScheduled)
	if _, err := svc.Approve(ctx, tx.TransactionID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.MarkSubmitted(ctx, tx.TransactionID, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	tx, err := svc.MarkProcessing(ctx, tx.TransactionID, externalID, nil)
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	return tx
}

func TestPollSettlesCompletedTransactions(t *testing.T) {
	store := memory.New()
	svc := New(store, RetryPolicy{MaxAttempts: 3}, nil)
	tx := seedProcessing(t, store, svc, "EXT-1")

	processed := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)
	checker := &fakeChecker{results: map[string]integration.StatusResult{
		"EXT-1": {Status: integration.StatusCompleted, ProcessedDate: &processed},
	}}
	poller := NewPoller(svc, checker, time.Minute, 0, nil)

	poller.Poll(context.Background())

	current, err := svc.Get(context.Background(), tx.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != disbursement.StatusCompleted {
		t.Fatalf("status %s, want completed", current.Status)
	}
	if current.ProcessedDate == nil || !current.ProcessedDate.Equal(processed) {
		t.Fatalf("processed date %v", current.ProcessedDate)
	}
}

func TestPollMarksFailedAndNotFound(t *testing.T) {
	store := memory.New()
	svc := New(store, RetryPolicy{MaxAttempts: 3}, nil)
	failed := seedProcessing(t, store, svc, "EXT-FAIL")
	missing := seedProcessing(t, store, svc, "EXT-GONE")

	checker := &fakeChecker{results: map[string]integration.StatusResult{
		"EXT-FAIL": {Status: integration.StatusFailed, Message: "fund exhausted"},
		"EXT-GONE": {Status: integration.StatusNotFound},
	}}
	poller := NewPoller(svc, checker, time.Minute, 0, nil)

	poller.Poll(context.Background())

	current, _ := svc.Get(context.Background(), failed.TransactionID)
	if current.Status != disbursement.StatusFailed || current.ErrorMessage != "fund exhausted" {
		t.Fatalf("failed transaction %+v", current)
	}

	gone, _ := svc.Get(context.Background(), missing.TransactionID)
	if gone.Status != disbursement.StatusFailed {
		t.Fatalf("missing transaction status %s", gone.Status)
	}
}

func TestPollLeavesPendingAlone(t *testing.T) {
	store := memory.New()
	svc := New(store, RetryPolicy{MaxAttempts: 3}, nil)
	tx := seedProcessing(t, store, svc, "EXT-1")

	checker := &fakeChecker{results: map[string]integration.StatusResult{
		"EXT-1": {Status: integration.StatusPending},
	}}
	poller := NewPoller(svc, checker, time.Minute, 0, nil)

	poller.Poll(context.Background())

	current, _ := svc.Get(context.Background(), tx.TransactionID)
	if current.Status != disbursement.StatusProcessing {
		t.Fatalf("pending transaction moved to %s", current.Status)
	}
}

func TestPollBacksOffAfterCheckError(t *testing.T) {
	store := memory.New()
	svc := New(store, RetryPolicy{MaxAttempts: 3}, nil)
	seedProcessing(t, store, svc, "EXT-1")

	checker := &fakeChecker{err: &integration.ExternalCallError{System: "banner_prod", Operation: "check status", StatusCode: 502}}
	poller := NewPoller(svc, checker, time.Minute, 0, nil)

	poller.Poll(context.Background())
	// The second pass lands inside the backoff window and must not call out.
	poller.Poll(context.Background())

	if checker.callCount() != 1 {
		t.Fatalf("checker called %d times within backoff window", checker.callCount())
	}
}

func TestPollHonoursConfiguredBackoff(t *testing.T) {
	store := memory.New()
	svc := New(store, RetryPolicy{MaxAttempts: 3}, nil)
	seedProcessing(t, store, svc, "EXT-1")

	checker := &fakeChecker{err: &integration.ExternalCallError{System: "banner_prod", Operation: "check status", StatusCode: 502}}
	poller := NewPoller(svc, checker, time.Minute, 30*time.Second, nil)

	poller.Poll(context.Background())
	poller.Poll(context.Background())
	if checker.callCount() != 1 {
		t.Fatalf("checker called %d times within backoff window", checker.callCount())
	}

	// Once the configured delay has passed the transaction is checked again.
	poller.now = func() time.Time { return time.Now().UTC().Add(31 * time.Second) }
	poller.Poll(context.Background())
	if checker.callCount() != 2 {
		t.Fatalf("checker called %d times after backoff elapsed", checker.callCount())
	}
}
