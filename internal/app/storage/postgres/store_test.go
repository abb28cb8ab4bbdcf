package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/reportengine/disbursement/internal/app/domain/audit"
	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateTransactionGeneratesID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO disbursement_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := store.CreateTransaction(context.Background(), disbursement.Transaction{
		AwardID:       "award-1",
		ScheduleID:    "sched-1",
		Amount:        1500,
		ScheduledDate: time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		Status:        disbursement.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.TransactionID == "" {
		t.Fatal("transaction id not generated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM disbursement_transactions WHERE transaction_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}))

	_, err := store.GetTransaction(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTransactionScansJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"transaction_id", "award_id", "schedule_id", "amount", "scheduled_date",
		"status", "submission_payload", "retry_count", "created_at", "updated_at",
	}).AddRow(
		"tx-1", "award-1", "sched-1", 1666.66, now,
		"submitted", []byte(`{"student_id":"12345678"}`), 0, now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM disbursement_transactions WHERE transaction_id").
		WithArgs("tx-1").
		WillReturnRows(rows)

	tx, err := store.GetTransaction(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.SubmissionPayload["student_id"] != "12345678" {
		t.Fatalf("payload %v", tx.SubmissionPayload)
	}
	if tx.Status != disbursement.StatusSubmitted {
		t.Fatalf("status %s", tx.Status)
	}
}

func TestListDueTransactionsAppliesLimit(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	mock.ExpectQuery("(?s)SELECT \\* FROM disbursement_transactions.*ORDER BY scheduled_date, transaction_id.*LIMIT").
		WithArgs("approved", from, to, 25).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}))

	if _, err := store.ListDueTransactions(context.Background(), disbursement.StatusApproved, from, to, 25); err != nil {
		t.Fatalf("list due: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateTransactionMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE disbursement_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateTransaction(context.Background(), disbursement.Transaction{TransactionID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendSystemLogInsertsRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO financial_aid_system_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry, err := store.AppendSystemLog(context.Background(), audit.SystemLog{
		TransactionID: "tx-1",
		SystemName:    "banner_prod",
		Operation:     audit.OpSubmit,
		RequestData:   map[string]any{"student_id": "1"},
		Status:        audit.StatusSuccess,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Fatalf("entry defaults not applied: %+v", entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
