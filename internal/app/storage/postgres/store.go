// Package postgres implements the storage interfaces on PostgreSQL. JSON
// document fields (payloads, verifications, condition lists) are stored in
// JSONB columns; all IDs are generated as UUIDs at insert time.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/reportengine/disbursement/internal/app/domain/audit"
	"github.com/reportengine/disbursement/internal/app/domain/award"
	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/domain/schedule"
	"github.com/reportengine/disbursement/internal/app/storage"
)

// Store is a PostgreSQL-backed implementation of the storage interfaces.
type Store struct {
	db *sqlx.DB
}

var _ storage.AwardStore = (*Store)(nil)
var _ storage.ScheduleStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// Open connects to the database at url and verifies the connection.
func Open(url string) (*Store, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool, primarily for running migrations.
func (s *Store) DB() *sql.DB { return s.db.DB }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return err
}

// AwardStore implementation ---------------------------------------------------

type awardRow struct {
	ID              string       `db:"id"`
	ScholarshipName string       `db:"scholarship_name"`
	StudentID       string       `db:"student_id"`
	StudentName     string       `db:"student_name"`
	NetID           string       `db:"net_id"`
	AwardAmount     float64      `db:"award_amount"`
	AwardDate       sql.NullTime `db:"award_date"`
	Status          string       `db:"status"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r awardRow) toDomain() award.Award {
	a := award.Award{
		ID:              r.ID,
		ScholarshipName: r.ScholarshipName,
		Applicant:       award.Applicant{StudentID: r.StudentID, Name: r.StudentName, NetID: r.NetID},
		AwardAmount:     r.AwardAmount,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.AwardDate.Valid {
		a.AwardDate = r.AwardDate.Time
	}
	return a
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *Store) CreateAward(ctx context.Context, a award.Award) (award.Award, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO awards (id, scholarship_name, student_id, student_name, net_id, award_amount, award_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ScholarshipName, a.Applicant.StudentID, a.Applicant.Name, a.Applicant.NetID,
		a.AwardAmount, nullTime(a.AwardDate), a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return award.Award{}, fmt.Errorf("insert award: %w", err)
	}
	return a, nil
}

func (s *Store) UpdateAward(ctx context.Context, a award.Award) (award.Award, error) {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE awards
		SET scholarship_name = $2, student_id = $3, student_name = $4, net_id = $5,
		    award_amount = $6, award_date = $7, status = $8, updated_at = $9
		WHERE id = $1`,
		a.ID, a.ScholarshipName, a.Applicant.StudentID, a.Applicant.Name, a.Applicant.NetID,
		a.AwardAmount, nullTime(a.AwardDate), a.Status, a.UpdatedAt)
	if err != nil {
		return award.Award{}, fmt.Errorf("update award: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return award.Award{}, fmt.Errorf("award %s: %w", a.ID, storage.ErrNotFound)
	}
	return s.GetAward(ctx, a.ID)
}

func (s *Store) GetAward(ctx context.Context, id string) (award.Award, error) {
	var row awardRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM awards WHERE id = $1`, id)
	if err != nil {
		return award.Award{}, notFound("award", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAwards(ctx context.Context) ([]award.Award, error) {
	var rows []awardRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM awards ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	result := make([]award.Award, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// ScheduleStore implementation ------------------------------------------------

type scheduleRow struct {
	ID                 string            `db:"id"`
	AwardID            string            `db:"award_id"`
	PaymentNumber      int               `db:"payment_number"`
	ScheduledAmount    float64           `db:"scheduled_amount"`
	ScheduledDate      time.Time         `db:"scheduled_date"`
	RequiredConditions jsonStrings       `db:"required_conditions"`
	Verifications      jsonVerifications `db:"verifications"`
	Status             string            `db:"status"`
	TransactionID      string            `db:"transaction_id"`
	CreatedAt          time.Time         `db:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at"`
}

func (r scheduleRow) toDomain() schedule.PaymentSchedule {
	return schedule.PaymentSchedule{
		ID:                 r.ID,
		AwardID:            r.AwardID,
		PaymentNumber:      r.PaymentNumber,
		ScheduledAmount:    r.ScheduledAmount,
		ScheduledDate:      r.ScheduledDate,
		RequiredConditions: r.RequiredConditions,
		Verifications:      r.Verifications,
		Status:             schedule.Status(r.Status),
		TransactionID:      r.TransactionID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (s *Store) CreateSchedule(ctx context.Context, sc schedule.PaymentSchedule) (schedule.PaymentSchedule, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_schedules (id, award_id, payment_number, scheduled_amount, scheduled_date, required_conditions, verifications, status, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sc.ID, sc.AwardID, sc.PaymentNumber, sc.ScheduledAmount, sc.ScheduledDate,
		jsonStrings(sc.RequiredConditions), jsonVerifications(sc.Verifications),
		string(sc.Status), sc.TransactionID, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return schedule.PaymentSchedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc schedule.PaymentSchedule) (schedule.PaymentSchedule, error) {
	sc.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_schedules
		SET scheduled_amount = $2, scheduled_date = $3, required_conditions = $4,
		    verifications = $5, status = $6, transaction_id = $7, updated_at = $8
		WHERE id = $1`,
		sc.ID, sc.ScheduledAmount, sc.ScheduledDate,
		jsonStrings(sc.RequiredConditions), jsonVerifications(sc.Verifications),
		string(sc.Status), sc.TransactionID, sc.UpdatedAt)
	if err != nil {
		return schedule.PaymentSchedule{}, fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.PaymentSchedule{}, fmt.Errorf("schedule %s: %w", sc.ID, storage.ErrNotFound)
	}
	return s.GetSchedule(ctx, sc.ID)
}

func (s *Store) GetSchedule(ctx context.Context, id string) (schedule.PaymentSchedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM payment_schedules WHERE id = $1`, id)
	if err != nil {
		return schedule.PaymentSchedule{}, notFound("schedule", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetScheduleByTransaction(ctx context.Context, transactionID string) (schedule.PaymentSchedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM payment_schedules WHERE transaction_id = $1`, transactionID)
	if err != nil {
		return schedule.PaymentSchedule{}, notFound("schedule for transaction", transactionID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSchedules(ctx context.Context, awardID string) ([]schedule.PaymentSchedule, error) {
	var rows []scheduleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM payment_schedules
		WHERE ($1 = '' OR award_id = $1)
		ORDER BY award_id, payment_number`, awardID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	result := make([]schedule.PaymentSchedule, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// TransactionStore implementation ---------------------------------------------

type transactionRow struct {
	TransactionID         string       `db:"transaction_id"`
	AwardID               string       `db:"award_id"`
	ScheduleID            string       `db:"schedule_id"`
	ExternalTransactionID string       `db:"external_transaction_id"`
	Amount                float64      `db:"amount"`
	ScheduledDate         time.Time    `db:"scheduled_date"`
	ProcessedDate         sql.NullTime `db:"processed_date"`
	Status                string       `db:"status"`
	FinancialAidSystem    string       `db:"financial_aid_system"`
	SubmissionPayload     jsonMap      `db:"submission_payload"`
	ResponseData          jsonMap      `db:"response_data"`
	ErrorMessage          string       `db:"error_message"`
	RetryCount            int          `db:"retry_count"`
	AccountCode           string       `db:"account_code"`
	FundCode              string       `db:"fund_code"`
	CreatedAt             time.Time    `db:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at"`
}

func (r transactionRow) toDomain() disbursement.Transaction {
	tx := disbursement.Transaction{
		TransactionID:         r.TransactionID,
		AwardID:               r.AwardID,
		ScheduleID:            r.ScheduleID,
		ExternalTransactionID: r.ExternalTransactionID,
		Amount:                r.Amount,
		ScheduledDate:         r.ScheduledDate,
		Status:                disbursement.Status(r.Status),
		FinancialAidSystem:    r.FinancialAidSystem,
		SubmissionPayload:     r.SubmissionPayload,
		ResponseData:          r.ResponseData,
		ErrorMessage:          r.ErrorMessage,
		RetryCount:            r.RetryCount,
		AccountCode:           r.AccountCode,
		FundCode:              r.FundCode,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.ProcessedDate.Valid {
		d := r.ProcessedDate.Time
		tx.ProcessedDate = &d
	}
	return tx
}

func processedDate(tx disbursement.Transaction) sql.NullTime {
	if tx.ProcessedDate == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *tx.ProcessedDate, Valid: true}
}

func (s *Store) CreateTransaction(ctx context.Context, tx disbursement.Transaction) (disbursement.Transaction, error) {
	if tx.TransactionID == "" {
		tx.TransactionID = uuid.NewString()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disbursement_transactions (transaction_id, award_id, schedule_id, external_transaction_id, amount, scheduled_date, processed_date, status, financial_aid_system, submission_payload, response_data, error_message, retry_count, account_code, fund_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		tx.TransactionID, tx.AwardID, tx.ScheduleID, tx.ExternalTransactionID,
		tx.Amount, tx.ScheduledDate, processedDate(tx), string(tx.Status), tx.FinancialAidSystem,
		jsonMap(tx.SubmissionPayload), jsonMap(tx.ResponseData),
		tx.ErrorMessage, tx.RetryCount, tx.AccountCode, tx.FundCode, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return disbursement.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

// UpdateTransaction persists mutable transaction state. Amount and created_at
// are deliberately absent from the SET list; they are immutable after
// creation.
func (s *Store) UpdateTransaction(ctx context.Context, tx disbursement.Transaction) (disbursement.Transaction, error) {
	tx.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE disbursement_transactions
		SET external_transaction_id = $2, scheduled_date = $3, processed_date = $4,
		    status = $5, financial_aid_system = $6, submission_payload = $7,
		    response_data = $8, error_message = $9, retry_count = $10,
		    account_code = $11, fund_code = $12, updated_at = $13
		WHERE transaction_id = $1`,
		tx.TransactionID, tx.ExternalTransactionID, tx.ScheduledDate, processedDate(tx),
		string(tx.Status), tx.FinancialAidSystem, jsonMap(tx.SubmissionPayload),
		jsonMap(tx.ResponseData), tx.ErrorMessage, tx.RetryCount,
		tx.AccountCode, tx.FundCode, tx.UpdatedAt)
	if err != nil {
		return disbursement.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return disbursement.Transaction{}, fmt.Errorf("transaction %s: %w", tx.TransactionID, storage.ErrNotFound)
	}
	return s.GetTransaction(ctx, tx.TransactionID)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (disbursement.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM disbursement_transactions WHERE transaction_id = $1`, id)
	if err != nil {
		return disbursement.Transaction{}, notFound("transaction", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListTransactions(ctx context.Context, awardID string) ([]disbursement.Transaction, error) {
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM disbursement_transactions
		WHERE ($1 = '' OR award_id = $1)
		ORDER BY scheduled_date, transaction_id`, awardID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return toDomainTransactions(rows), nil
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, status disbursement.Status) ([]disbursement.Transaction, error) {
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM disbursement_transactions
		WHERE status = $1
		ORDER BY scheduled_date, transaction_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list transactions by status: %w", err)
	}
	return toDomainTransactions(rows), nil
}

func (s *Store) ListDueTransactions(ctx context.Context, status disbursement.Status, from, to time.Time, limit int) ([]disbursement.Transaction, error) {
	query := `
		SELECT * FROM disbursement_transactions
		WHERE status = $1 AND scheduled_date >= $2 AND scheduled_date <= $3
		ORDER BY scheduled_date, transaction_id`
	args := []any{string(status), from, to}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list due transactions: %w", err)
	}
	return toDomainTransactions(rows), nil
}

func toDomainTransactions(rows []transactionRow) []disbursement.Transaction {
	result := make([]disbursement.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

// AuditStore implementation ---------------------------------------------------

type systemLogRow struct {
	ID             string    `db:"id"`
	TransactionID  string    `db:"transaction_id"`
	SystemName     string    `db:"system_name"`
	Operation      string    `db:"operation"`
	RequestData    jsonMap   `db:"request_data"`
	ResponseData   jsonMap   `db:"response_data"`
	Status         string    `db:"status"`
	ResponseTimeMS int64     `db:"response_time_ms"`
	HTTPStatusCode int       `db:"http_status_code"`
	LoggedAt       time.Time `db:"logged_at"`
}

func (r systemLogRow) toDomain() audit.SystemLog {
	return audit.SystemLog{
		ID:             r.ID,
		TransactionID:  r.TransactionID,
		SystemName:     r.SystemName,
		Operation:      audit.Operation(r.Operation),
		RequestData:    r.RequestData,
		ResponseData:   r.ResponseData,
		Status:         audit.Status(r.Status),
		ResponseTimeMS: r.ResponseTimeMS,
		HTTPStatusCode: r.HTTPStatusCode,
		Timestamp:      r.LoggedAt,
	}
}

func (s *Store) AppendSystemLog(ctx context.Context, entry audit.SystemLog) (audit.SystemLog, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO financial_aid_system_logs (id, transaction_id, system_name, operation, request_data, response_data, status, response_time_ms, http_status_code, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.TransactionID, entry.SystemName, string(entry.Operation),
		jsonMap(entry.RequestData), jsonMap(entry.ResponseData),
		string(entry.Status), entry.ResponseTimeMS, entry.HTTPStatusCode, entry.Timestamp)
	if err != nil {
		return audit.SystemLog{}, fmt.Errorf("insert system log: %w", err)
	}
	return entry, nil
}

func (s *Store) ListSystemLogs(ctx context.Context, transactionID string) ([]audit.SystemLog, error) {
	var rows []systemLogRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM financial_aid_system_logs
		WHERE ($1 = '' OR transaction_id = $1)
		ORDER BY logged_at, id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list system logs: %w", err)
	}
	result := make([]audit.SystemLog, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
