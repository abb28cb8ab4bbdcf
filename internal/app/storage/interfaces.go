package storage

import (
	"context"
	"errors"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/audit"
	"github.com/reportengine/disbursement/internal/app/domain/award"
	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/domain/schedule"
)

// ErrNotFound is wrapped by store implementations when a record does not
// exist, so callers can map lookups to 404s without parsing messages.
var ErrNotFound = errors.New("not found")

// AwardStore persists scholarship awards.
type AwardStore interface {
	CreateAward(ctx context.Context, a award.Award) (award.Award, error)
	UpdateAward(ctx context.Context, a award.Award) (award.Award, error)
	GetAward(ctx context.Context, id string) (award.Award, error)
	ListAwards(ctx context.Context) ([]award.Award, error)
}

// ScheduleStore persists payment schedule entries.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s schedule.PaymentSchedule) (schedule.PaymentSchedule, error)
	UpdateSchedule(ctx context.Context, s schedule.PaymentSchedule) (schedule.PaymentSchedule, error)
	GetSchedule(ctx context.Context, id string) (schedule.PaymentSchedule, error)
	GetScheduleByTransaction(ctx context.Context, transactionID string) (schedule.PaymentSchedule, error)
	ListSchedules(ctx context.Context, awardID string) ([]schedule.PaymentSchedule, error)
}

// TransactionStore persists disbursement transactions. Transactions are
// never deleted; terminal states are retained for audit.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx disbursement.Transaction) (disbursement.Transaction, error)
	UpdateTransaction(ctx context.Context, tx disbursement.Transaction) (disbursement.Transaction, error)
	GetTransaction(ctx context.Context, id string) (disbursement.Transaction, error)
	ListTransactions(ctx context.Context, awardID string) ([]disbursement.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, status disbursement.Status) ([]disbursement.Transaction, error)

	// ListDueTransactions returns transactions in the given status whose
	// scheduled date falls within [from, to], ordered by scheduled date
	// ascending with transaction ID as a deterministic tie-break. A limit
	// of zero means no limit.
	ListDueTransactions(ctx context.Context, status disbursement.Status, from, to time.Time, limit int) ([]disbursement.Transaction, error)
}

// AuditStore persists financial aid system logs. Append-only by contract:
// implementations must not expose updates or deletes.
type AuditStore interface {
	AppendSystemLog(ctx context.Context, entry audit.SystemLog) (audit.SystemLog, error)
	ListSystemLogs(ctx context.Context, transactionID string) ([]audit.SystemLog, error)
}
