// Package integration talks to external financial aid systems. Every system
// sits behind the Adapter capability interface; concrete implementations are
// selected by the configuration `type` key through a registry rather than a
// class hierarchy, and the manager wraps each call with timing and an
// append-only audit row.
package integration

import (
	"context"
	"time"
)

// DisbursementRequest is the canonical submission shape. Field names are
// canonical across adapters; each adapter owns the translation to its
// vendor's wire encoding.
type DisbursementRequest struct {
	StudentID        string
	Amount           float64
	ScholarshipName  string
	DisbursementDate time.Time
	ReferenceNumber  string
	AccountCode      string
	FundCode         string
	AidYear          string
}

// SubmitResult is the canonical outcome of a submission. Business rejections
// are reported with Success=false rather than an error; transport-level
// problems surface as ExternalCallError from the adapter instead.
type SubmitResult struct {
	Success               bool
	ExternalTransactionID string
	Status                string
	Message               string
	HTTPStatus            int
}

// Disbursement status values reported by CheckDisbursementStatus after
// vendor translation.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)

// StatusResult is the canonical outcome of a status check. Unknown external
// IDs are reported as StatusNotFound, never as an error.
type StatusResult struct {
	ExternalTransactionID string
	Status                string
	ProcessedDate         *time.Time
	Message               string
	HTTPStatus            int
}

// AccountInfo is the canonical student account record.
type AccountInfo struct {
	StudentID               string
	AccountBalance          float64
	Holds                   []string
	Enrolled                bool
	EligibleForDisbursement bool
}

// EligibilityResult reports whether a student may receive a disbursement.
type EligibilityResult struct {
	Eligible bool
	Reasons  []string
}

// HistoryRecord is one prior disbursement known to the external system.
type HistoryRecord struct {
	ExternalTransactionID string
	Amount                float64
	Status                string
	DisbursedAt           time.Time
	Description           string
}

// HistoryCursor walks a student's disbursement history lazily, following the
// external system's own pagination. Cursors are finite and not restartable.
type HistoryCursor interface {
	// Next returns the next record. ok is false once the history is
	// exhausted or after an error.
	Next(ctx context.Context) (record HistoryRecord, ok bool, err error)
}

// Adapter is the capability set every external financial aid system must
// provide. Implementations own their authentication setup and their
// request/response translation; callers only ever see the canonical shapes
// above.
type Adapter interface {
	Name() string
	SubmitDisbursement(ctx context.Context, req DisbursementRequest) (SubmitResult, error)
	CheckDisbursementStatus(ctx context.Context, externalTransactionID string) (StatusResult, error)
	GetStudentAccountInfo(ctx context.Context, studentID string) (AccountInfo, error)
	ValidateStudentEligibility(ctx context.Context, studentID string) (EligibilityResult, error)
	DisbursementHistory(studentID string) HistoryCursor
}
