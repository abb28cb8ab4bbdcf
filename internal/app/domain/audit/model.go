// Package audit defines the append-only record of every exchange with an
// external financial aid system. Rows are written once per call attempt and
// never updated; they outlive the transactions they describe.
package audit

import "time"

// Operation names the adapter capability that was invoked.
type Operation string

const (
	OpSubmit              Operation = "submit"
	OpCheckStatus         Operation = "check-status"
	OpGetAccount          Operation = "get-account"
	OpValidateEligibility Operation = "validate-eligibility"
)

// Status is the outcome of the external call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// SystemLog is one immutable audit row.
type SystemLog struct {
	ID             string
	TransactionID  string
	SystemName     string
	Operation      Operation
	RequestData    map[string]any
	ResponseData   map[string]any
	Status         Status
	ResponseTimeMS int64
	HTTPStatusCode int
	Timestamp      time.Time
}
