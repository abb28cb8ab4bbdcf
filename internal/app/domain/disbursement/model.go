package disbursement

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a disbursement transaction.
type Status string

const (
	// StatusScheduled is the initial state after a transaction is created
	// from a fully verified payment schedule entry.
	StatusScheduled Status = "scheduled"
	// StatusApproved is a pre-submission hold cleared manually or by policy.
	StatusApproved Status = "approved"
	// StatusSubmitted means a submission to the external system is in
	// flight. The state doubles as a lease: a second submission attempt is
	// rejected while a transaction sits here.
	StatusSubmitted Status = "submitted"
	// StatusProcessing means the external system accepted the submission
	// and is processing it.
	StatusProcessing Status = "processing"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is reached from submitted or processing. It is terminal
	// once the retry budget is exhausted.
	StatusFailed Status = "failed"
)

// transitions lists the legal state changes. Retry gating on failed ->
// submitted is enforced by the service layer on top of this table.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusApproved},
	StatusApproved:   {StatusSubmitted},
	StatusSubmitted:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusSubmitted},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusApproved, StatusSubmitted, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// InvalidTransitionError reports an illegal state change. It indicates a
// sequencing bug or a lost race, so callers must surface it rather than
// retry.
type InvalidTransitionError struct {
	TransactionID string
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %s: illegal transition %s -> %s", e.TransactionID, e.From, e.To)
}

// Transaction is one attempted payment against an external financial aid
// system. Amount and TransactionID are immutable after creation;
// ExternalTransactionID is set at most once.
type Transaction struct {
	TransactionID         string
	AwardID               string
	ScheduleID            string
	ExternalTransactionID string
	Amount                float64
	ScheduledDate         time.Time
	ProcessedDate         *time.Time
	Status                Status
	FinancialAidSystem    string
	SubmissionPayload     map[string]any
	ResponseData          map[string]any
	ErrorMessage          string
	RetryCount            int
	AccountCode           string
	FundCode              string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AidYear derives the financial aid year code from a disbursement date. Aid
// years roll over on July 1st; September 2026 falls in aid year "2627".
func AidYear(date time.Time) string {
	start := date.Year()
	if date.Month() < time.July {
		start--
	}
	return fmt.Sprintf("%02d%02d", start%100, (start+1)%100)
}

// Terminal reports whether no further automatic transitions apply given the
// configured retry maximum.
func (t Transaction) Terminal(maxRetries int) bool {
	switch t.Status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return t.RetryCount >= maxRetries
	}
	return false
}
