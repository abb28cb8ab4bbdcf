package integration

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/reportengine/disbursement/internal/app/domain/audit"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/internal/config"
	"github.com/reportengine/disbursement/pkg/logger"
)

// Recorder receives external call timings. The metrics registry satisfies
// this; a nil recorder disables instrumentation.
type Recorder interface {
	RecordExternalCall(system string, operation audit.Operation, duration time.Duration, success bool)
}

// Manager owns the adapter registry. Every external call goes through it so
// that rate limits, per-call timeouts, timing and the append-only audit trail
// are applied uniformly no matter which adapter serves the call.
type Manager struct {
	adapters      map[string]Adapter
	limiters      map[string]*rate.Limiter
	timeouts      map[string]time.Duration
	defaultSystem string
	audits        storage.AuditStore
	recorder      Recorder
	log           *logger.Logger
	now           func() time.Time
}

// NewManager builds adapters for every enabled system entry. A misconfigured
// entry fails construction so a bad deployment is caught at startup instead
// of mid-batch.
func NewManager(cfg *config.Config, audits storage.AuditStore, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewDefault("integration")
	}
	m := &Manager{
		adapters:      make(map[string]Adapter),
		limiters:      make(map[string]*rate.Limiter),
		timeouts:      make(map[string]time.Duration),
		defaultSystem: cfg.Integration.DefaultSystem,
		audits:        audits,
		log:           log,
		now:           time.Now,
	}

	for name, sys := range cfg.Systems {
		if !sys.Enabled {
			log.WithField("system", name).Info("system disabled, skipping")
			continue
		}

		var (
			adapter Adapter
			err     error
		)
		switch sys.Type {
		case "banner":
			adapter, err = NewBanner(name, sys)
		case "workday":
			adapter, err = NewWorkday(name, sys)
		default:
			err = &AdapterConfigurationError{System: name, Reason: "unknown adapter type " + sys.Type}
		}
		if err != nil {
			return nil, err
		}

		m.adapters[name] = adapter
		m.timeouts[name] = sys.Timeout()
		if sys.RateLimitPerSecond > 0 {
			burst := int(sys.RateLimitPerSecond)
			if burst < 1 {
				burst = 1
			}
			m.limiters[name] = rate.NewLimiter(rate.Limit(sys.RateLimitPerSecond), burst)
		}
		log.WithField("system", name).WithField("type", sys.Type).Info("registered financial aid system")
	}
	return m, nil
}

// SetRecorder attaches a metrics recorder.
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

// Systems returns the names of the registered systems.
func (m *Manager) Systems() []string {
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	return names
}

// GetAdapter resolves a system name, falling back to the configured default
// when the name is empty.
func (m *Manager) GetAdapter(system string) (Adapter, error) {
	if system == "" {
		system = m.defaultSystem
	}
	if system == "" {
		return nil, &AdapterNotConfiguredError{}
	}
	adapter, ok := m.adapters[system]
	if !ok {
		return nil, &AdapterNotConfiguredError{System: system}
	}
	return adapter, nil
}

// prepare resolves the adapter, applies the rate limit and derives the
// per-call timeout context.
func (m *Manager) prepare(ctx context.Context, system string) (Adapter, context.Context, context.CancelFunc, error) {
	adapter, err := m.GetAdapter(system)
	if err != nil {
		return nil, nil, nil, err
	}
	if limiter, ok := m.limiters[adapter.Name()]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return nil, nil, nil, err
		}
	}
	timeout, ok := m.timeouts[adapter.Name()]
	if !ok || timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	return adapter, callCtx, cancel, nil
}

// record writes the audit row and metrics for one call attempt. The row is
// written even when the call failed; auditability beats tidiness here.
func (m *Manager) record(ctx context.Context, system, transactionID string, op audit.Operation, started time.Time, request, response map[string]any, httpStatus int, callErr error) {
	elapsed := m.now().Sub(started)
	status := audit.StatusSuccess
	if callErr != nil {
		status = audit.StatusFailure
		if response == nil {
			response = map[string]any{}
		}
		response["error"] = callErr.Error()
	}

	entry := audit.SystemLog{
		TransactionID:  transactionID,
		SystemName:     system,
		Operation:      op,
		RequestData:    request,
		ResponseData:   response,
		Status:         status,
		ResponseTimeMS: elapsed.Milliseconds(),
		HTTPStatusCode: httpStatus,
		Timestamp:      started,
	}
	if _, err := m.audits.AppendSystemLog(ctx, entry); err != nil {
		m.log.WithError(err).WithField("system", system).Error("failed to append audit log")
	}
	if m.recorder != nil {
		m.recorder.RecordExternalCall(system, op, elapsed, callErr == nil)
	}
}

// SubmitDisbursement submits one disbursement through the named system,
// auditing the exchange.
func (m *Manager) SubmitDisbursement(ctx context.Context, system, transactionID string, req DisbursementRequest) (SubmitResult, error) {
	adapter, callCtx, cancel, err := m.prepare(ctx, system)
	if err != nil {
		return SubmitResult{}, err
	}
	defer cancel()

	started := m.now()
	result, err := adapter.SubmitDisbursement(callCtx, req)

	request := map[string]any{
		"student_id":       req.StudentID,
		"amount":           req.Amount,
		"fund_code":        req.FundCode,
		"aid_year":         req.AidYear,
		"reference_number": req.ReferenceNumber,
	}
	var response map[string]any
	if err == nil {
		response = map[string]any{
			"success":                 result.Success,
			"external_transaction_id": result.ExternalTransactionID,
			"status":                  result.Status,
			"message":                 result.Message,
		}
	}
	m.record(ctx, adapter.Name(), transactionID, audit.OpSubmit, started, request, response, result.HTTPStatus, err)
	return result, err
}

// CheckDisbursementStatus checks a submitted disbursement's fate.
func (m *Manager) CheckDisbursementStatus(ctx context.Context, system, transactionID, externalID string) (StatusResult, error) {
	adapter, callCtx, cancel, err := m.prepare(ctx, system)
	if err != nil {
		return StatusResult{}, err
	}
	defer cancel()

	started := m.now()
	result, err := adapter.CheckDisbursementStatus(callCtx, externalID)

	request := map[string]any{"external_transaction_id": externalID}
	var response map[string]any
	if err == nil {
		response = map[string]any{"status": result.Status, "message": result.Message}
	}
	m.record(ctx, adapter.Name(), transactionID, audit.OpCheckStatus, started, request, response, result.HTTPStatus, err)
	return result, err
}

// GetStudentAccountInfo fetches a student account record.
func (m *Manager) GetStudentAccountInfo(ctx context.Context, system, studentID string) (AccountInfo, error) {
	adapter, callCtx, cancel, err := m.prepare(ctx, system)
	if err != nil {
		return AccountInfo{}, err
	}
	defer cancel()

	started := m.now()
	info, err := adapter.GetStudentAccountInfo(callCtx, studentID)

	request := map[string]any{"student_id": studentID}
	var response map[string]any
	if err == nil {
		response = map[string]any{
			"enrolled":                  info.Enrolled,
			"holds":                     len(info.Holds),
			"eligible_for_disbursement": info.EligibleForDisbursement,
		}
	}
	m.record(ctx, adapter.Name(), "", audit.OpGetAccount, started, request, response, 0, err)
	return info, err
}

// ValidateStudentEligibility checks whether a student can receive funds.
func (m *Manager) ValidateStudentEligibility(ctx context.Context, system, studentID string) (EligibilityResult, error) {
	adapter, callCtx, cancel, err := m.prepare(ctx, system)
	if err != nil {
		return EligibilityResult{}, err
	}
	defer cancel()

	started := m.now()
	result, err := adapter.ValidateStudentEligibility(callCtx, studentID)

	request := map[string]any{"student_id": studentID}
	var response map[string]any
	if err == nil {
		response = map[string]any{"eligible": result.Eligible, "reasons": result.Reasons}
	}
	m.record(ctx, adapter.Name(), "", audit.OpValidateEligibility, started, request, response, 0, err)
	return result, err
}

// BatchItem pairs a transaction with its canonical submission request.
type BatchItem struct {
	TransactionID string
	Request       DisbursementRequest
}

// BatchOutcome is the per-item result of a batch submission.
type BatchOutcome struct {
	TransactionID string
	Result        SubmitResult
	Err           error
}

// SubmitBatchDisbursements submits items in order through one system. A
// failing item never stops the rest; its error travels in the outcome slot.
func (m *Manager) SubmitBatchDisbursements(ctx context.Context, system string, items []BatchItem) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(items))
	for i, item := range items {
		result, err := m.SubmitDisbursement(ctx, system, item.TransactionID, item.Request)
		outcomes[i] = BatchOutcome{TransactionID: item.TransactionID, Result: result, Err: err}
		if ctx.Err() != nil {
			for j := i + 1; j < len(items); j++ {
				outcomes[j] = BatchOutcome{TransactionID: items[j].TransactionID, Err: ctx.Err()}
			}
			break
		}
	}
	return outcomes
}

// ValidateBatchEligibility checks eligibility for each student. An
// unreachable adapter degrades the verdict to ineligible rather than
// aborting the batch.
func (m *Manager) ValidateBatchEligibility(ctx context.Context, system string, studentIDs []string) map[string]EligibilityResult {
	results := make(map[string]EligibilityResult, len(studentIDs))
	for _, id := range studentIDs {
		result, err := m.ValidateStudentEligibility(ctx, system, id)
		if err != nil {
			m.log.WithError(err).WithField("student_id", id).Warn("eligibility check failed, treating as ineligible")
			result = EligibilityResult{Eligible: false, Reasons: []string{"adapter unreachable"}}
		}
		results[id] = result
	}
	return results
}
