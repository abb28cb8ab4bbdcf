// Package batch submits due, approved disbursement transactions to their
// external financial aid systems. Runs are driven either by the disburse CLI
// or by the cron scheduler in the daemon.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/domain/schedule"
	"github.com/reportengine/disbursement/internal/app/services/conditions"
	"github.com/reportengine/disbursement/internal/app/services/disbursements"
	"github.com/reportengine/disbursement/internal/app/services/integration"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/pkg/logger"
)

// DefaultAccountCode is applied when a transaction carries no account code.
const DefaultAccountCode = "SCHLRSHP"

// ErrAutoSubmitDisabled is returned by Run when automatic submission is
// switched off in configuration. The CLI treats it as a warning, not a
// failure.
var ErrAutoSubmitDisabled = errors.New("automatic submission is disabled in configuration")

// Submitter is the slice of the integration manager the processor needs.
type Submitter interface {
	SubmitDisbursement(ctx context.Context, system, transactionID string, req integration.DisbursementRequest) (integration.SubmitResult, error)
}

// RunRecorder receives the outcome counts of every finished live run. The
// metrics registry satisfies it.
type RunRecorder interface {
	RecordBatchRun(submitted, failed, skipped int)
}

// Settings carries the batch policy from configuration.
type Settings struct {
	AutoSubmitEnabled bool
	BatchSize         int
	Workers           int
}

// Options selects what a single run covers.
type Options struct {
	// DaysAhead widens the due window to [today, today+DaysAhead].
	// Zero means today only.
	DaysAhead int
	// System overrides the per-transaction system for every candidate.
	// Empty keeps each transaction's own system (or the default).
	System string
	// Status selects candidates; defaults to approved.
	Status disbursement.Status
	// Limit caps the number of candidates; zero falls back to the
	// configured batch size.
	Limit int
	// DryRun reports what would be submitted without mutating anything.
	DryRun bool
}

// Failure describes one candidate that could not be submitted.
type Failure struct {
	TransactionID string
	Error         string
}

// Summary is the outcome of one batch run.
type Summary struct {
	Candidates int
	Submitted  int
	Failed     int
	Skipped    int
	Failures   []Failure
}

// Processor drives batch submission runs.
type Processor struct {
	awards       storage.AwardStore
	transactions storage.TransactionStore
	verifier     *conditions.Verifier
	lifecycle    *disbursements.Service
	submitter    Submitter
	settings     Settings
	recorder     RunRecorder
	log          *logger.Logger
	now          func() time.Time
}

// New constructs a batch processor.
func New(awards storage.AwardStore, transactions storage.TransactionStore, verifier *conditions.Verifier, lifecycle *disbursements.Service, submitter Submitter, settings Settings, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.NewDefault("batch")
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	if settings.Workers <= 0 {
		settings.Workers = 4
	}
	return &Processor{
		awards:       awards,
		transactions: transactions,
		verifier:     verifier,
		lifecycle:    lifecycle,
		submitter:    submitter,
		settings:     settings,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder attaches a batch run recorder.
func (p *Processor) SetRecorder(r RunRecorder) { p.recorder = r }

// buildRequest assembles the canonical submission request for a transaction,
// looking up the award for student identity and applying the account code
// default.
func (p *Processor) buildRequest(ctx context.Context, tx disbursement.Transaction) (integration.DisbursementRequest, error) {
	a, err := p.awards.GetAward(ctx, tx.AwardID)
	if err != nil {
		return integration.DisbursementRequest{}, fmt.Errorf("award lookup for transaction %s: %w", tx.TransactionID, err)
	}

	accountCode := tx.AccountCode
	if accountCode == "" {
		accountCode = DefaultAccountCode
	}
	return integration.DisbursementRequest{
		StudentID:        a.Applicant.StudentID,
		Amount:           tx.Amount,
		ScholarshipName:  a.ScholarshipName,
		DisbursementDate: tx.ScheduledDate,
		ReferenceNumber:  "DISB-" + tx.TransactionID,
		AccountCode:      accountCode,
		FundCode:         tx.FundCode,
		AidYear:          disbursement.AidYear(tx.ScheduledDate),
	}, nil
}

func payloadSnapshot(req integration.DisbursementRequest) map[string]any {
	return map[string]any{
		"student_id":        req.StudentID,
		"amount":            req.Amount,
		"scholarship_name":  req.ScholarshipName,
		"disbursement_date": req.DisbursementDate.Format("2006-01-02"),
		"reference_number":  req.ReferenceNumber,
		"account_code":      req.AccountCode,
		"fund_code":         req.FundCode,
		"aid_year":          req.AidYear,
	}
}

// Run executes one batch pass: select due candidates, re-check their payment
// conditions, submit each through the integration manager and record the
// resulting state transitions. Candidates are processed by a bounded worker
// pool; cancellation stops feeding new work and drains what is in flight.
func (p *Processor) Run(ctx context.Context, opts Options) (Summary, error) {
	if !p.settings.AutoSubmitEnabled && !opts.DryRun {
		return Summary{}, ErrAutoSubmitDisabled
	}

	status := opts.Status
	if status == "" {
		status = disbursement.StatusApproved
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = p.settings.BatchSize
	}

	today := p.now().Truncate(24 * time.Hour)
	until := today.AddDate(0, 0, opts.DaysAhead)

	candidates, err := p.transactions.ListDueTransactions(ctx, status, today, until, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("list due transactions: %w", err)
	}

	summary := Summary{Candidates: len(candidates)}
	run := p.log.WithField("candidates", len(candidates)).
		WithField("window_days", opts.DaysAhead).
		WithField("dry_run", opts.DryRun)
	run.Info("batch run started")

	if opts.DryRun {
		for _, tx := range candidates {
			run.WithField("transaction_id", tx.TransactionID).
				WithField("amount", tx.Amount).
				WithField("scheduled_date", tx.ScheduledDate.Format("2006-01-02")).
				Info("would submit")
		}
		return summary, nil
	}

	var (
		mu sync.Mutex
		// Systems that failed with a configuration error are dead for
		// the rest of the run; retrying them per candidate is pointless.
		deadSystems = make(map[string]string)
	)

	fail := func(id, msg string) {
		mu.Lock()
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{TransactionID: id, Error: msg})
		mu.Unlock()
	}

	work := make(chan disbursement.Transaction)
	var wg sync.WaitGroup
	for i := 0; i < p.settings.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range work {
				p.process(ctx, tx, opts.System, deadSystems, &mu, &summary, fail)
			}
		}()
	}

feed:
	for _, tx := range candidates {
		select {
		case <-ctx.Done():
			break feed
		case work <- tx:
		}
	}
	close(work)
	wg.Wait()

	if p.recorder != nil {
		p.recorder.RecordBatchRun(summary.Submitted, summary.Failed, summary.Skipped)
	}
	run.WithField("submitted", summary.Submitted).
		WithField("failed", summary.Failed).
		WithField("skipped", summary.Skipped).
		Info("batch run finished")
	return summary, ctx.Err()
}

func (p *Processor) process(ctx context.Context, tx disbursement.Transaction, systemOverride string, deadSystems map[string]string, mu *sync.Mutex, summary *Summary, fail func(id, msg string)) {
	system := systemOverride
	if system == "" {
		system = tx.FinancialAidSystem
	}

	mu.Lock()
	reason, dead := deadSystems[system]
	mu.Unlock()
	if dead {
		fail(tx.TransactionID, fmt.Sprintf("system %s unavailable: %s", system, reason))
		return
	}

	// Conditions may have been un-met or the schedule reworked since
	// approval; re-check right before money moves.
	if err := p.verifier.EnsureMet(ctx, tx.ScheduleID); err != nil {
		var notMet *schedule.ConditionsNotMetError
		if errors.As(err, &notMet) {
			p.log.WithField("transaction_id", tx.TransactionID).
				WithField("missing", notMet.Missing).
				Warn("conditions no longer met, skipping")
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			return
		}
		fail(tx.TransactionID, err.Error())
		return
	}

	req, err := p.buildRequest(ctx, tx)
	if err != nil {
		fail(tx.TransactionID, err.Error())
		return
	}

	if _, err := p.lifecycle.MarkSubmitted(ctx, tx.TransactionID, payloadSnapshot(req)); err != nil {
		fail(tx.TransactionID, err.Error())
		return
	}

	result, err := p.submitter.SubmitDisbursement(ctx, system, tx.TransactionID, req)
	if err != nil {
		var confErr *integration.AdapterConfigurationError
		var notConfigured *integration.AdapterNotConfiguredError
		if errors.As(err, &confErr) || errors.As(err, &notConfigured) {
			mu.Lock()
			deadSystems[system] = err.Error()
			mu.Unlock()
		}
		if _, markErr := p.lifecycle.MarkFailed(ctx, tx.TransactionID, err.Error(), nil); markErr != nil {
			p.log.WithError(markErr).WithField("transaction_id", tx.TransactionID).Error("failed to record submission failure")
		}
		fail(tx.TransactionID, err.Error())
		return
	}

	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "submission rejected by external system"
		}
		if _, markErr := p.lifecycle.MarkFailed(ctx, tx.TransactionID, msg, map[string]any{"status": result.Status, "http_status": result.HTTPStatus}); markErr != nil {
			p.log.WithError(markErr).WithField("transaction_id", tx.TransactionID).Error("failed to record rejection")
		}
		fail(tx.TransactionID, msg)
		return
	}

	response := map[string]any{
		"status":      result.Status,
		"message":     result.Message,
		"http_status": result.HTTPStatus,
	}
	if _, err := p.lifecycle.MarkProcessing(ctx, tx.TransactionID, result.ExternalTransactionID, response); err != nil {
		fail(tx.TransactionID, err.Error())
		return
	}

	mu.Lock()
	summary.Submitted++
	mu.Unlock()
}
