package disbursements

import (
	"context"
	"sync"
	"time"

	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/services/integration"
	"github.com/reportengine/disbursement/pkg/logger"
)

// StatusChecker is the slice of the integration manager the poller needs.
type StatusChecker interface {
	CheckDisbursementStatus(ctx context.Context, system, transactionID, externalID string) (integration.StatusResult, error)
}

// Poller periodically asks external systems about transactions stuck in
// processing and settles them to completed or failed. Transactions whose
// check failed are retried with a per-transaction backoff instead of on
// every tick.
type Poller struct {
	lifecycle *Service
	checker   StatusChecker
	interval  time.Duration
	backoff   time.Duration
	log       *logger.Logger
	now       func() time.Time

	mu          sync.Mutex
	running     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	nextAttempt map[string]time.Time
}

// NewPoller constructs a status poller. backoff spaces repeated checks of a
// transaction whose last check errored; the caller derives it from the
// system's retry delay.
func NewPoller(lifecycle *Service, checker StatusChecker, interval, backoff time.Duration, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewDefault("status-poller")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if backoff <= 0 {
		backoff = 5 * time.Minute
	}
	return &Poller{
		lifecycle:   lifecycle,
		checker:     checker,
		interval:    interval,
		backoff:     backoff,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		nextAttempt: make(map[string]time.Time),
	}
}

// Name identifies the service.
func (p *Poller) Name() string { return "status-poller" }

// Start launches the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.stop = make(chan struct{})
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.Poll(context.Background())
			}
		}
	}()

	p.log.WithField("interval", p.interval.String()).Info("status poller started")
	return nil
}

// Stop halts the polling loop and waits for an in-flight pass to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	close(p.stop)
	p.running = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll runs one pass over all processing transactions.
func (p *Poller) Poll(ctx context.Context) {
	processing, err := p.lifecycle.ListByStatus(ctx, disbursement.StatusProcessing)
	if err != nil {
		p.log.WithError(err).Error("failed to list processing transactions")
		return
	}

	now := p.now()
	for _, tx := range processing {
		if tx.ExternalTransactionID == "" {
			continue
		}
		p.mu.Lock()
		next, deferred := p.nextAttempt[tx.TransactionID]
		p.mu.Unlock()
		if deferred && now.Before(next) {
			continue
		}
		p.check(ctx, tx)
	}
}

func (p *Poller) deferCheck(transactionID string) {
	p.mu.Lock()
	p.nextAttempt[transactionID] = p.now().Add(p.backoff)
	p.mu.Unlock()
}

func (p *Poller) clearDeferral(transactionID string) {
	p.mu.Lock()
	delete(p.nextAttempt, transactionID)
	p.mu.Unlock()
}

func (p *Poller) check(ctx context.Context, tx disbursement.Transaction) {
	result, err := p.checker.CheckDisbursementStatus(ctx, tx.FinancialAidSystem, tx.TransactionID, tx.ExternalTransactionID)
	if err != nil {
		p.log.WithError(err).WithField("transaction_id", tx.TransactionID).Warn("status check failed, deferring")
		p.deferCheck(tx.TransactionID)
		return
	}

	log := p.log.WithField("transaction_id", tx.TransactionID).
		WithField("external_id", tx.ExternalTransactionID).
		WithField("external_status", result.Status)

	switch result.Status {
	case integration.StatusCompleted:
		processed := time.Time{}
		if result.ProcessedDate != nil {
			processed = *result.ProcessedDate
		}
		if _, err := p.lifecycle.MarkCompleted(ctx, tx.TransactionID, processed); err != nil {
			log.WithError(err).Error("failed to record completion")
			return
		}
		p.clearDeferral(tx.TransactionID)
		log.Info("disbursement completed")
	case integration.StatusFailed:
		msg := result.Message
		if msg == "" {
			msg = "external system reported failure"
		}
		if _, err := p.lifecycle.MarkFailed(ctx, tx.TransactionID, msg, nil); err != nil {
			log.WithError(err).Error("failed to record failure")
			return
		}
		p.clearDeferral(tx.TransactionID)
		log.Warn("disbursement failed in external system")
	case integration.StatusNotFound:
		// The external system has no record: treat as failed so the
		// transaction becomes retryable rather than stuck forever.
		if _, err := p.lifecycle.MarkFailed(ctx, tx.TransactionID, "external system has no record of transaction", nil); err != nil {
			log.WithError(err).Error("failed to record missing transaction")
			return
		}
		p.clearDeferral(tx.TransactionID)
		log.Warn("external system has no record of transaction")
	default:
		// Still pending; check again next tick.
	}
}
