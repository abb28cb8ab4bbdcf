package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/reportengine/disbursement/pkg/logger"
)

// Scheduler runs batch passes on a cron schedule. It implements the system
// service lifecycle so the daemon can manage it alongside the other
// background services.
type Scheduler struct {
	processor *Processor
	spec      string
	opts      Options
	log       *logger.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewScheduler constructs a scheduler. spec is a standard five-field cron
// expression.
func NewScheduler(processor *Processor, spec string, opts Options, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("batch-scheduler")
	}
	return &Scheduler{processor: processor, spec: spec, opts: opts, log: log}
}

// Name identifies the service.
func (s *Scheduler) Name() string { return "batch-scheduler" }

// Start validates the cron expression and begins scheduling runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(s.spec, func() {
		summary, err := s.processor.Run(context.Background(), s.opts)
		if err != nil {
			s.log.WithError(err).Error("scheduled batch run failed")
			return
		}
		s.log.WithField("submitted", summary.Submitted).
			WithField("failed", summary.Failed).
			WithField("skipped", summary.Skipped).
			Info("scheduled batch run finished")
	})
	if err != nil {
		return fmt.Errorf("invalid batch schedule %q: %w", s.spec, err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.spec).Info("batch scheduler started")
	return nil
}

// Stop halts scheduling and waits for an in-flight run to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	done := s.cron.Stop().Done()
	s.running = false

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
