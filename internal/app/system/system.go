// Package system manages the lifecycle of long-running background services:
// registration, ordered startup and reverse-ordered shutdown.
package system

import (
	"context"
	"fmt"

	"github.com/reportengine/disbursement/pkg/logger"
)

// Service is a long-running component with an explicit lifecycle. Start must
// return promptly, launching any background work on its own goroutines; Stop
// must not return until that work has drained.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts and stops registered services in order.
type Manager struct {
	services []Service
	log      *logger.Logger
}

// NewManager constructs a service manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register adds a service. Services start in registration order and stop in
// reverse.
func (m *Manager) Register(s Service) {
	m.services = append(m.services, s)
}

// Start starts every registered service. The first failure stops the ones
// already started and aborts.
func (m *Manager) Start(ctx context.Context) error {
	for i, s := range m.services {
		m.log.WithField("service", s.Name()).Info("starting service")
		if err := s.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.services[j].Stop(ctx); stopErr != nil {
					m.log.WithError(stopErr).WithField("service", m.services[j].Name()).Error("stop during failed startup")
				}
			}
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Stop stops every registered service in reverse registration order,
// collecting the first error but stopping all of them regardless.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		s := m.services[i]
		m.log.WithField("service", s.Name()).Info("stopping service")
		if err := s.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", s.Name()).Error("service stop failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", s.Name(), err)
			}
		}
	}
	return firstErr
}
