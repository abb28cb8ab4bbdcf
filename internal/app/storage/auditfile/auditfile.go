// Package auditfile decorates an AuditStore with an append-only JSONL file
// sink, giving compliance a flat-file trail that survives database restores.
package auditfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/reportengine/disbursement/internal/app/domain/audit"
	"github.com/reportengine/disbursement/internal/app/storage"
	"github.com/reportengine/disbursement/pkg/logger"
)

// Store wraps another AuditStore and mirrors every appended row to a file,
// one JSON document per line.
type Store struct {
	inner storage.AuditStore
	log   *logger.Logger

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

var _ storage.AuditStore = (*Store)(nil)

// New opens (or creates) the sink file in append mode.
func New(inner storage.AuditStore, path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefault("auditfile")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &Store{inner: inner, log: log, file: f, enc: json.NewEncoder(f)}, nil
}

// AppendSystemLog appends to the inner store first, then mirrors the stored
// row to the file. A file write failure is logged but never fails the call;
// the database row is the source of truth.
func (s *Store) AppendSystemLog(ctx context.Context, entry audit.SystemLog) (audit.SystemLog, error) {
	stored, err := s.inner.AppendSystemLog(ctx, entry)
	if err != nil {
		return audit.SystemLog{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(stored); err != nil {
		s.log.WithError(err).Error("failed to mirror audit row to file")
	}
	return stored, nil
}

// ListSystemLogs delegates to the inner store.
func (s *Store) ListSystemLogs(ctx context.Context, transactionID string) ([]audit.SystemLog, error) {
	return s.inner.ListSystemLogs(ctx, transactionID)
}

// Close flushes and closes the sink file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
