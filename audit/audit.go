// Package audit appends workflow lifecycle events to a JSONL file, one
// event per line. The log is append-only; rotation is left to external
// tooling.
package audit

import (
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/types"
	"github.com/miniclaw/miniclaw/workflow"
)

// Log is a workflow.EventSink backed by an append-only JSONL file.
type Log struct {
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// Open opens the audit log at path, creating it if needed.
func Open(path string, logger *zap.Logger) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "open audit log").WithCause(err)
	}
	return &Log{
		logger: logger.With(zap.String("component", "audit")),
		file:   file,
		enc:    json.NewEncoder(file),
	}, nil
}

// Emit implements workflow.EventSink. Write failures are logged, never
// propagated; auditing must not disturb run execution.
func (l *Log) Emit(e workflow.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if err := l.enc.Encode(e); err != nil {
		l.logger.Warn("audit write failed",
			zap.String("run_id", e.RunID),
			zap.String("type", string(e.Type)),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the underlying file. Emit becomes a no-op
// afterwards.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.enc = nil
	return err
}
