// internal/store/file.go
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileLog keeps the execution log in a single JSON file.
type FileLog struct {
	path   string
	limit  int
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileLog stores the log as execution-log.json under dir.
func NewFileLog(dir string, limit int, logger *zap.Logger) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileLog{
		path:   filepath.Join(dir, "execution-log.json"),
		limit:  limit,
		logger: logger.Named("store.file"),
	}, nil
}

func (l *FileLog) read() ([]Entry, error) {
	b, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution log: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		l.logger.Warn("Execution log is unreadable; starting a new one.", zap.Error(err))
		return nil, nil
	}
	return entries, nil
}

// Append prepends e and drops entries past the limit.
func (l *FileLog) Append(ctx context.Context, e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append([]Entry{*e}, entries...)
	if l.limit > 0 && len(entries) > l.limit {
		entries = entries[:l.limit]
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return writeError("failed to encode execution log", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return writeError("failed to write execution log", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return writeError("failed to replace execution log", err)
	}
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit returns all.
func (l *FileLog) List(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.read()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
