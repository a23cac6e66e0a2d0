// internal/store/inspector.go
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/inspector"
)

// InspectorFiles writes inspector artifacts to a JSON file, replacing the
// previous run's log.
type InspectorFiles struct {
	path   string
	logger *zap.Logger
}

var _ inspector.Sink = (*InspectorFiles)(nil)

func NewInspectorFiles(path string, logger *zap.Logger) *InspectorFiles {
	return &InspectorFiles{path: path, logger: logger.Named("store.inspector")}
}

// SaveInspectorLog implements inspector.Sink.
func (f *InspectorFiles) SaveInspectorLog(ctx context.Context, a *inspector.Artifact) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create inspector output directory: %w", err)
	}
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return writeError("failed to encode inspector log", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return writeError("failed to write inspector log", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return writeError("failed to replace inspector log", err)
	}
	f.logger.Info("Inspector log saved.", zap.String("path", f.path), zap.Int("events", len(a.Events)))
	return nil
}

// LoadInspectorLog reads an artifact written by SaveInspectorLog.
func LoadInspectorLog(path string) (*inspector.Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inspector log: %w", err)
	}
	var a inspector.Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to decode inspector log %s: %w", path, err)
	}
	return &a, nil
}
