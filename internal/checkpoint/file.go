// internal/checkpoint/file.go
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileRepository keeps each key in its own JSON file under a directory.
type FileRepository struct {
	dir    string
	logger *zap.Logger
}

// NewFileRepository creates dir if needed.
func NewFileRepository(dir string, logger *zap.Logger) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileRepository{dir: dir, logger: logger.Named("checkpoint.file")}, nil
}

// fileName maps a key to a file name. Keys that need rewriting get a digest
// suffix so that "plan/a" and "plan_a" stay distinct.
func fileName(key string) string {
	name := unsafeKeyChars.ReplaceAllString(key, "_")
	if name != key {
		sum := sha256.Sum256([]byte(key))
		name += "-" + hex.EncodeToString(sum[:6])
	}
	return name + ".json"
}

func (r *FileRepository) path(key string) string {
	return filepath.Join(r.dir, fileName(key))
}

// Save writes the state atomically through a temp file and rename.
func (r *FileRepository) Save(ctx context.Context, key string, state *ExecutionState) error {
	b, err := encode(key, state)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(r.dir, ".checkpoint-*")
	if err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return &SerializationError{Key: key, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &SerializationError{Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	if err := os.Rename(tmp.Name(), r.path(key)); err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	return nil
}

// Load reads the state for key.
func (r *FileRepository) Load(ctx context.Context, key string) (*ExecutionState, error) {
	b, err := os.ReadFile(r.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	s, err := decode(b)
	if err != nil {
		r.logger.Warn("Ignoring unreadable checkpoint.", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return s, nil
}

// Clear removes the state for key. A missing file is not an error.
func (r *FileRepository) Clear(ctx context.Context, key string) error {
	if err := os.Remove(r.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
