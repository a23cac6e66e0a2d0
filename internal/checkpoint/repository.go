// internal/checkpoint/repository.go
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultKey is the storage key of the single current-state slot.
const DefaultKey = "formpilot_repair_state"

// ErrSerialization marks a checkpoint that could not be encoded or written.
var ErrSerialization = errors.New("checkpoint serialization failed")

// SerializationError reports a failed save for a key.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to save checkpoint %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// Repository stores one execution state per key. Save overwrites. Load
// returns nil without error when the slot is empty or unreadable, so callers
// can start fresh.
type Repository interface {
	Save(ctx context.Context, key string, state *ExecutionState) error
	Load(ctx context.Context, key string) (*ExecutionState, error)
	Clear(ctx context.Context, key string) error
}

func encode(key string, state *ExecutionState) ([]byte, error) {
	if state == nil {
		return nil, &SerializationError{Key: key, Err: errors.New("nil state")}
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, &SerializationError{Key: key, Err: err}
	}
	return b, nil
}

// decode returns nil for payloads that are not a valid state.
func decode(b []byte) (*ExecutionState, error) {
	var s ExecutionState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
