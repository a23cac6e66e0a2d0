// internal/checkpoint/checkpoint_test.go
package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

func sampleState() *ExecutionState {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	return &ExecutionState{
		Timestamp:     ts,
		RowIndex:      2,
		ActionIndex:   1,
		TotalRows:     5,
		TotalActions:  4,
		CurrentAction: &plan.Action{Type: plan.ActionFill, Target: "fullName", Value: "Alice"},
		DataRow:       plan.Row{"name": "Alice", "age": 31.0, "active": true},
		PageURL:       "https://example.com/form",
		PageTitle:     "Registration",
		FailureMetadata: &FailureMetadata{
			ID:        "01J0000000000000000000000",
			Timestamp: ts,
			Error:     "element not found: field \"fullName\"",
			Category:  "element_not_found",
			Severity:  "medium",
			Reason:    "The target element was not found on the page.",
			Context:   map[string]any{"action": "fill", "target": "fullName"},
		},
		Viewport: Viewport{Width: 1280, Height: 720},
	}
}

// repositories returns every embedded medium, fresh for each test.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	logger := zaptest.NewLogger(t)
	file, err := NewFileRepository(t.TempDir(), logger)
	require.NoError(t, err)
	lite, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "cp.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })
	mem, err := NewSQLiteRepository(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	return map[string]Repository{"file": file, "sqlite": lite, "sqlite-memory": mem}
}

func TestRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleState()
			require.NoError(t, repo.Save(ctx, DefaultKey, want))

			got, err := repo.Load(ctx, DefaultKey)
			require.NoError(t, err)
			require.NotNil(t, got)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRepository_RoundTripPausedWithoutAction(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	states := map[string]*ExecutionState{
		"failure indicator": {
			Timestamp: ts, RowIndex: 0, ActionIndex: 2, TotalRows: 1, TotalActions: 2,
			DataRow: plan.Row{},
			FailureMetadata: &FailureMetadata{
				ID: "01J0000000000000000000001", Timestamp: ts, Error: "failure indicator matched",
				Category: "form_validation", Severity: "high", Context: map[string]any{},
			},
		},
		"requested pause": {
			Timestamp: ts, TotalRows: 1, TotalActions: 2, DataRow: plan.Row{},
		},
		"nil row": {
			Timestamp: ts, TotalRows: 1,
			FailureMetadata: &FailureMetadata{ID: "01J0000000000000000000002", Timestamp: ts, Category: "page_loading"},
		},
	}
	for name, repo := range repositories(t) {
		for shape, want := range states {
			t.Run(name+"/"+shape, func(t *testing.T) {
				require.NoError(t, repo.Save(ctx, DefaultKey, want))
				got, err := repo.Load(ctx, DefaultKey)
				require.NoError(t, err)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("round trip mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestRepository_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			first := sampleState()
			require.NoError(t, repo.Save(ctx, DefaultKey, first))

			second := sampleState()
			second.RowIndex, second.ActionIndex = 3, 0
			require.NoError(t, repo.Save(ctx, DefaultKey, second))

			got, err := repo.Load(ctx, DefaultKey)
			require.NoError(t, err)
			assert.Equal(t, 3, got.RowIndex)
			assert.Equal(t, 0, got.ActionIndex)
		})
	}
}

func TestRepository_MissingAndCleared(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			got, err := repo.Load(ctx, "never-saved")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, repo.Save(ctx, DefaultKey, sampleState()))
			require.NoError(t, repo.Clear(ctx, DefaultKey))
			require.NoError(t, repo.Clear(ctx, DefaultKey), "clearing twice is fine")

			got, err = repo.Load(ctx, DefaultKey)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestRepository_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			a := sampleState()
			b := sampleState()
			b.RowIndex = 4
			require.NoError(t, repo.Save(ctx, "plan/a", a))
			require.NoError(t, repo.Save(ctx, "plan/b", b))

			got, err := repo.Load(ctx, "plan/a")
			require.NoError(t, err)
			assert.Equal(t, 2, got.RowIndex)

			c := sampleState()
			c.RowIndex = 3
			require.NoError(t, repo.Save(ctx, "plan_a", c))
			got, err = repo.Load(ctx, "plan/a")
			require.NoError(t, err)
			assert.Equal(t, 2, got.RowIndex, "sanitized keys do not collide")
			got, err = repo.Load(ctx, "plan_a")
			require.NoError(t, err)
			assert.Equal(t, 3, got.RowIndex)
		})
	}
}

func TestRepository_NilStateIsSerializationError(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			err := repo.Save(context.Background(), DefaultKey, nil)
			assert.ErrorIs(t, err, ErrSerialization)
			var serr *SerializationError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, DefaultKey, serr.Key)
		})
	}
}

func TestFileRepository_CorruptIsIgnored(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zap.WarnLevel)
	repo, err := NewFileRepository(dir, zap.New(core))
	require.NoError(t, err)

	for _, payload := range []string{`{"rowIndex":`, `{"rowIndex":9,"totalRows":2}`, `[]`} {
		require.NoError(t, os.WriteFile(repo.path(DefaultKey), []byte(payload), 0o600))
		got, err := repo.Load(context.Background(), DefaultKey)
		require.NoError(t, err, payload)
		assert.Nil(t, got, payload)
	}
	assert.Equal(t, 3, logs.FilterMessage("Ignoring unreadable checkpoint.").Len())
}

func TestFileRepository_SaveFailsWhenDirIsGone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cp")
	repo, err := NewFileRepository(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	err = repo.Save(context.Background(), DefaultKey, sampleState())
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestExecutionState_Validate(t *testing.T) {
	valid := sampleState()
	require.NoError(t, valid.Validate())

	end := sampleState()
	end.ActionIndex = end.TotalActions
	assert.NoError(t, end.Validate(), "actionIndex may equal totalActions")

	for name, mutate := range map[string]func(s *ExecutionState){
		"no rows":             func(s *ExecutionState) { s.TotalRows = 0 },
		"row past end":        func(s *ExecutionState) { s.RowIndex = s.TotalRows },
		"negative row":        func(s *ExecutionState) { s.RowIndex = -1 },
		"action past end":     func(s *ExecutionState) { s.ActionIndex = s.TotalActions + 1 },
		"negative action idx": func(s *ExecutionState) { s.ActionIndex = -1 },
	} {
		s := sampleState()
		mutate(s)
		assert.Error(t, s.Validate(), name)
	}
}

func TestParseDecisionAction(t *testing.T) {
	for _, s := range []string{"continue", "retry", "skip_row", "abort", "manual_fix"} {
		a, err := ParseDecisionAction(s)
		require.NoError(t, err)
		assert.Equal(t, DecisionAction(s), a)
	}
	_, err := ParseDecisionAction("restart")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	repo, closeFn, err := Open(ctx, config.CheckpointConfig{Driver: "file", Path: t.TempDir()}, config.DatabaseConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, repo)
	closeFn()

	repo, closeFn, err = Open(ctx, config.CheckpointConfig{Driver: "sqlite", Path: t.TempDir()}, config.DatabaseConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteRepository{}, repo)
	closeFn()

	_, _, err = Open(ctx, config.CheckpointConfig{Driver: "postgres"}, config.DatabaseConfig{}, logger)
	assert.ErrorContains(t, err, "database.url")

	_, _, err = Open(ctx, config.CheckpointConfig{Driver: "redis"}, config.DatabaseConfig{}, logger)
	assert.Error(t, err)
}

// flexibleSQLMatcher makes an expectation insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(strings.TrimSpace(sql)), `\s+`)
}

func newPostgresRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	mock.ExpectExec(flexibleSQLMatcher(pgCreateTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	repo, err := NewPostgresRepository(context.Background(), mock, zaptest.NewLogger(t))
	require.NoError(t, err)
	return repo, mock
}

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("PingFailure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		pingErr := errors.New("database unavailable")
		mock.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresRepository(ctx, mock, zap.NewNop())
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		repo, mock := newPostgresRepo(t)
		want := sampleState()
		payload, err := encode(DefaultKey, want)
		require.NoError(t, err)

		mock.ExpectExec(flexibleSQLMatcher(pgUpsert)).
			WithArgs(DefaultKey, string(payload)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery(flexibleSQLMatcher(pgSelect)).
			WithArgs(DefaultKey).
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

		require.NoError(t, repo.Save(ctx, DefaultKey, want))
		got, err := repo.Load(ctx, DefaultKey)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SaveFailureIsSerializationError", func(t *testing.T) {
		repo, mock := newPostgresRepo(t)
		mock.ExpectExec(flexibleSQLMatcher(pgUpsert)).
			WithArgs(DefaultKey, pgxmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		err := repo.Save(ctx, DefaultKey, sampleState())
		assert.ErrorIs(t, err, ErrSerialization)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingAndCorrupt", func(t *testing.T) {
		repo, mock := newPostgresRepo(t)
		mock.ExpectQuery(flexibleSQLMatcher(pgSelect)).
			WithArgs(DefaultKey).
			WillReturnRows(pgxmock.NewRows([]string{"payload"}))
		mock.ExpectQuery(flexibleSQLMatcher(pgSelect)).
			WithArgs(DefaultKey).
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{"rowIndex":`)))

		got, err := repo.Load(ctx, DefaultKey)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.Load(ctx, DefaultKey)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Clear", func(t *testing.T) {
		repo, mock := newPostgresRepo(t)
		mock.ExpectExec(flexibleSQLMatcher(pgDelete)).
			WithArgs(DefaultKey).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, repo.Clear(ctx, DefaultKey))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
