// cmd/cmd_test.go
package cmd

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/checkpoint"
	"github.com/xkilldash9x/formpilot/internal/executor"
	"github.com/xkilldash9x/formpilot/internal/inspector"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/plan"
	"github.com/xkilldash9x/formpilot/internal/store"
)

// testEnv points every persisted path at a temp dir through a config file.
type testEnv struct {
	dir     string
	cfgPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := strings.Join([]string{
		"logger:",
		"  level: error",
		"  log_file: " + filepath.Join(dir, "formpilot.log"),
		"checkpoint:",
		"  driver: file",
		"  path: " + filepath.Join(dir, "checkpoints"),
		"store:",
		"  driver: file",
		"  dir: " + dir,
		"inspector:",
		"  output: " + filepath.Join(dir, "inspect-log.json"),
	}, "\n")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &testEnv{dir: dir, cfgPath: path}
}

// execute runs a fresh command tree and returns its stdout.
func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(func() { cfgFile = "" })

	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	if e != nil {
		args = append([]string{"-c", e.cfgPath}, args...)
	}
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := (*testEnv)(nil).execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "formpilot "+Version))

	out, err = (*testEnv)(nil).execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestSelector(t *testing.T) {
	out, err := (*testEnv)(nil).execute(t, "selector", "--html", `<input name="email" type="email">`)
	require.NoError(t, err)
	assert.Equal(t, `[name="email"]`+"\n", out)

	out, err = (*testEnv)(nil).execute(t, "selector", "--html", `<button class="btn primary">Send</button>`, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, `"selector": ".btn.primary"`)

	_, err = (*testEnv)(nil).execute(t, "selector")
	assert.Error(t, err)
}

func TestCheckpointShowAndClear(t *testing.T) {
	env := newTestEnv(t)
	repo, err := checkpoint.NewFileRepository(filepath.Join(env.dir, "checkpoints"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), checkpoint.DefaultKey, &checkpoint.ExecutionState{
		Timestamp: time.Now().UTC(), RowIndex: 2, ActionIndex: 1, TotalRows: 4, TotalActions: 3,
	}))

	out, err := env.execute(t, "checkpoint", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"rowIndex": 2`)

	out, err = env.execute(t, "checkpoint", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Checkpoint cleared.")

	out, err = env.execute(t, "checkpoint", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoint.")
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")

	l, err := store.NewFileLog(env.dir, 50, zap.NewNop())
	require.NoError(t, err)
	p := &plan.Plan{Name: "contact", Target: plan.Target{URL: "https://forms.example.com/contact"},
		DataSource: plan.DataSource{Mode: plan.ModeSingle, Rows: []plan.Row{{}}}}
	report := &executor.Report{Status: executor.RunPartial, FinishedAt: time.Now().UTC(),
		Summary: executor.Summary{Total: 2, Success: 1, Partial: 1}}
	require.NoError(t, l.Append(context.Background(), store.NewEntry(p, report)))

	out, err = env.execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "1/2 ok")
	assert.Contains(t, out, "https://forms.example.com/contact")

	out, err = env.execute(t, "history", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"templateName": "contact"`)
}

func TestRun_InvalidPlanIsRejectedBeforeLaunch(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"target":{"url":"ftp://nowhere"},"actions":[{"type":"teleport"}]}`), 0o600))

	_, err := env.execute(t, "run", path)
	var verr *plan.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, executor.OutcomeBlocked, executor.ClassifyOutcome(err))
	assert.GreaterOrEqual(t, len(verr.Problems), 2)
}

func TestResume_RejectsUnknownDecision(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "resume", "plan.json", "--decision", "shrug")
	assert.ErrorContains(t, err, "unknown repair decision")
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)
	logPath := filepath.Join(env.dir, "formpilot.log")
	require.NoError(t, os.WriteFile(logPath, []byte(`{"level":"info","msg":"Run completed."}`+"\n"), 0o600))

	out, err := env.execute(t, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "Run completed.")
}

func TestInspect_DraftFromLog(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "inspect-log.json")
	require.NoError(t, store.NewInspectorFiles(path, zap.NewNop()).SaveInspectorLog(context.Background(), &inspector.Artifact{
		SchemaVersion: 1,
		RunID:         "inspect-1",
		Events: []inspector.Event{
			{Type: inspector.TypeNavigation, Level: inspector.LevelInfo, Data: map[string]any{"url": "https://forms.example.com/"}},
		},
	}))

	out, err := env.execute(t, "inspect", "--from", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "navigate"`)
	assert.Contains(t, out, "https://forms.example.com/")

	_, err = env.execute(t, "inspect")
	assert.Error(t, err)
}

func TestPromptDecision(t *testing.T) {
	report := &executor.Report{Checkpoint: &checkpoint.ExecutionState{
		RowIndex: 2, ActionIndex: 1, TotalActions: 3,
		FailureMetadata: &checkpoint.FailureMetadata{Category: "label_change", Severity: "high", Error: "element not found: Email"},
	}}
	var out bytes.Buffer
	in := bufio.NewScanner(strings.NewReader("bogus\nskip_row\n"))

	d, ok := promptDecision(&out, in, report)
	require.True(t, ok)
	assert.Equal(t, checkpoint.DecisionSkipRow, d.Action)
	assert.Contains(t, out.String(), "row 2, action 1 of 3")
	assert.Contains(t, out.String(), "unknown repair decision")

	_, ok = promptDecision(&out, in, report)
	assert.False(t, ok, "end of input stops prompting")
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeReport(nil, path, &executor.Report{Status: executor.RunSuccess}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status": "success"`)
}
