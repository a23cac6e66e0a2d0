// internal/observability/fields_test.go
package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestForPlan(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ForPlan(base, "signup", "3", "https://forms.example.com/signup").
		Info("Run paused on request.", Position(2, 1)...)
	ForPlan(base, "", "", "https://forms.example.com/contact").Info("Run started.")

	entries := logs.All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	assert.Equal(t, "signup", first[KeyPlan])
	assert.Equal(t, "3", first[KeyPlanVersion])
	assert.Equal(t, "https://forms.example.com/signup", first[KeyTargetURL])
	assert.EqualValues(t, 2, first[KeyRowIndex])
	assert.EqualValues(t, 1, first[KeyActionIndex])

	second := entries[1].ContextMap()
	assert.NotContains(t, second, KeyPlan, "an unnamed plan carries no plan field")
	assert.NotContains(t, second, KeyPlanVersion)
}

func TestForSession(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ForSession(zap.New(core), "s-1").With(Decision("retry")).Debug("Resuming.")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "s-1", ctx[KeySessionID])
	assert.Equal(t, "retry", ctx[KeyDecision])
}
