// internal/observability/fields.go
package observability

import (
	"go.uber.org/zap"
)

// Field keys shared by browser, stream and executor records, so one session
// or one run can be followed through the JSON log file.
const (
	KeySessionID   = "session_id"
	KeyPlan        = "plan"
	KeyPlanVersion = "plan_version"
	KeyTargetURL   = "target_url"
	KeyRowIndex    = "row_index"
	KeyActionIndex = "action_index"
	KeyDecision    = "decision"
)

func SessionID(id string) zap.Field { return zap.String(KeySessionID, id) }

func RowIndex(i int) zap.Field { return zap.Int(KeyRowIndex, i) }

func ActionIndex(i int) zap.Field { return zap.Int(KeyActionIndex, i) }

func Decision(d string) zap.Field { return zap.String(KeyDecision, d) }

// Position is the executor's (row, action) pair.
func Position(row, action int) []zap.Field {
	return []zap.Field{RowIndex(row), ActionIndex(action)}
}

// ForSession returns base tagged with the session id.
func ForSession(base *zap.Logger, id string) *zap.Logger {
	return base.With(SessionID(id))
}

// ForPlan returns base tagged with the plan identity. Empty name and version
// are left out.
func ForPlan(base *zap.Logger, name, version, targetURL string) *zap.Logger {
	fields := []zap.Field{zap.String(KeyTargetURL, targetURL)}
	if name != "" {
		fields = append(fields, zap.String(KeyPlan, name))
	}
	if version != "" {
		fields = append(fields, zap.String(KeyPlanVersion, version))
	}
	return base.With(fields...)
}
