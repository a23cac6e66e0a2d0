// Package plan defines the declarative automation plan: what page to drive,
// which data rows to feed it, and which actions and indicators make up a run.
package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// IndicatorType selects how an Indicator is matched against the page.
type IndicatorType string

const (
	IndicatorSelector IndicatorType = "selector"
	IndicatorText     IndicatorType = "text"
	IndicatorURL      IndicatorType = "url"
)

// Indicator is a condition used to detect readiness, success, failure or loop termination.
type Indicator struct {
	Type  IndicatorType `json:"type"`
	Value string        `json:"value"`
}

// IsSet reports whether the indicator carries both a type and a value.
func (i *Indicator) IsSet() bool {
	return i != nil && i.Type != "" && strings.TrimSpace(i.Value) != ""
}

func (i Indicator) String() string {
	return fmt.Sprintf("%s=%q", i.Type, i.Value)
}

// Login describes an optional sign-in performed before the target is opened.
// Empty field selectors fall back to common username/password inputs.
type Login struct {
	URL           string `json:"url"`
	UsernameField string `json:"usernameField,omitempty"`
	PasswordField string `json:"passwordField,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
}

// StepType enumerates the pre-run navigation steps.
type StepType string

const (
	StepClick    StepType = "click"
	StepNavigate StepType = "navigate"
	StepWait     StepType = "wait"
)

// NavigationStep is one hop between login and the target form.
type NavigationStep struct {
	Type     StepType   `json:"type"`
	Target   string     `json:"target,omitempty"`
	Duration float64    `json:"duration,omitempty"`
	WaitFor  *Indicator `json:"waitFor,omitempty"`
}

// Target identifies the page the plan drives.
type Target struct {
	URL                string           `json:"url"`
	Login              *Login           `json:"login,omitempty"`
	Navigation         []NavigationStep `json:"navigation,omitempty"`
	PageReadyIndicator Indicator        `json:"pageReadyIndicator"`
}

type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceManual SourceType = "manual"
)

// DataMode selects whether one row or every row is processed.
type DataMode string

const (
	ModeSingle DataMode = "single"
	ModeAll    DataMode = "all"
)

// Row maps a column key to a scalar value.
type Row map[string]any

// Lookup returns the value stored under key rendered as a string.
func (r Row) Lookup(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	return FormatScalar(v), true
}

// FormatScalar renders a decoded JSON scalar the way it is typed into a form.
func FormatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

// DataSource holds the rows a run iterates over.
type DataSource struct {
	Type             SourceType `json:"type"`
	Mode             DataMode   `json:"mode"`
	Rows             []Row      `json:"rows"`
	SelectedRowIndex int        `json:"selectedRowIndex,omitempty"`
}

// FieldMapping binds a form field, found on the page by its labels, to a data column.
type FieldMapping struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	DataKey  string   `json:"dataKey"`
	Labels   []string `json:"labels"`
	Required bool     `json:"required"`
}

// ActionType enumerates the per-row actions.
type ActionType string

const (
	ActionFill         ActionType = "fill"
	ActionClick        ActionType = "click"
	ActionWait         ActionType = "wait"
	ActionHandleDialog ActionType = "handleDialog"
	ActionNavigate     ActionType = "navigate"
)

// Action is one step of the per-row sequence.
type Action struct {
	Type     ActionType `json:"type"`
	Target   string     `json:"target"`
	Value    any        `json:"value,omitempty"`
	WaitFor  *Indicator `json:"waitFor,omitempty"`
	Disabled bool       `json:"disabled,omitempty"`
}

// LiteralValue returns the action's literal value, if one was given.
func (a Action) LiteralValue() (string, bool) {
	if a.Value == nil {
		return "", false
	}
	return FormatScalar(a.Value), true
}

// Seconds interprets the literal value as a duration in seconds, falling back to def.
func (a Action) Seconds(def float64) (float64, error) {
	s, ok := a.LiteralValue()
	if !ok || strings.TrimSpace(s) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("wait value %q is not a number of seconds", s)
	}
	return f, nil
}

// DismissDialog reports whether a handleDialog action asks to dismiss rather than accept.
func (a Action) DismissDialog() bool {
	s, _ := a.LiteralValue()
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dismiss", "cancel", "false":
		return true
	}
	return false
}

func (a Action) String() string {
	if a.Target == "" {
		return string(a.Type)
	}
	return fmt.Sprintf("%s -> %s", a.Type, a.Target)
}

type ExecutionMode string

const (
	ExecOnce ExecutionMode = "once"
	ExecLoop ExecutionMode = "loop"
)

// StopWhen selects which indicator state ends a loop.
type StopWhen string

const (
	StopVisible    StopWhen = "visible"
	StopNotVisible StopWhen = "notVisible"
)

// Loop bounds a looped execution.
type Loop struct {
	MaxIterations int       `json:"maxIterations"`
	DelaySeconds  float64   `json:"delaySeconds"`
	StopWhen      StopWhen  `json:"stopWhen"`
	Indicator     Indicator `json:"indicator"`
}

// Execution selects once or loop mode.
type Execution struct {
	Mode ExecutionMode `json:"mode"`
	Loop *Loop         `json:"loop,omitempty"`
}

// Plan is the complete, serializable automation description.
type Plan struct {
	Name             string         `json:"name,omitempty"`
	Version          string         `json:"version,omitempty"`
	Target           Target         `json:"target"`
	DataSource       DataSource     `json:"dataSource"`
	FieldMappings    []FieldMapping `json:"fieldMappings"`
	Actions          []Action       `json:"actions"`
	Execution        Execution      `json:"execution"`
	SuccessIndicator *Indicator     `json:"successIndicator,omitempty"`
	FailureIndicator *Indicator     `json:"failureIndicator,omitempty"`
}

// Mapping returns the field mapping with the given name.
func (p *Plan) Mapping(name string) (FieldMapping, bool) {
	for _, m := range p.FieldMappings {
		if m.Name == name {
			return m, true
		}
	}
	return FieldMapping{}, false
}

// Normalize fills defaults in place: manual single-row data, once execution,
// and the legacy "batch" mode spelling.
func (p *Plan) Normalize() {
	if p.DataSource.Type == "" {
		p.DataSource.Type = SourceManual
	}
	switch p.DataSource.Mode {
	case "", ModeSingle:
		p.DataSource.Mode = ModeSingle
	case "batch":
		p.DataSource.Mode = ModeAll
	}
	if len(p.DataSource.Rows) == 0 {
		p.DataSource.Rows = []Row{{}}
	}
	if p.Execution.Mode == "" {
		p.Execution.Mode = ExecOnce
	}
}

// RowIndexes returns the row indexes a run visits, in order.
func (p *Plan) RowIndexes() []int {
	if p.DataSource.Mode == ModeAll {
		idx := make([]int, len(p.DataSource.Rows))
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	return []int{p.DataSource.SelectedRowIndex}
}

// HasAction reports whether any enabled action has the given type.
func (p *Plan) HasAction(t ActionType) bool {
	for _, a := range p.Actions {
		if a.Type == t && !a.Disabled {
			return true
		}
	}
	return false
}

// Truthy interprets a fill value for checkbox and radio fields.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "off", "n":
		return false
	}
	return true
}
