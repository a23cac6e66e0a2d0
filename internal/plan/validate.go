package plan

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError lists every problem found in a plan. A plan that fails
// validation is never executed, not even partially.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid plan: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid plan: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate normalizes p and checks it. It returns a *ValidationError carrying
// every problem found, or nil.
func Validate(p *Plan) error {
	if p == nil {
		return &ValidationError{Problems: []string{"plan is empty"}}
	}
	p.Normalize()

	v := &ValidationError{}
	validateTarget(v, &p.Target)
	validateDataSource(v, &p.DataSource)
	validateMappings(v, p)
	validateActions(v, p)
	validateExecution(v, p)
	if p.SuccessIndicator != nil {
		validateIndicator(v, "successIndicator", *p.SuccessIndicator)
	}
	if p.FailureIndicator != nil {
		validateIndicator(v, "failureIndicator", *p.FailureIndicator)
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

func validateURL(v *ValidationError, field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		v.add("%s %q is not an absolute http(s) URL", field, raw)
	}
}

func validateIndicator(v *ValidationError, field string, ind Indicator) {
	switch ind.Type {
	case IndicatorSelector, IndicatorText, IndicatorURL:
	default:
		v.add("%s.type %q must be one of selector, text, url", field, ind.Type)
	}
	if strings.TrimSpace(ind.Value) == "" {
		v.add("%s.value is required", field)
	}
}

func validateTarget(v *ValidationError, t *Target) {
	if strings.TrimSpace(t.URL) == "" {
		v.add("target.url is required")
	} else {
		validateURL(v, "target.url", t.URL)
	}
	validateIndicator(v, "target.pageReadyIndicator", t.PageReadyIndicator)

	if t.Login != nil {
		if t.Login.URL == "" {
			v.add("target.login.url is required when login is configured")
		} else {
			validateURL(v, "target.login.url", t.Login.URL)
		}
	}

	for i, step := range t.Navigation {
		field := fmt.Sprintf("target.navigation[%d]", i)
		switch step.Type {
		case StepClick:
			if step.Target == "" {
				v.add("%s.target is required for click steps", field)
			}
		case StepNavigate:
			validateURL(v, field+".target", step.Target)
		case StepWait:
			if step.Duration < 0 {
				v.add("%s.duration must not be negative", field)
			}
		default:
			v.add("%s.type %q must be one of click, navigate, wait", field, step.Type)
		}
		if step.WaitFor != nil {
			validateIndicator(v, field+".waitFor", *step.WaitFor)
		}
	}
}

func validateDataSource(v *ValidationError, ds *DataSource) {
	switch ds.Type {
	case SourceUpload, SourceManual:
	default:
		v.add("dataSource.type %q must be upload or manual", ds.Type)
	}
	switch ds.Mode {
	case ModeSingle:
		if ds.SelectedRowIndex < 0 || ds.SelectedRowIndex >= len(ds.Rows) {
			v.add("dataSource.selectedRowIndex %d is out of range for %d rows", ds.SelectedRowIndex, len(ds.Rows))
		}
	case ModeAll:
	default:
		v.add("dataSource.mode %q must be single or all", ds.Mode)
	}
}

func validateMappings(v *ValidationError, p *Plan) {
	seen := make(map[string]bool, len(p.FieldMappings))
	for i, m := range p.FieldMappings {
		field := fmt.Sprintf("fieldMappings[%d]", i)
		if m.Name == "" {
			v.add("%s.name is required", field)
		} else if seen[m.Name] {
			v.add("%s.name %q is duplicated", field, m.Name)
		}
		seen[m.Name] = true

		if m.DataKey == "" {
			v.add("%s.dataKey is required", field)
			continue
		}
		if p.DataSource.Mode != ModeAll {
			continue
		}
		for r, row := range p.DataSource.Rows {
			if _, ok := row[m.DataKey]; !ok {
				v.add("%s.dataKey %q is missing from dataSource.rows[%d]", field, m.DataKey, r)
			}
		}
	}
}

func validateActions(v *ValidationError, p *Plan) {
	for i, a := range p.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		switch a.Type {
		case ActionFill:
			if _, ok := p.Mapping(a.Target); !ok {
				v.add("%s targets unknown field mapping %q", field, a.Target)
			}
		case ActionClick:
			if strings.TrimSpace(a.Target) == "" {
				v.add("%s.target is required for click", field)
			}
		case ActionWait:
			secs, err := a.Seconds(1)
			if err != nil {
				v.add("%s: %v", field, err)
			} else if secs < 0 {
				v.add("%s.value must not be negative", field)
			}
		case ActionHandleDialog:
		case ActionNavigate:
			if a.Target != "" {
				validateURL(v, field+".target", a.Target)
			}
		default:
			v.add("%s.type %q must be one of fill, click, wait, handleDialog, navigate", field, a.Type)
		}
		if a.WaitFor != nil {
			validateIndicator(v, field+".waitFor", *a.WaitFor)
		}
	}
}

func validateExecution(v *ValidationError, p *Plan) {
	switch p.Execution.Mode {
	case ExecOnce:
	case ExecLoop:
		loop := p.Execution.Loop
		if loop == nil {
			v.add("execution.loop is required when execution.mode is loop")
			return
		}
		if p.DataSource.Mode != ModeSingle {
			v.add("execution.mode loop requires dataSource.mode single")
		}
		if loop.MaxIterations < 1 {
			v.add("execution.loop.maxIterations must be at least 1")
		}
		if loop.DelaySeconds < 0 {
			v.add("execution.loop.delaySeconds must not be negative")
		}
		switch loop.StopWhen {
		case StopVisible, StopNotVisible:
		default:
			v.add("execution.loop.stopWhen %q must be visible or notVisible", loop.StopWhen)
		}
		validateIndicator(v, "execution.loop.indicator", loop.Indicator)
	default:
		v.add("execution.mode %q must be once or loop", p.Execution.Mode)
	}
}
