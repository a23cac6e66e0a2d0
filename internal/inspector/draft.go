// internal/inspector/draft.go
package inspector

import (
	"github.com/xkilldash9x/formpilot/internal/plan"
)

// DraftActions turns a recorded log into a starting action list for a plan.
// Errors and events without a usable target are skipped.
func DraftActions(events []Event) []plan.Action {
	var actions []plan.Action
	for _, ev := range events {
		if ev.Level == LevelError {
			continue
		}
		switch ev.Type {
		case TypeNavigation:
			if u := dataString(ev, "url"); u != "" {
				actions = append(actions, plan.Action{Type: plan.ActionNavigate, Target: u})
			}
		case TypeClick:
			if t := firstNonEmpty(dataString(ev, "selector"), dataString(ev, "text")); t != "" {
				actions = append(actions, plan.Action{Type: plan.ActionClick, Target: t})
			}
		case TypeSubmit:
			t := dataString(ev, "selector")
			if t == "" || t == "form" {
				t = `button[type="submit"]`
			}
			actions = append(actions, plan.Action{Type: plan.ActionClick, Target: t})
		case TypeInput:
			if t := firstNonEmpty(dataString(ev, "fieldName"), dataString(ev, "selector")); t != "" {
				actions = append(actions, plan.Action{Type: plan.ActionFill, Target: t})
			}
		}
	}
	return actions
}

func dataString(ev Event, key string) string {
	s, _ := ev.Data[key].(string)
	return s
}
