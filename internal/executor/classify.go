// internal/executor/classify.go
package executor

import (
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/checkpoint"
	"github.com/xkilldash9x/formpilot/internal/plan"
)

// Failure categories.
const (
	CategorySelectorChange  = "selector_change"
	CategoryLabelChange     = "label_change"
	CategoryFormValidation  = "form_validation"
	CategorySessionExpired  = "session_expired"
	CategoryTimingIssue     = "timing_issue"
	CategoryPageLoading     = "page_loading"
	CategoryUIChange        = "ui_change"
	CategoryNetworkError    = "network_error"
	CategoryElementNotFound = "element_not_found"
	CategoryActionFailed    = "action_failed"
	CategoryUnknown         = "unknown"
)

// Severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

var reasons = map[string]string{
	CategorySelectorChange:  "The click target no longer matches anything on the page; the page structure may have changed.",
	CategoryLabelChange:     "No form field matches the mapping's labels; a label may have been renamed.",
	CategoryFormValidation:  "The page rejected the submitted data or a required value is missing.",
	CategorySessionExpired:  "The browser session or the site login is no longer valid.",
	CategoryTimingIssue:     "An expected condition did not appear in time.",
	CategoryPageLoading:     "The page did not finish loading.",
	CategoryUIChange:        "The page reacted differently than expected, for example with a dialog.",
	CategoryNetworkError:    "The target could not be reached.",
	CategoryElementNotFound: "The target element was not found on the page.",
	CategoryActionFailed:    "The action failed in the page.",
	CategoryUnknown:         "The run stopped for an unrecognized reason.",
}

var keywordCategories = []struct {
	keywords []string
	category string
}{
	{[]string{"net::", "network", "connection refused", "dns"}, CategoryNetworkError},
	{[]string{"session expired", "unauthorized", "401", "login"}, CategorySessionExpired},
	{[]string{"timeout", "timed out", "deadline"}, CategoryTimingIssue},
	{[]string{"validation", "invalid", "required"}, CategoryFormValidation},
	{[]string{"detached", "not visible", "not interactable", "dialog"}, CategoryUIChange},
	{[]string{"not found", "no node"}, CategoryElementNotFound},
}

func categorize(err error, action *plan.Action) (category, severity string) {
	var (
		timeout *IndicatorTimeoutError
		nav     *browser.NavigationError
	)
	switch {
	case err == nil:
		return CategoryUnknown, SeverityLow
	case errors.Is(err, browser.ErrSessionNotFound):
		return CategorySessionExpired, SeverityCritical
	case errors.Is(err, ErrFailureIndicator), errors.Is(err, ErrRequiredValue):
		return CategoryFormValidation, SeverityHigh
	case errors.Is(err, ErrElementNotFound):
		if action != nil && action.Type == plan.ActionFill {
			return CategoryLabelChange, SeverityHigh
		}
		if action != nil && action.Type == plan.ActionClick {
			return CategorySelectorChange, SeverityHigh
		}
		return CategoryElementNotFound, SeverityMedium
	case errors.As(err, &timeout):
		if timeout.Purpose == purposePageReady {
			return CategoryPageLoading, SeverityMedium
		}
		return CategoryTimingIssue, SeverityMedium
	case errors.As(err, &nav):
		return CategoryNetworkError, SeverityHigh
	case errors.Is(err, ErrDialogHandling):
		return CategoryUIChange, SeverityLow
	}

	msg := strings.ToLower(err.Error())
	for _, kc := range keywordCategories {
		for _, kw := range kc.keywords {
			if strings.Contains(msg, kw) {
				return kc.category, SeverityMedium
			}
		}
	}
	return CategoryActionFailed, SeverityMedium
}

// Classify builds the failure metadata recorded in a checkpoint.
func Classify(err error, action *plan.Action, now time.Time) *checkpoint.FailureMetadata {
	category, severity := categorize(err, action)
	fm := &checkpoint.FailureMetadata{
		ID:        ulid.Make().String(),
		Timestamp: now,
		Category:  category,
		Severity:  severity,
		Reason:    reasons[category],
		Context:   map[string]any{},
	}
	if err != nil {
		fm.Error = err.Error()
	}
	if action != nil {
		fm.Context["action"] = string(action.Type)
		if action.Target != "" {
			fm.Context["target"] = action.Target
		}
	}
	return fm
}
