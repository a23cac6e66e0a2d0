// internal/inspector/recorder.go
package inspector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/selector"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SchemaVersion of the persisted artifact.
const SchemaVersion = 1

// Event levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Event types.
const (
	TypeNavigation      = "navigation"
	TypeNavigationError = "navigation-error"
	TypeClick           = "interaction.click"
	TypeInput           = "interaction.input"
	TypeSubmit          = "interaction.submit"
)

// Event is one entry of the ordered inspector log.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Artifact is the batch persisted when a run ends.
type Artifact struct {
	SchemaVersion int       `json:"schemaVersion"`
	RunID         string    `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
	TargetURL     string    `json:"targetUrl"`
	Events        []Event   `json:"events"`
}

// Page is the live page the recorder observes.
type Page interface {
	Bind(ctx context.Context, name string, handler func(payload string)) error
	AddInitScript(ctx context.Context, script string) error
	OnNavigate(fn func(url string))
	Navigate(ctx context.Context, url string) error
	Done() <-chan struct{}
}

// Sink persists a finished artifact.
type Sink interface {
	SaveInspectorLog(ctx context.Context, a *Artifact) error
}

// report is the payload the instrumentation script sends.
type report struct {
	Kind      string `json:"kind"`
	Tag       string `json:"tag"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClassName string `json:"className"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Label     string `json:"label"`
	URL       string `json:"url"`
}

// Recorder builds the event log for one inspector run.
type Recorder struct {
	page      Page
	sink      Sink
	logger    *zap.Logger
	textLimit int
	now       func() time.Time

	mu      sync.Mutex
	events  []Event
	seq     int
	lastNav string
}

// NewRecorder prepares a recorder for page. sink may be nil, in which case
// Run only returns the artifact.
func NewRecorder(page Page, sink Sink, cfg config.InspectorConfig, logger *zap.Logger) *Recorder {
	limit := cfg.TextLimit
	if limit <= 0 {
		limit = 120
	}
	return &Recorder{
		page:      page,
		sink:      sink,
		logger:    logger.Named("inspector"),
		textLimit: limit,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run instruments the page, opens targetURL and records until the page is
// closed or ctx ends. The whole log is then persisted as one artifact.
func (r *Recorder) Run(ctx context.Context, targetURL string) (*Artifact, error) {
	started := r.now()
	runID := fmt.Sprintf("inspect-%d", started.UnixMilli())
	log := r.logger.With(zap.String("run_id", runID))

	if err := r.page.Bind(ctx, bindingName, r.handleReport); err != nil {
		return nil, fmt.Errorf("failed to bind inspector channel: %w", err)
	}
	if err := r.page.AddInitScript(ctx, instrumentScript); err != nil {
		return nil, fmt.Errorf("failed to install inspector script: %w", err)
	}
	r.page.OnNavigate(r.handleNavigation)

	log.Info("Inspector recording started.", zap.String("target_url", targetURL))
	if targetURL != "" {
		if err := r.page.Navigate(ctx, targetURL); err != nil {
			log.Warn("Initial navigation failed; still recording.", zap.Error(err))
			r.append(LevelError, TypeNavigationError, "Failed to open "+targetURL, map[string]any{
				"url":   targetURL,
				"error": err.Error(),
			})
		}
	}

	select {
	case <-r.page.Done():
	case <-ctx.Done():
	}

	a := &Artifact{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		StartedAt:     started,
		EndedAt:       r.now(),
		TargetURL:     targetURL,
		Events:        r.Events(),
	}
	log.Info("Inspector recording finished.", zap.Int("events", len(a.Events)))

	if r.sink != nil {
		// ctx may already be done; the batch is still written.
		if err := r.sink.SaveInspectorLog(context.WithoutCancel(ctx), a); err != nil {
			return a, fmt.Errorf("failed to persist inspector log: %w", err)
		}
	}
	return a, nil
}

// Events returns a copy of the log so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) append(level, typ, msg string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.events = append(r.events, Event{
		ID:        fmt.Sprintf("evt-%d", r.seq),
		Timestamp: r.now(),
		Level:     level,
		Type:      typ,
		Message:   msg,
		Data:      data,
	})
}

func (r *Recorder) handleNavigation(url string) {
	if url == "" || url == "about:blank" {
		return
	}
	r.mu.Lock()
	if url == r.lastNav {
		r.mu.Unlock()
		return
	}
	r.lastNav = url
	r.mu.Unlock()
	r.append(LevelInfo, TypeNavigation, "Navigated to "+url, map[string]any{"url": url})
}

// handleReport records one interaction. A payload that cannot be decoded is
// dropped without affecting the rest of the run.
func (r *Recorder) handleReport(payload string) {
	var rep report
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		r.logger.Debug("Dropping malformed inspector report.", zap.Error(err))
		return
	}
	d := selector.Descriptor{
		Tag:       rep.Tag,
		ID:        rep.ID,
		Name:      rep.Name,
		ClassName: rep.ClassName,
		Type:      rep.Type,
	}
	sel := selector.Infer(d)
	text := truncate(strings.TrimSpace(rep.Text), r.textLimit)
	label := truncate(strings.TrimSpace(rep.Label), r.textLimit)

	switch rep.Kind {
	case "click", "":
		r.append(LevelInfo, TypeClick, "Click on "+sel, map[string]any{
			"selector": sel,
			"text":     text,
			"label":    label,
			"tag":      rep.Tag,
			"url":      rep.URL,
		})
	case "input":
		field := firstNonEmpty(rep.Name, rep.ID, label)
		r.append(LevelInfo, TypeInput, "Input into "+sel, map[string]any{
			"selector":  sel,
			"fieldName": field,
			"label":     label,
			"tag":       rep.Tag,
			"url":       rep.URL,
		})
	case "submit":
		r.append(LevelInfo, TypeSubmit, "Form submitted", map[string]any{
			"selector": sel,
			"url":      rep.URL,
		})
	default:
		r.logger.Debug("Ignoring unknown inspector report.", zap.String("kind", rep.Kind))
	}
}

// truncate caps s at limit runes.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
