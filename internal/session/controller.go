// Package session runs user triggered transcription attempts one at a time
// and keeps the settings and the last outcome the UI renders.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxscribe/internal/catalog"
	"voxscribe/internal/credentials"
	"voxscribe/internal/transcription"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// ErrAttemptInProgress is returned when Run is called while another attempt
// is still waiting for its provider.
var ErrAttemptInProgress = errors.New("a transcription is already in progress")

const (
	StatusCompleted = "Transcription complete"
	ExportFileName  = "transcript.txt"

	missingInputMessage = "Please make sure an API key and an audio file are selected."
)

type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (transcription.Result, error)
}

// ObserverFunc is notified once per finished attempt.
type ObserverFunc func(provider catalog.Provider, state State, elapsed time.Duration)

// Attempt is one user trigger. Empty Provider and APIKey fall back to the
// saved settings.
type Attempt struct {
	Provider catalog.Provider
	Model    string
	APIKey   string
	Audio    transcription.Audio
}

type Stats struct {
	ElapsedSeconds  string `json:"elapsed_seconds"`
	DurationSeconds string `json:"duration_seconds"`
	CostUSD         string `json:"cost_usd"`
}

// Outcome is what the UI shows after an attempt finished.
type Outcome struct {
	AttemptID  string           `json:"attempt_id"`
	State      State            `json:"state"`
	Provider   catalog.Provider `json:"provider"`
	Model      string           `json:"model"`
	Transcript string           `json:"transcript,omitempty"`
	Stats      *Stats           `json:"stats,omitempty"`
	Status     string           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

type Snapshot struct {
	State   State    `json:"state"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

type Export struct {
	FileName string
	Content  string
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Controller) {
		c.observer = observer
	}
}

type Controller struct {
	store       credentials.Store
	transcriber Transcriber
	logger      *slog.Logger
	now         func() time.Time
	observer    ObserverFunc

	mu       sync.Mutex
	settings Settings
	running  bool
	outcome  *Outcome
}

func New(store credentials.Store, transcriber Transcriber, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		transcriber: transcriber,
		logger:      slog.Default(),
		now:         time.Now,
		settings:    newSettings(catalog.ProviderOpenAI, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Load replaces the settings with what the store holds. Unknown providers in
// the file are ignored.
func (c *Controller) Load() error {
	data, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	selected, err := catalog.ParseProvider(data.SelectedProvider)
	if err != nil {
		selected = catalog.ProviderOpenAI
	}
	keys := make(map[catalog.Provider]string, len(data.APIKeys))
	for name, key := range data.APIKeys {
		p, err := catalog.ParseProvider(name)
		if err != nil || strings.TrimSpace(key) == "" {
			continue
		}
		keys[p] = strings.TrimSpace(key)
	}

	c.mu.Lock()
	c.settings = newSettings(selected, keys)
	c.mu.Unlock()
	return nil
}

func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Controller) SelectProvider(p catalog.Provider) error {
	if _, err := catalog.ParseProvider(string(p)); err != nil {
		return &transcription.ValidationError{Message: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaceSettings(newSettings(p, c.settings.apiKeys))
}

func (c *Controller) SaveAPIKey(p catalog.Provider, key string) error {
	if _, err := catalog.ParseProvider(string(p)); err != nil {
		return &transcription.ValidationError{Message: err.Error()}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return &transcription.ValidationError{Message: fmt.Sprintf("please enter a %s API key", p.DisplayName())}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings.withKey(p, key)
	return c.replaceSettings(next)
}

// replaceSettings persists next and swaps the snapshot only when the write
// succeeded. Callers hold c.mu.
func (c *Controller) replaceSettings(next Settings) error {
	if err := c.store.Save(next.data()); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	c.settings = next
	return nil
}

// Run performs one attempt. Missing input is rejected without any state
// change; otherwise the previous outcome is cleared and the new one is
// returned together with the adapter error, if any.
func (c *Controller) Run(ctx context.Context, a Attempt) (Outcome, error) {
	c.mu.Lock()
	settings := c.settings
	provider := a.Provider
	if provider == "" {
		provider = settings.SelectedProvider
	}
	apiKey := strings.TrimSpace(a.APIKey)
	if apiKey == "" {
		apiKey = settings.APIKey(provider)
	}
	if apiKey == "" || a.Audio.Reader == nil {
		c.mu.Unlock()
		return Outcome{}, &transcription.ValidationError{Message: missingInputMessage}
	}
	model, err := catalog.ResolveModel(provider, a.Model)
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, &transcription.ValidationError{Message: err.Error()}
	}
	if c.running {
		c.mu.Unlock()
		return Outcome{}, ErrAttemptInProgress
	}
	c.running = true
	c.outcome = nil
	c.mu.Unlock()

	outcome := Outcome{
		AttemptID: uuid.NewString(),
		State:     StateRunning,
		Provider:  provider,
		Model:     model,
		StartedAt: c.now(),
	}
	// Runs on panic too, so a crashed attempt never leaves the guard set.
	defer func() {
		if outcome.State == StateRunning {
			outcome.State = StateFailed
			outcome.Status = "Error: transcription aborted"
			outcome.FinishedAt = c.now()
		}
		c.mu.Lock()
		c.running = false
		stored := outcome
		c.outcome = &stored
		c.mu.Unlock()
	}()
	c.logger.Info("transcription_started",
		"attempt_id", outcome.AttemptID,
		"provider", provider,
		"model", model,
		"file_name", a.Audio.FileName,
	)

	result, runErr := c.transcriber.Transcribe(ctx, transcription.Request{
		Provider: provider,
		Model:    model,
		APIKey:   apiKey,
		Audio:    a.Audio,
	})
	outcome.FinishedAt = c.now()
	elapsed := outcome.FinishedAt.Sub(outcome.StartedAt)

	if runErr != nil {
		outcome.State = StateFailed
		outcome.Status = "Error: " + runErr.Error()
		c.logger.Warn("transcription_failed",
			"attempt_id", outcome.AttemptID,
			"provider", provider,
			"duration_ms", elapsed.Milliseconds(),
			"error", runErr,
		)
	} else {
		outcome.State = StateSucceeded
		outcome.Transcript = result.Transcript
		outcome.Status = StatusCompleted
		outcome.Stats = &Stats{
			ElapsedSeconds:  fmt.Sprintf("%.2f", elapsed.Seconds()),
			DurationSeconds: result.Duration.String(),
			CostUSD:         transcription.FormatCost(result.Cost),
		}
		c.logger.Info("transcription_finished",
			"attempt_id", outcome.AttemptID,
			"provider", provider,
			"duration_ms", elapsed.Milliseconds(),
			"transcript_bytes", len(result.Transcript),
		)
	}
	if c.observer != nil {
		c.observer(provider, outcome.State, elapsed)
	}

	return outcome, runErr
}

// Current reports Running while an attempt is in flight and Idle otherwise,
// together with the last finished outcome.
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{State: StateIdle}
	if c.running {
		snap.State = StateRunning
	}
	if c.outcome != nil {
		o := *c.outcome
		snap.Outcome = &o
	}
	return snap
}

// Export returns the last transcript as a plain text document.
func (c *Controller) Export() (Export, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outcome == nil || c.outcome.State != StateSucceeded || c.outcome.Transcript == "" {
		return Export{}, false
	}
	return Export{FileName: ExportFileName, Content: c.outcome.Transcript}, true
}
