package podcast

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
)

// Notification texts.
const (
	ToastPromptRequired   = "Please provide a prompt to generate a podcast"
	ToastVoiceRequired    = "Please provide a voice type to generate a podcast"
	ToastPromptTooLong    = "Please provide a shorter prompt to generate a podcast"
	ToastGenerated        = "Podcast generated successfully"
	ToastGenerationFailed = "Error creating podcast"
)

// PlaybackState is the per-session view state of the generator. Prompt and
// Voice hold the last submitted form values so a reload can render them back.
type PlaybackState struct {
	Prompt               string      `json:"prompt"`
	Voice                core.Voice  `json:"voice"`
	AudioURL             string      `json:"audioUrl"`
	AudioStorageID       string      `json:"audioStorageId"`
	AudioDurationSeconds float64     `json:"audioDurationSeconds"`
	IsGenerating         bool        `json:"isGenerating"`
	Generation           uint64      `json:"generation"`
	LastToast            *core.Toast `json:"lastToast,omitempty"`
}

// Orchestrator runs generation cycles for one session and owns its
// PlaybackState. Every call to Generate takes a new invocation token; only
// the invocation holding the latest token writes state or notifies.
type Orchestrator struct {
	pipeline  *Pipeline
	notifier  core.Notifier
	sessionID string
	timeout   time.Duration
	log       *logger.Logger

	mu    sync.Mutex
	state PlaybackState
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// SessionID addresses notifications.
	SessionID string
	// Notifier receives toasts. Optional.
	Notifier core.Notifier
	// Timeout bounds one generation cycle. Zero leaves only the caller's deadline.
	Timeout time.Duration
}

// NewOrchestrator creates an orchestrator with empty state.
func NewOrchestrator(pipeline *Pipeline, cfg OrchestratorConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		pipeline:  pipeline,
		notifier:  cfg.Notifier,
		sessionID: cfg.SessionID,
		timeout:   cfg.Timeout,
		log:       log,
		mu:        sync.Mutex{},
		state:     PlaybackState{},
	}
}

// Generate runs one cycle: validate, synthesize, upload, resolve, publish.
//
// A superseded invocation always returns a Result with Stale set, alongside
// the error if it failed; its state writes and notifications are discarded.
func (o *Orchestrator) Generate(ctx context.Context, req core.GenerationRequest) (*Result, error) {
	token := o.begin(req)
	defer o.finish(token)

	if o.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	validated, err := o.pipeline.Validate(req)
	if err != nil {
		o.log.Info("Rejected generation request for session %s: %v", o.sessionID, err)

		if !o.commit(token, nil, ToastFor(err)) {
			return staleResult(nil), err
		}

		return nil, err
	}

	result, err := o.pipeline.run(ctx, validated, func(storageID string) {
		o.commit(token, func(state *PlaybackState) {
			state.AudioStorageID = storageID
		}, nil)
	})
	if err != nil {
		o.log.Error("Error generating podcast for session %s: %v", o.sessionID, err)

		if !o.commit(token, nil, ToastFor(err)) {
			return staleResult(result), err
		}

		return result, err
	}

	published := o.commit(token, func(state *PlaybackState) {
		state.AudioURL = result.AudioURL
		state.AudioStorageID = result.StorageID
	}, ToastFor(nil))
	if !published {
		o.log.Warn("Discarded superseded result %s for session %s", result.StorageID, o.sessionID)
		result.Stale = true
	}

	return result, nil
}

// State returns a snapshot of the playback state.
func (o *Orchestrator) State() PlaybackState {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := o.state
	if o.state.LastToast != nil {
		toast := *o.state.LastToast
		snapshot.LastToast = &toast
	}

	return snapshot
}

// SetAudioDuration records the duration reported by the media element.
func (o *Orchestrator) SetAudioDuration(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return ErrInvalidDuration
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.AudioURL == "" {
		return ErrNoAudio
	}

	o.state.AudioDurationSeconds = seconds

	return nil
}

// Reset clears the playback half of the state and keeps the form values.
// In-flight invocations become stale.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state = PlaybackState{
		Prompt:               o.state.Prompt,
		Voice:                o.state.Voice,
		AudioURL:             "",
		AudioStorageID:       "",
		AudioDurationSeconds: 0,
		IsGenerating:         false,
		Generation:           o.state.Generation + 1,
		LastToast:            nil,
	}
}

// ToastFor returns the notification shown for the outcome of a cycle. A nil
// error is a success.
func ToastFor(err error) *core.Toast {
	switch {
	case err == nil:
		return &core.Toast{Title: ToastGenerated, Description: "", Variant: core.ToastDefault}
	case errors.Is(err, ErrEmptyPrompt):
		return &core.Toast{Title: ToastPromptRequired, Description: "", Variant: core.ToastDefault}
	case errors.Is(err, ErrMissingVoice):
		return &core.Toast{Title: ToastVoiceRequired, Description: "", Variant: core.ToastDefault}
	case errors.Is(err, ErrPromptTooLong):
		return &core.Toast{Title: ToastPromptTooLong, Description: "", Variant: core.ToastDefault}
	case errors.Is(err, ErrValidation):
		return &core.Toast{Title: ToastPromptRequired, Description: "", Variant: core.ToastDefault}
	default:
		return &core.Toast{Title: ToastGenerationFailed, Description: "", Variant: core.ToastDestructive}
	}
}

func (o *Orchestrator) begin(req core.GenerationRequest) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state.Generation++
	o.state.Prompt = req.Prompt
	o.state.Voice = req.Voice
	o.state.AudioURL = ""
	o.state.AudioDurationSeconds = 0
	o.state.IsGenerating = true
	o.state.LastToast = nil

	return o.state.Generation
}

// staleResult marks result as superseded, allocating one when the cycle
// failed before producing anything.
func staleResult(result *Result) *Result {
	if result == nil {
		result = &Result{FileName: "", StorageID: "", AudioURL: "", Bytes: 0, Stale: false}
	}

	result.Stale = true

	return result
}

func (o *Orchestrator) finish(token uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Generation == token {
		o.state.IsGenerating = false
	}
}

// commit applies mutate and records toast if token is still current, then
// delivers the toast. It reports whether the token was current.
func (o *Orchestrator) commit(token uint64, mutate func(*PlaybackState), toast *core.Toast) bool {
	o.mu.Lock()

	if o.state.Generation != token {
		o.mu.Unlock()

		return false
	}

	if mutate != nil {
		mutate(&o.state)
	}

	if toast != nil {
		o.state.LastToast = toast
	}

	o.mu.Unlock()

	if toast != nil && o.notifier != nil {
		o.notifier.Notify(o.sessionID, *toast)
	}

	return true
}
