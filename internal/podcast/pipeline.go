// Package podcast orchestrates one podcast generation cycle: validate the
// request, synthesize speech, upload the audio file, resolve its playback URL.
//
// Pipeline is the stateless form shared by every caller. Orchestrator wraps a
// Pipeline with the per-session playback state and notifications.
package podcast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/tts/text"
	"github.com/book-expert/podcast-service/internal/tts/ttsutils"
)

// Result describes a completed generation cycle.
type Result struct {
	FileName  string `json:"fileName"`
	StorageID string `json:"storageId"`
	AudioURL  string `json:"audioUrl"`
	Bytes     int    `json:"bytes"`

	// Stale is set when a newer invocation superseded this one. It did not
	// write any session state, whether its remote work succeeded or not.
	Stale bool `json:"stale"`
}

// PipelineConfig wires the collaborators of a Pipeline.
type PipelineConfig struct {
	Generator core.SpeechGenerator
	Uploader  core.Uploader
	Resolver  core.URLResolver

	// Preprocessor normalizes prompts before generation. Optional.
	Preprocessor *text.Preprocessor

	// MaxPromptLength rejects longer prompts at validation. Zero disables the check.
	MaxPromptLength int

	// NewFileName names generated files. Defaults to ttsutils.NewPodcastFileName.
	NewFileName func() string
}

// Pipeline runs generation cycles without holding any session state.
type Pipeline struct {
	generator       core.SpeechGenerator
	uploader        core.Uploader
	resolver        core.URLResolver
	preprocessor    *text.Preprocessor
	maxPromptLength int
	newFileName     func() string
	log             *logger.Logger
}

// NewPipeline creates a pipeline from its collaborators.
func NewPipeline(cfg PipelineConfig, log *logger.Logger) *Pipeline {
	newFileName := cfg.NewFileName
	if newFileName == nil {
		newFileName = ttsutils.NewPodcastFileName
	}

	return &Pipeline{
		generator:       cfg.Generator,
		uploader:        cfg.Uploader,
		resolver:        cfg.Resolver,
		preprocessor:    cfg.Preprocessor,
		maxPromptLength: cfg.MaxPromptLength,
		newFileName:     newFileName,
		log:             log,
	}
}

// Validate checks a request and returns it with a normalized prompt.
func (p *Pipeline) Validate(req core.GenerationRequest) (core.GenerationRequest, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return req, stageError(StageValidation, ErrEmptyPrompt)
	}

	voice, err := core.ParseVoice(string(req.Voice))
	if err != nil {
		return req, stageError(StageValidation, fmt.Errorf("%w: %w", ErrMissingVoice, err))
	}

	if p.preprocessor != nil {
		prompt, err = p.preprocessor.Normalize(prompt)
		if err != nil {
			if errors.Is(err, text.ErrPromptTooLong) {
				return req, stageError(StageValidation, fmt.Errorf("%w: %w", ErrPromptTooLong, err))
			}

			return req, stageError(StageValidation, err)
		}
	}

	if p.maxPromptLength > 0 && len([]rune(prompt)) > p.maxPromptLength {
		return req, stageError(StageValidation,
			fmt.Errorf("%w: %d characters, limit %d", ErrPromptTooLong, len([]rune(prompt)), p.maxPromptLength))
	}

	return core.GenerationRequest{Voice: voice, Prompt: prompt}, nil
}

// Synthesize generates audio for a validated request and wraps it as a file.
func (p *Pipeline) Synthesize(ctx context.Context, req core.GenerationRequest) (core.AudioFile, error) {
	audio, err := p.generator.GenerateSpeech(ctx, req.Voice, req.Prompt)
	if err != nil {
		return core.AudioFile{}, stageError(StageGeneration, err)
	}

	if len(audio) == 0 {
		return core.AudioFile{}, stageError(StageGeneration, ErrEmptyAudio)
	}

	return core.AudioFile{
		Name:        p.newFileName(),
		ContentType: core.AudioContentType,
		Data:        audio,
	}, nil
}

// Upload stores the file through the upload protocol and returns its storage id.
func (p *Pipeline) Upload(ctx context.Context, file core.AudioFile) (string, error) {
	storageID, err := p.uploader.Upload(ctx, file)
	if err != nil {
		return "", stageError(StageUpload, err)
	}

	if storageID == "" {
		return "", stageError(StageUpload, fmt.Errorf("upload of %s returned no storage id", file.Name))
	}

	return storageID, nil
}

// Resolve maps a storage id to its playback URL. An absent URL is ErrNotFound.
func (p *Pipeline) Resolve(ctx context.Context, storageID string) (string, error) {
	audioURL, err := p.resolver.ResolveURL(ctx, storageID)
	if err != nil {
		return "", stageError(StageResolution, err)
	}

	if audioURL == "" {
		return "", stageError(StageResolution, fmt.Errorf("%w: '%s'", ErrNotFound, storageID))
	}

	return audioURL, nil
}

// Run executes a full cycle. On a resolution failure the returned Result still
// carries the storage id of the uploaded file.
func (p *Pipeline) Run(ctx context.Context, req core.GenerationRequest) (*Result, error) {
	validated, err := p.Validate(req)
	if err != nil {
		return nil, err
	}

	return p.run(ctx, validated, nil)
}

// run executes the remote steps for a validated request. onStored, when
// non-nil, is called as soon as the storage id is known.
func (p *Pipeline) run(ctx context.Context, req core.GenerationRequest, onStored func(string)) (*Result, error) {
	file, err := p.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	storageID, err := p.Upload(ctx, file)
	if err != nil {
		return nil, err
	}

	result := &Result{
		FileName:  file.Name,
		StorageID: storageID,
		AudioURL:  "",
		Bytes:     len(file.Data),
		Stale:     false,
	}

	if onStored != nil {
		onStored(storageID)
	}

	audioURL, err := p.Resolve(ctx, storageID)
	if err != nil {
		return result, err
	}

	result.AudioURL = audioURL

	p.log.Info("Generated %s (%s, voice %s) as storage id %s",
		file.Name, ttsutils.FormatFileSize(int64(len(file.Data))), req.Voice, storageID)

	return result, nil
}
