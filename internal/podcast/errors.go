package podcast

import (
	"errors"
	"fmt"
)

// Stage names the step of a generation cycle that failed.
type Stage string

// Generation stages.
const (
	StageValidation Stage = "validation"
	StageGeneration Stage = "generation"
	StageUpload     Stage = "upload"
	StageResolution Stage = "resolution"
)

// Stage sentinels. A *StageError matches the sentinel of its stage with errors.Is.
var (
	ErrValidation = errors.New("invalid generation request")
	ErrGeneration = errors.New("speech generation failed")
	ErrUpload     = errors.New("audio upload failed")
	ErrResolution = errors.New("audio url resolution failed")
)

var (
	// ErrEmptyPrompt is returned when the prompt is empty after trimming.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrMissingVoice is returned when no supported voice was selected.
	ErrMissingVoice = errors.New("voice is missing or unsupported")
	// ErrPromptTooLong is returned when the prompt exceeds the generator's input limit.
	ErrPromptTooLong = errors.New("prompt is too long")
	// ErrEmptyAudio is returned when the generator produced no bytes.
	ErrEmptyAudio = errors.New("generator returned no audio")
	// ErrNotFound is returned when a storage id does not resolve to a URL.
	ErrNotFound = errors.New("storage id did not resolve to a url")
	// ErrInvalidDuration is returned for negative or non-finite durations.
	ErrInvalidDuration = errors.New("duration must be a finite, non-negative number of seconds")
	// ErrNoAudio is returned when a duration is reported with no audio published.
	ErrNoAudio = errors.New("no audio is loaded")
)

// StageError classifies a generation failure by the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's stage.
func (e *StageError) Is(target error) bool {
	return target == e.Stage.sentinel()
}

func (s Stage) sentinel() error {
	switch s {
	case StageValidation:
		return ErrValidation
	case StageGeneration:
		return ErrGeneration
	case StageUpload:
		return ErrUpload
	case StageResolution:
		return ErrResolution
	default:
		return nil
	}
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage a failure belongs to, or "" if err is not a *StageError.
func StageOf(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}

	return ""
}
