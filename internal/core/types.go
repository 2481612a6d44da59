package core

import (
	"errors"
	"fmt"
	"strings"
)

// AudioContentType is the MIME type of every generated podcast file.
const AudioContentType = "audio/mpeg"

// ErrUnsupportedVoice indicates that the provided voice is not supported.
var ErrUnsupportedVoice = errors.New("unsupported voice")

// Voice selects the synthetic voice used for generation.
type Voice string

// Supported voices.
const (
	VoiceAlloy   Voice = "alloy"
	VoiceEcho    Voice = "echo"
	VoiceFable   Voice = "fable"
	VoiceOnyx    Voice = "onyx"
	VoiceNova    Voice = "nova"
	VoiceShimmer Voice = "shimmer"
)

var supportedVoices = []Voice{
	VoiceAlloy,
	VoiceEcho,
	VoiceFable,
	VoiceOnyx,
	VoiceNova,
	VoiceShimmer,
}

// Voices returns the supported voices in display order.
func Voices() []Voice {
	voices := make([]Voice, len(supportedVoices))
	copy(voices, supportedVoices)

	return voices
}

// Valid reports whether v is one of the supported voices.
func (v Voice) Valid() bool {
	for _, candidate := range supportedVoices {
		if v == candidate {
			return true
		}
	}

	return false
}

// ParseVoice converts a user supplied string into a Voice.
func ParseVoice(value string) (Voice, error) {
	voice := Voice(strings.ToLower(strings.TrimSpace(value)))
	if !voice.Valid() {
		return "", fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, value)
	}

	return voice, nil
}

// GenerationRequest is the input of one generation cycle.
type GenerationRequest struct {
	Voice  Voice  `json:"voice"`
	Prompt string `json:"prompt"`
}

// AudioFile is generated audio wrapped as a named file, ready for upload.
type AudioFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// ToastVariant controls how a notification is styled.
type ToastVariant string

// Toast variants.
const (
	ToastDefault     ToastVariant = "default"
	ToastDestructive ToastVariant = "destructive"
)

// Toast is a transient, dismissible notification.
type Toast struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Variant     ToastVariant `json:"variant"`
}
