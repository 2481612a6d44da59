// Package tts provides the client for the remote text-to-speech generation action.
//
// The client speaks the OpenAI-compatible speech API: a JSON request naming a
// model, a voice and the input text, answered with raw MPEG audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/podcast-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/audio/speech"
	apiHealth         = "/v1/models"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	contentTypeMPEG     = core.AudioContentType
	bearerPrefix        = "Bearer "
)

// Default values.
const (
	defaultModel          = "tts-1"
	defaultResponseFormat = "mp3"
	defaultTimeout        = 90 * time.Second

	// MaxInputLength is the largest prompt, in characters, the speech endpoint accepts.
	MaxInputLength = 4096
)

// Error messages.
const (
	errFmtUnexpectedContentType = "expected audio/*, got %q"
	errFmtServiceErrorWithCode  = "speech service error (%s): %s (type: %s, code: %s)"
	errFmtServiceNonOKStatus    = "speech service returned non-OK status: %s, body: %s"
)

var (
	// ErrTextEmpty is returned when the input text is empty.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrTextTooLong is returned when the input exceeds MaxInputLength.
	ErrTextTooLong = errors.New("text exceeds the maximum input length")
	// ErrEmptyAudio is returned when the service answers with no audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrUnexpectedContentType is returned when the response is not audio.
	ErrUnexpectedContentType = errors.New("unexpected content type")
)

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient is a client for the remote speech generation endpoint.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// SpeechRequest defines the JSON payload of a speech generation request.
type SpeechRequest struct {
	// Model names the speech model, e.g. "tts-1".
	Model string `json:"model"`

	// Input is the text to speak.
	Input string `json:"input"`

	// Voice selects the synthetic voice.
	Voice string `json:"voice"`

	// ResponseFormat selects the audio encoding. Always "mp3" here.
	ResponseFormat string `json:"response_format"`

	// Speed is optional; zero leaves the service default.
	Speed float64 `json:"speed,omitempty"`
}

// ErrorResponse is the error envelope returned by the speech service.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewHTTPClient creates and configures a client for the speech service.
// The BaseURL should include the protocol (e.g., "https://api.openai.com").
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateSpeech implements core.SpeechGenerator.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, voice core.Voice, input string) ([]byte, error) {
	return c.Synthesize(ctx, SpeechRequest{
		Model:          c.model,
		Input:          input,
		Voice:          string(voice),
		ResponseFormat: defaultResponseFormat,
		Speed:          0,
	})
}

// Synthesize sends a speech request and returns the raw audio data.
//
// The returned audio is MPEG encoded. Callers are responsible for storing or
// streaming it.
func (c *HTTPClient) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrTextEmpty
	}

	if len([]rune(req.Input)) > MaxInputLength {
		return nil, fmt.Errorf("%w: %d characters", ErrTextTooLong, len([]rune(req.Input)))
	}

	if req.Model == "" {
		req.Model = c.model
	}

	if req.ResponseFormat == "" {
		req.ResponseFormat = defaultResponseFormat
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to speech service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, "audio/") {
		return nil, fmt.Errorf("%w: "+errFmtUnexpectedContentType, ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the speech service is reachable and accepts the
// configured credentials.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)
	}
}

// parseErrorResponse decodes the structured error envelope, falling back to
// the raw body so diagnostic information is preserved.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := parseJSON(body, &errorResp)
	if err == nil && errorResp.Error.Message != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Error.Message, errorResp.Error.Type, errorResp.Error.Code)
	}

	return fmt.Errorf(
		errFmtServiceNonOKStatus,
		resp.Status,
		strings.TrimSpace(string(body)),
	)
}
