// Command podcast-client generates podcasts through a running podcast-service.
//
// It either asks the service's NATS worker to generate audio from a prompt,
// or uploads an existing audio file through the HTTP storage protocol.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/storage"
	"github.com/book-expert/podcast-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagPromptDesc  = "Prompt to generate a podcast from"
	flagVoiceDesc   = "Voice to generate with (alloy, echo, fable, onyx, nova, shimmer)"
	flagUploadDesc  = "Audio file to upload instead of generating"
	flagNATSDesc    = "NATS server URL"
	flagSubjectDesc = "NATS subject the service listens on"
	flagServerDesc  = "Base URL of the podcast-service HTTP API"
	flagTokenDesc   = "Bearer token for the HTTP API"
	flagTimeoutDesc = "How long to wait for the service"
)

// Flag names.
const (
	flagPrompt  = "prompt"
	flagVoice   = "voice"
	flagUpload  = "upload"
	flagNATS    = "nats-url"
	flagSubject = "subject"
	flagServer  = "server"
	flagToken   = "token"
	flagTimeout = "timeout"
)

// Defaults.
const (
	defaultVoice   = string(core.VoiceAlloy)
	defaultSubject = "podcast.generate"
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 2 * time.Minute
	logFileName    = "podcast-client.log"
)

// Error and output messages.
const (
	errEitherPromptOrUpload = "either --prompt or --upload must be provided"
	errCannotSpecifyBoth    = "cannot specify both --prompt and --upload"
	errFmtGenerationFailed  = "generation failed at %s stage: %s"
	errFmtUploadFailed      = "failed to upload %s: %w"
	outFmtStorageID         = "Storage ID: %s\n"
	outFmtAudioURL          = "Audio URL:  %s\n"
)

var (
	// ErrEitherPromptOrUpload is returned when no action was requested.
	ErrEitherPromptOrUpload = errors.New(errEitherPromptOrUpload)
	// ErrCannotSpecifyBoth is returned when both actions were requested.
	ErrCannotSpecifyBoth = errors.New(errCannotSpecifyBoth)
	// ErrGenerationFailed is returned when the service replied with an error.
	ErrGenerationFailed = errors.New("generation failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	prompt  string
	voice   string
	upload  string
	natsURL string
	subject string
	server  string
	token   string
	timeout time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	if flags.upload != "" {
		return uploadFile(ctx, flags, log, out)
	}

	natsConnection, err := nats.Connect(flags.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}
	defer natsConnection.Close()

	reply, err := requestGeneration(ctx, natsConnection, flags)
	if err != nil {
		log.Error("Generation request failed: %v", err)

		return err
	}

	log.Info("Generated podcast %s for workflow %s", reply.StorageID, reply.Header.WorkflowID)
	fmt.Fprintf(out, outFmtStorageID, reply.StorageID)
	fmt.Fprintf(out, outFmtAudioURL, reply.AudioURL)

	return nil
}

// parseFlags parses args into appFlags and checks that exactly one action was requested.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("podcast-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.prompt, flagPrompt, "", flagPromptDesc)
	flagSet.StringVar(&flags.voice, flagVoice, defaultVoice, flagVoiceDesc)
	flagSet.StringVar(&flags.upload, flagUpload, "", flagUploadDesc)
	flagSet.StringVar(&flags.natsURL, flagNATS, nats.DefaultURL, flagNATSDesc)
	flagSet.StringVar(&flags.subject, flagSubject, defaultSubject, flagSubjectDesc)
	flagSet.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	flagSet.StringVar(&flags.token, flagToken, "", flagTokenDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	if flags.prompt == "" && flags.upload == "" {
		return flags, ErrEitherPromptOrUpload
	}

	if flags.prompt != "" && flags.upload != "" {
		return flags, ErrCannotSpecifyBoth
	}

	return flags, nil
}

// requestGeneration sends one generation request and waits for its reply.
func requestGeneration(ctx context.Context, natsConnection *nats.Conn, flags appFlags) (*worker.GenerateReplyEvent, error) {
	event := worker.GenerateRequestEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Voice:  core.Voice(flags.voice),
		Prompt: flags.prompt,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.RequestWithContext(ctx, flags.subject, data)
	if err != nil {
		return nil, fmt.Errorf("failed to request generation on %s: %w", flags.subject, err)
	}

	var reply worker.GenerateReplyEvent

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	if reply.Error != "" {
		return &reply, fmt.Errorf("%w: "+errFmtGenerationFailed, ErrGenerationFailed, reply.Stage, reply.Error)
	}

	return &reply, nil
}

// uploadFile pushes a local audio file through the upload protocol and prints
// its playback URL.
func uploadFile(ctx context.Context, flags appFlags, log *logger.Logger, out io.Writer) error {
	data, err := os.ReadFile(flags.upload)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", flags.upload, err)
	}

	client := storage.NewHTTPClient(flags.server, flags.token, flags.timeout)

	storageID, err := client.Upload(ctx, core.AudioFile{
		Name:        filepath.Base(flags.upload),
		ContentType: core.AudioContentType,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf(errFmtUploadFailed, flags.upload, err)
	}

	audioURL, err := client.ResolveURL(ctx, storageID)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", storageID, err)
	}

	log.Info("Uploaded %s as %s", flags.upload, storageID)
	fmt.Fprintf(out, outFmtStorageID, storageID)
	fmt.Fprintf(out, outFmtAudioURL, audioURL)

	return nil
}
