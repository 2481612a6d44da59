// Package worker exposes podcast generation over NATS request/reply.
//
// Each request is handled on a bounded goroutine pool. The requester gets a
// GenerateReplyEvent; successful generations are also announced on the
// generated subject for any other interested service.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/podcast"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
)

const defaultHandleTimeout = 120 * time.Second

var (
	// ErrSubjectEmpty indicates that the worker has no subject to listen on.
	ErrSubjectEmpty = errors.New("worker subject cannot be empty")
	// ErrPoolNil indicates that the worker was built without a goroutine pool.
	ErrPoolNil = errors.New("worker pool cannot be nil")
)

// GenerateRequestEvent asks the worker to run one generation cycle.
type GenerateRequestEvent struct {
	Header events.EventHeader `json:"header"`
	Voice  core.Voice         `json:"voice"`
	Prompt string             `json:"prompt"`
}

// GenerateReplyEvent answers a GenerateRequestEvent. Error and Stage are set
// when the cycle failed; StorageID may be set even then.
type GenerateReplyEvent struct {
	Header    events.EventHeader `json:"header"`
	FileName  string             `json:"file_name,omitempty"`
	StorageID string             `json:"storage_id,omitempty"`
	AudioURL  string             `json:"audio_url,omitempty"`
	Bytes     int                `json:"bytes,omitempty"`
	Stage     string             `json:"stage,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// PodcastGeneratedEvent announces a podcast that is ready for playback.
type PodcastGeneratedEvent struct {
	Header    events.EventHeader `json:"header"`
	Voice     core.Voice         `json:"voice"`
	StorageID string             `json:"storage_id"`
	AudioURL  string             `json:"audio_url"`
}

// Generator runs a full generation cycle.
type Generator interface {
	Run(ctx context.Context, req core.GenerationRequest) (*podcast.Result, error)
}

// Config configures a NatsWorker.
type Config struct {
	Subject          string
	GeneratedSubject string
	Timeout          time.Duration
}

// NatsWorker listens for generation requests on a NATS subject.
type NatsWorker struct {
	natsConnection   *nats.Conn
	subject          string
	generatedSubject string
	timeout          time.Duration
	generator        Generator
	pool             *ants.Pool
	log              *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. The pool is owned by
// the caller.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	generator Generator,
	pool *ants.Pool,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if pool == nil {
		return nil, ErrPoolNil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection:   natsConnection,
		subject:          cfg.Subject,
		generatedSubject: cfg.GeneratedSubject,
		timeout:          timeout,
		generator:        generator,
		pool:             pool,
		log:              log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Worker listening on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	err := w.pool.Submit(func() {
		w.process(msg)
	})
	if err != nil {
		w.log.Error("Failed to schedule generation request: %v", err)
		w.reply(msg, &GenerateReplyEvent{
			Header: newReplyHeader(events.EventHeader{}),
			Error:  fmt.Sprintf("worker unavailable: %v", err),
		})
	}
}

func (w *NatsWorker) process(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse generation request: %v", err)
		w.reply(msg, &GenerateReplyEvent{
			Header: newReplyHeader(events.EventHeader{}),
			Stage:  string(podcast.StageValidation),
			Error:  err.Error(),
		})

		return
	}

	w.log.Info("Generating podcast for workflow %s (voice %s)", event.Header.WorkflowID, event.Voice)

	result, err := w.generator.Run(ctx, core.GenerationRequest{Voice: event.Voice, Prompt: event.Prompt})

	reply := &GenerateReplyEvent{Header: newReplyHeader(event.Header)}
	if result != nil {
		reply.FileName = result.FileName
		reply.StorageID = result.StorageID
		reply.AudioURL = result.AudioURL
		reply.Bytes = result.Bytes
	}

	if err != nil {
		w.log.Error("Generation failed for workflow %s: %v", event.Header.WorkflowID, err)
		reply.Stage = string(podcast.StageOf(err))
		reply.Error = err.Error()
		w.reply(msg, reply)

		return
	}

	w.reply(msg, reply)
	w.announce(event, result)
}

func (w *NatsWorker) reply(msg *nats.Msg, reply *GenerateReplyEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) announce(event *GenerateRequestEvent, result *podcast.Result) {
	if w.generatedSubject == "" {
		return
	}

	generated := &PodcastGeneratedEvent{
		Header:    newReplyHeader(event.Header),
		Voice:     event.Voice,
		StorageID: result.StorageID,
		AudioURL:  result.AudioURL,
	}

	data, err := json.Marshal(generated)
	if err != nil {
		w.log.Error("Failed to marshal generated event: %v", err)

		return
	}

	err = w.natsConnection.Publish(w.generatedSubject, data)
	if err != nil {
		w.log.Error("Failed to publish generated event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

func parseEvent(msg *nats.Msg) (*GenerateRequestEvent, error) {
	var event GenerateRequestEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// newReplyHeader keeps the workflow and tenant of the request and stamps a
// fresh event id.
func newReplyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}
