package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/storage"
	"github.com/book-expert/podcast-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		args        []string
		wantErr     error
		wantPrompt  string
		wantVoice   string
		wantTimeout time.Duration
	}{
		{
			name:        "prompt with defaults",
			args:        []string{"--prompt", "Hello, world!"},
			wantPrompt:  "Hello, world!",
			wantVoice:   defaultVoice,
			wantTimeout: defaultTimeout,
		},
		{
			name:        "prompt with voice and timeout",
			args:        []string{"--prompt", "Hi", "--voice", "nova", "--timeout", "5s"},
			wantPrompt:  "Hi",
			wantVoice:   "nova",
			wantTimeout: 5 * time.Second,
		},
		{name: "nothing requested", args: []string{}, wantErr: ErrEitherPromptOrUpload},
		{name: "both requested", args: []string{"--prompt", "Hi", "--upload", "a.mp3"}, wantErr: ErrCannotSpecifyBoth},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags, err := parseFlags(testCase.args)
			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.wantPrompt, flags.prompt)
			assert.Equal(t, testCase.wantVoice, flags.voice)
			assert.Equal(t, testCase.wantTimeout, flags.timeout)
		})
	}
}

func TestRequestGeneration(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	sub, err := natsConnection.Subscribe(defaultSubject, func(msg *nats.Msg) {
		var event worker.GenerateRequestEvent
		if json.Unmarshal(msg.Data, &event) != nil {
			return
		}

		reply := worker.GenerateReplyEvent{Header: event.Header, StorageID: "abc123", AudioURL: "https://cdn.test/abc123"}
		if event.Prompt == "fail" {
			reply = worker.GenerateReplyEvent{Header: event.Header, Stage: "generation", Error: "quota exceeded"}
		}

		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flags := appFlags{prompt: "Hello", voice: "echo", subject: defaultSubject}

	reply, err := requestGeneration(ctx, natsConnection, flags)
	require.NoError(t, err)
	assert.Equal(t, "abc123", reply.StorageID)
	assert.NotEmpty(t, reply.Header.WorkflowID)

	flags.prompt = "fail"

	reply, err = requestGeneration(ctx, natsConnection, flags)
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, "generation", reply.Stage)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, core.ErrObjectNotFound
	}

	return data, nil
}

func (m *memoryStore) Upload(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (*core.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, core.ErrObjectNotFound
	}

	return &core.ObjectInfo{Key: key, ContentType: core.AudioContentType, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "client-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	router := gin.New()
	httpServer := httptest.NewServer(router)
	t.Cleanup(httpServer.Close)

	service := storage.NewService(&memoryStore{objects: make(map[string][]byte)}, storage.ServiceConfig{
		PublicBaseURL: httpServer.URL,
		UploadURLTTL:  time.Minute,
		SignedURLTTL:  time.Hour,
	}, log)
	service.RegisterRoutes(router)

	audioPath := filepath.Join(t.TempDir(), "episode.mp3")
	require.NoError(t, os.WriteFile(audioPath, []byte("ID3 audio"), 0o600))

	var out bytes.Buffer

	err = uploadFile(context.Background(), appFlags{
		upload:  audioPath,
		server:  httpServer.URL,
		timeout: 5 * time.Second,
	}, log, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Storage ID: ")
	assert.Contains(t, out.String(), httpServer.URL+"/api/storage/")
	assert.Equal(t, 1, strings.Count(out.String(), "Audio URL:"))

	err = uploadFile(context.Background(), appFlags{
		upload:  filepath.Join(t.TempDir(), "missing.mp3"),
		server:  httpServer.URL,
		timeout: time.Second,
	}, log, &out)
	require.ErrorIs(t, err, os.ErrNotExist)
}
