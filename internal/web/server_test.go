package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/auth"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/notify"
	"github.com/book-expert/podcast-service/internal/player"
	"github.com/book-expert/podcast-service/internal/podcast"
	"github.com/book-expert/podcast-service/internal/records"
	"github.com/book-expert/podcast-service/internal/storage"
	"github.com/book-expert/podcast-service/internal/web"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://podcasts.test"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
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

func (m *memoryStore) Upload(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data
	m.types[key] = contentType

	return nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (*core.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, core.ErrObjectNotFound
	}

	return &core.ObjectInfo{Key: key, ContentType: m.types[key], Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// fakeGenerator echoes the prompt as audio. Prompts with a gate announce
// themselves on started and block until the gate is closed.
type fakeGenerator struct {
	err     error
	gates   map[string]chan struct{}
	started chan string
}

func (g *fakeGenerator) GenerateSpeech(_ context.Context, _ core.Voice, input string) ([]byte, error) {
	if gate, ok := g.gates[input]; ok {
		g.started <- input
		<-gate
	}

	if g.err != nil {
		return nil, g.err
	}

	return []byte("ID3:" + input), nil
}

func (g *fakeGenerator) HealthCheck(_ context.Context) error {
	return g.err
}

type memoryRepository struct {
	mu       sync.Mutex
	podcasts map[string]records.Podcast
}

func (r *memoryRepository) Create(_ context.Context, podcast *records.Podcast) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.podcasts[podcast.ID] = *podcast

	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*records.Podcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	podcast, ok := r.podcasts[id]
	if !ok {
		return nil, records.ErrNotFound
	}

	return &podcast, nil
}

func (r *memoryRepository) ListByAuthor(_ context.Context, authorID string) ([]records.Podcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var podcasts []records.Podcast

	for _, podcast := range r.podcasts {
		if podcast.AuthorID == authorID {
			podcasts = append(podcasts, podcast)
		}
	}

	return podcasts, nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.podcasts[id]; !ok {
		return records.ErrNotFound
	}

	delete(r.podcasts, id)

	return nil
}

type testClient struct {
	t        *testing.T
	handler  http.Handler
	sessions *web.Sessions
	cookies  []*http.Cookie
}

func (tc *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	tc.t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(tc.t, json.NewEncoder(&payload).Encode(body))
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")

	for _, cookie := range tc.cookies {
		req.AddCookie(cookie)
	}

	recorder := httptest.NewRecorder()
	tc.handler.ServeHTTP(recorder, req)

	if cookies := recorder.Result().Cookies(); len(cookies) > 0 {
		tc.cookies = cookies
	}

	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &value))

	return value
}

func newTestClient(t *testing.T, generator *fakeGenerator) *testClient {
	t.Helper()

	log, err := logger.New(t.TempDir(), "web-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	store := &memoryStore{objects: make(map[string][]byte), types: make(map[string]string)}
	storageService := storage.NewService(store, storage.ServiceConfig{
		PublicBaseURL: testBaseURL,
		UploadURLTTL:  time.Minute,
		SignedURLTTL:  time.Hour,
	}, log)

	pipeline := podcast.NewPipeline(podcast.PipelineConfig{
		Generator:       generator,
		Uploader:        storageService,
		Resolver:        storageService,
		Preprocessor:    nil,
		MaxPromptLength: 4096,
		NewFileName:     nil,
	}, log)

	hub := notify.NewHub(web.OriginChecker([]string{"*"}), log)
	repo := &memoryRepository{podcasts: make(map[string]records.Podcast)}
	sessions := web.NewSessions(pipeline, web.SessionsConfig{
		Notifier:    hub,
		Timeout:     5 * time.Second,
		IdleTimeout: time.Hour,
		Now:         nil,
	}, log)

	server, err := web.NewServer(web.Config{
		ListenAddr:      ":0",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}, web.Dependencies{
		Sessions:      sessions,
		Storage:       storageService,
		Records:       records.NewService(repo, storageService, storageService, log),
		Players:       player.NewRegistry(),
		Hub:           hub,
		Authenticator: auth.NewCookieAuthenticator(false),
		Generator:     generator,
	}, log)
	require.NoError(t, err)

	return &testClient{t: t, handler: server.Handler(), sessions: sessions, cookies: nil}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	recorder := client.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "AI Prompt to generate Podcast")
	assert.Contains(t, recorder.Body.String(), `<option value="shimmer">`)
	assert.NotContains(t, recorder.Body.String(), "<audio id=\"podcast-audio\" controls autoplay src=")
	require.Len(t, client.cookies, 1)
	assert.Equal(t, auth.SessionCookieName, client.cookies[0].Name)
}

func TestIndexPage_RendersSubmittedForm(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	recorder := client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{
		Voice:  core.VoiceShimmer,
		Prompt: "Tales of <the> sea",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	page := client.do(http.MethodGet, "/", nil).Body.String()
	assert.Contains(t, page, `<option value="shimmer" selected>`)
	assert.Contains(t, page, `<option value="alloy">`)
	assert.Contains(t, page, "Tales of &lt;the&gt; sea</textarea>")

	state := decode[podcast.PlaybackState](t, client.do(http.MethodGet, "/api/podcast/state", nil))
	assert.Equal(t, "Tales of <the> sea", state.Prompt)
	assert.Equal(t, core.VoiceShimmer, state.Voice)
}

func TestReadsDoNotRegisterSessions(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	for range 50 {
		anonymous := &testClient{t: t, handler: client.handler, sessions: client.sessions, cookies: nil}

		require.Equal(t, http.StatusOK, anonymous.do(http.MethodGet, "/", nil).Code)
		require.Equal(t, http.StatusOK, anonymous.do(http.MethodGet, "/api/podcast/state", nil).Code)
		require.Equal(t, http.StatusOK, anonymous.do(http.MethodPost, "/api/podcast/reset", nil).Code)
		require.Equal(t, http.StatusConflict,
			anonymous.do(http.MethodPost, "/api/podcast/duration", map[string]float64{"seconds": 3}).Code)
	}

	assert.Zero(t, client.sessions.Len())

	recorder := client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{Voice: core.VoiceAlloy, Prompt: "Hi"})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, client.sessions.Len())
}

func TestGenerate_SupersededFailureIsConflict(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{
		err:     errors.New("quota exceeded"),
		gates:   map[string]chan struct{}{"first": make(chan struct{})},
		started: make(chan string, 1),
	}
	client := newTestClient(t, generator)
	require.Equal(t, http.StatusOK, client.do(http.MethodGet, "/", nil).Code)

	firstDone := make(chan *httptest.ResponseRecorder, 1)

	go func() {
		body := strings.NewReader(`{"voice":"alloy","prompt":"first"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/podcast/generate", body)
		req.Header.Set("Content-Type", "application/json")

		for _, cookie := range client.cookies {
			req.AddCookie(cookie)
		}

		recorder := httptest.NewRecorder()
		client.handler.ServeHTTP(recorder, req)
		firstDone <- recorder
	}()

	<-generator.started

	recorder := client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{Voice: core.VoiceAlloy, Prompt: "second"})
	require.Equal(t, http.StatusBadGateway, recorder.Code)

	close(generator.gates["first"])

	first := <-firstDone
	require.Equal(t, http.StatusConflict, first.Code, first.Body.String())

	response := decode[web.GenerateResponse](t, first)
	require.NotNil(t, response.Result)
	assert.True(t, response.Result.Stale)
	assert.Nil(t, response.Toast)
	assert.Contains(t, response.Error, "quota exceeded")
	assert.Equal(t, "second", response.State.Prompt)
}

func TestGenerate_SuccessPublishesPlayableURL(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	recorder := client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{
		Voice:  core.VoiceAlloy,
		Prompt: "Hello world",
	})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	response := decode[web.GenerateResponse](t, recorder)
	require.NotNil(t, response.Result)
	require.NotNil(t, response.Toast)
	assert.Equal(t, podcast.ToastGenerated, response.Toast.Title)
	assert.False(t, response.State.IsGenerating)
	assert.Equal(t, testBaseURL+"/api/storage/"+response.Result.StorageID, response.State.AudioURL)

	audio := client.do(http.MethodGet, strings.TrimPrefix(response.State.AudioURL, testBaseURL), nil)
	require.Equal(t, http.StatusOK, audio.Code)
	assert.Equal(t, core.AudioContentType, audio.Header().Get("Content-Type"))
	assert.Equal(t, "ID3:Hello world", audio.Body.String())

	page := client.do(http.MethodGet, "/", nil)
	assert.Contains(t, page.Body.String(), response.State.AudioURL)

	resolved := client.do(http.MethodGet, "/api/storage/"+response.Result.StorageID+"/url", nil)
	require.Equal(t, http.StatusOK, resolved.Code)
	assert.Equal(t, response.State.AudioURL, decode[storage.URLResponse](t, resolved).URL)
}

func TestGenerate_Validation(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	recorder := client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{Voice: core.VoiceAlloy, Prompt: "  "})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	response := decode[web.GenerateResponse](t, recorder)
	require.NotNil(t, response.Toast)
	assert.Equal(t, podcast.ToastPromptRequired, response.Toast.Title)
	assert.False(t, response.State.IsGenerating)

	recorder = client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{Voice: "robot", Prompt: "Hello"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, podcast.ToastVoiceRequired, decode[web.GenerateResponse](t, recorder).Toast.Title)
}

func TestGenerate_RemoteFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{err: errors.New("quota exceeded")})

	recorder := client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{Voice: core.VoiceAlloy, Prompt: "Hello"})
	require.Equal(t, http.StatusBadGateway, recorder.Code)

	response := decode[web.GenerateResponse](t, recorder)
	require.NotNil(t, response.Toast)
	assert.Equal(t, podcast.ToastGenerationFailed, response.Toast.Title)
	assert.Equal(t, core.ToastDestructive, response.Toast.Variant)
	assert.Empty(t, response.State.AudioURL)
	assert.False(t, response.State.IsGenerating)
}

func TestDurationAndReset(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	recorder := client.do(http.MethodPost, "/api/podcast/duration", map[string]float64{"seconds": 12})
	require.Equal(t, http.StatusConflict, recorder.Code)

	recorder = client.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{Voice: core.VoiceNova, Prompt: "Hi"})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = client.do(http.MethodPost, "/api/podcast/duration", map[string]float64{"seconds": -1})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = client.do(http.MethodPost, "/api/podcast/duration", map[string]any{})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = client.do(http.MethodPost, "/api/podcast/duration", map[string]float64{"seconds": 61.5})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.InDelta(t, 61.5, decode[podcast.PlaybackState](t, recorder).AudioDurationSeconds, 0.001)

	recorder = client.do(http.MethodPost, "/api/podcast/reset", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, decode[podcast.PlaybackState](t, recorder).AudioURL)

	state := client.do(http.MethodGet, "/api/podcast/state", nil)
	assert.Empty(t, decode[podcast.PlaybackState](t, state).AudioURL)
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{}
	first := newTestClient(t, generator)

	recorder := first.do(http.MethodPost, "/api/podcast/generate", core.GenerationRequest{Voice: core.VoiceEcho, Prompt: "Mine"})
	require.Equal(t, http.StatusOK, recorder.Code)

	second := &testClient{t: t, handler: first.handler, sessions: first.sessions, cookies: nil}

	state := decode[podcast.PlaybackState](t, second.do(http.MethodGet, "/api/podcast/state", nil))
	assert.Empty(t, state.AudioURL)
}

func TestVoices(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	recorder := client.do(http.MethodGet, "/api/voices", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decode[map[string][]core.Voice](t, recorder)
	assert.Equal(t, core.Voices(), body["voices"])
}

func TestPlayer(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	require.Equal(t, http.StatusNoContent, client.do(http.MethodGet, "/api/player", nil).Code)
	require.Equal(t, http.StatusBadRequest, client.do(http.MethodPut, "/api/player", player.Track{Title: "x"}).Code)

	track := player.Track{PodcastID: "p1", Title: "Episode", AudioURL: "https://cdn/p1.mp3"}
	require.Equal(t, http.StatusOK, client.do(http.MethodPut, "/api/player", track).Code)

	recorder := client.do(http.MethodGet, "/api/player", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, track, decode[player.Track](t, recorder))

	require.Equal(t, http.StatusNoContent, client.do(http.MethodDelete, "/api/player", nil).Code)
	require.Equal(t, http.StatusNoContent, client.do(http.MethodGet, "/api/player", nil).Code)
}

func TestPodcastRecords(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeGenerator{})

	generated := decode[web.GenerateResponse](t, client.do(http.MethodPost, "/api/podcast/generate",
		core.GenerationRequest{Voice: core.VoiceOnyx, Prompt: "Episode one"}))
	require.NotNil(t, generated.Result)

	recorder := client.do(http.MethodPost, "/api/podcasts", records.CreateInput{
		Title:          "Episode one",
		Prompt:         "Episode one",
		Voice:          core.VoiceOnyx,
		AudioStorageID: generated.Result.StorageID,
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	saved := decode[records.Podcast](t, recorder)
	assert.Equal(t, generated.State.AudioURL, saved.AudioURL)

	recorder = client.do(http.MethodPost, "/api/podcasts", records.CreateInput{
		Title:          "Ghost",
		AudioStorageID: "6f1c2d0e-8a3b-4c2f-9d7e-0b1a2c3d4e5f",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	list := decode[map[string][]records.Podcast](t, client.do(http.MethodGet, "/api/podcasts", nil))
	require.Len(t, list["podcasts"], 1)

	require.Equal(t, http.StatusOK, client.do(http.MethodGet, "/api/podcasts/"+saved.ID, nil).Code)

	require.Equal(t, http.StatusOK, client.do(http.MethodPut, "/api/player", player.Track{
		PodcastID: saved.ID, Title: saved.Title, AudioURL: saved.AudioURL,
	}).Code)

	stranger := &testClient{t: t, handler: client.handler, cookies: nil}
	require.Equal(t, http.StatusForbidden, stranger.do(http.MethodDelete, "/api/podcasts/"+saved.ID, nil).Code)

	require.Equal(t, http.StatusNoContent, client.do(http.MethodDelete, "/api/podcasts/"+saved.ID, nil).Code)
	require.Equal(t, http.StatusNotFound, client.do(http.MethodGet, "/api/podcasts/"+saved.ID, nil).Code)
	require.Equal(t, http.StatusNoContent, client.do(http.MethodGet, "/api/player", nil).Code)

	audio := client.do(http.MethodGet, "/api/storage/"+generated.Result.StorageID, nil)
	assert.Equal(t, http.StatusNotFound, audio.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := newTestClient(t, &fakeGenerator{})
	recorder := healthy.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.InDelta(t, 0, decode[map[string]any](t, recorder)["pendingUploads"], 0)

	require.Equal(t, http.StatusOK, healthy.do(http.MethodPost, "/api/storage/upload-url", nil).Code)
	recorder = healthy.do(http.MethodGet, "/health", nil)
	assert.InDelta(t, 1, decode[map[string]any](t, recorder)["pendingUploads"], 0)

	broken := newTestClient(t, &fakeGenerator{err: errors.New("unreachable")})
	recorder = broken.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, recorder)["status"])
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()

	check := web.OriginChecker([]string{"https://app.example"})

	req := httptest.NewRequest(http.MethodGet, "http://api.example/ws/notifications", http.NoBody)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	req.Header.Set("Origin", "http://api.example")
	assert.True(t, check(req))
}
