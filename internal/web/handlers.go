package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/book-expert/podcast-service/internal/auth"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/player"
	"github.com/book-expert/podcast-service/internal/podcast"
	"github.com/book-expert/podcast-service/internal/records"
	"github.com/book-expert/podcast-service/internal/tts/ttsutils"
	"github.com/gin-gonic/gin"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"
)

// GenerateResponse is the body of POST /api/podcast/generate.
type GenerateResponse struct {
	State  podcast.PlaybackState `json:"state"`
	Result *podcast.Result       `json:"result,omitempty"`
	Toast  *core.Toast           `json:"toast,omitempty"`
	Error  string                `json:"error,omitempty"`
}

type durationRequest struct {
	Seconds *float64 `json:"seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type pageData struct {
	State    podcast.PlaybackState
	Voices   []core.Voice
	Duration string
}

func (s *Server) orchestrator(c *gin.Context) *podcast.Orchestrator {
	return s.deps.Sessions.Orchestrator(auth.SessionID(c))
}

// sessionState reads the session's state without registering the session.
func (s *Server) sessionState(c *gin.Context) podcast.PlaybackState {
	orchestrator, ok := s.deps.Sessions.Lookup(auth.SessionID(c))
	if !ok {
		return podcast.PlaybackState{}
	}

	return orchestrator.State()
}

func (s *Server) handleIndex(c *gin.Context) {
	state := s.sessionState(c)

	c.HTML(http.StatusOK, "index.html", pageData{
		State:    state,
		Voices:   core.Voices(),
		Duration: ttsutils.FormatDuration(state.AudioDurationSeconds),
	})
}

func (s *Server) handleVoices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"voices": core.Voices()})
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req core.GenerationRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenerateResponse{
			State:  s.sessionState(c),
			Result: nil,
			Toast:  nil,
			Error:  err.Error(),
		})

		return
	}

	orchestrator := s.orchestrator(c)

	// The cycle outlives a disconnected client; the orchestrator's timeout bounds it.
	ctx := context.WithoutCancel(c.Request.Context())

	result, err := orchestrator.Generate(ctx, req)

	response := GenerateResponse{
		State:  orchestrator.State(),
		Result: result,
		Toast:  nil,
		Error:  "",
	}

	switch {
	case result != nil && result.Stale:
		if err != nil {
			response.Error = err.Error()
		}

		c.JSON(http.StatusConflict, response)
	case errors.Is(err, podcast.ErrValidation):
		response.Toast = podcast.ToastFor(err)
		response.Error = err.Error()
		c.JSON(http.StatusBadRequest, response)
	case err != nil:
		response.Toast = podcast.ToastFor(err)
		response.Error = err.Error()
		c.JSON(http.StatusBadGateway, response)
	default:
		response.Toast = podcast.ToastFor(nil)
		c.JSON(http.StatusOK, response)
	}
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionState(c))
}

func (s *Server) handleDuration(c *gin.Context) {
	var req durationRequest

	err := c.ShouldBindJSON(&req)
	if err != nil || req.Seconds == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: podcast.ErrInvalidDuration.Error()})

		return
	}

	orchestrator, ok := s.deps.Sessions.Lookup(auth.SessionID(c))
	if !ok {
		c.JSON(http.StatusConflict, errorResponse{Error: podcast.ErrNoAudio.Error()})

		return
	}

	err = orchestrator.SetAudioDuration(*req.Seconds)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, podcast.ErrNoAudio) {
			status = http.StatusConflict
		}

		c.JSON(status, errorResponse{Error: err.Error()})

		return
	}

	c.JSON(http.StatusOK, orchestrator.State())
}

func (s *Server) handleReset(c *gin.Context) {
	orchestrator, ok := s.deps.Sessions.Lookup(auth.SessionID(c))
	if !ok {
		c.JSON(http.StatusOK, podcast.PlaybackState{})

		return
	}

	orchestrator.Reset()

	c.JSON(http.StatusOK, orchestrator.State())
}

func (s *Server) handleGetPlayer(c *gin.Context) {
	track, ok := s.deps.Players.Get(auth.SessionID(c))
	if !ok {
		c.Status(http.StatusNoContent)

		return
	}

	c.JSON(http.StatusOK, track)
}

func (s *Server) handleSetPlayer(c *gin.Context) {
	var track player.Track

	err := c.ShouldBindJSON(&track)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	err = s.deps.Players.Set(auth.SessionID(c), track)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	c.JSON(http.StatusOK, track)
}

func (s *Server) handleClearPlayer(c *gin.Context) {
	s.deps.Players.Clear(auth.SessionID(c))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreatePodcast(c *gin.Context) {
	var input records.CreateInput

	err := c.ShouldBindJSON(&input)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	saved, err := s.deps.Records.Create(c.Request.Context(), auth.SessionID(c), input)
	if err != nil {
		s.writeRecordsError(c, err)

		return
	}

	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleListPodcasts(c *gin.Context) {
	podcasts, err := s.deps.Records.List(c.Request.Context(), auth.SessionID(c))
	if err != nil {
		s.writeRecordsError(c, err)

		return
	}

	if podcasts == nil {
		podcasts = []records.Podcast{}
	}

	c.JSON(http.StatusOK, gin.H{"podcasts": podcasts})
}

func (s *Server) handleGetPodcast(c *gin.Context) {
	saved, err := s.deps.Records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeRecordsError(c, err)

		return
	}

	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeletePodcast(c *gin.Context) {
	podcastID := c.Param("id")

	err := s.deps.Records.Delete(c.Request.Context(), auth.SessionID(c), podcastID)
	if err != nil {
		s.writeRecordsError(c, err)

		return
	}

	s.deps.Players.ClearPodcast(podcastID)
	c.Status(http.StatusNoContent)
}

func (s *Server) writeRecordsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, records.ErrForbidden):
		c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, records.ErrTitleEmpty),
		errors.Is(err, records.ErrStorageIDEmpty),
		errors.Is(err, records.ErrAudioNotFound):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.log.Error("Podcast records request failed: %v", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) handleNotifications(c *gin.Context) {
	s.deps.Hub.ServeWS(c.Writer, c.Request, auth.SessionID(c))
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	report := gin.H{
		"status":         healthStatusOK,
		"generator":      healthStatusOK,
		"storage":        healthStatusOK,
		"sessions":       s.deps.Sessions.Len(),
		"pendingUploads": s.deps.Storage.PendingUploads(),
	}

	if s.deps.Generator != nil {
		err := s.deps.Generator.HealthCheck(ctx)
		if err != nil {
			report["generator"] = err.Error()
			report["status"] = healthStatusDegraded
			status = http.StatusServiceUnavailable
		}
	}

	err := s.deps.Storage.Healthy(ctx)
	if err != nil {
		report["storage"] = err.Error()
		report["status"] = healthStatusDegraded
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, report)
}
