package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/book-expert/podcast-service/internal/tts/ttsutils"
	"github.com/gin-gonic/gin"
)

// maxUploadBytes caps a single upload body.
const maxUploadBytes = 64 << 20

const defaultUploadContentType = "application/octet-stream"

// UploadURLResponse is the body returned when an upload URL is issued.
type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
}

// UploadResponse is the body returned after a successful upload.
type UploadResponse struct {
	StorageID string `json:"storageId"`
}

// URLResponse is the body returned by URL resolution.
type URLResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes mounts the upload protocol on a gin router.
func (s *Service) RegisterRoutes(routes gin.IRoutes) {
	routes.POST("/api/storage/upload-url", s.handleGenerateUploadURL)
	routes.POST(uploadPathPrefix+":token", s.handleUpload)
	routes.GET(objectPathPrefix+":id/url", s.handleResolveURL)
	routes.GET(objectPathPrefix+":id", s.handleDownload)
}

func (s *Service) handleGenerateUploadURL(c *gin.Context) {
	uploadURL, err := s.GenerateUploadURL(c.Request.Context())
	if err != nil {
		s.log.Error("Failed to issue upload url: %v", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})

		return
	}

	c.JSON(http.StatusOK, UploadURLResponse{UploadURL: uploadURL})
}

func (s *Service) handleUpload(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	data, err := io.ReadAll(body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})

		return
	}

	contentType := c.ContentType()
	if contentType == "" {
		contentType = defaultUploadContentType
	}

	storageID, err := s.Store(c.Request.Context(), c.Param("token"), contentType, data)
	if err != nil {
		c.JSON(uploadErrorStatus(err), errorResponse{Error: err.Error()})

		return
	}

	c.JSON(http.StatusOK, UploadResponse{StorageID: storageID})
}

func (s *Service) handleResolveURL(c *gin.Context) {
	resolved, err := s.ResolveURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.log.Error("Failed to resolve storage id %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})

		return
	}

	if resolved == "" {
		c.JSON(http.StatusNotFound, errorResponse{Error: ErrStorageIDNotFound.Error()})

		return
	}

	c.JSON(http.StatusOK, URLResponse{URL: resolved})
}

func (s *Service) handleDownload(c *gin.Context) {
	storageID := c.Param("id")

	info, data, err := s.Open(c.Request.Context(), storageID)
	if err != nil {
		if errors.Is(err, ErrStorageIDNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})

			return
		}

		s.log.Error("Failed to open storage id %s: %v", storageID, err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})

		return
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = defaultUploadContentType
	}

	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", ttsutils.SanitizeFilename(storageID)))
	c.Data(http.StatusOK, contentType, data)
}

func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrUploadURLNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUploadURLExpired):
		return http.StatusGone
	case errors.Is(err, ErrEmptyUpload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
