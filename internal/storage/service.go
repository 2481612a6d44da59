// Package storage implements the upload protocol used to persist generated
// audio: one-time upload URLs, opaque storage identifiers and resolution of an
// identifier to a playback URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/google/uuid"
)

// Route prefixes shared by the handlers and the URLs the service hands out.
const (
	uploadPathPrefix = "/api/uploads/"
	objectPathPrefix = "/api/storage/"

	// healthCheckKey is a key that never exists; a not-found answer proves the store is reachable.
	healthCheckKey = "health-check"
)

var (
	// ErrUploadURLNotFound is returned for unknown or already used upload tokens.
	ErrUploadURLNotFound = errors.New("upload url not found or already used")
	// ErrUploadURLExpired is returned when an upload token outlived its TTL.
	ErrUploadURLExpired = errors.New("upload url expired")
	// ErrEmptyUpload is returned when an upload carries no bytes.
	ErrEmptyUpload = errors.New("upload body is empty")
	// ErrStorageIDNotFound is returned when a storage identifier is unknown.
	ErrStorageIDNotFound = errors.New("storage id not found")
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// PublicBaseURL prefixes every URL the service hands out.
	PublicBaseURL string
	// UploadURLTTL bounds the lifetime of a one-time upload URL.
	UploadURLTTL time.Duration
	// SignedURLTTL bounds presigned playback URLs when the store can sign.
	SignedURLTTL time.Duration
}

// Service issues upload URLs, accepts uploads and resolves storage identifiers.
type Service struct {
	store         core.ObjectStore
	signer        core.URLSigner
	log           *logger.Logger
	publicBaseURL string
	uploadURLTTL  time.Duration
	signedURLTTL  time.Duration
	now           func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewService creates a storage service on top of an object store. If the store
// also implements core.URLSigner, resolved URLs are presigned direct links.
func NewService(store core.ObjectStore, cfg ServiceConfig, log *logger.Logger) *Service {
	signer, _ := store.(core.URLSigner)

	return &Service{
		store:         store,
		signer:        signer,
		log:           log,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		uploadURLTTL:  cfg.UploadURLTTL,
		signedURLTTL:  cfg.SignedURLTTL,
		now:           time.Now,
		mu:            sync.Mutex{},
		pending:       make(map[string]time.Time),
	}
}

// GenerateUploadURL issues a one-time URL that accepts a single POST upload.
func (s *Service) GenerateUploadURL(_ context.Context) (string, error) {
	token := uuid.NewString()

	s.mu.Lock()
	s.evictExpiredLocked()
	s.pending[token] = s.now().Add(s.uploadURLTTL)
	s.mu.Unlock()

	return s.publicBaseURL + uploadPathPrefix + token, nil
}

// Store consumes an upload token and persists data under a new storage identifier.
func (s *Service) Store(ctx context.Context, token, contentType string, data []byte) (string, error) {
	err := s.consumeToken(token)
	if err != nil {
		return "", err
	}

	if len(data) == 0 {
		return "", ErrEmptyUpload
	}

	storageID := uuid.NewString()

	err = s.store.Upload(ctx, storageID, data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	s.log.Info("Stored %d bytes (%s) as %s", len(data), contentType, storageID)

	return storageID, nil
}

// Upload runs both protocol steps in process and returns the storage identifier.
func (s *Service) Upload(ctx context.Context, file core.AudioFile) (string, error) {
	uploadURL, err := s.GenerateUploadURL(ctx)
	if err != nil {
		return "", err
	}

	token := strings.TrimPrefix(uploadURL, s.publicBaseURL+uploadPathPrefix)

	storageID, err := s.Store(ctx, token, file.ContentType, file.Data)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", file.Name, err)
	}

	return storageID, nil
}

// ResolveURL returns the playback URL for a storage identifier, or an empty
// string with a nil error when the identifier is unknown.
func (s *Service) ResolveURL(ctx context.Context, storageID string) (string, error) {
	_, err := s.Stat(ctx, storageID)
	if err != nil {
		if errors.Is(err, ErrStorageIDNotFound) {
			return "", nil
		}

		return "", err
	}

	if s.signer != nil {
		signed, signErr := s.signer.SignedURL(ctx, storageID, s.signedURLTTL)
		if signErr != nil {
			return "", fmt.Errorf("failed to sign url for %s: %w", storageID, signErr)
		}

		return signed, nil
	}

	return s.publicBaseURL + objectPathPrefix + storageID, nil
}

// Stat returns the metadata of a stored object.
func (s *Service) Stat(ctx context.Context, storageID string) (*core.ObjectInfo, error) {
	if !validStorageID(storageID) {
		return nil, fmt.Errorf("%w: '%s'", ErrStorageIDNotFound, storageID)
	}

	info, err := s.store.Stat(ctx, storageID)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s'", ErrStorageIDNotFound, storageID)
		}

		return nil, fmt.Errorf("failed to stat %s: %w", storageID, err)
	}

	return info, nil
}

// Open returns a stored object's metadata together with its bytes.
func (s *Service) Open(ctx context.Context, storageID string) (*core.ObjectInfo, []byte, error) {
	info, err := s.Stat(ctx, storageID)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.store.Download(ctx, storageID)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, nil, fmt.Errorf("%w: '%s'", ErrStorageIDNotFound, storageID)
		}

		return nil, nil, fmt.Errorf("failed to download %s: %w", storageID, err)
	}

	return info, data, nil
}

// Delete removes a stored object. Unknown identifiers are not an error.
func (s *Service) Delete(ctx context.Context, storageID string) error {
	if !validStorageID(storageID) {
		return nil
	}

	err := s.store.Delete(ctx, storageID)
	if err != nil && !errors.Is(err, core.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete %s: %w", storageID, err)
	}

	return nil
}

// Healthy reports whether the underlying object store answers requests.
func (s *Service) Healthy(ctx context.Context) error {
	_, err := s.store.Stat(ctx, healthCheckKey)
	if err != nil && !errors.Is(err, core.ErrObjectNotFound) {
		return fmt.Errorf("object store unavailable: %w", err)
	}

	return nil
}

// PendingUploads returns the number of issued, unconsumed upload URLs.
func (s *Service) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	return len(s.pending)
}

func (s *Service) consumeToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.pending[token]
	if !ok {
		return ErrUploadURLNotFound
	}

	delete(s.pending, token)

	if s.now().After(expiresAt) {
		return ErrUploadURLExpired
	}

	return nil
}

// evictExpiredLocked drops tokens that expired more than one TTL ago so that
// a late upload still reports expiry rather than an unknown token.
func (s *Service) evictExpiredLocked() {
	cutoff := s.now().Add(-s.uploadURLTTL)

	for token, expiresAt := range s.pending {
		if expiresAt.Before(cutoff) {
			delete(s.pending, token)
		}
	}
}

func validStorageID(storageID string) bool {
	_, err := uuid.Parse(storageID)

	return err == nil
}
