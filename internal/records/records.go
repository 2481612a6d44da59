// Package records persists the podcasts users keep after generating them.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a podcast record does not exist.
	ErrNotFound = errors.New("podcast not found")
	// ErrForbidden is returned when a session acts on another author's podcast.
	ErrForbidden = errors.New("podcast belongs to another author")
	// ErrTitleEmpty is returned when a podcast has no title.
	ErrTitleEmpty = errors.New("podcast title cannot be empty")
	// ErrStorageIDEmpty is returned when a podcast has no audio.
	ErrStorageIDEmpty = errors.New("podcast audio storage id cannot be empty")
	// ErrAudioNotFound is returned when the audio storage id does not resolve.
	ErrAudioNotFound = errors.New("podcast audio not found in storage")
)

// Podcast is a saved podcast.
type Podcast struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id" dynamodbav:"id"`
	AuthorID             string    `gorm:"size:255;not null;index" json:"authorId" dynamodbav:"author_id"`
	Title                string    `gorm:"size:255;not null" json:"title" dynamodbav:"title"`
	Description          string    `gorm:"type:text" json:"description" dynamodbav:"description"`
	Prompt               string    `gorm:"type:text" json:"prompt" dynamodbav:"prompt"`
	Voice                string    `gorm:"size:32" json:"voice" dynamodbav:"voice"`
	AudioStorageID       string    `gorm:"size:64;not null" json:"audioStorageId" dynamodbav:"audio_storage_id"`
	AudioURL             string    `gorm:"type:text" json:"audioUrl" dynamodbav:"audio_url"`
	AudioDurationSeconds float64   `json:"audioDurationSeconds" dynamodbav:"audio_duration_seconds"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"createdAt" dynamodbav:"created_at"`
}

// Repository stores podcast records.
type Repository interface {
	Create(ctx context.Context, podcast *Podcast) error
	Get(ctx context.Context, id string) (*Podcast, error)
	ListByAuthor(ctx context.Context, authorID string) ([]Podcast, error)
	Delete(ctx context.Context, id string) error
}

// AudioDeleter removes stored audio.
type AudioDeleter interface {
	Delete(ctx context.Context, storageID string) error
}

// CreateInput is the user supplied part of a new record.
type CreateInput struct {
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Prompt               string     `json:"prompt"`
	Voice                core.Voice `json:"voice"`
	AudioStorageID       string     `json:"audioStorageId"`
	AudioDurationSeconds float64    `json:"audioDurationSeconds"`
}

// Service applies ownership and storage rules on top of a Repository.
type Service struct {
	repo     Repository
	resolver core.URLResolver
	audio    AudioDeleter
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates a records service.
func NewService(repo Repository, resolver core.URLResolver, audio AudioDeleter, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		audio:    audio,
		log:      log,
		now:      time.Now,
	}
}

// Create saves a podcast for authorID after resolving its audio URL.
func (s *Service) Create(ctx context.Context, authorID string, input CreateInput) (*Podcast, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrTitleEmpty
	}

	if input.AudioStorageID == "" {
		return nil, ErrStorageIDEmpty
	}

	audioURL, err := s.resolver.ResolveURL(ctx, input.AudioStorageID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audio for podcast: %w", err)
	}

	if audioURL == "" {
		return nil, fmt.Errorf("%w: '%s'", ErrAudioNotFound, input.AudioStorageID)
	}

	podcast := &Podcast{
		ID:                   uuid.NewString(),
		AuthorID:             authorID,
		Title:                title,
		Description:          strings.TrimSpace(input.Description),
		Prompt:               input.Prompt,
		Voice:                string(input.Voice),
		AudioStorageID:       input.AudioStorageID,
		AudioURL:             audioURL,
		AudioDurationSeconds: input.AudioDurationSeconds,
		CreatedAt:            s.now().UTC(),
	}

	err = s.repo.Create(ctx, podcast)
	if err != nil {
		return nil, fmt.Errorf("failed to save podcast: %w", err)
	}

	s.log.Info("Saved podcast %s (%s) for author %s", podcast.ID, podcast.Title, authorID)

	return podcast, nil
}

// Get returns a podcast by id.
func (s *Service) Get(ctx context.Context, id string) (*Podcast, error) {
	return s.repo.Get(ctx, id)
}

// List returns the podcasts of an author, newest first.
func (s *Service) List(ctx context.Context, authorID string) ([]Podcast, error) {
	return s.repo.ListByAuthor(ctx, authorID)
}

// Delete removes a podcast owned by authorID together with its audio.
func (s *Service) Delete(ctx context.Context, authorID, id string) error {
	podcast, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if podcast.AuthorID != authorID {
		return ErrForbidden
	}

	err = s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}

	if s.audio != nil {
		err = s.audio.Delete(ctx, podcast.AudioStorageID)
		if err != nil {
			s.log.Warn("Podcast %s deleted but its audio %s was not: %v", id, podcast.AudioStorageID, err)
		}
	}

	return nil
}
