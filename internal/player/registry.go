// Package player keeps the "now playing" track of every session, the global
// audio player shared by all pages of the application.
package player

import (
	"errors"
	"strings"
	"sync"
)

// ErrAudioURLEmpty is returned when a track has no audio URL.
var ErrAudioURLEmpty = errors.New("track audio url cannot be empty")

// Track is what the global audio player is playing.
type Track struct {
	PodcastID string `json:"podcastId,omitempty"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	AudioURL  string `json:"audioUrl"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// Registry maps session ids to their current track.
type Registry struct {
	mu     sync.RWMutex
	tracks map[string]Track
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:     sync.RWMutex{},
		tracks: make(map[string]Track),
	}
}

// Get returns the session's track.
func (r *Registry) Get(sessionID string) (Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	track, ok := r.tracks[sessionID]

	return track, ok
}

// Set replaces the session's track.
func (r *Registry) Set(sessionID string, track Track) error {
	if strings.TrimSpace(track.AudioURL) == "" {
		return ErrAudioURLEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracks[sessionID] = track

	return nil
}

// Clear stops playback for the session.
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tracks, sessionID)
}

// ClearPodcast stops playback of a podcast in every session, used when the
// podcast is deleted.
func (r *Registry) ClearPodcast(podcastID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0

	for sessionID, track := range r.tracks {
		if track.PodcastID != "" && track.PodcastID == podcastID {
			delete(r.tracks, sessionID)
			cleared++
		}
	}

	return cleared
}
