// Package core defines the core business types and interfaces for the podcast service.
package core

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by object stores when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Key         string
	ContentType string
	Size        int64
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// URLSigner is implemented by object stores that can hand out time-limited
// direct download URLs.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// SpeechGenerator turns a prompt into raw audio bytes using the given voice.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, voice Voice, input string) ([]byte, error)
}

// Uploader transmits a file through the storage upload protocol and returns
// the storage identifier issued for it.
type Uploader interface {
	Upload(ctx context.Context, file AudioFile) (string, error)
}

// URLResolver maps a storage identifier to a playback URL. An empty URL with a
// nil error means the identifier is unknown.
type URLResolver interface {
	ResolveURL(ctx context.Context, storageID string) (string, error)
}

// Notifier delivers transient notifications to a session.
type Notifier interface {
	Notify(sessionID string, toast Toast)
}
