package web

import (
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/podcast"
)

const (
	defaultSessionIdleTimeout = 24 * time.Hour
	maxSweepInterval          = time.Minute
)

// SessionsConfig configures a Sessions registry.
type SessionsConfig struct {
	// Notifier receives toasts for every session. Optional.
	Notifier core.Notifier
	// Timeout bounds one generation cycle.
	Timeout time.Duration
	// IdleTimeout evicts sessions that were not touched for longer. Sessions
	// with a generation in flight are kept. Zero uses a day.
	IdleTimeout time.Duration
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

type sessionEntry struct {
	orchestrator *podcast.Orchestrator
	lastSeen     time.Time
}

// Sessions owns one orchestrator per active session. Read-only lookups never
// create one, and idle sessions are swept out as new ones arrive.
type Sessions struct {
	pipeline    *podcast.Pipeline
	notifier    core.Notifier
	timeout     time.Duration
	idleTimeout time.Duration
	now         func() time.Time
	log         *logger.Logger

	mu        sync.Mutex
	entries   map[string]*sessionEntry
	lastSweep time.Time
}

// NewSessions creates an empty session registry.
func NewSessions(pipeline *podcast.Pipeline, cfg SessionsConfig, log *logger.Logger) *Sessions {
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultSessionIdleTimeout
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Sessions{
		pipeline:    pipeline,
		notifier:    cfg.Notifier,
		timeout:     cfg.Timeout,
		idleTimeout: idleTimeout,
		now:         now,
		log:         log,
		mu:          sync.Mutex{},
		entries:     make(map[string]*sessionEntry),
		lastSweep:   now(),
	}
}

// Orchestrator returns the session's orchestrator, creating it on first use.
func (s *Sessions) Orchestrator(sessionID string) *podcast.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	entry, ok := s.entries[sessionID]
	if ok {
		entry.lastSeen = now

		return entry.orchestrator
	}

	s.sweepLocked(now)

	entry = &sessionEntry{
		orchestrator: podcast.NewOrchestrator(s.pipeline, podcast.OrchestratorConfig{
			SessionID: sessionID,
			Notifier:  s.notifier,
			Timeout:   s.timeout,
		}, s.log),
		lastSeen: now,
	}
	s.entries[sessionID] = entry

	return entry.orchestrator
}

// Lookup returns the session's orchestrator if it exists.
func (s *Sessions) Lookup(sessionID string) (*podcast.Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return nil, false
	}

	entry.lastSeen = s.now()

	return entry.orchestrator, true
}

// Len returns the number of known sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// sweepLocked drops idle sessions, at most once per sweep interval.
func (s *Sessions) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < min(s.idleTimeout, maxSweepInterval) {
		return
	}

	s.lastSweep = now

	for sessionID, entry := range s.entries {
		if now.Sub(entry.lastSeen) <= s.idleTimeout || entry.orchestrator.State().IsGenerating {
			continue
		}

		delete(s.entries, sessionID)
	}
}
