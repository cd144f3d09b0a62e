// Package session keeps one pipeline per user session and evicts sessions
// that have been idle longer than the configured TTL.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"restyle-studio/internal/pipeline"
)

const defaultTTL = 60 * time.Minute

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID           string
	Pipeline     *pipeline.Orchestrator
	CreatedAt    time.Time
	LastActivity time.Time
}

type Options struct {
	TTL time.Duration
	// New builds the pipeline of a fresh session.
	New    func(id string) *pipeline.Orchestrator
	Logger *zerolog.Logger
	Now    func() time.Time
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl    time.Duration
	build  func(id string) *pipeline.Orchestrator
	logger zerolog.Logger
	now    func() time.Time
}

func NewStore(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	build := opts.New
	if build == nil {
		build = func(string) *pipeline.Orchestrator { return pipeline.New(pipeline.Options{}) }
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "session").Logger()
	}

	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		build:    build,
		logger:   logger,
		now:      now,
	}
}

// Create starts a session under a new random id.
func (s *Store) Create() *Session {
	return s.GetOrCreate(uuid.NewString())
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess.LastActivity = s.now()
	return sess, nil
}

func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = now
		return sess
	}

	sess := &Session{
		ID:           id,
		Pipeline:     s.build(id),
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[id] = sess
	s.logger.Debug().Str("session_id", id).Msg("session created")
	return sess
}

// Delete removes the session and cancels its in-flight run, if any.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Pipeline.Reset()
	}
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than the TTL. Sessions with a run in
// flight are kept regardless of age.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.LastActivity.After(cutoff) {
			continue
		}
		if sess.Pipeline.Snapshot().Phase.Active() {
			continue
		}
		expired = append(expired, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Pipeline.Reset()
		s.logger.Debug().Str("session_id", sess.ID).Msg("session expired")
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info().Int("evicted", n).Int("remaining", s.Len()).Msg("sessions swept")
			}
		}
	}
}
