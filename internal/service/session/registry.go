package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/observability/logging"
	"ai-scribe-service/internal/schema"
)

// Registry maps live connections to their sessions. Sessions share nothing
// but the store, the provider factory and the publisher.
type Registry struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. Missing code generator and validator
// dependencies are filled with defaults.
func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Codes == nil {
		deps.Codes = NewCodeGenerator()
	}
	if deps.Validator == nil {
		deps.Validator = schema.New(cfg.MaxChunkDuration)
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		log:      logging.WithComponent("registry"),
		sessions: make(map[string]*Session),
	}
}

// Open creates a session for a new connection and greets the client.
func (r *Registry) Open(ownerID string, sink Sink) *Session {
	s := newSession(uuid.NewString(), ownerID, sink, r.cfg, r.deps)

	r.mu.Lock()
	r.sessions[s.id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.log.Info().Str("sessionId", s.id).Str("ownerId", ownerID).Int("active", count).Msg("Session opened")
	s.sendStatus(models.StatusConnected, "", "")
	return s
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close tears down one session and releases it once the drain finished.
func (r *Registry) Close(ctx context.Context, id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	s.Close(ctx)

	r.mu.Lock()
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()
	r.log.Info().Str("sessionId", id).Int("active", count).Msg("Session released")
}

// CloseAll tears down every session concurrently and waits for them.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if len(sessions) == 0 {
		return
	}
	r.log.Info().Int("sessions", len(sessions)).Msg("Closing all sessions")

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(ctx)
		}(s)
	}
	wg.Wait()
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
