package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type registryEntry struct {
	session *Session
	hub     *Hub
}

// Registry hosts at most one live session per attempt. Sessions are created
// on join, shared across reconnecting transports, and removed (with full
// teardown) when the attempt reaches a terminal state or the server shuts
// down.
type Registry struct {
	cfg Config
	gw  Gateway
	log zerolog.Logger

	mu        sync.Mutex
	byAttempt map[uuid.UUID]*registryEntry
	byStudent map[string]uuid.UUID
}

// NewRegistry creates an empty registry. Sessions it spawns use cfg with the
// registry's own teardown hook installed.
func NewRegistry(cfg Config, gw Gateway, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		gw:        gw,
		log:       log.With().Str("component", "session_registry").Logger(),
		byAttempt: make(map[uuid.UUID]*registryEntry),
		byStudent: make(map[string]uuid.UUID),
	}
}

func studentKey(examID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%s/%d", examID, studentID)
}

// Join returns the live session for (exam, student), creating one via the
// gateway when none exists. Rejoining an in-progress attempt resumes the
// existing engine rather than spawning a second writer.
func (r *Registry) Join(ctx context.Context, examID uuid.UUID, studentID int) (*Session, *Hub, error) {
	key := studentKey(examID, studentID)

	r.mu.Lock()
	if id, ok := r.byStudent[key]; ok {
		if e, live := r.byAttempt[id]; live {
			r.mu.Unlock()
			return e.session, e.hub, nil
		}
	}
	r.mu.Unlock()

	hub := NewHub()
	cfg := r.cfg
	cfg.OnTerminal = func(attemptID uuid.UUID) { r.remove(attemptID) }

	s, err := Join(ctx, cfg, r.gw, hub, examID, studentID)
	if err != nil {
		hub.Close()
		return nil, nil, err
	}

	attemptID := s.Attempt().ID

	r.mu.Lock()
	if existing, ok := r.byAttempt[attemptID]; ok {
		// Lost a concurrent join race; keep the established engine.
		r.mu.Unlock()
		s.Close()
		hub.Close()
		return existing.session, existing.hub, nil
	}
	r.byAttempt[attemptID] = &registryEntry{session: s, hub: hub}
	r.byStudent[key] = attemptID
	r.mu.Unlock()

	r.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("student_id", studentID).
		Msg("Session registered")
	return s, hub, nil
}

// Get returns the live session for an attempt, if any.
func (r *Registry) Get(attemptID uuid.UUID) (*Session, *Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byAttempt[attemptID]
	if !ok {
		return nil, nil, false
	}
	return e.session, e.hub, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAttempt)
}

// CloseAll tears down every live session, e.g. on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.byAttempt))
	for _, e := range r.byAttempt {
		entries = append(entries, e)
	}
	r.byAttempt = make(map[uuid.UUID]*registryEntry)
	r.byStudent = make(map[string]uuid.UUID)
	r.mu.Unlock()

	for _, e := range entries {
		e.session.Close()
		e.hub.Close()
	}
}

func (r *Registry) remove(attemptID uuid.UUID) {
	r.mu.Lock()
	e, ok := r.byAttempt[attemptID]
	if ok {
		delete(r.byAttempt, attemptID)
		a := e.session.Attempt()
		delete(r.byStudent, studentKey(a.ExamID, a.StudentID))
	}
	r.mu.Unlock()

	if ok {
		e.session.Close()
		e.hub.Close()
		r.log.Info().Str("attempt_id", attemptID.String()).Msg("Session removed")
	}
}
