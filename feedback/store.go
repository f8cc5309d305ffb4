package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/feedbackvos/idgen"
	feedbackerrors "github.com/hazyhaar/feedbackvos/internal/errors"
)

// Store keeps open form sessions in memory and tears down the ones left
// idle for longer than the idle timeout.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     SessionDeps
	newID    idgen.Generator
	idle     time.Duration
	logger   *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(deps SessionDeps, idle time.Duration, newID idgen.Generator) *Store {
	if newID == nil {
		newID = idgen.Default
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*Session),
		deps:     deps,
		newID:    newID,
		idle:     idle,
		logger:   deps.Logger,
	}
}

// Create opens a new session.
func (st *Store) Create() *Session {
	s := NewSession(st.newID(), st.deps)
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get returns an open session.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return nil, feedbackerrors.NewNotFound("session", id)
	}
	return s, nil
}

// Delete closes and forgets a session.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of open sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep closes sessions idle for longer than the idle timeout and returns
// how many were closed.
func (st *Store) Sweep() int {
	cutoff := st.deps.Now().Add(-st.idle)
	var stale []*Session
	st.mu.Lock()
	for id, s := range st.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()
	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		st.logger.Info("feedback: swept idle sessions", "count", len(stale))
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

// Close tears down every session.
func (st *Store) Close() {
	st.mu.Lock()
	all := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
