// ABOUTME: Session record and in-memory registry keyed by session id.
// ABOUTME: The registry is the only shared mutable state between concurrent runs.

package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/porterhq/porter/transcript"
)

// Session holds one conversation's goal and execution history. The loop and
// the HTTP surface can hold the same session concurrently, so every mutable
// field is accessed through the methods below, which share one mutex.
type Session struct {
	ID             string             `json:"id"`
	Goal           string             `json:"goal"`
	History        []transcript.Entry `json:"history"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`

	mu sync.Mutex
}

// Touch updates the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActivityAt = time.Now()
	s.mu.Unlock()
}

// Append adds one history entry and refreshes the activity timestamp.
func (s *Session) Append(entry transcript.Entry) {
	s.mu.Lock()
	s.History = append(s.History, entry)
	s.LastActivityAt = time.Now()
	s.mu.Unlock()
}

// Snapshot returns a copy of the history safe to use outside the lock.
func (s *Session) Snapshot() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Entry, len(s.History))
	copy(out, s.History)
	return out
}

// HistoryLen returns the current history length.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.History)
}

// Clear empties the history in place.
func (s *Session) Clear() {
	s.mu.Lock()
	s.History = s.History[:0]
	s.LastActivityAt = time.Now()
	s.mu.Unlock()
}

// SetGoal replaces the session goal.
func (s *Session) SetGoal(goal string) {
	s.mu.Lock()
	s.Goal = goal
	s.LastActivityAt = time.Now()
	s.mu.Unlock()
}

// CurrentGoal returns the session goal.
func (s *Session) CurrentGoal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Goal
}

// LastActivity returns the activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivityAt
}

// Registry is a thread-safe map of session id to session record.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating it on first reference.
// An empty id allocates a fresh one.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := r.sessions[id]; ok {
		s.Touch()
		return s
	}
	now := time.Now()
	s := &Session{ID: id, CreatedAt: now, LastActivityAt: now}
	r.sessions[id] = s
	return s
}

// Get returns the session for id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// List returns all sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a session. Returns whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// ClearHistory empties a session's history in place. Returns whether the
// session existed.
func (r *Registry) ClearHistory(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.Clear()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
