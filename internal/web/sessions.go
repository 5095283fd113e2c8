package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/recall/internal/session"
)

type liveSession struct {
	s        *session.Session
	lastSeen time.Time
}

// registry holds the in-progress sessions. Sessions idle for longer than
// ttl are dropped, which is the same as abandoning them.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
	ttl      time.Duration
	now      func() time.Time
}

func newRegistry(ttl time.Duration) *registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &registry{
		sessions: make(map[string]*liveSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *registry) add(s *session.Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	id := uuid.NewString()
	r.sessions[id] = &liveSession{s: s, lastSeen: r.now()}
	return id
}

// get returns the session only to the learner who started it.
func (r *registry) get(id, learnerID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	ls, ok := r.sessions[id]
	if !ok || ls.s.LearnerID() != learnerID {
		return nil, false
	}
	ls.lastSeen = r.now()
	return ls.s, true
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *registry) pruneLocked() {
	cutoff := r.now().Add(-r.ttl)
	for id, ls := range r.sessions {
		if ls.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
