package agent

import (
	"sync"
	"time"

	"github.com/habubridge/habubridge/internal/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Session is the per-conversation context remembered between turns
type Session struct {
	ID             string
	LastQueryID    string
	LastTemplateID string
	Turns          []models.Message
	UpdatedAt      time.Time
}

// SessionStore keeps sessions in a size-bounded LRU whose entries also
// expire after a fixed age
type SessionStore struct {
	mu       sync.Mutex
	lru      *expirable.LRU[string, *Session]
	maxTurns int
	now      func() time.Time
}

// NewSessionStore creates a store holding at most size sessions for ttl
func NewSessionStore(size int, ttl time.Duration, maxTurns int) *SessionStore {
	if size <= 0 {
		size = 1000
	}
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &SessionStore{
		lru:      expirable.NewLRU[string, *Session](size, nil, ttl),
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// Snapshot returns a copy of the session, or an empty one for a new id
func (s *SessionStore) Snapshot(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lru.Get(id)
	if !ok {
		return &Session{ID: id}
	}
	cp := *sess
	cp.Turns = append([]models.Message(nil), sess.Turns...)
	return &cp
}

// Update applies fn to the stored session, creating it if needed
func (s *SessionStore) Update(id string, fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lru.Get(id)
	if !ok {
		sess = &Session{ID: id}
	}
	fn(sess)
	if len(sess.Turns) > s.maxTurns {
		sess.Turns = append([]models.Message(nil), sess.Turns[len(sess.Turns)-s.maxTurns:]...)
	}
	sess.UpdatedAt = s.now()
	s.lru.Add(id, sess)
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	return s.lru.Len()
}
