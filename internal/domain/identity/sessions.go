package identity

import (
	"sync"
	"time"
)

// sessionSet tracks the sessions issued by this instance, so a new auth
// state subscription can report whether the user is signed in.
type sessionSet struct {
	mu   sync.Mutex
	byID map[string]map[string]time.Time // user id -> jti -> expiry
}

func newSessionSet() *sessionSet {
	return &sessionSet{byID: make(map[string]map[string]time.Time)}
}

func (s *sessionSet) add(userID, jti string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[userID] == nil {
		s.byID[userID] = make(map[string]time.Time)
	}
	s.byID[userID][jti] = expiresAt
}

func (s *sessionSet) remove(userID, jti string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID[userID], jti)
	if len(s.byID[userID]) == 0 {
		delete(s.byID, userID)
	}
}

// active reports whether userID holds an unexpired session, dropping
// expired entries on the way.
func (s *sessionSet) active(userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := false
	for jti, exp := range s.byID[userID] {
		if now.After(exp) {
			delete(s.byID[userID], jti)
			continue
		}
		live = true
	}
	if len(s.byID[userID]) == 0 {
		delete(s.byID, userID)
	}
	return live
}
