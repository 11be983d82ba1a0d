package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// SessionCookie carries the admin session id.
	SessionCookie = "uniapi_session"

	// RememberTTL is the session lifetime when the user asks to be remembered.
	RememberTTL = 30 * 24 * time.Hour
)

// Sessions holds admin browser sessions in memory. Sessions do not survive a
// restart and are not shared between instances.
type Sessions struct {
	cache *gocache.Cache
	ttl   time.Duration
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{
		cache: gocache.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

// Create opens a session and returns its id and lifetime.
func (s *Sessions) Create(remember bool) (string, time.Duration, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", 0, fmt.Errorf("failed to generate session id: %w", err)
	}
	id := hex.EncodeToString(buf)

	ttl := s.ttl
	if remember {
		ttl = RememberTTL
	}
	s.cache.Set(id, time.Now().Add(ttl), ttl)
	return id, ttl, nil
}

// Valid reports whether id names a live session.
func (s *Sessions) Valid(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.cache.Get(id)
	return ok
}

func (s *Sessions) Revoke(id string) {
	s.cache.Delete(id)
}

// Count returns the number of live sessions.
func (s *Sessions) Count() int {
	return s.cache.ItemCount()
}
