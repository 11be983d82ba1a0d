package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions(t *testing.T) {
	s := NewSessions(0)

	id, ttl, err := s.Create(false)
	require.NoError(t, err)
	assert.Len(t, id, 64)
	assert.Equal(t, s.ttl, ttl)
	assert.True(t, s.Valid(id))

	remembered, ttl, err := s.Create(true)
	require.NoError(t, err)
	assert.Equal(t, RememberTTL, ttl)
	assert.NotEqual(t, id, remembered)
	assert.Equal(t, 2, s.Count())

	s.Revoke(id)
	assert.False(t, s.Valid(id))
	assert.False(t, s.Valid(""))
	assert.False(t, s.Valid("unknown"))
}
