package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// Role is the privilege class a presented token maps to.
type Role int

const (
	RoleNone Role = iota
	RoleCaller
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleCaller:
		return "caller"
	default:
		return "none"
	}
}

var (
	ErrMissingCredentials = errors.New("missing Authorization header")
	ErrMalformedHeader    = errors.New("invalid Authorization header format, expected 'Bearer <token>'")
)

// Gate classifies tokens. It is immutable after construction and safe for
// concurrent use.
type Gate struct {
	adminKey   []byte
	callerKeys [][]byte
}

// NewGate builds a gate. An empty admin key disables admin access.
func NewGate(adminKey string, callerKeys []string) *Gate {
	g := &Gate{}
	if adminKey != "" {
		g.adminKey = []byte(adminKey)
	}
	for _, k := range callerKeys {
		if k == "" {
			continue
		}
		g.callerKeys = append(g.callerKeys, []byte(k))
	}
	return g
}

// AdminEnabled reports whether an admin secret is configured.
func (g *Gate) AdminEnabled() bool {
	return len(g.adminKey) > 0
}

// Classify maps a token to its role. Every configured key is compared so the
// time taken does not depend on which key matched.
func (g *Gate) Classify(token string) Role {
	if token == "" {
		return RoleNone
	}
	t := []byte(token)

	role := RoleNone
	for _, k := range g.callerKeys {
		if subtle.ConstantTimeCompare(t, k) == 1 {
			role = RoleCaller
		}
	}
	if len(g.adminKey) > 0 && subtle.ConstantTimeCompare(t, g.adminKey) == 1 {
		role = RoleAdmin
	}
	return role
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingCredentials
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}
