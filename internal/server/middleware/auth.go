package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/auth"
	"github.com/nulzo/uniapi/pkg/api"
)

// ContextKeyRole holds the auth.Role of the authenticated request.
const ContextKeyRole = "auth_role"

func bearerRole(c *gin.Context, gate *auth.Gate) (auth.Role, error) {
	token, err := auth.ParseBearer(c.GetHeader("Authorization"))
	if err != nil {
		return auth.RoleNone, err
	}
	return gate.Classify(token), nil
}

// RequireAPIKey admits caller and admin bearer tokens. Anything else is
// rejected before the handler runs.
func RequireAPIKey(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := bearerRole(c, gate)
		if err != nil {
			_ = c.Error(api.AuthenticationError(capitalize(err.Error())))
			c.Abort()
			return
		}
		if role == auth.RoleNone {
			_ = c.Error(api.AuthenticationError("Invalid API key"))
			c.Abort()
			return
		}

		c.Set(ContextKeyRole, role)
		c.Next()
	}
}

// RequireAdmin admits an admin bearer token or a live admin session cookie.
// A caller token gets 403. When loginPath is set, requests carrying no
// credentials at all are redirected there instead of rejected.
func RequireAdmin(gate *auth.Gate, sessions *auth.Sessions, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := c.Cookie(auth.SessionCookie); err == nil && sessions.Valid(id) {
			c.Set(ContextKeyRole, auth.RoleAdmin)
			c.Next()
			return
		}

		role, err := bearerRole(c, gate)
		switch {
		case errors.Is(err, auth.ErrMissingCredentials) && loginPath != "":
			c.Redirect(http.StatusSeeOther, loginPath)
			c.Abort()
		case err != nil:
			_ = c.Error(api.AuthenticationError(capitalize(err.Error())))
			c.Abort()
		case role == auth.RoleCaller:
			_ = c.Error(api.AuthorizationError("This API key is not allowed to manage providers"))
			c.Abort()
		case role == auth.RoleAdmin:
			c.Set(ContextKeyRole, role)
			c.Next()
		default:
			_ = c.Error(api.AuthenticationError("Invalid API key"))
			c.Abort()
		}
	}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
