package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// PrincipalKey is the context key for the verified principal ID
	PrincipalKey ContextKey = "auth_principal"
)

// Middleware guards HTTP handlers with bearer-token verification.
type Middleware struct {
	verifier TokenVerifier
	enabled  bool
}

// NewMiddleware builds a Middleware. With a nil verifier authentication is
// disabled and every request passes.
func NewMiddleware(v TokenVerifier) *Middleware {
	return &Middleware{verifier: v, enabled: v != nil}
}

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		principal, err := m.authenticate(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}

		c.Set(string(PrincipalKey), principal)
		c.Next()
	}
}

// authenticate extracts and validates the bearer token from an HTTP request.
func (m *Middleware) authenticate(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrInvalidToken
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidToken
	}
	return m.verifier.Verify(parts[1])
}
