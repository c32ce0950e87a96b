package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/response"
	"github.com/stemsi/certify-backend/internal/service"
)

// Context keys set by RequireAttemptSession.
const (
	ContextKeyBinding = "attempt_binding"
)

// SessionResolver resolves a credential into its bound attempt.
type SessionResolver interface {
	Resolve(ctx context.Context, cred service.Credential) (*service.Binding, error)
}

// SessionCookie describes the attempt session cookie.
type SessionCookie struct {
	Name   string
	Path   string
	Secure bool
}

// NewSessionCookie builds the cookie settings from config.
func NewSessionCookie(cfg *config.Config) SessionCookie {
	return SessionCookie{Name: cfg.SessionCookieName, Path: cfg.SessionCookiePath, Secure: cfg.SessionCookieSecure}
}

// Set writes an HTTP-only, path-scoped cookie that expires with the credential.
func (sc SessionCookie) Set(c *gin.Context, b *service.Binding) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sc.Name,
		Value:    string(b.Credential),
		Path:     sc.Path,
		Expires:  b.ExpiresAt,
		MaxAge:   int(time.Until(b.ExpiresAt).Seconds()),
		Secure:   sc.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the cookie on the client.
func (sc SessionCookie) Clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sc.Name,
		Value:    "",
		Path:     sc.Path,
		MaxAge:   -1,
		Secure:   sc.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Credential returns the raw credential from the request cookie, or "".
func (sc SessionCookie) Credential(c *gin.Context) service.Credential {
	v, err := c.Cookie(sc.Name)
	if err != nil {
		return ""
	}
	return service.Credential(v)
}

// RequireAttemptSession resolves the session cookie and stores the binding
// in the context. Requests without a live credential are rejected with 401.
func RequireAttemptSession(sc SessionCookie, resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := sc.Credential(c)
		if cred == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrAttemptSessionRequired)
			return
		}

		binding, err := resolver.Resolve(c.Request.Context(), cred)
		if err != nil {
			if errors.Is(err, service.ErrCredentialInvalid) {
				sc.Clear(c)
				response.AbortFail(c, http.StatusUnauthorized, response.ErrAttemptSessionRequired)
				return
			}
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}

		c.Set(ContextKeyBinding, binding)
		c.Next()
	}
}

// GetBinding returns the binding set by RequireAttemptSession, or nil.
func GetBinding(c *gin.Context) *service.Binding {
	v, ok := c.Get(ContextKeyBinding)
	if !ok {
		return nil
	}
	b, _ := v.(*service.Binding)
	return b
}
