package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	domainchat "campusfound/internal/domain/chat"
)

const principalContextKey = "campusfound.principal"

// IdentityResolver turns a bearer token into a user profile. The identity
// provider itself is an external collaborator; this core only consumes the
// resolved identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (domainchat.Profile, error)
}

type principal struct {
	ID        string
	FirstName string
	LastName  string
}

func (p principal) DisplayName() string {
	return domainchat.Profile{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName}.DisplayName()
}

// AuthMiddleware resolves the Authorization header into a request principal.
// Requests without a valid token pass through unauthenticated; handlers that
// need a principal reject them.
type AuthMiddleware struct {
	Resolver IdentityResolver
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Resolver == nil {
		c.Next()
		return
	}
	profile, err := m.Resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token resolution failed", "error", err)
		}
		c.Next()
		return
	}
	c.Set(principalContextKey, principal{
		ID:        profile.ID,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
	})
	c.Next()
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requirePrincipal(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
