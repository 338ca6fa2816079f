package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/logging"
)

const (
	// ContextKeyAPIKey holds the validated *APIKey in the gin context.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyCaller holds the bound chain.Address in the gin context.
	ContextKeyCaller = "authCaller"
)

type callerKey struct{}

// WithCaller attaches an authenticated caller to ctx.
func WithCaller(ctx context.Context, addr chain.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (chain.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(chain.Address)
	return addr, ok && addr != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "unauthorized", "message": msg},
	})
}

// Middleware resolves the API key from Authorization or X-API-Key. Requests
// without a key continue anonymously; a presented but invalid key is
// rejected.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}
		if raw == "" {
			c.Next()
			return
		}

		key, err := m.ValidateKey(c.Request.Context(), raw)
		if err != nil {
			unauthorized(c, "invalid or expired API key")
			return
		}
		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyCaller, key.Address)
		ctx := WithCaller(c.Request.Context(), key.Address)
		c.Request = c.Request.WithContext(logging.WithCaller(ctx, string(key.Address)))
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			unauthorized(c, "API key required. Include 'Authorization: Bearer sk_...' header.")
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the validated key, if any.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}

// Caller returns the authenticated address or "".
func Caller(c *gin.Context) chain.Address {
	if key, ok := GetAPIKey(c); ok {
		return key.Address
	}
	return ""
}

// IsAuthenticated reports whether a valid key was presented.
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetAPIKey(c)
	return ok
}
