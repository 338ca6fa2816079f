// Package security provides HTTP hardening for the SecurityGuard API:
// response headers, CORS, and outbound endpoint (SSRF) checks.
package security

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiHeaders go on every response. The API only speaks JSON, so the
// content policy forbids loading or framing anything, and verdicts are
// never cacheable.
var apiHeaders = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

const hstsValue = "max-age=63072000; includeSubDomains"

// HeadersMiddleware sets the hardening headers. HSTS is only sent when the
// request arrived over TLS, directly or through a proxy that says so.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range apiHeaders {
			h.Set(kv[0], kv[1])
		}
		if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		c.Next()
	}
}

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
	corsHeaders = "Authorization, Content-Type, X-API-Key, X-Admin-Secret, X-Request-ID"
	corsMaxAge  = strconv.Itoa(24 * 60 * 60)
)

// CORSPolicy decides which browser origins may call the API.
type CORSPolicy struct {
	origins  map[string]struct{}
	wildcard bool
}

// NewCORSPolicy builds a policy from an origin list. "*" admits any origin
// but disables credentialed requests.
func NewCORSPolicy(origins []string) *CORSPolicy {
	p := &CORSPolicy{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			p.wildcard = true
			continue
		}
		if o != "" {
			p.origins[strings.ToLower(o)] = struct{}{}
		}
	}
	return p
}

// Allows reports whether origin may make cross-origin calls.
func (p *CORSPolicy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.wildcard {
		return true
	}
	_, ok := p.origins[strings.ToLower(origin)]
	return ok
}

// Middleware applies the policy. Preflights from unknown origins are
// refused outright; simple requests pass through without CORS headers and
// the browser blocks the response.
func (p *CORSPolicy) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := p.Allows(origin)

		if !p.wildcard {
			c.Header("Vary", "Origin")
		}
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", corsMethods)
			c.Header("Access-Control-Allow-Headers", corsHeaders)
			c.Header("Access-Control-Max-Age", corsMaxAge)
			if !p.wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			if origin != "" && !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
