package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(h gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(h)
	r.Any("/v1/rpc", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"result": "ok"}) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), httptest.NewRequest(http.MethodPost, "/v1/rpc", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	for _, kv := range apiHeaders {
		assert.Equal(t, kv[1], w.Header().Get(kv[0]), kv[0])
	}
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "no HSTS over plain http")
}

func TestHeadersMiddleware_HSTS(t *testing.T) {
	proxied := httptest.NewRequest(http.MethodGet, "/v1/rpc", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	assert.Equal(t, hstsValue, serve(HeadersMiddleware(), proxied).Header().Get("Strict-Transport-Security"))

	direct := httptest.NewRequest(http.MethodGet, "/v1/rpc", nil)
	direct.TLS = &tls.ConnectionState{}
	assert.Equal(t, hstsValue, serve(HeadersMiddleware(), direct).Header().Get("Strict-Transport-Security"))
}

func TestCORSPolicy_Allows(t *testing.T) {
	p := NewCORSPolicy([]string{" https://Console.Example/ ", ""})
	assert.True(t, p.Allows("https://console.example"))
	assert.False(t, p.Allows("https://evil.example"))
	assert.False(t, p.Allows(""))

	open := NewCORSPolicy([]string{"*"})
	assert.True(t, open.Allows("https://whatever.example"))
	assert.False(t, open.Allows(""))
}

func TestCORSPolicy_Middleware(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		method      string
		wantCode    int
		wantAllow   string
		wantCreds   string
		wantVaryHdr bool
	}{
		{"listed origin", []string{"https://console.example"}, "https://console.example", http.MethodPost, 200, "https://console.example", "true", true},
		{"unlisted origin", []string{"https://console.example"}, "https://evil.example", http.MethodPost, 200, "", "", true},
		{"wildcard omits credentials", []string{"*"}, "https://any.example", http.MethodPost, 200, "https://any.example", "", false},
		{"preflight allowed", []string{"*"}, "https://any.example", http.MethodOptions, 204, "https://any.example", "", false},
		{"preflight refused", []string{"https://console.example"}, "https://evil.example", http.MethodOptions, 403, "", "", true},
		{"same-origin request", []string{"https://console.example"}, "", http.MethodPost, 200, "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/v1/rpc", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			w := serve(NewCORSPolicy(tc.origins).Middleware(), req)

			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, tc.wantVaryHdr, w.Header().Get("Vary") == "Origin")
			if tc.wantAllow != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
				assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}
