package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securityguard/internal/chain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *Manager, string) {
	t.Helper()
	mgr := NewManager(NewMemoryStore(), "admin-secret")
	raw, _, err := mgr.GenerateKey(context.Background(), agent, "test-key")
	require.NoError(t, err)

	r := gin.New()
	v1 := r.Group("/v1", Middleware(mgr))
	NewHandler(mgr).RegisterRoutes(v1)
	v1.GET("/whoami", func(c *gin.Context) {
		caller, ok := CallerFrom(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"caller": caller, "ok": ok, "gin_caller": Caller(c)})
	})
	return r, mgr, raw
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_Anonymous(t *testing.T) {
	r, _, _ := newRouter(t)
	w := do(r, http.MethodGet, "/v1/whoami", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":false`)
}

func TestMiddleware_BearerAndHeader(t *testing.T) {
	r, _, raw := newRouter(t)
	for _, h := range []map[string]string{
		{"Authorization": "Bearer " + raw},
		{"X-API-Key": raw},
	} {
		w := do(r, http.MethodGet, "/v1/whoami", "", h)
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Caller    chain.Address `json:"caller"`
			OK        bool          `json:"ok"`
			GinCaller chain.Address `json:"gin_caller"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.OK)
		assert.Equal(t, agent, body.Caller)
		assert.Equal(t, agent, body.GinCaller)
	}
}

func TestMiddleware_InvalidKeyRejected(t *testing.T) {
	r, _, _ := newRouter(t)
	w := do(r, http.MethodGet, "/v1/whoami", "", map[string]string{"Authorization": "Bearer sk_bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"unauthorized"`)
}

func TestRequireAuth(t *testing.T) {
	r, _, raw := newRouter(t)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/v1/auth/me", "", nil).Code)

	w := do(r, http.MethodGet, "/v1/auth/me", "", map[string]string{"Authorization": "Bearer " + raw})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(agent))
}

func TestHandler_SignedIssuance(t *testing.T) {
	r, _, _ := newRouter(t)
	s := newSigner(t)

	w := do(r, http.MethodGet, "/v1/auth/message?address="+strings.ToUpper(string(s.addr)[2:]), "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "address needs 0x prefix")

	w = do(r, http.MethodGet, "/v1/auth/message?address="+string(s.addr), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msg struct {
		Timestamp int64  `json:"timestamp"`
		Message   string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, IssuanceMessage(s.addr, msg.Timestamp), msg.Message)

	body, _ := json.Marshal(IssueRequest{Address: string(s.addr), Timestamp: msg.Timestamp, Signature: s.sign(msg.Message)})
	w = do(r, http.MethodPost, "/v1/auth/keys", string(body), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issued struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))

	w = do(r, http.MethodGet, "/v1/auth/keys", "", map[string]string{"Authorization": "Bearer " + issued.APIKey})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.NotContains(t, w.Body.String(), "hash")

	bad, _ := json.Marshal(IssueRequest{Address: string(agent), Timestamp: msg.Timestamp, Signature: s.sign(msg.Message)})
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/v1/auth/keys", string(bad), nil).Code)
}

func TestHandler_BootstrapAndRevoke(t *testing.T) {
	r, mgr, _ := newRouter(t)
	body := `{"address":"` + string(agent) + `","name":"owner"}`

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/v1/auth/bootstrap", body, nil).Code)
	w := do(r, http.MethodPost, "/v1/auth/bootstrap", body, map[string]string{"X-Admin-Secret": "admin-secret"})
	require.Equal(t, http.StatusCreated, w.Code)

	var issued struct {
		APIKey string  `json:"api_key"`
		Key    *APIKey `json:"key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	auth := map[string]string{"Authorization": "Bearer " + issued.APIKey}

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/v1/auth/keys/ak_missing", "", auth).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/v1/auth/keys/"+issued.Key.ID, "", auth).Code)

	_, err := mgr.ValidateKey(context.Background(), issued.APIKey)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}
