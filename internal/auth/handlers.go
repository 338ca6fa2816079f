package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securityguard/internal/chain"
)

// Handler serves key issuance and management.
type Handler struct {
	manager *Manager
}

// NewHandler creates a Handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes mounts the handler. public must already run Middleware.
func (h *Handler) RegisterRoutes(public *gin.RouterGroup) {
	public.GET("/auth/message", h.Message)
	public.POST("/auth/keys", h.Issue)
	public.POST("/auth/bootstrap", h.Bootstrap)

	authed := public.Group("/auth", RequireAuth())
	authed.GET("/me", h.Me)
	authed.GET("/keys", h.ListKeys)
	authed.DELETE("/keys/:keyId", h.RevokeKey)
}

func errorJSON(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}

// Message returns the text to sign for ?address=.
func (h *Handler) Message(c *gin.Context) {
	addr, err := chain.ParseAddress(c.Query("address"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_address", "address must be a 0x-prefixed 20-byte hex address")
		return
	}
	ts := h.manager.now().Unix()
	c.JSON(http.StatusOK, gin.H{
		"address":    addr,
		"timestamp":  ts,
		"message":    IssuanceMessage(addr, ts),
		"expires_in": int(h.manager.messageTTL / time.Second),
	})
}

// IssueRequest is the body of POST /auth/keys.
type IssueRequest struct {
	Address   string `json:"address" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Name      string `json:"name"`
}

// Issue exchanges a signed issuance message for a key.
func (h *Handler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "address, timestamp and signature are required")
		return
	}
	addr, err := chain.ParseAddress(req.Address)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	raw, key, err := h.manager.IssueWithSignature(c.Request.Context(), addr, req.Timestamp, req.Signature, req.Name)
	h.respondIssued(c, raw, key, err)
}

// BootstrapRequest is the body of POST /auth/bootstrap.
type BootstrapRequest struct {
	Address string `json:"address" binding:"required"`
	Name    string `json:"name"`
}

// Bootstrap issues a key with the X-Admin-Secret header.
func (h *Handler) Bootstrap(c *gin.Context) {
	var req BootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "address is required")
		return
	}
	addr, err := chain.ParseAddress(req.Address)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	raw, key, err := h.manager.Bootstrap(c.Request.Context(), c.GetHeader("X-Admin-Secret"), addr, req.Name)
	h.respondIssued(c, raw, key, err)
}

func (h *Handler) respondIssued(c *gin.Context, raw string, key *APIKey, err error) {
	switch {
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrStaleMessage), errors.Is(err, ErrBadAdminSecret):
		errorJSON(c, http.StatusUnauthorized, "unauthorized", "key issuance rejected")
		return
	case err != nil:
		errorJSON(c, http.StatusInternalServerError, "internal_error", "failed to issue key")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"api_key": raw,
		"key":     key,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// Me returns the caller's address.
func (h *Handler) Me(c *gin.Context) {
	key, _ := GetAPIKey(c)
	c.JSON(http.StatusOK, gin.H{"address": key.Address, "key_id": key.ID})
}

// ListKeys lists the caller's keys.
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), Caller(c))
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "internal_error", "failed to list keys")
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey revokes one of the caller's keys.
func (h *Handler) RevokeKey(c *gin.Context) {
	err := h.manager.RevokeKey(c.Request.Context(), c.Param("keyId"), Caller(c))
	if errors.Is(err, ErrKeyNotFound) {
		errorJSON(c, http.StatusNotFound, "not_found", "key not found")
		return
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "internal_error", "failed to revoke key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
