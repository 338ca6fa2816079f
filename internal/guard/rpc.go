package guard

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Request is the POST /v1/rpc body.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// RegisterRoutes mounts the call surface on r (the /v1 group). r must
// already run auth.Middleware so callers are resolved.
func (g *Guard) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/rpc", g.HandleRPC)
	r.GET("/methods", g.HandleMethods)
}

// HandleRPC dispatches one call.
func (g *Guard) HandleRPC(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": &Error{Code: CodeInvalidParams, Message: "request body must be {\"method\": ..., \"params\": {...}}"}})
		return
	}
	if req.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": &Error{Code: CodeInvalidParams, Message: "method is required"}})
		return
	}

	result, err := g.Call(c.Request.Context(), req.Method, req.Params)
	if err != nil {
		e := Classify(err)
		c.JSON(e.Status, gin.H{"error": e})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// HandleMethods lists the method table.
func (g *Guard) HandleMethods(c *gin.Context) {
	methods := g.Methods()
	c.JSON(http.StatusOK, gin.H{"methods": methods, "count": len(methods)})
}
