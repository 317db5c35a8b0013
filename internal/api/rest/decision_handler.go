package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/engine"
	"github.com/nnipa/authz-service/pkg/types"
)

// DecisionHandler exposes the authorization decision endpoints. They
// require authentication only; asking "may I" needs no permission.
type DecisionHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewDecisionHandler creates a decision handler.
func NewDecisionHandler(eng *engine.Engine, logger *zap.Logger) *DecisionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionHandler{engine: eng, logger: logger}
}

// BatchCheckRequest carries up to a batch of decision requests.
type BatchCheckRequest struct {
	Requests []*types.AuthzRequest `json:"requests" binding:"required,min=1"`
}

// BatchCheckResponse carries decisions index-aligned with the requests.
type BatchCheckResponse struct {
	Results []*types.AuthzResponse `json:"results"`
	Count   int                    `json:"count"`
}

// Check handles POST /api/v1/authz/check. The decision is always a 200;
// a denial is a result, not an error.
func (h *DecisionHandler) Check(c *gin.Context) {
	var req types.AuthzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	enrichRequest(c, &req)
	c.JSON(http.StatusOK, h.engine.Authorize(c.Request.Context(), &req))
}

// BatchCheck handles POST /api/v1/authz/batch-check.
func (h *DecisionHandler) BatchCheck(c *gin.Context) {
	var req BatchCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	for _, r := range req.Requests {
		if r != nil {
			enrichRequest(c, r)
		}
	}
	results := h.engine.BatchAuthorize(c.Request.Context(), req.Requests)
	c.JSON(http.StatusOK, BatchCheckResponse{Results: results, Count: len(results)})
}

// HasPermission handles GET /api/v1/authz/has-permission. All parameters
// travel as query values.
func (h *DecisionHandler) HasPermission(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	tenantID, ok := queryID(c, "tenant_id")
	if !ok {
		return
	}
	resource := c.Query("resource")
	action := c.Query("action")
	if resource == "" || action == "" {
		writeError(c, autherr.Validation("resource and action are required"))
		return
	}

	allowed := h.engine.HasPermission(c.Request.Context(), userID, tenantID, resource, action)
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// RegisterRoutes registers the decision routes.
func (h *DecisionHandler) RegisterRoutes(router *gin.RouterGroup) {
	authz := router.Group("/authz")
	{
		authz.POST("/check", h.Check)
		authz.POST("/batch-check", h.BatchCheck)
		authz.GET("/has-permission", h.HasPermission)
	}
}

// enrichRequest fills the caller network context from the transport when
// the body leaves it blank. X-User-IP names the end user behind a
// forwarding gateway; conditions on IP or user agent see real values.
func enrichRequest(c *gin.Context, req *types.AuthzRequest) {
	if req.IPAddress == "" {
		if ip := c.GetHeader("X-User-IP"); ip != "" {
			req.IPAddress = ip
		}
	}
	if req.UserAgent == "" {
		req.UserAgent = c.GetHeader("User-Agent")
	}
}
