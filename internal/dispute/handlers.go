package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dezenmart/escrow-core/internal/auth"
	"github.com/dezenmart/escrow-core/internal/logging"
	"github.com/dezenmart/escrow-core/internal/purchase"
)

// Handler provides HTTP endpoints for dispute arbitration.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up the arbitration routes. Raising a dispute is a
// buyer action and lives with the purchase endpoints.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/purchases/:id/resolve", h.Resolve)
}

// Resolve handles POST /v1/admin/purchases/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Purchase id must be a positive integer",
		})
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include an outcome (refund or release)",
		})
		return
	}

	p, err := h.service.Resolve(c.Request.Context(), auth.CallerAddress(c), id, req.Outcome)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Only the protocol admin may resolve disputes",
			})
		case errors.Is(err, purchase.ErrInvalidOutcome):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_outcome",
				"message": "Outcome must be refund or release",
			})
		case errors.Is(err, purchase.ErrPurchaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Purchase not found",
			})
		case errors.Is(err, purchase.ErrNoDisputeFound):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_dispute",
				"message": "Purchase is not under dispute",
			})
		default:
			logging.L(c.Request.Context()).Error("dispute resolution failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to resolve dispute",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": p})
}
