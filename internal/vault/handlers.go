package vault

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for custody reads. All mutations go
// through the purchase lifecycle; the vault exposes no write routes.
type Handler struct {
	service *Service
}

// NewHandler creates a new vault handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public custody read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/purchases/:id/holding", h.GetHolding)
	r.GET("/accounts/:address/balance", h.GetBalance)
	r.GET("/accounts/:address/payouts", h.ListPayouts)
	r.GET("/vault/totals", h.GetTotals)
}

// GetHolding handles GET /v1/purchases/:id/holding
func (h *Handler) GetHolding(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Purchase id must be a positive integer",
		})
		return
	}

	holding, err := h.service.Holding(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrHoldingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No custody record for this purchase",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"holding": holding})
}

// GetBalance handles GET /v1/accounts/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.service.Balance(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": c.Param("address"),
		"balance": balance,
	})
}

// ListPayouts handles GET /v1/accounts/:address/payouts
func (h *Handler) ListPayouts(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	payouts, err := h.service.ListPayouts(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list payouts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payouts": payouts,
		"count":   len(payouts),
	})
}

// GetTotals handles GET /v1/vault/totals
func (h *Handler) GetTotals(c *gin.Context) {
	totals, err := h.service.Totals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read custody totals",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"totals": totals})
}
