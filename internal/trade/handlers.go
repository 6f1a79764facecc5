package trade

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dezenmart/escrow-core/internal/auth"
	"github.com/dezenmart/escrow-core/internal/logging"
)

// Handler provides HTTP endpoints for the trade ledger.
type Handler struct {
	service *Service
}

// NewHandler creates a new trade handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) trade routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trades", h.ListTrades)
	r.GET("/trades/:id", h.GetTrade)
	r.GET("/sellers/:address/trades", h.ListSellerTrades)
}

// RegisterProtectedRoutes sets up protected (auth-required) trade routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/trades", h.CreateTrade)
	r.POST("/trades/:id/active", h.SetActive)
}

// CreateTrade handles POST /v1/trades
func (h *Handler) CreateTrade(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	seller := auth.CallerAddress(c)
	t, err := h.service.Create(c.Request.Context(), seller, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_a_seller",
				"message": "Caller is not a registered seller",
			})
		case errors.Is(err, ErrInvalidCost), errors.Is(err, ErrInvalidQuantity),
			errors.Is(err, ErrNoLogisticsOptions), errors.Is(err, ErrTooManyOptions),
			errors.Is(err, ErrInvalidLogisticsProvider):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		default:
			logging.L(c.Request.Context()).Error("failed to create trade", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to create trade",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"trade": t})
}

// SetActiveRequest toggles a trade listing.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive handles POST /v1/trades/:id/active
func (h *Handler) SetActive(c *gin.Context) {
	id, ok := tradeIDParam(c)
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include an active flag",
		})
		return
	}

	t, err := h.service.SetActive(c.Request.Context(), auth.CallerAddress(c), id, *req.Active)
	if err != nil {
		switch {
		case errors.Is(err, ErrTradeNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Trade not found",
			})
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Only the seller may toggle this trade",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to update trade",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// GetTrade handles GET /v1/trades/:id
func (h *Handler) GetTrade(c *gin.Context) {
	id, ok := tradeIDParam(c)
	if !ok {
		return
	}

	t, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTradeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Trade not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// ListTrades handles GET /v1/trades
func (h *Handler) ListTrades(c *gin.Context) {
	trades, err := h.service.List(c.Request.Context(), limitQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list trades",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// ListSellerTrades handles GET /v1/sellers/:address/trades
func (h *Handler) ListSellerTrades(c *gin.Context) {
	trades, err := h.service.ListBySeller(c.Request.Context(), c.Param("address"), limitQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list trades",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

func tradeIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Trade id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func limitQuery(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
