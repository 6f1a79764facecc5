package purchase

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dezenmart/escrow-core/internal/auth"
	"github.com/dezenmart/escrow-core/internal/logging"
	"github.com/dezenmart/escrow-core/internal/registry"
	"github.com/dezenmart/escrow-core/internal/trade"
)

// Handler provides HTTP endpoints for the purchase lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new purchase handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) purchase routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/purchases/:id", h.GetPurchase)
	r.GET("/purchases/:id/receipt", h.GetReceipt)
	r.GET("/trades/:id/purchases", h.ListTradePurchases)
}

// RegisterProtectedRoutes sets up protected (auth-required) purchase routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/purchases", h.Buy)
	r.POST("/purchases/:id/confirm", h.ConfirmDelivery)
	r.POST("/purchases/:id/cancel", h.Cancel)
	r.POST("/purchases/:id/dispute", h.RaiseDispute)
	r.GET("/buyers/:address/purchases", h.ListBuyerPurchases)
}

// Buy handles POST /v1/purchases
func (h *Handler) Buy(c *gin.Context) {
	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	buyer := auth.CallerAddress(c)
	p, err := h.service.Buy(c.Request.Context(), buyer, req)
	if err != nil {
		h.buyError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"purchase": p})
}

func (h *Handler) buyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_a_buyer",
			"message": "Caller is not a registered buyer",
		})
	case errors.Is(err, trade.ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Trade not found",
		})
	case errors.Is(err, trade.ErrTradeInactive):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "trade_inactive",
			"message": "Trade is not active",
		})
	case errors.Is(err, ErrBuyerIsSeller):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "buyer_is_seller",
			"message": "A seller cannot buy from their own trade",
		})
	case errors.Is(err, trade.ErrInvalidLogisticsProvider):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_logistics_provider",
			"message": "Provider is not a registered logistics option for this trade",
		})
	case errors.Is(err, trade.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_quantity",
			"message": "Quantity must be greater than zero",
		})
	case errors.Is(err, trade.ErrInsufficientQuantity):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "insufficient_quantity",
			"message": "Requested quantity exceeds what remains",
		})
	case errors.Is(err, ErrInvalidPaymentAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payment_amount",
			"message": "Tendered amount must equal the purchase total exactly",
		})
	case errors.Is(err, ErrAmountOverflow):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "amount_overflow",
			"message": "Purchase total is too large to represent",
		})
	case errors.Is(err, registry.ErrPurchaseRefsFull):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "purchase_list_full",
			"message": "Buyer purchase list is at capacity",
		})
	default:
		logging.L(c.Request.Context()).Error("purchase failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to complete purchase",
		})
	}
}

// ConfirmDelivery handles POST /v1/purchases/:id/confirm
func (h *Handler) ConfirmDelivery(c *gin.Context) {
	id, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	p, err := h.service.ConfirmDelivery(c.Request.Context(), auth.CallerAddress(c), id)
	if err != nil {
		h.transitionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": p})
}

// Cancel handles POST /v1/purchases/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	p, err := h.service.Cancel(c.Request.Context(), auth.CallerAddress(c), id)
	if err != nil {
		h.transitionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": p})
}

// RaiseDispute handles POST /v1/purchases/:id/dispute
func (h *Handler) RaiseDispute(c *gin.Context) {
	id, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	p, err := h.service.Dispute(c.Request.Context(), auth.CallerAddress(c), id)
	if err != nil {
		if errors.Is(err, ErrDisputeAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "dispute_exists",
				"message": "A dispute is already open for this purchase",
			})
			return
		}
		h.transitionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": p})
}

// transitionError maps state machine errors shared by the lifecycle endpoints.
func (h *Handler) transitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPurchaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Purchase not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Only the purchase's buyer may do this",
		})
	case errors.Is(err, ErrPurchaseAlreadyDelivered):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_delivered",
			"message": "Purchase has already been delivered",
		})
	case errors.Is(err, ErrPurchaseCancelled):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_cancelled",
			"message": "Purchase has been cancelled",
		})
	case errors.Is(err, ErrPurchaseResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "Purchase has been resolved by arbitration",
		})
	case errors.Is(err, ErrPurchaseDisputed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "under_dispute",
			"message": "Purchase is frozen pending dispute resolution",
		})
	default:
		logging.L(c.Request.Context()).Error("purchase transition failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update purchase",
		})
	}
}

// GetPurchase handles GET /v1/purchases/:id
func (h *Handler) GetPurchase(c *gin.Context) {
	id, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	p, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPurchaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Purchase not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": p})
}

// GetReceipt handles GET /v1/purchases/:id/receipt
func (h *Handler) GetReceipt(c *gin.Context) {
	id, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	r, err := h.service.Receipt(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrPurchaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Purchase not found",
			})
		case errors.Is(err, ErrPurchaseNotDelivered):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_delivered",
				"message": "Funds have not been released for this purchase",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": r})
}

// ListBuyerPurchases handles GET /v1/buyers/:address/purchases
func (h *Handler) ListBuyerPurchases(c *gin.Context) {
	purchases, err := h.service.ListByBuyer(c.Request.Context(), c.Param("address"), limitQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list purchases",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purchases": purchases,
		"count":     len(purchases),
	})
}

// ListTradePurchases handles GET /v1/trades/:id/purchases
func (h *Handler) ListTradePurchases(c *gin.Context) {
	id, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	purchases, err := h.service.ListByTrade(c.Request.Context(), id, limitQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list purchases",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purchases": purchases,
		"count":     len(purchases),
	})
}

func purchaseIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Id must be a positive integer",
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
