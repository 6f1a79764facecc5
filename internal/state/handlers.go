package state

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dezenmart/escrow-core/internal/auth"
	"github.com/dezenmart/escrow-core/internal/logging"
	"github.com/dezenmart/escrow-core/internal/metrics"
)

// FeeLedger records protocol revenue leaving custody.
type FeeLedger interface {
	PayFees(ctx context.Context, admin string, amount uint64) error
}

// EventSink receives protocol events for broadcast.
type EventSink interface {
	Publish(event string, data interface{})
}

// Handler provides HTTP endpoints for protocol administration.
type Handler struct {
	service *Service
	fees    FeeLedger
	events  EventSink
}

// NewHandler creates a new state handler.
func NewHandler(service *Service, fees FeeLedger) *Handler {
	return &Handler{service: service, fees: fees}
}

// WithEvents adds an event sink for protocol event broadcast.
func (h *Handler) WithEvents(sink EventSink) *Handler {
	h.events = sink
	return h
}

// RegisterRoutes sets up the public protocol read route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/protocol/stats", h.GetStats)
}

// RegisterAdminRoutes sets up the admin routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/initialize", h.Initialize)
	r.POST("/fees/withdraw", h.WithdrawFees)
}

// InitializeRequest names the admin identity for the protocol singleton.
type InitializeRequest struct {
	Admin string `json:"admin" binding:"required"`
}

// Initialize handles POST /v1/admin/initialize.
//
// Init-once is first-call-wins: until the singleton exists there is no admin
// to gate on, so any authenticated caller can appoint one. Production
// deployments should set ADMIN_ADDRESS so the server bootstraps the admin at
// startup and this endpoint can only return already_initialized.
func (h *Handler) Initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include the admin address",
		})
		return
	}

	g, err := h.service.Initialize(c.Request.Context(), req.Admin)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyInitialized):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_initialized",
				"message": "Protocol is already initialized",
			})
		case errors.Is(err, ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "Admin must be a valid hex address",
			})
		default:
			logging.L(c.Request.Context()).Error("protocol initialization failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to initialize protocol",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"state": g})
}

// GetStats handles GET /v1/protocol/stats
func (h *Handler) GetStats(c *gin.Context) {
	g, err := h.service.Get(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_initialized",
				"message": "Protocol has not been initialized",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": g})
}

// WithdrawFeesRequest optionally caps the withdrawal; zero or absent means
// the whole pool.
type WithdrawFeesRequest struct {
	Amount uint64 `json:"amount"`
}

// WithdrawFees handles POST /v1/admin/fees/withdraw
func (h *Handler) WithdrawFees(c *gin.Context) {
	ctx := c.Request.Context()
	caller := auth.CallerAddress(c)

	var req WithdrawFeesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	amount := req.Amount
	if amount == 0 {
		g, err := h.service.Get(ctx)
		if err != nil {
			h.withdrawError(c, err)
			return
		}
		amount = g.WithheldFees
	}

	if err := h.service.WithdrawFees(ctx, caller, amount); err != nil {
		h.withdrawError(c, err)
		return
	}

	// Pool already decremented; record where the revenue went.
	if err := h.fees.PayFees(ctx, caller, amount); err != nil {
		logging.L(ctx).Error("CRITICAL: fees withdrawn from pool but payout record failed",
			"admin", caller, "amount", amount, "error", err)
	}
	metrics.WithheldFeeUnits.Sub(float64(amount))
	if h.events != nil {
		h.events.Publish("fees_withdrawn", map[string]interface{}{
			"admin":  caller,
			"amount": amount,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"withdrawn": amount,
		"admin":     caller,
	})
}

func (h *Handler) withdrawError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotInitialized):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_initialized",
			"message": "Protocol has not been initialized",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Only the protocol admin may withdraw fees",
		})
	case errors.Is(err, ErrNoEscrowFees):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_fees",
			"message": "No escrow fees available to withdraw",
		})
	default:
		logging.L(c.Request.Context()).Error("fee withdrawal failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to withdraw fees",
		})
	}
}
