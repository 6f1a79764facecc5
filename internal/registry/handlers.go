package registry

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP handlers for reading registered accounts. The
// registration endpoints live on the server, which pairs account creation
// with API key issuance.
type Handler struct {
	service *Service
}

// NewHandler creates a new registry handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the account read routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/buyers/:address", h.GetBuyer)
	r.GET("/accounts/:address/roles", h.GetRoles)
}

// GetBuyer handles GET /v1/buyers/:address
func (h *Handler) GetBuyer(c *gin.Context) {
	acct, err := h.service.GetBuyer(c.Request.Context(), c.Param("address"))
	if err != nil {
		if errors.Is(err, ErrNotRegistered) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Buyer not registered",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"buyer": acct})
}

// GetRoles handles GET /v1/accounts/:address/roles
func (h *Handler) GetRoles(c *gin.Context) {
	ctx := c.Request.Context()
	addr := c.Param("address")

	roles := gin.H{}
	for _, role := range []Role{RoleSeller, RoleBuyer, RoleLogistics} {
		registered, err := h.service.IsRegistered(ctx, addr, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
			return
		}
		roles[string(role)] = registered
	}

	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"roles":   roles,
	})
}
