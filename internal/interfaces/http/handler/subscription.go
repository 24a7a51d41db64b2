package handler

import (
	appbilling "github.com/orbitpanel/backend/internal/application/billing"
	"github.com/orbitpanel/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// SubscriptionHandler handles subscription HTTP requests
type SubscriptionHandler struct {
	BaseHandler
	lifecycle *appbilling.LifecycleService
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(lifecycle *appbilling.LifecycleService) *SubscriptionHandler {
	return &SubscriptionHandler{
		lifecycle: lifecycle,
	}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/subscriptions", h.List)
}

// List returns the caller's subscriptions
func (h *SubscriptionHandler) List(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}

	subs, err := h.lifecycle.ListForAccount(c.Request.Context(), principal, principal.AccountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewSubscriptionResponses(subs))
}
