package handler

import (
	appservers "github.com/orbitpanel/backend/internal/application/servers"
	"github.com/orbitpanel/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ServerHandler handles server HTTP requests
type ServerHandler struct {
	BaseHandler
	serverService *appservers.Service
}

// NewServerHandler creates a new server handler
func NewServerHandler(serverService *appservers.Service) *ServerHandler {
	return &ServerHandler{
		serverService: serverService,
	}
}

// RegisterRoutes registers server routes
func (h *ServerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	servers := rg.Group("/servers")
	{
		servers.POST("", h.Create)
		servers.GET("", h.List)
		servers.GET("/:id", h.Get)
		servers.DELETE("/:id", h.Delete)
	}
}

// Create provisions a server together with its billing subscription
func (h *ServerHandler) Create(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}

	var req dto.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	result, err := h.serverService.Provision(c.Request.Context(), principal, appservers.ProvisionInput{
		AccountID:  principal.AccountID,
		Name:       req.Name,
		Plan:       req.Plan,
		HourlyRate: decimal.NewFromFloat(req.HourlyRate),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, dto.ProvisionResponse{
		Server:       dto.NewServerResponse(result.Server),
		Subscription: dto.NewSubscriptionResponse(result.Subscription),
		FirstPayment: dto.NewTransactionResponse(result.FirstPayment),
	})
}

// List returns the caller's servers
func (h *ServerHandler) List(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}

	list, err := h.serverService.List(c.Request.Context(), principal, principal.AccountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewServerResponses(list))
}

// Get returns a single server
func (h *ServerHandler) Get(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	server, err := h.serverService.Get(c.Request.Context(), principal, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.NewServerResponse(server))
}

// Delete tears down a server and cascades its subscription
func (h *ServerHandler) Delete(c *gin.Context) {
	principal, ok := getPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.serverService.Delete(c.Request.Context(), principal, id); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}
