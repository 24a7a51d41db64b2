package handler

import (
	"net/http"
	"runtime"
	"time"

	appbilling "github.com/orbitpanel/backend/internal/application/billing"
	"github.com/orbitpanel/backend/internal/infrastructure/scheduler"
	"github.com/orbitpanel/backend/internal/interfaces/http/dto"
	"github.com/orbitpanel/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// SystemHandler handles health and operational endpoints
type SystemHandler struct {
	BaseHandler
	lifecycle  *appbilling.LifecycleService
	scheduler  *scheduler.BillingScheduler
	production bool
	startTime  time.Time
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(lifecycle *appbilling.LifecycleService, billingScheduler *scheduler.BillingScheduler, production bool) *SystemHandler {
	return &SystemHandler{
		lifecycle:  lifecycle,
		scheduler:  billingScheduler,
		production: production,
		startTime:  time.Now(),
	}
}

// RegisterPublicRoutes registers the unauthenticated system endpoints
func (h *SystemHandler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
	rg.GET("/ping", h.Ping)
}

// RegisterRoutes registers the operational endpoints. The force-run billing
// entry points exist for poking a single subscription through its cycle in
// development and staging; production builds do not expose them.
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	system := rg.Group("/system", middleware.AdminOnly())
	{
		system.GET("/scheduler", h.SchedulerStatus)
		if !h.production {
			system.POST("/billing/subscriptions/:id/run-overdue", h.RunOverdue)
			system.POST("/billing/subscriptions/:id/run-expired", h.RunExpired)
		}
	}
}

// HealthResponse reports service health
type HealthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// Health returns service health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(HealthResponse{
		Status:    "ok",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}))
}

// Ping answers pong
func (h *SystemHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(gin.H{
		"message":   "pong",
		"timestamp": time.Now().Format(time.RFC3339),
	}))
}

// SchedulerStatusResponse reports the billing scheduler state
type SchedulerStatusResponse struct {
	Running bool `json:"running"`
}

// SchedulerStatus reports whether the billing scheduler is running
func (h *SystemHandler) SchedulerStatus(c *gin.Context) {
	h.Success(c, SchedulerStatusResponse{Running: h.scheduler.IsRunning()})
}

// RunOverdue forces the overdue check for one subscription
func (h *SystemHandler) RunOverdue(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.lifecycle.RunOverdueForSubscription(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// RunExpired forces the expiry check for one subscription
func (h *SystemHandler) RunExpired(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.lifecycle.RunExpiredForSubscription(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
