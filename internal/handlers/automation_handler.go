package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"flowdesk/internal/metrics"
	"flowdesk/internal/middleware"
	"flowdesk/internal/models"
	"flowdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler exposes the automation registry, manual execution,
// execution logs, templates and listener lifecycle over HTTP.
type AutomationHandler struct {
	service *services.AutomationService
	manager *services.ListenerManager
	logs    *services.ExecutionLogService
	logger  *logrus.Logger
}

func NewAutomationHandler(service *services.AutomationService, manager *services.ListenerManager, logs *services.ExecutionLogService, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{service: service, manager: manager, logs: logs, logger: logger}
}

// ListAutomations filters by status, workspace_id, is_system and tags
// (any-of), paginated by the created_before cursor.
func (h *AutomationHandler) ListAutomations(c *gin.Context) {
	filter := services.AutomationListFilter{
		Status:      models.AutomationStatus(c.Query("status")),
		WorkspaceID: c.Query("workspace_id"),
		Tags:        c.QueryArray("tag"),
	}
	if v := c.Query("is_system"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid is_system", Message: err.Error()})
			return
		}
		filter.IsSystem = &b
	}
	if v := c.Query("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid created_before", Message: err.Error()})
			return
		}
		filter.CreatedBefore = &t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit", Message: err.Error()})
			return
		}
		filter.Limit = n
	}

	automations, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Errorf("Failed to list automations: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list automations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, automations)
}

// CreateAutomation stores a new definition owned by the request actor.
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req services.AutomationCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	automation, err := h.service.Create(c.Request.Context(), &req, middleware.ActorID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, automation)
}

// GetAutomation loads one definition.
func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	automation, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to get automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, automation)
}

// UpdateAutomation applies a partial patch; system-owned fields are rejected.
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	automation, err := h.service.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, automation)
}

// DeleteAutomation removes a definition; execution logs are kept for audit.
func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to delete automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ExecuteAutomation runs an automation now ("run now" in the UI) with the
// posted body as trigger data, returning the resulting execution log.
func (h *AutomationHandler) ExecuteAutomation(c *gin.Context) {
	var data map[string]interface{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&data); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
	}
	log, err := h.manager.ExecuteAutomation(c.Request.Context(), c.Param("id"), data, middleware.ActorID(c))
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to execute automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, log)
}

// ListExecutionLogs returns an automation's run history, newest first.
func (h *AutomationHandler) ListExecutionLogs(c *gin.Context) {
	filter := services.ExecutionLogFilter{
		Status: models.ExecutionStatus(c.Query("status")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit", Message: err.Error()})
			return
		}
		filter.Limit = n
	}
	logs, err := h.logs.List(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list execution logs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// templateRequest instantiates a built-in template with optional shallow
// overrides.
type templateRequest struct {
	TemplateType string                 `json:"template_type" binding:"required"`
	Overrides    map[string]interface{} `json:"overrides"`
}

// CreateFromTemplate creates an automation from one of the built-ins.
func (h *AutomationHandler) CreateFromTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	automation, err := h.service.CreateFromTemplate(c.Request.Context(), req.TemplateType, req.Overrides, middleware.ActorID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create automation from template", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, automation)
}

// ListTemplates returns the available template types.
func (h *AutomationHandler) ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": services.TemplateTypes()})
}

// EnableListeners (re)registers change-feed subscriptions for all active
// event-triggered automations.
func (h *AutomationHandler) EnableListeners(c *gin.Context) {
	if err := h.manager.EnableListeners(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to enable listeners", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Message: "listeners enabled",
		Data:    gin.H{"subscriptions": h.manager.SubscriptionCount()},
	})
}

// DisableListeners drops all subscriptions; idempotent.
func (h *AutomationHandler) DisableListeners(c *gin.Context) {
	h.manager.DisableListeners()
	c.JSON(http.StatusOK, SuccessResponse{Message: "listeners disabled"})
}

// ListenerStatus reports the current subscription count.
func (h *AutomationHandler) ListenerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"subscriptions": h.manager.SubscriptionCount()})
}

// EngineStats exposes the engine's run counters.
func (h *AutomationHandler) EngineStats(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.EngineSnapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrAutomationNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAutomationNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RegisterAutomationRoutes mounts the automation API under the given group.
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListAutomations)
		auto.POST("", handler.CreateAutomation)
		auto.GET(":id", handler.GetAutomation)
		auto.PATCH(":id", handler.UpdateAutomation)
		auto.DELETE(":id", handler.DeleteAutomation)
		auto.POST(":id/execute", handler.ExecuteAutomation)
		auto.GET(":id/logs", handler.ListExecutionLogs)
	}

	templates := r.Group("/templates")
	{
		templates.GET("", handler.ListTemplates)
		templates.POST("", handler.CreateFromTemplate)
	}

	listeners := r.Group("/listeners")
	{
		listeners.GET("", handler.ListenerStatus)
		listeners.POST("enable", handler.EnableListeners)
		listeners.POST("disable", handler.DisableListeners)
	}

	r.GET("/stats", handler.EngineStats)
}
