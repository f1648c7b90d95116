package task

import (
	"net/http"
	"strconv"

	"github.com/atelier/server/internal/shared/response"
	"github.com/gin-gonic/gin"
)

// Handler serves staff task endpoints.
type Handler struct {
	repo Repository
}

// NewHandler creates a new task handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes registers the task routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	tasks := r.Group("/tasks")
	{
		tasks.GET("", h.ListTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.PATCH("/:id/status", h.UpdateStatus)
	}
}

// ListTasks returns production tasks, optionally filtered by status.
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.repo.ListTasks(c.Request.Context(), TaskStatus(c.Query("status")))
	if err != nil {
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask returns a single task.
func (h *Handler) GetTask(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid task id")
		return
	}

	t, err := h.repo.GetTask(c.Request.Context(), uint(id))
	if err != nil {
		response.HandleErrorWithDefault(c, err, []response.ErrorMapping{
			{Err: ErrTaskNotFound, Status: http.StatusNotFound},
		})
		return
	}
	c.JSON(http.StatusOK, t)
}

type updateStatusRequest struct {
	Status TaskStatus `json:"status" binding:"required,oneof=pending in_progress completed canceled"`
}

// UpdateStatus moves a task through the production workflow.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid task id")
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.repo.UpdateTaskStatus(c.Request.Context(), uint(id), req.Status); err != nil {
		response.HandleErrorWithDefault(c, err, []response.ErrorMapping{
			{Err: ErrTaskNotFound, Status: http.StatusNotFound},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
