package catalog

import (
	"net/http"
	"strconv"

	"github.com/atelier/server/internal/shared/response"
	"github.com/gin-gonic/gin"
)

// Handler serves catalog read endpoints.
type Handler struct {
	repo Repository
}

// NewHandler creates a new catalog handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes registers the catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	items := r.Group("/items")
	{
		items.GET("", h.ListItems)
		items.GET("/:id", h.GetItem)
	}
}

// GetItem returns a single catalog item.
func (h *Handler) GetItem(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid item id")
		return
	}

	item, err := h.repo.GetItem(c.Request.Context(), uint(id))
	if err != nil {
		response.HandleErrorWithDefault(c, err, []response.ErrorMapping{
			{Err: ErrItemNotFound, Status: http.StatusNotFound},
		})
		return
	}

	c.JSON(http.StatusOK, item)
}

// ListItems returns catalog items, optionally filtered by category.
func (h *Handler) ListItems(c *gin.Context) {
	items, err := h.repo.ListItems(c.Request.Context(), c.Query("category"))
	if err != nil {
		response.InternalError(c, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}
