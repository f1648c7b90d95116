package payment

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/atelier/server/internal/module/payment/provider"
	"github.com/atelier/server/internal/shared/middleware"
	"github.com/atelier/server/internal/shared/response"
)

// Handler exposes the authenticated payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/checkout", h.Checkout)
	r.POST("/payments/verify", h.Verify)
	r.GET("/payments/transactions", h.ListTransactions)
	r.GET("/payments/transactions/:id", h.GetTransaction)
	r.GET("/payments/transactions/:id/installments", h.ListInstallments)
	r.GET("/payments/transactions/:id/subscription", h.GetSubscription)
	r.DELETE("/payments/transactions/:id/subscription", h.CancelSubscription)
}

var checkoutErrorMappings = []response.ErrorMapping{
	{Err: ErrInvalidKind, Status: http.StatusBadRequest},
	{Err: ErrItemRequired, Status: http.StatusBadRequest},
	{Err: ErrInvalidAmount, Status: http.StatusBadRequest},
	{Err: ErrProviderNotFound, Status: http.StatusBadRequest},
	{Err: ErrTransactionNotFound, Status: http.StatusNotFound},
	{Err: ErrInstallmentNotFound, Status: http.StatusNotFound},
	{Err: ErrPlanNotAvailable, Status: http.StatusUnprocessableEntity},
	{Err: provider.ErrRequestFailed, Status: http.StatusBadGateway, Message: "payment provider unavailable"},
	{Err: provider.ErrUnsupported, Status: http.StatusUnprocessableEntity},
}

// Checkout starts a checkout session.
func (h *Handler) Checkout(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "")
		return
	}

	var in CheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	out, err := h.service.Checkout(c.Request.Context(), userID, &in)
	if err != nil {
		response.HandleErrorWithDefault(c, err, checkoutErrorMappings)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// Verify pulls settlement state from the provider and reconciles it.
func (h *Handler) Verify(c *gin.Context) {
	if middleware.GetUserID(c) == 0 {
		response.Unauthorized(c, "")
		return
	}

	var in VerifyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if in.reference() == "" {
		response.BadRequest(c, "reference is required")
		return
	}

	out, err := h.service.Verify(c.Request.Context(), &in)
	if err != nil {
		response.HandleErrorWithDefault(c, err, checkoutErrorMappings)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListTransactions returns the caller's ledger rows.
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "")
		return
	}

	txs, err := h.service.ListTransactions(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GetTransaction returns one ledger row owned by the caller.
func (h *Handler) GetTransaction(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	tx, err := h.service.GetTransaction(c.Request.Context(), userID, id)
	if err != nil {
		response.HandleErrorWithDefault(c, err, checkoutErrorMappings)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ListInstallments returns a plan's schedule.
func (h *Handler) ListInstallments(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	schedule, err := h.service.ListInstallments(c.Request.Context(), userID, id)
	if err != nil {
		response.HandleErrorWithDefault(c, err, checkoutErrorMappings)
		return
	}
	c.JSON(http.StatusOK, gin.H{"installments": schedule})
}

// GetSubscription returns the provider-side subscription state.
func (h *Handler) GetSubscription(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(c.Request.Context(), userID, id)
	if err != nil {
		response.HandleErrorWithDefault(c, err, checkoutErrorMappings)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// CancelSubscription cancels a subscription at the provider.
func (h *Handler) CancelSubscription(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.service.CancelSubscription(c.Request.Context(), userID, id); err != nil {
		response.HandleErrorWithDefault(c, err, checkoutErrorMappings)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid transaction id")
		return 0, false
	}
	return uint(id), true
}
