package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atelier/server/internal/module/payment/provider"
	"github.com/atelier/server/internal/shared/logger"
	"github.com/atelier/server/internal/shared/response"
)

// maxWebhookBody caps payload reads; provider callbacks are small.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider settlement callbacks. Unlike the
// authenticated API, authenticity here comes from the payload signature,
// so these routes are registered outside the auth middleware.
type WebhookHandler struct {
	service *Service
	logger  *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(service *Service, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: log}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/:provider", h.Handle)
}

// Handle processes one provider callback. Only an unknown provider or a
// failed signature check is rejected; once the payload is authentic the
// response is 200 regardless of processing outcome, so providers do not
// retry events the ledger has already absorbed or that a verify pull
// can recover later.
func (h *WebhookHandler) Handle(c *gin.Context) {
	providerName := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("read webhook body", logger.Err(err), "provider", providerName)
		response.BadRequest(c, "failed to read body")
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.GetHeader(name)
	}

	err = h.service.HandleWebhook(c.Request.Context(), providerName, body, headers)
	switch {
	case err == nil:
		c.String(http.StatusOK, "ok")
	case errors.Is(err, provider.ErrInvalidSignature):
		response.BadRequest(c, "invalid signature")
	case errors.Is(err, ErrProviderNotFound):
		response.NotFound(c, "unknown provider")
	default:
		// HandleWebhook acknowledges everything else itself; this is a
		// transport-level failure.
		response.InternalError(c, "")
	}
}
