package payment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier/server/internal/module/payment/provider"
	"github.com/atelier/server/internal/shared/logger"
)

func newWebhookRouter(t *testing.T, f *serviceFixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewWebhookHandler(f.service, logger.New(&logger.Config{Level: "error"}))
	handler.RegisterRoutes(router.Group("/"))
	return router
}

func postWebhook(router *gin.Engine, providerName, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+providerName, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookEndpointAppliesSettlement(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseEvent = oneShotEvent("ref-hook", 90000)
	router := newWebhookRouter(t, f)

	w := postWebhook(router, "paystack", `{"event":"charge.success"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err := f.repo.GetByProviderReference(t.Context(), "paystack", "ref-hook")
	assert.NoError(t, err)
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseErr = provider.ErrInvalidSignature
	router := newWebhookRouter(t, f)

	w := postWebhook(router, "paystack", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.repo.transactions)
}

func TestWebhookEndpointUnknownProvider(t *testing.T) {
	f := newServiceFixture(t)
	router := newWebhookRouter(t, f)

	w := postWebhook(router, "wechat", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookEndpointAcksProcessingFailures(t *testing.T) {
	f := newServiceFixture(t)
	event := oneShotEvent("ref-err", 90000)
	event.Metadata.TransactionID = 999 // parent does not exist
	f.provider.parseEvent = event
	router := newWebhookRouter(t, f)

	// Authentic payload whose reconciliation fails still gets a 200, so
	// the provider stops retrying; a verify pull can recover the state.
	w := postWebhook(router, "paystack", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookEndpointReplayReturns200(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseEvent = oneShotEvent("ref-replay", 90000)
	router := newWebhookRouter(t, f)

	require.Equal(t, http.StatusOK, postWebhook(router, "paystack", `{}`).Code)
	require.Equal(t, http.StatusOK, postWebhook(router, "paystack", `{}`).Code)

	assert.Len(t, f.repo.transactions, 1)
	assert.Len(t, f.tasks.tasks, 1)
}
