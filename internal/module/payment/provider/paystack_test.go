package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier/server/internal/shared/logger"
)

func newTestPaystack(baseURL string) *Paystack {
	return NewPaystack(PaystackConfig{
		SecretKey: "sk_test_secret",
		BaseURL:   baseURL,
	}, logger.New(&logger.Config{Level: "error"}))
}

func signPaystack(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func chargeSuccessBody(t *testing.T, reference string, meta map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": reference,
			"amount":    90000,
			"currency":  "usd",
			"status":    "success",
			"metadata":  meta,
		},
	})
	require.NoError(t, err)
	return body
}

func TestPaystackParseWebhook(t *testing.T) {
	p := newTestPaystack("")
	meta := (&Metadata{
		UserID:   7,
		Kind:     KindItem,
		ItemID:   3,
		Quantity: 1,
	}).Encode()
	body := chargeSuccessBody(t, "ref-abc", meta)

	event, err := p.ParseWebhook(context.Background(), body, map[string]string{
		"x-paystack-signature": signPaystack("sk_test_secret", body),
	})
	require.NoError(t, err)
	assert.Equal(t, "paystack", event.Provider)
	assert.Equal(t, "ref-abc", event.Reference)
	assert.Equal(t, int64(90000), event.Amount)
	assert.Equal(t, "USD", event.Currency)

	require.NotNil(t, event.Metadata)
	assert.Equal(t, uint(7), event.Metadata.UserID)
	assert.Equal(t, KindItem, event.Metadata.Kind)
	assert.Equal(t, uint(3), event.Metadata.ItemID)
}

func TestPaystackParseWebhookBadSignature(t *testing.T) {
	p := newTestPaystack("")
	body := chargeSuccessBody(t, "ref-abc", nil)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"missing header", nil},
		{"wrong signature", map[string]string{"x-paystack-signature": "deadbeef"}},
		{"signed with other key", map[string]string{
			"x-paystack-signature": signPaystack("sk_other", body),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseWebhook(context.Background(), body, tt.headers)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestPaystackParseWebhookCaseInsensitiveHeader(t *testing.T) {
	p := newTestPaystack("")
	body := chargeSuccessBody(t, "ref-abc", nil)

	_, err := p.ParseWebhook(context.Background(), body, map[string]string{
		"X-Paystack-Signature": signPaystack("sk_test_secret", body),
	})
	assert.NoError(t, err)
}

func TestPaystackParseWebhookIgnoresOtherEvents(t *testing.T) {
	p := newTestPaystack("")
	body, err := json.Marshal(map[string]any{
		"event": "transfer.success",
		"data":  map[string]any{"reference": "ref-abc"},
	})
	require.NoError(t, err)

	_, err = p.ParseWebhook(context.Background(), body, map[string]string{
		"x-paystack-signature": signPaystack("sk_test_secret", body),
	})
	assert.ErrorIs(t, err, ErrEventIgnored)
}

func TestPaystackParseWebhookStringMetadata(t *testing.T) {
	// Paystack sometimes returns metadata as a JSON string.
	p := newTestPaystack("")
	nested, err := json.Marshal(map[string]string{"user_id": "7", "kind": "one-time"})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": "ref-str",
			"amount":    5000,
			"currency":  "NGN",
			"metadata":  string(nested),
		},
	})
	require.NoError(t, err)

	event, err := p.ParseWebhook(context.Background(), body, map[string]string{
		"x-paystack-signature": signPaystack("sk_test_secret", body),
	})
	require.NoError(t, err)
	assert.Equal(t, uint(7), event.Metadata.UserID)
	assert.Equal(t, KindOneTime, event.Metadata.Kind)
}

func TestPaystackCreateCheckoutSession(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody paystackInitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"authorization_url": "https://checkout.paystack.com/abc",
				"reference":         "ref-123",
			},
		})
	}))
	defer srv.Close()

	p := newTestPaystack(srv.URL)
	session, err := p.CreateCheckoutSession(context.Background(), &CheckoutRequest{
		Email:      "ada@example.test",
		Amount:     90000,
		Currency:   "USD",
		Kind:       KindItem,
		SuccessURL: "https://atelier.example.test/payment/success",
		Metadata:   &Metadata{UserID: 7, Kind: KindItem, ItemID: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-123", session.ID)
	assert.Equal(t, "https://checkout.paystack.com/abc", session.URL)

	assert.Equal(t, "/transaction/initialize", gotPath)
	assert.Equal(t, "Bearer sk_test_secret", gotAuth)
	assert.Equal(t, "ada@example.test", gotBody.Email)
	assert.Equal(t, int64(90000), gotBody.Amount)
	assert.Equal(t, "7", gotBody.Metadata["user_id"])
}

func TestPaystackCreateCheckoutSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestPaystack(srv.URL)
	_, err := p.CreateCheckoutSession(context.Background(), &CheckoutRequest{
		Email:  "ada@example.test",
		Amount: 90000,
	})
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestPaystackVerifyByReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref-123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"reference": "ref-123",
				"amount":    90000,
				"currency":  "USD",
				"status":    "success",
				"metadata":  map[string]string{"user_id": "7", "kind": "item"},
			},
		})
	}))
	defer srv.Close()

	p := newTestPaystack(srv.URL)
	event, err := p.VerifyByReference(context.Background(), "ref-123")
	require.NoError(t, err)
	assert.Equal(t, "ref-123", event.Reference)
	assert.Equal(t, int64(90000), event.Amount)
	assert.Equal(t, uint(7), event.Metadata.UserID)
}

func TestPaystackVerifyNotSettled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"reference": "ref-123",
				"status":    "abandoned",
			},
		})
	}))
	defer srv.Close()

	p := newTestPaystack(srv.URL)
	_, err := p.VerifyByReference(context.Background(), "ref-123")
	assert.ErrorIs(t, err, ErrNotSettled)
}
