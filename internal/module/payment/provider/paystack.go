package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atelier/server/internal/shared/logger"
)

const (
	paystackName            = "paystack"
	paystackSignatureHeader = "x-paystack-signature"
)

// Paystack adapts the Paystack REST API. Checkout sessions map to
// transaction initialization, settlement arrives via the charge.success
// webhook signed with HMAC-SHA512 over the raw body.
type Paystack struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	logger        *logger.Logger
}

// PaystackConfig configures the Paystack adapter.
type PaystackConfig struct {
	SecretKey     string
	WebhookSecret string // defaults to SecretKey, which Paystack uses for signing
	BaseURL       string
}

// NewPaystack creates a Paystack provider adapter.
func NewPaystack(cfg PaystackConfig, log *logger.Logger) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.SecretKey
	}
	return &Paystack{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		client:        &http.Client{Timeout: 15 * time.Second},
		logger:        log,
	}
}

func (p *Paystack) Name() string { return paystackName }

type paystackInitRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (p *Paystack) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	body := paystackInitRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CallbackURL: req.SuccessURL,
	}
	if req.Metadata != nil {
		body.Metadata = req.Metadata.Encode()
	}

	var resp paystackInitResponse
	if err := p.call(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.Reference == "" {
		return nil, fmt.Errorf("%w: paystack initialize: %s", ErrRequestFailed, resp.Message)
	}
	return &CheckoutSession{
		ID:  resp.Data.Reference,
		URL: resp.Data.AuthorizationURL,
	}, nil
}

type paystackEvent struct {
	Event string                `json:"event"`
	Data  paystackTransactionV1 `json:"data"`
}

type paystackTransactionV1 struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (p *Paystack) ParseWebhook(_ context.Context, body []byte, headers map[string]string) (*SettlementEvent, error) {
	sig := headerValue(headers, paystackSignatureHeader)
	if !p.validSignature(body, sig) {
		return nil, ErrInvalidSignature
	}

	var evt paystackEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("decode paystack event: %w", err)
	}
	if evt.Event != "charge.success" {
		return nil, fmt.Errorf("%w: %s", ErrEventIgnored, evt.Event)
	}
	return p.toSettlement(evt.Data, body)
}

func (p *Paystack) validSignature(body []byte, signature string) bool {
	if signature == "" || p.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type paystackVerifyResponse struct {
	Status  bool                  `json:"status"`
	Message string                `json:"message"`
	Data    paystackTransactionV1 `json:"data"`
}

func (p *Paystack) VerifyByReference(ctx context.Context, reference string) (*SettlementEvent, error) {
	var resp paystackVerifyResponse
	if err := p.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: paystack verify: %s", ErrRequestFailed, resp.Message)
	}
	if resp.Data.Status != "success" {
		return nil, fmt.Errorf("%w: status %q", ErrNotSettled, resp.Data.Status)
	}
	return p.toSettlement(resp.Data, nil)
}

func (p *Paystack) toSettlement(tx paystackTransactionV1, raw []byte) (*SettlementEvent, error) {
	if tx.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrRequestFailed)
	}
	return &SettlementEvent{
		Provider:  paystackName,
		Reference: tx.Reference,
		Amount:    tx.Amount,
		Currency:  strings.ToUpper(tx.Currency),
		Metadata:  decodePaystackMetadata(tx.Metadata),
		Raw:       string(raw),
	}, nil
}

// decodePaystackMetadata tolerates the two shapes Paystack returns the
// metadata field in: a JSON object, or a string containing one.
func decodePaystackMetadata(raw json.RawMessage) *Metadata {
	if len(raw) == 0 {
		return DecodeMetadata(nil)
	}
	var object map[string]any
	if err := json.Unmarshal(raw, &object); err == nil {
		return DecodeMetadata(object)
	}
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		if err := json.Unmarshal([]byte(nested), &object); err == nil {
			return DecodeMetadata(object)
		}
	}
	return DecodeMetadata(nil)
}

func (p *Paystack) CancelSubscription(ctx context.Context, subscriptionID string) error {
	body := map[string]string{"code": subscriptionID}
	var resp paystackInitResponse
	if err := p.call(ctx, http.MethodPost, "/subscription/disable", body, &resp); err != nil {
		return err
	}
	if !resp.Status {
		return fmt.Errorf("%w: paystack disable subscription: %s", ErrRequestFailed, resp.Message)
	}
	return nil
}

type paystackSubscriptionResponse struct {
	Status bool `json:"status"`
	Data   struct {
		SubscriptionCode string `json:"subscription_code"`
		Status           string `json:"status"`
		NextPaymentDate  string `json:"next_payment_date"`
	} `json:"data"`
}

func (p *Paystack) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var resp paystackSubscriptionResponse
	if err := p.call(ctx, http.MethodGet, "/subscription/"+subscriptionID, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: paystack fetch subscription", ErrRequestFailed)
	}
	sub := &Subscription{
		ID:     resp.Data.SubscriptionCode,
		Status: resp.Data.Status,
	}
	if t, err := time.Parse(time.RFC3339, resp.Data.NextPaymentDate); err == nil {
		sub.CurrentPeriodEnd = t.Unix()
	}
	return sub, nil
}

func (p *Paystack) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode paystack request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		p.logger.Warn("paystack request rejected",
			"path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s returned %d", ErrRequestFailed, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	return nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
