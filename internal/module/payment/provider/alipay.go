package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/alipay"
	"github.com/google/uuid"
)

const alipayName = "alipay"

// Alipay adapts Alipay page payments through the gopay SDK. The
// out_trade_no we mint at session creation is the external reference;
// the metadata bag rides in passback_params.
type Alipay struct {
	client    *alipay.Client
	publicKey string
	notifyURL string
}

// AlipayConfig holds Alipay configuration.
type AlipayConfig struct {
	AppID           string
	PrivateKey      string // RSA2 private key, PEM
	AlipayPublicKey string // Alipay public key for notify verification, PEM
	IsProd          bool
	NotifyURL       string
}

// NewAlipay creates an Alipay provider adapter.
func NewAlipay(cfg AlipayConfig) (*Alipay, error) {
	client, err := alipay.NewClient(cfg.AppID, cfg.PrivateKey, cfg.IsProd)
	if err != nil {
		return nil, fmt.Errorf("create alipay client: %w", err)
	}
	client.AutoVerifySign([]byte(cfg.AlipayPublicKey))

	return &Alipay{
		client:    client,
		publicKey: cfg.AlipayPublicKey,
		notifyURL: cfg.NotifyURL,
	}, nil
}

func (p *Alipay) Name() string { return alipayName }

func (p *Alipay) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	outTradeNo := uuid.NewString()

	bm := make(gopay.BodyMap)
	bm.Set("out_trade_no", outTradeNo)
	// Alipay amounts are yuan with two decimals.
	bm.Set("total_amount", fmt.Sprintf("%.2f", float64(req.Amount)/100))
	bm.Set("subject", req.Description)
	bm.Set("product_code", "FAST_INSTANT_TRADE_PAY")
	bm.Set("timeout_express", "30m")
	if req.SuccessURL != "" {
		bm.Set("return_url", req.SuccessURL)
	}
	if p.notifyURL != "" {
		bm.Set("notify_url", p.notifyURL)
	}
	if req.Metadata != nil {
		passback, err := json.Marshal(req.Metadata.Encode())
		if err != nil {
			return nil, fmt.Errorf("encode passback params: %w", err)
		}
		bm.Set("passback_params", url.QueryEscape(string(passback)))
	}

	payURL, err := p.client.TradePagePay(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("%w: trade page pay: %v", ErrRequestFailed, err)
	}
	return &CheckoutSession{
		ID:  outTradeNo,
		URL: payURL,
	}, nil
}

func (p *Alipay) ParseWebhook(ctx context.Context, body []byte, _ map[string]string) (*SettlementEvent, error) {
	// Alipay notifies with form-urlencoded bodies; rebuild a request for
	// the gopay parser.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rebuild notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	bm, err := alipay.ParseNotifyToBodyMap(req)
	if err != nil {
		return nil, fmt.Errorf("parse alipay notify: %w", err)
	}

	ok, err := alipay.VerifySign(p.publicKey, bm)
	if err != nil || !ok {
		return nil, ErrInvalidSignature
	}

	status := bm.Get("trade_status")
	if status != "TRADE_SUCCESS" && status != "TRADE_FINISHED" {
		return nil, fmt.Errorf("%w: trade status %s", ErrEventIgnored, status)
	}

	return &SettlementEvent{
		Provider:  alipayName,
		Reference: bm.Get("out_trade_no"),
		Amount:    yuanToMinor(bm.Get("total_amount")),
		Currency:  "CNY",
		Metadata:  decodePassbackParams(bm.Get("passback_params")),
		Raw:       string(body),
	}, nil
}

func (p *Alipay) VerifyByReference(ctx context.Context, reference string) (*SettlementEvent, error) {
	bm := make(gopay.BodyMap)
	bm.Set("out_trade_no", reference)

	resp, err := p.client.TradeQuery(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("%w: trade query: %v", ErrRequestFailed, err)
	}
	if resp.Response.Code != "10000" {
		return nil, fmt.Errorf("%w: trade query: %s - %s", ErrRequestFailed, resp.Response.Code, resp.Response.Msg)
	}
	if resp.Response.TradeStatus != "TRADE_SUCCESS" && resp.Response.TradeStatus != "TRADE_FINISHED" {
		return nil, fmt.Errorf("%w: trade status %s", ErrNotSettled, resp.Response.TradeStatus)
	}

	return &SettlementEvent{
		Provider:  alipayName,
		Reference: resp.Response.OutTradeNo,
		Amount:    yuanToMinor(resp.Response.TotalAmount),
		Currency:  "CNY",
		Metadata:  decodePassbackParams(resp.Response.PassbackParams),
	}, nil
}

func (p *Alipay) CancelSubscription(context.Context, string) error {
	return fmt.Errorf("%w: alipay subscriptions require agreement signing", ErrUnsupported)
}

func (p *Alipay) GetSubscription(context.Context, string) (*Subscription, error) {
	return nil, fmt.Errorf("%w: alipay subscriptions require agreement signing", ErrUnsupported)
}

func yuanToMinor(amount string) int64 {
	f, _ := strconv.ParseFloat(amount, 64)
	return int64(f*100 + 0.5)
}

// decodePassbackParams reverses the url-escaped JSON written at session
// creation. Alipay may hand the value back already unescaped.
func decodePassbackParams(raw string) *Metadata {
	if raw == "" {
		return DecodeMetadata(nil)
	}
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		raw = unescaped
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return DecodeMetadata(nil)
	}
	return DecodeMetadata(meta)
}
