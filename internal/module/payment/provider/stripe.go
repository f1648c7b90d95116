package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

const stripeName = "stripe"

// Stripe adapts the Stripe Checkout API. The session id doubles as the
// external reference; settlement arrives via checkout.session.completed.
type Stripe struct {
	apiKey        string
	webhookSecret string
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// NewStripe creates a Stripe provider adapter.
func NewStripe(cfg StripeConfig) *Stripe {
	stripe.Key = cfg.APIKey
	return &Stripe{
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
	}
}

func (p *Stripe) Name() string { return stripeName }

func (p *Stripe) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	mode := stripe.CheckoutSessionModePayment
	if req.Kind == KindSubscription {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if req.Metadata != nil {
		params.Metadata = req.Metadata.Encode()
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", ErrRequestFailed, err)
	}
	return &CheckoutSession{
		ID:  s.ID,
		URL: s.URL,
	}, nil
}

func (p *Stripe) ParseWebhook(_ context.Context, body []byte, headers map[string]string) (*SettlementEvent, error) {
	sig := headerValue(headers, "Stripe-Signature")
	event, err := webhook.ConstructEvent(body, sig, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Type != "checkout.session.completed" {
		return nil, fmt.Errorf("%w: %s", ErrEventIgnored, event.Type)
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		s.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		return nil, fmt.Errorf("%w: payment status %q", ErrNotSettled, s.PaymentStatus)
	}
	return p.toSettlement(&s, body), nil
}

func (p *Stripe) VerifyByReference(ctx context.Context, reference string) (*SettlementEvent, error) {
	s, err := session.Get(reference, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: get checkout session: %v", ErrRequestFailed, err)
	}
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		s.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		return nil, fmt.Errorf("%w: payment status %q", ErrNotSettled, s.PaymentStatus)
	}
	return p.toSettlement(s, nil), nil
}

func (p *Stripe) toSettlement(s *stripe.CheckoutSession, raw []byte) *SettlementEvent {
	meta := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	return &SettlementEvent{
		Provider:  stripeName,
		Reference: s.ID,
		Amount:    s.AmountTotal,
		Currency:  strings.ToUpper(string(s.Currency)),
		Metadata:  DecodeMetadata(meta),
		Raw:       string(raw),
	}
}

func (p *Stripe) CancelSubscription(_ context.Context, subscriptionID string) error {
	_, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("%w: cancel subscription: %v", ErrRequestFailed, err)
	}
	return nil
}

func (p *Stripe) GetSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: get subscription: %v", ErrRequestFailed, err)
	}
	return &Subscription{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}
