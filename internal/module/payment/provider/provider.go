package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Kind represents the purchase scenario.
type Kind string

const (
	KindOneTime      Kind = "one-time"
	KindSubscription Kind = "subscription"
	KindInstallment  Kind = "installment"
	KindItem         Kind = "item"
)

// Valid reports whether k is a known purchase kind.
func (k Kind) Valid() bool {
	switch k {
	case KindOneTime, KindSubscription, KindInstallment, KindItem:
		return true
	}
	return false
}

// Sentinel errors shared by all provider adapters.
var (
	// ErrInvalidSignature means the callback's authenticity proof did not
	// match. Nothing may be mutated after this error.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrRequestFailed means the remote provider call errored. Calls are
	// single-attempt; the caller does not retry.
	ErrRequestFailed = errors.New("provider request failed")

	// ErrNotSettled means the referenced payment has not (yet) succeeded
	// on the provider side.
	ErrNotSettled = errors.New("payment not settled")

	// ErrEventIgnored means the callback is authentic but carries an
	// event type this system does not reconcile.
	ErrEventIgnored = errors.New("event ignored")

	// ErrUnsupported means the provider cannot perform the operation.
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Metadata is the opaque bag embedded in every checkout session. It must
// round-trip through the provider unchanged: it is the only way user
// identity, purchase kind and installment linkage survive the external
// redirect hop.
type Metadata struct {
	UserID            uint
	Email             string
	Kind              Kind
	ItemID            uint // 0 when the purchase is not item-backed
	TransactionID     uint // parent ledger id for installment payments
	InstallmentNumber int  // 1-based; 0 when not an installment

	Quantity        int
	DeliveryAddress string
	Notes           string
}

// Encode flattens the bag into the string map providers accept.
// Zero-valued optional fields are omitted.
func (m *Metadata) Encode() map[string]string {
	out := map[string]string{
		"user_id": strconv.FormatUint(uint64(m.UserID), 10),
		"kind":    string(m.Kind),
	}
	if m.Email != "" {
		out["email"] = m.Email
	}
	if m.ItemID != 0 {
		out["item_id"] = strconv.FormatUint(uint64(m.ItemID), 10)
	}
	if m.TransactionID != 0 {
		out["transaction_id"] = strconv.FormatUint(uint64(m.TransactionID), 10)
	}
	if m.InstallmentNumber != 0 {
		out["installment_number"] = strconv.Itoa(m.InstallmentNumber)
	}
	if m.Quantity > 1 {
		out["quantity"] = strconv.Itoa(m.Quantity)
	}
	if m.DeliveryAddress != "" {
		out["delivery_address"] = m.DeliveryAddress
	}
	if m.Notes != "" {
		out["notes"] = m.Notes
	}
	return out
}

// DecodeMetadata rebuilds the bag from a provider callback. Values may
// come back as strings or JSON numbers depending on the provider, so
// both are accepted.
func DecodeMetadata(raw map[string]any) *Metadata {
	m := &Metadata{
		UserID:            uint(asInt(raw["user_id"])),
		Email:             asString(raw["email"]),
		Kind:              Kind(asString(raw["kind"])),
		ItemID:            uint(asInt(raw["item_id"])),
		TransactionID:     uint(asInt(raw["transaction_id"])),
		InstallmentNumber: int(asInt(raw["installment_number"])),
		Quantity:          int(asInt(raw["quantity"])),
		DeliveryAddress:   asString(raw["delivery_address"]),
		Notes:             asString(raw["notes"]),
	}
	if m.Quantity < 1 {
		m.Quantity = 1
	}
	return m
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// CheckoutRequest is a provider-neutral checkout session request.
// Amounts are in minor currency units.
type CheckoutRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Kind        Kind
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    *Metadata
}

// CheckoutSession is the created provider session.
type CheckoutSession struct {
	ID  string // provider session id / reference, used for verification
	URL string // redirect URL; empty when the provider needs no redirect
}

// SettlementEvent is the provider-neutral confirmation that money moved.
// Derived from a webhook push or a verify pull. The ledger, not the
// event, stays the source of truth.
type SettlementEvent struct {
	Provider  string
	Reference string // external reference, the idempotency key
	Amount    int64  // what was actually charged, minor units
	Currency  string
	Metadata  *Metadata
	Raw       string // original payload, for audit logging
}

// Subscription is a provider-side subscription snapshot.
type Subscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd int64
}

// Provider adapts one external payment provider to the neutral contract.
// Implementations must verify callback authenticity before returning a
// SettlementEvent, and must never mutate local state.
type Provider interface {
	// Name returns the provider name used in registry lookups and ledger rows.
	Name() string

	// CreateCheckoutSession creates a provider checkout session. The
	// request's metadata bag must be retrievable from the settlement
	// callback. Fails with ErrRequestFailed on any remote error.
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)

	// ParseWebhook validates the payload's authenticity proof and converts
	// it to a SettlementEvent. Fails with ErrInvalidSignature before any
	// parsing side effect, and ErrEventIgnored for authentic events this
	// system does not reconcile.
	ParseWebhook(ctx context.Context, body []byte, headers map[string]string) (*SettlementEvent, error)

	// VerifyByReference queries the provider for the current state of a
	// payment. Side-effect-free; returns ErrNotSettled when the payment
	// has not succeeded remotely.
	VerifyByReference(ctx context.Context, reference string) (*SettlementEvent, error)

	// CancelSubscription cancels a provider-side subscription.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// GetSubscription returns a provider-side subscription snapshot.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}
