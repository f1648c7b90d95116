package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier/server/internal/module/payment/provider"
	"github.com/atelier/server/internal/shared/logger"
)

// fakeProvider implements provider.Provider for testing.
type fakeProvider struct {
	name          string
	lastRequest   *provider.CheckoutRequest
	session       *provider.CheckoutSession
	createErr     error
	parseEvent    *provider.SettlementEvent
	parseErr      error
	verifyEvent   *provider.SettlementEvent
	verifyErr     error
	lastVerifyRef string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req *provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	f.lastRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.session != nil {
		return f.session, nil
	}
	return &provider.CheckoutSession{ID: "session-1", URL: "https://pay.example.test/session-1"}, nil
}

func (f *fakeProvider) ParseWebhook(context.Context, []byte, map[string]string) (*provider.SettlementEvent, error) {
	return f.parseEvent, f.parseErr
}

func (f *fakeProvider) VerifyByReference(_ context.Context, reference string) (*provider.SettlementEvent, error) {
	f.lastVerifyRef = reference
	return f.verifyEvent, f.verifyErr
}

func (f *fakeProvider) CancelSubscription(context.Context, string) error { return nil }

func (f *fakeProvider) GetSubscription(context.Context, string) (*provider.Subscription, error) {
	return &provider.Subscription{ID: "sub-1", Status: "active"}, nil
}

// memCache is a map-backed DedupCache.
type memCache struct {
	keys map[string]struct{}
}

func newMemCache() *memCache {
	return &memCache{keys: make(map[string]struct{})}
}

func (c *memCache) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	if _, ok := c.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	c.keys[key] = struct{}{}
	return redis.NewBoolResult(true, nil)
}

func (c *memCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := c.keys[key]; ok {
			delete(c.keys, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

type serviceFixture struct {
	*reconcilerFixture
	provider *fakeProvider
	cache    *memCache
	service  *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	base := newReconcilerFixture(t)
	fp := &fakeProvider{name: "paystack"}
	registry := NewProviderRegistry("paystack")
	registry.Register(fp)
	dedup := newMemCache()

	svc := NewService(
		base.repo,
		registry,
		NewPlanner(DefaultPlannerConfig()),
		base.rec,
		base.users,
		base.items,
		dedup,
		ServiceConfig{
			DefaultCurrency: "USD",
			SuccessURL:      "https://atelier.example.test/payment/success",
			CancelURL:       "https://atelier.example.test/payment/cancel",
		},
		logger.New(&logger.Config{Level: "error"}),
		nil,
	)
	svc.now = func() time.Time { return base.now }
	return &serviceFixture{reconcilerFixture: base, provider: fp, cache: dedup, service: svc}
}

func TestCheckoutOneTimeCustomAmount(t *testing.T) {
	f := newServiceFixture(t)

	out, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{
		Kind:        KindOneTime,
		Amount:      5000,
		Description: "fitting deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), out.Amount)
	assert.Equal(t, "USD", out.Currency)
	assert.Equal(t, "session-1", out.CheckoutID)
	assert.Empty(t, out.Installments)

	tx, err := f.repo.GetTransaction(context.Background(), out.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, "session-1", tx.ProviderCheckoutID)
	assert.Nil(t, tx.ProviderPaymentID)

	require.NotNil(t, f.provider.lastRequest)
	meta := f.provider.lastRequest.Metadata
	require.NotNil(t, meta)
	assert.Equal(t, uint(1), meta.UserID)
	assert.Zero(t, meta.TransactionID)
}

func TestCheckoutItemUsesCatalogPrice(t *testing.T) {
	f := newServiceFixture(t)

	out, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{
		Kind:     KindItem,
		ItemID:   10,
		Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(180000), out.Amount)

	tx, err := f.repo.GetTransaction(context.Background(), out.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, tx.ItemID)
	assert.Equal(t, uint(10), *tx.ItemID)
}

func TestCheckoutItemRequiresItemID(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{Kind: KindItem})
	assert.ErrorIs(t, err, ErrItemRequired)
}

func TestCheckoutRejectsUnknownKind(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{Kind: "raffle"})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestCheckoutRejectsZeroAmount(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{Kind: KindOneTime})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCheckoutNewPlanStudentPeriods(t *testing.T) {
	f := newServiceFixture(t)

	// User 2 is a student; the dress plan stretches to six periods.
	out, err := f.service.Checkout(context.Background(), 2, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 10,
	})
	require.NoError(t, err)
	require.Len(t, out.Installments, 6)
	assert.Equal(t, int64(15000), out.Amount) // 90000 / 6

	var sum int64
	for _, inst := range out.Installments {
		sum += inst.Amount
	}
	assert.Equal(t, int64(90000), sum)

	meta := f.provider.lastRequest.Metadata
	require.NotNil(t, meta)
	assert.Equal(t, out.TransactionID, meta.TransactionID)
	assert.Equal(t, 1, meta.InstallmentNumber)

	parent, err := f.repo.GetTransaction(context.Background(), out.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, parent.Status)
	assert.Equal(t, KindInstallment, parent.Kind)
	assert.Equal(t, int64(90000), parent.Amount)
}

func TestCheckoutNewPlanSuitBeatsStudent(t *testing.T) {
	f := newServiceFixture(t)

	out, err := f.service.Checkout(context.Background(), 2, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 11, // suit
	})
	require.NoError(t, err)
	require.Len(t, out.Installments, 2)
	assert.Equal(t, int64(60000), out.Amount)
}

func TestCheckoutPlanRequiresItem(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{
		Kind:   KindInstallment,
		Amount: 5000,
	})
	assert.ErrorIs(t, err, ErrPlanNotAvailable)
}

func TestCheckoutPlanSessionFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.createErr = fmt.Errorf("%w: upstream 500", provider.ErrRequestFailed)

	_, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 10,
	})
	require.ErrorIs(t, err, provider.ErrRequestFailed)

	// The plan row survives, marked failed.
	require.Len(t, f.repo.transactions, 1)
	for _, tx := range f.repo.transactions {
		assert.Equal(t, StatusFailed, tx.Status)
	}
}

func TestCheckoutPlanScheduleFailureRollsBack(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.failCreateInstallments = errors.New("pq: deadlock detected")

	_, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 10,
	})
	require.Error(t, err)

	// Neither the parent row nor any schedule row survives, and no
	// session was issued for the half-created plan.
	assert.Empty(t, f.repo.transactions)
	assert.Empty(t, f.repo.installments)
	assert.Nil(t, f.provider.lastRequest)
}

func TestCheckoutPlanRejectsZeroPeriods(t *testing.T) {
	f := newServiceFixture(t)
	f.service.planner = &Planner{}

	_, err := f.service.Checkout(context.Background(), 1, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 10,
	})
	assert.ErrorIs(t, err, ErrPlanNotAvailable)
	assert.Empty(t, f.repo.transactions)
}

func TestCheckoutSubsequentInstallment(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	plan, err := f.service.Checkout(ctx, 1, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 11,
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkInstallmentPaid(ctx, plan.TransactionID, 1, "pay-1", f.now))

	out, err := f.service.Checkout(ctx, 1, &CheckoutInput{
		Kind:          KindInstallment,
		TransactionID: plan.TransactionID,
	})
	require.NoError(t, err)
	assert.Equal(t, plan.TransactionID, out.TransactionID)
	assert.Equal(t, int64(60000), out.Amount)

	meta := f.provider.lastRequest.Metadata
	assert.Equal(t, plan.TransactionID, meta.TransactionID)
	assert.Equal(t, 2, meta.InstallmentNumber)
}

func TestCheckoutInstallmentOnFullyPaidPlan(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	plan, err := f.service.Checkout(ctx, 1, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 11,
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkInstallmentPaid(ctx, plan.TransactionID, 1, "pay-1", f.now))
	require.NoError(t, f.repo.MarkInstallmentPaid(ctx, plan.TransactionID, 2, "pay-2", f.now))

	_, err = f.service.Checkout(ctx, 1, &CheckoutInput{
		Kind:          KindInstallment,
		TransactionID: plan.TransactionID,
	})
	assert.ErrorIs(t, err, ErrPlanNotAvailable)
}

func TestCheckoutInstallmentOwnership(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	plan, err := f.service.Checkout(ctx, 1, &CheckoutInput{
		Kind:   KindInstallment,
		ItemID: 11,
	})
	require.NoError(t, err)

	_, err = f.service.Checkout(ctx, 2, &CheckoutInput{
		Kind:          KindInstallment,
		TransactionID: plan.TransactionID,
	})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestVerifyNotSettled(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.verifyErr = fmt.Errorf("%w: status pending", provider.ErrNotSettled)

	out, err := f.service.Verify(context.Background(), &VerifyInput{Reference: "ref-x"})
	require.NoError(t, err)
	assert.False(t, out.Settled)
	assert.Nil(t, out.Transaction)
}

func TestVerifySettledReconciles(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.verifyEvent = oneShotEvent("ref-v", 90000)

	out, err := f.service.Verify(context.Background(), &VerifyInput{Reference: "ref-v"})
	require.NoError(t, err)
	assert.True(t, out.Settled)
	assert.Equal(t, OutcomeApplied, out.Outcome)
	require.NotNil(t, out.Transaction)
	assert.Equal(t, StatusCompleted, out.Transaction.Status)

	// Verify after the webhook already landed: duplicate, same row.
	out, err = f.service.Verify(context.Background(), &VerifyInput{Reference: "ref-v"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out.Outcome)
	assert.Len(t, f.repo.transactions, 1)
}

func TestVerifyAcceptsSessionID(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.verifyEvent = oneShotEvent("ref-s", 90000)

	out, err := f.service.Verify(context.Background(), &VerifyInput{SessionID: "ref-s"})
	require.NoError(t, err)
	assert.True(t, out.Settled)
	assert.Equal(t, OutcomeApplied, out.Outcome)
	assert.Equal(t, "ref-s", f.provider.lastVerifyRef)
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseErr = provider.ErrInvalidSignature

	err := f.service.HandleWebhook(context.Background(), "paystack", []byte("{}"), nil)
	assert.ErrorIs(t, err, provider.ErrInvalidSignature)
	assert.Empty(t, f.repo.transactions)
}

func TestHandleWebhookIgnoredEvent(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseErr = fmt.Errorf("%w: charge.dispute.create", provider.ErrEventIgnored)

	err := f.service.HandleWebhook(context.Background(), "paystack", []byte("{}"), nil)
	assert.NoError(t, err)
	assert.Empty(t, f.repo.transactions)
}

func TestHandleWebhookParseFailureAcknowledged(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseErr = errors.New("malformed payload")

	err := f.service.HandleWebhook(context.Background(), "paystack", []byte("not json"), nil)
	assert.NoError(t, err)
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	f := newServiceFixture(t)

	err := f.service.HandleWebhook(context.Background(), "wechat", []byte("{}"), nil)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestHandleWebhookAppliesSettlement(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseEvent = oneShotEvent("ref-w", 90000)

	err := f.service.HandleWebhook(context.Background(), "paystack", []byte("{}"), nil)
	require.NoError(t, err)

	tx, err := f.repo.GetByProviderReference(context.Background(), "paystack", "ref-w")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tx.Status)
	require.Len(t, f.tasks.tasks, 1)
}

func TestHandleWebhookDedupFastPath(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.parseEvent = oneShotEvent("ref-fast", 90000)

	require.NoError(t, f.service.HandleWebhook(context.Background(), "paystack", []byte("{}"), nil))
	require.NoError(t, f.service.HandleWebhook(context.Background(), "paystack", []byte("{}"), nil))

	assert.Len(t, f.repo.transactions, 1)
	assert.Contains(t, f.cache.keys, "webhook:paystack:ref-fast")
}

func TestHandleWebhookRedeliveryAfterFailureReapplies(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	event := &provider.SettlementEvent{
		Provider:  "paystack",
		Reference: "plan-pay-1",
		Amount:    60000,
		Currency:  "USD",
		Metadata: &provider.Metadata{
			UserID:            1,
			Kind:              provider.KindInstallment,
			ItemID:            11,
			TransactionID:     999,
			InstallmentNumber: 1,
		},
	}
	f.provider.parseEvent = event

	// First delivery fails to reconcile: no plan with that id exists. The
	// dedup key must be released so the redelivery is not short-circuited.
	require.NoError(t, f.service.HandleWebhook(ctx, "paystack", []byte("{}"), nil))
	assert.Empty(t, f.repo.transactions)
	assert.NotContains(t, f.cache.keys, "webhook:paystack:plan-pay-1")

	itemID := uint(11)
	parent := &Transaction{
		UserID:   1,
		Amount:   120000,
		Currency: "USD",
		Status:   StatusPending,
		Kind:     KindInstallment,
		ItemID:   &itemID,
		Provider: "paystack",
	}
	require.NoError(t, f.repo.CreateTransaction(ctx, parent))
	event.Metadata.TransactionID = parent.ID

	// Redelivery inside the dedup TTL now applies.
	require.NoError(t, f.service.HandleWebhook(ctx, "paystack", []byte("{}"), nil))
	updated, err := f.repo.GetTransaction(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}
