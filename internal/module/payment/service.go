package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atelier/server/internal/module/payment/provider"
	"github.com/atelier/server/internal/shared/logger"
	"github.com/atelier/server/internal/shared/metrics"
)

// ServiceConfig sets checkout defaults and webhook deduplication.
type ServiceConfig struct {
	DefaultCurrency string
	SuccessURL      string
	CancelURL       string
	WebhookDedupTTL time.Duration
}

// DedupCache is the slice of the redis client the webhook dedup fast
// path needs. A nil cache disables the fast path; the ledger's unique
// index still guarantees idempotency.
type DedupCache interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Service orchestrates checkout initiation, settlement verification and
// webhook handling across the registered providers.
type Service struct {
	repo       Repository
	registry   *ProviderRegistry
	planner    *Planner
	reconciler *Reconciler
	users      UserReader
	items      ItemReader
	cache      DedupCache // optional webhook dedup fast path
	cfg        ServiceConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates the payment service.
func NewService(
	repo Repository,
	registry *ProviderRegistry,
	planner *Planner,
	reconciler *Reconciler,
	users UserReader,
	items ItemReader,
	cache DedupCache,
	cfg ServiceConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.WebhookDedupTTL <= 0 {
		cfg.WebhookDedupTTL = 10 * time.Minute
	}
	return &Service{
		repo:       repo,
		registry:   registry,
		planner:    planner,
		reconciler: reconciler,
		users:      users,
		items:      items,
		cache:      cache,
		cfg:        cfg,
		logger:     log,
		metrics:    m,
		now:        time.Now,
	}
}

// Checkout classifies the purchase and creates a provider checkout
// session: a one-shot payment, a new installment plan, or a payment
// against an existing plan's schedule.
func (s *Service) Checkout(ctx context.Context, userID uint, in *CheckoutInput) (*CheckoutOutput, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}
	p, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	var out *CheckoutOutput
	switch {
	case in.TransactionID != 0:
		out, err = s.checkoutInstallmentPayment(ctx, p, user, in)
	case in.Kind == KindInstallment:
		out, err = s.checkoutNewPlan(ctx, p, user, in)
	default:
		out, err = s.checkoutOneShot(ctx, p, user, in)
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(p.Name(), string(in.Kind)).Inc()
	}
	s.logger.Info("checkout session created",
		"provider", p.Name(), "kind", in.Kind,
		"transaction_id", out.TransactionID, "amount", out.Amount)
	return out, nil
}

// checkoutOneShot handles one-time, item and subscription purchases:
// one session, one pending ledger row.
func (s *Service) checkoutOneShot(ctx context.Context, p provider.Provider, user *UserInfo, in *CheckoutInput) (*CheckoutOutput, error) {
	amount, currency, description, itemID, err := s.resolvePrice(ctx, in)
	if err != nil {
		return nil, err
	}

	meta := s.buildMetadata(user, in)
	session, err := s.createSession(ctx, p, &provider.CheckoutRequest{
		Email:       user.Email,
		Amount:      amount,
		Currency:    currency,
		Kind:        in.Kind,
		Description: description,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		Metadata:    meta,
	})
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		UserID:             user.ID,
		Amount:             amount,
		Currency:           currency,
		Status:             StatusPending,
		Kind:               in.Kind,
		ItemID:             itemID,
		Provider:           p.Name(),
		ProviderCheckoutID: session.ID,
		Description:        description,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	return &CheckoutOutput{
		TransactionID: tx.ID,
		Provider:      p.Name(),
		CheckoutID:    session.ID,
		CheckoutURL:   session.URL,
		Amount:        amount,
		Currency:      currency,
	}, nil
}

// checkoutNewPlan opens an installment plan: the parent ledger row and
// its full schedule are created in one database transaction, then the
// session for the first period is issued.
func (s *Service) checkoutNewPlan(ctx context.Context, p provider.Provider, user *UserInfo, in *CheckoutInput) (*CheckoutOutput, error) {
	if in.ItemID == 0 {
		return nil, fmt.Errorf("%w: installment plans need a priced item", ErrPlanNotAvailable)
	}
	item, err := s.items.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", in.ItemID, err)
	}
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}
	total := item.Price * int64(qty)
	if total <= 0 {
		return nil, fmt.Errorf("%w: item has no price", ErrPlanNotAvailable)
	}
	currency := item.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	periods := s.planner.Periods(user.Student, item.Category)
	if periods < 1 {
		return nil, fmt.Errorf("%w: no plan periods configured for %q", ErrPlanNotAvailable, item.Category)
	}
	now := s.now()

	itemID := item.ID
	parent := &Transaction{
		UserID:      user.ID,
		Amount:      total,
		Currency:    currency,
		Status:      StatusPending,
		Kind:        KindInstallment,
		ItemID:      &itemID,
		Provider:    p.Name(),
		Description: fmt.Sprintf("%s, %d installments", item.Title, periods),
	}

	var schedule []*Installment
	err = s.repo.Transaction(ctx, func(repo Repository) error {
		if err := repo.CreateTransaction(ctx, parent); err != nil {
			return err
		}
		schedule = s.planner.Schedule(parent.ID, total, periods, now)
		return repo.CreateInstallments(ctx, schedule)
	})
	if err != nil {
		return nil, fmt.Errorf("create installment plan: %w", err)
	}

	meta := s.buildMetadata(user, in)
	meta.TransactionID = parent.ID
	meta.InstallmentNumber = 1

	session, err := s.createSession(ctx, p, &provider.CheckoutRequest{
		Email:       user.Email,
		Amount:      schedule[0].Amount,
		Currency:    currency,
		Kind:        KindInstallment,
		Description: parent.Description,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		Metadata:    meta,
	})
	if err != nil {
		// The plan stays on the ledger; the session can be reissued by
		// retrying the checkout against the same plan.
		parent.Status = StatusFailed
		if uerr := s.repo.UpdateTransaction(ctx, parent); uerr != nil {
			s.logger.Error("mark plan failed after session error", logger.Err(uerr),
				"transaction_id", parent.ID)
		}
		return nil, err
	}

	parent.ProviderCheckoutID = session.ID
	if err := s.repo.UpdateTransaction(ctx, parent); err != nil {
		return nil, err
	}

	return &CheckoutOutput{
		TransactionID: parent.ID,
		Provider:      p.Name(),
		CheckoutID:    session.ID,
		CheckoutURL:   session.URL,
		Amount:        schedule[0].Amount,
		Currency:      currency,
		Installments:  toInstallmentViews(schedule),
	}, nil
}

// checkoutInstallmentPayment issues a session for one scheduled period
// of an existing plan. When no period number is given, the next pending
// one is selected.
func (s *Service) checkoutInstallmentPayment(ctx context.Context, p provider.Provider, user *UserInfo, in *CheckoutInput) (*CheckoutOutput, error) {
	parent, err := s.repo.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		return nil, err
	}
	if parent.UserID != user.ID {
		return nil, ErrTransactionNotFound
	}
	if parent.Kind != KindInstallment {
		return nil, fmt.Errorf("%w: transaction %d is not a plan", ErrPlanNotAvailable, parent.ID)
	}

	inst, err := s.selectInstallment(ctx, parent.ID, in.InstallmentNumber)
	if err != nil {
		return nil, err
	}

	meta := s.buildMetadata(user, in)
	meta.Kind = KindInstallment
	meta.TransactionID = parent.ID
	meta.InstallmentNumber = inst.Number
	if parent.ItemID != nil {
		meta.ItemID = *parent.ItemID
	}

	session, err := s.createSession(ctx, p, &provider.CheckoutRequest{
		Email:       user.Email,
		Amount:      inst.Amount,
		Currency:    parent.Currency,
		Kind:        KindInstallment,
		Description: fmt.Sprintf("installment %d of %d", inst.Number, inst.TotalInstallments),
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		Metadata:    meta,
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutOutput{
		TransactionID: parent.ID,
		Provider:      p.Name(),
		CheckoutID:    session.ID,
		CheckoutURL:   session.URL,
		Amount:        inst.Amount,
		Currency:      parent.Currency,
	}, nil
}

func (s *Service) selectInstallment(ctx context.Context, planID uint, number int) (*Installment, error) {
	if number > 0 {
		inst, err := s.repo.GetInstallment(ctx, planID, number)
		if err != nil {
			return nil, err
		}
		if inst.Status == InstallmentPaid {
			return nil, fmt.Errorf("%w: installment %d already paid", ErrPlanNotAvailable, number)
		}
		return inst, nil
	}
	schedule, err := s.repo.ListInstallments(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, inst := range schedule {
		if inst.Status != InstallmentPaid {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: plan %d is fully paid", ErrPlanNotAvailable, planID)
}

func (s *Service) resolvePrice(ctx context.Context, in *CheckoutInput) (amount int64, currency, description string, itemID *uint, err error) {
	currency = in.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	description = in.Description

	if in.Kind == KindItem || in.ItemID != 0 {
		if in.ItemID == 0 {
			return 0, "", "", nil, ErrItemRequired
		}
		item, ierr := s.items.GetItem(ctx, in.ItemID)
		if ierr != nil {
			return 0, "", "", nil, fmt.Errorf("load item %d: %w", in.ItemID, ierr)
		}
		qty := in.Quantity
		if qty < 1 {
			qty = 1
		}
		amount = item.Price * int64(qty)
		if item.Currency != "" {
			currency = item.Currency
		}
		if description == "" {
			description = item.Title
		}
		id := item.ID
		itemID = &id
	} else {
		amount = in.Amount
	}

	if amount <= 0 {
		return 0, "", "", nil, ErrInvalidAmount
	}
	return amount, currency, description, itemID, nil
}

func (s *Service) buildMetadata(user *UserInfo, in *CheckoutInput) *provider.Metadata {
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}
	return &provider.Metadata{
		UserID:          user.ID,
		Email:           user.Email,
		Kind:            in.Kind,
		ItemID:          in.ItemID,
		Quantity:        qty,
		DeliveryAddress: in.DeliveryAddress,
		Notes:           in.Notes,
	}
}

func (s *Service) createSession(ctx context.Context, p provider.Provider, req *provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	start := s.now()
	session, err := p.CreateCheckoutSession(ctx, req)
	if s.metrics != nil {
		s.metrics.ProviderCallDuration.
			WithLabelValues(p.Name(), "create_checkout_session").
			Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Verify pulls a payment's state from the provider and, when settled,
// reconciles it exactly like a webhook push would.
func (s *Service) Verify(ctx context.Context, in *VerifyInput) (*VerifyOutput, error) {
	p, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, err
	}

	start := s.now()
	event, err := p.VerifyByReference(ctx, in.reference())
	if s.metrics != nil {
		s.metrics.ProviderCallDuration.
			WithLabelValues(p.Name(), "verify").
			Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, provider.ErrNotSettled) {
			return &VerifyOutput{Settled: false}, nil
		}
		return nil, err
	}

	outcome, err := s.reconciler.Apply(ctx, event)
	if err != nil {
		s.recordSettlement(p.Name(), metrics.OutcomeRejected)
		return nil, fmt.Errorf("reconcile verified payment: %w", err)
	}
	s.recordSettlement(p.Name(), string(outcome))

	out := &VerifyOutput{Settled: true, Outcome: outcome}
	if tx, err := s.repo.GetByProviderReference(ctx, p.Name(), event.Reference); err == nil {
		out.Transaction = tx
	}
	return out, nil
}

// HandleWebhook authenticates and reconciles one provider callback.
// A provider.ErrInvalidSignature return is the only case the transport
// layer rejects; reconciliation failures are logged and acknowledged so
// the provider's retry loop, or a later verify pull, can recover.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, body []byte, headers map[string]string) error {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return err
	}

	event, err := p.ParseWebhook(ctx, body, headers)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrInvalidSignature):
			if s.metrics != nil {
				s.metrics.SignatureFailures.WithLabelValues(p.Name()).Inc()
			}
			s.logger.Warn("webhook signature rejected", "provider", p.Name())
			return err
		case errors.Is(err, provider.ErrEventIgnored), errors.Is(err, provider.ErrNotSettled):
			s.logger.Debug("webhook event ignored", "provider", p.Name(), logger.Err(err))
			return nil
		default:
			s.logger.Error("webhook parse failed", logger.Err(err), "provider", p.Name())
			return nil
		}
	}

	if s.seenRecently(ctx, p.Name(), event.Reference) {
		s.recordSettlement(p.Name(), metrics.OutcomeDuplicate)
		return nil
	}

	outcome, err := s.reconciler.Apply(ctx, event)
	if err != nil {
		s.recordSettlement(p.Name(), metrics.OutcomeRejected)
		// Release the dedup key so the provider's redelivery is applied
		// rather than swallowed by the fast path.
		s.forgetSeen(ctx, p.Name(), event.Reference)
		s.logger.Error("settlement reconciliation failed", logger.Err(err),
			"provider", p.Name(), "reference", event.Reference)
		return nil
	}
	s.recordSettlement(p.Name(), string(outcome))
	s.logger.Info("settlement reconciled",
		"provider", p.Name(), "reference", event.Reference, "outcome", outcome)
	return nil
}

// seenRecently is the redis fast path in front of the ledger's unique
// index. SETNX failures degrade to the database check, so a missing or
// broken cache only costs a lookup.
func (s *Service) seenRecently(ctx context.Context, providerName, reference string) bool {
	if s.cache == nil || reference == "" {
		return false
	}
	key := fmt.Sprintf("webhook:%s:%s", providerName, reference)
	acquired, err := s.cache.SetNX(ctx, key, 1, s.cfg.WebhookDedupTTL).Result()
	if err != nil {
		s.logger.Warn("webhook dedup cache unavailable", logger.Err(err))
		return false
	}
	return !acquired
}

// forgetSeen releases a dedup key claimed for a settlement that failed
// to reconcile.
func (s *Service) forgetSeen(ctx context.Context, providerName, reference string) {
	if s.cache == nil || reference == "" {
		return
	}
	key := fmt.Sprintf("webhook:%s:%s", providerName, reference)
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("webhook dedup key release failed", logger.Err(err), "key", key)
	}
}

func (s *Service) recordSettlement(providerName, outcome string) {
	if s.metrics != nil {
		s.metrics.SettlementsTotal.WithLabelValues(providerName, outcome).Inc()
	}
}

// GetTransaction returns a ledger row owned by the user.
func (s *Service) GetTransaction(ctx context.Context, userID, id uint) (*Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// ListTransactions returns the user's ledger rows, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uint) ([]*Transaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID)
}

// ListInstallments returns a plan's schedule, owner-checked.
func (s *Service) ListInstallments(ctx context.Context, userID, transactionID uint) ([]*InstallmentView, error) {
	if _, err := s.GetTransaction(ctx, userID, transactionID); err != nil {
		return nil, err
	}
	schedule, err := s.repo.ListInstallments(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return toInstallmentViews(schedule), nil
}

// CancelSubscription cancels the provider-side subscription behind a
// ledger row and marks the row canceled.
func (s *Service) CancelSubscription(ctx context.Context, userID, transactionID uint) error {
	tx, err := s.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return err
	}
	if tx.Kind != KindSubscription || tx.ProviderSubscriptionID == "" {
		return fmt.Errorf("%w: transaction %d has no subscription", ErrTransactionNotFound, transactionID)
	}
	p, err := s.registry.Get(tx.Provider)
	if err != nil {
		return err
	}
	if err := p.CancelSubscription(ctx, tx.ProviderSubscriptionID); err != nil {
		return err
	}
	tx.Status = StatusCanceled
	return s.repo.UpdateTransaction(ctx, tx)
}

// GetSubscription returns the provider-side state of a subscription row.
func (s *Service) GetSubscription(ctx context.Context, userID, transactionID uint) (*provider.Subscription, error) {
	tx, err := s.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Kind != KindSubscription || tx.ProviderSubscriptionID == "" {
		return nil, fmt.Errorf("%w: transaction %d has no subscription", ErrTransactionNotFound, transactionID)
	}
	p, err := s.registry.Get(tx.Provider)
	if err != nil {
		return nil, err
	}
	return p.GetSubscription(ctx, tx.ProviderSubscriptionID)
}

// MarkOverdue flags pending installments past their due date. Intended
// for a periodic job.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	count, err := s.repo.MarkOverdueInstallments(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("installments marked overdue", "count", count)
	}
	return count, nil
}
