package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atelier/server/internal/module/payment/provider"
	"github.com/atelier/server/internal/shared/logger"
	"github.com/atelier/server/internal/shared/metrics"
)

// Outcome classifies what a settlement event did to the ledger.
type Outcome string

const (
	// OutcomeApplied means the event produced a ledger mutation.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the reference was already settled; the
	// event was acknowledged without touching the ledger.
	OutcomeDuplicate Outcome = "duplicate"
)

// ReconcilerConfig sets fulfillment timing.
type ReconcilerConfig struct {
	FulfillmentLead time.Duration // settlement to delivery due date
	DeadlineBuffer  time.Duration // internal deadline ahead of the due date
}

// DefaultReconcilerConfig returns the standard fulfillment timing.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		FulfillmentLead: 14 * 24 * time.Hour,
		DeadlineBuffer:  3 * 24 * time.Hour,
	}
}

// Reconciler applies settlement events to the ledger exactly once.
// Webhook pushes and verify pulls both funnel through it, so replays
// and push/pull races collapse to a single ledger mutation.
type Reconciler struct {
	repo      Repository
	users     UserReader
	items     ItemReader
	customers CustomerResolver
	tasks     TaskWriter
	cfg       ReconcilerConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(
	repo Repository,
	users UserReader,
	items ItemReader,
	customers CustomerResolver,
	tasks TaskWriter,
	cfg ReconcilerConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Reconciler {
	if cfg.FulfillmentLead <= 0 {
		cfg.FulfillmentLead = 14 * 24 * time.Hour
	}
	if cfg.DeadlineBuffer <= 0 {
		cfg.DeadlineBuffer = 3 * 24 * time.Hour
	}
	return &Reconciler{
		repo:      repo,
		users:     users,
		items:     items,
		customers: customers,
		tasks:     tasks,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
}

// Apply reconciles one settlement event. The decision order is fixed:
//
//  1. A reference already on the ledger is a duplicate; acknowledge
//     and stop.
//  2. An event naming a parent transaction with installment number > 1
//     appends a child ledger row and clears that period.
//  3. An event naming a parent transaction with the first installment
//     settles the parent row in place.
//  4. Anything else settles the pending checkout row when one matches
//     the reference, or records a fresh settled row.
//
// Fulfillment side effects run after the ledger commit and are best
// effort: their failure is logged, never surfaced, and never rolls the
// ledger back.
func (r *Reconciler) Apply(ctx context.Context, event *provider.SettlementEvent) (Outcome, error) {
	if event.Reference == "" {
		return "", fmt.Errorf("settlement event without reference")
	}
	meta := event.Metadata
	if meta == nil {
		meta = &provider.Metadata{}
	}

	if _, err := r.repo.GetByProviderReference(ctx, event.Provider, event.Reference); err == nil {
		r.logger.Info("duplicate settlement acknowledged",
			"provider", event.Provider, "reference", event.Reference)
		return OutcomeDuplicate, nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return "", fmt.Errorf("idempotency lookup: %w", err)
	}

	var outcome Outcome
	var err error
	switch {
	case meta.TransactionID != 0 && meta.InstallmentNumber > 1:
		outcome, err = r.applyLaterInstallment(ctx, event, meta)
	case meta.TransactionID != 0:
		outcome, err = r.applyFirstInstallment(ctx, event, meta)
	default:
		outcome, err = r.applySettlement(ctx, event, meta)
	}
	if errors.Is(err, ErrDuplicateSettlement) {
		// A concurrent replay won the unique-index race.
		return OutcomeDuplicate, nil
	}
	return outcome, err
}

// applyLaterInstallment appends a child ledger row for installment n > 1
// and clears the scheduled period, atomically.
func (r *Reconciler) applyLaterInstallment(ctx context.Context, event *provider.SettlementEvent, meta *provider.Metadata) (Outcome, error) {
	parent, err := r.repo.GetTransaction(ctx, meta.TransactionID)
	if err != nil {
		return "", fmt.Errorf("load parent transaction %d: %w", meta.TransactionID, err)
	}

	now := r.now()
	reference := event.Reference
	child := &Transaction{
		UserID:            parent.UserID,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Status:            StatusCompleted,
		Kind:              KindInstallment,
		ItemID:            parent.ItemID,
		ParentID:          &parent.ID,
		Provider:          event.Provider,
		ProviderPaymentID: &reference,
		Description:       fmt.Sprintf("installment %d for transaction %d", meta.InstallmentNumber, parent.ID),
		SettledAt:         &now,
	}

	err = r.repo.Transaction(ctx, func(repo Repository) error {
		if err := repo.CreateTransaction(ctx, child); err != nil {
			return err
		}
		err := repo.MarkInstallmentPaid(ctx, parent.ID, meta.InstallmentNumber, reference, now)
		if err != nil && !errors.Is(err, ErrInstallmentNotFound) {
			return err
		}
		if errors.Is(err, ErrInstallmentNotFound) {
			r.logger.Warn("settled installment has no scheduled period",
				"transaction_id", parent.ID, "number", meta.InstallmentNumber)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	r.topUpTask(ctx, parent.ID, event.Amount)
	return OutcomeApplied, nil
}

// applyFirstInstallment settles the plan's parent row in place and
// opens the fulfillment task.
func (r *Reconciler) applyFirstInstallment(ctx context.Context, event *provider.SettlementEvent, meta *provider.Metadata) (Outcome, error) {
	parent, err := r.repo.GetTransaction(ctx, meta.TransactionID)
	if err != nil {
		return "", fmt.Errorf("load parent transaction %d: %w", meta.TransactionID, err)
	}
	if parent.IsSettled() {
		return OutcomeDuplicate, nil
	}

	now := r.now()
	reference := event.Reference
	parent.Status = StatusCompleted
	parent.ProviderPaymentID = &reference
	parent.SettledAt = &now

	err = r.repo.Transaction(ctx, func(repo Repository) error {
		if err := repo.UpdateTransaction(ctx, parent); err != nil {
			return err
		}
		err := repo.MarkInstallmentPaid(ctx, parent.ID, 1, reference, now)
		if err != nil && !errors.Is(err, ErrInstallmentNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	r.openTask(ctx, event, meta, parent)
	return OutcomeApplied, nil
}

// applySettlement handles events carrying no parent linkage: it settles
// the matching pending checkout row, or records a fresh settled row when
// the checkout was never seen (e.g. the row was lost or the session was
// initiated elsewhere).
func (r *Reconciler) applySettlement(ctx context.Context, event *provider.SettlementEvent, meta *provider.Metadata) (Outcome, error) {
	now := r.now()
	reference := event.Reference

	tx, err := r.repo.GetByCheckoutID(ctx, event.Provider, event.Reference)
	switch {
	case err == nil:
		if tx.IsSettled() {
			return OutcomeDuplicate, nil
		}
		tx.Status = StatusCompleted
		tx.ProviderPaymentID = &reference
		tx.SettledAt = &now
		if event.Amount > 0 {
			tx.Amount = event.Amount
		}
		if err := r.repo.UpdateTransaction(ctx, tx); err != nil {
			return "", err
		}
	case errors.Is(err, ErrTransactionNotFound):
		kind := meta.Kind
		if !kind.Valid() {
			kind = KindOneTime
		}
		tx = &Transaction{
			UserID:            meta.UserID,
			Amount:            event.Amount,
			Currency:          event.Currency,
			Status:            StatusCompleted,
			Kind:              kind,
			Provider:          event.Provider,
			ProviderPaymentID: &reference,
			SettledAt:         &now,
		}
		if meta.ItemID != 0 {
			itemID := meta.ItemID
			tx.ItemID = &itemID
		}
		if err := r.repo.CreateTransaction(ctx, tx); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("checkout lookup: %w", err)
	}

	r.openTask(ctx, event, meta, tx)
	return OutcomeApplied, nil
}

// openTask creates the fulfillment task for a first settlement. Best
// effort, deduplicated by payment reference. Only item-backed purchases
// go to production; custom-amount payments (deposits, alteration fees)
// settle on the ledger alone.
func (r *Reconciler) openTask(ctx context.Context, event *provider.SettlementEvent, meta *provider.Metadata, tx *Transaction) {
	if tx.Kind == KindSubscription {
		return
	}
	if meta.ItemID == 0 && tx.ItemID == nil {
		return
	}

	reference := event.Reference
	if _, err := r.tasks.FindTaskByPaymentRef(ctx, reference); err == nil {
		return
	}

	email, name, category, total := r.fulfillmentDetails(ctx, meta, tx)
	if email == "" {
		r.logger.Warn("settlement without payer identity, skipping task",
			"provider", event.Provider, "reference", reference)
		return
	}

	customerID, err := r.customers.ResolveCustomer(ctx, email, name)
	if err != nil {
		r.logger.Error("resolve customer for fulfillment", logger.Err(err),
			"reference", reference)
		return
	}

	now := r.now()
	due := now.Add(r.cfg.FulfillmentLead)
	req := &TaskRequest{
		CustomerID:          customerID,
		Category:            category,
		TotalAmount:         total,
		AmountPaid:          event.Amount,
		DueDate:             due,
		Deadline:            due.Add(-r.cfg.DeadlineBuffer),
		PaymentRef:          reference,
		Quantity:            meta.Quantity,
		DeliveryDestination: meta.DeliveryAddress,
		Notes:               meta.Notes,
	}
	if tx.Kind == KindInstallment {
		req.ParentTransactionID = tx.ID
	}

	if _, err := r.tasks.CreateTask(ctx, req); err != nil {
		r.logger.Error("create fulfillment task", logger.Err(err),
			"reference", reference, "customer_id", customerID)
		return
	}
	if r.metrics != nil {
		r.metrics.FulfillmentTasksTotal.Inc()
	}
}

// topUpTask adds a later installment's amount to the plan's task.
func (r *Reconciler) topUpTask(ctx context.Context, parentID uint, amount int64) {
	taskID, err := r.tasks.FindTaskByParentTransaction(ctx, parentID)
	if err != nil {
		r.logger.Warn("no fulfillment task for installment plan",
			"parent_transaction_id", parentID, logger.Err(err))
		return
	}
	if err := r.tasks.AddPayment(ctx, taskID, amount); err != nil {
		r.logger.Error("record installment payment on task", logger.Err(err),
			"task_id", taskID, "parent_transaction_id", parentID)
	}
}

// fulfillmentDetails gathers payer identity and order shape from the
// metadata bag, falling back to user and catalog lookups.
func (r *Reconciler) fulfillmentDetails(ctx context.Context, meta *provider.Metadata, tx *Transaction) (email, name, category string, total int64) {
	email = meta.Email
	total = tx.Amount

	if meta.UserID != 0 {
		if u, err := r.users.GetUser(ctx, meta.UserID); err == nil {
			if email == "" {
				email = u.Email
			}
			name = u.Name
		}
	}

	itemID := meta.ItemID
	if itemID == 0 && tx.ItemID != nil {
		itemID = *tx.ItemID
	}
	if itemID != 0 {
		if item, err := r.items.GetItem(ctx, itemID); err == nil {
			category = item.Category
			qty := meta.Quantity
			if qty < 1 {
				qty = 1
			}
			total = item.Price * int64(qty)
		}
	}
	return email, name, category, total
}
