package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Repository defines the interface for ledger data access.
type Repository interface {
	// Transaction runs fn inside one database transaction, with a
	// Repository bound to it. Used wherever ledger writes must land
	// atomically with their installment schedule.
	Transaction(ctx context.Context, fn func(Repository) error) error

	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id uint) (*Transaction, error)
	GetByProviderReference(ctx context.Context, providerName, reference string) (*Transaction, error)
	GetByCheckoutID(ctx context.Context, providerName, checkoutID string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	ListTransactionsByUser(ctx context.Context, userID uint) ([]*Transaction, error)
	ListChildren(ctx context.Context, parentID uint) ([]*Transaction, error)

	CreateInstallments(ctx context.Context, schedule []*Installment) error
	GetInstallment(ctx context.Context, transactionID uint, number int) (*Installment, error)
	ListInstallments(ctx context.Context, transactionID uint) ([]*Installment, error)
	MarkInstallmentPaid(ctx context.Context, transactionID uint, number int, reference string, paidAt time.Time) error
	MarkOverdueInstallments(ctx context.Context, asOf time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed ledger repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSettlement, deref(tx.ProviderPaymentID))
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *repository) GetTransaction(ctx context.Context, id uint) (*Transaction, error) {
	var tx Transaction
	err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

func (r *repository) GetByProviderReference(ctx context.Context, providerName, reference string) (*Transaction, error) {
	var tx Transaction
	err := r.db.WithContext(ctx).
		First(&tx, "provider = ? AND provider_payment_id = ?", providerName, reference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by reference: %w", err)
	}
	return &tx, nil
}

func (r *repository) GetByCheckoutID(ctx context.Context, providerName, checkoutID string) (*Transaction, error) {
	var tx Transaction
	err := r.db.WithContext(ctx).
		First(&tx, "provider = ? AND provider_checkout_id = ?", providerName, checkoutID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by checkout id: %w", err)
	}
	return &tx, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, tx *Transaction) error {
	if err := r.db.WithContext(ctx).Save(tx).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSettlement, deref(tx.ProviderPaymentID))
		}
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

func (r *repository) ListTransactionsByUser(ctx context.Context, userID uint) ([]*Transaction, error) {
	var txs []*Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (r *repository) ListChildren(ctx context.Context, parentID uint) ([]*Transaction, error) {
	var txs []*Transaction
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at ASC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list child transactions: %w", err)
	}
	return txs, nil
}

func (r *repository) CreateInstallments(ctx context.Context, schedule []*Installment) error {
	if len(schedule) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return fmt.Errorf("create installments: %w", err)
	}
	return nil
}

func (r *repository) GetInstallment(ctx context.Context, transactionID uint, number int) (*Installment, error) {
	var inst Installment
	err := r.db.WithContext(ctx).
		First(&inst, "transaction_id = ? AND number = ?", transactionID, number).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("get installment: %w", err)
	}
	return &inst, nil
}

func (r *repository) ListInstallments(ctx context.Context, transactionID uint) ([]*Installment, error) {
	var schedule []*Installment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("number ASC").
		Find(&schedule).Error
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	return schedule, nil
}

func (r *repository) MarkInstallmentPaid(ctx context.Context, transactionID uint, number int, reference string, paidAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&Installment{}).
		Where("transaction_id = ? AND number = ?", transactionID, number).
		Updates(map[string]any{
			"status":              InstallmentPaid,
			"provider_payment_id": reference,
			"paid_at":             paidAt,
		})
	if result.Error != nil {
		return fmt.Errorf("mark installment paid: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInstallmentNotFound
	}
	return nil
}

func (r *repository) MarkOverdueInstallments(ctx context.Context, asOf time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&Installment{}).
		Where("status = ? AND due_date < ?", InstallmentPending, asOf).
		Update("status", InstallmentOverdue)
	if result.Error != nil {
		return 0, fmt.Errorf("mark overdue installments: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// isDuplicateKey matches the unique-violation errors gorm surfaces from
// postgres. The (provider, provider_payment_id) unique index turns
// concurrent settlement replays into this error.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "SQLSTATE 23505")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
