package payment

import (
	"time"

	"github.com/atelier/server/internal/module/payment/provider"
)

// Kind aliases the provider purchase kind; the ledger stores the same values.
type Kind = provider.Kind

const (
	KindOneTime      = provider.KindOneTime
	KindSubscription = provider.KindSubscription
	KindInstallment  = provider.KindInstallment
	KindItem         = provider.KindItem
)

// TransactionStatus represents the lifecycle state of a ledger row.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCanceled  TransactionStatus = "canceled"
)

// Transaction is one row of the payment ledger. A one-shot purchase is a
// single row; an installment plan is a parent row (first installment)
// plus one appended row per later installment, linked via ParentID.
type Transaction struct {
	ID       uint              `json:"id" gorm:"primaryKey"`
	UserID   uint              `json:"user_id" gorm:"not null;index"`
	Amount   int64             `json:"amount"` // minor units
	Currency string            `json:"currency" gorm:"default:USD"`
	Status   TransactionStatus `json:"status" gorm:"not null;default:pending;index"`
	Kind     Kind              `json:"kind" gorm:"not null"`
	ItemID   *uint             `json:"item_id,omitempty" gorm:"index"`
	ParentID *uint             `json:"parent_id,omitempty" gorm:"index"`

	Provider string `json:"provider" gorm:"not null;uniqueIndex:idx_provider_reference"`
	// The external reference assigned at settlement. Unique per provider;
	// this constraint is what makes replays collapse to a single row.
	ProviderPaymentID *string `json:"provider_payment_id,omitempty" gorm:"uniqueIndex:idx_provider_reference"`
	// The checkout session id minted at initiation, used for verify pulls.
	ProviderCheckoutID string `json:"provider_checkout_id,omitempty" gorm:"index"`
	// Provider-side subscription code, set for subscription purchases.
	ProviderSubscriptionID string `json:"provider_subscription_id,omitempty" gorm:"index"`

	Description string     `json:"description,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Transaction) TableName() string {
	return "transactions"
}

// IsSettled returns true once money has moved for this row.
func (t *Transaction) IsSettled() bool {
	return t.Status == StatusCompleted
}

// InstallmentStatus represents the state of one scheduled period.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Installment is one scheduled period of an installment plan. The full
// schedule is created atomically with the plan's parent transaction.
type Installment struct {
	TransactionID     uint              `json:"transaction_id" gorm:"primaryKey;autoIncrement:false"`
	Number            int               `json:"number" gorm:"primaryKey;autoIncrement:false"` // 1-based
	TotalInstallments int               `json:"total_installments" gorm:"not null"`
	Amount            int64             `json:"amount"` // minor units
	DueDate           time.Time         `json:"due_date" gorm:"not null;index"`
	Status            InstallmentStatus `json:"status" gorm:"not null;default:pending"`
	// Reference of the payment that cleared this period, once paid.
	ProviderPaymentID *string    `json:"provider_payment_id,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Installment) TableName() string {
	return "installments"
}

// IsOverdue reports whether the period is unpaid past its due date.
func (i *Installment) IsOverdue(now time.Time) bool {
	return i.Status == InstallmentPending && now.After(i.DueDate)
}
