package payment

import (
	"context"
	"time"
)

// Collaborator interfaces are defined here, in the consuming module,
// following the Dependency Inversion Principle. The app wires the other
// modules' services to them.

// UserReader exposes the slice of user data settlement needs.
type UserReader interface {
	GetUser(ctx context.Context, id uint) (*UserInfo, error)
}

// UserInfo is a slim view of a user record.
type UserInfo struct {
	ID      uint
	Email   string
	Name    string
	Student bool
}

// ItemReader exposes catalog lookups for priced purchases.
type ItemReader interface {
	GetItem(ctx context.Context, id uint) (*ItemInfo, error)
}

// ItemInfo is a slim view of a catalog item.
type ItemInfo struct {
	ID       uint
	Title    string
	Category string
	Price    int64 // minor units
	Currency string
}

// CustomerResolver turns a payer's email into a customer id, creating
// the record on first settlement.
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, email, name string) (uint, error)
}

// TaskWriter lets settlement create and top up fulfillment work. All
// calls are best effort: ledger writes never roll back on task errors.
type TaskWriter interface {
	CreateTask(ctx context.Context, task *TaskRequest) (uint, error)
	FindTaskByPaymentRef(ctx context.Context, paymentRef string) (uint, error)
	FindTaskByParentTransaction(ctx context.Context, parentTransactionID uint) (uint, error)
	AddPayment(ctx context.Context, taskID uint, amount int64) error
}

// TaskRequest is a slim fulfillment task creation request.
type TaskRequest struct {
	CustomerID          uint
	Category            string
	TotalAmount         int64
	AmountPaid          int64
	DueDate             time.Time
	Deadline            time.Time
	PaymentRef          string
	ParentTransactionID uint
	Quantity            int
	DeliveryDestination string
	Notes               string
}
