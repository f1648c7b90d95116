package task

import "time"

// TaskStatus represents the production status of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCanceled   TaskStatus = "canceled"
)

// Task represents a production task for the atelier staff. Tasks are
// created by the payment reconciler when an item purchase settles, and
// updated as later installments arrive.
type Task struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	CustomerID  uint       `json:"customer_id" gorm:"not null;index"`
	Category    string     `json:"category" gorm:"not null"`
	TotalAmount int64      `json:"total_amount"` // minor currency units
	AmountPaid  int64      `json:"amount_paid"`
	DueDate     time.Time  `json:"due_date"`
	Deadline    time.Time  `json:"deadline"` // internal deadline ahead of the due date
	Status      TaskStatus `json:"status" gorm:"not null;default:pending"`

	// PaymentRef holds the settling payment's external reference and
	// ParentTransactionID the installment plan's ledger id. Both are
	// structured columns rather than prose scanned out of Notes, so
	// dedup and amount-paid propagation do not depend on substring
	// matching.
	PaymentRef          string `json:"payment_ref" gorm:"index"`
	ParentTransactionID uint   `json:"parent_transaction_id" gorm:"index"`

	Quantity            int    `json:"quantity" gorm:"default:1"`
	DeliveryDestination string `json:"delivery_destination"`
	Notes               string `json:"notes"` // human-readable provenance note

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Task) TableName() string {
	return "tasks"
}
