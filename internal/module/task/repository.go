package task

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrTaskNotFound is returned when a task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Repository defines the interface for task data access.
type Repository interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id uint) (*Task, error)
	// FindTaskByPaymentRef returns the task created for the given external
	// payment reference, used as the fulfillment dedup check.
	FindTaskByPaymentRef(ctx context.Context, ref string) (*Task, error)
	// FindTaskByParentTransaction returns the task linked to an
	// installment plan's parent ledger entry.
	FindTaskByParentTransaction(ctx context.Context, transactionID uint) (*Task, error)
	// IncrementAmountPaid adds amount to the task's running paid total.
	IncrementAmountPaid(ctx context.Context, id uint, amount int64) error
	ListTasks(ctx context.Context, status TaskStatus) ([]*Task, error)
	UpdateTaskStatus(ctx context.Context, id uint, status TaskStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new task repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateTask(ctx context.Context, t *Task) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) GetTask(ctx context.Context, id uint) (*Task, error) {
	var t Task
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) FindTaskByPaymentRef(ctx context.Context, ref string) (*Task, error) {
	var t Task
	err := r.db.WithContext(ctx).First(&t, "payment_ref = ?", ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) FindTaskByParentTransaction(ctx context.Context, transactionID uint) (*Task, error) {
	var t Task
	err := r.db.WithContext(ctx).First(&t, "parent_transaction_id = ?", transactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) IncrementAmountPaid(ctx context.Context, id uint, amount int64) error {
	return r.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ?", id).
		Update("amount_paid", gorm.Expr("amount_paid + ?", amount)).Error
}

func (r *repository) ListTasks(ctx context.Context, status TaskStatus) ([]*Task, error) {
	q := r.db.WithContext(ctx).Order("due_date ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tasks []*Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *repository) UpdateTaskStatus(ctx context.Context, id uint, status TaskStatus) error {
	res := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
