package app

import (
	"context"
	"fmt"
	"time"

	"github.com/atelier/server/internal/module/catalog"
	"github.com/atelier/server/internal/module/customer"
	"github.com/atelier/server/internal/module/payment"
	"github.com/atelier/server/internal/module/task"
	"github.com/atelier/server/internal/module/user"
)

// Adapters bridging the payment module's collaborator interfaces to the
// other modules' repositories. The payment module owns the interfaces;
// these keep it free of direct module-to-module imports.

type userReader struct {
	repo user.Repository
}

func (a *userReader) GetUser(ctx context.Context, id uint) (*payment.UserInfo, error) {
	u, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &payment.UserInfo{
		ID:      u.ID,
		Email:   u.Email,
		Name:    u.FullName(),
		Student: u.Student,
	}, nil
}

type itemReader struct {
	repo catalog.Repository
}

func (a *itemReader) GetItem(ctx context.Context, id uint) (*payment.ItemInfo, error) {
	item, err := a.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return &payment.ItemInfo{
		ID:       item.ID,
		Title:    item.Title,
		Category: item.Category,
		Price:    item.Price,
		Currency: item.Currency,
	}, nil
}

type customerResolver struct {
	repo customer.Repository
}

func (a *customerResolver) ResolveCustomer(ctx context.Context, email, name string) (uint, error) {
	c, err := a.repo.GetOrCreateByEmail(ctx, name, email)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

type taskWriter struct {
	repo task.Repository
}

func (a *taskWriter) CreateTask(ctx context.Context, req *payment.TaskRequest) (uint, error) {
	notes := req.Notes
	if notes == "" {
		notes = fmt.Sprintf("created from payment %s on %s",
			req.PaymentRef, time.Now().Format("2006-01-02"))
	}
	t := &task.Task{
		CustomerID:          req.CustomerID,
		Category:            req.Category,
		TotalAmount:         req.TotalAmount,
		AmountPaid:          req.AmountPaid,
		DueDate:             req.DueDate,
		Deadline:            req.Deadline,
		Status:              task.TaskStatusPending,
		PaymentRef:          req.PaymentRef,
		ParentTransactionID: req.ParentTransactionID,
		Quantity:            req.Quantity,
		DeliveryDestination: req.DeliveryDestination,
		Notes:               notes,
	}
	if err := a.repo.CreateTask(ctx, t); err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (a *taskWriter) FindTaskByPaymentRef(ctx context.Context, paymentRef string) (uint, error) {
	t, err := a.repo.FindTaskByPaymentRef(ctx, paymentRef)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (a *taskWriter) FindTaskByParentTransaction(ctx context.Context, parentTransactionID uint) (uint, error) {
	t, err := a.repo.FindTaskByParentTransaction(ctx, parentTransactionID)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (a *taskWriter) AddPayment(ctx context.Context, taskID uint, amount int64) error {
	return a.repo.IncrementAmountPaid(ctx, taskID, amount)
}
