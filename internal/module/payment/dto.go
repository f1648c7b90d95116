package payment

import "time"

// CheckoutInput is the request to start a checkout session.
type CheckoutInput struct {
	Provider string `json:"provider"`
	Kind     Kind   `json:"kind" binding:"required"`

	// Item-backed purchases.
	ItemID   uint `json:"item_id"`
	Quantity int  `json:"quantity"`

	// Custom-amount one-time purchases; minor units.
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	// Subsequent installment payments against an existing plan.
	TransactionID     uint `json:"transaction_id"`
	InstallmentNumber int  `json:"installment_number"`

	Description     string `json:"description"`
	DeliveryAddress string `json:"delivery_address"`
	Notes           string `json:"notes"`
}

// CheckoutOutput describes the created session.
type CheckoutOutput struct {
	TransactionID uint   `json:"transaction_id"`
	Provider      string `json:"provider"`
	CheckoutID    string `json:"checkout_id"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`

	// Populated for new installment plans.
	Installments []*InstallmentView `json:"installments,omitempty"`
}

// VerifyInput asks the provider for a payment's current state. Every
// registered provider uses one identifier for both the checkout session
// and the payment reference, so either field names the payment.
type VerifyInput struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	SessionID string `json:"session_id"`
}

func (in *VerifyInput) reference() string {
	if in.Reference != "" {
		return in.Reference
	}
	return in.SessionID
}

// VerifyOutput reports the reconciliation result of a verify pull.
type VerifyOutput struct {
	Settled     bool         `json:"settled"`
	Outcome     Outcome      `json:"outcome,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

// InstallmentView is the API shape of one scheduled period.
type InstallmentView struct {
	Number  int               `json:"number"`
	Amount  int64             `json:"amount"`
	DueDate time.Time         `json:"due_date"`
	Status  InstallmentStatus `json:"status"`
	PaidAt  *time.Time        `json:"paid_at,omitempty"`
}

func toInstallmentViews(schedule []*Installment) []*InstallmentView {
	views := make([]*InstallmentView, 0, len(schedule))
	for _, inst := range schedule {
		views = append(views, &InstallmentView{
			Number:  inst.Number,
			Amount:  inst.Amount,
			DueDate: inst.DueDate,
			Status:  inst.Status,
			PaidAt:  inst.PaidAt,
		})
	}
	return views
}
