package payment

import "errors"

// Domain errors for the payment module.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrProviderNotFound    = errors.New("payment provider not found")
	ErrItemRequired        = errors.New("item id is required for this purchase kind")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidKind         = errors.New("unknown purchase kind")

	// ErrPlanNotAvailable means the purchase cannot be paid in
	// installments (wrong kind, or no priced item to split).
	ErrPlanNotAvailable = errors.New("installment plan not available for this purchase")

	// ErrDuplicateSettlement is an internal repository signal that the
	// external reference was already recorded. The reconciler converts
	// it to a duplicate outcome, never to a caller-visible failure.
	ErrDuplicateSettlement = errors.New("settlement already recorded")
)
