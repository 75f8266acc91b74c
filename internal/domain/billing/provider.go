package billing

import (
	"context"

	"github.com/google/uuid"
)

// ChargeRequest describes one settlement attempt against an issued invoice.
type ChargeRequest struct {
	InvoiceID   uuid.UUID
	AmountCents int64
	Currency    string
	Method      string
}

// ChargeResult is the provider's answer. Status is PaymentSucceeded or
// PaymentFailed; ProviderRef identifies the charge on the provider side.
type ChargeResult struct {
	ProviderRef string
	Status      string
}

// PaymentProvider settles charges. Implementations must be safe for
// concurrent use.
type PaymentProvider interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// ManualProvider records payments taken outside the system, front desk cash
// and card terminals. Every charge succeeds immediately.
type ManualProvider struct{}

func (ManualProvider) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return &ChargeResult{
		ProviderRef: "manual-" + uuid.New().String(),
		Status:      PaymentSucceeded,
	}, nil
}
