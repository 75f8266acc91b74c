package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// UpdateInvoice writes every mutable column except the invoice number.
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	DeleteInvoice(ctx context.Context, id uuid.UUID) error
	SearchInvoices(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error)
	// Issue stamps the next sequential number on a draft invoice. It returns
	// the updated row, or not-found when the invoice is missing or already
	// issued.
	Issue(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// SetTotal rewrites the cached total after line items change.
	SetTotal(ctx context.Context, invoiceID uuid.UUID, totalCents int64) error

	AddItem(ctx context.Context, item *InvoiceItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*InvoiceItem, error)
	DeleteItem(ctx context.Context, id uuid.UUID) error
	ListItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceItem, error)

	AddPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
