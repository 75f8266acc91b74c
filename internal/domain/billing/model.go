// Package billing implements invoices, line items and payments. Invoices
// are editable as drafts, get a sequential number when issued, and settle
// through a PaymentProvider.
package billing

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft = "draft"
	StatusOpen  = "open"
	StatusPaid  = "paid"
	StatusVoid  = "void"
)

const (
	MethodCard     = "card"
	MethodCash     = "cash"
	MethodTransfer = "transfer"
)

const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

type Invoice struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	ConsultID  *uuid.UUID `db:"consult_id" json:"consult_id,omitempty"`
	Number     int64      `db:"number" json:"number"`
	Status     string     `db:"status" json:"status"`
	Currency   string     `db:"currency" json:"currency"`
	TotalCents int64      `db:"total_cents" json:"total_cents"`
	IssuedAt   *time.Time `db:"issued_at" json:"issued_at,omitempty"`
	PaidAt     *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`

	// Filled on single-invoice reads, never stored on the row.
	Items    []*InvoiceItem `db:"-" json:"items,omitempty"`
	Payments []*Payment     `db:"-" json:"payments,omitempty"`
}

func (i *Invoice) Draft() bool { return i.Status == StatusDraft }

type InvoiceItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	InvoiceID      uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Description    string    `db:"description" json:"description"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UnitPriceCents int64     `db:"unit_price_cents" json:"unit_price_cents"`
	AmountCents    int64     `db:"amount_cents" json:"amount_cents"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type Payment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	InvoiceID   uuid.UUID `db:"invoice_id" json:"invoice_id"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Method      string    `db:"method" json:"method"`
	ProviderRef *string   `db:"provider_ref" json:"provider_ref,omitempty"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
