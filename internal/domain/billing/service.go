package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/internal/platform/realtime"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrItemNotFound    = errors.New("invoice item not found")
	// ErrNotDraft refuses edits once an invoice has been issued.
	ErrNotDraft = errors.New("invoice is not a draft")
	// ErrNotOpen refuses payment against a draft.
	ErrNotOpen = errors.New("invoice is not open")
	ErrPaid    = errors.New("invoice is already paid")
	ErrVoid    = errors.New("invoice is void")
	// ErrPaymentDeclined reports a charge the provider rejected. The failed
	// payment is recorded on the invoice.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrProviderUnavailable reports that the provider could not be reached
	// at all. Nothing is recorded.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// PatientDirectory is the slice of the patient service invoicing needs.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	provider PaymentProvider
	events   realtime.Publisher
}

func NewService(repo Repository, patients PatientDirectory, provider PaymentProvider) *Service {
	return &Service{repo: repo, patients: patients, provider: provider}
}

// SetPublisher enables realtime change hints for invoice writes.
func (s *Service) SetPublisher(p realtime.Publisher) {
	s.events = p
}

var validMethods = map[string]bool{
	MethodCard:     true,
	MethodCash:     true,
	MethodTransfer: true,
}

func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if _, err := s.patients.GetPatient(ctx, inv.PatientID); err != nil {
		return fmt.Errorf("patient not found: %w", err)
	}
	inv.Status = StatusDraft
	inv.TotalCents = 0
	inv.Currency = strings.ToLower(strings.TrimSpace(inv.Currency))
	if inv.Currency == "" {
		inv.Currency = "usd"
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionInsert, inv.ID)
	return nil
}

// GetInvoice returns the invoice with its line items and payments attached.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Items, err = s.repo.ListItems(ctx, id); err != nil {
		return nil, err
	}
	if inv.Payments, err = s.repo.ListPayments(ctx, id); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) SearchInvoices(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.SearchInvoices(ctx, params, limit, offset)
}

// UpdateInvoice changes the patient, consult link or currency of a draft.
// Status and totals move only through Issue, Pay and Void.
func (s *Service) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	cur, err := s.load(ctx, inv.ID)
	if err != nil {
		return err
	}
	if !cur.Draft() {
		return ErrNotDraft
	}
	if inv.PatientID == uuid.Nil {
		inv.PatientID = cur.PatientID
	} else if inv.PatientID != cur.PatientID {
		if _, err := s.patients.GetPatient(ctx, inv.PatientID); err != nil {
			return fmt.Errorf("patient not found: %w", err)
		}
	}
	inv.Currency = strings.ToLower(strings.TrimSpace(inv.Currency))
	if inv.Currency == "" {
		inv.Currency = cur.Currency
	}
	inv.Status = cur.Status
	inv.IssuedAt = cur.IssuedAt
	inv.PaidAt = cur.PaidAt
	if err := s.repo.UpdateInvoice(ctx, inv); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionUpdate, inv.ID)
	return nil
}

func (s *Service) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	inv, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !inv.Draft() {
		return ErrNotDraft
	}
	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionDelete, id)
	return nil
}

// AddItem appends a line to a draft invoice and recomputes its total. The
// line amount is always quantity times unit price.
func (s *Service) AddItem(ctx context.Context, invoiceID uuid.UUID, item *InvoiceItem) error {
	inv, err := s.load(ctx, invoiceID)
	if err != nil {
		return err
	}
	if !inv.Draft() {
		return ErrNotDraft
	}
	item.Description = strings.TrimSpace(item.Description)
	if item.Description == "" {
		return fmt.Errorf("description is required")
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.Quantity < 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if item.UnitPriceCents < 0 {
		return fmt.Errorf("unit price must not be negative")
	}
	item.InvoiceID = invoiceID
	item.AmountCents = int64(item.Quantity) * item.UnitPriceCents
	if err := s.repo.AddItem(ctx, item); err != nil {
		return err
	}
	if err := s.recompute(ctx, invoiceID); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionUpdate, invoiceID)
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return ErrItemNotFound
	}
	inv, err := s.load(ctx, item.InvoiceID)
	if err != nil {
		return err
	}
	if !inv.Draft() {
		return ErrNotDraft
	}
	if err := s.repo.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	if err := s.recompute(ctx, inv.ID); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionUpdate, inv.ID)
	return nil
}

// Issue moves a draft with at least one line item to open and assigns the
// next invoice number.
func (s *Service) Issue(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.Draft() {
		return nil, ErrNotDraft
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("invoice has no items")
	}
	issued, err := s.repo.Issue(ctx, id)
	if err != nil {
		return nil, err
	}
	issued.Items = items
	s.publish(ctx, realtime.ActionUpdate, id)
	return issued, nil
}

// Pay settles amountCents of an open invoice through the payment provider.
// A zero amount pays the outstanding balance. When recorded payments cover
// the total the invoice becomes paid.
func (s *Service) Pay(ctx context.Context, id uuid.UUID, amountCents int64, method string) (*Payment, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case StatusPaid:
		return nil, ErrPaid
	case StatusVoid:
		return nil, ErrVoid
	case StatusOpen:
	default:
		return nil, ErrNotOpen
	}

	method = strings.TrimSpace(method)
	if method == "" {
		method = MethodCard
	}
	if !validMethods[method] {
		return nil, fmt.Errorf("invalid payment method: %s", method)
	}

	settled, err := s.settled(ctx, id)
	if err != nil {
		return nil, err
	}
	balance := inv.TotalCents - settled
	if amountCents <= 0 {
		amountCents = balance
	}
	if amountCents > balance {
		return nil, fmt.Errorf("amount exceeds balance")
	}

	res, err := s.provider.Charge(ctx, ChargeRequest{
		InvoiceID:   id,
		AmountCents: amountCents,
		Currency:    inv.Currency,
		Method:      method,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	p := &Payment{
		InvoiceID:   id,
		AmountCents: amountCents,
		Method:      method,
		Status:      res.Status,
	}
	if res.ProviderRef != "" {
		p.ProviderRef = &res.ProviderRef
	}

	// The payment row and the status flip must land together.
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.AddPayment(ctx, p); err != nil {
			return err
		}
		if res.Status == PaymentSucceeded && settled+amountCents >= inv.TotalCents {
			now := time.Now().UTC()
			inv.Status = StatusPaid
			inv.PaidAt = &now
			return s.repo.UpdateInvoice(ctx, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.ActionUpdate, id)
	if res.Status != PaymentSucceeded {
		return p, ErrPaymentDeclined
	}
	return p, nil
}

// inTx runs fn inside a transaction on the request-scoped connection. Without
// one (repositories driven directly, as in tests) fn runs unwrapped.
func (s *Service) inTx(ctx context.Context, fn func(context.Context) error) error {
	txCtx, tx, err := db.WithTx(ctx)
	if err != nil {
		return fn(ctx)
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(txCtx)
		return err
	}
	return tx.Commit(txCtx)
}

// Void cancels an invoice that has not been paid.
func (s *Service) Void(ctx context.Context, id uuid.UUID) error {
	inv, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	switch inv.Status {
	case StatusPaid:
		return ErrPaid
	case StatusVoid:
		return ErrVoid
	}
	inv.Status = StatusVoid
	if err := s.repo.UpdateInvoice(ctx, inv); err != nil {
		return err
	}
	s.publish(ctx, realtime.ActionUpdate, id)
	return nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := s.load(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Service) settled(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	payments, err := s.repo.ListPayments(ctx, invoiceID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, p := range payments {
		if p.Status == PaymentSucceeded {
			sum += p.AmountCents
		}
	}
	return sum, nil
}

func (s *Service) recompute(ctx context.Context, invoiceID uuid.UUID) error {
	items, err := s.repo.ListItems(ctx, invoiceID)
	if err != nil {
		return err
	}
	var total int64
	for _, it := range items {
		total += it.AmountCents
	}
	return s.repo.SetTotal(ctx, invoiceID, total)
}

func (s *Service) publish(ctx context.Context, action string, id uuid.UUID) {
	if s.events == nil {
		return
	}
	clinicID := db.ClinicFromContext(ctx)
	if clinicID == uuid.Nil {
		return
	}
	_ = s.events.Publish(ctx, clinicID, realtime.Event{Table: "invoices", Action: action, ID: id.String()})
}
