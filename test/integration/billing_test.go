package integration

import (
	"errors"
	"testing"

	"github.com/whiskr/whiskr/internal/domain/billing"
)

func TestInvoiceLifecycle(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Billing Clinic")
	ctx := scopedCtx(t, cl)
	p := newPatient(t, e, ctx, "Tank", "dog")

	inv := &billing.Invoice{PatientID: p.ID, Currency: "USD"}
	if err := e.billing.CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != billing.StatusDraft || inv.Currency != "usd" {
		t.Fatalf("unexpected draft: %+v", inv)
	}

	if err := e.billing.AddItem(ctx, inv.ID, &billing.InvoiceItem{Description: "Sick Visit Exam", UnitPriceCents: 7800}); err != nil {
		t.Fatalf("add exam: %v", err)
	}
	if err := e.billing.AddItem(ctx, inv.ID, &billing.InvoiceItem{Description: "Maropitant Injection", Quantity: 2, UnitPriceCents: 2400}); err != nil {
		t.Fatalf("add injection: %v", err)
	}
	draft, err := e.billing.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if draft.TotalCents != 7800+2*2400 {
		t.Fatalf("total not recomputed, got %d", draft.TotalCents)
	}
	if len(draft.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(draft.Items))
	}

	issued, err := e.billing.Issue(ctx, inv.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Status != billing.StatusOpen || issued.Number == 0 || issued.IssuedAt == nil {
		t.Fatalf("issue did not open the invoice: %+v", issued)
	}

	err = e.billing.AddItem(ctx, inv.ID, &billing.InvoiceItem{Description: "Late addition", UnitPriceCents: 100})
	if !errors.Is(err, billing.ErrNotDraft) {
		t.Fatalf("add item after issue: want ErrNotDraft, got %v", err)
	}

	partial, err := e.billing.Pay(ctx, inv.ID, 5000, billing.MethodCash)
	if err != nil {
		t.Fatalf("partial pay: %v", err)
	}
	if partial.Status != billing.PaymentSucceeded {
		t.Fatalf("unexpected payment: %+v", partial)
	}
	open, err := e.billing.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get after partial: %v", err)
	}
	if open.Status != billing.StatusOpen {
		t.Fatalf("partial payment should leave the invoice open, got %q", open.Status)
	}

	// A zero amount settles the remaining balance.
	rest, err := e.billing.Pay(ctx, inv.ID, 0, "")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if rest.AmountCents != issued.TotalCents-5000 || rest.Method != billing.MethodCard {
		t.Fatalf("unexpected settling payment: %+v", rest)
	}
	paid, err := e.billing.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get after settle: %v", err)
	}
	if paid.Status != billing.StatusPaid || paid.PaidAt == nil {
		t.Fatalf("invoice should be paid: %+v", paid)
	}

	if _, err := e.billing.Pay(ctx, inv.ID, 100, billing.MethodCard); !errors.Is(err, billing.ErrPaid) {
		t.Fatalf("pay after paid: want ErrPaid, got %v", err)
	}
	if err := e.billing.Void(ctx, inv.ID); !errors.Is(err, billing.ErrPaid) {
		t.Fatalf("void after paid: want ErrPaid, got %v", err)
	}
}

func TestInvoiceIssue_RequiresItems(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Empty Invoice Clinic")
	ctx := scopedCtx(t, cl)
	p := newPatient(t, e, ctx, "Clover", "rabbit")

	inv := &billing.Invoice{PatientID: p.ID}
	if err := e.billing.CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.billing.Issue(ctx, inv.ID); err == nil {
		t.Fatal("expected issue of an empty invoice to fail")
	}
}

func TestInvoiceNumbers_Sequential(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Numbering Clinic")
	ctx := scopedCtx(t, cl)
	p := newPatient(t, e, ctx, "Ziggy", "cat")

	var numbers []int64
	for i := 0; i < 3; i++ {
		inv := &billing.Invoice{PatientID: p.ID}
		if err := e.billing.CreateInvoice(ctx, inv); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := e.billing.AddItem(ctx, inv.ID, &billing.InvoiceItem{Description: "Wellness Exam", UnitPriceCents: 6500}); err != nil {
			t.Fatalf("add item: %v", err)
		}
		issued, err := e.billing.Issue(ctx, inv.ID)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		numbers = append(numbers, issued.Number)
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i] != numbers[i-1]+1 {
			t.Fatalf("numbers should be sequential, got %v", numbers)
		}
	}
}

func TestInvoiceVoid(t *testing.T) {
	e := newEnv(t)
	cl := newClinic(t, e, "Void Clinic")
	ctx := scopedCtx(t, cl)
	p := newPatient(t, e, ctx, "Hazel", "ferret")

	inv := &billing.Invoice{PatientID: p.ID}
	if err := e.billing.CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.billing.AddItem(ctx, inv.ID, &billing.InvoiceItem{Description: "Nail Trim", UnitPriceCents: 1800}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := e.billing.Issue(ctx, inv.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := e.billing.Void(ctx, inv.ID); err != nil {
		t.Fatalf("void: %v", err)
	}
	got, err := e.billing.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != billing.StatusVoid {
		t.Fatalf("expected void, got %q", got.Status)
	}
	if _, err := e.billing.Pay(ctx, inv.ID, 0, ""); !errors.Is(err, billing.ErrVoid) {
		t.Fatalf("pay after void: want ErrVoid, got %v", err)
	}
}
