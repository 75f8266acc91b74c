package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/internal/platform/query"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const invoiceCols = `id, patient_id, consult_id, number, status, currency,
	total_cents, issued_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.ConsultID, &inv.Number, &inv.Status,
		&inv.Currency, &inv.TotalCents, &inv.IssuedAt, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func collectInvoices(rows pgx.Rows) ([]*Invoice, error) {
	defer rows.Close()
	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateInvoice(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoices (id, patient_id, consult_id, status, currency, total_cents)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.PatientID, inv.ConsultID, inv.Status, inv.Currency, inv.TotalCents)
	return err
}

func (r *repoPG) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
}

func (r *repoPG) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET patient_id=$2, consult_id=$3, status=$4, currency=$5,
			issued_at=$6, paid_at=$7, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.PatientID, inv.ConsultID, inv.Status, inv.Currency,
		inv.IssuedAt, inv.PaidAt)
	return err
}

func (r *repoPG) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	return err
}

var invoiceSearchParams = map[string]query.Param{
	"patient": {Type: query.Ref, Column: "patient_id"},
	"consult": {Type: query.Ref, Column: "consult_id"},
	"status":  {Type: query.Exact, Column: "status"},
	"number":  {Type: query.Number, Column: "number"},
	"total":   {Type: query.Number, Column: "total_cents"},
	"created": {Type: query.Date, Column: "created_at"},
	"issued":  {Type: query.Date, Column: "issued_at"},
}

func (r *repoPG) SearchInvoices(ctx context.Context, params map[string]string, limit, offset int) ([]*Invoice, int, error) {
	qb := query.New("invoices", invoiceCols)
	qb.ApplyParams(params, invoiceSearchParams)
	if v := params["from"]; v != "" {
		qb.AddDate("issued_at", "ge"+v)
	}
	if v := params["to"]; v != "" {
		qb.AddDate("issued_at", "le"+v)
	}
	qb.ApplySort(params["sort"], "created_at DESC", invoiceSearchParams)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectInvoices(rows)
	return out, total, err
}

// Issue relies on the per-clinic invoice_numbers sequence and the status
// guard in the WHERE clause, so concurrent issues cannot hand out the same
// number or renumber an already issued invoice.
func (r *repoPG) Issue(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx, `
		UPDATE invoices
		SET status = 'open', number = nextval('invoice_numbers'), issued_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING `+invoiceCols, id))
}

func (r *repoPG) SetTotal(ctx context.Context, invoiceID uuid.UUID, totalCents int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE invoices SET total_cents = $2, updated_at = NOW() WHERE id = $1`,
		invoiceID, totalCents)
	return err
}

const itemCols = `id, invoice_id, description, quantity, unit_price_cents, amount_cents, created_at`

func scanItem(row pgx.Row) (*InvoiceItem, error) {
	var it InvoiceItem
	err := row.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity,
		&it.UnitPriceCents, &it.AmountCents, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *repoPG) AddItem(ctx context.Context, item *InvoiceItem) error {
	item.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price_cents, amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.InvoiceID, item.Description, item.Quantity, item.UnitPriceCents, item.AmountCents)
	return err
}

func (r *repoPG) GetItem(ctx context.Context, id uuid.UUID) (*InvoiceItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM invoice_items WHERE id = $1`, id))
}

func (r *repoPG) DeleteItem(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_items WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*InvoiceItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

const paymentCols = `id, invoice_id, amount_cents, method, provider_ref, status, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method,
		&p.ProviderRef, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, invoice_id, amount_cents, method, provider_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.InvoiceID, p.AmountCents, p.Method, p.ProviderRef, p.Status)
	return err
}

func (r *repoPG) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
