package documents

import (
	"context"
	"time"

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

const documentCols = `id, patient_id, consult_id, file_name, content_type,
	size_bytes, blob_key, summary, analyzed_at, uploaded_by, created_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.PatientID, &d.ConsultID, &d.FileName, &d.ContentType,
		&d.SizeBytes, &d.BlobKey, &d.Summary, &d.AnalyzedAt, &d.UploadedBy, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) Create(ctx context.Context, d *Document) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO documents (id, patient_id, consult_id, file_name, content_type,
			size_bytes, blob_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.PatientID, d.ConsultID, d.FileName, d.ContentType,
		d.SizeBytes, d.BlobKey, d.UploadedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.conn(ctx).QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, id))
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

var documentSearchParams = map[string]query.Param{
	"patient":  {Type: query.Ref, Column: "patient_id"},
	"consult":  {Type: query.Ref, Column: "consult_id"},
	"type":     {Type: query.Exact, Column: "content_type"},
	"created":  {Type: query.Date, Column: "created_at"},
	"analyzed": {Type: query.Date, Column: "analyzed_at"},
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Document, int, error) {
	qb := query.New("documents", documentCols)
	qb.ApplyParams(params, documentSearchParams)
	if q := params["q"]; q != "" {
		qb.AddSearch(q, "file_name", "summary")
	}
	qb.ApplySort(params["sort"], "created_at DESC", documentSearchParams)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (r *repoPG) SetSummary(ctx context.Context, id uuid.UUID, summary string, analyzedAt time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE documents SET summary = $2, analyzed_at = $3 WHERE id = $1`,
		id, summary, analyzedAt)
	return err
}
