package consult

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whiskr/whiskr/internal/platform/db"
	"github.com/whiskr/whiskr/internal/platform/query"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const consultCols = `id, patient_id, status, visit_type, vitals, subjective, objective,
	assessment, plan, alt_reports, differentials, procedure_name, anesthesia,
	created_by, finalized_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *Consult) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consults (
			id, patient_id, status, visit_type, vitals, subjective, objective,
			assessment, plan, alt_reports, differentials, procedure_name,
			anesthesia, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.PatientID, c.Status, c.VisitType, c.Vitals, c.Subjective, c.Objective,
		c.Assessment, c.Plan, c.AltReports, c.Differentials, c.ProcedureName,
		c.Anesthesia, c.CreatedBy,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consult, error) {
	return scanConsult(r.conn(ctx).QueryRow(ctx, `SELECT `+consultCols+` FROM consults WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Consult) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE consults SET
			visit_type=$2, vitals=$3, subjective=$4, objective=$5, assessment=$6,
			plan=$7, alt_reports=$8, differentials=$9, procedure_name=$10,
			anesthesia=$11, status=$12, finalized_at=$13, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.VisitType, c.Vitals, c.Subjective, c.Objective, c.Assessment,
		c.Plan, c.AltReports, c.Differentials, c.ProcedureName,
		c.Anesthesia, c.Status, c.FinalizedAt,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM consults WHERE id = $1`, id)
	return err
}

var consultSearchParams = map[string]query.Param{
	"patient":    {Type: query.Ref, Column: "patient_id"},
	"status":     {Type: query.Exact, Column: "status"},
	"visit_type": {Type: query.Exact, Column: "visit_type"},
	"date":       {Type: query.Date, Column: "created_at"},
	"created":    {Type: query.Date, Column: "created_at"},
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Consult, int, error) {
	qb := query.New("consults", consultCols)
	qb.ApplyParams(params, consultSearchParams)
	if v := params["from"]; v != "" {
		qb.AddDate("created_at", "ge"+v)
	}
	if v := params["to"]; v != "" {
		qb.AddDate("created_at", "le"+v)
	}
	if q := params["q"]; q != "" {
		qb.AddSearch(q, "subjective", "assessment", "plan")
	}
	qb.ApplySort(params["sort"], "created_at DESC", consultSearchParams)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectConsults(rows, total)
}

const attachmentCols = `id, consult_id, file_name, content_type, size_bytes, blob_key, created_at`

func (r *repoPG) AddAttachment(ctx context.Context, a *Attachment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consult_attachments (id, consult_id, file_name, content_type, size_bytes, blob_key)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.ConsultID, a.FileName, a.ContentType, a.SizeBytes, a.BlobKey,
	)
	return err
}

func (r *repoPG) GetAttachment(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	return scanAttachment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+attachmentCols+` FROM consult_attachments WHERE id = $1`, id))
}

func (r *repoPG) ListAttachments(ctx context.Context, consultID uuid.UUID) ([]*Attachment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+attachmentCols+` FROM consult_attachments WHERE consult_id = $1 ORDER BY created_at`, consultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := make([]*Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (r *repoPG) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM consult_attachments WHERE id = $1`, id)
	return err
}

const transcriptCols = `id, consult_id, content, duration_seconds, created_at`

func (r *repoPG) AddTranscript(ctx context.Context, t *Transcript) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO transcripts (id, consult_id, content, duration_seconds)
		VALUES ($1,$2,$3,$4)`,
		t.ID, t.ConsultID, t.Content, t.DurationSeconds,
	)
	return err
}

func (r *repoPG) ListTranscripts(ctx context.Context, consultID uuid.UUID) ([]*Transcript, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+transcriptCols+` FROM transcripts WHERE consult_id = $1 ORDER BY created_at`, consultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transcripts := make([]*Transcript, 0)
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, t)
	}
	return transcripts, rows.Err()
}

func (r *repoPG) LatestTranscript(ctx context.Context, consultID uuid.UUID) (*Transcript, error) {
	t, err := scanTranscript(r.conn(ctx).QueryRow(ctx,
		`SELECT `+transcriptCols+` FROM transcripts WHERE consult_id = $1 ORDER BY created_at DESC LIMIT 1`, consultID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func scanConsult(row pgx.Row) (*Consult, error) {
	var c Consult
	err := row.Scan(
		&c.ID, &c.PatientID, &c.Status, &c.VisitType, &c.Vitals, &c.Subjective, &c.Objective,
		&c.Assessment, &c.Plan, &c.AltReports, &c.Differentials, &c.ProcedureName,
		&c.Anesthesia, &c.CreatedBy, &c.FinalizedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectConsults(rows pgx.Rows, total int) ([]*Consult, int, error) {
	consults := make([]*Consult, 0)
	for rows.Next() {
		c, err := scanConsult(rows)
		if err != nil {
			return nil, 0, err
		}
		consults = append(consults, c)
	}
	return consults, total, rows.Err()
}

func scanAttachment(row pgx.Row) (*Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.ConsultID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.BlobKey, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTranscript(row pgx.Row) (*Transcript, error) {
	var t Transcript
	err := row.Scan(&t.ID, &t.ConsultID, &t.Content, &t.DurationSeconds, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
