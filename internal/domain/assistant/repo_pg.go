package assistant

import (
	"context"

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

const threadCols = `id, title, consult_id, created_by, created_at, updated_at`

func (r *repoPG) CreateThread(ctx context.Context, t *Thread) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO assistant_threads (id, title, consult_id, created_by)
		VALUES ($1,$2,$3,$4)`,
		t.ID, t.Title, t.ConsultID, t.CreatedBy,
	)
	return err
}

func (r *repoPG) GetThread(ctx context.Context, id uuid.UUID) (*Thread, error) {
	return scanThread(r.conn(ctx).QueryRow(ctx,
		`SELECT `+threadCols+` FROM assistant_threads WHERE id = $1`, id))
}

func (r *repoPG) UpdateThread(ctx context.Context, t *Thread) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE assistant_threads SET title=$2, consult_id=$3, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Title, t.ConsultID,
	)
	return err
}

func (r *repoPG) DeleteThread(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM assistant_threads WHERE id = $1`, id)
	return err
}

var threadSearchParams = map[string]query.Param{
	"consult": {Type: query.Ref, Column: "consult_id"},
	"created": {Type: query.Date, Column: "created_at"},
	"updated": {Type: query.Date, Column: "updated_at"},
}

func (r *repoPG) SearchThreads(ctx context.Context, params map[string]string, limit, offset int) ([]*Thread, int, error) {
	qb := query.New("assistant_threads", threadCols)
	qb.ApplyParams(params, threadSearchParams)
	if q := params["q"]; q != "" {
		qb.AddSearch(q, "title")
	}
	qb.ApplySort(params["sort"], "updated_at DESC", threadSearchParams)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	threads := make([]*Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, t)
	}
	return threads, total, rows.Err()
}

const messageCols = `id, thread_id, role, mode, content, created_at`

func (r *repoPG) AddMessage(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	conn := r.conn(ctx)
	_, err := conn.Exec(ctx, `
		INSERT INTO assistant_messages (id, thread_id, role, mode, content)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.ThreadID, m.Role, m.Mode, m.Content,
	)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `UPDATE assistant_threads SET updated_at=NOW() WHERE id = $1`, m.ThreadID)
	return err
}

func (r *repoPG) ListMessages(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM assistant_messages WHERE thread_id = $1`, threadID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM assistant_messages
		WHERE thread_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		threadID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	return msgs, total, err
}

func (r *repoPG) RecentMessages(ctx context.Context, threadID uuid.UUID, n int) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM assistant_messages
		WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2`,
		threadID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.Title, &t.ConsultID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	msgs := make([]*Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Mode, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
