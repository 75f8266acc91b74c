package message

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

const poolCols = `id, name, kind, consult_id, member_ids, created_by, created_at`

func (r *repoPG) CreatePool(ctx context.Context, p *Pool) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO message_pools (id, name, kind, consult_id, member_ids, created_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Name, p.Kind, p.ConsultID, p.MemberIDs, p.CreatedBy,
	)
	return err
}

func (r *repoPG) GetPool(ctx context.Context, id uuid.UUID) (*Pool, error) {
	return scanPool(r.conn(ctx).QueryRow(ctx,
		`SELECT `+poolCols+` FROM message_pools WHERE id = $1`, id))
}

var poolSearchParams = map[string]query.Param{
	"kind":    {Type: query.Exact, Column: "kind"},
	"consult": {Type: query.Ref, Column: "consult_id"},
	"created": {Type: query.Date, Column: "created_at"},
}

func (r *repoPG) SearchPools(ctx context.Context, params map[string]string, limit, offset int) ([]*Pool, int, error) {
	qb := query.New("message_pools", poolCols)
	qb.ApplyParams(params, poolSearchParams)
	if q := params["q"]; q != "" {
		qb.AddSearch(q, "name")
	}
	qb.ApplySort(params["sort"], "created_at DESC", poolSearchParams)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	pools := make([]*Pool, 0)
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, 0, err
		}
		pools = append(pools, p)
	}
	return pools, total, rows.Err()
}

const messageCols = `id, pool_id, sender_id, body, created_at, edited_at, deleted_at`

func (r *repoPG) AddMessage(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO messages (id, pool_id, sender_id, body)
		VALUES ($1,$2,$3,$4)`,
		m.ID, m.PoolID, m.SenderID, m.Body,
	)
	return err
}

func (r *repoPG) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
}

func (r *repoPG) UpdateMessage(ctx context.Context, m *Message) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE messages SET body=$2, edited_at=$3, deleted_at=$4
		WHERE id = $1`,
		m.ID, m.Body, m.EditedAt, m.DeletedAt,
	)
	return err
}

func (r *repoPG) ListMessages(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE pool_id = $1`, poolID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM messages
		WHERE pool_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		poolID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

func scanPool(row pgx.Row) (*Pool, error) {
	var p Pool
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.ConsultID, &p.MemberIDs, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.PoolID, &m.SenderID, &m.Body, &m.CreatedAt, &m.EditedAt, &m.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
