package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whiskr/whiskr/internal/platform/db"
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

// Identity tables are schema-qualified: accounts, tokens and devices live
// in the shared schema and must resolve regardless of the request's
// search path.

// -- Users --

const userCols = `id, email, password_hash, full_name, account_role, status, created_at, updated_at`

func (r *repoPG) CreateUser(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.users (id, email, password_hash, full_name, account_role, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.AccountRole, u.Status,
	)
	return err
}

func (r *repoPG) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM shared.users WHERE id = $1`, id))
}

func (r *repoPG) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM shared.users WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) UpdateUser(ctx context.Context, u *User) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE shared.users SET
			email=$2, password_hash=$3, full_name=$4, account_role=$5, status=$6, updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.AccountRole, u.Status,
	)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.AccountRole, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// -- Refresh tokens --

const tokenCols = `id, user_id, token_hash, clinic_id, clinic_role, expires_at, revoked_at, created_at`

func (r *repoPG) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.refresh_tokens (id, user_id, token_hash, clinic_id, clinic_role, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.UserID, t.TokenHash, t.ClinicID, t.ClinicRole, t.ExpiresAt,
	)
	return err
}

func (r *repoPG) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+tokenCols+` FROM shared.refresh_tokens WHERE token_hash = $1`, tokenHash)
	var t RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ClinicID, &t.ClinicRole, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE shared.refresh_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

func (r *repoPG) RevokeUserTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE shared.refresh_tokens SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}

// -- Devices --

const deviceCols = `id, user_id, clinic_id, fingerprint, user_agent, last_seen_at, created_at`

func (r *repoPG) UpsertDevice(ctx context.Context, d *Device) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.devices (id, user_id, clinic_id, fingerprint, user_agent, last_seen_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (clinic_id, fingerprint) DO UPDATE
			SET user_id = EXCLUDED.user_id, user_agent = EXCLUDED.user_agent, last_seen_at = NOW()`,
		d.ID, d.UserID, d.ClinicID, d.Fingerprint, d.UserAgent,
	)
	return err
}

func (r *repoPG) GetDevice(ctx context.Context, clinicID uuid.UUID, fingerprint string) (*Device, error) {
	return scanDevice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+deviceCols+` FROM shared.devices WHERE clinic_id = $1 AND fingerprint = $2`,
		clinicID, fingerprint))
}

func (r *repoPG) CountDevices(ctx context.Context, clinicID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM shared.devices WHERE clinic_id = $1`, clinicID).Scan(&count)
	return count, err
}

func (r *repoPG) ListDevices(ctx context.Context, clinicID uuid.UUID) ([]*Device, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+deviceCols+` FROM shared.devices WHERE clinic_id = $1 ORDER BY last_seen_at DESC`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]*Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *repoPG) DeleteDevice(ctx context.Context, clinicID, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM shared.devices WHERE id = $1 AND clinic_id = $2`, id, clinicID)
	return err
}

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.UserID, &d.ClinicID, &d.Fingerprint, &d.UserAgent, &d.LastSeenAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
