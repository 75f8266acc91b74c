package clinic

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

// Tables are schema-qualified: clinic rows live in the shared schema and
// must resolve regardless of the request's search path.
const clinicCols = `id, name, slug, schema_name, phone, email, address_line1, city, country,
	device_limit, subscription_status, trial_ends_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, cl *Clinic) error {
	if cl.ID == uuid.Nil {
		cl.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.clinics (
			id, name, slug, schema_name, phone, email, address_line1, city, country,
			device_limit, subscription_status, trial_ends_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		cl.ID, cl.Name, cl.Slug, cl.SchemaName, cl.Phone, cl.Email, cl.AddressLine1, cl.City, cl.Country,
		cl.DeviceLimit, cl.SubscriptionStatus, cl.TrialEndsAt,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return scanClinic(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicCols+` FROM shared.clinics WHERE id = $1`, id))
}

func (r *repoPG) GetBySlug(ctx context.Context, slug string) (*Clinic, error) {
	return scanClinic(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicCols+` FROM shared.clinics WHERE slug = $1`, slug))
}

func (r *repoPG) Update(ctx context.Context, cl *Clinic) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE shared.clinics SET
			name=$2, slug=$3, phone=$4, email=$5, address_line1=$6, city=$7, country=$8,
			device_limit=$9, subscription_status=$10, trial_ends_at=$11, updated_at=NOW()
		WHERE id = $1`,
		cl.ID, cl.Name, cl.Slug, cl.Phone, cl.Email, cl.AddressLine1, cl.City, cl.Country,
		cl.DeviceLimit, cl.SubscriptionStatus, cl.TrialEndsAt,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM shared.clinics WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM shared.clinics`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+clinicCols+` FROM shared.clinics ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var clinics []*Clinic
	for rows.Next() {
		var cl Clinic
		if err := rows.Scan(
			&cl.ID, &cl.Name, &cl.Slug, &cl.SchemaName, &cl.Phone, &cl.Email, &cl.AddressLine1, &cl.City, &cl.Country,
			&cl.DeviceLimit, &cl.SubscriptionStatus, &cl.TrialEndsAt, &cl.CreatedAt, &cl.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		clinics = append(clinics, &cl)
	}
	return clinics, total, nil
}

const membershipCols = `id, user_id, clinic_id, role, is_default, created_at`

func (r *repoPG) AddMembership(ctx context.Context, m *Membership) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shared.memberships (id, user_id, clinic_id, role, is_default)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.UserID, m.ClinicID, m.Role, m.IsDefault,
	)
	return err
}

func (r *repoPG) GetMembership(ctx context.Context, userID, clinicID uuid.UUID) (*Membership, error) {
	return scanMembership(r.conn(ctx).QueryRow(ctx,
		`SELECT `+membershipCols+` FROM shared.memberships WHERE user_id = $1 AND clinic_id = $2`,
		userID, clinicID))
}

func (r *repoPG) GetMembershipByID(ctx context.Context, id uuid.UUID) (*Membership, error) {
	return scanMembership(r.conn(ctx).QueryRow(ctx,
		`SELECT `+membershipCols+` FROM shared.memberships WHERE id = $1`, id))
}

func (r *repoPG) ListMembers(ctx context.Context, clinicID uuid.UUID) ([]*Member, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.user_id, m.clinic_id, m.role, m.is_default, m.created_at, u.email, u.full_name
		FROM shared.memberships m
		JOIN shared.users u ON u.id = m.user_id
		WHERE m.clinic_id = $1
		ORDER BY u.full_name`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.UserID, &m.ClinicID, &m.Role, &m.IsDefault, &m.CreatedAt, &m.Email, &m.FullName); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, nil
}

func (r *repoPG) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]*UserMembership, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.user_id, m.clinic_id, m.role, m.is_default, m.created_at, c.name
		FROM shared.memberships m
		JOIN shared.clinics c ON c.id = m.clinic_id
		WHERE m.user_id = $1
		ORDER BY m.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*UserMembership
	for rows.Next() {
		var m UserMembership
		if err := rows.Scan(&m.ID, &m.UserID, &m.ClinicID, &m.Role, &m.IsDefault, &m.CreatedAt, &m.ClinicName); err != nil {
			return nil, err
		}
		memberships = append(memberships, &m)
	}
	return memberships, nil
}

func (r *repoPG) UpdateMembershipRole(ctx context.Context, id uuid.UUID, role string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE shared.memberships SET role = $2 WHERE id = $1`, id, role)
	return err
}

func (r *repoPG) RemoveMembership(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM shared.memberships WHERE id = $1`, id)
	return err
}

func (r *repoPG) CountRole(ctx context.Context, clinicID uuid.UUID, role string) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM shared.memberships WHERE clinic_id = $1 AND role = $2`,
		clinicID, role).Scan(&count)
	return count, err
}

func (r *repoPG) ClearDefault(ctx context.Context, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE shared.memberships SET is_default = false WHERE user_id = $1 AND is_default`, userID)
	return err
}

func (r *repoPG) SetDefault(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE shared.memberships SET is_default = true WHERE id = $1`, id)
	return err
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var cl Clinic
	err := row.Scan(
		&cl.ID, &cl.Name, &cl.Slug, &cl.SchemaName, &cl.Phone, &cl.Email, &cl.AddressLine1, &cl.City, &cl.Country,
		&cl.DeviceLimit, &cl.SubscriptionStatus, &cl.TrialEndsAt, &cl.CreatedAt, &cl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func scanMembership(row pgx.Row) (*Membership, error) {
	var m Membership
	err := row.Scan(&m.ID, &m.UserID, &m.ClinicID, &m.Role, &m.IsDefault, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
