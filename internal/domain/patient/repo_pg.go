package patient

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

const patientCols = `id, name, species, breed, sex, date_of_birth, weight_kg, microchip_id,
	owner_name, owner_email, owner_phone, notes, status, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (
			id, name, species, breed, sex, date_of_birth, weight_kg, microchip_id,
			owner_name, owner_email, owner_phone, notes, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.Name, p.Species, p.Breed, p.Sex, p.DateOfBirth, p.WeightKG, p.MicrochipID,
		p.OwnerName, p.OwnerEmail, p.OwnerPhone, p.Notes, p.Status,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET
			name=$2, species=$3, breed=$4, sex=$5, date_of_birth=$6, weight_kg=$7,
			microchip_id=$8, owner_name=$9, owner_email=$10, owner_phone=$11,
			notes=$12, status=$13, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Species, p.Breed, p.Sex, p.DateOfBirth, p.WeightKG,
		p.MicrochipID, p.OwnerName, p.OwnerEmail, p.OwnerPhone,
		p.Notes, p.Status,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	return err
}

var patientSearchParams = map[string]query.Param{
	"name":      {Type: query.Text, Column: "name"},
	"species":   {Type: query.Exact, Column: "species"},
	"owner":     {Type: query.Text, Column: "owner_name"},
	"status":    {Type: query.Exact, Column: "status"},
	"microchip": {Type: query.Exact, Column: "microchip_id"},
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	qb := query.New("patients", patientCols)
	qb.ApplyParams(params, patientSearchParams)
	if q := params["q"]; q != "" {
		qb.AddSearch(q, "name", "owner_name", "breed", "microchip_id")
	}
	qb.ApplySort(params["sort"], "name ASC", patientSearchParams)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectPatients(rows, total)
}

func (r *repoPG) HasConsults(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consults WHERE patient_id = $1)`, id).Scan(&exists)
	return exists, err
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Name, &p.Species, &p.Breed, &p.Sex, &p.DateOfBirth, &p.WeightKG, &p.MicrochipID,
		&p.OwnerName, &p.OwnerEmail, &p.OwnerPhone, &p.Notes, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows, total int) ([]*Patient, int, error) {
	patients := make([]*Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}
