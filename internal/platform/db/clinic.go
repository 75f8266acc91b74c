package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ClinicIDKey contextKey = "clinic_id"
	DBConnKey   contextKey = "db_conn"
	ViewAsKey   contextKey = "view_as"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ErrClinicNotFound is returned when a clinic id has no schema mapping.
var ErrClinicNotFound = errors.New("clinic not found")

// SchemaNameFor returns the Postgres schema name for a clinic id.
func SchemaNameFor(id uuid.UUID) string {
	return "clinic_" + strings.ReplaceAll(id.String(), "-", "")
}

// SchemaResolver maps clinic ids to schema names, caching lookups against
// shared.clinics. Schema names never change once provisioned, so entries
// are only evicted explicitly (clinic deletion).
type SchemaResolver struct {
	pool  *pgxpool.Pool
	mu    sync.RWMutex
	cache map[uuid.UUID]string
}

func NewSchemaResolver(pool *pgxpool.Pool) *SchemaResolver {
	return &SchemaResolver{pool: pool, cache: make(map[uuid.UUID]string)}
}

func (r *SchemaResolver) Schema(ctx context.Context, id uuid.UUID) (string, error) {
	r.mu.RLock()
	schema, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return schema, nil
	}

	err := r.pool.QueryRow(ctx, `SELECT schema_name FROM shared.clinics WHERE id = $1`, id).Scan(&schema)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrClinicNotFound
		}
		return "", fmt.Errorf("resolve clinic schema: %w", err)
	}

	r.mu.Lock()
	r.cache[id] = schema
	r.mu.Unlock()
	return schema, nil
}

func (r *SchemaResolver) Invalidate(id uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// ClinicMiddleware scopes each request to its effective clinic schema.
//
// The effective clinic is the X-Clinic-ID header when present, otherwise the
// active clinic claim set by the auth middleware. A header that differs from
// the claim is only honored for super_admin accounts and puts the request in
// view-as mode: the search path points at the target clinic but every
// mutating method is refused. Identity and roles are untouched.
func ClinicMiddleware(pool *pgxpool.Pool, resolver *SchemaResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claimClinic, _ := c.Get("clinic_id").(string)
			effective := claimClinic
			viewAs := false

			if hdr := c.Request().Header.Get("X-Clinic-ID"); hdr != "" && hdr != claimClinic {
				role, _ := c.Get("account_role").(string)
				if role != "super_admin" {
					return echo.NewHTTPError(http.StatusForbidden, "clinic override requires super_admin")
				}
				effective = hdr
				viewAs = true
			}

			if effective == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "no clinic context")
			}

			clinicID, err := uuid.Parse(effective)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic id")
			}

			if viewAs && isMutation(c.Request().Method) {
				return echo.NewHTTPError(http.StatusForbidden, "view-as is read only")
			}

			ctx := c.Request().Context()
			schema, err := resolver.Schema(ctx, clinicID)
			if err != nil {
				if errors.Is(err, ErrClinicNotFound) {
					return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "clinic resolution failed")
			}
			if !schemaPattern.MatchString(schema) {
				return echo.NewHTTPError(http.StatusInternalServerError, "invalid clinic schema")
			}

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "clinic scoping failed")
			}

			ctx = context.WithValue(ctx, ClinicIDKey, clinicID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			ctx = context.WithValue(ctx, ViewAsKey, viewAs)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("effective_clinic_id", clinicID.String())
			c.Set("view_as", viewAs)

			return next(c)
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// ConnFromContext retrieves the clinic-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// ClinicFromContext retrieves the effective clinic id from context.
func ClinicFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ClinicIDKey).(uuid.UUID)
	return id
}

// ViewAsFromContext reports whether the request is a super_admin view-as.
func ViewAsFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(ViewAsKey).(bool)
	return v
}

// CreateClinicSchema provisions a schema for a new clinic and runs the clinic
// migrations against it. If migrationsDir is empty, migrations are skipped.
func CreateClinicSchema(ctx context.Context, pool *pgxpool.Pool, schema string, migrationsDir string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name: %s", schema)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
