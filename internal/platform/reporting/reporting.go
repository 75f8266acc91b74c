// Package reporting evaluates predefined clinic measures: census, consult
// volume, revenue, and transcription activity. Measures run on the
// request-scoped clinic connection, so each clinic only ever reports over
// its own schema.
package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
)

// Parameter declares a named measure input with its default value.
// Every parameter is a day window.
type Parameter struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`
}

// MeasureDefinition defines a reporting measure. The SQL never leaves the
// server.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"-"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-census",
		Name:        "Patient Census",
		Description: "Patients by species with active counts",
		SQL: `SELECT species, COUNT(*) AS total,
		             COUNT(*) FILTER (WHERE status = 'active') AS active
		        FROM patients GROUP BY species ORDER BY total DESC`,
	},
	{
		ID:          "consult-volume",
		Name:        "Consult Volume by Visit Type",
		Description: "Consults created in the window, grouped by visit type",
		SQL: `SELECT visit_type, COUNT(*) AS total,
		             COUNT(*) FILTER (WHERE status = 'finalized') AS finalized
		        FROM consults
		       WHERE created_at >= NOW() - ($1 * INTERVAL '1 day')
		       GROUP BY visit_type ORDER BY total DESC`,
		Parameters: []Parameter{{Name: "days", Default: "30"}},
	},
	{
		ID:          "revenue-collected",
		Name:        "Revenue Collected",
		Description: "Sum of successful payments in the window",
		SQL: `SELECT COALESCE(SUM(amount_cents), 0)::bigint AS collected_cents,
		             COUNT(*) AS payments
		        FROM payments
		       WHERE status = 'succeeded'
		         AND created_at >= NOW() - ($1 * INTERVAL '1 day')`,
		Parameters: []Parameter{{Name: "days", Default: "30"}},
	},
	{
		ID:          "outstanding-invoices",
		Name:        "Outstanding Invoices",
		Description: "Open invoices and the amount still owed",
		SQL: `SELECT COUNT(*) AS open_invoices,
		             COALESCE(SUM(total_cents), 0)::bigint AS outstanding_cents
		        FROM invoices WHERE status = 'open'`,
	},
	{
		ID:          "transcription-volume",
		Name:        "Transcription Volume",
		Description: "Transcripts recorded in the window and their total duration",
		SQL: `SELECT COUNT(*) AS transcripts,
		             COALESCE(SUM(duration_seconds), 0)::bigint AS total_seconds
		        FROM transcripts
		       WHERE created_at >= NOW() - ($1 * INTERVAL '1 day')`,
		Parameters: []Parameter{{Name: "days", Default: "30"}},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a new reporting handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes binds the reporting routes under the clinic-scoped API.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", reportAccess)
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// reportAccess admits clinic vets and account admins. Reports include
// revenue, which techs and receptionists do not see.
func reportAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		switch {
		case auth.AccountRoleFromContext(ctx) == auth.RoleAdmin,
			auth.AccountRoleFromContext(ctx) == auth.RoleSuperAdmin,
			auth.ClinicRoleFromContext(ctx) == auth.RoleVet:
			return next(c)
		}
		return echo.NewHTTPError(http.StatusForbidden, "reports require a vet or admin role")
	}
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure and returns its rows.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	args, params, err := measureArgs(measure, c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now(),
		Results:     results,
		Parameters:  params,
	})
}

// measureArgs resolves declared parameters in order, falling back to
// defaults.
func measureArgs(m *MeasureDefinition, c echo.Context) ([]interface{}, map[string]string, error) {
	var args []interface{}
	params := make(map[string]string, len(m.Parameters))
	for _, p := range m.Parameters {
		v := c.QueryParam(p.Name)
		if v == "" {
			v = p.Default
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 3650 {
			return nil, nil, fmt.Errorf("parameter %s must be a positive number of days", p.Name)
		}
		params[p.Name] = v
		args = append(args, n)
	}
	return args, params, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// conn prefers the clinic-scoped connection set by the clinic middleware,
// since reports must run with the clinic's search_path.
func (h *Handler) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return h.pool
}

// executeSQL runs a query and returns rows as a slice of column maps.
func (h *Handler) executeSQL(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := h.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[string(fd.Name)] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}
