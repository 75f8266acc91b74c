// Package query builds parameterized SQL for list endpoints: typed filter
// params, free-text ILIKE search, and "-field" descending sort. Every
// domain repository shares this instead of hand-assembling WHERE clauses.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ParamType selects how a filter value is turned into SQL.
type ParamType int

const (
	// Exact matches the column verbatim (status, species, visit_type).
	Exact ParamType = iota
	// Date supports ge/gt/le/lt/ne value prefixes; a plain YYYY-MM-DD
	// matches the whole day.
	Date
	// Text is a case-insensitive contains match.
	Text
	// Ref matches a UUID foreign key column; a malformed UUID matches
	// nothing rather than erroring.
	Ref
	// Number supports the same prefixes as Date on numeric columns.
	Number
)

// Param maps an API filter name to a column and match type.
type Param struct {
	Type   ParamType
	Column string
}

// Builder accumulates WHERE fragments with positional args for one list
// query. Zero value is not usable; construct with New.
type Builder struct {
	table   string
	cols    string
	where   string
	args    []any
	idx     int
	orderBy string
}

// New starts a builder for the given table and select columns.
func New(table, cols string) *Builder {
	return &Builder{table: table, cols: cols, idx: 1}
}

// Idx returns the next positional argument index.
func (b *Builder) Idx() int { return b.idx }

// Add appends a raw WHERE fragment (without leading "AND").
func (b *Builder) Add(clause string, args ...any) {
	b.where += " AND " + clause
	b.args = append(b.args, args...)
	b.idx += len(args)
}

// AddExact adds an equality clause.
func (b *Builder) AddExact(column, value string) {
	b.Add(fmt.Sprintf("%s = $%d", column, b.idx), value)
}

// AddText adds a case-insensitive contains clause.
func (b *Builder) AddText(column, value string) {
	b.Add(fmt.Sprintf("%s ILIKE $%d", column, b.idx), "%"+value+"%")
}

// AddRef adds a UUID equality clause. A value that is not a UUID yields
// a clause that matches no rows, so bad input cannot break the query.
func (b *Builder) AddRef(column, value string) {
	if uuid.Validate(value) != nil {
		b.where += " AND 1=0"
		return
	}
	b.Add(fmt.Sprintf("%s = $%d", column, b.idx), value)
}

// AddDate adds a timestamp comparison. The value may carry a ge/gt/le/
// lt/ne prefix; a bare date matches the entire day.
func (b *Builder) AddDate(column, value string) {
	prefix, raw := splitPrefix(value)

	t, err := parseFlexDate(raw)
	if err != nil {
		b.Add(fmt.Sprintf("%s::text = $%d", column, b.idx), raw)
		return
	}

	switch prefix {
	case "gt":
		b.Add(fmt.Sprintf("%s > $%d", column, b.idx), t)
	case "lt":
		b.Add(fmt.Sprintf("%s < $%d", column, b.idx), t)
	case "ge":
		b.Add(fmt.Sprintf("%s >= $%d", column, b.idx), t)
	case "le":
		b.Add(fmt.Sprintf("%s <= $%d", column, b.idx), t)
	case "ne":
		b.Add(fmt.Sprintf("%s != $%d", column, b.idx), t)
	default:
		if len(raw) == 10 { // YYYY-MM-DD matches the whole day
			end := t.Add(24*time.Hour - time.Nanosecond)
			b.Add(fmt.Sprintf("(%s >= $%d AND %s <= $%d)", column, b.idx, column, b.idx+1), t, end)
			return
		}
		b.Add(fmt.Sprintf("%s = $%d", column, b.idx), t)
	}
}

// AddNumber adds a numeric comparison with the same prefixes as AddDate.
func (b *Builder) AddNumber(column, value string) {
	prefix, raw := splitPrefix(value)

	op := "="
	switch prefix {
	case "gt":
		op = ">"
	case "lt":
		op = "<"
	case "ge":
		op = ">="
	case "le":
		op = "<="
	case "ne":
		op = "!="
	}
	b.Add(fmt.Sprintf("%s %s $%d", column, op, b.idx), raw)
}

// AddSearch adds a contains match across several columns with a single
// bound argument.
func (b *Builder) AddSearch(value string, columns ...string) {
	if len(columns) == 0 {
		return
	}
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", col, b.idx)
	}
	b.Add("("+strings.Join(parts, " OR ")+")", "%"+value+"%")
}

// ApplyParams adds a clause for every filter value that has a configured
// param. Unknown names are ignored.
func (b *Builder) ApplyParams(values map[string]string, params map[string]Param) {
	for name, value := range values {
		p, ok := params[name]
		if !ok {
			continue
		}
		switch p.Type {
		case Date:
			b.AddDate(p.Column, value)
		case Text:
			b.AddText(p.Column, value)
		case Ref:
			b.AddRef(p.Column, value)
		case Number:
			b.AddNumber(p.Column, value)
		default:
			b.AddExact(p.Column, value)
		}
	}
}

// ApplySort maps a comma-separated sort value onto ORDER BY through the
// param config. "-name" sorts descending. Names without a config entry
// are skipped; an empty result keeps defaultOrder.
func (b *Builder) ApplySort(sortParam, defaultOrder string, params map[string]Param) {
	b.orderBy = defaultOrder
	if sortParam == "" {
		return
	}

	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		dir := "ASC"
		if strings.HasPrefix(field, "-") {
			dir = "DESC"
			field = field[1:]
		}
		if p, ok := params[field]; ok {
			parts = append(parts, p.Column+" "+dir)
		}
	}
	if len(parts) > 0 {
		b.orderBy = strings.Join(parts, ", ")
	}
}

// CountSQL returns the matching-row count query.
func (b *Builder) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", b.table, b.where)
}

// CountArgs returns the arguments for CountSQL.
func (b *Builder) CountArgs() []any {
	return b.args
}

// DataSQL returns the page query with ORDER BY and LIMIT/OFFSET
// placeholders appended.
func (b *Builder) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", b.cols, b.table, b.where)
	if b.orderBy != "" {
		sql += " ORDER BY " + b.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", b.idx, b.idx+1)
}

// DataArgs returns the arguments for DataSQL.
func (b *Builder) DataArgs(limit, offset int) []any {
	out := make([]any, len(b.args)+2)
	copy(out, b.args)
	out[len(b.args)] = limit
	out[len(b.args)+1] = offset
	return out
}

// Params collects filter values from the request query string, skipping
// the pagination controls. "sort" and "q" pass through for ApplySort and
// AddSearch; ApplyParams ignores them.
func Params(c echo.Context) map[string]string {
	out := map[string]string{}
	for k, v := range c.QueryParams() {
		switch k {
		case "limit", "offset":
			continue
		}
		if len(v) == 0 || v[0] == "" {
			continue
		}
		out[k] = v[0]
	}
	return out
}

func splitPrefix(value string) (string, string) {
	if len(value) >= 2 {
		switch p := strings.ToLower(value[:2]); p {
		case "gt", "lt", "ge", "le", "ne", "eq":
			return p, value[2:]
		}
	}
	return "", value
}

func parseFlexDate(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01",
		"2006",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}
