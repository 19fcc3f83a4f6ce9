package dialect

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mehmetymw/typedupe/internal/types"
)

// Postgres targets PostgreSQL through the pgx database/sql driver.
type Postgres struct{}

var postgresTypes = map[types.Primitive]ColumnType{
	types.String:                   {"text", "text", types.String},
	types.Number:                   {"numeric", "numeric", types.Number},
	types.Integer:                  {"bigint", "bigint", types.Integer},
	types.Boolean:                  {"boolean", "boolean", types.Boolean},
	types.TimestampWithTimezone:    {"timestamp with time zone", "timestamp with time zone", types.TimestampWithTimezone},
	types.TimestampWithoutTimezone: {"timestamp", "timestamp without time zone", types.TimestampWithoutTimezone},
	types.TimeWithTimezone:         {"time with time zone", "time with time zone", types.TimeWithTimezone},
	types.TimeWithoutTimezone:      {"time", "time without time zone", types.TimeWithoutTimezone},
	types.Date:                     {"date", "date", types.Date},
}

func (Postgres) Name() string                            { return "postgres" }
func (Postgres) DriverName() string                      { return "pgx" }
func (Postgres) ConfigureDSN(dsn string) (string, error) { return dsn, nil }
func (Postgres) MaxIdentifierLength() int                { return 63 }

func (Postgres) QuoteIdentifier(name string) string { return quoteWith(`"`, name) }

func (p Postgres) TableName(namespace, name string) string {
	return p.QuoteIdentifier(namespace) + "." + p.QuoteIdentifier(name)
}

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (p Postgres) CreateNamespace(namespace string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + p.QuoteIdentifier(namespace)
}

func (Postgres) ColumnsQuery(namespace, name string) (string, []any) {
	return "SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2",
		[]any{namespace, name}
}

func (Postgres) PrimitiveType(p types.Primitive) ColumnType {
	if ct, ok := postgresTypes[p]; ok {
		return ct
	}
	return Postgres{}.SemiStructuredType()
}

func (Postgres) SemiStructuredType() ColumnType { return ColumnType{"jsonb", "jsonb", types.Unknown} }
func (Postgres) RawIDType() ColumnType {
	return ColumnType{"varchar(36)", "character varying", types.String}
}
func (Postgres) TimestampType() ColumnType { return postgresTypes[types.TimestampWithTimezone] }

func (Postgres) Extract(dataColumn, key string, ct ColumnType) string {
	x := fmt.Sprintf("(%s -> %s)", dataColumn, stringLiteral(key))
	scalar := fmt.Sprintf("(%s #>> '{}')", x)
	switch ct.Kind {
	case types.Unknown:
		return fmt.Sprintf("CASE jsonb_typeof(%s) WHEN 'null' THEN NULL ELSE %s END", x, x)
	case types.String:
		return fmt.Sprintf("CASE jsonb_typeof(%s) WHEN 'string' THEN %s WHEN 'null' THEN NULL ELSE %s::text END", x, scalar, x)
	case types.Integer:
		// Nested so the numeric cast only sees JSON numbers.
		return fmt.Sprintf("CASE jsonb_typeof(%s) WHEN 'number' THEN CASE WHEN %s::numeric BETWEEN %d AND %d THEN %s::numeric::bigint END END",
			x, scalar, int64(math.MinInt64), int64(math.MaxInt64), scalar)
	case types.Number:
		return fmt.Sprintf("CASE jsonb_typeof(%s) WHEN 'number' THEN %s::numeric END", x, scalar)
	case types.Boolean:
		return fmt.Sprintf("CASE jsonb_typeof(%s) WHEN 'boolean' THEN %s::boolean END", x, scalar)
	}
	// pg_input_is_valid needs PostgreSQL 16.
	return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'string' AND pg_input_is_valid(%s, %s) THEN %s::%s END",
		x, scalar, stringLiteral(ct.Name), scalar, ct.Name)
}

func (Postgres) Present(dataColumn, key string) string {
	return fmt.Sprintf("jsonb_typeof(%s -> %s) <> 'null'", dataColumn, stringLiteral(key))
}

func (Postgres) RawValue(dataColumn, key string) string {
	return fmt.Sprintf("(%s -> %s)", dataColumn, stringLiteral(key))
}

func (p Postgres) AlterColumnType(table, column string, ct ColumnType) (string, bool) {
	col := p.QuoteIdentifier(column)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", table, col, ct.Name, col, ct.Name), true
}

func (Postgres) DescNullsLast(expr string) string { return expr + " DESC NULLS LAST" }

func (Postgres) Meta(changes []Change) string {
	if len(changes) == 0 {
		return `'{"changes":[]}'::jsonb`
	}
	items := make([]string, len(changes))
	for i, c := range changes {
		items[i] = fmt.Sprintf("CASE WHEN %s THEN jsonb_build_object('field', %s, 'change', '%s', 'reason', '%s') END",
			c.Condition, stringLiteral(c.Field), changeNulled, reasonTypecastFail)
	}
	return fmt.Sprintf("jsonb_build_object('changes', to_jsonb(array_remove(ARRAY[%s]::jsonb[], NULL)))", strings.Join(items, ", "))
}

func (Postgres) TimestampArg(t time.Time) any { return t.UTC() }

func (Postgres) ParseTimestamp(v any) (time.Time, error) {
	return parseTimestamp(v, "2006-01-02 15:04:05.999999-07")
}
