package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/mehmetymw/typedupe/internal/types"
)

// sqliteTimestampLayout is fixed width so text comparison orders timestamps correctly.
const sqliteTimestampLayout = "2006-01-02T15:04:05.000000Z"

// SQLite targets a single SQLite database file. Namespaces are folded into table names.
type SQLite struct{}

var sqliteTypes = map[types.Primitive]ColumnType{
	types.String:                   {"TEXT", "text", types.String},
	types.Number:                   {"NUMERIC", "numeric", types.Number},
	types.Integer:                  {"INTEGER", "integer", types.Integer},
	types.Boolean:                  {"BOOLEAN", "boolean", types.Boolean},
	types.TimestampWithTimezone:    {"TEXT", "text", types.TimestampWithTimezone},
	types.TimestampWithoutTimezone: {"TEXT", "text", types.TimestampWithoutTimezone},
	types.TimeWithTimezone:         {"TEXT", "text", types.TimeWithTimezone},
	types.TimeWithoutTimezone:      {"TEXT", "text", types.TimeWithoutTimezone},
	types.Date:                     {"TEXT", "text", types.Date},
}

func (SQLite) Name() string                            { return "sqlite" }
func (SQLite) DriverName() string                      { return "sqlite" }
func (SQLite) ConfigureDSN(dsn string) (string, error) { return dsn, nil }
func (SQLite) MaxIdentifierLength() int                { return 0 }

func (SQLite) QuoteIdentifier(name string) string { return quoteWith(`"`, name) }

func (SQLite) physicalName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "__" + name
}

func (s SQLite) TableName(namespace, name string) string {
	return s.QuoteIdentifier(s.physicalName(namespace, name))
}

func (SQLite) Placeholder(int) string        { return "?" }
func (SQLite) CreateNamespace(string) string { return "" }

func (s SQLite) ColumnsQuery(namespace, name string) (string, []any) {
	return "SELECT name, type FROM pragma_table_info(?)", []any{s.physicalName(namespace, name)}
}

func (SQLite) PrimitiveType(p types.Primitive) ColumnType {
	if ct, ok := sqliteTypes[p]; ok {
		return ct
	}
	return SQLite{}.SemiStructuredType()
}

// SemiStructuredType is TEXT holding JSON; TEXT affinity keeps JSON scalars from being coerced.
func (SQLite) SemiStructuredType() ColumnType { return ColumnType{"TEXT", "text", types.Unknown} }
func (SQLite) RawIDType() ColumnType          { return ColumnType{"TEXT", "text", types.String} }
func (SQLite) TimestampType() ColumnType {
	return ColumnType{"TEXT", "text", types.TimestampWithTimezone}
}

func (SQLite) Extract(dataColumn, key string, ct ColumnType) string {
	path := stringLiteral(jsonPath(key))
	typ := fmt.Sprintf("json_type(%s, %s)", dataColumn, path)
	value := fmt.Sprintf("json_extract(%s, %s)", dataColumn, path)
	raw := fmt.Sprintf("(%s -> %s)", dataColumn, path)
	switch ct.Kind {
	case types.Unknown:
		return fmt.Sprintf("CASE %s WHEN 'null' THEN NULL ELSE %s END", typ, raw)
	case types.String:
		return fmt.Sprintf("CASE %s WHEN 'null' THEN NULL WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' "+
			"WHEN 'object' THEN %s WHEN 'array' THEN %s ELSE CAST(%s AS TEXT) END", typ, raw, raw, value)
	case types.Integer:
		return fmt.Sprintf("CASE %s WHEN 'integer' THEN %s WHEN 'real' THEN CAST(%s AS INTEGER) END", typ, value, value)
	case types.Number:
		return fmt.Sprintf("CASE WHEN %s IN ('integer', 'real') THEN %s END", typ, value)
	case types.Boolean:
		return fmt.Sprintf("CASE %s WHEN 'true' THEN 1 WHEN 'false' THEN 0 END", typ)
	}
	return fmt.Sprintf("CASE %s WHEN 'text' THEN %s END", typ, value)
}

func (SQLite) Present(dataColumn, key string) string {
	return fmt.Sprintf("json_type(%s, %s) <> 'null'", dataColumn, stringLiteral(jsonPath(key)))
}

func (SQLite) RawValue(dataColumn, key string) string {
	return fmt.Sprintf("(%s -> %s)", dataColumn, stringLiteral(jsonPath(key)))
}

func (SQLite) AlterColumnType(string, string, ColumnType) (string, bool) { return "", false }

// DescNullsLast relies on SQLite sorting NULL lowest.
func (SQLite) DescNullsLast(expr string) string { return expr + " DESC" }

// Meta drops the NULL entries of a JSON array built from every change.
func (SQLite) Meta(changes []Change) string {
	if len(changes) == 0 {
		return `'{"changes":[]}'`
	}
	items := make([]string, len(changes))
	for i, c := range changes {
		items[i] = fmt.Sprintf("CASE WHEN %s THEN json_object('field', %s, 'change', '%s', 'reason', '%s') END",
			c.Condition, stringLiteral(c.Field), changeNulled, reasonTypecastFail)
	}
	return fmt.Sprintf("json_object('changes', json((SELECT json_group_array(json(value)) FROM json_each(json_array(%s)) WHERE type <> 'null')))",
		strings.Join(items, ", "))
}

func (SQLite) TimestampArg(t time.Time) any { return t.UTC().Format(sqliteTimestampLayout) }

func (SQLite) ParseTimestamp(v any) (time.Time, error) {
	return parseTimestamp(v, sqliteTimestampLayout)
}
