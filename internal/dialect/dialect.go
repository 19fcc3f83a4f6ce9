// Package dialect renders the SQL fragments that differ between destination databases.
// A Dialect is chosen once from configuration and shared read-only by every stream.
package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/mehmetymw/typedupe/internal/types"
)

// ColumnType is the destination column type an AirbyteType maps to.
type ColumnType struct {
	// Name is used in DDL.
	Name string
	// Reported is the lowercase type name the catalog reports for an existing column.
	Reported string
	// Kind is the primitive the column stores; Unknown means semi-structured.
	Kind types.Primitive
}

// Matches reports whether an introspected column type is this type.
func (c ColumnType) Matches(reported string) bool {
	return strings.EqualFold(strings.TrimSpace(reported), c.Reported)
}

// Dialect is the capability set the generator and executor need from a database.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// ConfigureDSN adjusts a user DSN to the settings the engine relies on.
	ConfigureDSN(dsn string) (string, error)
	MaxIdentifierLength() int

	QuoteIdentifier(name string) string
	// TableName renders a qualified, quoted table reference.
	TableName(namespace, name string) string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// CreateNamespace returns "" when the dialect has no namespaces.
	CreateNamespace(namespace string) string
	// ColumnsQuery lists (column name, reported type) for a table; no rows means no table.
	ColumnsQuery(namespace, name string) (string, []any)

	PrimitiveType(p types.Primitive) ColumnType
	SemiStructuredType() ColumnType
	RawIDType() ColumnType
	TimestampType() ColumnType

	// Extract renders a typed expression reading key from the JSON column dataColumn.
	// Values of the wrong JSON type, or that do not parse as ct, become NULL. It never raises an error.
	Extract(dataColumn, key string, ct ColumnType) string
	// Present renders a condition that holds when key is set to a non-null JSON value.
	Present(dataColumn, key string) string
	// RawValue renders the untyped JSON text of key, NULL when the key is missing.
	RawValue(dataColumn, key string) string
	// AlterColumnType renders an in-place type change, or reports that the dialect cannot do it.
	AlterColumnType(table, column string, ct ColumnType) (string, bool)
	DescNullsLast(expr string) string
	// Meta renders the _airbyte_meta value of a typed row, listing each change whose condition holds.
	Meta(changes []Change) string

	// TimestampArg converts t to the bind value stored in timestamp columns.
	TimestampArg(t time.Time) any
	// ParseTimestamp converts a scanned timestamp column value.
	ParseTimestamp(v any) (time.Time, error)
}

// Change is a field nulled while typing a record.
type Change struct {
	Field string
	// Condition holds for the rows where the field was nulled.
	Condition string
}

const (
	changeNulled       = "NULLED"
	reasonTypecastFail = "DESTINATION_TYPECAST_ERROR"
)

// ByName selects a dialect from configuration.
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

func quoteWith(q, name string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}

func stringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// jsonPath addresses a top-level key, quoted so any key is valid.
func jsonPath(key string) string {
	key = strings.ReplaceAll(key, `\`, `\\`)
	key = strings.ReplaceAll(key, `"`, `\"`)
	return `$."` + key + `"`
}

func parseTimestamp(v any, layouts ...string) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTimestamp(string(t), layouts...)
	case string:
		for _, layout := range append(layouts, time.RFC3339Nano) {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", t)
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp value %T", v)
}
