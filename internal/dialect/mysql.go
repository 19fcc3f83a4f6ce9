package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/mehmetymw/typedupe/internal/types"
)

// MySQL targets MySQL 8. Databases play the role of namespaces.
// Offset-aware timestamps and times have no native type and are kept as their ISO strings.
type MySQL struct{}

var mysqlTypes = map[types.Primitive]ColumnType{
	types.String:                   {"text", "text", types.String},
	types.Number:                   {"decimal(38,9)", "decimal", types.Number},
	types.Integer:                  {"bigint", "bigint", types.Integer},
	types.Boolean:                  {"boolean", "tinyint", types.Boolean},
	types.TimestampWithTimezone:    {"varchar(1024)", "varchar", types.TimestampWithTimezone},
	types.TimestampWithoutTimezone: {"datetime(6)", "datetime", types.TimestampWithoutTimezone},
	types.TimeWithTimezone:         {"varchar(1024)", "varchar", types.TimeWithTimezone},
	types.TimeWithoutTimezone:      {"time(6)", "time", types.TimeWithoutTimezone},
	types.Date:                     {"date", "date", types.Date},
}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

// ConfigureDSN makes the driver return DATETIME columns as time.Time in UTC.
func (MySQL) ConfigureDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func (MySQL) MaxIdentifierLength() int { return 64 }

func (MySQL) QuoteIdentifier(name string) string { return quoteWith("`", name) }

func (m MySQL) TableName(namespace, name string) string {
	return m.QuoteIdentifier(namespace) + "." + m.QuoteIdentifier(name)
}

func (MySQL) Placeholder(int) string { return "?" }

func (m MySQL) CreateNamespace(namespace string) string {
	return "CREATE DATABASE IF NOT EXISTS " + m.QuoteIdentifier(namespace)
}

func (MySQL) ColumnsQuery(namespace, name string) (string, []any) {
	return "SELECT COLUMN_NAME, DATA_TYPE FROM information_schema.columns WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?",
		[]any{namespace, name}
}

func (MySQL) PrimitiveType(p types.Primitive) ColumnType {
	if ct, ok := mysqlTypes[p]; ok {
		return ct
	}
	return MySQL{}.SemiStructuredType()
}

func (MySQL) SemiStructuredType() ColumnType { return ColumnType{"json", "json", types.Unknown} }
func (MySQL) RawIDType() ColumnType          { return ColumnType{"varchar(36)", "varchar", types.String} }
func (MySQL) TimestampType() ColumnType {
	return ColumnType{"datetime(6)", "datetime", types.TimestampWithTimezone}
}

// mysqlLiteral also escapes backslashes, which MySQL treats as escapes by default.
func mysqlLiteral(s string) string {
	return stringLiteral(strings.ReplaceAll(s, `\`, `\\`))
}

func (MySQL) Extract(dataColumn, key string, ct ColumnType) string {
	path := mysqlLiteral(jsonPath(key))
	x := fmt.Sprintf("JSON_EXTRACT(%s, %s)", dataColumn, path)
	switch ct.Kind {
	case types.Unknown:
		return fmt.Sprintf("CASE JSON_TYPE(%s) WHEN 'NULL' THEN NULL ELSE %s END", x, x)
	case types.String, types.TimestampWithTimezone, types.TimeWithTimezone:
		return fmt.Sprintf("CASE JSON_TYPE(%s) WHEN 'NULL' THEN NULL WHEN 'STRING' THEN JSON_UNQUOTE(%s) ELSE CAST(%s AS CHAR) END", x, x, x)
	case types.Integer:
		return fmt.Sprintf("JSON_VALUE(%s, %s RETURNING SIGNED NULL ON EMPTY NULL ON ERROR)", dataColumn, path)
	case types.Number:
		return fmt.Sprintf("JSON_VALUE(%s, %s RETURNING DECIMAL(38,9) NULL ON EMPTY NULL ON ERROR)", dataColumn, path)
	case types.Boolean:
		return fmt.Sprintf("CASE JSON_TYPE(%s) WHEN 'BOOLEAN' THEN JSON_UNQUOTE(%s) = 'true' END", x, x)
	}
	return fmt.Sprintf("CASE JSON_TYPE(%s) WHEN 'STRING' THEN JSON_VALUE(%s, %s RETURNING %s NULL ON EMPTY NULL ON ERROR) END",
		x, dataColumn, path, strings.ToUpper(ct.Name))
}

func (MySQL) Present(dataColumn, key string) string {
	return fmt.Sprintf("JSON_TYPE(JSON_EXTRACT(%s, %s)) <> 'NULL'", dataColumn, mysqlLiteral(jsonPath(key)))
}

func (MySQL) RawValue(dataColumn, key string) string {
	return fmt.Sprintf("CAST(JSON_EXTRACT(%s, %s) AS CHAR)", dataColumn, mysqlLiteral(jsonPath(key)))
}

func (m MySQL) AlterColumnType(table, column string, ct ColumnType) (string, bool) {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s", table, m.QuoteIdentifier(column), ct.Name), true
}

// DescNullsLast relies on MySQL sorting NULL lowest.
func (MySQL) DescNullsLast(expr string) string { return expr + " DESC" }

// Meta concatenates one single-element array per change that applies.
func (MySQL) Meta(changes []Change) string {
	if len(changes) == 0 {
		return "JSON_OBJECT('changes', JSON_ARRAY())"
	}
	items := []string{"JSON_ARRAY()"}
	for _, c := range changes {
		items = append(items, fmt.Sprintf("IF(%s, JSON_ARRAY(JSON_OBJECT('field', %s, 'change', '%s', 'reason', '%s')), JSON_ARRAY())",
			c.Condition, mysqlLiteral(c.Field), changeNulled, reasonTypecastFail))
	}
	return fmt.Sprintf("JSON_OBJECT('changes', JSON_MERGE_PRESERVE(%s))", strings.Join(items, ", "))
}

func (MySQL) TimestampArg(t time.Time) any { return t.UTC() }

func (MySQL) ParseTimestamp(v any) (time.Time, error) {
	return parseTimestamp(v, "2006-01-02 15:04:05.999999")
}
