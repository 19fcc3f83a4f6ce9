package dialect

import (
	"strings"
	"testing"
	"time"

	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/types"
)

var all = []Dialect{Postgres{}, MySQL{}, SQLite{}}

func TestByName(t *testing.T) {
	for _, name := range []string{"postgres", "PostgreSQL", "mysql", "sqlite", "sqlite3"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
	if _, err := ByName("oracle"); err == nil {
		t.Error("expected an error for an unknown dialect")
	}
}

func TestToColumnTypePrimitives(t *testing.T) {
	for _, d := range all {
		for p := types.String; p <= types.Unknown; p++ {
			got, err := ToColumnType(p, d)
			if err != nil {
				t.Fatalf("%s %s: %v", d.Name(), p, err)
			}
			again, _ := ToColumnType(p, d)
			if got != again {
				t.Fatalf("%s %s: not deterministic", d.Name(), p)
			}
			if p == types.Unknown && got != d.SemiStructuredType() {
				t.Errorf("%s: Unknown mapped to %v", d.Name(), got)
			}
		}
	}
}

func TestToColumnTypeComposites(t *testing.T) {
	composite := []types.AirbyteType{
		types.Struct{Fields: []types.Field{{Name: "a", Type: types.String}}},
		types.Array{Items: types.Integer},
		types.UnsupportedOneOf{Options: []types.AirbyteType{types.String, types.Integer}},
		types.Union{Options: []types.AirbyteType{types.String, types.Boolean}},
	}
	for _, d := range all {
		for _, ct := range composite {
			got, err := ToColumnType(ct, d)
			if err != nil {
				t.Fatalf("%s %s: %v", d.Name(), ct, err)
			}
			if got != d.SemiStructuredType() {
				t.Errorf("%s %s = %v, want semi-structured", d.Name(), ct, got)
			}
		}
	}
}

func TestToColumnTypeUnionChoosesType(t *testing.T) {
	d := Postgres{}
	got, err := ToColumnType(types.Union{Options: []types.AirbyteType{types.Integer, types.Number}}, d)
	if err != nil {
		t.Fatal(err)
	}
	if got != d.PrimitiveType(types.Number) {
		t.Fatalf("got %v", got)
	}
	got, err = ToColumnType(types.Union{Options: []types.AirbyteType{types.Date}}, d)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "date" {
		t.Fatalf("got %v", got)
	}
}

func TestToColumnTypeUnsupported(t *testing.T) {
	bad := []types.AirbyteType{
		nil,
		types.Primitive(0),
		types.Primitive(99),
		types.Union{Options: []types.AirbyteType{types.String, nil}},
	}
	for _, ct := range bad {
		if _, err := ToColumnType(ct, SQLite{}); !typerr.Is(err, typerr.UnsupportedType) {
			t.Errorf("ToColumnType(%v) error = %v, want UnsupportedType", ct, err)
		}
	}
}

func TestColumnTypeMatches(t *testing.T) {
	ct := Postgres{}.PrimitiveType(types.TimestampWithoutTimezone)
	if !ct.Matches("timestamp without time zone") || !ct.Matches(" TIMESTAMP WITHOUT TIME ZONE") {
		t.Fatal("expected reported type to match")
	}
	if ct.Matches("timestamp with time zone") {
		t.Fatal("tz and non-tz timestamps must differ")
	}
}

func TestQuoting(t *testing.T) {
	if got := (Postgres{}).TableName("public", `we"ird`); got != `"public"."we""ird"` {
		t.Errorf("postgres: %s", got)
	}
	if got := (MySQL{}).TableName("db", "t`x"); got != "`db`.`t``x`" {
		t.Errorf("mysql: %s", got)
	}
	if got := (SQLite{}).TableName("airbyte_internal", "users"); got != `"airbyte_internal__users"` {
		t.Errorf("sqlite: %s", got)
	}
	if got := jsonPath(`a"b`); got != `$."a\"b"` {
		t.Errorf("jsonPath: %s", got)
	}
}

func TestPlaceholders(t *testing.T) {
	if (Postgres{}).Placeholder(3) != "$3" || (MySQL{}).Placeholder(3) != "?" || (SQLite{}).Placeholder(1) != "?" {
		t.Fatal("unexpected placeholders")
	}
}

func TestMySQLConfigureDSN(t *testing.T) {
	dsn, err := MySQL{}.ConfigureDSN("user:pw@tcp(localhost:3306)/db")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("dsn %q does not enable parseTime", dsn)
	}
}

func TestSQLiteTimestampRoundTrip(t *testing.T) {
	d := SQLite{}
	in := time.Date(2024, 3, 1, 10, 30, 0, 123456000, time.FixedZone("x", 3600))
	arg := d.TimestampArg(in).(string)
	if arg != "2024-03-01T09:30:00.123456Z" {
		t.Fatalf("arg = %s", arg)
	}
	out, err := d.ParseTimestamp([]byte(arg))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(in) {
		t.Fatalf("got %v, want %v", out, in)
	}
	// Fixed width keeps lexical order equal to time order.
	if d.TimestampArg(in).(string) >= d.TimestampArg(in.Add(time.Microsecond)).(string) {
		t.Fatal("lexical order broken")
	}
}

func TestSQLiteHasNoAlter(t *testing.T) {
	if _, ok := (SQLite{}).AlterColumnType(`"t"`, "c", SQLite{}.PrimitiveType(types.Number)); ok {
		t.Fatal("sqlite cannot alter column types")
	}
	if sql, ok := (Postgres{}).AlterColumnType(`"s"."t"`, "c", Postgres{}.PrimitiveType(types.Number)); !ok ||
		!strings.Contains(sql, `ALTER COLUMN "c" TYPE numeric`) {
		t.Fatalf("postgres alter = %q", sql)
	}
}

func TestExtractNeverRaises(t *testing.T) {
	tests := []struct {
		name    string
		d       Dialect
		kind    types.Primitive
		want    []string
		notWant string
	}{
		{
			name: "postgres timestamp is validated before the cast",
			d:    Postgres{},
			kind: types.TimestampWithTimezone,
			want: []string{`pg_input_is_valid(((d -> 'ts') #>> '{}'), 'timestamp with time zone') THEN ((d -> 'ts') #>> '{}')::timestamp with time zone`},
		},
		{
			name: "postgres date",
			d:    Postgres{},
			kind: types.Date,
			want: []string{`pg_input_is_valid(((d -> 'ts') #>> '{}'), 'date')`},
		},
		{
			name: "postgres bigint is range checked",
			d:    Postgres{},
			kind: types.Integer,
			want: []string{
				`CASE jsonb_typeof((d -> 'ts')) WHEN 'number' THEN CASE WHEN`,
				`BETWEEN -9223372036854775808 AND 9223372036854775807 THEN`,
			},
		},
		{
			name:    "mysql datetime",
			d:       MySQL{},
			kind:    types.TimestampWithoutTimezone,
			want:    []string{`JSON_VALUE(d, '$."ts"' RETURNING DATETIME(6) NULL ON EMPTY NULL ON ERROR)`},
			notWant: "CAST(JSON_UNQUOTE",
		},
		{
			name: "mysql date",
			d:    MySQL{},
			kind: types.Date,
			want: []string{`RETURNING DATE NULL ON EMPTY NULL ON ERROR`},
		},
		{
			name: "mysql time",
			d:    MySQL{},
			kind: types.TimeWithoutTimezone,
			want: []string{`RETURNING TIME(6) NULL ON EMPTY NULL ON ERROR`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.d.Extract("d", "ts", tt.d.PrimitiveType(tt.kind))
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in\n%s", w, got)
				}
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("unexpected %q in\n%s", tt.notWant, got)
			}
		})
	}
}

func TestMetaWithoutChanges(t *testing.T) {
	for _, d := range all {
		if got := d.Meta(nil); !strings.Contains(got, "changes") || strings.Contains(got, "NULLED") {
			t.Errorf("%s: %s", d.Name(), got)
		}
	}
}

func TestMetaListsChanges(t *testing.T) {
	changes := []Change{{Field: "ts", Condition: "c1"}, {Field: "o'k", Condition: "c2"}}
	for _, d := range all {
		got := d.Meta(changes)
		for _, w := range []string{"c1 THEN", "'o''k'", "'NULLED'", "'DESTINATION_TYPECAST_ERROR'"} {
			if d.Name() == "mysql" && w == "c1 THEN" {
				w = "IF(c1, "
			}
			if !strings.Contains(got, w) {
				t.Errorf("%s: missing %q in %s", d.Name(), w, got)
			}
		}
	}
}
