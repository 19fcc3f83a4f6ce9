package sqlgen

import (
	"strings"
	"testing"
	"time"

	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/state"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

func usersConfig(t *testing.T, n stream.Namer, fields ...types.Field) stream.Config {
	t.Helper()
	if len(fields) == 0 {
		fields = []types.Field{
			{Name: "id", Type: types.Integer},
			{Name: "name", Type: types.String},
			{Name: "updated_at", Type: types.TimestampWithTimezone},
		}
	}
	cfg, err := stream.NewConfig(stream.NewID("public", "users", n), types.Struct{Fields: fields},
		[]string{"id"}, "updated_at", true, n)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func sqliteFinalColumns() map[string]string {
	return map[string]string{
		"id":                    "integer",
		"name":                  "text",
		"updated_at":            "text",
		"_airbyte_raw_id":       "text",
		"_airbyte_extracted_at": "text",
		"_airbyte_meta":         "text",
	}
}

func postgresFinalColumns() map[string]string {
	return map[string]string{
		"id":                    "bigint",
		"name":                  "text",
		"updated_at":            "timestamp with time zone",
		"_airbyte_raw_id":       "character varying",
		"_airbyte_extracted_at": "timestamp with time zone",
		"_airbyte_meta":         "jsonb",
	}
}

func TestCreateFinalTablePostgres(t *testing.T) {
	g := New(dialect.Postgres{})
	stmt, err := g.CreateFinalTableIfNotExists(usersConfig(t, stream.Namer{MaxLength: 63}))
	if err != nil {
		t.Fatal(err)
	}
	want := `CREATE TABLE IF NOT EXISTS "public"."users" ("id" bigint, "name" text, "updated_at" timestamp with time zone, ` +
		`"_airbyte_raw_id" varchar(36) NOT NULL, "_airbyte_extracted_at" timestamp with time zone NOT NULL, "_airbyte_meta" jsonb NOT NULL)`
	if stmt.SQL != want {
		t.Fatalf("got  %s\nwant %s", stmt.SQL, want)
	}
	if stmt.Op != types.OpCreateFinal {
		t.Fatalf("op = %s", stmt.Op)
	}
}

func TestCreateRawTableMySQL(t *testing.T) {
	g := New(dialect.MySQL{})
	id := stream.NewID("shop", "orders", stream.Namer{MaxLength: 64})
	stmt := g.CreateRawTableIfNotExists(id)
	if !strings.HasPrefix(stmt.SQL, "CREATE TABLE IF NOT EXISTS `airbyte_internal`.`shop_raw__stream_orders`") {
		t.Fatalf("got %s", stmt.SQL)
	}
	if !strings.Contains(stmt.SQL, "`_airbyte_loaded_at` datetime(6),") {
		t.Fatalf("loaded_at must be nullable: %s", stmt.SQL)
	}
}

func TestMergePostgres(t *testing.T) {
	g := New(dialect.Postgres{})
	cfg := usersConfig(t, stream.Namer{MaxLength: 63})
	boundary := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := boundary.Add(time.Hour)

	stmts, err := g.MergeDedupRawIntoFinal(cfg, &boundary, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 3 {
		t.Fatalf("got %d statements", len(stmts))
	}

	claim := stmts[0]
	wantClaim := `UPDATE "airbyte_internal"."public_raw__stream_users" SET "_airbyte_loaded_at" = $1 ` +
		`WHERE "_airbyte_loaded_at" IS NULL AND "_airbyte_extracted_at" >= $2`
	if claim.SQL != wantClaim {
		t.Fatalf("claim:\ngot  %s\nwant %s", claim.SQL, wantClaim)
	}
	if len(claim.Args) != 2 || !claim.Args[0].(time.Time).Equal(batch) || !claim.Args[1].(time.Time).Equal(boundary) {
		t.Fatalf("claim args = %v", claim.Args)
	}

	insert := stmts[MergeInsertStatement]
	for _, part := range []string{
		`INSERT INTO "public"."users" ("id", "name", "updated_at", "_airbyte_raw_id", "_airbyte_extracted_at", "_airbyte_meta")`,
		`("_airbyte_data" -> 'id') AS "_airbyte_raw_key_0"`,
		`ROW_NUMBER() OVER (PARTITION BY "_airbyte_raw_key_0" ORDER BY "updated_at" DESC NULLS LAST, "_airbyte_extracted_at" DESC, "_airbyte_raw_id" DESC)`,
		`WHERE "_airbyte_loaded_at" = $1`,
		`WHERE "_airbyte_row_number" = 1`,
		`jsonb_build_object('field', 'id', 'change', 'NULLED', 'reason', 'DESTINATION_TYPECAST_ERROR')`,
		`jsonb_build_object('field', 'updated_at', 'change', 'NULLED', 'reason', 'DESTINATION_TYPECAST_ERROR')`,
	} {
		if !strings.Contains(insert.SQL, part) {
			t.Errorf("insert is missing %q:\n%s", part, insert.SQL)
		}
	}
	if strings.Contains(insert.SQL, `'field', 'name'`) {
		t.Errorf("string columns are never nulled:\n%s", insert.SQL)
	}
	del := stmts[2].SQL
	if !strings.HasPrefix(del, `DELETE FROM "public"."users" WHERE "_airbyte_raw_id" IN`) ||
		!strings.Contains(del, `PARTITION BY "id" ORDER BY`) || !strings.Contains(del, `FROM "public"."users" WHERE "id" IS NOT NULL`) {
		t.Errorf("dedup delete = %s", del)
	}
}

func TestMergeCompositeKeyPartitionsOnRawValues(t *testing.T) {
	n := stream.Namer{}
	cfg, err := stream.NewConfig(stream.NewID("public", "lines", n), types.Struct{Fields: []types.Field{
		{Name: "order id", Type: types.Integer},
		{Name: "line", Type: types.Integer},
	}}, []string{"order id", "line"}, "", true, n)
	if err != nil {
		t.Fatal(err)
	}
	stmts, err := New(dialect.SQLite{}).MergeDedupRawIntoFinal(cfg, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{
		`("_airbyte_data" -> '$."order id"') AS "_airbyte_raw_key_0"`,
		`("_airbyte_data" -> '$."line"') AS "_airbyte_raw_key_1"`,
		`PARTITION BY "_airbyte_raw_key_0", "_airbyte_raw_key_1"`,
	} {
		if !strings.Contains(stmts[1].SQL, part) {
			t.Errorf("insert is missing %q:\n%s", part, stmts[1].SQL)
		}
	}
	cols := `"order_id", "line", "_airbyte_raw_id", "_airbyte_extracted_at", "_airbyte_meta"`
	if !strings.HasPrefix(stmts[1].SQL, `INSERT INTO "public__lines" (`+cols+`) SELECT `+cols+` FROM (`) {
		t.Errorf("raw keys must not reach the final table:\n%s", stmts[1].SQL)
	}
	if !strings.Contains(stmts[2].SQL, `WHERE "order_id" IS NOT NULL AND "line" IS NOT NULL`) {
		t.Errorf("dedup delete = %s", stmts[2].SQL)
	}
}

func TestMergeAppendHasNoDedup(t *testing.T) {
	g := New(dialect.SQLite{})
	n := stream.Namer{}
	cfg, err := stream.NewConfig(stream.NewID("public", "events", n),
		types.Struct{Fields: []types.Field{{Name: "kind", Type: types.String}}}, nil, "", false, n)
	if err != nil {
		t.Fatal(err)
	}
	stmts, err := g.MergeDedupRawIntoFinal(cfg, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 2 {
		t.Fatalf("got %d statements", len(stmts))
	}
	if strings.Contains(stmts[1].SQL, "ROW_NUMBER") {
		t.Fatalf("append insert must not deduplicate: %s", stmts[1].SQL)
	}
	if strings.Contains(stmts[0].SQL, ">=") || len(stmts[0].Args) != 1 {
		t.Fatalf("no boundary was given: %s %v", stmts[0].SQL, stmts[0].Args)
	}
}

func TestMergeCDCDeletes(t *testing.T) {
	g := New(dialect.SQLite{})
	n := stream.Namer{}
	cfg, err := stream.NewConfig(stream.NewID("public", "users", n), types.Struct{Fields: []types.Field{
		{Name: "id", Type: types.Integer},
		{Name: stream.CDCDeletedAt, Type: types.TimestampWithTimezone},
	}}, []string{"id"}, "", true, n)
	if err != nil {
		t.Fatal(err)
	}
	stmts, err := g.MergeDedupRawIntoFinal(cfg, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 4 {
		t.Fatalf("got %d statements", len(stmts))
	}
	if stmts[3].SQL != `DELETE FROM "public__users" WHERE "_ab_cdc_deleted_at" IS NOT NULL` {
		t.Fatalf("cdc delete = %s", stmts[3].SQL)
	}
	if strings.Contains(stmts[1].SQL, "NULLS LAST") {
		t.Fatalf("no cursor was configured: %s", stmts[1].SQL)
	}
}

func TestDiffColumns(t *testing.T) {
	n := stream.Namer{}
	tests := []struct {
		name         string
		d            dialect.Dialect
		existing     map[string]string
		fields       []types.Field
		added        []string
		altered      []string
		incompatible bool
	}{
		{
			name:     "identical",
			d:        dialect.SQLite{},
			existing: sqliteFinalColumns(),
		},
		{
			name:     "extra existing column is kept",
			d:        dialect.SQLite{},
			existing: with(sqliteFinalColumns(), "legacy", "text"),
		},
		{
			name:     "new column",
			d:        dialect.SQLite{},
			existing: without(sqliteFinalColumns(), "name"),
			added:    []string{"name"},
		},
		{
			name:         "missing meta column",
			d:            dialect.SQLite{},
			existing:     without(sqliteFinalColumns(), "_airbyte_meta"),
			incompatible: true,
		},
		{
			name:     "integer widened to number on postgres",
			d:        dialect.Postgres{},
			existing: postgresFinalColumns(),
			fields: []types.Field{
				{Name: "id", Type: types.Number},
				{Name: "name", Type: types.String},
				{Name: "updated_at", Type: types.TimestampWithTimezone},
			},
			altered: []string{"id"},
		},
		{
			name:     "integer widened to number on sqlite",
			d:        dialect.SQLite{},
			existing: sqliteFinalColumns(),
			fields: []types.Field{
				{Name: "id", Type: types.Number},
				{Name: "name", Type: types.String},
				{Name: "updated_at", Type: types.TimestampWithTimezone},
			},
			incompatible: true,
		},
		{
			name:         "narrowed type",
			d:            dialect.Postgres{},
			existing:     with(postgresFinalColumns(), "name", "jsonb"),
			incompatible: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := usersConfig(t, n, tt.fields...)
			diff, err := New(tt.d).DiffColumns(cfg, tt.existing)
			if err != nil {
				t.Fatal(err)
			}
			if diff.Incompatible != tt.incompatible {
				t.Fatalf("incompatible = %v (%v)", diff.Incompatible, diff.Reasons)
			}
			if got := columnNames(diff.Added); !equalStrings(got, tt.added) {
				t.Errorf("added = %v, want %v", got, tt.added)
			}
			if got := columnNames(diff.Altered); !equalStrings(got, tt.altered) {
				t.Errorf("altered = %v, want %v", got, tt.altered)
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	g := New(dialect.Postgres{})
	cfg := usersConfig(t, stream.Namer{MaxLength: 63})

	plan, err := g.Reconcile(cfg, state.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.SoftReset {
		t.Fatal("a new table needs no soft reset")
	}
	if got := ops(plan.Statements); !equalOps(got, types.OpCreateRawTable, types.OpCreateFinal) {
		t.Fatalf("ops = %v", got)
	}

	plan, err = g.Reconcile(cfg, state.DestinationState{NeedsSoftReset: true, SchemaVersion: 1}, postgresFinalColumns())
	if err != nil {
		t.Fatal(err)
	}
	if !plan.SoftReset {
		t.Fatal("requested soft reset was not planned")
	}
	if got := ops(plan.Statements); !equalOps(got, types.OpCreateRawTable, types.OpSoftReset, types.OpSoftReset, types.OpCreateFinal) {
		t.Fatalf("ops = %v", got)
	}

	plan, err = g.Reconcile(cfg, state.DestinationState{SchemaVersion: 0}, postgresFinalColumns())
	if err != nil {
		t.Fatal(err)
	}
	if !plan.SoftReset {
		t.Fatal("an outdated state version must soft reset")
	}

	plan, err = g.Reconcile(cfg, state.Default(), without(postgresFinalColumns(), "name"))
	if err != nil {
		t.Fatal(err)
	}
	last := plan.Statements[len(plan.Statements)-1]
	if plan.SoftReset || last.SQL != `ALTER TABLE "public"."users" ADD COLUMN "name" text` {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestNamespaces(t *testing.T) {
	n := stream.Namer{}
	cfgs := []stream.Config{
		{ID: stream.NewID("public", "users", n)},
		{ID: stream.NewID("public", "orders", n)},
		{ID: stream.NewID("shop", "items", n)},
	}
	got := Namespaces(cfgs...)
	if !equalStrings(got, []string{"airbyte_internal", "public", "shop"}) {
		t.Fatalf("namespaces = %v", got)
	}

	g := New(dialect.Postgres{})
	if stmts := g.CreateNamespace("shop"); len(stmts) != 1 || stmts[0].SQL != `CREATE SCHEMA IF NOT EXISTS "shop"` {
		t.Fatalf("postgres = %+v", stmts)
	}
	if stmts := New(dialect.SQLite{}).CreateNamespace("shop"); len(stmts) != 0 {
		t.Fatalf("sqlite = %+v", stmts)
	}
}

func with(m map[string]string, k, v string) map[string]string {
	m[k] = v
	return m
}

func without(m map[string]string, k string) map[string]string {
	delete(m, k)
	return m
}

func columnNames(cols []stream.Column) []string {
	var out []string
	for _, c := range cols {
		out = append(out, c.Name)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ops(stmts []types.Statement) []types.Operation {
	var out []types.Operation
	for _, s := range stmts {
		out = append(out, s.Op)
	}
	return out
}

func equalOps(got []types.Operation, want ...types.Operation) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
