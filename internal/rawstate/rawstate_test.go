package rawstate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/db"
	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/sqlgen"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

var (
	t1 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Minute)
	t3 = t1.Add(time.Hour)
)

func openSQLite(t *testing.T) *db.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), dialect.SQLite{}, filepath.Join(t.TempDir(), "raw.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func insertRaw(t *testing.T, conn *db.DB, id stream.ID, extractedAt time.Time, loadedAt *time.Time) {
	t.Helper()
	d := conn.Dialect()
	var loaded any
	if loadedAt != nil {
		loaded = d.TimestampArg(*loadedAt)
	}
	_, err := conn.ExecTx(context.Background(), []types.Statement{{
		SQL: fmt.Sprintf(`INSERT INTO %s ("_airbyte_raw_id", "_airbyte_extracted_at", "_airbyte_loaded_at", "_airbyte_data") VALUES (?, ?, ?, '{}')`,
			d.TableName(id.RawNamespace, id.RawName)),
		Args: []any{extractedAt.String(), d.TimestampArg(extractedAt), loaded},
	}})
	if err != nil {
		t.Fatal(err)
	}
}

func TestResolve(t *testing.T) {
	id := stream.NewID("public", "users", stream.Namer{})

	tests := []struct {
		name   string
		create bool
		rows   []*time.Time // loaded_at per row, extracted at t1, t2, ...
		want   RawTableState
	}{
		{name: "missing table", want: RawTableState{}},
		{name: "empty table", create: true, want: RawTableState{}},
		{
			name:   "unprocessed and processed rows",
			create: true,
			rows:   []*time.Time{nil, &t3},
			want:   RawTableState{HasUnprocessedRecords: true, Boundary: ptr(t1.Add(-SafetyMargin))},
		},
		{
			name:   "all rows processed",
			create: true,
			rows:   []*time.Time{&t3, &t3},
			want:   RawTableState{Boundary: ptr(t2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := openSQLite(t)
			if tt.create {
				if _, err := conn.ExecTx(context.Background(),
					[]types.Statement{sqlgen.New(conn.Dialect()).CreateRawTableIfNotExists(id)}); err != nil {
					t.Fatal(err)
				}
			}
			for i, loaded := range tt.rows {
				insertRaw(t, conn, id, t1.Add(time.Duration(i)*time.Minute), loaded)
			}

			got, err := NewResolver(conn, conn.Dialect(), zap.NewNop()).Resolve(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if got.HasUnprocessedRecords != tt.want.HasUnprocessedRecords {
				t.Fatalf("HasUnprocessedRecords = %v", got.HasUnprocessedRecords)
			}
			switch {
			case got.Boundary == nil && tt.want.Boundary == nil:
			case got.Boundary == nil || tt.want.Boundary == nil || !got.Boundary.Equal(*tt.want.Boundary):
				t.Fatalf("Boundary = %v, want %v", got.Boundary, tt.want.Boundary)
			}
		})
	}
}

type brokenQuerier struct{}

func (brokenQuerier) TableColumns(context.Context, string, string) (map[string]string, error) {
	return map[string]string{"_airbyte_raw_id": "text"}, nil
}

func (brokenQuerier) QueryTimestamp(context.Context, string, ...any) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("permission denied")
}

func TestResolveQueryFailure(t *testing.T) {
	id := stream.NewID("public", "users", stream.Namer{})
	if _, err := NewResolver(brokenQuerier{}, dialect.SQLite{}, zap.NewNop()).Resolve(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
}

func ptr(t time.Time) *time.Time { return &t }
