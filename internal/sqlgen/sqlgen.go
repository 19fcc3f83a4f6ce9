// Package sqlgen renders the typing and deduping operations for one stream as dialect SQL.
package sqlgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

// MergeInsertStatement is the index of the statement whose affected rows count the merged records.
const MergeInsertStatement = 1

// Generator renders statements for a dialect. It holds no per-stream state.
type Generator struct {
	d dialect.Dialect
}

func New(d dialect.Dialect) *Generator {
	return &Generator{d: d}
}

func (g *Generator) q(name string) string { return g.d.QuoteIdentifier(name) }

func (g *Generator) rawTable(id stream.ID) string { return g.d.TableName(id.RawNamespace, id.RawName) }
func (g *Generator) finalTable(id stream.ID) string {
	return g.d.TableName(id.FinalNamespace, id.FinalName)
}

// CreateNamespace returns nothing for dialects without namespaces.
func (g *Generator) CreateNamespace(namespace string) []types.Statement {
	ddl := g.d.CreateNamespace(namespace)
	if ddl == "" {
		return nil
	}
	return []types.Statement{{Op: types.OpCreateNamespace, SQL: ddl}}
}

func (g *Generator) CreateRawTableIfNotExists(id stream.ID) types.Statement {
	ts := g.d.TimestampType().Name
	cols := []string{
		g.q(stream.ColumnRawID) + " " + g.d.RawIDType().Name + " NOT NULL",
		g.q(stream.ColumnExtractedAt) + " " + ts + " NOT NULL",
		g.q(stream.ColumnLoadedAt) + " " + ts,
		g.q(stream.ColumnData) + " " + g.d.SemiStructuredType().Name + " NOT NULL",
	}
	return types.Statement{
		Op:  types.OpCreateRawTable,
		SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", g.rawTable(id), strings.Join(cols, ", ")),
	}
}

// CreateFinalTableIfNotExists declares the user columns in schema order followed by the meta columns.
func (g *Generator) CreateFinalTableIfNotExists(cfg stream.Config) (types.Statement, error) {
	cols := make([]string, 0, len(cfg.Columns)+3)
	for _, c := range cfg.Columns {
		ct, err := dialect.ToColumnType(c.Type, g.d)
		if err != nil {
			return types.Statement{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
		cols = append(cols, g.q(c.Name)+" "+ct.Name)
	}
	cols = append(cols,
		g.q(stream.ColumnRawID)+" "+g.d.RawIDType().Name+" NOT NULL",
		g.q(stream.ColumnExtractedAt)+" "+g.d.TimestampType().Name+" NOT NULL",
		g.q(stream.ColumnMeta)+" "+g.d.SemiStructuredType().Name+" NOT NULL",
	)
	return types.Statement{
		Op:  types.OpCreateFinal,
		SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", g.finalTable(cfg.ID), strings.Join(cols, ", ")),
	}, nil
}

// SoftResetFinalTable drops the final table and marks every raw record unprocessed.
// The caller recreates the final table afterwards.
func (g *Generator) SoftResetFinalTable(id stream.ID) []types.Statement {
	loadedAt := g.q(stream.ColumnLoadedAt)
	return []types.Statement{
		{Op: types.OpSoftReset, SQL: "DROP TABLE IF EXISTS " + g.finalTable(id)},
		{Op: types.OpSoftReset, SQL: fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s IS NOT NULL",
			g.rawTable(id), loadedAt, loadedAt)},
	}
}

// AlterFinalTable adds missing columns and widens altered ones in place.
func (g *Generator) AlterFinalTable(cfg stream.Config, diff Diff) ([]types.Statement, error) {
	table := g.finalTable(cfg.ID)
	var stmts []types.Statement
	for _, c := range diff.Added {
		ct, err := dialect.ToColumnType(c.Type, g.d)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		stmts = append(stmts, types.Statement{
			Op:  types.OpAlterFinal,
			SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, g.q(c.Name), ct.Name),
		})
	}
	for _, c := range diff.Altered {
		ct, err := dialect.ToColumnType(c.Type, g.d)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		ddl, ok := g.d.AlterColumnType(table, c.Name, ct)
		if !ok {
			return nil, fmt.Errorf("%s cannot alter column %s in place", g.d.Name(), c.Name)
		}
		stmts = append(stmts, types.Statement{Op: types.OpAlterFinal, SQL: ddl})
	}
	return stmts, nil
}

// MergeDedupRawIntoFinal renders the merge transaction:
//
//  1. stamp unprocessed raw records (at or after boundary, when set) with batch;
//  2. insert the typed records of the batch, keeping only the newest record per primary key;
//  3. delete final rows that are no longer the newest for their primary key;
//  4. delete CDC tombstones.
//
// Steps 3 and 4 apply to dedup streams only. batch must differ from every earlier batch of the stream.
func (g *Generator) MergeDedupRawIntoFinal(cfg stream.Config, boundary *time.Time, batch time.Time) ([]types.Statement, error) {
	raw := g.rawTable(cfg.ID)
	final := g.finalTable(cfg.ID)
	loadedAt := g.q(stream.ColumnLoadedAt)
	batchArg := g.d.TimestampArg(batch)

	claim := types.Statement{
		Op:   types.OpMerge,
		SQL:  fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", raw, loadedAt, g.d.Placeholder(1), loadedAt),
		Args: []any{batchArg},
	}
	if boundary != nil {
		claim.SQL += fmt.Sprintf(" AND %s >= %s", g.q(stream.ColumnExtractedAt), g.d.Placeholder(2))
		claim.Args = append(claim.Args, g.d.TimestampArg(*boundary))
	}

	typed := make([]string, 0, len(cfg.Columns)+len(cfg.PrimaryKey)+3)
	names := make([]string, 0, len(cfg.Columns)+3)
	var changes []dialect.Change
	data := g.q(stream.ColumnData)
	for _, c := range cfg.Columns {
		ct, err := dialect.ToColumnType(c.Type, g.d)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		expr := g.d.Extract(data, c.Key, ct)
		typed = append(typed, expr+" AS "+g.q(c.Name))
		names = append(names, g.q(c.Name))
		if ct.Kind != types.Unknown && ct.Kind != types.String {
			changes = append(changes, dialect.Change{
				Field:     c.Key,
				Condition: fmt.Sprintf("(%s) IS NULL AND %s", expr, g.d.Present(data, c.Key)),
			})
		}
	}
	// The batch is partitioned on the untyped key so records whose key fails to type stay distinct.
	keys := make([]string, 0, len(cfg.PrimaryKey))
	if cfg.Dedup {
		for i, k := range cfg.PrimaryKey {
			col, _ := cfg.Column(k)
			alias := g.q(fmt.Sprintf("%s%d", rawKeyColumn, i))
			typed = append(typed, g.d.RawValue(data, col.Key)+" AS "+alias)
			keys = append(keys, alias)
		}
	}
	typed = append(typed,
		g.q(stream.ColumnRawID),
		g.q(stream.ColumnExtractedAt),
		g.d.Meta(changes)+" AS "+g.q(stream.ColumnMeta),
	)
	names = append(names, g.q(stream.ColumnRawID), g.q(stream.ColumnExtractedAt), g.q(stream.ColumnMeta))
	columnList := strings.Join(names, ", ")

	source := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(typed, ", "), raw, loadedAt, g.d.Placeholder(1))
	if cfg.Dedup {
		source = fmt.Sprintf("SELECT %s FROM (SELECT typed_records.*, %s AS %s FROM (%s) typed_records) new_records WHERE %s = 1",
			columnList, g.rowNumber(cfg, keys), g.q(rowNumberColumn), source, g.q(rowNumberColumn))
	}
	insert := types.Statement{
		Op:   types.OpMerge,
		SQL:  fmt.Sprintf("INSERT INTO %s (%s) %s", final, columnList, source),
		Args: []any{batchArg},
	}

	stmts := []types.Statement{claim, insert}
	if !cfg.Dedup {
		return stmts, nil
	}

	rawID := g.q(stream.ColumnRawID)
	pk := make([]string, len(cfg.PrimaryKey))
	present := make([]string, len(cfg.PrimaryKey))
	for i, k := range cfg.PrimaryKey {
		pk[i] = g.q(k)
		present[i] = g.q(k) + " IS NOT NULL"
	}
	// Rows whose key did not type cannot be matched to a newer record and are left alone.
	stmts = append(stmts, types.Statement{
		Op: types.OpMerge,
		SQL: fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT %s FROM (SELECT %s, %s AS %s FROM %s WHERE %s) airbyte_ids WHERE %s <> 1)",
			final, rawID, rawID, rawID, g.rowNumber(cfg, pk), g.q(rowNumberColumn), final,
			strings.Join(present, " AND "), g.q(rowNumberColumn)),
	})
	if cfg.HasCDCDeletes() {
		stmts = append(stmts, types.Statement{
			Op:  types.OpMerge,
			SQL: fmt.Sprintf("DELETE FROM %s WHERE %s IS NOT NULL", final, g.q(stream.CDCDeletedAt)),
		})
	}
	return stmts, nil
}

const (
	rowNumberColumn = "_airbyte_row_number"
	rawKeyColumn    = "_airbyte_raw_key_"
)

// rowNumber ranks records of the same key, newest first.
func (g *Generator) rowNumber(cfg stream.Config, partition []string) string {
	var order []string
	if cfg.Cursor != "" {
		order = append(order, g.d.DescNullsLast(g.q(cfg.Cursor)))
	}
	order = append(order, g.q(stream.ColumnExtractedAt)+" DESC", g.q(stream.ColumnRawID)+" DESC")
	return fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s)", strings.Join(partition, ", "), strings.Join(order, ", "))
}
