// Package rawstate decides which raw records a merge has to consider.
package rawstate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/stream"
)

// SafetyMargin is subtracted from the earliest unprocessed extraction time. It absorbs
// timestamp precision differences between the writer of the raw table and the destination.
const SafetyMargin = time.Second

// RawTableState is computed fresh for every pass and never cached.
type RawTableState struct {
	HasUnprocessedRecords bool
	// Boundary is the extraction time below which every record is already merged; nil means none.
	Boundary *time.Time
}

// Querier is the subset of the destination connection the resolver needs.
type Querier interface {
	TableColumns(ctx context.Context, namespace, name string) (map[string]string, error)
	QueryTimestamp(ctx context.Context, query string, args ...any) (time.Time, bool, error)
}

type Resolver struct {
	q      Querier
	d      dialect.Dialect
	logger *zap.Logger
}

func NewResolver(q Querier, d dialect.Dialect, logger *zap.Logger) *Resolver {
	return &Resolver{q: q, d: d, logger: logger}
}

// Resolve uses two independent queries rather than one COALESCE so that no dialect has to
// short-circuit: first the earliest unprocessed record, then the latest processed one.
func (r *Resolver) Resolve(ctx context.Context, id stream.ID) (RawTableState, error) {
	cols, err := r.q.TableColumns(ctx, id.RawNamespace, id.RawName)
	if err != nil {
		return RawTableState{}, fmt.Errorf("inspect raw table: %w", err)
	}
	if len(cols) == 0 {
		r.logger.Debug("Raw table does not exist", zap.String("stream", id.String()))
		return RawTableState{}, nil
	}

	table := r.d.TableName(id.RawNamespace, id.RawName)
	extractedAt := r.d.QuoteIdentifier(stream.ColumnExtractedAt)
	loadedAt := r.d.QuoteIdentifier(stream.ColumnLoadedAt)

	earliest, ok, err := r.q.QueryTimestamp(ctx,
		fmt.Sprintf("SELECT MIN(%s) FROM %s WHERE %s IS NULL", extractedAt, table, loadedAt))
	if err != nil {
		return RawTableState{}, fmt.Errorf("query earliest unprocessed record: %w", err)
	}
	if ok {
		boundary := earliest.Add(-SafetyMargin)
		return RawTableState{HasUnprocessedRecords: true, Boundary: &boundary}, nil
	}

	latest, ok, err := r.q.QueryTimestamp(ctx,
		fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s IS NOT NULL", extractedAt, table, loadedAt))
	if err != nil {
		return RawTableState{}, fmt.Errorf("query latest processed record: %w", err)
	}
	if !ok {
		return RawTableState{}, nil
	}
	return RawTableState{Boundary: &latest}, nil
}
