package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

// StateTable holds one row per stream in the raw namespace.
const StateTable = "_airbyte_destination_state"

// Executor is the subset of the destination connection the SQL store needs.
type Executor interface {
	ExecTx(ctx context.Context, stmts []types.Statement) ([]int64, error)
	QueryString(ctx context.Context, query string, args ...any) (string, bool, error)
}

// SQLStore keeps destination state in a table next to the raw tables.
type SQLStore struct {
	exec      Executor
	dialect   dialect.Dialect
	namespace string
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	ready bool
}

func NewSQLStore(exec Executor, d dialect.Dialect, namespace string, logger *zap.Logger) *SQLStore {
	return &SQLStore{exec: exec, dialect: d, namespace: namespace, logger: logger, now: time.Now}
}

func (s *SQLStore) table() string { return s.dialect.TableName(s.namespace, StateTable) }

// ensure creates the state table once per process. A failed attempt is retried on the next call.
func (s *SQLStore) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	var stmts []types.Statement
	if ddl := s.dialect.CreateNamespace(s.namespace); ddl != "" {
		stmts = append(stmts, types.Statement{Op: types.OpCreateNamespace, SQL: ddl})
	}
	text := s.dialect.PrimitiveType(types.String).Name
	stmts = append(stmts, types.Statement{
		Op: types.OpSaveState,
		SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (name %s, namespace %s, destination_state %s, updated_at %s)",
			s.table(), text, text, text, s.dialect.TimestampType().Name),
	})
	if _, err := s.exec.ExecTx(ctx, stmts); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	s.ready = true
	return nil
}

func (s *SQLStore) Load(ctx context.Context, id stream.ID) (DestinationState, error) {
	if err := s.ensure(ctx); err != nil {
		return DestinationState{}, err
	}
	q := fmt.Sprintf("SELECT destination_state FROM %s WHERE name = %s AND namespace = %s",
		s.table(), s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	blob, ok, err := s.exec.QueryString(ctx, q, id.OriginalName, id.OriginalNamespace)
	if err != nil {
		return DestinationState{}, fmt.Errorf("load destination state: %w", err)
	}
	if !ok {
		s.logger.Debug("No destination state row", zap.String("stream", id.String()))
		return Default(), nil
	}
	return decodeOrReset([]byte(blob), id, s.logger), nil
}

// Save replaces the stream's row in a single transaction.
func (s *SQLStore) Save(ctx context.Context, id stream.ID, st DestinationState) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	p := s.dialect.Placeholder
	stmts := []types.Statement{
		{
			Op:   types.OpSaveState,
			SQL:  fmt.Sprintf("DELETE FROM %s WHERE name = %s AND namespace = %s", s.table(), p(1), p(2)),
			Args: []any{id.OriginalName, id.OriginalNamespace},
		},
		{
			Op: types.OpSaveState,
			SQL: fmt.Sprintf("INSERT INTO %s (name, namespace, destination_state, updated_at) VALUES (%s, %s, %s, %s)",
				s.table(), p(1), p(2), p(3), p(4)),
			Args: []any{id.OriginalName, id.OriginalNamespace, string(Encode(st)), s.dialect.TimestampArg(s.now())},
		},
	}
	if _, err := s.exec.ExecTx(ctx, stmts); err != nil {
		return fmt.Errorf("save destination state: %w", err)
	}
	s.logger.Debug("Saved destination state",
		zap.String("stream", id.String()),
		zap.Bool("needs_soft_reset", st.NeedsSoftReset),
		zap.Int("schema_version", st.SchemaVersion))
	return nil
}
