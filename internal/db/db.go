// Package db executes rendered statements against the destination through database/sql.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/types"
)

// DB is a destination connection shared by every stream of a run.
type DB struct {
	conn    *sql.DB
	dialect dialect.Dialect
	logger  *zap.Logger
}

// Open connects to the destination and verifies the connection.
func Open(ctx context.Context, d dialect.Dialect, dsn string, logger *zap.Logger) (*DB, error) {
	dsn, err := d.ConfigureDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}
	if d.Name() == "sqlite" {
		// SQLite has a single writer.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(10 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name(), err)
	}
	logger.Info("Connected to destination", zap.String("dialect", d.Name()))
	return &DB{conn: conn, dialect: d, logger: logger}, nil
}

func (db *DB) Dialect() dialect.Dialect { return db.dialect }

// Conn returns the underlying pool.
func (db *DB) Conn() *sql.DB { return db.conn }

func (db *DB) Close() error { return db.conn.Close() }

// ExecTx runs stmts in one transaction and returns the rows affected by each.
// Nothing is committed unless every statement succeeds.
func (db *DB) ExecTx(ctx context.Context, stmts []types.Statement) ([]int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	affected := make([]int64, 0, len(stmts))
	for _, s := range stmts {
		db.logger.Debug("Executing statement",
			zap.String("op", string(s.Op)),
			zap.String("sql", s.SQL))
		res, err := tx.ExecContext(ctx, s.SQL, s.Args...)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Error("Rollback failed", zap.String("op", string(s.Op)), zap.Error(rbErr))
			}
			return nil, fmt.Errorf("%s: %w", s.Op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = 0
		}
		affected = append(affected, n)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return affected, nil
}

// QueryTimestamp reads a single timestamp; ok is false when the value is NULL or there is no row.
func (db *DB) QueryTimestamp(ctx context.Context, query string, args ...any) (time.Time, bool, error) {
	var v any
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&v)
	if err == sql.ErrNoRows || (err == nil && v == nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := db.dialect.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// QueryString reads a single string; ok is false when the value is NULL or there is no row.
func (db *DB) QueryString(ctx context.Context, query string, args ...any) (string, bool, error) {
	var v sql.NullString
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, v.Valid, nil
}

// TableColumns returns lowercase column name to reported type. An empty map means the table does not exist.
func (db *DB) TableColumns(ctx context.Context, namespace, name string) (map[string]string, error) {
	query, args := db.dialect.ColumnsQuery(namespace, name)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s.%s: %w", namespace, name, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[strings.ToLower(col)] = strings.ToLower(typ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}
