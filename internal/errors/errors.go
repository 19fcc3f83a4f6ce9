// Package errors defines the error kinds a typing and deduping pass can fail with.
// Every failure leaving a component carries a Kind so callers can decide between
// retrying, surfacing a warning, or giving up.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// UnsupportedType indicates a malformed or unrecognised AirbyteType.
	UnsupportedType Kind = "unsupported_type"
	// RawTableAccess indicates the raw table could not be read.
	RawTableAccess Kind = "raw_table_access"
	// SchemaMigration indicates DDL against the final table failed.
	SchemaMigration Kind = "schema_migration"
	// Merge indicates the dedup/upsert transaction failed and was rolled back.
	Merge Kind = "merge"
	// StatePersist indicates the destination state could not be saved after a merge.
	StatePersist Kind = "state_persist"
	// Config indicates invalid configuration.
	Config Kind = "config"
	// Catalog indicates an unreadable configured catalog.
	Catalog Kind = "catalog"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the outermost *E in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller's backoff policy should retry a failure of this kind.
// StatePersist is not retried: the data is already merged and the next pass converges.
func Retryable(kind Kind) bool {
	switch kind {
	case RawTableAccess, SchemaMigration, Merge:
		return true
	default:
		return false
	}
}
