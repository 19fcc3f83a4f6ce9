package stream

import (
	"fmt"
	"strconv"

	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/types"
)

// Meta columns written by the engine.
const (
	ColumnRawID       = "_airbyte_raw_id"
	ColumnData        = "_airbyte_data"
	ColumnExtractedAt = "_airbyte_extracted_at"
	ColumnLoadedAt    = "_airbyte_loaded_at"
	ColumnMeta        = "_airbyte_meta"

	// CDCDeletedAt marks a tombstone when a dedup stream declares it.
	CDCDeletedAt = "_ab_cdc_deleted_at"
)

// ID identifies a stream's raw and final tables. Identical stream identity always yields an identical ID.
type ID struct {
	FinalNamespace    string
	FinalName         string
	RawNamespace      string
	RawName           string
	OriginalNamespace string
	OriginalName      string
}

// NewID derives the table identifiers for a stream.
func NewID(namespace, name string, n Namer) ID {
	if namespace == "" {
		namespace = n.DefaultNamespace
	}
	return ID{
		FinalNamespace:    n.Identifier(namespace),
		FinalName:         n.Identifier(name),
		RawNamespace:      n.Identifier(n.rawNamespace()),
		RawName:           n.Identifier(RawTableName(namespace, name)),
		OriginalNamespace: namespace,
		OriginalName:      name,
	}
}

func (id ID) String() string {
	return id.OriginalNamespace + "." + id.OriginalName
}

// Column is a typed final-table column sourced from one top-level record field.
type Column struct {
	Name string
	Key  string
	Type types.AirbyteType
}

// Config is everything the engine knows about one configured stream.
type Config struct {
	ID         ID
	Columns    []Column
	PrimaryKey []string
	Cursor     string
	Dedup      bool
}

// NewConfig maps the schema's top-level fields to columns in declared order.
// Sanitised names that collide, with each other or with a meta column, get a numeric suffix.
// primaryKey and cursor name source fields.
func NewConfig(id ID, schema types.Struct, primaryKey []string, cursor string, dedup bool, n Namer) (Config, error) {
	cfg := Config{ID: id, Dedup: dedup}
	used := map[string]bool{
		ColumnRawID: true, ColumnData: true, ColumnExtractedAt: true, ColumnLoadedAt: true, ColumnMeta: true,
	}
	byKey := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		if _, dup := byKey[f.Name]; dup {
			continue
		}
		if f.Type == nil {
			return Config{}, typerr.New(typerr.UnsupportedType, fmt.Sprintf("field %q of %s has no type", f.Name, id))
		}
		name := n.Identifier(f.Name)
		for i := 1; used[name]; i++ {
			name = n.truncate(n.Identifier(f.Name) + "_" + strconv.Itoa(i))
		}
		used[name] = true
		byKey[f.Name] = name
		cfg.Columns = append(cfg.Columns, Column{Name: name, Key: f.Name, Type: f.Type})
	}

	for _, key := range primaryKey {
		name, ok := byKey[key]
		if !ok {
			return Config{}, fmt.Errorf("primary key %q is not a field of %s", key, id)
		}
		cfg.PrimaryKey = append(cfg.PrimaryKey, name)
	}
	if cursor != "" {
		name, ok := byKey[cursor]
		if !ok {
			return Config{}, fmt.Errorf("cursor %q is not a field of %s", cursor, id)
		}
		cfg.Cursor = name
	}
	if cfg.Dedup && len(cfg.PrimaryKey) == 0 {
		cfg.Dedup = false
	}
	return cfg, nil
}

// Column returns the column with the given name.
func (c Config) Column(name string) (Column, bool) {
	for _, col := range c.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// HasCDCDeletes reports whether tombstones should be removed from the final table.
func (c Config) HasCDCDeletes() bool {
	_, ok := c.Column(CDCDeletedAt)
	return c.Dedup && ok
}
