// Package catalog reads an Airbyte ConfiguredCatalog into stream configurations.
package catalog

import (
	"fmt"
	"os"

	"github.com/valyala/fastjson"

	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

// DestinationSyncMode says how the destination interprets a stream's records.
type DestinationSyncMode string

const (
	DestinationSyncModeAppend      DestinationSyncMode = "append"
	DestinationSyncModeOverwrite   DestinationSyncMode = "overwrite"
	DestinationSyncModeAppendDedup DestinationSyncMode = "append_dedup"
)

// Dedup reports whether final tables of this mode keep one row per primary key.
func (m DestinationSyncMode) Dedup() bool {
	return m == DestinationSyncModeAppendDedup
}

// Load reads the catalog file at path.
func Load(path string, n stream.Namer) ([]stream.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, typerr.Wrap(typerr.Catalog, "read catalog "+path, err)
	}
	return Parse(data, n)
}

// Parse converts each configured stream. Primary keys and cursors must be top-level fields;
// an explicit primary_key or cursor_field wins over the source-defined one.
func Parse(data []byte, n stream.Namer) ([]stream.Config, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, typerr.Wrap(typerr.Catalog, "parse catalog", err)
	}
	streams := v.GetArray("streams")
	if streams == nil {
		return nil, typerr.New(typerr.Catalog, "catalog has no streams")
	}

	configs := make([]stream.Config, 0, len(streams))
	seen := make(map[stream.ID]bool, len(streams))
	for i, cs := range streams {
		cfg, err := configuredStream(cs, n)
		if err != nil {
			if typerr.Is(err, typerr.UnsupportedType) {
				return nil, err
			}
			return nil, typerr.Wrap(typerr.Catalog, fmt.Sprintf("stream %d", i), err)
		}
		if seen[cfg.ID] {
			return nil, typerr.New(typerr.Catalog, fmt.Sprintf("stream %s is configured twice", cfg.ID))
		}
		seen[cfg.ID] = true
		configs = append(configs, cfg)
	}
	return configs, nil
}

func configuredStream(cs *fastjson.Value, n stream.Namer) (stream.Config, error) {
	s := cs.Get("stream")
	if s == nil {
		return stream.Config{}, fmt.Errorf("missing stream descriptor")
	}
	name := string(s.GetStringBytes("name"))
	if name == "" {
		return stream.Config{}, fmt.Errorf("stream has no name")
	}
	namespace := string(s.GetStringBytes("namespace"))

	var schema types.Struct
	if js := s.Get("json_schema"); js != nil {
		if st, ok := types.FromJSONSchema(js).(types.Struct); ok {
			schema = st
		}
	}

	pk, err := fieldPaths(cs.Get("primary_key"))
	if err != nil {
		return stream.Config{}, fmt.Errorf("primary_key: %w", err)
	}
	if len(pk) == 0 {
		if pk, err = fieldPaths(s.Get("source_defined_primary_key")); err != nil {
			return stream.Config{}, fmt.Errorf("source_defined_primary_key: %w", err)
		}
	}

	cursor, err := cursorField(cs.Get("cursor_field"))
	if err != nil {
		return stream.Config{}, err
	}
	if cursor == "" {
		if cursor, err = cursorField(s.Get("default_cursor_field")); err != nil {
			return stream.Config{}, err
		}
	}

	mode := DestinationSyncMode(cs.GetStringBytes("destination_sync_mode"))
	if mode == "" {
		mode = DestinationSyncModeAppend
	}
	return stream.NewConfig(stream.NewID(namespace, name, n), schema, pk, cursor, mode.Dedup(), n)
}

// fieldPaths reads [["a"],["b"]] and rejects nested paths.
func fieldPaths(v *fastjson.Value) ([]string, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return nil, nil
	}
	paths, err := v.Array()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		parts, err := p.Array()
		if err != nil {
			return nil, err
		}
		if len(parts) != 1 {
			return nil, fmt.Errorf("only top-level fields are supported, got a path of length %d", len(parts))
		}
		key, err := parts[0].StringBytes()
		if err != nil {
			return nil, err
		}
		out = append(out, string(key))
	}
	return out, nil
}

func cursorField(v *fastjson.Value) (string, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return "", nil
	}
	parts, err := v.Array()
	if err != nil {
		return "", fmt.Errorf("cursor_field: %w", err)
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		key, err := parts[0].StringBytes()
		if err != nil {
			return "", fmt.Errorf("cursor_field: %w", err)
		}
		return string(key), nil
	}
	return "", fmt.Errorf("cursor_field: only top-level fields are supported")
}
