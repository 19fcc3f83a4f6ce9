// Package state holds the per-stream destination state and the stores that persist it.
//
// The state is read once when a stream pass starts and written once when it ends.
// It is never mutated in between.
package state

import (
	"context"
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/mehmetymw/typedupe/internal/stream"
)

// CurrentSchemaVersion is the final-table layout this engine writes.
// A stream whose state records an older version is soft reset.
const CurrentSchemaVersion = 1

// DestinationState is the persisted per-stream state.
type DestinationState struct {
	NeedsSoftReset bool
	SchemaVersion  int
}

// Default is the state of a stream that has never been synced.
func Default() DestinationState {
	return DestinationState{SchemaVersion: CurrentSchemaVersion}
}

// Store loads and saves destination state. Load never fails because state is missing.
type Store interface {
	Load(ctx context.Context, id stream.ID) (DestinationState, error)
	Save(ctx context.Context, id stream.ID, st DestinationState) error
}

// Decode parses a state blob. needsSoftReset counts only when present and true;
// a blob without schemaVersion predates versioning and is read as version 1.
func Decode(data []byte) (DestinationState, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return DestinationState{}, fmt.Errorf("parse destination state: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return DestinationState{}, fmt.Errorf("destination state is %s, not an object", v.Type())
	}

	st := DestinationState{SchemaVersion: 1}
	if nsr := v.Get("needsSoftReset"); nsr != nil && nsr.Type() == fastjson.TypeTrue {
		st.NeedsSoftReset = true
	}
	if sv := v.Get("schemaVersion"); sv != nil && sv.Type() == fastjson.TypeNumber {
		n, err := sv.Int()
		if err != nil {
			return DestinationState{}, fmt.Errorf("schemaVersion: %w", err)
		}
		st.SchemaVersion = n
	}
	return st, nil
}

// Encode renders the state blob.
func Encode(st DestinationState) []byte {
	var a fastjson.Arena
	o := a.NewObject()
	if st.NeedsSoftReset {
		o.Set("needsSoftReset", a.NewTrue())
	} else {
		o.Set("needsSoftReset", a.NewFalse())
	}
	o.Set("schemaVersion", a.NewNumberInt(st.SchemaVersion))
	return o.MarshalTo(nil)
}
