package dialect

import (
	"fmt"

	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/types"
)

// ToColumnType maps an AirbyteType to its column type in d. It is a pure function of (t, d).
// Struct, Array, UnsupportedOneOf and Unknown share the semi-structured type; a Union maps
// through its chosen type. Malformed types fail with an UnsupportedType error.
func ToColumnType(t types.AirbyteType, d Dialect) (ColumnType, error) {
	switch v := t.(type) {
	case types.Primitive:
		if !v.Valid() {
			return ColumnType{}, typerr.New(typerr.UnsupportedType, fmt.Sprintf("unknown primitive kind %d", int(v)))
		}
		if v == types.Unknown {
			return d.SemiStructuredType(), nil
		}
		return d.PrimitiveType(v), nil
	case types.Struct, types.Array, types.UnsupportedOneOf:
		return d.SemiStructuredType(), nil
	case types.Union:
		for _, o := range v.Options {
			if o == nil {
				return ColumnType{}, typerr.New(typerr.UnsupportedType, "union has a nil option")
			}
		}
		return ToColumnType(v.ChooseType(), d)
	case nil:
		return ColumnType{}, typerr.New(typerr.UnsupportedType, "nil type")
	}
	return ColumnType{}, typerr.New(typerr.UnsupportedType, fmt.Sprintf("unrecognised type %T", t))
}
