package types

import (
	"sort"
	"strings"
)

// AirbyteType describes a stream field independently of any SQL dialect.
// The set of implementations is closed: Primitive, Struct, Array, Union and UnsupportedOneOf.
type AirbyteType interface {
	TypeName() string
	String() string
	airbyteType()
}

// Primitive is a scalar AirbyteType.
type Primitive int

const (
	String Primitive = iota + 1
	Number
	Integer
	Boolean
	TimestampWithTimezone
	TimestampWithoutTimezone
	TimeWithTimezone
	TimeWithoutTimezone
	Date
	Unknown
)

var primitiveNames = map[Primitive]string{
	String:                   "STRING",
	Number:                   "NUMBER",
	Integer:                  "INTEGER",
	Boolean:                  "BOOLEAN",
	TimestampWithTimezone:    "TIMESTAMP_WITH_TIMEZONE",
	TimestampWithoutTimezone: "TIMESTAMP_WITHOUT_TIMEZONE",
	TimeWithTimezone:         "TIME_WITH_TIMEZONE",
	TimeWithoutTimezone:      "TIME_WITHOUT_TIMEZONE",
	Date:                     "DATE",
	Unknown:                  "UNKNOWN",
}

// Valid reports whether p is one of the declared primitive kinds.
func (p Primitive) Valid() bool {
	_, ok := primitiveNames[p]
	return ok
}

func (p Primitive) TypeName() string { return p.String() }

func (p Primitive) String() string {
	if name, ok := primitiveNames[p]; ok {
		return name
	}
	return "INVALID"
}

func (Primitive) airbyteType() {}

// Field is a named member of a Struct. Declared order is kept.
type Field struct {
	Name string
	Type AirbyteType
}

// Struct is an object with named fields.
type Struct struct {
	Fields []Field
}

func (Struct) TypeName() string { return "STRUCT" }

func (s Struct) String() string {
	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		parts = append(parts, f.Name+":"+describe(f.Type))
	}
	sort.Strings(parts)
	return "STRUCT{" + strings.Join(parts, ",") + "}"
}

func (Struct) airbyteType() {}

// Array is a homogeneous list.
type Array struct {
	Items AirbyteType
}

func (Array) TypeName() string { return "ARRAY" }

func (a Array) String() string {
	if a.Items == nil {
		return "ARRAY<UNKNOWN>"
	}
	return "ARRAY<" + a.Items.String() + ">"
}

func (Array) airbyteType() {}

// Union is a value that may take any of several types.
type Union struct {
	Options []AirbyteType
}

func (Union) TypeName() string { return "UNION" }

func (u Union) String() string { return "UNION(" + describeAll(u.Options) + ")" }

func (Union) airbyteType() {}

// ChooseType resolves the union to the single type used for its column.
func (u Union) ChooseType() AirbyteType { return ChooseType(u) }

// UnsupportedOneOf is a oneOf composite with no single representative; it is always stored semi-structured.
type UnsupportedOneOf struct {
	Options []AirbyteType
}

func (UnsupportedOneOf) TypeName() string { return "UNSUPPORTED_ONE_OF" }

func (o UnsupportedOneOf) String() string { return "ONEOF(" + describeAll(o.Options) + ")" }

func (UnsupportedOneOf) airbyteType() {}

// Equal compares two types structurally. Struct fields and union options compare as sets.
func Equal(a, b AirbyteType) bool {
	return describe(a) == describe(b)
}

// ChooseType returns t unchanged unless it is a Union. A Union resolves to:
//   - Unknown when it has no options;
//   - its option when every option is the same type;
//   - Number when the options are only Integer and Number;
//   - Unknown (semi-structured) otherwise.
//
// Nested unions are flattened first, so the result never depends on option order
// and ChooseType(ChooseType(u)) == ChooseType(u).
func ChooseType(t AirbyteType) AirbyteType {
	u, ok := t.(Union)
	if !ok {
		return t
	}
	options := flatten(u.Options, nil)
	if len(options) == 0 {
		return Unknown
	}

	first := options[0]
	same := true
	numeric := true
	for _, o := range options {
		if !Equal(o, first) {
			same = false
		}
		if p, ok := o.(Primitive); !ok || (p != Integer && p != Number) {
			numeric = false
		}
	}
	switch {
	case same:
		return first
	case numeric:
		return Number
	default:
		return Unknown
	}
}

func flatten(options []AirbyteType, out []AirbyteType) []AirbyteType {
	for _, o := range options {
		if nested, ok := o.(Union); ok {
			out = flatten(nested.Options, out)
			continue
		}
		out = append(out, o)
	}
	return out
}

func describe(t AirbyteType) string {
	if t == nil {
		return "NIL"
	}
	return t.String()
}

func describeAll(ts []AirbyteType) string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		parts = append(parts, describe(t))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
