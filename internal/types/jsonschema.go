package types

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"
)

var wellKnownRefs = map[string]Primitive{
	"String":                   String,
	"BinaryData":               String,
	"Boolean":                  Boolean,
	"Date":                     Date,
	"TimestampWithTimezone":    TimestampWithTimezone,
	"TimestampWithoutTimezone": TimestampWithoutTimezone,
	"TimeWithTimezone":         TimeWithTimezone,
	"TimeWithoutTimezone":      TimeWithoutTimezone,
	"Number":                   Number,
	"Integer":                  Integer,
}

// ParseJSONSchema parses a JSON schema document into an AirbyteType.
func ParseJSONSchema(data []byte) (AirbyteType, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse json schema: %w", err)
	}
	return FromJSONSchema(v), nil
}

// FromJSONSchema converts a parsed JSON schema node. Anything it does not recognise becomes Unknown.
func FromJSONSchema(v *fastjson.Value) AirbyteType {
	if v == nil || v.Type() != fastjson.TypeObject {
		return Unknown
	}

	typ := v.Get("type")
	switch {
	case typ != nil && typ.Type() == fastjson.TypeString:
		return fromSingleType(v, string(typ.GetStringBytes()))
	case typ != nil && typ.Type() == fastjson.TypeArray:
		var names []string
		for _, t := range typ.GetArray() {
			name := string(t.GetStringBytes())
			if name == "" || name == "null" {
				continue
			}
			names = append(names, name)
		}
		switch len(names) {
		case 0:
			return Unknown
		case 1:
			return fromSingleType(v, names[0])
		}
		options := make([]AirbyteType, 0, len(names))
		for _, name := range names {
			options = append(options, fromSingleType(v, name))
		}
		return Union{Options: options}
	case isNonNull(v.Get("oneOf")):
		var options []AirbyteType
		for _, o := range v.GetArray("oneOf") {
			options = append(options, FromJSONSchema(o))
		}
		return UnsupportedOneOf{Options: options}
	case isNonNull(v.Get("properties")):
		return structOf(v)
	}
	return fromRef(v)
}

func fromSingleType(v *fastjson.Value, name string) AirbyteType {
	airbyteType := string(v.GetStringBytes("airbyte_type"))
	switch name {
	case "object":
		return structOf(v)
	case "array":
		items := v.Get("items")
		if !isNonNull(items) {
			return Array{Items: Unknown}
		}
		return Array{Items: FromJSONSchema(items)}
	case "string":
		switch string(v.GetStringBytes("format")) {
		case "date":
			return Date
		case "date-time":
			if airbyteType == "timestamp_without_timezone" {
				return TimestampWithoutTimezone
			}
			return TimestampWithTimezone
		case "time":
			if airbyteType == "time_without_timezone" {
				return TimeWithoutTimezone
			}
			return TimeWithTimezone
		}
		return String
	case "number":
		if airbyteType == "integer" {
			return Integer
		}
		return Number
	case "integer":
		return Integer
	case "boolean":
		return Boolean
	}
	return Unknown
}

func fromRef(v *fastjson.Value) AirbyteType {
	ref := string(v.GetStringBytes("$ref"))
	if ref == "" {
		return Unknown
	}
	idx := strings.LastIndex(ref, "/")
	if p, ok := wellKnownRefs[ref[idx+1:]]; ok {
		return p
	}
	return Unknown
}

func structOf(v *fastjson.Value) Struct {
	var s Struct
	props := v.GetObject("properties")
	if props == nil {
		return s
	}
	props.Visit(func(key []byte, field *fastjson.Value) {
		s.Fields = append(s.Fields, Field{Name: string(key), Type: FromJSONSchema(field)})
	})
	return s
}

func isNonNull(v *fastjson.Value) bool {
	return v != nil && v.Type() != fastjson.TypeNull
}
