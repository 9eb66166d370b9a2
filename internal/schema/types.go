// Package schema maps generic directory objects onto backend resource models.
//
// A Definition is built once per object class from a table of fields. Each field
// names the generic attribute, its semantic type, the backend field it is fetched
// from, a set of flags and the accessors used on the create, update and read paths.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type is the semantic type of a field's values.
type Type int

const (
	String Type = iota
	StringCaseIgnore
	DateTime
	Boolean
	Integer
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case StringCaseIgnore:
		return "string_case_ignore"
	case DateTime:
		return "datetime"
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	default:
		return "unknown"
	}
}

// MarshalText renders the type name in JSON schema listings.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Flag modifies how a field takes part in create, update and read.
type Flag uint8

const (
	NotCreatable Flag = 1 << iota
	NotUpdatable
	Required
	MultiValued
	NotReturnedByDefault
)

// normalize checks v against t and converts loosely typed input, such as
// decoded JSON numbers or timestamp strings, to the canonical Go type:
// string, time.Time, bool or int64.
func normalize(t Type, v any) (any, error) {
	switch t {
	case String, StringCaseIgnore:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case DateTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return ParseDateTime(x)
		}
	case Boolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(x)
		}
	case Integer:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case json.Number:
			return x.Int64()
		}
	}
	return nil, fmt.Errorf("value of type %T is not a valid %s", v, t)
}

// ParseDateTime accepts RFC 3339 timestamps and epoch milliseconds.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
