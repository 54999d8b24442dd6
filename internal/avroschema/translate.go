package avroschema

import (
	"time"

	"github.com/go-faster/errors"
)

// ErrMismatch reports that a value cannot be expressed in the target
// schema. Union resolution treats it as "try the next branch"; any other
// error aborts translation.
var ErrMismatch = errors.New("avro schema mismatch")

func mismatch(format string, args ...any) error {
	return errors.Wrapf(ErrMismatch, format, args...)
}

// Translate re-maps a goavro native value decoded with src into the shape
// dst expects. Record fields are matched by Iceberg field id first and
// name second; target fields with no source value take their declared
// default or are left out.
func Translate(src, dst *Schema, v any) (any, error) {
	if dst.Kind == Union {
		return translateToUnion(src, dst, v)
	}
	if src.Kind == Union {
		return translateFromUnion(src, dst, v)
	}

	switch dst.Kind {
	case Record:
		return translateRecord(src, dst, v)
	case Array:
		if src.Kind != Array {
			return nil, mismatch("%s is not an array", src.Kind)
		}
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch("array value is %T", v)
		}
		out := make([]any, len(items))
		for i, it := range items {
			t, err := Translate(src.Items, dst.Items, it)
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i)
			}
			out[i] = t
		}
		return out, nil
	case Map:
		if src.Kind != Map {
			return nil, mismatch("%s is not a map", src.Kind)
		}
		entries, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch("map value is %T", v)
		}
		out := make(map[string]any, len(entries))
		for k, e := range entries {
			t, err := Translate(src.Values, dst.Values, e)
			if err != nil {
				return nil, errors.Wrapf(err, "key %q", k)
			}
			out[k] = t
		}
		return out, nil
	case Enum:
		return translateEnum(src, dst, v)
	case Fixed:
		return translateFixed(src, dst, v)
	}
	return translatePrimitive(src, dst, v)
}

// translateToUnion tries every target branch, in declaration order,
// against every source branch the value could belong to.
func translateToUnion(src, dst *Schema, v any) (any, error) {
	if v == nil {
		for _, b := range dst.Branches {
			if b.Kind == Null {
				return nil, nil
			}
		}
		return nil, mismatch("null value for union without null branch")
	}

	candidates, inner := sourceBranches(src, v)
	for _, db := range dst.Branches {
		if db.Kind == Null {
			continue
		}
		for _, sb := range candidates {
			out, err := Translate(sb, db, inner)
			if err == nil {
				return map[string]any{db.BranchName(): out}, nil
			}
			if !errors.Is(err, ErrMismatch) {
				return nil, err
			}
		}
	}
	return v, nil
}

func translateFromUnion(src, dst *Schema, v any) (any, error) {
	if v == nil {
		if dst.Kind == Null {
			return nil, nil
		}
		return nil, mismatch("null value for non-null %s", dst.Kind)
	}
	candidates, inner := sourceBranches(src, v)
	var lastErr error = mismatch("no union branch matches %s", dst.Kind)
	for _, sb := range candidates {
		out, err := Translate(sb, dst, inner)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrMismatch) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// sourceBranches returns the schemas a non-null value may have been
// decoded with and the value to translate. goavro wraps union values in a
// single-key map named after the branch.
func sourceBranches(src *Schema, v any) ([]*Schema, any) {
	if src.Kind != Union {
		return []*Schema{src}, v
	}
	if wrapped, ok := v.(map[string]any); ok && len(wrapped) == 1 {
		for key, inner := range wrapped {
			for _, b := range src.Branches {
				if b.BranchName() == key {
					return []*Schema{b}, inner
				}
			}
		}
	}
	var out []*Schema
	for _, b := range src.Branches {
		if b.Kind != Null {
			out = append(out, b)
		}
	}
	return out, v
}

func translateRecord(src, dst *Schema, v any) (any, error) {
	if src.Kind != Record {
		return nil, mismatch("%s is not a record", src.Kind)
	}
	values, ok := v.(map[string]any)
	if !ok {
		return nil, mismatch("record %s value is %T", dst.Name, v)
	}

	out := make(map[string]any, len(dst.Fields))
	for _, df := range dst.Fields {
		var sf *Field
		if df.HasID {
			sf = src.FieldByID(df.ID)
		}
		if sf == nil {
			sf = src.FieldByName(df.Name)
		}

		var (
			val     any
			present bool
		)
		if sf != nil {
			val, present = values[sf.Name]
		}
		// A null the target cannot hold reads like an absent value.
		if !present || (val == nil && !nullable(df.Type)) {
			if df.HasDefault {
				out[df.Name] = df.Default
			}
			continue
		}

		t, err := Translate(sf.Type, df.Type, val)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", df.Name)
		}
		out[df.Name] = t
	}
	return out, nil
}

func nullable(s *Schema) bool {
	if s.Kind == Null {
		return true
	}
	for _, b := range s.Branches {
		if b.Kind == Null {
			return true
		}
	}
	return false
}

func translateEnum(src, dst *Schema, v any) (any, error) {
	if src.Kind != Enum && src.Kind != String {
		return nil, mismatch("%s is not an enum", src.Kind)
	}
	sym, ok := v.(string)
	if !ok {
		return nil, mismatch("enum value is %T", v)
	}
	for _, s := range dst.Symbols {
		if s == sym {
			return sym, nil
		}
	}
	return nil, mismatch("symbol %q not in enum %s", sym, dst.Name)
}

func translateFixed(src, dst *Schema, v any) (any, error) {
	if src.Kind != Fixed && src.Kind != Bytes {
		return nil, mismatch("%s is not fixed", src.Kind)
	}
	b, ok := v.([]byte)
	if !ok || len(b) != dst.Size {
		return nil, mismatch("fixed %s needs %d bytes", dst.Name, dst.Size)
	}
	return b, nil
}

func translatePrimitive(src, dst *Schema, v any) (any, error) {
	v = stripLogical(src, v)

	switch dst.Kind {
	case Null:
		if src.Kind == Null && v == nil {
			return nil, nil
		}
	case Boolean:
		if b, ok := v.(bool); ok && src.Kind == Boolean {
			return b, nil
		}
	case Int:
		if n, ok := v.(int32); ok && src.Kind == Int {
			return n, nil
		}
	case Long:
		switch n := v.(type) {
		case int64:
			if src.Kind == Long {
				return n, nil
			}
		case int32:
			if src.Kind == Int {
				return int64(n), nil
			}
		}
	case Float:
		switch n := v.(type) {
		case float32:
			return n, nil
		case int32:
			return float32(n), nil
		case int64:
			return float32(n), nil
		}
	case Double:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case String:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			if src.Kind == Bytes || src.Kind == Fixed {
				return string(s), nil
			}
		}
	case Bytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			if src.Kind == String {
				return []byte(b), nil
			}
		}
	}
	return nil, mismatch("cannot translate %s (%T) to %s", src.BranchName(), v, dst.Kind)
}

// stripLogical turns goavro's logical-type natives back into the raw
// primitive they are stored as.
func stripLogical(src *Schema, v any) any {
	switch src.BranchName() {
	case "int.date":
		if t, ok := v.(time.Time); ok {
			return int32(t.Unix() / 86400)
		}
	case "long.timestamp-micros":
		if t, ok := v.(time.Time); ok {
			return t.UnixMicro()
		}
	case "long.timestamp-millis":
		if t, ok := v.(time.Time); ok {
			return t.UnixMilli()
		}
	case "int.time-millis":
		if d, ok := v.(time.Duration); ok {
			return int32(d / time.Millisecond)
		}
	case "long.time-micros":
		if d, ok := v.(time.Duration); ok {
			return int64(d / time.Microsecond)
		}
	}
	return v
}
