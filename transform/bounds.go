package transform

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

// Bound is one encoded partition value. Null and NaN values carry no bytes.
type Bound struct {
	Null  bool
	NaN   bool
	Value []byte
}

// FieldOutputType resolves the source field of a partition field and
// returns the transform's output type for it.
func FieldOutputType(field spec.PartitionField, schema *spec.Schema) (spec.Type, error) {
	src, ok := schema.FindField(field.SourceID)
	if !ok {
		return nil, errkind.NotFound("resolve partition source",
			"source field %d of partition field %s not in schema %d", field.SourceID, field.Name, schema.SchemaID)
	}
	out, ok := OutputType(field.Transform, src.Type)
	if !ok {
		return nil, errkind.InvalidInput("resolve partition source",
			"transform %s cannot apply to %s field %s", field.Transform, src.Type, src.Name)
	}
	return out, nil
}

// MakeBounds encodes the partition values of one data file, keyed by
// partition field name, into one bound per spec field in spec order.
func MakeBounds(values map[string]any, ps spec.PartitionSpec, schema *spec.Schema) ([]Bound, error) {
	bounds := make([]Bound, len(ps.Fields))
	for i, f := range ps.Fields {
		out, err := FieldOutputType(f, schema)
		if err != nil {
			return nil, err
		}
		raw, ok := values[f.Name]
		if !ok {
			return nil, errkind.InvalidInput("make partition bounds", "missing partition value for field %s", f.Name)
		}
		if raw == nil || f.Transform == spec.TransformVoid {
			bounds[i] = Bound{Null: true}
			continue
		}
		if isNaN(raw) {
			bounds[i] = Bound{NaN: true}
			continue
		}
		b, err := EncodeValue(raw, f.Transform, out)
		if err != nil {
			return nil, err
		}
		bounds[i] = Bound{Value: b}
	}
	return bounds, nil
}

func isNaN(v any) bool {
	switch f := v.(type) {
	case float32:
		return math.IsNaN(float64(f))
	case float64:
		return math.IsNaN(f)
	}
	return false
}

// CompareBounds orders two encoded bounds of a partition field. Only the
// int, long, float and double output types are decoded; every other type,
// date and timestamps included, is compared byte by byte.
//
// Byte order is wrong for little-endian integers whose high bytes differ
// (e.g. day counts 19900 and 21000), so anything that must be correct for
// date or time outputs uses CompareTyped instead.
func CompareBounds(a, b []byte, field spec.PartitionField, schema *spec.Schema) (int, error) {
	out, err := FieldOutputType(field, schema)
	if err != nil {
		return 0, err
	}
	switch out.TypeID() {
	case spec.TypeInt, spec.TypeLong, spec.TypeFloat, spec.TypeDouble:
		return CompareTyped(a, b, out)
	}
	return bytes.Compare(a, b), nil
}

// CompareTyped decodes both bounds and compares them by value for every
// fixed-width type; strings and byte-backed types compare lexicographically.
func CompareTyped(a, b []byte, out spec.Type) (int, error) {
	switch out.TypeID() {
	case spec.TypeInt, spec.TypeDate:
		if len(a) != 4 || len(b) != 4 {
			return 0, errkind.InvalidInput("compare bounds", "%s bounds must be 4 bytes", out)
		}
		return cmp.Compare(int32(binary.LittleEndian.Uint32(a)), int32(binary.LittleEndian.Uint32(b))), nil
	case spec.TypeLong, spec.TypeTime, spec.TypeTimestamp, spec.TypeTimestampTz:
		if len(a) != 8 || len(b) != 8 {
			return 0, errkind.InvalidInput("compare bounds", "%s bounds must be 8 bytes", out)
		}
		return cmp.Compare(int64(binary.LittleEndian.Uint64(a)), int64(binary.LittleEndian.Uint64(b))), nil
	case spec.TypeFloat:
		if len(a) != 4 || len(b) != 4 {
			return 0, errkind.InvalidInput("compare bounds", "float bounds must be 4 bytes")
		}
		return cmp.Compare(math.Float32frombits(binary.LittleEndian.Uint32(a)), math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case spec.TypeDouble:
		if len(a) != 8 || len(b) != 8 {
			return 0, errkind.InvalidInput("compare bounds", "double bounds must be 8 bytes")
		}
		return cmp.Compare(math.Float64frombits(binary.LittleEndian.Uint64(a)), math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	}
	return bytes.Compare(a, b), nil
}

// MinMax widens [lower, upper] to include candidate. Nil bounds mean
// "unset". Ties keep the existing bound.
func MinMax(lower, upper, candidate []byte, out spec.Type) ([]byte, []byte, error) {
	if candidate == nil {
		return lower, upper, nil
	}
	if lower == nil {
		lower = candidate
	} else {
		c, err := CompareTyped(candidate, lower, out)
		if err != nil {
			return nil, nil, err
		}
		if c < 0 {
			lower = candidate
		}
	}
	if upper == nil {
		upper = candidate
	} else {
		c, err := CompareTyped(candidate, upper, out)
		if err != nil {
			return nil, nil, err
		}
		if c > 0 {
			upper = candidate
		}
	}
	return lower, upper, nil
}
