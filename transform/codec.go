// Package transform encodes, decodes and orders partition values the way
// Iceberg stores them in manifest partition summaries and data-file bounds.
//
// Every encoding is the Iceberg single-value serialisation: fixed-width
// little-endian integers and IEEE floats, UTF-8 strings, raw bytes for
// binary, fixed and decimal.
package transform

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

// OutputType returns the type a transform produces for the given source
// type. The bool is false when the pair is not partitionable.
func OutputType(t spec.Transform, source spec.Type) (spec.Type, bool) {
	kind, _, err := t.Parse()
	if err != nil {
		return nil, false
	}
	switch kind {
	case spec.KindBucket, spec.KindYear, spec.KindMonth, spec.KindDay, spec.KindHour:
		return spec.IntType, true
	}
	if !spec.IsPrimitive(source) {
		return nil, false
	}
	return source, true
}

// EncodeValue encodes a raw partition value. A nil raw value encodes to a
// nil slice, the null bound.
func EncodeValue(raw any, t spec.Transform, out spec.Type) ([]byte, error) {
	if raw == nil {
		return nil, nil
	}
	kind, param, err := t.Parse()
	if err != nil {
		return nil, errkind.InvalidInput("encode partition value", "%v", err)
	}

	switch kind {
	case spec.KindIdentity, spec.KindVoid:
		return encodeIdentity(raw, out)

	case spec.KindYear, spec.KindMonth, spec.KindDay, spec.KindHour:
		n, err := toTransformUnit(raw, kind)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, errkind.InvalidInput("encode partition value", "%s value %d does not fit in 4 bytes", kind, n)
		}
		return int32Bytes(int32(n)), nil

	case spec.KindBucket:
		n, ok := asInt64(raw)
		if !ok {
			return nil, errkind.InvalidInput("encode partition value", "bucket[%d] expects a pre-hashed integer, got %T", param, raw)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, errkind.InvalidInput("encode partition value", "bucket value %d does not fit in 4 bytes", n)
		}
		return int32Bytes(int32(n)), nil

	case spec.KindTruncate:
		s, ok := raw.(string)
		if !ok {
			return nil, errkind.InvalidInput("encode partition value", "truncate[%d] expects a string, got %T", param, raw)
		}
		return []byte(truncateRunes(s, param)), nil
	}
	return nil, errkind.InvalidInput("encode partition value", "unsupported transform %s", t)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func encodeIdentity(raw any, out spec.Type) ([]byte, error) {
	const op = "encode identity value"

	switch out.TypeID() {
	case spec.TypeInt:
		n, ok := asInt64(raw)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, errkind.InvalidInput(op, "int expects a 32-bit integer, got %T(%v)", raw, raw)
		}
		return int32Bytes(int32(n)), nil

	case spec.TypeLong:
		n, ok := asInt64(raw)
		if !ok {
			return nil, errkind.InvalidInput(op, "long expects an integer, got %T", raw)
		}
		return int64Bytes(n), nil

	case spec.TypeFloat:
		f, ok := asFloat64(raw)
		if !ok {
			return nil, errkind.InvalidInput(op, "float expects a number, got %T", raw)
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil

	case spec.TypeDouble:
		f, ok := asFloat64(raw)
		if !ok {
			return nil, errkind.InvalidInput(op, "double expects a number, got %T", raw)
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)), nil

	case spec.TypeString, spec.TypeUUID:
		s, ok := raw.(string)
		if !ok {
			return nil, errkind.InvalidInput(op, "%s expects a string, got %T", out, raw)
		}
		return []byte(s), nil

	case spec.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, errkind.InvalidInput(op, "boolean expects a bool, got %T", raw)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case spec.TypeDate:
		days, err := toDays(raw)
		if err != nil {
			return nil, err
		}
		if days < math.MinInt32 || days > math.MaxInt32 {
			return nil, errkind.InvalidInput(op, "date %v out of range", raw)
		}
		return int32Bytes(int32(days)), nil

	case spec.TypeTime:
		micros, err := toTimeOfDayMicros(raw)
		if err != nil {
			return nil, err
		}
		return int64Bytes(micros), nil

	case spec.TypeTimestamp, spec.TypeTimestampTz:
		micros, err := toMicros(raw)
		if err != nil {
			return nil, err
		}
		return int64Bytes(micros), nil

	case spec.TypeBinary, spec.TypeFixed, spec.TypeDecimal:
		b, ok := raw.([]byte)
		if !ok {
			return nil, errkind.InvalidInput(op, "%s expects raw bytes, got %T", out, raw)
		}
		return b, nil
	}
	return nil, errkind.InvalidInput(op, "type %s cannot be a partition value", out)
}

// DecodeValue reverses EncodeValue for the given output type. Integers
// come back as int32/int64, floats as float32/float64, strings as string
// and byte-backed types as a copy of the input.
func DecodeValue(b []byte, out spec.Type) (any, error) {
	if b == nil {
		return nil, nil
	}
	const op = "decode partition value"

	switch out.TypeID() {
	case spec.TypeInt, spec.TypeDate:
		if len(b) != 4 {
			return nil, errkind.InvalidInput(op, "%s needs 4 bytes, got %d", out, len(b))
		}
		return int32(binary.LittleEndian.Uint32(b)), nil
	case spec.TypeLong, spec.TypeTime, spec.TypeTimestamp, spec.TypeTimestampTz:
		if len(b) != 8 {
			return nil, errkind.InvalidInput(op, "%s needs 8 bytes, got %d", out, len(b))
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case spec.TypeFloat:
		if len(b) != 4 {
			return nil, errkind.InvalidInput(op, "float needs 4 bytes, got %d", len(b))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
	case spec.TypeDouble:
		if len(b) != 8 {
			return nil, errkind.InvalidInput(op, "double needs 8 bytes, got %d", len(b))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case spec.TypeBoolean:
		if len(b) != 1 {
			return nil, errkind.InvalidInput(op, "boolean needs 1 byte, got %d", len(b))
		}
		return b[0] != 0, nil
	case spec.TypeString, spec.TypeUUID:
		return string(b), nil
	case spec.TypeBinary, spec.TypeFixed, spec.TypeDecimal:
		return append([]byte(nil), b...), nil
	}
	return nil, errkind.InvalidInput(op, "type %s cannot be a partition value", out)
}

func int32Bytes(v int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}

func int64Bytes(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// toTransformUnit converts a date or time input to years, months, days or
// hours since the epoch. Integer inputs are taken as already converted.
func toTransformUnit(raw any, kind spec.TransformKind) (int64, error) {
	if n, ok := asInt64(raw); ok {
		return n, nil
	}

	var t time.Time
	switch v := raw.(type) {
	case time.Time:
		t = v.UTC()
	case string:
		parsed, err := parseDateTime(v)
		if err != nil {
			return 0, errkind.InvalidInput("encode partition value", "%s expects a date or timestamp string: %v", kind, err)
		}
		t = parsed
	default:
		return 0, errkind.InvalidInput("encode partition value", "%s expects a date, timestamp or integer, got %T", kind, raw)
	}

	switch kind {
	case spec.KindYear:
		return int64(t.Year() - 1970), nil
	case spec.KindMonth:
		return int64(t.Year()-1970)*12 + int64(t.Month()) - 1, nil
	case spec.KindDay:
		return floorDiv(t.Unix(), 86400), nil
	default:
		return floorDiv(t.UnixMicro(), int64(time.Hour/time.Microsecond)), nil
	}
}

func toDays(raw any) (int64, error) {
	if n, ok := asInt64(raw); ok {
		return n, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return floorDiv(v.Unix(), 86400), nil
	case string:
		t, err := parseDateTime(v)
		if err != nil {
			return 0, errkind.InvalidInput("encode identity value", "date expects a date string: %v", err)
		}
		return floorDiv(t.Unix(), 86400), nil
	}
	return 0, errkind.InvalidInput("encode identity value", "date expects a date string or day count, got %T", raw)
}

func toMicros(raw any) (int64, error) {
	if n, ok := asInt64(raw); ok {
		return n, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v.UnixMicro(), nil
	case string:
		t, err := parseDateTime(v)
		if err != nil {
			return 0, errkind.InvalidInput("encode identity value", "timestamp expects a timestamp string: %v", err)
		}
		return t.UnixMicro(), nil
	}
	return 0, errkind.InvalidInput("encode identity value", "timestamp expects a timestamp string or microseconds, got %T", raw)
}

func toTimeOfDayMicros(raw any) (int64, error) {
	if n, ok := asInt64(raw); ok {
		return n, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, errkind.InvalidInput("encode identity value", "time expects a time string or microseconds, got %T", raw)
	}
	t, err := time.Parse("15:04:05.999999999", s)
	if err != nil {
		return 0, errkind.InvalidInput("encode identity value", "time expects HH:MM:SS[.ffffff]: %v", err)
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight).Microseconds(), nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseDateTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
