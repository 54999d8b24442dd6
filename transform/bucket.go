package transform

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

// Hash returns Iceberg's 32-bit murmur3 hash of a source value. Ints,
// longs, dates, times and timestamps hash as 8-byte little-endian longs,
// strings as UTF-8, uuids as 16 big-endian bytes.
func Hash(v any, source spec.Type) (int32, error) {
	const op = "bucket hash"
	var data []byte

	switch source.TypeID() {
	case spec.TypeInt, spec.TypeLong:
		n, ok := asInt64(v)
		if !ok {
			return 0, errkind.InvalidInput(op, "%s expects an integer, got %T", source, v)
		}
		data = binary.LittleEndian.AppendUint64(nil, uint64(n))
	case spec.TypeDate:
		days, err := toDays(v)
		if err != nil {
			return 0, err
		}
		data = binary.LittleEndian.AppendUint64(nil, uint64(days))
	case spec.TypeTime:
		micros, err := toTimeOfDayMicros(v)
		if err != nil {
			return 0, err
		}
		data = binary.LittleEndian.AppendUint64(nil, uint64(micros))
	case spec.TypeTimestamp, spec.TypeTimestampTz:
		micros, err := toMicros(v)
		if err != nil {
			return 0, err
		}
		data = binary.LittleEndian.AppendUint64(nil, uint64(micros))
	case spec.TypeString:
		s, ok := v.(string)
		if !ok {
			return 0, errkind.InvalidInput(op, "string expects a string, got %T", v)
		}
		data = []byte(s)
	case spec.TypeUUID:
		s, ok := v.(string)
		if !ok {
			return 0, errkind.InvalidInput(op, "uuid expects a string, got %T", v)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return 0, errkind.InvalidInput(op, "invalid uuid %q: %v", s, err)
		}
		data = u[:]
	case spec.TypeBinary, spec.TypeFixed:
		b, ok := v.([]byte)
		if !ok {
			return 0, errkind.InvalidInput(op, "%s expects raw bytes, got %T", source, v)
		}
		data = b
	default:
		return 0, errkind.InvalidInput(op, "type %s cannot be bucketed", source)
	}

	return int32(murmur3.Sum32(data)), nil
}

// BucketHash maps a source value into [0, n) with Iceberg's bucket
// function. The result is the pre-hashed integer EncodeValue expects for
// a bucket[n] field.
func BucketHash(v any, source spec.Type, n int) (int32, error) {
	if n <= 0 {
		return 0, errkind.InvalidInput("bucket hash", "bucket count must be positive, got %d", n)
	}
	h, err := Hash(v, source)
	if err != nil {
		return 0, err
	}
	return (h & math.MaxInt32) % int32(n), nil
}
