package transform

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

func TestOutputType(t *testing.T) {
	tests := []struct {
		transform spec.Transform
		source    spec.Type
		want      spec.Type
		ok        bool
	}{
		{spec.TransformIdentity, spec.LongType, spec.LongType, true},
		{spec.TransformIdentity, spec.DecimalType{Precision: 9, Scale: 2}, spec.DecimalType{Precision: 9, Scale: 2}, true},
		{spec.TransformIdentity, spec.ListType{Element: spec.IntType}, nil, false},
		{spec.TruncateTransform(3), spec.StringType, spec.StringType, true},
		{spec.TruncateTransform(3), spec.StructType{}, nil, false},
		{spec.BucketTransform(16), spec.StringType, spec.IntType, true},
		{spec.TransformYear, spec.TimestampType, spec.IntType, true},
		{spec.TransformMonth, spec.DateType, spec.IntType, true},
		{spec.TransformDay, spec.TimestampTzType, spec.IntType, true},
		{spec.TransformHour, spec.TimestampType, spec.IntType, true},
		{"bogus", spec.IntType, nil, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.transform)+"/"+tt.source.String(), func(t *testing.T) {
			got, ok := OutputType(tt.transform, tt.source)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equals(tt.want), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeValueLayouts(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		transform spec.Transform
		out       spec.Type
		want      []byte
	}{
		{"int32 42", 42, spec.TransformIdentity, spec.IntType, []byte{42, 0, 0, 0}},
		{"negative int", int32(-1), spec.TransformIdentity, spec.IntType, []byte{0xff, 0xff, 0xff, 0xff}},
		{"long", int64(1) << 40, spec.TransformIdentity, spec.LongType, []byte{0, 0, 0, 0, 0, 1, 0, 0}},
		{"json number long", float64(7), spec.TransformIdentity, spec.LongType, []byte{7, 0, 0, 0, 0, 0, 0, 0}},
		{"float", float32(1), spec.TransformIdentity, spec.FloatType, []byte{0, 0, 0x80, 0x3f}},
		{"double", 2.0, spec.TransformIdentity, spec.DoubleType, []byte{0, 0, 0, 0, 0, 0, 0, 0x40}},
		{"string", "héllo", spec.TransformIdentity, spec.StringType, []byte("héllo")},
		{"uuid", "f79c3e09-677c-4bbd-a479-3f349cb785e7", spec.TransformIdentity, spec.UUIDType, []byte("f79c3e09-677c-4bbd-a479-3f349cb785e7")},
		{"bool true", true, spec.TransformIdentity, spec.BooleanType, []byte{1}},
		{"bool false", false, spec.TransformIdentity, spec.BooleanType, []byte{0}},
		{"date string", "2024-01-01", spec.TransformIdentity, spec.DateType, []byte{0x0b, 0x4d, 0, 0}},
		{"date count", 19723, spec.TransformIdentity, spec.DateType, []byte{0x0b, 0x4d, 0, 0}},
		{"timestamp", "1970-01-01T00:00:01Z", spec.TransformIdentity, spec.TimestampType, []byte{0x40, 0x42, 0x0f, 0, 0, 0, 0, 0}},
		{"time", "00:00:01", spec.TransformIdentity, spec.TimeType, []byte{0x40, 0x42, 0x0f, 0, 0, 0, 0, 0}},
		{"binary passthrough", []byte{9, 8, 7}, spec.TransformIdentity, spec.BinaryType, []byte{9, 8, 7}},
		{"decimal passthrough", []byte{0x01, 0x00}, spec.TransformIdentity, spec.DecimalType{Precision: 5, Scale: 2}, []byte{0x01, 0x00}},
		{"day of date", "2024-01-01", spec.TransformDay, spec.IntType, []byte{0x0b, 0x4d, 0, 0}},
		{"day of timestamp", "2024-01-01T23:59:59Z", spec.TransformDay, spec.IntType, []byte{0x0b, 0x4d, 0, 0}},
		{"day before epoch", "1969-12-31T12:00:00Z", spec.TransformDay, spec.IntType, []byte{0xff, 0xff, 0xff, 0xff}},
		{"year", "2024-06-30", spec.TransformYear, spec.IntType, []byte{54, 0, 0, 0}},
		{"month", "1970-03-15", spec.TransformMonth, spec.IntType, []byte{2, 0, 0, 0}},
		{"hour", time.Date(1970, 1, 2, 1, 30, 0, 0, time.UTC), spec.TransformHour, spec.IntType, []byte{25, 0, 0, 0}},
		{"already numeric", 7, spec.TransformMonth, spec.IntType, []byte{7, 0, 0, 0}},
		{"bucket", 5, spec.BucketTransform(8), spec.IntType, []byte{5, 0, 0, 0}},
		{"truncate runes", "日本語テキスト", spec.TruncateTransform(3), spec.StringType, []byte("日本語")},
		{"truncate short", "ab", spec.TruncateTransform(3), spec.StringType, []byte("ab")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.raw, tt.transform, tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeValueNil(t *testing.T) {
	b, err := EncodeValue(nil, spec.TransformIdentity, spec.IntType)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestEncodeValueMismatch(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		transform spec.Transform
		out       spec.Type
		contains  string
	}{
		{"truncate int", 12, spec.TruncateTransform(2), spec.StringType, "truncate[2] expects a string"},
		{"bucket string", "abc", spec.BucketTransform(4), spec.IntType, "pre-hashed integer"},
		{"day of bool", true, spec.TransformDay, spec.IntType, "expects a date"},
		{"day of garbage", "yesterday", spec.TransformDay, spec.IntType, "date or timestamp string"},
		{"int overflow", int64(math.MaxInt32) + 1, spec.TransformIdentity, spec.IntType, "32-bit integer"},
		{"fractional long", 1.5, spec.TransformIdentity, spec.LongType, "integer"},
		{"string for bytes", "abc", spec.TransformIdentity, spec.BinaryType, "raw bytes"},
		{"bytes for string", []byte("abc"), spec.TransformIdentity, spec.StringType, "expects a string"},
		{"hour overflow", int64(math.MaxInt32) * 2, spec.TransformHour, spec.IntType, "does not fit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeValue(tt.raw, tt.transform, tt.out)
			require.ErrorIs(t, err, errkind.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		raw  any
		out  spec.Type
		want any
	}{
		{int32(-7), spec.IntType, int32(-7)},
		{int64(math.MinInt64), spec.LongType, int64(math.MinInt64)},
		{float32(3.25), spec.FloatType, float32(3.25)},
		{-0.125, spec.DoubleType, -0.125},
		{"value", spec.StringType, "value"},
		{true, spec.BooleanType, true},
		{"2024-01-01", spec.DateType, int32(19723)},
		{"2024-01-01T00:00:00Z", spec.TimestampTzType, int64(1704067200000000)},
		{[]byte{1, 2}, spec.FixedType{Length: 2}, []byte{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.out.String(), func(t *testing.T) {
			enc, err := EncodeValue(tt.raw, spec.TransformIdentity, tt.out)
			require.NoError(t, err)
			dec, err := DecodeValue(enc, tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dec)
		})
	}
}

func TestDecodeValueWrongWidth(t *testing.T) {
	_, err := DecodeValue([]byte{1, 2, 3}, spec.IntType)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
	_, err = DecodeValue([]byte{1}, spec.TimestampType)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)

	v, err := DecodeValue(nil, spec.LongType)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func testSchema() *spec.Schema {
	return spec.NewSchema(0,
		spec.NestedField{ID: 1, Name: "x", Type: spec.IntType},
		spec.NestedField{ID: 2, Name: "ts", Type: spec.TimestampType},
		spec.NestedField{ID: 3, Name: "d", Type: spec.DateType},
		spec.NestedField{ID: 4, Name: "score", Type: spec.DoubleType},
		spec.NestedField{ID: 5, Name: "name", Type: spec.StringType},
	)
}

func TestMakeBounds(t *testing.T) {
	ps := spec.NewPartitionSpecBuilder(1).
		Add(1, "x", spec.TransformIdentity).
		Add(2, "ts_day", spec.TransformDay).
		Add(4, "score", spec.TransformIdentity).
		Add(5, "name_trunc", spec.TruncateTransform(2)).
		Build()

	bounds, err := MakeBounds(map[string]any{
		"x":          3,
		"ts_day":     "2024-01-01T10:00:00Z",
		"score":      math.NaN(),
		"name_trunc": nil,
	}, ps, testSchema())
	require.NoError(t, err)
	require.Len(t, bounds, 4)

	assert.Equal(t, Bound{Value: []byte{3, 0, 0, 0}}, bounds[0])
	assert.Equal(t, Bound{Value: []byte{0x0b, 0x4d, 0, 0}}, bounds[1])
	assert.Equal(t, Bound{NaN: true}, bounds[2])
	assert.Equal(t, Bound{Null: true}, bounds[3])
}

func TestMakeBoundsErrors(t *testing.T) {
	ps := spec.NewPartitionSpecBuilder(1).Add(1, "x", spec.TransformIdentity).Build()
	_, err := MakeBounds(map[string]any{}, ps, testSchema())
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)

	unknown := spec.NewPartitionSpecBuilder(1).Add(42, "ghost", spec.TransformIdentity).Build()
	_, err = MakeBounds(map[string]any{"ghost": 1}, unknown, testSchema())
	assert.ErrorIs(t, err, errkind.ErrNotFound)

	_, err = MakeBounds(map[string]any{"x": "not an int"}, ps, testSchema())
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
}

func TestCompareBoundsNumericVersusBytes(t *testing.T) {
	schema := testSchema()
	day := spec.PartitionField{SourceID: 2, FieldID: 1000, Name: "ts_day", Transform: spec.TransformDay}

	a, err := EncodeValue("2024-06-26", spec.TransformDay, spec.IntType)
	require.NoError(t, err)
	b, err := EncodeValue("2027-07-01", spec.TransformDay, spec.IntType)
	require.NoError(t, err)

	raw := bytes.Compare(a, b)
	numeric, err := CompareBounds(a, b, day, schema)
	require.NoError(t, err)

	assert.Equal(t, -1, numeric)
	assert.Equal(t, 1, raw)
}

func TestCompareBoundsDateFallsBackToBytes(t *testing.T) {
	schema := testSchema()
	identityDate := spec.PartitionField{SourceID: 3, FieldID: 1000, Name: "d", Transform: spec.TransformIdentity}

	a, err := EncodeValue("2024-06-26", spec.TransformIdentity, spec.DateType)
	require.NoError(t, err)
	b, err := EncodeValue("2027-07-01", spec.TransformIdentity, spec.DateType)
	require.NoError(t, err)

	byteOrder, err := CompareBounds(a, b, identityDate, schema)
	require.NoError(t, err)
	assert.Equal(t, 1, byteOrder, "byte fallback orders these dates wrongly")

	typed, err := CompareTyped(a, b, spec.DateType)
	require.NoError(t, err)
	assert.Equal(t, -1, typed)
}

func TestCompareTypedNegatives(t *testing.T) {
	neg, _ := EncodeValue(int64(-5), spec.TransformIdentity, spec.LongType)
	pos, _ := EncodeValue(int64(3), spec.TransformIdentity, spec.LongType)
	c, err := CompareTyped(neg, pos, spec.LongType)
	require.NoError(t, err)
	assert.Equal(t, -1, c)
	assert.Equal(t, 1, bytes.Compare(neg, pos))

	lo, _ := EncodeValue(-1.5, spec.TransformIdentity, spec.DoubleType)
	hi, _ := EncodeValue(0.5, spec.TransformIdentity, spec.DoubleType)
	c, err = CompareTyped(lo, hi, spec.DoubleType)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	_, err = CompareTyped([]byte{1}, []byte{2}, spec.IntType)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
}

func TestMinMax(t *testing.T) {
	enc := func(v int) []byte {
		b, err := EncodeValue(v, spec.TransformIdentity, spec.IntType)
		require.NoError(t, err)
		return b
	}

	var lower, upper []byte
	for _, v := range []int{1, 5, 3, -2, 300} {
		var err error
		lower, upper, err = MinMax(lower, upper, enc(v), spec.IntType)
		require.NoError(t, err)
	}
	assert.Equal(t, enc(-2), lower)
	assert.Equal(t, enc(300), upper)

	l2, u2, err := MinMax(lower, upper, nil, spec.IntType)
	require.NoError(t, err)
	assert.Equal(t, lower, l2)
	assert.Equal(t, upper, u2)
}

func TestHashVectors(t *testing.T) {
	tests := []struct {
		v    any
		typ  spec.Type
		want int32
	}{
		{34, spec.IntType, 2017239379},
		{int64(34), spec.LongType, 2017239379},
		{"2017-11-16", spec.DateType, -653330422},
		{"2017-11-16T22:31:08", spec.TimestampType, -2047944441},
		{"iceberg", spec.StringType, 1210000089},
		{"f79c3e09-677c-4bbd-a479-3f349cb785e7", spec.UUIDType, 1488055340},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := Hash(tt.v, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBucketHash(t *testing.T) {
	b, err := BucketHash(34, spec.IntType, 16)
	require.NoError(t, err)
	assert.Equal(t, int32(2017239379%16), b)

	enc, err := EncodeValue(b, spec.BucketTransform(16), spec.IntType)
	require.NoError(t, err)
	assert.Len(t, enc, 4)

	_, err = BucketHash(34, spec.IntType, 0)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
	_, err = BucketHash(1.5, spec.DoubleType, 4)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
	_, err = BucketHash("not-a-uuid", spec.UUIDType, 4)
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)
}
