package spec

import (
	"testing"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"boolean", BooleanType},
		{"int", IntType},
		{"long", LongType},
		{"float", FloatType},
		{"double", DoubleType},
		{"date", DateType},
		{"time", TimeType},
		{"timestamp", TimestampType},
		{"timestamptz", TimestampTzType},
		{"string", StringType},
		{"uuid", UUIDType},
		{"binary", BinaryType},
		{"fixed[16]", FixedType{Length: 16}},
		{"decimal(10, 2)", DecimalType{Precision: 10, Scale: 2}},
		{" decimal(38,0) ", DecimalType{Precision: 38, Scale: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if err != nil {
				t.Fatalf("ParseType(%q) error: %v", tt.in, err)
			}
			if !got.Equals(tt.want) {
				t.Errorf("ParseType(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTypeRejectsUnknown(t *testing.T) {
	for _, in := range []string{"varchar", "fixed[x]", "decimal(10)", "decimal(a, 2)"} {
		if _, err := ParseType(in); err == nil {
			t.Errorf("ParseType(%q) should fail", in)
		}
	}
}

func TestPrimitiveTypeString(t *testing.T) {
	if TimestampTzType.String() != "timestamptz" {
		t.Errorf("String() = %s, want timestamptz", TimestampTzType.String())
	}
	if (PrimitiveType{}).String() != "boolean" {
		t.Errorf("zero PrimitiveType should print as boolean")
	}
	if (PrimitiveType{id: TypeStruct}).String() != "unknown" {
		t.Errorf("struct id is not a primitive name")
	}
}

func TestTypeEquals(t *testing.T) {
	if !IntType.Equals(IntType) {
		t.Error("IntType should equal itself")
	}
	if IntType.Equals(LongType) {
		t.Error("IntType should not equal LongType")
	}
	if (FixedType{Length: 4}).Equals(FixedType{Length: 8}) {
		t.Error("fixed lengths differ")
	}
	if (DecimalType{9, 2}).Equals(DecimalType{9, 3}) {
		t.Error("decimal scales differ")
	}

	a := ListType{ElementID: 3, Element: StringType}
	b := ListType{ElementID: 3, Element: StringType}
	if !a.Equals(b) {
		t.Error("identical lists should be equal")
	}
	b.ElementRequired = true
	if a.Equals(b) {
		t.Error("element-required differs")
	}

	m := MapType{KeyID: 1, Key: StringType, ValueID: 2, Value: LongType}
	if !m.Equals(m) {
		t.Error("map should equal itself")
	}
	if m.Equals(MapType{KeyID: 1, Key: StringType, ValueID: 2, Value: IntType}) {
		t.Error("map value types differ")
	}
}

func TestIsPrimitive(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{LongType, true},
		{FixedType{Length: 2}, true},
		{DecimalType{Precision: 4, Scale: 1}, true},
		{StructType{}, false},
		{ListType{Element: IntType}, false},
		{MapType{Key: StringType, Value: IntType}, false},
	}
	for _, tt := range tests {
		if got := IsPrimitive(tt.typ); got != tt.want {
			t.Errorf("IsPrimitive(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestStructTypeString(t *testing.T) {
	st := StructType{Fields: []NestedField{
		{ID: 1, Name: "id", Type: LongType, Required: true},
		{ID: 2, Name: "name", Type: StringType},
	}}
	want := "struct<1: id: required long, 2: name: optional string>"
	if st.String() != want {
		t.Errorf("String() = %s, want %s", st.String(), want)
	}
}
