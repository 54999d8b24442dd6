// Package spec holds the Iceberg table model used by the metadata layer:
// types, schemas, partition specs, snapshots, table metadata and the
// manifest records that describe data files.
package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeID identifies an Iceberg value type.
type TypeID int

const (
	TypeBoolean TypeID = iota
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeDate
	TypeTime
	TypeTimestamp
	TypeTimestampTz
	TypeString
	TypeUUID
	TypeBinary
	TypeFixed
	TypeDecimal
	TypeStruct
	TypeList
	TypeMap
)

// Type is an Iceberg value type.
type Type interface {
	TypeID() TypeID
	String() string
	Equals(other Type) bool
}

// PrimitiveType is a non-nested, non-parameterised type.
type PrimitiveType struct {
	id TypeID
}

var primitiveNames = map[TypeID]string{
	TypeBoolean:     "boolean",
	TypeInt:         "int",
	TypeLong:        "long",
	TypeFloat:       "float",
	TypeDouble:      "double",
	TypeDate:        "date",
	TypeTime:        "time",
	TypeTimestamp:   "timestamp",
	TypeTimestampTz: "timestamptz",
	TypeString:      "string",
	TypeUUID:        "uuid",
	TypeBinary:      "binary",
}

var (
	BooleanType     = PrimitiveType{TypeBoolean}
	IntType         = PrimitiveType{TypeInt}
	LongType        = PrimitiveType{TypeLong}
	FloatType       = PrimitiveType{TypeFloat}
	DoubleType      = PrimitiveType{TypeDouble}
	DateType        = PrimitiveType{TypeDate}
	TimeType        = PrimitiveType{TypeTime}
	TimestampType   = PrimitiveType{TypeTimestamp}
	TimestampTzType = PrimitiveType{TypeTimestampTz}
	StringType      = PrimitiveType{TypeString}
	UUIDType        = PrimitiveType{TypeUUID}
	BinaryType      = PrimitiveType{TypeBinary}
)

func (t PrimitiveType) TypeID() TypeID { return t.id }

func (t PrimitiveType) String() string {
	if name, ok := primitiveNames[t.id]; ok {
		return name
	}
	return "unknown"
}

func (t PrimitiveType) Equals(other Type) bool {
	o, ok := other.(PrimitiveType)
	return ok && o.id == t.id
}

// FixedType is a fixed-length byte array.
type FixedType struct {
	Length int
}

func (t FixedType) TypeID() TypeID { return TypeFixed }
func (t FixedType) String() string { return fmt.Sprintf("fixed[%d]", t.Length) }
func (t FixedType) Equals(other Type) bool {
	o, ok := other.(FixedType)
	return ok && o.Length == t.Length
}

// DecimalType is a fixed-point decimal.
type DecimalType struct {
	Precision int
	Scale     int
}

func (t DecimalType) TypeID() TypeID { return TypeDecimal }
func (t DecimalType) String() string { return fmt.Sprintf("decimal(%d, %d)", t.Precision, t.Scale) }
func (t DecimalType) Equals(other Type) bool {
	o, ok := other.(DecimalType)
	return ok && o.Precision == t.Precision && o.Scale == t.Scale
}

// NestedField is a named, id-carrying member of a struct (or a schema).
type NestedField struct {
	ID       int
	Name     string
	Required bool
	Type     Type
	Doc      string
}

// StructType is an ordered list of fields.
type StructType struct {
	Fields []NestedField
}

func (t StructType) TypeID() TypeID { return TypeStruct }

func (t StructType) String() string {
	parts := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		parts = append(parts, fmt.Sprintf("%d: %s: %s %s", f.ID, f.Name, req, f.Type))
	}
	return "struct<" + strings.Join(parts, ", ") + ">"
}

func (t StructType) Equals(other Type) bool {
	o, ok := other.(StructType)
	return ok && fieldsEqual(t.Fields, o.Fields)
}

func fieldsEqual(a, b []NestedField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name || a[i].Required != b[i].Required {
			return false
		}
		if !a[i].Type.Equals(b[i].Type) {
			return false
		}
	}
	return true
}

// ListType is a list of elements of one type.
type ListType struct {
	ElementID       int
	Element         Type
	ElementRequired bool
}

func (t ListType) TypeID() TypeID { return TypeList }
func (t ListType) String() string { return "list<" + t.Element.String() + ">" }
func (t ListType) Equals(other Type) bool {
	o, ok := other.(ListType)
	return ok && o.ElementID == t.ElementID && o.ElementRequired == t.ElementRequired &&
		t.Element.Equals(o.Element)
}

// MapType maps keys of one type to values of another.
type MapType struct {
	KeyID         int
	Key           Type
	ValueID       int
	Value         Type
	ValueRequired bool
}

func (t MapType) TypeID() TypeID { return TypeMap }
func (t MapType) String() string {
	return "map<" + t.Key.String() + ", " + t.Value.String() + ">"
}
func (t MapType) Equals(other Type) bool {
	o, ok := other.(MapType)
	return ok && o.KeyID == t.KeyID && o.ValueID == t.ValueID &&
		o.ValueRequired == t.ValueRequired && t.Key.Equals(o.Key) && t.Value.Equals(o.Value)
}

// IsPrimitive reports whether t carries a single scalar value. Fixed and
// decimal count as primitives for partitioning purposes.
func IsPrimitive(t Type) bool {
	switch t.(type) {
	case PrimitiveType, FixedType, DecimalType:
		return true
	}
	return false
}

// ParseType parses the textual form of a primitive, fixed or decimal type.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for id, name := range primitiveNames {
		if s == name {
			return PrimitiveType{id}, nil
		}
	}

	switch {
	case strings.HasPrefix(s, "fixed[") && strings.HasSuffix(s, "]"):
		n, err := strconv.Atoi(s[len("fixed[") : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid fixed type %q: %w", s, err)
		}
		return FixedType{Length: n}, nil

	case strings.HasPrefix(s, "decimal(") && strings.HasSuffix(s, ")"):
		p, sc, ok := strings.Cut(s[len("decimal("):len(s)-1], ",")
		if !ok {
			return nil, fmt.Errorf("invalid decimal type %q", s)
		}
		precision, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal precision %q: %w", s, err)
		}
		scale, err := strconv.Atoi(strings.TrimSpace(sc))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal scale %q: %w", s, err)
		}
		return DecimalType{Precision: precision, Scale: scale}, nil
	}

	return nil, fmt.Errorf("unknown type: %s", s)
}
