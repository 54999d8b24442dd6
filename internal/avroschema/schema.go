// Package avroschema parses Avro schema JSON into a tagged-union tree and
// translates goavro native values between two such trees.
package avroschema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags a Schema node.
type Kind int

const (
	Null Kind = iota
	Boolean
	Int
	Long
	Float
	Double
	Bytes
	String
	Record
	Enum
	Array
	Map
	Union
	Fixed
)

var primitiveKinds = map[string]Kind{
	"null":    Null,
	"boolean": Boolean,
	"int":     Int,
	"long":    Long,
	"float":   Float,
	"double":  Double,
	"bytes":   Bytes,
	"string":  String,
}

func (k Kind) String() string {
	for name, pk := range primitiveKinds {
		if pk == k {
			return name
		}
	}
	switch k {
	case Record:
		return "record"
	case Enum:
		return "enum"
	case Array:
		return "array"
	case Map:
		return "map"
	case Union:
		return "union"
	case Fixed:
		return "fixed"
	}
	return "unknown"
}

// Schema is one node of a parsed Avro schema.
type Schema struct {
	Kind        Kind
	Name        string // full name of records, enums and fixed
	LogicalType string
	Fields      []*Field  // Record
	Items       *Schema   // Array
	Values      *Schema   // Map
	Branches    []*Schema // Union
	Symbols     []string  // Enum
	Size        int       // Fixed
}

// Field is a record field. ID is the Iceberg field id when the writer
// attached one.
type Field struct {
	Name       string
	ID         int
	HasID      bool
	Type       *Schema
	Default    any
	HasDefault bool
}

// goavroLogicalTypes are the logical types goavro decodes into their own
// native representation; any other logicalType is ignored by goavro.
var goavroLogicalTypes = map[string]bool{
	"int.date":              true,
	"int.time-millis":       true,
	"long.time-micros":      true,
	"long.timestamp-millis": true,
	"long.timestamp-micros": true,
	"bytes.decimal":         true,
	"fixed.decimal":         true,
}

// BranchName is the key goavro uses for this schema when it is a member of
// a union.
func (s *Schema) BranchName() string {
	switch s.Kind {
	case Record, Enum, Fixed:
		return s.Name
	case Array, Map:
		return s.Kind.String()
	}
	if s.LogicalType != "" {
		name := s.Kind.String() + "." + s.LogicalType
		if goavroLogicalTypes[name] {
			return name
		}
	}
	return s.Kind.String()
}

// FieldByID returns the record field carrying the given field id.
func (s *Schema) FieldByID(id int) *Field {
	for _, f := range s.Fields {
		if f.HasID && f.ID == id {
			return f
		}
	}
	return nil
}

// FieldByName returns the record field with the given name.
func (s *Schema) FieldByName(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// NonNull returns the single non-null branch of an optional union, or the
// schema itself when it is not a union.
func (s *Schema) NonNull() *Schema {
	if s.Kind != Union {
		return s
	}
	for _, b := range s.Branches {
		if b.Kind != Null {
			return b
		}
	}
	return s
}

// Parse parses Avro schema JSON, resolving references to named types
// defined earlier in the same document.
func Parse(schemaJSON string) (*Schema, error) {
	var raw any
	if err := json.Unmarshal([]byte(schemaJSON), &raw); err != nil {
		return nil, fmt.Errorf("invalid avro schema JSON: %w", err)
	}
	p := &parser{named: make(map[string]*Schema)}
	return p.parse(raw, "")
}

type parser struct {
	named map[string]*Schema
}

func (p *parser) parse(raw any, namespace string) (*Schema, error) {
	switch v := raw.(type) {
	case string:
		return p.byName(v, namespace)
	case []any:
		u := &Schema{Kind: Union}
		for _, b := range v {
			branch, err := p.parse(b, namespace)
			if err != nil {
				return nil, err
			}
			u.Branches = append(u.Branches, branch)
		}
		return u, nil
	case map[string]any:
		return p.parseObject(v, namespace)
	}
	return nil, fmt.Errorf("unexpected avro schema node %T", raw)
}

func (p *parser) byName(name, namespace string) (*Schema, error) {
	if k, ok := primitiveKinds[name]; ok {
		return &Schema{Kind: k}, nil
	}
	if s, ok := p.named[name]; ok {
		return s, nil
	}
	if namespace != "" {
		if s, ok := p.named[namespace+"."+name]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown avro type %q", name)
}

func fullName(obj map[string]any, namespace string) (string, string) {
	name, _ := obj["name"].(string)
	if strings.Contains(name, ".") {
		return name, name[:strings.LastIndex(name, ".")]
	}
	if ns, ok := obj["namespace"].(string); ok {
		namespace = ns
	}
	if namespace == "" {
		return name, ""
	}
	return namespace + "." + name, namespace
}

func (p *parser) parseObject(obj map[string]any, namespace string) (*Schema, error) {
	typ := obj["type"]
	name, isString := typ.(string)
	if !isString {
		// {"type": {...}} or {"type": [...]} wraps another schema.
		return p.parse(typ, namespace)
	}
	logical, _ := obj["logicalType"].(string)

	switch name {
	case "record", "error":
		full, ns := fullName(obj, namespace)
		s := &Schema{Kind: Record, Name: full}
		p.named[full] = s
		fields, _ := obj["fields"].([]any)
		for _, rf := range fields {
			fobj, ok := rf.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("record %s: field is %T", full, rf)
			}
			f, err := p.parseField(fobj, ns)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", full, err)
			}
			s.Fields = append(s.Fields, f)
		}
		return s, nil

	case "enum":
		full, _ := fullName(obj, namespace)
		s := &Schema{Kind: Enum, Name: full}
		for _, sym := range asSlice(obj["symbols"]) {
			if str, ok := sym.(string); ok {
				s.Symbols = append(s.Symbols, str)
			}
		}
		p.named[full] = s
		return s, nil

	case "fixed":
		full, _ := fullName(obj, namespace)
		size, _ := obj["size"].(float64)
		s := &Schema{Kind: Fixed, Name: full, Size: int(size), LogicalType: logical}
		p.named[full] = s
		return s, nil

	case "array":
		items, err := p.parse(obj["items"], namespace)
		if err != nil {
			return nil, err
		}
		return &Schema{Kind: Array, Items: items, LogicalType: logical}, nil

	case "map":
		values, err := p.parse(obj["values"], namespace)
		if err != nil {
			return nil, err
		}
		return &Schema{Kind: Map, Values: values, LogicalType: logical}, nil
	}

	s, err := p.byName(name, namespace)
	if err != nil {
		return nil, err
	}
	if logical != "" && s.Kind <= String {
		cp := *s
		cp.LogicalType = logical
		return &cp, nil
	}
	return s, nil
}

func (p *parser) parseField(obj map[string]any, namespace string) (*Field, error) {
	name, _ := obj["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("field without a name")
	}
	typ, err := p.parse(obj["type"], namespace)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", name, err)
	}
	f := &Field{Name: name, Type: typ}
	if id, ok := obj["field-id"].(float64); ok {
		f.ID, f.HasID = int(id), true
	}
	if def, ok := obj["default"]; ok {
		f.Default, f.HasDefault = nativeDefault(def, typ), true
	}
	return f, nil
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// nativeDefault converts a JSON default into the value goavro expects when
// encoding the field. Union defaults apply to the first branch.
func nativeDefault(def any, s *Schema) any {
	if s.Kind == Union {
		if def == nil || len(s.Branches) == 0 {
			return nil
		}
		first := s.Branches[0]
		if first.Kind == Null {
			return nil
		}
		return map[string]any{first.BranchName(): nativeDefault(def, first)}
	}

	switch s.Kind {
	case Int:
		if n, ok := def.(float64); ok {
			return int32(n)
		}
	case Long:
		if n, ok := def.(float64); ok {
			return int64(n)
		}
	case Float:
		if n, ok := def.(float64); ok {
			return float32(n)
		}
	case Bytes, Fixed:
		if str, ok := def.(string); ok {
			return []byte(str)
		}
	case Array:
		items := asSlice(def)
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = nativeDefault(it, s.Items)
		}
		return out
	case Map:
		obj, _ := def.(map[string]any)
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			out[k] = nativeDefault(v, s.Values)
		}
		return out
	case Record:
		obj, _ := def.(map[string]any)
		out := make(map[string]any, len(obj))
		for _, f := range s.Fields {
			if v, ok := obj[f.Name]; ok {
				out[f.Name] = nativeDefault(v, f.Type)
			}
		}
		return out
	}
	return def
}
