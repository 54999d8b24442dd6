package spec

import (
	"encoding/json"
	"fmt"
)

// Schema is one version of a table's column layout. Field ids are stable
// across schema evolution; names are not.
type Schema struct {
	SchemaID           int
	IdentifierFieldIDs []int
	Fields             []NestedField
}

// NewSchema creates a schema with the given id and top-level fields.
func NewSchema(schemaID int, fields ...NestedField) *Schema {
	return &Schema{SchemaID: schemaID, Fields: fields}
}

// AsStruct returns the top-level fields as a struct type.
func (s *Schema) AsStruct() StructType {
	return StructType{Fields: s.Fields}
}

// FindField looks a field up by id anywhere in the schema, descending into
// nested structs, list elements and map values.
func (s *Schema) FindField(id int) (NestedField, bool) {
	return findField(s.Fields, id)
}

func findField(fields []NestedField, id int) (NestedField, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
		if nested, ok := findInType(f.Type, id); ok {
			return nested, true
		}
	}
	return NestedField{}, false
}

func findInType(t Type, id int) (NestedField, bool) {
	switch v := t.(type) {
	case StructType:
		return findField(v.Fields, id)
	case ListType:
		if v.ElementID == id {
			return NestedField{ID: id, Name: "element", Required: v.ElementRequired, Type: v.Element}, true
		}
		return findInType(v.Element, id)
	case MapType:
		if v.KeyID == id {
			return NestedField{ID: id, Name: "key", Required: true, Type: v.Key}, true
		}
		if v.ValueID == id {
			return NestedField{ID: id, Name: "value", Required: v.ValueRequired, Type: v.Value}, true
		}
		if f, ok := findInType(v.Key, id); ok {
			return f, true
		}
		return findInType(v.Value, id)
	}
	return NestedField{}, false
}

// FieldByName returns the top-level field with the given name.
func (s *Schema) FieldByName(name string) (NestedField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return NestedField{}, false
}

// FieldIDsByName maps every top-level field name to its id.
func (s *Schema) FieldIDsByName() map[string]int {
	out := make(map[string]int, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.ID
	}
	return out
}

type fieldJSON struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Required bool            `json:"required"`
	Type     json.RawMessage `json:"type"`
	Doc      string          `json:"doc,omitempty"`
}

type schemaJSON struct {
	Type               string      `json:"type"`
	SchemaID           int         `json:"schema-id"`
	IdentifierFieldIDs []int       `json:"identifier-field-ids,omitempty"`
	Fields             []fieldJSON `json:"fields"`
}

// MarshalJSON writes the schema in table-metadata form.
func (s *Schema) MarshalJSON() ([]byte, error) {
	fields, err := fieldsToJSON(s.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(schemaJSON{
		Type:               "struct",
		SchemaID:           s.SchemaID,
		IdentifierFieldIDs: s.IdentifierFieldIDs,
		Fields:             fields,
	})
}

// UnmarshalJSON reads the schema from table-metadata form.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw schemaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields, err := fieldsFromJSON(raw.Fields)
	if err != nil {
		return err
	}
	s.SchemaID = raw.SchemaID
	s.IdentifierFieldIDs = raw.IdentifierFieldIDs
	s.Fields = fields
	return nil
}

func fieldsToJSON(fields []NestedField) ([]fieldJSON, error) {
	out := make([]fieldJSON, len(fields))
	for i, f := range fields {
		t, err := typeToJSON(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[i] = fieldJSON{ID: f.ID, Name: f.Name, Required: f.Required, Type: t, Doc: f.Doc}
	}
	return out, nil
}

func fieldsFromJSON(raw []fieldJSON) ([]NestedField, error) {
	out := make([]NestedField, len(raw))
	for i, f := range raw {
		t, err := typeFromJSON(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[i] = NestedField{ID: f.ID, Name: f.Name, Required: f.Required, Type: t, Doc: f.Doc}
	}
	return out, nil
}

type listJSON struct {
	Type            string          `json:"type"`
	ElementID       int             `json:"element-id"`
	Element         json.RawMessage `json:"element"`
	ElementRequired bool            `json:"element-required"`
}

type mapJSON struct {
	Type          string          `json:"type"`
	KeyID         int             `json:"key-id"`
	Key           json.RawMessage `json:"key"`
	ValueID       int             `json:"value-id"`
	Value         json.RawMessage `json:"value"`
	ValueRequired bool            `json:"value-required"`
}

type structJSON struct {
	Type   string      `json:"type"`
	Fields []fieldJSON `json:"fields"`
}

func typeToJSON(t Type) (json.RawMessage, error) {
	switch v := t.(type) {
	case PrimitiveType, FixedType, DecimalType:
		return json.Marshal(v.String())
	case StructType:
		fields, err := fieldsToJSON(v.Fields)
		if err != nil {
			return nil, err
		}
		return json.Marshal(structJSON{Type: "struct", Fields: fields})
	case ListType:
		elem, err := typeToJSON(v.Element)
		if err != nil {
			return nil, err
		}
		return json.Marshal(listJSON{Type: "list", ElementID: v.ElementID, Element: elem, ElementRequired: v.ElementRequired})
	case MapType:
		key, err := typeToJSON(v.Key)
		if err != nil {
			return nil, err
		}
		value, err := typeToJSON(v.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(mapJSON{Type: "map", KeyID: v.KeyID, Key: key, ValueID: v.ValueID, Value: value, ValueRequired: v.ValueRequired})
	}
	return nil, fmt.Errorf("unknown type: %T", t)
}

func typeFromJSON(data json.RawMessage) (Type, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return ParseType(name)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid type JSON %s: %w", data, err)
	}

	switch head.Type {
	case "struct":
		var raw structJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		fields, err := fieldsFromJSON(raw.Fields)
		if err != nil {
			return nil, err
		}
		return StructType{Fields: fields}, nil
	case "list":
		var raw listJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		elem, err := typeFromJSON(raw.Element)
		if err != nil {
			return nil, err
		}
		return ListType{ElementID: raw.ElementID, Element: elem, ElementRequired: raw.ElementRequired}, nil
	case "map":
		var raw mapJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		key, err := typeFromJSON(raw.Key)
		if err != nil {
			return nil, err
		}
		value, err := typeFromJSON(raw.Value)
		if err != nil {
			return nil, err
		}
		return MapType{KeyID: raw.KeyID, Key: key, ValueID: raw.ValueID, Value: value, ValueRequired: raw.ValueRequired}, nil
	}
	return nil, fmt.Errorf("unknown nested type %q", head.Type)
}
