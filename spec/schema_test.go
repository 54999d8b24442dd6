package spec

import (
	"encoding/json"
	"testing"
)

func nestedSchema() *Schema {
	return NewSchema(3,
		NestedField{ID: 1, Name: "id", Type: LongType, Required: true},
		NestedField{ID: 2, Name: "address", Type: StructType{Fields: []NestedField{
			{ID: 10, Name: "city", Type: StringType, Required: true},
			{ID: 11, Name: "zip", Type: StringType},
		}}},
		NestedField{ID: 3, Name: "tags", Type: ListType{ElementID: 20, Element: StringType, ElementRequired: true}},
		NestedField{ID: 4, Name: "props", Type: MapType{KeyID: 30, Key: StringType, ValueID: 31, Value: DoubleType}},
	)
}

func TestSchemaFindField(t *testing.T) {
	s := nestedSchema()

	tests := []struct {
		id   int
		name string
		typ  Type
	}{
		{1, "id", LongType},
		{10, "city", StringType},
		{11, "zip", StringType},
		{20, "element", StringType},
		{30, "key", StringType},
		{31, "value", DoubleType},
	}

	for _, tt := range tests {
		f, ok := s.FindField(tt.id)
		if !ok {
			t.Errorf("FindField(%d) not found", tt.id)
			continue
		}
		if f.Name != tt.name || !f.Type.Equals(tt.typ) {
			t.Errorf("FindField(%d) = %s %s, want %s %s", tt.id, f.Name, f.Type, tt.name, tt.typ)
		}
	}

	if _, ok := s.FindField(99); ok {
		t.Error("FindField(99) should not be found")
	}
}

func TestSchemaFieldByName(t *testing.T) {
	s := nestedSchema()
	f, ok := s.FieldByName("tags")
	if !ok || f.ID != 3 {
		t.Fatalf("FieldByName(tags) = %v, %v", f, ok)
	}
	if _, ok := s.FieldByName("city"); ok {
		t.Error("FieldByName only looks at top-level fields")
	}

	ids := s.FieldIDsByName()
	if ids["props"] != 4 || len(ids) != 4 {
		t.Errorf("FieldIDsByName() = %v", ids)
	}
}

func TestSchemaJSON(t *testing.T) {
	data, err := json.Marshal(nestedSchema())
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Schema
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.SchemaID != 3 {
		t.Errorf("SchemaID = %d, want 3", decoded.SchemaID)
	}
	if !decoded.AsStruct().Equals(nestedSchema().AsStruct()) {
		t.Errorf("decoded schema differs: %s", decoded.AsStruct())
	}
}

func TestSchemaUnmarshalCatalogForm(t *testing.T) {
	raw := `{
		"type": "struct",
		"schema-id": 0,
		"identifier-field-ids": [1],
		"fields": [
			{"id": 1, "name": "id", "required": true, "type": "long"},
			{"id": 2, "name": "price", "required": false, "type": "decimal(9, 2)"},
			{"id": 3, "name": "points", "required": false, "type": {
				"type": "list", "element-id": 4, "element-required": false,
				"element": {"type": "struct", "fields": [
					{"id": 5, "name": "x", "required": true, "type": "double"}
				]}
			}}
		]
	}`

	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(s.IdentifierFieldIDs) != 1 || s.IdentifierFieldIDs[0] != 1 {
		t.Errorf("IdentifierFieldIDs = %v", s.IdentifierFieldIDs)
	}
	f, ok := s.FindField(5)
	if !ok || !f.Type.Equals(DoubleType) {
		t.Errorf("FindField(5) = %v, %v", f, ok)
	}
	price, _ := s.FieldByName("price")
	if !price.Type.Equals(DecimalType{Precision: 9, Scale: 2}) {
		t.Errorf("price type = %s", price.Type)
	}
}

func TestSchemaUnmarshalUnknownType(t *testing.T) {
	raw := `{"type":"struct","schema-id":0,"fields":[{"id":1,"name":"v","required":true,"type":"variant"}]}`
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		t.Error("unknown type should fail")
	}
}
