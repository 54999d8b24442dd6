// Package manifest reads and writes Iceberg manifest files and manifest
// lists as Avro object container files.
//
// Files written by other tools may order, name or type fields
// differently. Every reader decodes with the schema embedded in the file
// and translates each record into the canonical schemas below, matching
// fields by their field-id attribute.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/transform"
)

// ListSchema is the canonical manifest list schema (format version 2).
const ListSchema = `{
  "type": "record",
  "name": "manifest_file",
  "fields": [
    {"name": "manifest_path", "type": "string", "field-id": 500},
    {"name": "manifest_length", "type": "long", "field-id": 501},
    {"name": "partition_spec_id", "type": "int", "field-id": 502},
    {"name": "content", "type": "int", "default": 0, "field-id": 517},
    {"name": "sequence_number", "type": "long", "default": 0, "field-id": 515},
    {"name": "min_sequence_number", "type": "long", "default": 0, "field-id": 516},
    {"name": "added_snapshot_id", "type": "long", "field-id": 503},
    {"name": "added_files_count", "type": "int", "field-id": 504},
    {"name": "existing_files_count", "type": "int", "field-id": 505},
    {"name": "deleted_files_count", "type": "int", "field-id": 506},
    {"name": "added_rows_count", "type": "long", "field-id": 512},
    {"name": "existing_rows_count", "type": "long", "field-id": 513},
    {"name": "deleted_rows_count", "type": "long", "field-id": 514},
    {"name": "partitions", "type": ["null", {
      "type": "array",
      "element-id": 508,
      "items": {
        "type": "record",
        "name": "r508",
        "fields": [
          {"name": "contains_null", "type": "boolean", "field-id": 509},
          {"name": "contains_nan", "type": ["null", "boolean"], "default": null, "field-id": 518},
          {"name": "lower_bound", "type": ["null", "bytes"], "default": null, "field-id": 510},
          {"name": "upper_bound", "type": ["null", "bytes"], "default": null, "field-id": 511}
        ]
      }
    }], "default": null, "field-id": 507},
    {"name": "key_metadata", "type": ["null", "bytes"], "default": null, "field-id": 519}
  ]
}`

// entrySchemaTemplate is the canonical manifest entry schema. The
// partition record depends on the partition spec and is spliced in.
const entrySchemaTemplate = `{
  "type": "record",
  "name": "manifest_entry",
  "fields": [
    {"name": "status", "type": "int", "field-id": 0},
    {"name": "snapshot_id", "type": ["null", "long"], "default": null, "field-id": 1},
    {"name": "sequence_number", "type": ["null", "long"], "default": null, "field-id": 3},
    {"name": "file_sequence_number", "type": ["null", "long"], "default": null, "field-id": 4},
    {"name": "data_file", "type": {
      "type": "record",
      "name": "r2",
      "fields": [
        {"name": "content", "type": "int", "default": 0, "field-id": 134},
        {"name": "file_path", "type": "string", "field-id": 100},
        {"name": "file_format", "type": "string", "field-id": 101},
        {"name": "partition", "type": %s, "field-id": 102},
        {"name": "record_count", "type": "long", "field-id": 103},
        {"name": "file_size_in_bytes", "type": "long", "field-id": 104},
        %s,
        %s,
        %s,
        %s,
        %s,
        %s,
        {"name": "key_metadata", "type": ["null", "bytes"], "default": null, "field-id": 131},
        {"name": "split_offsets", "type": ["null", {"type": "array", "items": "long", "element-id": 133}], "default": null, "field-id": 132},
        {"name": "equality_ids", "type": ["null", {"type": "array", "items": "int", "element-id": 136}], "default": null, "field-id": 135},
        {"name": "sort_order_id", "type": ["null", "int"], "default": null, "field-id": 140}
      ]
    }, "field-id": 2}
  ]
}`

// intMapField renders an int-keyed map column. Avro maps only allow string
// keys, so these are arrays of key/value records tagged logicalType map.
func intMapField(name string, id, keyID, valueID int, valueType string) string {
	return fmt.Sprintf(`{"name": %q, "type": ["null", {"type": "array", "logicalType": "map", "items": {`+
		`"type": "record", "name": "k%d_v%d", "fields": [`+
		`{"name": "key", "type": "int", "field-id": %d}, `+
		`{"name": "value", "type": %q, "field-id": %d}]}}], "default": null, "field-id": %d}`,
		name, keyID, valueID, keyID, valueType, valueID, id)
}

// EntrySchema renders the canonical manifest entry schema for a partition
// type.
func EntrySchema(pt *PartitionType) string {
	return fmt.Sprintf(entrySchemaTemplate,
		pt.avroSchema(),
		intMapField("column_sizes", 108, 117, 118, "long"),
		intMapField("value_counts", 109, 119, 120, "long"),
		intMapField("null_value_counts", 110, 121, 122, "long"),
		intMapField("nan_value_counts", 137, 138, 139, "long"),
		intMapField("lower_bounds", 125, 126, 127, "bytes"),
		intMapField("upper_bounds", 128, 129, 130, "bytes"),
	)
}

// PartitionColumn is one field of a manifest's partition record.
type PartitionColumn struct {
	Name     string // partition field name
	AvroName string // Name made valid for Avro
	FieldID  int
	Type     spec.Type // transform output type
}

// PartitionType is the record that stores each data file's partition
// tuple. Values use plain Avro primitives, never logical types.
type PartitionType struct {
	Columns []PartitionColumn
}

// NewPartitionType derives the partition record of a spec.
func NewPartitionType(ps spec.PartitionSpec, schema *spec.Schema) (*PartitionType, error) {
	pt := &PartitionType{Columns: make([]PartitionColumn, 0, len(ps.Fields))}
	used := make(map[string]bool, len(ps.Fields))
	for _, f := range ps.Fields {
		out, err := transform.FieldOutputType(f, schema)
		if err != nil {
			return nil, err
		}
		name := SanitizeName(f.Name)
		if used[name] {
			name = fmt.Sprintf("%s_%d", name, f.FieldID)
		}
		used[name] = true
		pt.Columns = append(pt.Columns, PartitionColumn{
			Name:     f.Name,
			AvroName: name,
			FieldID:  f.FieldID,
			Type:     out,
		})
	}
	return pt, nil
}

// Column returns the column with the given partition field id.
func (pt *PartitionType) Column(fieldID int) (PartitionColumn, bool) {
	for _, c := range pt.Columns {
		if c.FieldID == fieldID {
			return c, true
		}
	}
	return PartitionColumn{}, false
}

func avroPrimitive(t spec.Type) string {
	switch t.TypeID() {
	case spec.TypeBoolean:
		return "boolean"
	case spec.TypeInt, spec.TypeDate:
		return "int"
	case spec.TypeLong, spec.TypeTime, spec.TypeTimestamp, spec.TypeTimestampTz:
		return "long"
	case spec.TypeFloat:
		return "float"
	case spec.TypeDouble:
		return "double"
	case spec.TypeString, spec.TypeUUID:
		return "string"
	}
	return "bytes"
}

func (pt *PartitionType) avroSchema() string {
	fields := make([]map[string]any, len(pt.Columns))
	for i, c := range pt.Columns {
		fields[i] = map[string]any{
			"name":     c.AvroName,
			"type":     []string{"null", avroPrimitive(c.Type)},
			"default":  nil,
			"field-id": c.FieldID,
		}
	}
	data, _ := json.Marshal(map[string]any{
		"type":   "record",
		"name":   "r102",
		"fields": fields,
	})
	return string(data)
}

// SanitizeName makes a partition field name a valid Avro name. Invalid
// characters become _x followed by their hex code; a leading digit is
// prefixed with an underscore.
func SanitizeName(name string) string {
	if name == "" {
		return "_empty"
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "_x%X", r)
		}
	}
	return b.String()
}
