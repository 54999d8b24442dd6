package manifest

import (
	"math"
	"sort"

	"github.com/go-faster/errors"
	"github.com/linkedin/goavro/v2"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/internal/avroschema"
	"github.com/go-iceberg/icemeta/spec"
)

// Conversions between spec structs and goavro native values in the
// canonical schemas. Decoders only ever see records already translated
// into the canonical shape.

func listToNative(mf spec.ManifestFile) map[string]any {
	rec := map[string]any{
		"manifest_path":        mf.ManifestPath,
		"manifest_length":      mf.ManifestLength,
		"partition_spec_id":    int32(mf.PartitionSpecID),
		"content":              int32(mf.Content),
		"sequence_number":      mf.SequenceNumber,
		"min_sequence_number":  mf.MinSequenceNumber,
		"added_snapshot_id":    mf.AddedSnapshotID,
		"added_files_count":    mf.AddedFilesCount,
		"existing_files_count": mf.ExistingFilesCount,
		"deleted_files_count":  mf.DeletedFilesCount,
		"added_rows_count":     mf.AddedRowsCount,
		"existing_rows_count":  mf.ExistingRowsCount,
		"deleted_rows_count":   mf.DeletedRowsCount,
		"partitions":           nil,
		"key_metadata":         optionalBytes(mf.KeyMetadata),
	}

	if mf.Partitions != nil {
		partitions := make([]any, len(mf.Partitions))
		for i, p := range mf.Partitions {
			ps := map[string]any{
				"contains_null": p.ContainsNull,
				"contains_nan":  nil,
				"lower_bound":   optionalBytes(p.LowerBound),
				"upper_bound":   optionalBytes(p.UpperBound),
			}
			if p.ContainsNaN != nil {
				ps["contains_nan"] = goavro.Union("boolean", *p.ContainsNaN)
			}
			partitions[i] = ps
		}
		rec["partitions"] = goavro.Union("array", partitions)
	}
	return rec
}

func listFromNative(v any) (spec.ManifestFile, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return spec.ManifestFile{}, errors.Errorf("manifest list record is %T", v)
	}
	mf := spec.ManifestFile{
		ManifestPath:       getString(m, "manifest_path"),
		ManifestLength:     getInt64(m, "manifest_length"),
		PartitionSpecID:    int(getInt64(m, "partition_spec_id")),
		Content:            spec.ManifestContent(getInt64(m, "content")),
		SequenceNumber:     getInt64(m, "sequence_number"),
		MinSequenceNumber:  getInt64(m, "min_sequence_number"),
		AddedSnapshotID:    getInt64(m, "added_snapshot_id"),
		AddedFilesCount:    int32(getInt64(m, "added_files_count")),
		ExistingFilesCount: int32(getInt64(m, "existing_files_count")),
		DeletedFilesCount:  int32(getInt64(m, "deleted_files_count")),
		AddedRowsCount:     getInt64(m, "added_rows_count"),
		ExistingRowsCount:  getInt64(m, "existing_rows_count"),
		DeletedRowsCount:   getInt64(m, "deleted_rows_count"),
		KeyMetadata:        getOptionalBytes(m, "key_metadata"),
	}

	if partitions, ok := unwrap(m["partitions"]).([]any); ok {
		mf.Partitions = make([]spec.FieldSummary, len(partitions))
		for i, p := range partitions {
			pm, ok := p.(map[string]any)
			if !ok {
				return spec.ManifestFile{}, errors.Errorf("partition summary %d is %T", i, p)
			}
			mf.Partitions[i] = spec.FieldSummary{
				ContainsNull: getBool(pm, "contains_null"),
				ContainsNaN:  getOptionalBool(pm, "contains_nan"),
				LowerBound:   getOptionalBytes(pm, "lower_bound"),
				UpperBound:   getOptionalBytes(pm, "upper_bound"),
			}
		}
	}
	return mf, nil
}

func entryToNative(e spec.ManifestEntry, pt *PartitionType) (map[string]any, error) {
	df := e.DataFile
	partition, err := partitionToNative(df.Partition, pt)
	if err != nil {
		return nil, err
	}

	dataFile := map[string]any{
		"content":            int32(df.Content),
		"file_path":          df.FilePath,
		"file_format":        string(df.FileFormat),
		"partition":          partition,
		"record_count":       df.RecordCount,
		"file_size_in_bytes": df.FileSizeInBytes,
		"column_sizes":       optionalCountMap(df.ColumnSizes),
		"value_counts":       optionalCountMap(df.ValueCounts),
		"null_value_counts":  optionalCountMap(df.NullValueCounts),
		"nan_value_counts":   optionalCountMap(df.NaNValueCounts),
		"lower_bounds":       optionalBoundMap(df.LowerBounds),
		"upper_bounds":       optionalBoundMap(df.UpperBounds),
		"key_metadata":       optionalBytes(df.KeyMetadata),
		"split_offsets":      nil,
		"equality_ids":       nil,
		"sort_order_id":      nil,
	}
	if len(df.SplitOffsets) > 0 {
		offsets := make([]any, len(df.SplitOffsets))
		for i, o := range df.SplitOffsets {
			offsets[i] = o
		}
		dataFile["split_offsets"] = goavro.Union("array", offsets)
	}
	if len(df.EqualityIDs) > 0 {
		ids := make([]any, len(df.EqualityIDs))
		for i, id := range df.EqualityIDs {
			ids[i] = int32(id)
		}
		dataFile["equality_ids"] = goavro.Union("array", ids)
	}
	if df.SortOrderID != nil {
		dataFile["sort_order_id"] = goavro.Union("int", int32(*df.SortOrderID))
	}

	return map[string]any{
		"status":               int32(e.Status),
		"snapshot_id":          optionalLong(e.SnapshotID),
		"sequence_number":      optionalLong(e.SequenceNumber),
		"file_sequence_number": optionalLong(e.FileSequenceNumber),
		"data_file":            dataFile,
	}, nil
}

func entryFromNative(v any, pt *PartitionType) (spec.ManifestEntry, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return spec.ManifestEntry{}, errors.Errorf("manifest entry is %T", v)
	}
	entry := spec.ManifestEntry{
		Status:             spec.EntryStatus(getInt64(m, "status")),
		SnapshotID:         getOptionalInt64(m, "snapshot_id"),
		SequenceNumber:     getOptionalInt64(m, "sequence_number"),
		FileSequenceNumber: getOptionalInt64(m, "file_sequence_number"),
	}

	df, ok := m["data_file"].(map[string]any)
	if !ok {
		return spec.ManifestEntry{}, errors.Errorf("data_file is %T", m["data_file"])
	}
	entry.DataFile = spec.DataFile{
		Content:         spec.FileContent(getInt64(df, "content")),
		FilePath:        getString(df, "file_path"),
		FileFormat:      spec.FileFormat(getString(df, "file_format")),
		RecordCount:     getInt64(df, "record_count"),
		FileSizeInBytes: getInt64(df, "file_size_in_bytes"),
		ColumnSizes:     getCountMap(df, "column_sizes"),
		ValueCounts:     getCountMap(df, "value_counts"),
		NullValueCounts: getCountMap(df, "null_value_counts"),
		NaNValueCounts:  getCountMap(df, "nan_value_counts"),
		LowerBounds:     getBoundMap(df, "lower_bounds"),
		UpperBounds:     getBoundMap(df, "upper_bounds"),
		KeyMetadata:     getOptionalBytes(df, "key_metadata"),
		SplitOffsets:    getInt64Array(df, "split_offsets"),
		EqualityIDs:     getIntArray(df, "equality_ids"),
	}
	if id := getOptionalInt64(df, "sort_order_id"); id != nil {
		n := int(*id)
		entry.DataFile.SortOrderID = &n
	}
	if partition, ok := df["partition"].(map[string]any); ok {
		entry.DataFile.Partition = partitionFromNative(partition, pt)
	}
	return entry, nil
}

// partitionToNative converts transform results keyed by partition field
// name into the r102 record. Missing names are written as null.
func partitionToNative(values map[string]any, pt *PartitionType) (map[string]any, error) {
	rec := make(map[string]any, len(pt.Columns))
	for _, c := range pt.Columns {
		v, err := partitionValue(values[c.Name], c.Type)
		if err != nil {
			return nil, errkind.InvalidInput("encode partition", "field %s: %v", c.Name, err)
		}
		if v == nil {
			rec[c.AvroName] = nil
			continue
		}
		rec[c.AvroName] = goavro.Union(avroPrimitive(c.Type), v)
	}
	return rec, nil
}

func partitionFromNative(rec map[string]any, pt *PartitionType) map[string]any {
	out := make(map[string]any, len(pt.Columns))
	for _, c := range pt.Columns {
		out[c.Name] = unwrap(rec[c.AvroName])
	}
	return out
}

// partitionValue normalises a transform result to the Go type goavro
// expects for the column's Avro primitive.
func partitionValue(v any, t spec.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch avroPrimitive(t) {
	case "int":
		n, ok := toInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, errors.Errorf("%v (%T) is not an int", v, v)
		}
		return int32(n), nil
	case "long":
		n, ok := toInt64(v)
		if !ok {
			return nil, errors.Errorf("%v (%T) is not a long", v, v)
		}
		return n, nil
	case "float":
		switch f := v.(type) {
		case float32:
			return f, nil
		case float64:
			return float32(f), nil
		}
	case "double":
		switch f := v.(type) {
		case float32:
			return float64(f), nil
		case float64:
			return f, nil
		}
	case "boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
	case "bytes":
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	}
	return nil, errors.Errorf("%v (%T) does not fit %s", v, v, t)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	}
	return 0, false
}

// partitionTypeFromAvro recovers a partition type from a file's embedded
// r102 record when the caller has no partition spec at hand. Column names
// are the Avro names.
func partitionTypeFromAvro(rec *avroschema.Schema) *PartitionType {
	pt := &PartitionType{}
	for _, f := range rec.Fields {
		var t spec.Type = spec.BinaryType
		switch f.Type.NonNull().Kind {
		case avroschema.Boolean:
			t = spec.BooleanType
		case avroschema.Int:
			t = spec.IntType
		case avroschema.Long:
			t = spec.LongType
		case avroschema.Float:
			t = spec.FloatType
		case avroschema.Double:
			t = spec.DoubleType
		case avroschema.String:
			t = spec.StringType
		}
		pt.Columns = append(pt.Columns, PartitionColumn{
			Name:     f.Name,
			AvroName: f.Name,
			FieldID:  f.ID,
			Type:     t,
		})
	}
	return pt
}

func optionalBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return goavro.Union("bytes", b)
}

func optionalLong(v *int64) any {
	if v == nil {
		return nil
	}
	return goavro.Union("long", *v)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func optionalCountMap(m map[int]int64) any {
	if len(m) == 0 {
		return nil
	}
	items := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		items = append(items, map[string]any{"key": int32(k), "value": m[k]})
	}
	return goavro.Union("array", items)
}

func optionalBoundMap(m map[int][]byte) any {
	if len(m) == 0 {
		return nil
	}
	items := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		items = append(items, map[string]any{"key": int32(k), "value": m[k]})
	}
	return goavro.Union("array", items)
}

// Helper functions for reading translated records. A translated optional
// value is either nil or a single-entry map keyed by its branch name.

func unwrap(v any) any {
	if u, ok := v.(map[string]any); ok && len(u) == 1 {
		for _, inner := range u {
			return inner
		}
	}
	return v
}

func getString(m map[string]any, key string) string {
	if v, ok := unwrap(m[key]).(string); ok {
		return v
	}
	return ""
}

func getInt64(m map[string]any, key string) int64 {
	n, _ := toInt64(unwrap(m[key]))
	return n
}

func getBool(m map[string]any, key string) bool {
	if v, ok := unwrap(m[key]).(bool); ok {
		return v
	}
	return false
}

func getOptionalBool(m map[string]any, key string) *bool {
	if b, ok := unwrap(m[key]).(bool); ok {
		return &b
	}
	return nil
}

func getOptionalBytes(m map[string]any, key string) []byte {
	if b, ok := unwrap(m[key]).([]byte); ok {
		return b
	}
	return nil
}

func getOptionalInt64(m map[string]any, key string) *int64 {
	if n, ok := toInt64(unwrap(m[key])); ok {
		return &n
	}
	return nil
}

func keyValues(m map[string]any, key string) []map[string]any {
	arr, ok := unwrap(m[key]).([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, it := range arr {
		if kv, ok := it.(map[string]any); ok {
			out = append(out, kv)
		}
	}
	return out
}

func getCountMap(m map[string]any, key string) map[int]int64 {
	kvs := keyValues(m, key)
	if kvs == nil {
		return nil
	}
	result := make(map[int]int64, len(kvs))
	for _, kv := range kvs {
		result[int(getInt64(kv, "key"))] = getInt64(kv, "value")
	}
	return result
}

func getBoundMap(m map[string]any, key string) map[int][]byte {
	kvs := keyValues(m, key)
	if kvs == nil {
		return nil
	}
	result := make(map[int][]byte, len(kvs))
	for _, kv := range kvs {
		if b, ok := kv["value"].([]byte); ok {
			result[int(getInt64(kv, "key"))] = b
		}
	}
	return result
}

func getInt64Array(m map[string]any, key string) []int64 {
	arr, ok := unwrap(m[key]).([]any)
	if !ok {
		return nil
	}
	result := make([]int64, len(arr))
	for i, v := range arr {
		result[i], _ = toInt64(v)
	}
	return result
}

func getIntArray(m map[string]any, key string) []int {
	arr, ok := unwrap(m[key]).([]any)
	if !ok {
		return nil
	}
	result := make([]int, len(arr))
	for i, v := range arr {
		n, _ := toInt64(v)
		result[i] = int(n)
	}
	return result
}
