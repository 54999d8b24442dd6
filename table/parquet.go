package table

import (
	"bytes"
	"context"
	"slices"

	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
	"github.com/go-iceberg/icemeta/transform"
)

// DataFileFromParquet reads the footer of the parquet file at location and
// describes it as a data file with column statistics keyed by column path.
// Bounds are collected for int32, int64, float, double and byte array
// columns; a column whose statistics are missing in any row group gets no
// null count and no bounds. Partition values are left to the caller.
func DataFileFromParquet(ctx context.Context, st storage.Storage, location string) (manifest.DataFileInput, error) {
	const op = "read parquet footer"

	data, err := storage.ReadAll(ctx, st, location)
	if err != nil {
		return manifest.DataFileInput{}, err
	}
	rdr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return manifest.DataFileInput{}, errkind.Stream(op, err)
	}
	defer rdr.Close()
	meta := rdr.MetaData()

	df := manifest.DataFileInput{
		Path:            location,
		Format:          spec.FileFormatParquet,
		RecordCount:     meta.GetNumRows(),
		FileSize:        int64(len(data)),
		ColumnSizes:     make(map[string]int64),
		ValueCounts:     make(map[string]int64),
		NullValueCounts: make(map[string]int64),
		LowerBounds:     make(map[string][]byte),
		UpperBounds:     make(map[string][]byte),
	}
	invalid := make(map[string]struct{})

	for rg := 0; rg < meta.NumRowGroups(); rg++ {
		rowGroup := meta.RowGroup(rg)
		for pos := 0; pos < rowGroup.NumColumns(); pos++ {
			chunk, err := rowGroup.ColumnChunk(pos)
			if err != nil {
				return manifest.DataFileInput{}, errkind.Stream(op, err)
			}
			if pos == 0 {
				offset := chunk.DataPageOffset()
				if chunk.HasDictionaryPage() && chunk.DictionaryPageOffset() < offset {
					offset = chunk.DictionaryPageOffset()
				}
				df.SplitOffsets = append(df.SplitOffsets, offset)
			}

			name := chunk.PathInSchema().String()
			df.ColumnSizes[name] += chunk.TotalCompressedSize()
			df.ValueCounts[name] += chunk.NumValues()

			set, err := chunk.StatsSet()
			if err != nil {
				return manifest.DataFileInput{}, errkind.Stream(op, err)
			}
			if !set {
				invalid[name] = struct{}{}
				continue
			}
			stats, err := chunk.Statistics()
			if err != nil || stats == nil {
				invalid[name] = struct{}{}
				continue
			}
			if stats.HasNullCount() {
				df.NullValueCounts[name] += stats.NullCount()
			}
			if !stats.HasMinMax() {
				continue
			}
			lower, upper, typ, ok := encodeStats(stats)
			if !ok {
				continue
			}
			for _, b := range [][]byte{lower, upper} {
				if df.LowerBounds[name], df.UpperBounds[name], err = transform.MinMax(df.LowerBounds[name], df.UpperBounds[name], b, typ); err != nil {
					return manifest.DataFileInput{}, err
				}
			}
		}
	}

	for name := range invalid {
		delete(df.NullValueCounts, name)
		delete(df.LowerBounds, name)
		delete(df.UpperBounds, name)
	}
	slices.Sort(df.SplitOffsets)
	return df, nil
}

// encodeStats converts the min and max of a row group column into the
// single-value encoding of the matching primitive type.
func encodeStats(stats metadata.TypedStatistics) ([]byte, []byte, spec.Type, bool) {
	var (
		lo, hi any
		typ    spec.Type
	)
	switch s := stats.(type) {
	case *metadata.Int32Statistics:
		lo, hi, typ = s.Min(), s.Max(), spec.IntType
	case *metadata.Int64Statistics:
		lo, hi, typ = s.Min(), s.Max(), spec.LongType
	case *metadata.Float32Statistics:
		lo, hi, typ = s.Min(), s.Max(), spec.FloatType
	case *metadata.Float64Statistics:
		lo, hi, typ = s.Min(), s.Max(), spec.DoubleType
	case *metadata.ByteArrayStatistics:
		lo, hi, typ = slices.Clone([]byte(s.Min())), slices.Clone([]byte(s.Max())), spec.BinaryType
	default:
		return nil, nil, nil, false
	}
	lower, err := transform.EncodeValue(lo, spec.TransformIdentity, typ)
	if err != nil {
		return nil, nil, nil, false
	}
	upper, err := transform.EncodeValue(hi, spec.TransformIdentity, typ)
	if err != nil {
		return nil, nil, nil, false
	}
	return lower, upper, typ, true
}
