package manifest

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
	"github.com/go-iceberg/icemeta/transform"
)

// ManifestKey returns a fresh manifest location under the table's
// metadata prefix.
func ManifestKey(location string) string {
	return spec.MetadataPrefix(location) + "/" + uuid.NewString() + "-m0.avro"
}

// ListKey returns a fresh manifest list location for a snapshot. attempt
// distinguishes the lists written by successive commit retries.
func ListKey(location string, snapshotID int64, attempt int) string {
	return fmt.Sprintf("%s/snap-%d-%d-%s.avro",
		spec.MetadataPrefix(location), snapshotID, attempt, uuid.NewString())
}

// DataFileInput describes a data file to add. Partition holds the raw
// source values keyed by partition field name; bucket fields expect the
// already hashed value (see transform.BucketHash). Statistics are keyed by
// column name and projected onto schema field ids.
type DataFileInput struct {
	Path        string
	Format      spec.FileFormat
	RecordCount int64
	FileSize    int64
	Partition   map[string]any

	ColumnSizes     map[string]int64
	ValueCounts     map[string]int64
	NullValueCounts map[string]int64
	NaNValueCounts  map[string]int64
	LowerBounds     map[string][]byte
	UpperBounds     map[string][]byte

	KeyMetadata  []byte
	SplitOffsets []int64
	SortOrderID  *int
}

// AddManifestParams are the inputs of Builder.AddManifest.
type AddManifestParams struct {
	Files          []DataFileInput
	Spec           spec.PartitionSpec
	Schema         *spec.Schema
	SnapshotID     int64
	SequenceNumber int64
	// Location is the table location; the manifest goes under its
	// metadata prefix.
	Location string
}

// Builder writes manifest files for new data files.
type Builder struct {
	storage storage.Storage
	opts    options
}

// NewBuilder returns a Builder writing through st.
func NewBuilder(st storage.Storage, opts ...Option) *Builder {
	return &Builder{storage: st, opts: buildOptions(opts)}
}

// AddManifest writes one manifest holding an ADDED entry per file and
// returns the manifest list entry describing it.
func (b *Builder) AddManifest(ctx context.Context, p AddManifestParams) (spec.ManifestFile, error) {
	const op = "add manifest"
	if len(p.Files) == 0 {
		return spec.ManifestFile{}, errkind.InvalidInput(op, "no data files to add")
	}
	if p.Schema == nil {
		return spec.ManifestFile{}, errkind.NotFound(op, "schema for spec %d", p.Spec.SpecID)
	}
	if p.Location == "" {
		return spec.ManifestFile{}, errkind.NotFound(op, "table location is empty")
	}

	outs := make([]spec.Type, len(p.Spec.Fields))
	for i, f := range p.Spec.Fields {
		out, err := transform.FieldOutputType(f, p.Schema)
		if err != nil {
			return spec.ManifestFile{}, err
		}
		outs[i] = out
	}

	summaries := make([]spec.FieldSummary, len(p.Spec.Fields))
	for i := range summaries {
		summaries[i] = spec.FieldSummary{ContainsNaN: new(bool)}
	}
	ids := p.Schema.FieldIDsByName()

	key := ManifestKey(p.Location)
	up, err := b.storage.Create(ctx, key)
	if err != nil {
		return spec.ManifestFile{}, err
	}
	fail := func(err error) (spec.ManifestFile, error) {
		_ = up.Abort()
		return spec.ManifestFile{}, errkind.Stream(op, err)
	}

	w, err := NewEntryWriter(up, EntryTags{Schema: p.Schema, Spec: p.Spec, Content: spec.ManifestContentData}, b.withOpts()...)
	if err != nil {
		return fail(err)
	}

	var rows int64
	for _, f := range p.Files {
		bounds, err := transform.MakeBounds(f.Partition, p.Spec, p.Schema)
		if err != nil {
			return fail(err)
		}

		partition := make(map[string]any, len(bounds))
		for i, bound := range bounds {
			name := p.Spec.Fields[i].Name
			s := &summaries[i]
			switch {
			case bound.Null:
				s.ContainsNull = true
				partition[name] = nil
			case bound.NaN:
				*s.ContainsNaN = true
				partition[name] = nanOf(outs[i])
			default:
				if s.LowerBound, s.UpperBound, err = transform.MinMax(s.LowerBound, s.UpperBound, bound.Value, outs[i]); err != nil {
					return fail(err)
				}
				if partition[name], err = transform.DecodeValue(bound.Value, outs[i]); err != nil {
					return fail(err)
				}
			}
		}

		entry := spec.ManifestEntry{
			Status:             spec.EntryStatusAdded,
			SnapshotID:         &p.SnapshotID,
			SequenceNumber:     &p.SequenceNumber,
			FileSequenceNumber: &p.SequenceNumber,
			DataFile:           b.dataFile(f, partition, ids),
		}
		if err := w.Write(entry); err != nil {
			return fail(err)
		}
		rows += f.RecordCount
	}

	if err := w.Close(); err != nil {
		return fail(err)
	}
	if err := up.Close(); err != nil {
		return fail(err)
	}

	b.opts.logger.Debug().
		Str("manifest", key).
		Int("files", len(p.Files)).
		Int64("snapshot_id", p.SnapshotID).
		Int64("sequence_number", p.SequenceNumber).
		Msg("Wrote manifest")

	return spec.ManifestFile{
		ManifestPath:      key,
		ManifestLength:    w.Length(),
		PartitionSpecID:   p.Spec.SpecID,
		Content:           spec.ManifestContentData,
		SequenceNumber:    p.SequenceNumber,
		MinSequenceNumber: p.SequenceNumber,
		AddedSnapshotID:   p.SnapshotID,
		AddedFilesCount:   int32(len(p.Files)),
		AddedRowsCount:    rows,
		Partitions:        summaries,
	}, nil
}

func (b *Builder) withOpts() []Option {
	return []Option{WithCompression(b.opts.compression), WithBlockSize(b.opts.blockSize)}
}

func (b *Builder) dataFile(f DataFileInput, partition map[string]any, ids map[string]int) spec.DataFile {
	format := f.Format
	if format == "" {
		format = spec.FileFormatParquet
	}
	return spec.DataFile{
		Content:         spec.FileContentData,
		FilePath:        f.Path,
		FileFormat:      format,
		Partition:       partition,
		RecordCount:     f.RecordCount,
		FileSizeInBytes: f.FileSize,
		ColumnSizes:     b.project(f.ColumnSizes, ids),
		ValueCounts:     b.project(f.ValueCounts, ids),
		NullValueCounts: b.project(f.NullValueCounts, ids),
		NaNValueCounts:  b.project(f.NaNValueCounts, ids),
		LowerBounds:     projectBytes(f.LowerBounds, ids),
		UpperBounds:     projectBytes(f.UpperBounds, ids),
		KeyMetadata:     f.KeyMetadata,
		SplitOffsets:    f.SplitOffsets,
		SortOrderID:     f.SortOrderID,
	}
}

// project re-keys name-keyed statistics by field id. Columns missing from
// the schema are skipped; an empty result is nil so the column is omitted.
func (b *Builder) project(stats map[string]int64, ids map[string]int) map[int]int64 {
	var out map[int]int64
	for name, v := range stats {
		id, ok := ids[name]
		if !ok {
			b.opts.logger.Debug().Str("column", name).Msg("Skipping statistics for unknown column")
			continue
		}
		if out == nil {
			out = make(map[int]int64, len(stats))
		}
		out[id] = v
	}
	return out
}

func projectBytes(stats map[string][]byte, ids map[string]int) map[int][]byte {
	var out map[int][]byte
	for name, v := range stats {
		id, ok := ids[name]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[int][]byte, len(stats))
		}
		out[id] = v
	}
	return out
}

func nanOf(t spec.Type) any {
	if t.TypeID() == spec.TypeFloat {
		return float32(math.NaN())
	}
	return math.NaN()
}
