package table

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/go-iceberg/icemeta/catalog"
	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
)

const testLocation = "mem://warehouse/db/events"

var events = catalog.Identifier{Namespace: catalog.Namespace{"db"}, Name: "events"}

func eventsSchema() *spec.Schema {
	return spec.NewSchema(0,
		spec.NestedField{ID: 1, Name: "id", Required: true, Type: spec.LongType},
		spec.NestedField{ID: 2, Name: "event_date", Type: spec.DateType},
		spec.NestedField{ID: 3, Name: "score", Type: spec.DoubleType},
	)
}

func daySpec(id int) spec.PartitionSpec {
	return spec.NewPartitionSpecBuilder(id).Add(2, "event_day", spec.TransformDay).Build()
}

type fixture struct {
	cat *catalog.MemoryCatalog
	st  storage.Storage
}

func newFixture(t *testing.T, ps spec.PartitionSpec) *fixture {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	f := &fixture{
		cat: catalog.NewMemoryCatalog(zerolog.Nop()),
		st:  storage.NewBlobStorage(bucket, "mem://warehouse"),
	}
	_, err := f.cat.CreateTable(context.Background(), events, eventsSchema(), ps, testLocation)
	require.NoError(t, err)
	return f
}

func (f *fixture) table(t *testing.T, cat catalog.Catalog, opts ...Option) *Table {
	t.Helper()
	if cat == nil {
		cat = f.cat
	}
	tbl, err := New(events, cat, StaticResolver(f.st), opts...)
	require.NoError(t, err)
	return tbl
}

func dataFile(path string, day int, rows int64) manifest.DataFileInput {
	return manifest.DataFileInput{
		Path:        testLocation + "/data/" + path,
		RecordCount: rows,
		FileSize:    rows * 100,
		Partition:   map[string]any{"event_day": day},
	}
}

func appendFiles(t *testing.T, tbl *Table, files ...manifest.DataFileInput) *SubmitResult {
	t.Helper()
	res, err := tbl.AddDataFiles(context.Background(), []FileList{{Files: files}}, AddOptions{})
	require.NoError(t, err)
	return res
}

func currentList(t *testing.T, f *fixture) []spec.ManifestFile {
	t.Helper()
	meta, err := f.cat.LoadTable(context.Background(), events)
	require.NoError(t, err)
	snap, ok := meta.CurrentSnapshot()
	require.True(t, ok)
	entries, err := manifest.ReadManifestList(context.Background(), f.st, snap.ManifestList)
	require.NoError(t, err)
	return entries
}

func TestNewRejectsBadIdentifier(t *testing.T) {
	_, err := New(catalog.Identifier{Name: "events"}, catalog.NewMemoryCatalog(zerolog.Nop()), nil)
	assert.ErrorIs(t, err, errkind.ErrBadIdentity)
}

func TestNewSnapshotID(t *testing.T) {
	seen := make(map[int64]struct{})
	for range 100 {
		id := NewSnapshotID()
		assert.Positive(t, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

func TestRetentionPolicy(t *testing.T) {
	current := int64(3)
	meta := &spec.TableMetadata{
		CurrentSnapshotID: &current,
		Snapshots: []spec.Snapshot{
			{SnapshotID: 2, SequenceNumber: 2, TimestampMs: 200},
			{SnapshotID: 1, SequenceNumber: 1, TimestampMs: 100},
			{SnapshotID: 3, SequenceNumber: 3, TimestampMs: 300},
		},
	}

	assert.Nil(t, RetentionPolicy{}.Expired(meta))
	assert.Nil(t, RetentionPolicy{MaxSnapshots: 4}.Expired(meta))
	assert.Equal(t, []int64{1}, RetentionPolicy{MaxSnapshots: 3}.Expired(meta))
	assert.Equal(t, []int64{1, 2}, RetentionPolicy{MaxSnapshots: 2}.Expired(meta))
	// The current snapshot survives even when the policy asks for more.
	assert.Equal(t, []int64{1, 2}, RetentionPolicy{MaxSnapshots: 1}.Expired(meta))
}

func TestAddDataFiles(t *testing.T) {
	f := newFixture(t, daySpec(0))
	tbl := f.table(t, nil)

	first := appendFiles(t, tbl, dataFile("a.parquet", 19900, 10), dataFile("b.parquet", 19901, 5))
	assert.Equal(t, 0, first.RetriesUsed)
	assert.Zero(t, first.ParentSnapshotID)
	assert.Equal(t, int64(1), first.SequenceNumber)

	second := appendFiles(t, tbl, dataFile("c.parquet", 19902, 7))
	assert.Equal(t, first.SnapshotID, second.ParentSnapshotID)
	assert.Equal(t, int64(2), second.SequenceNumber)

	entries := currentList(t, f)
	require.Len(t, entries, 2)
	assert.Equal(t, second.SnapshotID, entries[0].AddedSnapshotID)
	assert.Equal(t, first.SnapshotID, entries[1].AddedSnapshotID)
	assert.Equal(t, manifest.Totals{DataFiles: 3, Records: 22}, manifest.Sum(entries))

	snap, ok := second.Metadata.CurrentSnapshot()
	require.True(t, ok)
	assert.Equal(t, spec.OpAppend, snap.Summary.Operation())
	assert.Equal(t, int64(1), snap.Summary.Int64(spec.SummaryAddedDataFiles))
	assert.Equal(t, int64(7), snap.Summary.Int64(spec.SummaryAddedRecords))
	assert.Equal(t, int64(3), snap.Summary.Int64(spec.SummaryTotalDataFiles))
	assert.Equal(t, int64(22), snap.Summary.Int64(spec.SummaryTotalRecords))
	assert.Equal(t, int64(2200), snap.Summary.Int64(spec.SummaryTotalFilesSize))
	require.NotNil(t, snap.SchemaID)
	assert.Equal(t, 0, *snap.SchemaID)
}

func TestAddDataFilesOneManifestPerList(t *testing.T) {
	f := newFixture(t, daySpec(0))
	require.NoError(t, f.cat.AddPartitionSpec(events, spec.NewPartitionSpecBuilder(1).Build()))
	tbl := f.table(t, nil, WithConcurrency(2))

	unpartitioned := 1
	res, err := tbl.AddDataFiles(context.Background(), []FileList{
		{Files: []manifest.DataFileInput{dataFile("a.parquet", 19900, 1)}},
		{SpecID: &unpartitioned, Files: []manifest.DataFileInput{{Path: testLocation + "/data/u.parquet", RecordCount: 2}}},
	}, AddOptions{SnapshotID: 77})
	require.NoError(t, err)
	assert.Equal(t, int64(77), res.SnapshotID)

	entries := currentList(t, f)
	require.Len(t, entries, 2)
	specs := []int{entries[0].PartitionSpecID, entries[1].PartitionSpecID}
	assert.ElementsMatch(t, []int{0, 1}, specs)
}

func TestAddDataFilesErrors(t *testing.T) {
	f := newFixture(t, daySpec(0))
	tbl := f.table(t, nil)
	ctx := context.Background()

	_, err := tbl.AddDataFiles(ctx, nil, AddOptions{})
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)

	_, err = tbl.AddDataFiles(ctx, []FileList{{}}, AddOptions{})
	assert.ErrorIs(t, err, errkind.ErrInvalidInput)

	missing := 9
	_, err = tbl.AddDataFiles(ctx, []FileList{{SpecID: &missing, Files: []manifest.DataFileInput{dataFile("a.parquet", 1, 1)}}}, AddOptions{})
	assert.ErrorIs(t, err, errkind.ErrNotFound)

	_, err = tbl.AddDataFiles(ctx, []FileList{{SchemaID: &missing, Files: []manifest.DataFileInput{dataFile("a.parquet", 1, 1)}}}, AddOptions{})
	assert.ErrorIs(t, err, errkind.ErrNotFound)

	other := catalog.Identifier{Namespace: catalog.Namespace{"db"}, Name: "nope"}
	ghost, err := New(other, f.cat, StaticResolver(f.st))
	require.NoError(t, err)
	_, err = ghost.AddDataFiles(ctx, []FileList{{Files: []manifest.DataFileInput{dataFile("a.parquet", 1, 1)}}}, AddOptions{})
	assert.ErrorIs(t, err, errkind.ErrNotFound)
}

func TestAddDataFilesAppliesRetention(t *testing.T) {
	f := newFixture(t, daySpec(0))
	tbl := f.table(t, nil)
	ctx := context.Background()

	for i := range 3 {
		_, err := tbl.AddDataFiles(ctx, []FileList{{Files: []manifest.DataFileInput{dataFile("f.parquet", 19900+i, 1)}}},
			AddOptions{Retention: RetentionPolicy{MaxSnapshots: 2}})
		require.NoError(t, err)
	}

	meta, err := tbl.Metadata(ctx)
	require.NoError(t, err)
	assert.Len(t, meta.Snapshots, 2)
	assert.Equal(t, int64(3), meta.LastSequenceNumber)
}
