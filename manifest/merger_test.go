package manifest

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
)

func listEntry(path string, added, existing int32) spec.ManifestFile {
	return spec.ManifestFile{
		ManifestPath:       path,
		ManifestLength:     100,
		Content:            spec.ManifestContentData,
		SequenceNumber:     1,
		MinSequenceNumber:  1,
		AddedSnapshotID:    1,
		AddedFilesCount:    added,
		ExistingFilesCount: existing,
		AddedRowsCount:     int64(added) * 10,
		ExistingRowsCount:  int64(existing) * 10,
	}
}

func paths(entries []spec.ManifestFile) []string {
	out := make([]string, len(entries))
	for i, mf := range entries {
		out[i] = mf.ManifestPath
	}
	return out
}

func seedList(t *testing.T, m *Merger, key string, entries ...spec.ManifestFile) {
	t.Helper()
	_, err := m.WriteManifestList(context.Background(), key, entries, ListTags{SnapshotID: 1, SequenceNumber: 1})
	require.NoError(t, err)
}

func TestUpdateManifestList_PrependsAndDropsVacuous(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	m := NewMerger(st, WithStreamBuffer(1), WithBlockSize(2))

	oldKey := testLocation + "/metadata/snap-1.avro"
	newKey := testLocation + "/metadata/snap-2.avro"

	deletes := listEntry("m-deletes.avro", 0, 0)
	deletes.Content = spec.ManifestContentDeletes
	deletes.DeletedFilesCount = 1
	seedList(t, m, oldKey,
		listEntry("m-a.avro", 2, 0),
		listEntry("m-empty.avro", 0, 0),
		listEntry("m-b.avro", 0, 4),
		deletes,
	)

	parent := int64(1)
	res, err := m.UpdateManifestList(ctx, UpdateListParams{
		ExistingKey: oldKey,
		NewKey:      newKey,
		Prepend:     []spec.ManifestFile{listEntry("m-new.avro", 1, 0)},
		Tags:        ListTags{SnapshotID: 2, ParentSnapshotID: &parent, SequenceNumber: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, newKey, res.Location)
	assert.Equal(t, 3, res.Kept)
	assert.Equal(t, 1, res.Dropped)
	assert.Positive(t, res.Length)

	got, err := ReadManifestList(ctx, st, newKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"m-new.avro", "m-a.avro", "m-b.avro", "m-deletes.avro"}, paths(got))
	assert.Equal(t, int32(4), got[2].ExistingFilesCount)
	assert.Equal(t, spec.ManifestContentDeletes, got[3].Content)

	src, err := st.Open(ctx, newKey)
	require.NoError(t, err)
	defer src.Close()
	r, err := NewListReader(src)
	require.NoError(t, err)
	assert.Equal(t, "2", string(r.Metadata()["snapshot-id"]))
	assert.Equal(t, "1", string(r.Metadata()["parent-snapshot-id"]))
	assert.Equal(t, "2", string(r.Metadata()["sequence-number"]))
	assert.Equal(t, "2", string(r.Metadata()["format-version"]))
}

func TestUpdateManifestList_InvertedFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	m := NewMerger(st, WithDropFilter(IsLive))

	oldKey := testLocation + "/metadata/snap-1.avro"
	seedList(t, m, oldKey, listEntry("m-a.avro", 2, 0), listEntry("m-empty.avro", 0, 0))

	res, err := m.UpdateManifestList(ctx, UpdateListParams{
		ExistingKey: oldKey,
		NewKey:      testLocation + "/metadata/snap-2.avro",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Dropped)

	got, err := ReadManifestList(ctx, st, res.Location)
	require.NoError(t, err)
	assert.Equal(t, []string{"m-empty.avro"}, paths(got))
}

func TestUpdateManifestList_ManyEntries(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	m := NewMerger(st, WithStreamBuffer(4), WithBlockSize(16))

	var entries []spec.ManifestFile
	for i := 0; i < 500; i++ {
		entries = append(entries, listEntry(fmt.Sprintf("m-%03d.avro", i), int32(i%3), 0))
	}
	oldKey := testLocation + "/metadata/snap-1.avro"
	seedList(t, m, oldKey, entries...)

	res, err := m.UpdateManifestList(ctx, UpdateListParams{ExistingKey: oldKey, NewKey: testLocation + "/metadata/snap-2.avro"})
	require.NoError(t, err)
	assert.Equal(t, 333, res.Kept)
	assert.Equal(t, 167, res.Dropped)

	got, err := ReadManifestList(ctx, st, res.Location)
	require.NoError(t, err)
	require.Len(t, got, 333)
	assert.Equal(t, "m-001.avro", got[0].ManifestPath)
	assert.Equal(t, "m-499.avro", got[332].ManifestPath)
}

func TestUpdateManifestList_MissingSource(t *testing.T) {
	st := newTestStorage(t)
	_, err := NewMerger(st).UpdateManifestList(context.Background(), UpdateListParams{
		ExistingKey: testLocation + "/metadata/missing.avro",
		NewKey:      testLocation + "/metadata/snap-2.avro",
	})
	assert.ErrorIs(t, err, errkind.ErrNotFound)
}

func TestUpdateManifestList_CorruptSourceLeavesNothing(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	m := NewMerger(st)

	// A valid header followed by a truncated block.
	var buf bytes.Buffer
	w, err := NewListWriter(&buf, ListTags{SnapshotID: 1, SequenceNumber: 1}, WithCompression("null"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Write(listEntry(fmt.Sprintf("m-%d.avro", i), 1, 0)))
	}
	require.NoError(t, w.Close())
	data := buf.Bytes()[:buf.Len()-24]

	oldKey := testLocation + "/metadata/snap-1.avro"
	newKey := testLocation + "/metadata/snap-2.avro"
	require.NoError(t, storage.WriteAll(ctx, st, oldKey, data))

	_, err = m.UpdateManifestList(ctx, UpdateListParams{ExistingKey: oldKey, NewKey: newKey})
	assert.ErrorIs(t, err, errkind.ErrStreamFailure)

	ok, err := st.Exists(ctx, newKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateManifestList_NotAnAvroFile(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	oldKey := testLocation + "/metadata/snap-1.avro"
	require.NoError(t, storage.WriteAll(ctx, st, oldKey, []byte("not avro at all")))

	_, err := NewMerger(st).UpdateManifestList(ctx, UpdateListParams{ExistingKey: oldKey, NewKey: testLocation + "/metadata/snap-2.avro"})
	assert.ErrorIs(t, err, errkind.ErrStreamFailure)
}

// legacyListSchema is a list written by an older writer: a different
// record name, renamed count columns, optional counts and no sequence
// numbers.
const legacyListSchema = `{
  "type": "record",
  "name": "legacy_manifest_file",
  "fields": [
    {"name": "manifest_path", "type": "string", "field-id": 500},
    {"name": "manifest_length", "type": "long", "field-id": 501},
    {"name": "partition_spec_id", "type": "int", "field-id": 502},
    {"name": "added_snapshot_id", "type": ["null", "long"], "field-id": 503},
    {"name": "added_data_files_count", "type": ["null", "int"], "field-id": 504},
    {"name": "existing_data_files_count", "type": ["null", "int"], "field-id": 505},
    {"name": "deleted_data_files_count", "type": ["null", "int"], "field-id": 506},
    {"name": "added_rows_count", "type": ["null", "long"], "field-id": 512},
    {"name": "existing_rows_count", "type": ["null", "long"], "field-id": 513},
    {"name": "deleted_rows_count", "type": ["null", "long"], "field-id": 514},
    {"name": "partitions", "type": ["null", {
      "type": "array",
      "items": {
        "type": "record",
        "name": "field_summary",
        "fields": [
          {"name": "contains_null", "type": "boolean", "field-id": 509},
          {"name": "lower_bound", "type": ["null", "bytes"], "field-id": 510},
          {"name": "upper_bound", "type": ["null", "bytes"], "field-id": 511}
        ]
      }
    }], "field-id": 507}
  ]
}`

func TestListReader_TranslatesLegacyLists(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	var buf bytes.Buffer
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Schema: legacyListSchema})
	require.NoError(t, err)
	require.NoError(t, ocf.Append([]any{
		map[string]any{
			"manifest_path":             "legacy-a.avro",
			"manifest_length":           int64(512),
			"partition_spec_id":         int32(0),
			"added_snapshot_id":         goavro.Union("long", int64(9)),
			"added_data_files_count":    goavro.Union("int", int32(3)),
			"existing_data_files_count": goavro.Union("int", int32(1)),
			"deleted_data_files_count":  nil,
			"added_rows_count":          goavro.Union("long", int64(30)),
			"existing_rows_count":       goavro.Union("long", int64(10)),
			"deleted_rows_count":        nil,
			"partitions": goavro.Union("array", []any{
				map[string]any{
					"contains_null": true,
					"lower_bound":   goavro.Union("bytes", []byte{1, 0, 0, 0}),
					"upper_bound":   nil,
				},
			}),
		},
	}))

	key := testLocation + "/metadata/legacy.avro"
	require.NoError(t, storage.WriteAll(ctx, st, key, buf.Bytes()))

	got, err := ReadManifestList(ctx, st, key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	mf := got[0]
	assert.Equal(t, "legacy-a.avro", mf.ManifestPath)
	assert.Equal(t, spec.ManifestContentData, mf.Content)
	assert.Zero(t, mf.SequenceNumber)
	assert.Equal(t, int64(9), mf.AddedSnapshotID)
	assert.Equal(t, int32(3), mf.AddedFilesCount)
	assert.Equal(t, int32(1), mf.ExistingFilesCount)
	assert.Equal(t, int64(30), mf.AddedRowsCount)
	require.Len(t, mf.Partitions, 1)
	assert.True(t, mf.Partitions[0].ContainsNull)
	assert.Nil(t, mf.Partitions[0].ContainsNaN)
	assert.Equal(t, []byte{1, 0, 0, 0}, mf.Partitions[0].LowerBound)
	assert.Nil(t, mf.Partitions[0].UpperBound)

	// Rewriting carries the legacy entry over in canonical form.
	m := NewMerger(st)
	res, err := m.UpdateManifestList(ctx, UpdateListParams{ExistingKey: key, NewKey: testLocation + "/metadata/snap-2.avro"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	rewritten, err := ReadManifestList(ctx, st, res.Location)
	require.NoError(t, err)
	assert.Equal(t, got, rewritten)
}

func TestSum(t *testing.T) {
	deletes := listEntry("d.avro", 2, 1)
	deletes.Content = spec.ManifestContentDeletes
	removed := listEntry("r.avro", 0, 0)
	removed.DeletedFilesCount = 5
	removed.DeletedRowsCount = 50

	totals := Sum([]spec.ManifestFile{listEntry("a.avro", 2, 3), deletes, removed})
	assert.Equal(t, Totals{DataFiles: 5, DeleteFiles: 3, Records: 50}, totals)
}

// cancellingStorage cancels the caller's context after a number of upload
// writes. Its uploads ignore the context, so a truncated list would
// become visible if the merger closed them.
type cancellingStorage struct {
	storage.Storage
	cancel    context.CancelFunc
	after     int
	writes    int
	committed bool
	aborted   bool
}

func (s *cancellingStorage) Create(ctx context.Context, location string) (storage.Upload, error) {
	up, err := s.Storage.Create(ctx, location)
	if err != nil {
		return nil, err
	}
	return &cancellingUpload{Upload: up, s: s}, nil
}

type cancellingUpload struct {
	storage.Upload
	s *cancellingStorage
}

func (u *cancellingUpload) Write(p []byte) (int, error) {
	u.s.writes++
	if u.s.writes == u.s.after {
		u.s.cancel()
	}
	return len(p), nil
}

func (u *cancellingUpload) Close() error {
	u.s.committed = true
	return nil
}

func (u *cancellingUpload) Abort() error {
	u.s.aborted = true
	return u.Upload.Abort()
}

func TestUpdateManifestList_CancelledMidStream(t *testing.T) {
	st := newTestStorage(t)
	var entries []spec.ManifestFile
	for i := 0; i < 500; i++ {
		entries = append(entries, listEntry(fmt.Sprintf("m-%03d.avro", i), 1, 0))
	}
	oldKey := testLocation + "/metadata/snap-1.avro"
	seedList(t, NewMerger(st), oldKey, entries...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cs := &cancellingStorage{Storage: st, cancel: cancel, after: 3}

	m := NewMerger(cs, WithStreamBuffer(1), WithBlockSize(1), WithCompression("null"))
	_, err := m.UpdateManifestList(ctx, UpdateListParams{ExistingKey: oldKey, NewKey: testLocation + "/metadata/snap-2.avro"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, cs.aborted)
	assert.False(t, cs.committed)
}
