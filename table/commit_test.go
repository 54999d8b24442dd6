package table

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-iceberg/icemeta/catalog"
	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/spec"
)

// racingCatalog lets another writer commit right before the first commit
// it forwards.
type racingCatalog struct {
	catalog.Catalog
	once    sync.Once
	race    func()
	commits int
}

func (c *racingCatalog) CommitTable(ctx context.Context, ident catalog.Identifier, reqs []catalog.TableRequirement, updates []catalog.TableUpdate) (*spec.TableMetadata, error) {
	c.once.Do(c.race)
	c.commits++
	return c.Catalog.CommitTable(ctx, ident, reqs, updates)
}

func TestConcurrentAppendsAreReconciled(t *testing.T) {
	f := newFixture(t, daySpec(0))
	winner := f.table(t, nil)
	seed := appendFiles(t, winner, dataFile("seed.parquet", 19900, 1))

	var raced *SubmitResult
	racing := &racingCatalog{Catalog: f.cat}
	racing.race = func() {
		raced = appendFiles(t, winner, dataFile("winner.parquet", 19901, 2))
	}
	loser := f.table(t, racing)

	res := appendFiles(t, loser, dataFile("loser.parquet", 19902, 4))
	require.NotNil(t, raced)
	assert.Equal(t, 1, res.RetriesUsed)
	assert.Equal(t, 2, racing.commits)
	assert.Equal(t, raced.SnapshotID, res.ParentSnapshotID)
	assert.Equal(t, int64(2), raced.SequenceNumber)
	assert.Equal(t, int64(3), res.SequenceNumber)

	entries := currentList(t, f)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{res.SnapshotID, raced.SnapshotID, seed.SnapshotID},
		[]int64{entries[0].AddedSnapshotID, entries[1].AddedSnapshotID, entries[2].AddedSnapshotID})
	// The loser's manifest was rebuilt at the reconciled sequence number.
	assert.Equal(t, int64(3), entries[0].SequenceNumber)

	rdr, closer, err := manifest.OpenManifest(context.Background(), f.st, entries[0].ManifestPath, nil)
	require.NoError(t, err)
	defer closer.Close()
	rebuilt, err := rdr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rebuilt, 1)
	require.NotNil(t, rebuilt[0].SequenceNumber)
	assert.Equal(t, int64(3), *rebuilt[0].SequenceNumber)

	snap, ok := res.Metadata.CurrentSnapshot()
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.Summary.Int64(spec.SummaryTotalDataFiles))
	assert.Equal(t, int64(7), snap.Summary.Int64(spec.SummaryTotalRecords))
}

func TestConflictWithReplaceIsPermanent(t *testing.T) {
	f := newFixture(t, daySpec(0))
	other := f.table(t, nil)
	appendFiles(t, other, dataFile("seed.parquet", 19900, 1))

	racing := &racingCatalog{Catalog: f.cat}
	racing.race = func() {
		_, err := other.ManifestCompact(context.Background(), CompactOptions{Force: true})
		require.NoError(t, err)
	}
	loser := f.table(t, racing)

	_, err := loser.AddDataFiles(context.Background(),
		[]FileList{{Files: []manifest.DataFileInput{dataFile("loser.parquet", 19901, 1)}}}, AddOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrConflict)
	assert.False(t, errkind.IsCommitConflict(err))
	assert.Equal(t, 1, racing.commits)
}

// conflictingCatalog rejects every commit and reports a concurrent append
// at the pending sequence number on every reload.
type conflictingCatalog struct {
	catalog.Catalog
	seq   int64
	loads int
}

func (c *conflictingCatalog) CommitTable(context.Context, catalog.Identifier, []catalog.TableRequirement, []catalog.TableUpdate) (*spec.TableMetadata, error) {
	return nil, &errkind.CommitConflictError{Table: events.String()}
}

func (c *conflictingCatalog) LoadTable(context.Context, catalog.Identifier) (*spec.TableMetadata, error) {
	c.loads++
	id := int64(100 + c.loads)
	meta := &spec.TableMetadata{
		FormatVersion:      spec.FormatVersionV2,
		Location:           testLocation,
		LastSequenceNumber: c.seq,
		CurrentSnapshotID:  &id,
		Snapshots: []spec.Snapshot{{
			SnapshotID:     id,
			SequenceNumber: c.seq,
			Summary:        spec.NewSummary(spec.OpAppend),
		}},
	}
	c.seq++
	return meta, nil
}

func TestSubmitSnapshotGivesUp(t *testing.T) {
	cat := &conflictingCatalog{seq: 5}
	var attempts []int
	_, err := NewCommitter(cat, zerolog.Nop()).SubmitSnapshot(context.Background(), SubmitParams{
		Identifier:         events,
		SnapshotID:         1,
		ExpectedSnapshotID: 9,
		SequenceNumber:     5,
		Summary:            spec.NewSummary(spec.OpAppend),
		RemoveSnapshotIDs:  []int64{3},
		MaxRetries:         2,
		Reconcile: func(_ context.Context, req ReconcileRequest) (string, spec.Summary, error) {
			attempts = append(attempts, req.Attempt)
			assert.Equal(t, req.Winner.SequenceNumber+1, req.SequenceNumber)
			return "list", spec.NewSummary(spec.OpAppend), nil
		},
	})
	require.Error(t, err)
	assert.True(t, errkind.IsCommitConflict(err))
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, 2, cat.loads)
}

func TestSubmitSnapshotWithoutReconcile(t *testing.T) {
	cat := &conflictingCatalog{seq: 5}
	_, err := NewCommitter(cat, zerolog.Nop()).SubmitSnapshot(context.Background(), SubmitParams{
		Identifier:         events,
		SnapshotID:         1,
		ExpectedSnapshotID: 9,
		SequenceNumber:     5,
		Summary:            spec.NewSummary(spec.OpAppend),
	})
	assert.ErrorIs(t, err, errkind.ErrConflict)
	assert.False(t, errkind.IsCommitConflict(err))
}

func TestSubmitSnapshotPassesOtherErrors(t *testing.T) {
	cat := catalog.NewMemoryCatalog(zerolog.Nop())
	_, err := NewCommitter(cat, zerolog.Nop()).SubmitSnapshot(context.Background(), SubmitParams{
		Identifier:     events,
		SnapshotID:     1,
		SequenceNumber: 1,
		Summary:        spec.NewSummary(spec.OpAppend),
	})
	assert.ErrorIs(t, err, errkind.ErrNotFound)
}

func TestSubmitSnapshotRejectsReplacedTable(t *testing.T) {
	f := newFixture(t, daySpec(0))
	tbl := f.table(t, nil)
	res := appendFiles(t, tbl, dataFile("a.parquet", 19900, 1))
	require.NotEmpty(t, res.Metadata.TableUUID)

	// Same sequence as the current append, so only the uuid stops a reconcile.
	_, err := tbl.committer().SubmitSnapshot(context.Background(), SubmitParams{
		Identifier:         events,
		SnapshotID:         2,
		ExpectedSnapshotID: 1,
		TableUUID:          "a-dropped-table",
		SequenceNumber:     res.SequenceNumber,
		Summary:            spec.NewSummary(spec.OpAppend),
		Reconcile: func(context.Context, ReconcileRequest) (string, spec.Summary, error) {
			t.Fatal("reconciled against a different table")
			return "", spec.Summary{}, nil
		},
	})
	assert.ErrorIs(t, err, errkind.ErrConflict)
	assert.False(t, errkind.IsCommitConflict(err))

	meta, err := f.cat.LoadTable(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, res.SnapshotID, meta.CurrentSnapshotIDOrZero())
}
