package table

import (
	"context"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/internal/pool"
	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/spec"
)

// FileList is a batch of data files sharing a partition spec and schema.
// Nil ids select the table defaults.
type FileList struct {
	SpecID   *int
	SchemaID *int
	Files    []manifest.DataFileInput
}

// AddOptions configure AddDataFiles.
type AddOptions struct {
	// SnapshotID is generated when zero.
	SnapshotID int64
	Retention  RetentionPolicy
	MaxRetries int
}

type resolvedList struct {
	spec   spec.PartitionSpec
	schema *spec.Schema
	files  []manifest.DataFileInput
}

// AddDataFiles commits an append snapshot adding every file of lists. Each
// list becomes one manifest. A concurrent append is reconciled by
// rebuilding the manifests at the next sequence number and re-basing the
// manifest list on the winner's.
func (t *Table) AddDataFiles(ctx context.Context, lists []FileList, opts AddOptions) (*SubmitResult, error) {
	const op = "add data files"
	if len(lists) == 0 {
		return nil, errkind.InvalidInput(op, "no file lists")
	}

	meta, err := t.cat.LoadTable(ctx, t.ident)
	if err != nil {
		return nil, err
	}
	st, err := t.storageFor(ctx, meta)
	if err != nil {
		return nil, err
	}

	resolved := make([]resolvedList, len(lists))
	for i, l := range lists {
		if len(l.Files) == 0 {
			return nil, errkind.InvalidInput(op, "file list %d is empty", i)
		}
		ps, err := resolveSpec(meta, l.SpecID)
		if err != nil {
			return nil, err
		}
		schema, err := resolveSchema(meta, l.SchemaID)
		if err != nil {
			return nil, err
		}
		resolved[i] = resolvedList{spec: ps, schema: schema, files: l.Files}
	}

	snapshotID := opts.SnapshotID
	if snapshotID == 0 {
		snapshotID = NewSnapshotID()
	}
	builder := manifest.NewBuilder(st, t.manifestOpts()...)
	merger := manifest.NewMerger(st, t.manifestOpts()...)

	build := func(ctx context.Context, seq int64) ([]spec.ManifestFile, error) {
		return pool.Run(ctx, t.opts.Concurrency, resolved, func(ctx context.Context, l resolvedList) (spec.ManifestFile, error) {
			return builder.AddManifest(ctx, manifest.AddManifestParams{
				Files:          l.files,
				Spec:           l.spec,
				Schema:         l.schema,
				SnapshotID:     snapshotID,
				SequenceNumber: seq,
				Location:       meta.Location,
			})
		})
	}

	// writeList writes the list for one attempt on top of parent.
	writeList := func(ctx context.Context, parent *spec.Snapshot, seq int64, attempt int, added []spec.ManifestFile) (string, spec.Summary, error) {
		key := manifest.ListKey(meta.Location, snapshotID, attempt)
		tags := manifest.ListTags{SnapshotID: snapshotID, SequenceNumber: seq}
		if parent == nil {
			if _, err := merger.WriteManifestList(ctx, key, added, tags); err != nil {
				return "", nil, err
			}
			return key, appendSummary(nil, added, resolved), nil
		}
		parentID := parent.SnapshotID
		tags.ParentSnapshotID = &parentID
		if _, err := merger.UpdateManifestList(ctx, manifest.UpdateListParams{
			ExistingKey: parent.ManifestList,
			NewKey:      key,
			Prepend:     added,
			Tags:        tags,
		}); err != nil {
			return "", nil, err
		}
		return key, appendSummary(parent.Summary, added, resolved), nil
	}

	parent, _ := meta.CurrentSnapshot()
	seq := meta.LastSequenceNumber + 1
	added, err := build(ctx, seq)
	if err != nil {
		return nil, err
	}
	list, summary, err := writeList(ctx, parent, seq, 0, added)
	if err != nil {
		return nil, err
	}

	var schemaID *int
	if lists[0].SchemaID != nil {
		schemaID = lists[0].SchemaID
	} else {
		id := meta.CurrentSchemaID
		schemaID = &id
	}

	res, err := t.committer().SubmitSnapshot(ctx, SubmitParams{
		Identifier:         t.ident,
		SnapshotID:         snapshotID,
		ExpectedSnapshotID: meta.CurrentSnapshotIDOrZero(),
		TableUUID:          meta.TableUUID,
		SequenceNumber:     seq,
		SchemaID:           schemaID,
		ManifestList:       list,
		Summary:            summary,
		RemoveSnapshotIDs:  opts.Retention.Expired(meta),
		MaxRetries:         firstPositive(opts.MaxRetries, t.opts.MaxRetries),
		Reconcile: func(ctx context.Context, req ReconcileRequest) (string, spec.Summary, error) {
			t.logger.Debug().
				Int("manifests", len(added)).
				Int64("sequence_number", req.SequenceNumber).
				Msg("Rebuilding manifests for new sequence number")
			rebuilt, err := build(ctx, req.SequenceNumber)
			if err != nil {
				return "", nil, err
			}
			return writeList(ctx, req.Winner, req.SequenceNumber, req.Attempt, rebuilt)
		},
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Int64("snapshot_id", res.SnapshotID).
		Int64("sequence_number", res.SequenceNumber).
		Int("retries", res.RetriesUsed).
		Int("manifests", len(resolved)).
		Msg("Added data files")
	return res, nil
}

// appendSummary counts the added files and carries the totals of the
// parent summary forward.
func appendSummary(parent spec.Summary, added []spec.ManifestFile, lists []resolvedList) spec.Summary {
	var files, records, size int64
	for _, mf := range added {
		files += int64(mf.AddedFilesCount)
		records += mf.AddedRowsCount
	}
	for _, l := range lists {
		for _, f := range l.files {
			size += f.FileSize
		}
	}

	s := spec.NewSummary(spec.OpAppend)
	s.SetInt64(spec.SummaryAddedDataFiles, files)
	s.SetInt64(spec.SummaryAddedRecords, records)
	s.SetInt64(spec.SummaryAddedFilesSize, size)
	s.SetInt64(spec.SummaryManifestsCreated, int64(len(added)))
	s.SetInt64(spec.SummaryTotalDataFiles, parent.Int64(spec.SummaryTotalDataFiles)+files)
	s.SetInt64(spec.SummaryTotalDeleteFiles, parent.Int64(spec.SummaryTotalDeleteFiles))
	s.SetInt64(spec.SummaryTotalRecords, parent.Int64(spec.SummaryTotalRecords)+records)
	s.SetInt64(spec.SummaryTotalFilesSize, parent.Int64(spec.SummaryTotalFilesSize)+size)
	return s
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
