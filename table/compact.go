package table

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sort"

	"github.com/go-faster/errors"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/internal/pool"
	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
	"github.com/go-iceberg/icemeta/transform"
)

// WeightFunc weighs a group of manifest list entries. Lighter groups are
// merged first when compacting towards a target count.
type WeightFunc func(entries []spec.ManifestFile) int64

// CompactOptions configure ManifestCompact.
type CompactOptions struct {
	// SnapshotID is generated when zero.
	SnapshotID int64
	// TargetCount and Weight together enable weighted merging of groups.
	TargetCount int
	Weight      WeightFunc
	// Force rewrites every group, single-entry ones included.
	Force      bool
	Retention  RetentionPolicy
	MaxRetries int
}

// CompactResult reports what ManifestCompact did.
type CompactResult struct {
	Changed             bool
	InputManifestCount  int
	OutputManifestCount int
	Commit              *SubmitResult
}

// ByEntryCount weighs a group by its number of manifests.
func ByEntryCount(entries []spec.ManifestFile) int64 {
	return int64(len(entries))
}

// ByRowCount weighs a group by the rows its manifests track.
func ByRowCount(entries []spec.ManifestFile) int64 {
	var n int64
	for _, mf := range entries {
		n += mf.AddedRowsCount + mf.ExistingRowsCount
	}
	return n
}

type manifestGroup struct {
	entries []spec.ManifestFile
	weight  int64
}

// ManifestCompact merges compatible manifests of the current snapshot and
// commits the result as a "replace" snapshot.
func (t *Table) ManifestCompact(ctx context.Context, opts CompactOptions) (*CompactResult, error) {
	meta, err := t.cat.LoadTable(ctx, t.ident)
	if err != nil {
		return nil, err
	}
	current, ok := meta.CurrentSnapshot()
	if !ok {
		t.logger.Debug().Msg("No snapshot to compact")
		return &CompactResult{}, nil
	}
	st, err := t.storageFor(ctx, meta)
	if err != nil {
		return nil, err
	}

	listed, err := manifest.ReadManifestList(ctx, st, current.ManifestList)
	if err != nil {
		return nil, err
	}
	entries := manifest.DropVacuous(listed)
	res := &CompactResult{InputManifestCount: len(listed)}

	groups := groupManifests(entries)
	if opts.TargetCount > 0 && opts.Weight != nil && len(groups) > opts.TargetCount {
		groups = mergeGroups(groups, opts.TargetCount, opts.Weight)
	}
	rewrite := func(g manifestGroup) bool {
		return rewritable(g.entries[0]) && (len(g.entries) > 1 || opts.Force)
	}
	var pending int
	for _, g := range groups {
		if rewrite(g) {
			pending++
		}
	}
	if pending == 0 {
		t.logger.Debug().Int("manifests", len(entries)).Msg("Nothing to compact")
		return res, nil
	}

	schema, ok := meta.CurrentSchema()
	if !ok {
		return nil, errkind.NotFound("compact manifests", "current schema %d", meta.CurrentSchemaID)
	}
	snapshotID := opts.SnapshotID
	if snapshotID == 0 {
		snapshotID = NewSnapshotID()
	}
	seq := meta.LastSequenceNumber + 1

	type indexed struct {
		pos int
		mf  spec.ManifestFile
	}
	positions := make([]int, len(groups))
	for i := range positions {
		positions[i] = i
	}
	// Group workers and their manifest readers share one limit.
	limit := t.opts.Concurrency
	if limit <= 0 {
		limit = pool.DefaultLimit
	}
	readers := max(1, limit/min(limit, pending))
	rewritten, err := pool.Run(ctx, limit, positions, func(ctx context.Context, i int) (indexed, error) {
		g := groups[i]
		if !rewrite(g) {
			return indexed{pos: i, mf: g.entries[0]}, nil
		}
		ps, ok := meta.PartitionSpecByID(g.entries[0].PartitionSpecID)
		if !ok {
			return indexed{}, errkind.NotFound("compact manifests", "partition spec %d", g.entries[0].PartitionSpecID)
		}
		mf, err := t.rewriteGroup(ctx, st, rewriteParams{
			entries:    g.entries,
			spec:       ps,
			schema:     schema,
			snapshotID: snapshotID,
			seq:        seq,
			location:   meta.Location,
			readers:    readers,
		})
		return indexed{pos: i, mf: mf}, err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rewritten, func(a, b int) bool { return rewritten[a].pos < rewritten[b].pos })

	out := make([]spec.ManifestFile, len(rewritten))
	var replaced int
	for i, r := range rewritten {
		out[i] = r.mf
		if r.mf.AddedSnapshotID == snapshotID {
			replaced += len(groups[r.pos].entries)
		}
	}

	key := manifest.ListKey(meta.Location, snapshotID, 0)
	parentID := current.SnapshotID
	merger := manifest.NewMerger(st, t.manifestOpts()...)
	if _, err := merger.WriteManifestList(ctx, key, out, manifest.ListTags{
		SnapshotID:       snapshotID,
		ParentSnapshotID: &parentID,
		SequenceNumber:   seq,
	}); err != nil {
		return nil, err
	}

	schemaID := meta.CurrentSchemaID
	commit, err := t.committer().SubmitSnapshot(ctx, SubmitParams{
		Identifier:         t.ident,
		SnapshotID:         snapshotID,
		ExpectedSnapshotID: current.SnapshotID,
		TableUUID:          meta.TableUUID,
		SequenceNumber:     seq,
		SchemaID:           &schemaID,
		ManifestList:       key,
		Summary:            replaceSummary(current.Summary, len(out), replaced, len(entries)-replaced),
		RemoveSnapshotIDs:  opts.Retention.Expired(meta),
		MaxRetries:         firstPositive(opts.MaxRetries, t.opts.MaxRetries),
	})
	if err != nil {
		return nil, err
	}

	res.Changed = true
	res.OutputManifestCount = len(out)
	res.Commit = commit
	t.logger.Info().
		Int("input_manifests", res.InputManifestCount).
		Int("output_manifests", res.OutputManifestCount).
		Int64("snapshot_id", snapshotID).
		Msg("Compacted manifests")
	return res, nil
}

// groupManifests puts each entry into the first group whose
// representative it can share a manifest with.
func groupManifests(entries []spec.ManifestFile) []manifestGroup {
	var groups []manifestGroup
	for _, mf := range entries {
		joined := false
		for i := range groups {
			if compatible(groups[i].entries[0], mf) {
				groups[i].entries = append(groups[i].entries, mf)
				joined = true
				break
			}
		}
		if !joined {
			groups = append(groups, manifestGroup{entries: []spec.ManifestFile{mf}})
		}
	}
	return groups
}

// rewritable reports whether a manifest may be rewritten at all. Delete
// manifests and manifests tracking deleted files are always kept as is.
func rewritable(mf spec.ManifestFile) bool {
	return mf.Content == spec.ManifestContentData && mf.DeletedFilesCount == 0
}

// compatible requires data manifests without deleted files, the same
// spec, and byte-equal partition summaries.
func compatible(a, b spec.ManifestFile) bool {
	if !rewritable(a) || !rewritable(b) {
		return false
	}
	if a.PartitionSpecID != b.PartitionSpecID || len(a.Partitions) != len(b.Partitions) {
		return false
	}
	for i := range a.Partitions {
		pa, pb := a.Partitions[i], b.Partitions[i]
		if !bytes.Equal(pa.LowerBound, pb.LowerBound) || !bytes.Equal(pa.UpperBound, pb.UpperBound) {
			return false
		}
	}
	return true
}

// mergeGroups folds the lightest group into a later group with the same
// partition spec until target is reached or no such pair is left. Groups
// that cannot be rewritten never take part.
func mergeGroups(groups []manifestGroup, target int, weight WeightFunc) []manifestGroup {
	for i := range groups {
		groups[i].weight = weight(groups[i].entries)
	}
	sortByWeight := func() {
		sort.SliceStable(groups, func(a, b int) bool { return groups[a].weight < groups[b].weight })
	}
	sortByWeight()

	for len(groups) > target {
		merged := false
		for i := 0; i < len(groups) && !merged; i++ {
			if !rewritable(groups[i].entries[0]) {
				continue
			}
			specID := groups[i].entries[0].PartitionSpecID
			for j := i + 1; j < len(groups); j++ {
				if !rewritable(groups[j].entries[0]) || groups[j].entries[0].PartitionSpecID != specID {
					continue
				}
				groups[j].entries = append(groups[j].entries, groups[i].entries...)
				groups[j].weight = weight(groups[j].entries)
				groups = slices.Delete(groups, i, i+1)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
		sortByWeight()
	}
	return groups
}

type rewriteParams struct {
	entries    []spec.ManifestFile
	spec       spec.PartitionSpec
	schema     *spec.Schema
	snapshotID int64
	seq        int64
	location   string
	readers    int
}

// rewriteGroup streams the entries of every manifest in the group into
// one new manifest. Readers run concurrently; the single writer consumes
// their output through a bounded channel.
func (t *Table) rewriteGroup(ctx context.Context, st storage.Storage, p rewriteParams) (spec.ManifestFile, error) {
	const op = "rewrite manifests"

	pt, err := manifest.NewPartitionType(p.spec, p.schema)
	if err != nil {
		return spec.ManifestFile{}, err
	}
	merged, err := mergeListEntries(p)
	if err != nil {
		return spec.ManifestFile{}, err
	}

	key := manifest.ManifestKey(p.location)
	up, err := st.Create(ctx, key)
	if err != nil {
		return spec.ManifestFile{}, err
	}
	fail := func(err error) (spec.ManifestFile, error) {
		if abortErr := up.Abort(); abortErr != nil {
			t.logger.Warn().Err(abortErr).Str("manifest", key).Msg("Failed to abort upload")
		}
		return spec.ManifestFile{}, errkind.Stream(op, err)
	}
	w, err := manifest.NewEntryWriter(up, manifest.EntryTags{Schema: p.schema, Spec: p.spec, Content: spec.ManifestContentData}, t.manifestOpts()...)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan spec.ManifestEntry, manifest.DefaultStreamBuffer)
	readErr := make(chan error, 1)
	go func() {
		defer close(entries)
		readErr <- pool.Each(ctx, p.readers, p.entries, func(ctx context.Context, mf spec.ManifestFile) error {
			r, closer, err := manifest.OpenManifest(ctx, st, mf.ManifestPath, pt)
			if err != nil {
				return err
			}
			defer closer.Close()
			for {
				e, err := r.Read()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return errors.Wrapf(err, "manifest %s", mf.ManifestPath)
				}
				inherit(&e, mf)
				select {
				case entries <- e:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}()

	for e := range entries {
		if err := w.Write(e); err != nil {
			cancel()
			for range entries {
			}
			return fail(err)
		}
	}
	if err := <-readErr; err != nil {
		return fail(err)
	}
	if err := w.Close(); err != nil {
		return fail(err)
	}
	if err := up.Close(); err != nil {
		return fail(err)
	}

	merged.ManifestPath = key
	merged.ManifestLength = w.Length()
	t.logger.Debug().
		Str("manifest", key).
		Int("sources", len(p.entries)).
		Int("entries", w.Count()).
		Msg("Rewrote manifest group")
	return merged, nil
}

// inherit materialises the snapshot id and sequence numbers an entry
// inherits from the manifest list entry it was listed under.
func inherit(e *spec.ManifestEntry, mf spec.ManifestFile) {
	if e.SnapshotID == nil {
		id := mf.AddedSnapshotID
		e.SnapshotID = &id
	}
	if e.SequenceNumber == nil {
		seq := mf.SequenceNumber
		e.SequenceNumber = &seq
	}
	if e.FileSequenceNumber == nil {
		seq := mf.SequenceNumber
		e.FileSequenceNumber = &seq
	}
}

// mergeListEntries builds the list entry of a rewritten group: summed
// counts, the minimum sequence number, and per-field partition summaries
// widened with typed min/max.
func mergeListEntries(p rewriteParams) (spec.ManifestFile, error) {
	out := spec.ManifestFile{
		PartitionSpecID: p.spec.SpecID,
		Content:         spec.ManifestContentData,
		SequenceNumber:  p.seq,
		AddedSnapshotID: p.snapshotID,
		Partitions:      make([]spec.FieldSummary, len(p.spec.Fields)),
	}

	types := make([]spec.Type, len(p.spec.Fields))
	for i, f := range p.spec.Fields {
		t, err := transform.FieldOutputType(f, p.schema)
		if err != nil {
			return spec.ManifestFile{}, err
		}
		types[i] = t
	}

	for n, mf := range p.entries {
		out.AddedFilesCount += mf.AddedFilesCount
		out.ExistingFilesCount += mf.ExistingFilesCount
		out.DeletedFilesCount += mf.DeletedFilesCount
		out.AddedRowsCount += mf.AddedRowsCount
		out.ExistingRowsCount += mf.ExistingRowsCount
		out.DeletedRowsCount += mf.DeletedRowsCount
		if n == 0 || mf.MinSequenceNumber < out.MinSequenceNumber {
			out.MinSequenceNumber = mf.MinSequenceNumber
		}

		for field := range out.Partitions {
			if field >= len(mf.Partitions) {
				continue
			}
			src := mf.Partitions[field]
			dst := &out.Partitions[field]
			dst.ContainsNull = dst.ContainsNull || src.ContainsNull
			if src.ContainsNaN != nil {
				nan := *src.ContainsNaN || (dst.ContainsNaN != nil && *dst.ContainsNaN)
				dst.ContainsNaN = &nan
			}
			var err error
			if dst.LowerBound, dst.UpperBound, err = transform.MinMax(dst.LowerBound, dst.UpperBound, src.LowerBound, types[field]); err != nil {
				return spec.ManifestFile{}, err
			}
			if dst.LowerBound, dst.UpperBound, err = transform.MinMax(dst.LowerBound, dst.UpperBound, src.UpperBound, types[field]); err != nil {
				return spec.ManifestFile{}, err
			}
		}
	}
	return out, nil
}

// replaceSummary zeroes the deltas and carries the parent's totals.
func replaceSummary(parent spec.Summary, created, replaced, kept int) spec.Summary {
	s := spec.NewSummary(spec.OpReplace)
	for _, k := range []string{
		spec.SummaryAddedDataFiles, spec.SummaryAddedRecords, spec.SummaryAddedFilesSize,
		spec.SummaryDeletedDataFiles, spec.SummaryDeletedRecords, spec.SummaryRemovedFilesSize,
	} {
		s.SetInt64(k, 0)
	}
	for _, k := range []string{
		spec.SummaryTotalDataFiles, spec.SummaryTotalDeleteFiles,
		spec.SummaryTotalRecords, spec.SummaryTotalFilesSize,
	} {
		s.SetInt64(k, parent.Int64(k))
	}
	s.SetInt64(spec.SummaryManifestsCreated, int64(created-kept))
	s.SetInt64(spec.SummaryManifestsReplace, int64(replaced))
	s.SetInt64(spec.SummaryManifestsKept, int64(kept))
	return s
}
