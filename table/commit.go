package table

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/go-iceberg/icemeta/catalog"
	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

// ReconcileRequest describes a compatible concurrent append the pending
// snapshot must be re-based on.
type ReconcileRequest struct {
	// Metadata is the freshly loaded table metadata.
	Metadata *spec.TableMetadata
	// Winner is the snapshot that won the race.
	Winner *spec.Snapshot
	// SequenceNumber is the sequence number of the next attempt.
	SequenceNumber int64
	// Attempt counts retries, starting at 1.
	Attempt int
}

// ReconcileFunc produces a new manifest list and summary for a retry.
type ReconcileFunc func(ctx context.Context, req ReconcileRequest) (manifestList string, summary spec.Summary, err error)

// SubmitParams are the inputs of SubmitSnapshot.
type SubmitParams struct {
	Identifier catalog.Identifier
	SnapshotID int64
	// ExpectedSnapshotID is the snapshot main must point at; zero means
	// the table has no snapshot yet and no requirement is sent.
	ExpectedSnapshotID int64
	// TableUUID, when set, must still be the table's uuid.
	TableUUID         string
	SequenceNumber    int64
	SchemaID          *int
	ManifestList      string
	Summary           spec.Summary
	RemoveSnapshotIDs []int64
	// MaxRetries defaults to DefaultMaxRetries when zero.
	MaxRetries int
	Reconcile  ReconcileFunc
}

// SubmitResult describes a committed snapshot.
type SubmitResult struct {
	Metadata         *spec.TableMetadata
	RetriesUsed      int
	ParentSnapshotID int64
	SnapshotID       int64
	SequenceNumber   int64
}

// Committer runs the optimistic commit loop against a catalog.
type Committer struct {
	cat    catalog.Catalog
	logger zerolog.Logger
	now    func() time.Time
}

// NewCommitter returns a Committer.
func NewCommitter(cat catalog.Catalog, logger zerolog.Logger) *Committer {
	return &Committer{cat: cat, logger: logger, now: time.Now}
}

// SubmitSnapshot proposes a snapshot guarded by "main is at
// ExpectedSnapshotID". A conflict caused by a concurrent append at the
// same sequence number is reconciled through p.Reconcile and retried; any
// other conflict, and any other error, is returned.
func (c *Committer) SubmitSnapshot(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	const op = "submit snapshot"
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var (
		expected = p.ExpectedSnapshotID
		seq      = p.SequenceNumber
		list     = p.ManifestList
		summary  = p.Summary
		removals = p.RemoveSnapshotIDs
	)
	log := c.logger.With().Str("table", p.Identifier.String()).Int64("snapshot_id", p.SnapshotID).Logger()

	for attempt := 0; ; attempt++ {
		snap := spec.Snapshot{
			SnapshotID:     p.SnapshotID,
			SequenceNumber: seq,
			TimestampMs:    c.now().UnixMilli(),
			ManifestList:   list,
			Summary:        summary,
			SchemaID:       p.SchemaID,
		}
		var reqs []catalog.TableRequirement
		if p.TableUUID != "" {
			reqs = append(reqs, catalog.RequireTableUUID(p.TableUUID))
		}
		if expected != 0 {
			parent := expected
			snap.ParentSnapshotID = &parent
			reqs = append(reqs, catalog.RequireRefSnapshotID(spec.MainBranch, expected))
		}
		updates := []catalog.TableUpdate{
			catalog.AddSnapshot(snap),
			catalog.SetSnapshotRef(spec.MainBranch, p.SnapshotID),
		}
		if len(removals) > 0 {
			updates = append(updates, catalog.RemoveSnapshots(removals))
		}

		meta, err := c.cat.CommitTable(ctx, p.Identifier, reqs, updates)
		if err == nil {
			log.Info().
				Int("attempt", attempt).
				Int64("sequence_number", seq).
				Int64("parent_snapshot_id", expected).
				Str("operation", string(summary.Operation())).
				Msg("Committed snapshot")
			return &SubmitResult{
				Metadata:         meta,
				RetriesUsed:      attempt,
				ParentSnapshotID: expected,
				SnapshotID:       p.SnapshotID,
				SequenceNumber:   seq,
			}, nil
		}
		if !errkind.IsCommitConflict(err) {
			return nil, err
		}
		if attempt >= maxRetries {
			return nil, errors.Wrapf(err, "gave up after %d retries", attempt)
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("Commit conflict, reconciling")
		removals = nil

		meta, err = c.cat.LoadTable(ctx, p.Identifier)
		if err != nil {
			return nil, err
		}
		if p.TableUUID != "" && meta.TableUUID != p.TableUUID {
			return nil, errkind.Conflict(op, "table %s was replaced (uuid %s, expected %s)", p.Identifier, meta.TableUUID, p.TableUUID)
		}
		currentID := meta.CurrentSnapshotIDOrZero()
		if currentID == 0 {
			return nil, errkind.Conflict(op, "table %s has no current snapshot after a conflict", p.Identifier)
		}
		winner, ok := meta.SnapshotByID(currentID)
		if !ok {
			return nil, errkind.Conflict(op, "current snapshot %d of %s is missing from history", currentID, p.Identifier)
		}
		if winner.Summary.Operation() != spec.OpAppend || winner.SequenceNumber != seq {
			return nil, errkind.Conflict(op, "snapshot %d (%s, sequence %d) conflicts with pending sequence %d",
				winner.SnapshotID, winner.Summary.Operation(), winner.SequenceNumber, seq)
		}
		if p.Reconcile == nil {
			return nil, errkind.Conflict(op, "concurrent append %d and no reconciliation", winner.SnapshotID)
		}

		expected = winner.SnapshotID
		seq++
		list, summary, err = p.Reconcile(ctx, ReconcileRequest{
			Metadata:       meta,
			Winner:         winner,
			SequenceNumber: seq,
			Attempt:        attempt + 1,
		})
		if err != nil {
			return nil, errors.Wrap(err, "reconcile")
		}
		log.Debug().
			Int64("winner_snapshot_id", winner.SnapshotID).
			Int64("sequence_number", seq).
			Str("manifest_list", list).
			Msg("Re-based snapshot on concurrent append")
	}
}
