package spec

import (
	"strconv"
	"time"
)

// Operation is the kind of change a snapshot made.
type Operation string

const (
	OpAppend    Operation = "append"
	OpReplace   Operation = "replace"
	OpOverwrite Operation = "overwrite"
	OpDelete    Operation = "delete"
)

// Summary keys written by this package.
const (
	SummaryOperation        = "operation"
	SummaryAddedDataFiles   = "added-data-files"
	SummaryAddedRecords     = "added-records"
	SummaryAddedFilesSize   = "added-files-size"
	SummaryDeletedDataFiles = "deleted-data-files"
	SummaryDeletedRecords   = "deleted-records"
	SummaryRemovedFilesSize = "removed-files-size"
	SummaryTotalDataFiles   = "total-data-files"
	SummaryTotalDeleteFiles = "total-delete-files"
	SummaryTotalRecords     = "total-records"
	SummaryTotalFilesSize   = "total-files-size"
	SummaryManifestsCreated = "manifests-created"
	SummaryManifestsKept    = "manifests-kept"
	SummaryManifestsReplace = "manifests-replaced"
)

// Summary is the free-form string map attached to a snapshot. It always
// carries an "operation" key.
type Summary map[string]string

// NewSummary returns a summary for the given operation.
func NewSummary(op Operation) Summary {
	return Summary{SummaryOperation: string(op)}
}

// Operation returns the summary's operation.
func (s Summary) Operation() Operation {
	return Operation(s[SummaryOperation])
}

// Int64 parses a numeric summary value; missing or malformed values read as 0.
func (s Summary) Int64(key string) int64 {
	v, err := strconv.ParseInt(s[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SetInt64 stores a numeric summary value in decimal form.
func (s Summary) SetInt64(key string, v int64) {
	s[key] = strconv.FormatInt(v, 10)
}

// Clone copies the summary.
func (s Summary) Clone() Summary {
	out := make(Summary, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Snapshot is an immutable pointer to one manifest list.
type Snapshot struct {
	SnapshotID       int64   `json:"snapshot-id"`
	ParentSnapshotID *int64  `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64   `json:"sequence-number"`
	TimestampMs      int64   `json:"timestamp-ms"`
	ManifestList     string  `json:"manifest-list"`
	Summary          Summary `json:"summary,omitempty"`
	SchemaID         *int    `json:"schema-id,omitempty"`
}

// Timestamp returns the snapshot time.
func (s *Snapshot) Timestamp() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// SnapshotRef is a named branch or tag.
type SnapshotRef struct {
	SnapshotID         int64  `json:"snapshot-id"`
	Type               string `json:"type"`
	MinSnapshotsToKeep *int   `json:"min-snapshots-to-keep,omitempty"`
	MaxSnapshotAgeMs   *int64 `json:"max-snapshot-age-ms,omitempty"`
	MaxRefAgeMs        *int64 `json:"max-ref-age-ms,omitempty"`
}

// MainBranch is the ref every commit in this module moves.
const MainBranch = "main"

// SnapshotLog is one entry of the snapshot history.
type SnapshotLog struct {
	SnapshotID  int64 `json:"snapshot-id"`
	TimestampMs int64 `json:"timestamp-ms"`
}
