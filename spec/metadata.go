package spec

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FormatVersion is the Iceberg table format version.
type FormatVersion int

const (
	FormatVersionV1 FormatVersion = 1
	FormatVersionV2 FormatVersion = 2
)

// TableMetadata is a read-only view of a table as returned by the catalog.
// It is fetched fresh for every operation and every commit attempt.
type TableMetadata struct {
	FormatVersion      FormatVersion          `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	LastUpdatedMs      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	Schemas            []*Schema              `json:"schemas"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	PartitionSpecs     []PartitionSpec        `json:"partition-specs"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	LastPartitionID    int                    `json:"last-partition-id"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  *int64                 `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLog          `json:"snapshot-log,omitempty"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`
}

// ParseTableMetadata decodes table metadata JSON.
func ParseTableMetadata(data []byte) (*TableMetadata, error) {
	var m TableMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse table metadata: %w", err)
	}
	return &m, nil
}

// SchemaByID returns the schema with the given id.
func (m *TableMetadata) SchemaByID(id int) (*Schema, bool) {
	for _, s := range m.Schemas {
		if s.SchemaID == id {
			return s, true
		}
	}
	return nil, false
}

// CurrentSchema returns the schema named by current-schema-id.
func (m *TableMetadata) CurrentSchema() (*Schema, bool) {
	return m.SchemaByID(m.CurrentSchemaID)
}

// PartitionSpecByID returns the spec with the given id.
func (m *TableMetadata) PartitionSpecByID(id int) (PartitionSpec, bool) {
	for _, p := range m.PartitionSpecs {
		if p.SpecID == id {
			return p, true
		}
	}
	return PartitionSpec{}, false
}

// CurrentSnapshotIDOrZero returns the current snapshot id, or 0 when the
// table has none. The catalog reports "no snapshot" as either an absent
// field or -1.
func (m *TableMetadata) CurrentSnapshotIDOrZero() int64 {
	if m.CurrentSnapshotID == nil || *m.CurrentSnapshotID < 0 {
		return 0
	}
	return *m.CurrentSnapshotID
}

// SnapshotByID returns the snapshot with the given id from the history.
func (m *TableMetadata) SnapshotByID(id int64) (*Snapshot, bool) {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i], true
		}
	}
	return nil, false
}

// CurrentSnapshot returns the snapshot main points at, if any.
func (m *TableMetadata) CurrentSnapshot() (*Snapshot, bool) {
	id := m.CurrentSnapshotIDOrZero()
	if id == 0 {
		return nil, false
	}
	return m.SnapshotByID(id)
}

// Bucket returns the storage bucket named by the table location.
func (m *TableMetadata) Bucket() (string, error) {
	u, err := url.Parse(m.Location)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("table location %q does not name a bucket", m.Location)
	}
	return u.Host, nil
}

// MetadataPrefix is where manifest and manifest-list files are written.
func (m *TableMetadata) MetadataPrefix() string {
	return MetadataPrefix(m.Location)
}

// MetadataPrefix returns the metadata directory of a table location.
func MetadataPrefix(location string) string {
	return strings.TrimRight(location, "/") + "/metadata"
}

// SnapshotsOldestFirst returns the snapshot history sorted by timestamp,
// then sequence number.
func (m *TableMetadata) SnapshotsOldestFirst() []Snapshot {
	out := append([]Snapshot(nil), m.Snapshots...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampMs != out[j].TimestampMs {
			return out[i].TimestampMs < out[j].TimestampMs
		}
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out
}

// MetadataBuilder derives a new metadata value from a base one. The base is
// never mutated.
type MetadataBuilder struct {
	meta TableMetadata
}

// NewMetadataBuilder copies base.
func NewMetadataBuilder(base *TableMetadata) *MetadataBuilder {
	cp := *base
	cp.Schemas = append([]*Schema(nil), base.Schemas...)
	cp.PartitionSpecs = append([]PartitionSpec(nil), base.PartitionSpecs...)
	cp.Snapshots = append([]Snapshot(nil), base.Snapshots...)
	cp.SnapshotLog = append([]SnapshotLog(nil), base.SnapshotLog...)
	cp.Refs = make(map[string]SnapshotRef, len(base.Refs))
	for k, v := range base.Refs {
		cp.Refs[k] = v
	}
	if base.Properties != nil {
		cp.Properties = make(map[string]string, len(base.Properties))
		for k, v := range base.Properties {
			cp.Properties[k] = v
		}
	}
	return &MetadataBuilder{meta: cp}
}

// AddSnapshot appends a snapshot and advances last-sequence-number.
func (b *MetadataBuilder) AddSnapshot(s Snapshot) error {
	if _, dup := b.meta.SnapshotByID(s.SnapshotID); dup {
		return fmt.Errorf("snapshot %d already exists", s.SnapshotID)
	}
	if s.SequenceNumber <= b.meta.LastSequenceNumber && b.meta.FormatVersion >= FormatVersionV2 {
		return fmt.Errorf("sequence number %d is not greater than last sequence number %d",
			s.SequenceNumber, b.meta.LastSequenceNumber)
	}
	b.meta.Snapshots = append(b.meta.Snapshots, s)
	b.meta.LastSequenceNumber = s.SequenceNumber
	if s.TimestampMs > b.meta.LastUpdatedMs {
		b.meta.LastUpdatedMs = s.TimestampMs
	}
	return nil
}

// SetRef points a branch at a snapshot. Moving main also moves
// current-snapshot-id and records the snapshot log.
func (b *MetadataBuilder) SetRef(name string, ref SnapshotRef) error {
	snap, ok := b.meta.SnapshotByID(ref.SnapshotID)
	if !ok {
		return fmt.Errorf("cannot set ref %s to unknown snapshot %d", name, ref.SnapshotID)
	}
	b.meta.Refs[name] = ref
	if name == MainBranch {
		id := ref.SnapshotID
		b.meta.CurrentSnapshotID = &id
		b.meta.SnapshotLog = append(b.meta.SnapshotLog, SnapshotLog{SnapshotID: id, TimestampMs: snap.TimestampMs})
	}
	return nil
}

// RemoveSnapshots drops snapshots from the history.
func (b *MetadataBuilder) RemoveSnapshots(ids []int64) {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := b.meta.Snapshots[:0]
	for _, s := range b.meta.Snapshots {
		if _, ok := drop[s.SnapshotID]; !ok {
			kept = append(kept, s)
		}
	}
	b.meta.Snapshots = kept
}

// Build returns the derived metadata.
func (b *MetadataBuilder) Build() *TableMetadata {
	out := b.meta
	return &out
}
