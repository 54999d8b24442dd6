// Package catalog holds the table catalog the commit protocol talks to: a
// REST implementation and an in-memory one with the same compare-and-swap
// semantics.
package catalog

import (
	"context"
	"strings"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

// Catalog loads table metadata and applies metadata updates guarded by
// requirements. CommitTable returns *errkind.CommitConflictError when a
// requirement no longer holds.
type Catalog interface {
	LoadTable(ctx context.Context, ident Identifier) (*spec.TableMetadata, error)
	CommitTable(ctx context.Context, ident Identifier, requirements []TableRequirement, updates []TableUpdate) (*spec.TableMetadata, error)
}

// Namespace is a multi-level table namespace.
type Namespace []string

// String returns the namespace as a dot-separated string.
func (n Namespace) String() string {
	return strings.Join(n, ".")
}

// Identifier names a table.
type Identifier struct {
	Namespace Namespace
	Name      string
}

// String returns the identifier as a dot-separated string.
func (id Identifier) String() string {
	if len(id.Namespace) == 0 {
		return id.Name
	}
	return id.Namespace.String() + "." + id.Name
}

// Validate reports ErrBadIdentity for an identifier without a namespace,
// a name, or with an empty namespace level.
func (id Identifier) Validate() error {
	const op = "validate table identifier"
	if id.Name == "" {
		return errkind.BadIdentity(op, "table name is empty")
	}
	if len(id.Namespace) == 0 {
		return errkind.BadIdentity(op, "table %s has no namespace", id.Name)
	}
	for _, level := range id.Namespace {
		if level == "" {
			return errkind.BadIdentity(op, "namespace of %s has an empty level", id)
		}
	}
	return nil
}

// ParseIdentifier parses "ns1.ns2.table".
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return Identifier{}, errkind.BadIdentity("parse table identifier", "%q is not namespace.table", s)
	}
	id := Identifier{Namespace: Namespace(parts[:len(parts)-1]), Name: parts[len(parts)-1]}
	if err := id.Validate(); err != nil {
		return Identifier{}, err
	}
	return id, nil
}

// Requirement types understood by both catalogs.
const (
	RequirementAssertRefSnapshotID = "assert-ref-snapshot-id"
	RequirementAssertTableUUID     = "assert-table-uuid"
)

// Update actions understood by both catalogs.
const (
	ActionAddSnapshot     = "add-snapshot"
	ActionSetSnapshotRef  = "set-snapshot-ref"
	ActionRemoveSnapshots = "remove-snapshots"
)

// TableRequirement must hold on the catalog side for a commit to apply.
type TableRequirement struct {
	Type       string  `json:"type"`
	Ref        *string `json:"ref,omitempty"`
	UUID       *string `json:"uuid,omitempty"`
	SnapshotID *int64  `json:"snapshot-id,omitempty"`
}

// TableUpdate is one change to table metadata.
type TableUpdate struct {
	Action      string         `json:"action"`
	Snapshot    *spec.Snapshot `json:"snapshot,omitempty"`
	RefName     *string        `json:"ref-name,omitempty"`
	Type        *string        `json:"type,omitempty"`
	SnapshotID  *int64         `json:"snapshot-id,omitempty"`
	SnapshotIDs []int64        `json:"snapshot-ids,omitempty"`
}

// RequireRefSnapshotID requires ref to point at snapshotID.
func RequireRefSnapshotID(ref string, snapshotID int64) TableRequirement {
	return TableRequirement{Type: RequirementAssertRefSnapshotID, Ref: &ref, SnapshotID: &snapshotID}
}

// RequireTableUUID requires the table uuid to be unchanged.
func RequireTableUUID(uuid string) TableRequirement {
	return TableRequirement{Type: RequirementAssertTableUUID, UUID: &uuid}
}

// AddSnapshot adds a snapshot to the history.
func AddSnapshot(s spec.Snapshot) TableUpdate {
	return TableUpdate{Action: ActionAddSnapshot, Snapshot: &s}
}

// SetSnapshotRef points a branch at a snapshot.
func SetSnapshotRef(refName string, snapshotID int64) TableUpdate {
	branch := "branch"
	return TableUpdate{
		Action:     ActionSetSnapshotRef,
		RefName:    &refName,
		SnapshotID: &snapshotID,
		Type:       &branch,
	}
}

// RemoveSnapshots drops snapshots from the history.
func RemoveSnapshots(ids []int64) TableUpdate {
	return TableUpdate{Action: ActionRemoveSnapshots, SnapshotIDs: ids}
}

// checkRequirements evaluates requirements against the current metadata.
func checkRequirements(ident Identifier, meta *spec.TableMetadata, reqs []TableRequirement) error {
	for _, r := range reqs {
		switch r.Type {
		case RequirementAssertRefSnapshotID:
			ref, ok := meta.Refs[deref(r.Ref)]
			switch {
			case r.SnapshotID == nil && ok:
				return conflict(ident, "ref %s exists", deref(r.Ref))
			case r.SnapshotID != nil && !ok:
				return conflict(ident, "ref %s is missing", deref(r.Ref))
			case r.SnapshotID != nil && ref.SnapshotID != *r.SnapshotID:
				return conflict(ident, "ref %s is at snapshot %d, expected %d", deref(r.Ref), ref.SnapshotID, *r.SnapshotID)
			}
		case RequirementAssertTableUUID:
			if meta.TableUUID != deref(r.UUID) {
				return conflict(ident, "table uuid is %s, expected %s", meta.TableUUID, deref(r.UUID))
			}
		default:
			return errkind.InvalidInput("check commit requirements", "unsupported requirement %q", r.Type)
		}
	}
	return nil
}

// applyUpdates derives new metadata from base.
func applyUpdates(base *spec.TableMetadata, updates []TableUpdate) (*spec.TableMetadata, error) {
	const op = "apply table updates"
	b := spec.NewMetadataBuilder(base)
	for _, u := range updates {
		switch u.Action {
		case ActionAddSnapshot:
			if u.Snapshot == nil {
				return nil, errkind.InvalidInput(op, "add-snapshot without a snapshot")
			}
			if err := b.AddSnapshot(*u.Snapshot); err != nil {
				return nil, errkind.InvalidInput(op, "%v", err)
			}
		case ActionSetSnapshotRef:
			if u.RefName == nil || u.SnapshotID == nil {
				return nil, errkind.InvalidInput(op, "set-snapshot-ref needs a ref name and snapshot id")
			}
			if err := b.SetRef(*u.RefName, spec.SnapshotRef{SnapshotID: *u.SnapshotID, Type: deref(u.Type)}); err != nil {
				return nil, errkind.InvalidInput(op, "%v", err)
			}
		case ActionRemoveSnapshots:
			b.RemoveSnapshots(u.SnapshotIDs)
		default:
			return nil, errkind.InvalidInput(op, "unsupported update %q", u.Action)
		}
	}
	return b.Build(), nil
}

func conflict(ident Identifier, format string, args ...any) error {
	return &errkind.CommitConflictError{
		Table: ident.String(),
		Cause: errkind.Conflict("commit table", format, args...),
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
