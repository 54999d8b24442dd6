package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/spec"
)

// MemoryCatalog keeps table metadata in process. Commits are atomic
// compare-and-swaps against the stored metadata, which makes it a faithful
// stand-in for a REST catalog in tests and local runs.
type MemoryCatalog struct {
	mu     sync.Mutex
	tables map[string]*spec.TableMetadata
	logger zerolog.Logger
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog(logger zerolog.Logger) *MemoryCatalog {
	return &MemoryCatalog{tables: make(map[string]*spec.TableMetadata), logger: logger}
}

// CreateTable registers a format-version 2 table without snapshots.
func (c *MemoryCatalog) CreateTable(_ context.Context, ident Identifier, schema *spec.Schema, ps spec.PartitionSpec, location string) (*spec.TableMetadata, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, errkind.InvalidInput("create table", "table %s needs a schema", ident)
	}

	lastPartitionID := 999
	for _, f := range ps.Fields {
		lastPartitionID = max(lastPartitionID, f.FieldID)
	}
	lastColumnID := 0
	for _, f := range schema.Fields {
		lastColumnID = max(lastColumnID, f.ID)
	}

	meta := &spec.TableMetadata{
		FormatVersion:   spec.FormatVersionV2,
		TableUUID:       uuid.NewString(),
		Location:        location,
		LastUpdatedMs:   time.Now().UnixMilli(),
		LastColumnID:    lastColumnID,
		Schemas:         []*spec.Schema{schema},
		CurrentSchemaID: schema.SchemaID,
		PartitionSpecs:  []spec.PartitionSpec{ps},
		DefaultSpecID:   ps.SpecID,
		LastPartitionID: lastPartitionID,
		Refs:            map[string]spec.SnapshotRef{},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[ident.String()]; ok {
		return nil, errkind.InvalidInput("create table", "table %s already exists", ident)
	}
	c.tables[ident.String()] = meta
	c.logger.Info().Str("table", ident.String()).Str("location", location).Msg("Created table")
	return spec.NewMetadataBuilder(meta).Build(), nil
}

// AddPartitionSpec registers another partition spec on an existing table.
func (c *MemoryCatalog) AddPartitionSpec(ident Identifier, ps spec.PartitionSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.tables[ident.String()]
	if !ok {
		return errkind.NotFound("add partition spec", "table %s", ident)
	}
	next := spec.NewMetadataBuilder(meta).Build()
	next.PartitionSpecs = append(next.PartitionSpecs, ps)
	for _, f := range ps.Fields {
		next.LastPartitionID = max(next.LastPartitionID, f.FieldID)
	}
	c.tables[ident.String()] = next
	return nil
}

// LoadTable returns a copy of the stored metadata.
func (c *MemoryCatalog) LoadTable(_ context.Context, ident Identifier) (*spec.TableMetadata, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.tables[ident.String()]
	if !ok {
		return nil, errkind.NotFound("load table", "table %s", ident)
	}
	return spec.NewMetadataBuilder(meta).Build(), nil
}

// CommitTable checks requirements and applies updates under one lock.
func (c *MemoryCatalog) CommitTable(_ context.Context, ident Identifier, reqs []TableRequirement, updates []TableUpdate) (*spec.TableMetadata, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.tables[ident.String()]
	if !ok {
		return nil, errkind.NotFound("commit table", "table %s", ident)
	}
	if err := checkRequirements(ident, meta, reqs); err != nil {
		c.logger.Debug().Err(err).Str("table", ident.String()).Msg("Rejected commit")
		return nil, err
	}
	next, err := applyUpdates(meta, updates)
	if err != nil {
		return nil, err
	}
	c.tables[ident.String()] = next
	c.logger.Debug().
		Str("table", ident.String()).
		Int64("snapshot_id", next.CurrentSnapshotIDOrZero()).
		Int64("sequence_number", next.LastSequenceNumber).
		Msg("Committed table metadata")
	return spec.NewMetadataBuilder(next).Build(), nil
}
