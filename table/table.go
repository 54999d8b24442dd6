// Package table implements the write paths of a table: appending data
// files, compacting manifests, and committing the resulting snapshots
// through the catalog's compare-and-swap.
package table

import (
	"context"
	"encoding/binary"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-iceberg/icemeta/catalog"
	"github.com/go-iceberg/icemeta/errkind"
	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
)

// Resolver returns the storage serving a location. *storage.Pool
// implements it.
type Resolver interface {
	ForLocation(ctx context.Context, location string) (storage.Storage, error)
}

type staticResolver struct{ st storage.Storage }

func (r staticResolver) ForLocation(context.Context, string) (storage.Storage, error) {
	return r.st, nil
}

// StaticResolver serves every location from st.
func StaticResolver(st storage.Storage) Resolver {
	return staticResolver{st: st}
}

// Options configure a Table.
type Options struct {
	// Concurrency bounds the manifests built or read at once.
	Concurrency int
	// MaxRetries is the commit retry budget.
	MaxRetries int
	Logger     zerolog.Logger
	// Manifest options are handed to every builder, merger and writer.
	Manifest []manifest.Option
}

// DefaultMaxRetries is the commit retry budget when none is configured.
const DefaultMaxRetries = 5

// Option modifies Options.
type Option func(*Options)

// WithConcurrency sets the worker limit.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithMaxRetries sets the commit retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithManifestOptions appends manifest writer options.
func WithManifestOptions(opts ...manifest.Option) Option {
	return func(o *Options) { o.Manifest = append(o.Manifest, opts...) }
}

// Table is a handle on one catalog table. It holds no metadata between
// operations; every operation loads the current metadata first.
type Table struct {
	ident    catalog.Identifier
	cat      catalog.Catalog
	resolver Resolver
	opts     Options
	logger   zerolog.Logger
}

// New returns a handle on ident.
func New(ident catalog.Identifier, cat catalog.Catalog, resolver Resolver, opts ...Option) (*Table, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	o := Options{MaxRetries: DefaultMaxRetries, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Table{
		ident:    ident,
		cat:      cat,
		resolver: resolver,
		opts:     o,
		logger:   o.Logger.With().Str("table", ident.String()).Logger(),
	}, nil
}

// Identifier returns the table identifier.
func (t *Table) Identifier() catalog.Identifier {
	return t.ident
}

// Metadata loads the table's current metadata.
func (t *Table) Metadata(ctx context.Context) (*spec.TableMetadata, error) {
	return t.cat.LoadTable(ctx, t.ident)
}

func (t *Table) committer() *Committer {
	return NewCommitter(t.cat, t.logger)
}

func (t *Table) manifestOpts() []manifest.Option {
	return append([]manifest.Option{manifest.WithLogger(t.logger)}, t.opts.Manifest...)
}

// storageFor resolves the storage of the table location. Object-store
// locations must name a bucket.
func (t *Table) storageFor(ctx context.Context, meta *spec.TableMetadata) (storage.Storage, error) {
	if !strings.HasPrefix(meta.Location, "file:") {
		if _, err := meta.Bucket(); err != nil {
			return nil, errkind.NotFound("resolve table storage", "%v", err)
		}
	}
	return t.resolver.ForLocation(ctx, meta.Location)
}

// NewSnapshotID returns a positive random snapshot id.
func NewSnapshotID() int64 {
	u := uuid.New()
	id := int64(binary.BigEndian.Uint64(u[:8])^binary.BigEndian.Uint64(u[8:])) & math.MaxInt64
	if id == 0 {
		return 1
	}
	return id
}

// RetentionPolicy bounds the snapshot history kept by a commit.
type RetentionPolicy struct {
	// MaxSnapshots is the number of snapshots left after the commit,
	// the new one included. Zero keeps everything.
	MaxSnapshots int
}

// Expired returns the ids to remove, oldest first, so that adding one
// snapshot to meta leaves at most MaxSnapshots. The current snapshot is
// never returned.
func (r RetentionPolicy) Expired(meta *spec.TableMetadata) []int64 {
	if r.MaxSnapshots <= 0 {
		return nil
	}
	excess := len(meta.Snapshots) + 1 - r.MaxSnapshots
	if excess <= 0 {
		return nil
	}
	current := meta.CurrentSnapshotIDOrZero()
	var ids []int64
	for _, s := range meta.SnapshotsOldestFirst() {
		if len(ids) == excess {
			break
		}
		if s.SnapshotID == current {
			continue
		}
		ids = append(ids, s.SnapshotID)
	}
	return ids
}

func resolveSchema(meta *spec.TableMetadata, id *int) (*spec.Schema, error) {
	if id == nil {
		s, ok := meta.CurrentSchema()
		if !ok {
			return nil, errkind.NotFound("resolve schema", "current schema %d", meta.CurrentSchemaID)
		}
		return s, nil
	}
	s, ok := meta.SchemaByID(*id)
	if !ok {
		return nil, errkind.NotFound("resolve schema", "schema %d", *id)
	}
	return s, nil
}

func resolveSpec(meta *spec.TableMetadata, id *int) (spec.PartitionSpec, error) {
	want := meta.DefaultSpecID
	if id != nil {
		want = *id
	}
	ps, ok := meta.PartitionSpecByID(want)
	if !ok {
		return spec.PartitionSpec{}, errkind.NotFound("resolve partition spec", "partition spec %d", want)
	}
	return ps, nil
}
