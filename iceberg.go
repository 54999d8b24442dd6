package icemeta

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/go-iceberg/icemeta/catalog"
	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/spec"
	"github.com/go-iceberg/icemeta/storage"
	"github.com/go-iceberg/icemeta/table"
)

// TableCreator is implemented by catalogs that can register new tables.
type TableCreator interface {
	CreateTable(ctx context.Context, ident catalog.Identifier, schema *spec.Schema, ps spec.PartitionSpec, location string) (*spec.TableMetadata, error)
}

// Client is the main entry point: it owns the catalog, the storage pool
// and the settings handed to every table operation.
type Client struct {
	catalog catalog.Catalog
	storage *storage.Pool
	config  *Config
	logger  zerolog.Logger
}

// NewClient creates a client with the given configuration options.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return NewClientFromConfig(ctx, config)
}

// NewClientFromConfig creates a client from a complete configuration, for
// example one returned by LoadConfig.
func NewClientFromConfig(_ context.Context, config *Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	logger := config.Logger.With().Str("component", "icemeta").Logger()

	var cat catalog.Catalog
	switch config.CatalogType {
	case CatalogREST:
		opts := []catalog.RESTOption{
			catalog.WithWarehouse(config.Warehouse),
			catalog.WithPrefix(config.Prefix),
			catalog.WithRESTLogger(logger),
		}
		if config.Token != "" {
			opts = append(opts, catalog.WithToken(config.Token))
		}
		if config.Credential != "" {
			opts = append(opts, catalog.WithCredential(config.Credential))
		}
		cat = catalog.NewRESTCatalog(config.CatalogURI, opts...)
	case CatalogMemory:
		cat = catalog.NewMemoryCatalog(logger)
	}

	logger.Debug().
		Str("catalog", string(config.CatalogType)).
		Str("compression", config.Compression).
		Int("concurrency", config.Concurrency).
		Msg("Client created")

	return &Client{
		catalog: cat,
		storage: storage.NewPool(config.S3),
		config:  config,
		logger:  logger,
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.config
}

// Catalog returns the underlying catalog for advanced operations.
func (c *Client) Catalog() catalog.Catalog {
	return c.catalog
}

// Storage returns the storage pool serving table locations.
func (c *Client) Storage() *storage.Pool {
	return c.storage
}

// Close releases pooled storage clients.
func (c *Client) Close() error {
	return c.storage.Close()
}

// CreateTable registers a table when the catalog supports it.
func (c *Client) CreateTable(ctx context.Context, ident string, schema *spec.Schema, ps spec.PartitionSpec, location string) (*table.Table, error) {
	id, err := catalog.ParseIdentifier(ident)
	if err != nil {
		return nil, err
	}
	creator, ok := c.catalog.(TableCreator)
	if !ok {
		return nil, errors.Errorf("catalog %T cannot create tables", c.catalog)
	}
	if _, err := creator.CreateTable(ctx, id, schema, ps, location); err != nil {
		return nil, err
	}
	return c.open(id)
}

// Table opens an existing table named "namespace.table".
func (c *Client) Table(ctx context.Context, ident string) (*table.Table, error) {
	id, err := catalog.ParseIdentifier(ident)
	if err != nil {
		return nil, err
	}
	if _, err := c.catalog.LoadTable(ctx, id); err != nil {
		return nil, err
	}
	return c.open(id)
}

func (c *Client) open(id catalog.Identifier) (*table.Table, error) {
	return table.New(id, c.catalog, c.storage,
		table.WithConcurrency(c.config.Concurrency),
		table.WithMaxRetries(c.config.MaxRetries),
		table.WithLogger(c.logger),
		table.WithManifestOptions(
			manifest.WithCompression(c.config.Compression),
			manifest.WithBlockSize(c.config.BlockSize),
		),
	)
}

func (c *Client) retention(r table.RetentionPolicy) table.RetentionPolicy {
	if r.MaxSnapshots == 0 {
		r.MaxSnapshots = c.config.RetainSnapshots
	}
	return r
}

// AddDataFiles appends files to the named table.
func (c *Client) AddDataFiles(ctx context.Context, ident string, lists []table.FileList, opts table.AddOptions) (*table.SubmitResult, error) {
	tbl, err := c.Table(ctx, ident)
	if err != nil {
		return nil, err
	}
	opts.Retention = c.retention(opts.Retention)
	return tbl.AddDataFiles(ctx, lists, opts)
}

// ManifestCompact compacts the manifests of the named table.
func (c *Client) ManifestCompact(ctx context.Context, ident string, opts table.CompactOptions) (*table.CompactResult, error) {
	tbl, err := c.Table(ctx, ident)
	if err != nil {
		return nil, err
	}
	opts.Retention = c.retention(opts.Retention)
	return tbl.ManifestCompact(ctx, opts)
}
