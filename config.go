package icemeta

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/go-iceberg/icemeta/manifest"
	"github.com/go-iceberg/icemeta/storage"
	"github.com/go-iceberg/icemeta/table"
)

// CatalogType represents supported catalog types.
type CatalogType string

const (
	// CatalogREST represents the Iceberg REST Catalog.
	CatalogREST CatalogType = "rest"
	// CatalogMemory keeps table metadata in process.
	CatalogMemory CatalogType = "memory"
)

// Config holds the client configuration.
type Config struct {
	// Catalog configuration
	CatalogType CatalogType `yaml:"catalog_type"`
	CatalogURI  string      `yaml:"catalog_uri"`
	Warehouse   string      `yaml:"warehouse"`
	Prefix      string      `yaml:"prefix"`

	// Authentication
	Credential string `yaml:"credential"` // client_id:client_secret for OAuth2
	Token      string `yaml:"token"`

	// S3 is used for every s3:// table location.
	S3 storage.S3Config `yaml:"s3"`

	// Manifest writing
	Compression string `yaml:"compression"`
	BlockSize   int    `yaml:"block_size"`

	// Commit and worker settings
	MaxRetries      int `yaml:"max_retries"`
	Concurrency     int `yaml:"concurrency"`
	RetainSnapshots int `yaml:"retain_snapshots"` // zero keeps every snapshot

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		CatalogType: CatalogREST,
		Compression: manifest.DefaultCompression,
		BlockSize:   manifest.DefaultBlockSize,
		MaxRetries:  table.DefaultMaxRetries,
		Concurrency: 10,
		Logger:      zerolog.Nop(),
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and applies opts.
func LoadConfig(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, InvalidInput("load config", "%s: %v", path, err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	const op = "validate config"
	switch c.CatalogType {
	case CatalogREST:
		if c.CatalogURI == "" {
			return InvalidInput(op, "REST catalog requires a catalog URI")
		}
	case CatalogMemory:
	default:
		return InvalidInput(op, "unsupported catalog type %q", c.CatalogType)
	}
	switch c.Compression {
	case "null", "deflate", "snappy":
	default:
		return InvalidInput(op, "unsupported compression codec %q", c.Compression)
	}
	if c.MaxRetries < 0 || c.Concurrency < 0 {
		return InvalidInput(op, "max retries and concurrency must not be negative")
	}
	return nil
}

// Option is a functional option for client configuration.
type Option func(*Config)

// WithRESTCatalog configures the client to use a REST catalog.
func WithRESTCatalog(uri string) Option {
	return func(c *Config) {
		c.CatalogType = CatalogREST
		c.CatalogURI = uri
	}
}

// WithMemoryCatalog keeps tables in process.
func WithMemoryCatalog() Option {
	return func(c *Config) {
		c.CatalogType = CatalogMemory
	}
}

// WithWarehouse sets the warehouse location.
func WithWarehouse(warehouse string) Option {
	return func(c *Config) {
		c.Warehouse = warehouse
	}
}

// WithCredential sets OAuth2 credentials for authentication.
func WithCredential(clientID, clientSecret string) Option {
	return func(c *Config) {
		c.Credential = clientID + ":" + clientSecret
	}
}

// WithToken sets a bearer token for authentication.
func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

// WithS3 configures the S3 storage backend.
func WithS3(cfg storage.S3Config) Option {
	return func(c *Config) {
		c.S3 = cfg
	}
}

// WithCompression sets the Avro block codec of written manifests.
func WithCompression(codec string) Option {
	return func(c *Config) {
		c.Compression = codec
	}
}

// WithMaxRetries sets the commit retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithConcurrency bounds the manifests built or read at once.
func WithConcurrency(n int) Option {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithRetainSnapshots caps the snapshot history kept by each commit.
func WithRetainSnapshots(n int) Option {
	return func(c *Config) {
		c.RetainSnapshots = n
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
