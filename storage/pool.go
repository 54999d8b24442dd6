package storage

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"

	"github.com/go-iceberg/icemeta/errkind"
)

type s3Key struct {
	region   string
	endpoint string
	access   string
	secret   string
	token    string
}

// Pool hands out Storage clients by location scheme and reuses them. S3
// clients are keyed by region, endpoint and credentials. A Pool is owned by
// its caller; nothing is cached process-wide.
type Pool struct {
	defaults S3Config

	mu   sync.Mutex
	s3   map[s3Key]*S3Storage
	mem  map[string]*BlobStorage
	file *BlobStorage
}

// NewPool returns an empty pool. defaults is used for s3 locations.
func NewPool(defaults S3Config) *Pool {
	return &Pool{
		defaults: defaults,
		s3:       make(map[s3Key]*S3Storage),
		mem:      make(map[string]*BlobStorage),
	}
}

// S3 returns the client for cfg, creating it on first use.
func (p *Pool) S3(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	key := s3Key{
		region:   cfg.Region,
		endpoint: cfg.Endpoint,
		access:   cfg.AccessKeyID,
		secret:   cfg.SecretAccessKey,
		token:    cfg.SessionToken,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.s3[key]; ok {
		return s, nil
	}
	s, err := NewS3Storage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.s3[key] = s
	return s, nil
}

// ForLocation returns the storage serving location.
func (p *Pool) ForLocation(ctx context.Context, location string) (Storage, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "s3":
		return p.S3(ctx, p.defaults)
	case "mem":
		p.mu.Lock()
		defer p.mu.Unlock()
		s, ok := p.mem[loc.Bucket]
		if !ok {
			s = NewBlobStorage(memblob.OpenBucket(nil), "mem://"+loc.Bucket)
			p.mem[loc.Bucket] = s
		}
		return s, nil
	case "file":
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.file == nil {
			bucket, err := fileblob.OpenBucket("/", nil)
			if err != nil {
				return nil, errors.Wrap(err, "open local filesystem")
			}
			p.file = NewBlobStorage(bucket, "file:///")
		}
		return p.file, nil
	}
	return nil, errkind.InvalidInput("resolve storage", "unsupported scheme %q in %s", loc.Scheme, location)
}

// Close releases every blob bucket held by the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}
	for _, s := range p.mem {
		keep(s.Close())
	}
	if p.file != nil {
		keep(p.file.Close())
	}
	return first
}
