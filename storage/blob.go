package storage

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/go-iceberg/icemeta/errkind"
)

// BlobStorage implements Storage on a gocloud bucket. Locations are keys
// below root, e.g. root "mem://warehouse" and location
// "mem://warehouse/db/t/metadata/snap-1.avro".
type BlobStorage struct {
	bucket *blob.Bucket
	root   string
}

// NewBlobStorage wraps an open bucket whose keys live under root.
func NewBlobStorage(bucket *blob.Bucket, root string) *BlobStorage {
	return &BlobStorage{bucket: bucket, root: strings.TrimSuffix(root, "/")}
}

// OpenBlobStorage opens a bucket by URL. mem:// and file:// are registered.
func OpenBlobStorage(ctx context.Context, root string) (*BlobStorage, error) {
	bucket, err := blob.OpenBucket(ctx, root)
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", root)
	}
	return NewBlobStorage(bucket, root), nil
}

// Close releases the bucket.
func (b *BlobStorage) Close() error {
	return b.bucket.Close()
}

func (b *BlobStorage) key(location string) (string, error) {
	key, ok := strings.CutPrefix(location, b.root+"/")
	if !ok || key == "" {
		return "", errkind.InvalidInput("resolve key", "%q is not below %s", location, b.root)
	}
	return key, nil
}

// Open opens an object for reading.
func (b *BlobStorage) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	key, err := b.key(location)
	if err != nil {
		return nil, err
	}
	r, err := b.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errkind.NotFound("open object", "%s does not exist", location)
		}
		return nil, errkind.Transient("open "+location, err)
	}
	return r, nil
}

// Create starts an upload. Abort cancels the writer's context, which
// discards the partial object.
func (b *BlobStorage) Create(ctx context.Context, location string) (Upload, error) {
	key, err := b.key(location)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w, err := b.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		cancel()
		return nil, errkind.Transient("create "+location, err)
	}
	return &blobUpload{w: w, cancel: cancel, location: location}, nil
}

// Delete deletes an object.
func (b *BlobStorage) Delete(ctx context.Context, location string) error {
	key, err := b.key(location)
	if err != nil {
		return err
	}
	if err := b.bucket.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return errkind.NotFound("delete object", "%s does not exist", location)
		}
		return errkind.Transient("delete "+location, err)
	}
	return nil
}

// Exists checks if an object exists.
func (b *BlobStorage) Exists(ctx context.Context, location string) (bool, error) {
	key, err := b.key(location)
	if err != nil {
		return false, err
	}
	ok, err := b.bucket.Exists(ctx, key)
	if err != nil {
		return false, errkind.Transient("exists "+location, err)
	}
	return ok, nil
}

type blobUpload struct {
	w        *blob.Writer
	cancel   context.CancelFunc
	location string

	once   sync.Once
	closed error
}

func (u *blobUpload) Write(p []byte) (int, error) {
	return u.w.Write(p)
}

func (u *blobUpload) finish() error {
	u.once.Do(func() {
		u.closed = u.w.Close()
		u.cancel()
	})
	return u.closed
}

func (u *blobUpload) Close() error {
	if err := u.finish(); err != nil {
		return errkind.Transient("upload "+u.location, err)
	}
	return nil
}

func (u *blobUpload) Abort() error {
	u.cancel()
	_ = u.finish()
	return nil
}
