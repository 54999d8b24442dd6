// Package storage provides object storage for manifest and manifest list
// files. Locations are URLs such as s3://bucket/key, mem://bucket/key or
// file:///path.
package storage

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/go-iceberg/icemeta/errkind"
)

// Storage reads and writes whole objects.
type Storage interface {
	// Open returns a stream over the object. A missing object is an
	// errkind.ErrNotFound error.
	Open(ctx context.Context, location string) (io.ReadCloser, error)

	// Create starts a streamed upload. Nothing is visible at location
	// until Close returns nil.
	Create(ctx context.Context, location string) (Upload, error)

	// Delete removes an object.
	Delete(ctx context.Context, location string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, location string) (bool, error)
}

// Upload is an in-flight object write.
type Upload interface {
	io.Writer

	// Close finishes the upload and reports its outcome.
	Close() error

	// Abort cancels the upload. It is safe to call after a failed Write or
	// Close and never returns the cancellation itself as an error.
	Abort() error
}

// Location is a parsed storage URL.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

func (l Location) String() string {
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ParseLocation splits a storage URL into scheme, bucket and key. s3a and
// s3n are treated as s3.
func ParseLocation(location string) (Location, error) {
	u, err := url.Parse(location)
	if err != nil {
		return Location{}, errkind.InvalidInput("parse location", "invalid location %q: %v", location, err)
	}
	scheme := u.Scheme
	switch scheme {
	case "s3a", "s3n":
		scheme = "s3"
	case "":
		return Location{}, errkind.InvalidInput("parse location", "location %q has no scheme", location)
	}
	if u.Host == "" && scheme != "file" {
		return Location{}, errkind.InvalidInput("parse location", "missing bucket in %q", location)
	}
	return Location{
		Scheme: scheme,
		Bucket: u.Host,
		Key:    strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// ReadAll downloads a whole object.
func ReadAll(ctx context.Context, s Storage, location string) ([]byte, error) {
	r, err := s.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errkind.Transient("read "+location, err)
	}
	return data, nil
}

// WriteAll uploads data as one object, aborting on failure.
func WriteAll(ctx context.Context, s Storage, location string, data []byte) error {
	up, err := s.Create(ctx, location)
	if err != nil {
		return err
	}
	if _, err := up.Write(data); err != nil {
		_ = up.Abort()
		return errkind.Stream("write "+location, err)
	}
	if err := up.Close(); err != nil {
		_ = up.Abort()
		return errkind.Stream("write "+location, err)
	}
	return nil
}
