package storage

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/go-faster/errors"

	"github.com/go-iceberg/icemeta/errkind"
)

// S3Config holds S3 configuration.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // MinIO or other S3-compatible services
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// PartSize is the multipart chunk size; zero uses the manager default.
	PartSize int64 `yaml:"part_size"`
}

// S3Storage implements Storage on Amazon S3 or a compatible service.
// Uploads go through the multipart upload manager and are streamed.
type S3Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Storage builds an S3 client from cfg. Empty credentials fall back to
// the default AWS credential chain.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3StorageFromClient(client, cfg.PartSize), nil
}

// NewS3StorageFromClient wraps an existing client.
func NewS3StorageFromClient(client *s3.Client, partSize int64) *S3Storage {
	return &S3Storage{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			if partSize > 0 {
				u.PartSize = partSize
			}
		}),
	}
}

func (s *S3Storage) parse(location string) (string, string, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return "", "", err
	}
	if loc.Scheme != "s3" {
		return "", "", errkind.InvalidInput("parse location", "%q is not an s3 location", location)
	}
	return loc.Bucket, loc.Key, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// Open opens an object for reading.
func (s *S3Storage) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, err := s.parse(location)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, errkind.NotFound("open object", "%s does not exist", location)
		}
		return nil, errkind.Transient("open "+location, err)
	}
	return resp.Body, nil
}

// Create starts a streamed multipart upload to location.
func (s *S3Storage) Create(ctx context.Context, location string) (Upload, error) {
	bucket, key, err := s.parse(location)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	up := &s3Upload{
		pw:     pw,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(up.done)
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			up.err = errkind.Transient("upload "+location, err)
		}
		// Unblock a writer still waiting on the pipe.
		pr.CloseWithError(err)
	}()
	return up, nil
}

// Delete deletes an object.
func (s *S3Storage) Delete(ctx context.Context, location string) error {
	bucket, key, err := s.parse(location)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errkind.Transient("delete "+location, err)
	}
	return nil
}

// Exists checks if an object exists.
func (s *S3Storage) Exists(ctx context.Context, location string) (bool, error) {
	bucket, key, err := s.parse(location)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, errkind.Transient("head "+location, err)
	}
	return true, nil
}

// s3Upload feeds the upload manager through a pipe. Writes block while the
// manager is busy sending a part.
type s3Upload struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	once sync.Once
}

var errUploadAborted = errors.New("upload aborted")

func (u *s3Upload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

func (u *s3Upload) Close() error {
	u.pw.Close()
	<-u.done
	u.cancel()
	return u.err
}

func (u *s3Upload) Abort() error {
	u.once.Do(func() {
		u.pw.CloseWithError(errUploadAborted)
		u.cancel()
	})
	<-u.done
	return nil
}
