package manifest

import (
	"github.com/rs/zerolog"

	"github.com/go-iceberg/icemeta/spec"
)

const (
	// DefaultCompression is the OCF block codec used when none is set.
	DefaultCompression = "deflate"
	// DefaultBlockSize is the number of records buffered per OCF block.
	DefaultBlockSize = 1000
	// DefaultStreamBuffer bounds the records in flight between the decoder
	// and the encoder of a manifest list rewrite.
	DefaultStreamBuffer = 64
)

type options struct {
	compression  string
	blockSize    int
	streamBuffer int
	drop         func(spec.ManifestFile) bool
	logger       zerolog.Logger
}

func defaultOptions() options {
	return options{
		compression:  DefaultCompression,
		blockSize:    DefaultBlockSize,
		streamBuffer: DefaultStreamBuffer,
		drop:         IsVacuous,
		logger:       zerolog.Nop(),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures writers, the Builder and the Merger.
type Option func(*options)

// WithCompression sets the OCF codec: "null", "deflate" or "snappy".
func WithCompression(name string) Option {
	return func(o *options) {
		if name != "" {
			o.compression = name
		}
	}
}

// WithBlockSize sets how many records go into one OCF block.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithStreamBuffer sets the decode/encode channel capacity of the Merger.
func WithStreamBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.streamBuffer = n
		}
	}
}

// WithDropFilter replaces the predicate deciding which existing manifest
// list entries the Merger drops.
func WithDropFilter(drop func(spec.ManifestFile) bool) Option {
	return func(o *options) {
		if drop != nil {
			o.drop = drop
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
