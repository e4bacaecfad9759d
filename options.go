package kvmux

import (
	"github.com/hupe1980/kvmux/codec"
)

const (
	// DefaultMaxBucketSize is the default serialized-size ceiling for a
	// bucket record.
	DefaultMaxBucketSize = 4096

	// DefaultMaxHeaderSize is the default serialized-size ceiling for a
	// header record.
	DefaultMaxHeaderSize = 4096
)

type options struct {
	codec         codec.Codec
	maxBucketSize int
	maxHeaderSize int
	readCache     bool
	logger        *Logger
	metrics       MetricsCollector
}

// Option configures Index constructor behavior.
type Option func(*options)

// WithCodec configures the codec used for record and value encoding.
//
// The codec determines the serialized byte lengths all packing decisions
// are made against; an existing namespace must be reopened with the codec
// that wrote it. If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMaxBucketSize configures the serialized-size ceiling for bucket
// records. Set this below the substrate's per-record size limit, leaving
// room for one value above the ceiling: a single oversized value is still
// stored (unsplit) and may transiently push its bucket over.
func WithMaxBucketSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBucketSize = n
		}
	}
}

// WithMaxHeaderSize configures the serialized-size ceiling for header
// records. When the primary header is full, further keys overflow into
// secondary headers.
func WithMaxHeaderSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxHeaderSize = n
		}
	}
}

// WithReadCache enables best-effort memoization of header and bucket
// records for repeated Get calls. The cache is invalidated on every local
// mutation but offers no consistency guarantee against writers in other
// processes.
func WithReadCache(enabled bool) Option {
	return func(o *options) {
		o.readCache = enabled
	}
}

// WithLogger configures the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics configures the metrics collector. If nil is passed, metrics
// collection is disabled.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}
