package mpq

import (
	"log/slog"

	"github.com/meigma/mpq/core/cache"
	"github.com/meigma/mpq/core/metrics"
)

// Option configures an Archive or a Mutable.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	cache         cache.Cache // nil = no caching
	metrics       *metrics.Registry
	strictCRC     bool
	verifyDigests bool
	weakKey       *PublicKey
	strongKey     *PublicKey
	progress      ProgressFunc
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// log returns the logger, falling back to a discard logger if nil.
func (o *options) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCache enables caching of decoded files.
//
// Decoded contents are keyed by source, position and decoding parameters.
// Concurrent reads of the same file are deduplicated.
func WithCache(c cache.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithMetrics records archive activity in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// WithStrictCRC turns sector checksum mismatches into read errors.
//
// By default mismatches are logged, counted and reported through
// ReadFileReport while the decoded bytes are still returned.
func WithStrictCRC(enabled bool) Option {
	return func(o *options) {
		o.strictCRC = enabled
	}
}

// WithVerifyTableDigests checks the MD5 digests of v4 headers when the
// archive is opened. Older headers carry no digests.
func WithVerifyTableDigests(enabled bool) Option {
	return func(o *options) {
		o.verifyDigests = enabled
	}
}

// WithSignatureKeys sets the public keys used by VerifySignature. A nil key
// selects the corresponding Blizzard key.
func WithSignatureKeys(weak, strong *PublicKey) Option {
	return func(o *options) {
		o.weakKey = weak
		o.strongKey = strong
	}
}

// WithProgress reports progress of long operations: batch verification and
// extraction, directory import and rebuilds.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}
