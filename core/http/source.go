// Package http opens archives served over HTTP with range requests.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

// DefaultReadAhead is the minimum range fetched per request. Opening an
// archive issues many small reads (header scans, table reads, sector offset
// tables), and serving them from one buffered window saves round trips.
const DefaultReadAhead = 64 << 10

// Source implements random access reads via HTTP range requests.
// It satisfies core.ByteSource and is safe for concurrent use.
type Source struct {
	url                   string
	client                *nethttp.Client
	headers               nethttp.Header
	size                  int64
	etag                  string
	lastModified          string
	sourceID              string
	useConditionalHeaders bool
	readAhead             int
	logger                *slog.Logger
	requests              atomic.Int64

	mu     sync.Mutex
	window []byte
	winOff int64
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithSourceID overrides the default source identifier used for caching.
func WithSourceID(id string) Option {
	return func(s *Source) {
		s.sourceID = id
	}
}

// WithConditionalHeaders enables conditional range reads using ETag or
// Last-Modified, so a replaced archive is not read half old and half new.
func WithConditionalHeaders() Option {
	return func(s *Source) {
		s.useConditionalHeaders = true
	}
}

// WithReadAhead sets the minimum number of bytes fetched per request.
// Values <= 0 disable buffering; every ReadAt becomes one request.
func WithReadAhead(n int) Option {
	return func(s *Source) {
		s.readAhead = n
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// NewSource creates a Source backed by HTTP range requests.
// It queries the remote to determine the content size.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:       url,
		client:    nethttp.DefaultClient,
		readAhead: DefaultReadAhead,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	if err := s.fetchMetadata(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mpqtype.ErrIO, url, err)
	}
	if s.sourceID == "" {
		s.sourceID = s.defaultSourceID()
	}
	s.log().Debug("http source opened", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID returns a stable identifier for the remote content.
func (s *Source) SourceID() string {
	return s.sourceID
}

// Requests returns the number of range requests issued so far.
func (s *Source) Requests() int64 {
	return s.requests.Load()
}

// ReadAt reads len(p) bytes at off. Reads shorter than the read-ahead size
// are served from a buffered window. If fewer bytes are available than
// requested, it returns the number of bytes read along with io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), s.size-off)

	if want >= int64(s.readAhead) {
		n, err := s.fetch(p[:want], off)
		return s.finish(n, err, len(p))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if off < s.winOff || off+want > s.winOff+int64(len(s.window)) {
		size := min(int64(s.readAhead), s.size-off)
		buf := make([]byte, size)
		n, err := s.fetch(buf, off)
		if err != nil {
			return 0, err
		}
		s.window, s.winOff = buf[:n], off
	}
	n := copy(p[:want], s.window[off-s.winOff:])
	return s.finish(n, nil, len(p))
}

func (s *Source) finish(n int, err error, asked int) (int, error) {
	if err != nil {
		return n, err
	}
	if n < asked {
		return n, io.EOF
	}
	return n, nil
}

// fetch issues one range request filling p from off. The range must lie
// within the content.
func (s *Source) fetch(p []byte, off int64) (int, error) {
	end := off + int64(len(p)) - 1
	s.requests.Add(1)
	resp, err := s.rangeRequest(off, end, true)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", mpqtype.ErrIO, err)
	}
	if resp.StatusCode == nethttp.StatusPreconditionFailed && s.hasConditionalHeaders() {
		resp.Body.Close()
		s.log().Debug("conditional range rejected, retrying", "url", s.url)
		resp, err = s.rangeRequest(off, end, false)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", mpqtype.ErrIO, err)
		}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusOK:
		return 0, fmt.Errorf("%w: range requests not supported", mpqtype.ErrIO)
	default:
		return 0, fmt.Errorf("%w: range request failed: %s", mpqtype.ErrIO, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p)
	if err != nil {
		return n, fmt.Errorf("%w: %w", mpqtype.ErrIO, err)
	}
	return n, nil
}

// defaultSourceID builds a source identifier from the URL and available metadata.
func (s *Source) defaultSourceID() string {
	if s.etag != "" {
		return fmt.Sprintf("url:%s|etag:%s", s.url, s.etag)
	}
	if s.lastModified != "" {
		return fmt.Sprintf("url:%s|mod:%s|size:%d", s.url, s.lastModified, s.size)
	}
	return fmt.Sprintf("url:%s|size:%d", s.url, s.size)
}

// fetchMetadata retrieves content size and cache validators. It tries a
// HEAD request first, then confirms range support with a one-byte range request.
func (s *Source) fetchMetadata(ctx context.Context) error {
	headSize := int64(-1)
	if req, err := s.newRequest(ctx, nethttp.MethodHead, false); err == nil {
		if resp, err := s.client.Do(req); err == nil {
			headSize = resp.ContentLength
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
			resp.Body.Close()
		}
	}

	req, err := s.newRequest(ctx, nethttp.MethodGet, false)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return errors.New("range requests not supported")
	default:
		return fmt.Errorf("range check failed: %s", resp.Status)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}
	s.size = size
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}
	return nil
}

// newRequest creates an HTTP request with configured headers and optional conditional headers.
func (s *Source) newRequest(ctx context.Context, method string, withConditions bool) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet && withConditions && s.useConditionalHeaders {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return req, nil
}

// rangeRequest performs a GET request for the inclusive byte range [off, end].
func (s *Source) rangeRequest(off, end int64, withConditions bool) (*nethttp.Response, error) {
	req, err := s.newRequest(context.Background(), nethttp.MethodGet, withConditions)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	return s.client.Do(req)
}

// hasConditionalHeaders reports whether conditional headers are enabled and available.
func (s *Source) hasConditionalHeaders() bool {
	return s.useConditionalHeaders && (s.etag != "" || s.lastModified != "")
}

// parseContentRange extracts the total size from a Content-Range header
// value of the form "bytes start-end/size".
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
