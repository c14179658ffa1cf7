// Package testutil provides byte sources, caches and data generators for
// archive tests.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// ErrInjected is returned by MockByteSource reads that were set to fail.
var ErrInjected = errors.New("testutil: injected read failure")

// MockByteSource implements a simple in-memory byte source for tests. It
// counts reads and can be told to fail reads that touch a byte range.
type MockByteSource struct {
	data     []byte
	sourceID string

	reads atomic.Int64

	mu        sync.Mutex
	failStart int64
	failEnd   int64
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	sum := sha256.Sum256(data)
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	m.mu.Lock()
	failStart, failEnd := m.failStart, m.failEnd
	m.mu.Unlock()
	if failEnd > failStart && off < failEnd && off+int64(len(p)) > failStart {
		return 0, ErrInjected
	}

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Reads returns the number of ReadAt calls so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// FailRange makes reads overlapping [start, end) fail with ErrInjected.
// An empty range clears the failure.
func (m *MockByteSource) FailRange(start, end int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStart, m.failEnd = start, end
}

// MockCache implements a concurrency-safe cache for tests and counts hits,
// misses and stores.
type MockCache struct {
	mu   sync.RWMutex
	data map[string][]byte

	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

// NewMockCache constructs an empty in-memory cache.
func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string][]byte)}
}

// Get returns cached content for key.
func (c *MockCache) Get(key []byte) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.data[string(key)]
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return data, ok
}

// Put stores content under key.
func (c *MockCache) Put(key, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[string(key)] = content
	c.puts.Add(1)
	return nil
}

// Delete removes cached content for key.
func (c *MockCache) Delete(key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, string(key))
	return nil
}

// MaxBytes returns 0; the mock never evicts on its own.
func (c *MockCache) MaxBytes() int64 {
	return 0
}

// SizeBytes returns the current cache size in bytes.
func (c *MockCache) SizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, data := range c.data {
		total += int64(len(data))
	}
	return total
}

// Prune removes cached entries until the cache is at or below targetBytes.
func (c *MockCache) Prune(targetBytes int64) (int64, error) {
	targetBytes = max(targetBytes, 0)
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, data := range c.data {
		total += int64(len(data))
	}
	var freed int64
	for key, data := range c.data {
		if total <= targetBytes {
			break
		}
		delete(c.data, key)
		total -= int64(len(data))
		freed += int64(len(data))
	}
	return freed, nil
}

// Len returns the number of cached entries.
func (c *MockCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Hits returns the number of Get calls that found an entry.
func (c *MockCache) Hits() int64 { return c.hits.Load() }

// Misses returns the number of Get calls that found nothing.
func (c *MockCache) Misses() int64 { return c.misses.Load() }

// Puts returns the number of Put calls.
func (c *MockCache) Puts() int64 { return c.puts.Load() }

// Patterned returns n bytes of a repeating, compressible pattern.
func Patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

// Random returns n pseudo-random bytes derived from seed. The result is
// effectively incompressible.
func Random(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)) //nolint:gosec // test data
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.Uint32())
	}
	return out
}
