package cache

import (
	"errors"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Memory is an in-memory Cache with least-recently-used eviction by total
// content size. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, []byte]
	maxBytes int64
	bytes    int64
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an in-memory cache holding at most maxBytes of content.
// Use 0 for no limit.
func NewMemory(maxBytes int64) (*Memory, error) {
	if maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	m := &Memory{maxBytes: maxBytes}
	l, err := simplelru.NewLRU[string, []byte](math.MaxInt32, func(_ string, v []byte) {
		m.bytes -= int64(len(v))
	})
	if err != nil {
		return nil, err
	}
	m.lru = l
	return m, nil
}

// Get returns cached content for key.
func (m *Memory) Get(key []byte) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Get(string(key))
}

// Put stores content, evicting the least recently used entries as needed.
// Content larger than the whole cache is not stored.
func (m *Memory) Put(key []byte, content []byte) error {
	if len(key) == 0 {
		return errors.New("key is empty")
	}
	size := int64(len(content))
	if m.maxBytes > 0 && size > m.maxBytes {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	m.lru.Remove(k)
	m.lru.Add(k, content)
	m.bytes += size
	if m.maxBytes > 0 {
		m.pruneLocked(m.maxBytes)
	}
	return nil
}

// Delete removes cached content for key.
func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(string(key))
	return nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (m *Memory) MaxBytes() int64 {
	return m.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (m *Memory) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Prune evicts least recently used entries until the cache holds at most
// targetBytes.
func (m *Memory) Prune(targetBytes int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.bytes
	m.pruneLocked(max(targetBytes, 0))
	return before - m.bytes, nil
}

// pruneLocked must be called with mu held.
func (m *Memory) pruneLocked(target int64) {
	for m.bytes > target {
		if _, _, ok := m.lru.RemoveOldest(); !ok {
			return
		}
	}
}
