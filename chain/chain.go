// Package chain resolves names across a prioritized stack of archives.
//
// A game installation layers patch archives over its base archives: the
// archive with the highest priority that holds a name wins, and a delete
// marker in a higher archive hides the name in every archive below it.
//
//	c := chain.New()
//	defer c.Close()
//	_ = c.AddArchive("base.mpq", 0)
//	_ = c.AddArchive("patch.mpq", 1)
//	data, err := c.ReadFile(`units\footman.txt`)
//
// Binary-diff patch entries are not applied; reading one returns
// mpq.ErrUnsupportedPatch.
package chain

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	mpqcore "github.com/meigma/mpq/core"
)

// Chain is an ordered stack of archives. It is safe for concurrent use.
type Chain struct {
	logger      *slog.Logger
	archiveOpts []mpqcore.Option

	mu      sync.RWMutex
	members []*member // highest priority first
	seq     int
}

type member struct {
	archive  *mpqcore.Archive
	path     string // empty for archives added with Add
	priority int
	seq      int  // insertion order, breaks priority ties
	owned    bool // opened by the chain and closed by it
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger for chain operations.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithArchiveOptions sets the options used when the chain opens archives
// itself, through AddArchive or LoadManifest.
func WithArchiveOptions(opts ...mpqcore.Option) Option {
	return func(c *Chain) {
		c.archiveOpts = append(c.archiveOpts, opts...)
	}
}

// New returns an empty chain.
func New(opts ...Option) *Chain {
	c := &Chain{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// AddArchive opens the archive at path and adds it with priority. The chain
// owns the archive and closes it on RemoveArchive or Close.
func (c *Chain) AddArchive(path string, priority int) error {
	path = filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(path) >= 0 {
		return fmt.Errorf("chain: %s: %w", path, mpqcore.ErrExists)
	}
	a, err := mpqcore.Open(path, c.archiveOpts...)
	if err != nil {
		return fmt.Errorf("chain: %s: %w", path, err)
	}
	c.insert(&member{archive: a, path: path, priority: priority, owned: true})
	c.log().Debug("archive added", "path", path, "priority", priority)
	return nil
}

// Add adds an archive opened by the caller. The chain does not close it.
func (c *Chain) Add(a *mpqcore.Archive, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(&member{archive: a, priority: priority})
}

// insert must be called with mu held.
func (c *Chain) insert(m *member) {
	m.seq = c.seq
	c.seq++
	c.members = append(c.members, m)
	c.sort()
}

// sort must be called with mu held.
func (c *Chain) sort() {
	slices.SortStableFunc(c.members, func(x, y *member) int {
		return cmp.Or(cmp.Compare(y.priority, x.priority), cmp.Compare(x.seq, y.seq))
	})
}

// indexOf must be called with mu held.
func (c *Chain) indexOf(path string) int {
	return slices.IndexFunc(c.members, func(m *member) bool {
		return m.path != "" && m.path == path
	})
}

// RemoveArchive removes the archive added from path, closing it.
func (c *Chain) RemoveArchive(path string) error {
	path = filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(path)
	if i < 0 {
		return fmt.Errorf("chain: %s: %w", path, mpqcore.ErrNotFound)
	}
	m := c.members[i]
	c.members = slices.Delete(c.members, i, i+1)
	if m.owned {
		return m.archive.Close()
	}
	return nil
}

// SetPriority changes the priority of the archive added from path.
// Archives with equal priority keep the order they were added in.
func (c *Chain) SetPriority(path string, priority int) error {
	path = filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(path)
	if i < 0 {
		return fmt.Errorf("chain: %s: %w", path, mpqcore.ErrNotFound)
	}
	c.members[i].priority = priority
	c.sort()
	return nil
}

// Len returns the number of archives in the chain.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// resolve must be called with mu held for reading.
func (c *Chain) resolve(name string) (*member, mpqcore.FileInfo, error) {
	for _, m := range c.members {
		info, err := m.archive.FindFile(name)
		if errors.Is(err, mpqcore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, mpqcore.FileInfo{}, err
		}
		if info.DeleteMarker() {
			return nil, mpqcore.FileInfo{}, fmt.Errorf("%s: deleted by %s: %w", name, m.label(), mpqcore.ErrNotFound)
		}
		return m, info, nil
	}
	return nil, mpqcore.FileInfo{}, fmt.Errorf("%s: %w", name, mpqcore.ErrNotFound)
}

func (m *member) label() string {
	if m.path != "" {
		return m.path
	}
	return fmt.Sprintf("archive %d", m.seq)
}

// FindFile returns the archive that provides name and the entry found
// there. A delete marker in the winning archive is reported as ErrNotFound.
func (c *Chain) FindFile(name string) (*mpqcore.Archive, mpqcore.FileInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, info, err := c.resolve(name)
	if err != nil {
		return nil, mpqcore.FileInfo{}, err
	}
	return m.archive, info, nil
}

// ReadFile returns the contents of name from the highest-priority archive
// that holds it.
func (c *Chain) ReadFile(name string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, _, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := m.archive.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.label(), err)
	}
	c.log().Debug("file read", "name", name, "archive", m.label(), "size", len(data))
	return data, nil
}

// List returns the names visible through the chain, sorted. Candidates come
// from the (listfile) of every archive; names hidden by a delete marker are
// left out. Archives without a listfile contribute no names.
func (c *Chain) List() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, m := range c.members {
		names, err := m.archive.Listfile()
		if errors.Is(err, mpqcore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.label(), err)
		}
		for _, name := range names {
			key := strings.ToLower(mpqcore.NormalizeName(name))
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, _, err := c.resolve(name); err != nil {
				continue
			}
			out = append(out, mpqcore.NormalizeName(name))
		}
	}
	slices.SortFunc(out, func(x, y string) int {
		return strings.Compare(strings.ToLower(x), strings.ToLower(y))
	})
	return out, nil
}

// Close closes the archives the chain opened and empties it.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, m := range c.members {
		if m.owned {
			errs = append(errs, m.archive.Close())
		}
	}
	c.members = nil
	return errors.Join(errs...)
}
